/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmofishsauce/avrflash/pkg/flasher"
)

// idCmd represents the id command
var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Report the chip on the other end of a port",
	Long: `Id resets the board into its bootloader, reads the device
signature over ISP, and prints the chip it identifies.`,

	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port == "" {
			return fmt.Errorf("need --port")
		}
		return flasher.Identify(flasher.Options{Device: port, Baud: baud})
	},
}

func init() {
	rootCmd.AddCommand(idCmd)
}
