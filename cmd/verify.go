/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmofishsauce/avrflash/pkg/flasher"
	"github.com/gmofishsauce/avrflash/pkg/intelhex"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify image.hex",
	Short: "Compare flash contents against a firmware image",
	Long: `Verify resets the board into its bootloader and reads the
flash back, comparing it against the Intel HEX image without writing
anything. The first mismatching byte fails the run with its offset.`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if port == "" {
			return fmt.Errorf("need --port")
		}
		image, err := intelhex.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(image) == 0 {
			return fmt.Errorf("%s: image is empty", args[0])
		}
		return flasher.Run(flasher.Options{
			Device:     port,
			Baud:       baud,
			Image:      image,
			VerifyOnly: true,
		})
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
