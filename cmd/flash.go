/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmofishsauce/avrflash/pkg/flasher"
	"github.com/gmofishsauce/avrflash/pkg/intelhex"
	"github.com/gmofishsauce/avrflash/pkg/serport"
)

var (
	flashAll     bool
	flashMonitor bool
)

// flashCmd represents the flash command
var flashCmd = &cobra.Command{
	Use:   "flash image.hex",
	Short: "Write a firmware image and verify it",
	Long: `Flash resets the board into its bootloader, erases the chip,
writes the Intel HEX image to flash, and reads the flash back to
verify the write. With --all, every detected serial port is
programmed at once, each on its own connection. With --monitor, the
port is handed to a console after programming so the new firmware's
output is visible immediately.`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := intelhex.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(image) == 0 {
			return fmt.Errorf("%s: image is empty", args[0])
		}
		opts := flasher.Options{Baud: baud, Image: image, Monitor: flashMonitor}
		if flashAll {
			ports, err := serport.List()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				return fmt.Errorf("no serial ports found")
			}
			return flasher.RunAll(ports, opts)
		}
		if port == "" {
			return fmt.Errorf("need --port or --all")
		}
		opts.Device = port
		return flasher.Run(opts)
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().BoolVarP(&flashAll, "all", "a", false, "flash every detected serial port concurrently")
	flashCmd.Flags().BoolVarP(&flashMonitor, "monitor", "m", false, "stay on the port as a console after flashing")
}
