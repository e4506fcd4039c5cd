/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/gmofishsauce/avrflash/pkg/serport"
	"github.com/gmofishsauce/avrflash/pkg/stk500v2"
)

var (
	debug bool
	port  string
	baud  int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "avrflash",
	Short: "Program AVR boards through their STK500v2 bootloader",
	Long: `Avrflash programs Arduino Mega class boards (ATmega1280 and
ATmega2560) through the STK500v2 bootloader they ship with. It writes
an Intel HEX image to flash, reads the flash back to verify it, and
can hold the serial port open afterward as a console for the freshly
flashed program.`,

	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFlags(log.Lmsgprefix | log.Lmicroseconds)
		log.SetPrefix("avrflash: ")
		serport.SetDebug(debug)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&port, "port", "p", "", "serial device of the target board")
	rootCmd.PersistentFlags().IntVarP(&baud, "baud", "b", stk500v2.DefaultBaudRate, "serial baud rate")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log every byte moved on the serial line")
}
