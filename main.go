/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/gmofishsauce/avrflash/cmd"

func main() {
	cmd.Execute()
}
