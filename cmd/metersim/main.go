// Package main provides metersim, a Modbus TCP power meter simulator.
package main

import (
	"fmt"
	"os"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
