// SpectraST library engine - build and merge spectral libraries
package main

import (
	"fmt"
	"os"

	"github.com/byronyi/SpectraST/cmd/spectrast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
