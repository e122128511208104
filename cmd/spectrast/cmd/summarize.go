// Package cmd - summarize command: library statistics
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/byronyi/SpectraST/pkg/splib"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [library]",
	Short: "Summarize a spectral library",
	Long: `Print summary statistics about a .splib library: entry and peptide
counts, precursor mass range, status and charge distributions, and the
command lineage recorded in the preamble.`,
	Args: cobra.ExactArgs(1),
	RunE: runSummarize,
}

func runSummarize(cmd *cobra.Command, args []string) error {
	lib, err := splib.Open(args[0])
	if err != nil {
		return err
	}
	defer lib.Close()

	fmt.Printf("Library: %s (v%d.%d)\n", args[0], lib.Version, lib.SubVersion)
	if len(lib.Preamble) > 0 {
		fmt.Println("Lineage:")
		for _, line := range lib.Preamble {
			fmt.Printf("  %s\n", line)
		}
	}

	entries := 0
	minMz, maxMz := 0.0, 0.0
	statuses := make(map[splib.Status]int)
	charges := make(map[int]int)
	sequences := make(map[string]bool)

	for {
		e, err := lib.NextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		entries++
		if entries == 1 || e.PrecursorMZ < minMz {
			minMz = e.PrecursorMZ
		}
		if e.PrecursorMZ > maxMz {
			maxMz = e.PrecursorMZ
		}
		statuses[e.Status]++
		if e.Peptide != nil {
			charges[e.Peptide.Charge]++
			sequences[e.Peptide.Sequence] = true
		}
	}

	fmt.Printf("\nEntries: %d\n", entries)
	fmt.Printf("Distinct peptide sequences: %d\n", len(sequences))
	if entries > 0 {
		fmt.Printf("Precursor m/z range: %.4f - %.4f\n", minMz, maxMz)
	}
	if len(statuses) > 0 {
		fmt.Println("Status distribution:")
		for status, n := range statuses {
			fmt.Printf("  %-24s %d\n", status, n)
		}
	}
	if len(charges) > 0 {
		fmt.Println("Charge distribution:")
		for charge := 1; charge <= 10; charge++ {
			if n, ok := charges[charge]; ok {
				fmt.Printf("  %d+  %d\n", charge, n)
			}
		}
	}
	return nil
}
