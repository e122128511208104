// Package cmd - import command: text formats to binary library
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/reader/msp"
	"github.com/byronyi/SpectraST/pkg/reader/sptxt"
	"github.com/byronyi/SpectraST/pkg/splib"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a text-format library into the binary .splib format",
	Long: `Import an SPTXT or MSP text library into a binary .splib library with
its .pepidx and .spidx sidecar indices.

Examples:
  # Import a SpectraST text library
  spectrast import library.sptxt --out library.splib

  # Import an MSP library
  spectrast import library.msp --out library.splib`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// entrySource abstracts the streaming text readers.
type entrySource interface {
	Next() bool
	Entry() *splib.Entry
	Err() error
}

func runImport(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	inputFile := args[0]

	format := strings.ToLower(inputFormat)
	if format == "" {
		switch strings.ToLower(filepath.Ext(inputFile)) {
		case ".sptxt":
			format = "sptxt"
		case ".msp":
			format = "msp"
		default:
			return fmt.Errorf("cannot auto-detect format of %s, please specify --from", inputFile)
		}
	}
	if format != "sptxt" && format != "msp" {
		return fmt.Errorf("invalid input format %q, must be sptxt or msp", format)
	}

	inFile, err := os.Open(inputFile)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	modDB := core.DefaultModDatabase()
	if modsFile != "" {
		f, err := os.Open(modsFile)
		if err != nil {
			return fmt.Errorf("failed to open mods file: %w", err)
		}
		if err := modDB.LoadFromCSV(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to load mods file %s: %w", modsFile, err)
		}
		f.Close()
	}

	var reader entrySource
	switch format {
	case "sptxt":
		reader = sptxt.NewReader(inFile, modDB)
	case "msp":
		reader = msp.NewReader(inFile, modDB)
	}

	preamble := []string{fmt.Sprintf("Imported from %q (%s)", filepath.Base(inputFile), format)}
	writer, err := splib.NewWriter(outputFile, preamble, log)
	if err != nil {
		return err
	}

	count := 0
	skipped := 0
	for reader.Next() {
		e := reader.Entry()
		if e.Peptide == nil || len(e.Peaks.Peaks) == 0 {
			skipped++
			continue
		}
		if _, err := writer.Insert(e); err != nil {
			return err
		}
		count++
		if count%10000 == 0 {
			fmt.Printf("Imported %d entries...\n", count)
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", inputFile, err)
	}
	if err := writer.Close(); err != nil {
		return err
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Imported: %d entries\n", count)
	if skipped > 0 {
		fmt.Printf("Skipped: %d entries\n", skipped)
	}
	fmt.Printf("Output: %s\n", outputFile)
	return nil
}
