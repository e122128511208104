// Package cmd - export command: binary library to SQLite
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/byronyi/SpectraST/pkg/splib"
	"github.com/byronyi/SpectraST/pkg/writer/sqlite"
)

var exportCmd = &cobra.Command{
	Use:   "export [library]",
	Short: "Export a binary library to an SQLite database",
	Long: `Export every entry of a .splib library to an SQLite database with peak
arrays stored as binary blobs, for querying outside the library engine.

Example:
  spectrast export library.splib --out library.db`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	lib, err := splib.Open(args[0])
	if err != nil {
		return err
	}
	defer lib.Close()

	writer, err := sqlite.NewWriter(exportFile)
	if err != nil {
		return fmt.Errorf("failed to create output database: %w", err)
	}

	count := 0
	for {
		e, err := lib.NextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := writer.WriteEntry(e); err != nil {
			return err
		}
		count++
		if count%10000 == 0 {
			fmt.Printf("Exported %d entries...\n", count)
		}
	}

	if err := writer.Finalize(lib); err != nil {
		return err
	}

	fmt.Printf("\nExport complete!\n")
	fmt.Printf("Exported: %d entries\n", count)
	fmt.Printf("Output: %s\n", exportFile)
	return nil
}
