// Package cmd - create command: build and merge libraries
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/byronyi/SpectraST/pkg/create"
)

var createCmd = &cobra.Command{
	Use:   "create [libraries...]",
	Short: "Build or merge spectral libraries",
	Long: `Build or merge one or more .splib libraries into a new library.

Examples:
  # Union of two libraries, keeping all replicates
  spectrast create --combine UNION a.splib b.splib

  # Consensus library from pooled replicates
  spectrast create --combine UNION --build CONSENSUS a.splib b.splib

  # Quality-filter a consensus library against itself
  spectrast create --build QUALITY_FILTER lib_consensus.splib

  # Generate a concatenated decoy library
  spectrast create --build DECOY lib_quality.splib

  # Full control through a parameter file
  spectrast create --params params.yaml a.splib b.splib`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	cfg := create.DefaultConfig()
	if paramsFile != "" {
		cfg, err = create.LoadConfig(paramsFile)
		if err != nil {
			return fmt.Errorf("load parameter file: %w", err)
		}
	}
	if cmd.Flags().Changed("combine") {
		cfg.CombineAction = combineAction
	}
	if cmd.Flags().Changed("build") {
		cfg.BuildAction = buildAction
	}
	if cmd.Flags().Changed("out") {
		cfg.OutputFile = outputFile
	}
	if cmd.Flags().Changed("refresh-database") {
		cfg.RefreshDatabase = refreshDatabase
	}
	if cmd.Flags().Changed("min-prob") {
		cfg.MinimumProbability = minProbability
	}
	if cmd.Flags().Changed("write-text") {
		cfg.WriteTextLibrary = writeTextLibrary
	}

	for _, path := range args {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("input library does not exist: %s", path)
		}
	}

	builder, err := create.NewBuilder(cfg, args, log)
	if err != nil {
		return err
	}
	if err := builder.Build(); err != nil {
		return err
	}

	fmt.Printf("Library created: %s\n", builder.OutputPath())
	fmt.Printf("Processed: %d peptide ions\n", builder.Count())
	if builder.Skipped() > 0 {
		fmt.Printf("Skipped: %d records\n", builder.Skipped())
	}
	return nil
}
