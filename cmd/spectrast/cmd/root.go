// Package cmd provides CLI command implementations
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/byronyi/SpectraST/pkg/logger"
)

var (
	// Global flags
	logLevel string

	// Flags for the create command
	paramsFile       string
	combineAction    string
	buildAction      string
	outputFile       string
	refreshDatabase  string
	minProbability   float64
	writeTextLibrary bool

	// Flags for import/export
	inputFormat string
	modsFile    string
	exportFile  string
)

var rootCmd = &cobra.Command{
	Use:   "spectrast",
	Short: "SpectraST - Spectral library build and merge engine",
	Long: `SpectraST builds, merges and curates peptide spectral libraries in the
binary .splib format with .pepidx and .spidx sidecar indices.

Libraries are combined with set semantics (UNION, APPEND, INTERSECT,
SUBTRACT, SUBTRACT_HOMOLOGS) and refined with build actions: best-replicate
selection, consensus spectra, quality filtering, decoy generation,
replicate sorting, modification permutation and similarity clustering.`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(summarizeCmd)

	createCmd.Flags().StringVarP(&paramsFile, "params", "p", "", "YAML parameter file")
	createCmd.Flags().StringVarP(&combineAction, "combine", "c", "", "Combine action: UNION, APPEND, INTERSECT, SUBTRACT, SUBTRACT_HOMOLOGS")
	createCmd.Flags().StringVarP(&buildAction, "build", "b", "", "Build action: BEST_REPLICATE, CONSENSUS, QUALITY_FILTER, DECOY, SORT_BY_NREPS, USER_SPECIFIED_MODS, SIMILARITY_CLUSTERING")
	createCmd.Flags().StringVarP(&outputFile, "out", "o", "", "Output library file (default derived from inputs)")
	createCmd.Flags().StringVar(&refreshDatabase, "refresh-database", "", "FASTA database for protein remapping")
	createCmd.Flags().Float64Var(&minProbability, "min-prob", 0, "Minimum identification probability")
	createCmd.Flags().BoolVar(&writeTextLibrary, "write-text", false, "Also write a .sptxt text companion")

	importCmd.Flags().StringVarP(&inputFormat, "from", "f", "", "Input format: sptxt, msp (auto-detect if not specified)")
	importCmd.Flags().StringVarP(&outputFile, "out", "o", "", "Output library file (required)")
	importCmd.Flags().StringVar(&modsFile, "mods", "", "CSV file of custom modifications (name,massshift)")
	importCmd.MarkFlagRequired("out")

	exportCmd.Flags().StringVarP(&exportFile, "out", "o", "", "Output SQLite database file (required)")
	exportCmd.MarkFlagRequired("out")
}

// newLogger builds the run logger from the global log-level flag.
func newLogger() (*logger.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	return logger.NewText(os.Stderr, level), nil
}
