// Package create implements the library build/merge engine: set-algebraic
// combination of input libraries, replicate reduction, quality filtering,
// decoy generation, semi-empirical spectrum generation and similarity
// clustering, streaming entries through the on-disk indices.
package create

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Combine actions.
const (
	Union            = "UNION"
	Append           = "APPEND"
	Intersect        = "INTERSECT"
	Subtract         = "SUBTRACT"
	SubtractHomologs = "SUBTRACT_HOMOLOGS"
)

// Build actions. The empty string means "no build action": every filtered
// entry passes straight through.
const (
	BestReplicate        = "BEST_REPLICATE"
	Consensus            = "CONSENSUS"
	QualityFilter        = "QUALITY_FILTER"
	Decoy                = "DECOY"
	SortByNreps          = "SORT_BY_NREPS"
	UserSpecifiedMods    = "USER_SPECIFIED_MODS"
	SimilarityClustering = "SIMILARITY_CLUSTERING"
)

// Config holds every knob of one build/merge run. A Config value is threaded
// explicitly into each component; nothing reads ambient global state.
type Config struct {
	CombineAction string `yaml:"combineAction"`
	BuildAction   string `yaml:"buildAction"`
	OutputFile    string `yaml:"outputFile"`

	// Quality filter cascade.
	QualityLevelMark             int     `yaml:"qualityLevelMark"`
	QualityLevelRemove           int     `yaml:"qualityLevelRemove"`
	QualityImmuneProbThreshold   float64 `yaml:"qualityImmuneProbThreshold"`
	QualityImmuneMultipleEngines bool    `yaml:"qualityImmuneMultipleEngines"`
	QualityPenalizeSingletons    bool    `yaml:"qualityPenalizeSingletons"`
	MinimumNumReplicates         int     `yaml:"minimumNumReplicates"`
	PeakQuorum                   float64 `yaml:"peakQuorum"`

	// Decoy generation.
	DecoySizeRatio   int  `yaml:"decoySizeRatio"`
	DecoyConcatenate bool `yaml:"decoyConcatenate"`

	// Similarity clustering.
	UnidentifiedClusterMinimumDot      float64 `yaml:"unidentifiedClusterMinimumDot"`
	UnidentifiedSingletonXreaThreshold float64 `yaml:"unidentifiedSingletonXreaThreshold"`

	// Entry admission filters.
	MinimumProbability    float64 `yaml:"minimumProbability"`
	MinimumTrypticTermini int     `yaml:"minimumTrypticTermini"`
	MaximumMissedCleavage int     `yaml:"maximumMissedCleavage"`

	// Protein-mapping refresh.
	RefreshDatabase          string `yaml:"refreshDatabase"`
	RefreshDeleteUnmapped    bool   `yaml:"refreshDeleteUnmapped"`
	RefreshDeleteMultimapped bool   `yaml:"refreshDeleteMultimapped"`

	// Consensus building.
	UseDenoiser          bool `yaml:"useDenoiser"`
	MaximumNumReplicates int  `yaml:"maximumNumReplicates"`

	// Semi-empirical spectrum generation, e.g. "{C,Carbamidomethyl} {M,M|Oxidation}".
	AllowableModTokens string `yaml:"allowableModTokens"`

	// Miscellaneous entry processing.
	SetFragmentation string `yaml:"setFragmentation"`
	AnnotatePeaks    bool   `yaml:"annotatePeaks"`
	WriteTextLibrary bool   `yaml:"writeTextLibrary"`
}

// DefaultConfig returns the engine defaults: a plain UNION with no build
// action and admit-everything filters.
func DefaultConfig() Config {
	return Config{
		CombineAction:                      Union,
		QualityImmuneProbThreshold:         0.999,
		MinimumNumReplicates:               1,
		PeakQuorum:                         0.6,
		DecoySizeRatio:                     1,
		UnidentifiedClusterMinimumDot:      0.7,
		UnidentifiedSingletonXreaThreshold: 0.6,
		MaximumMissedCleavage:              -1,
		MaximumNumReplicates:               100,
	}
}

// LoadConfig reads a YAML params file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read params file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse params file %s: %w", path, err)
	}
	return cfg, nil
}

// singleFileActions require exactly one input library.
var singleFileActions = map[string]bool{
	QualityFilter:        true,
	Decoy:                true,
	SortByNreps:          true,
	UserSpecifiedMods:    true,
	SimilarityClustering: true,
}

var validCombineActions = map[string]bool{
	Union: true, Append: true, Intersect: true, Subtract: true, SubtractHomologs: true,
}

var validBuildActions = map[string]bool{
	"": true, BestReplicate: true, Consensus: true, QualityFilter: true, Decoy: true,
	SortByNreps: true, UserSpecifiedMods: true, SimilarityClustering: true,
}

// Validate checks the configuration against the given number of input
// libraries. A conflict aborts the run before any output is written.
func (c *Config) Validate(numInputs int) error {
	if numInputs == 0 {
		return fmt.Errorf("%w: no input libraries", ErrConfigConflict)
	}
	if !validCombineActions[c.CombineAction] {
		return fmt.Errorf("%w: unknown combine action %q", ErrConfigConflict, c.CombineAction)
	}
	if !validBuildActions[c.BuildAction] {
		return fmt.Errorf("%w: unknown build action %q", ErrConfigConflict, c.BuildAction)
	}
	if c.CombineAction == SubtractHomologs && c.BuildAction != "" {
		return fmt.Errorf("%w: cannot perform build action %s together with combine action %s",
			ErrConfigConflict, c.BuildAction, SubtractHomologs)
	}
	if singleFileActions[c.BuildAction] && numInputs != 1 {
		return fmt.Errorf("%w: build action %s must be applied to one library only, got %d",
			ErrConfigConflict, c.BuildAction, numInputs)
	}
	if c.BuildAction == Decoy && c.DecoySizeRatio < 1 {
		return fmt.Errorf("%w: decoy size ratio must be at least 1, got %d",
			ErrConfigConflict, c.DecoySizeRatio)
	}
	if c.BuildAction == UserSpecifiedMods && strings.TrimSpace(c.AllowableModTokens) == "" {
		return fmt.Errorf("%w: %s requires a list of allowable mod tokens",
			ErrConfigConflict, UserSpecifiedMods)
	}
	if c.QualityLevelMark < 0 || c.QualityLevelMark > 5 || c.QualityLevelRemove < 0 || c.QualityLevelRemove > 5 {
		return fmt.Errorf("%w: quality levels must be 0-5", ErrConfigConflict)
	}
	return nil
}

// OutputName returns the configured output file, or constructs one from the
// inputs and actions when none is set: the first input's base name, a chain
// of combined names joined by the action's initial, and a build-action
// suffix.
func (c *Config) OutputName(inputs []string) string {
	if c.OutputFile != "" {
		return c.OutputFile
	}

	base := strings.TrimSuffix(inputs[0], filepath.Ext(inputs[0]))
	var sb strings.Builder
	sb.WriteString(base)

	oper := byte('U')
	switch c.CombineAction {
	case Intersect:
		oper = 'I'
	case Subtract:
		oper = 'S'
	case SubtractHomologs:
		oper = 'H'
	case Append:
		oper = 'A'
	}

	if len(inputs) < 4 {
		for _, in := range inputs[1:] {
			name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
			fmt.Fprintf(&sb, "_%c_%s", oper, name)
		}
	} else if len(inputs) > 1 {
		fmt.Fprintf(&sb, "_%c_plus", oper)
	}

	switch c.BuildAction {
	case BestReplicate:
		sb.WriteString("_best")
	case Consensus:
		sb.WriteString("_consensus")
	case QualityFilter:
		sb.WriteString("_quality")
	case Decoy:
		sb.WriteString("_decoy")
	case SortByNreps:
		sb.WriteString("_sorted")
	case UserSpecifiedMods:
		sb.WriteString("_mods")
	case SimilarityClustering:
		sb.WriteString("_clustered")
	default:
		sb.WriteString("_new")
	}

	sb.WriteString(".splib")
	return sb.String()
}
