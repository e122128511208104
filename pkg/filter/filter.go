// Package filter provides entry admission predicates for library builds.
package filter

import (
	"fmt"
	"strings"

	"github.com/byronyi/SpectraST/pkg/splib"
)

// Config holds admission criteria applied to every candidate entry before it
// enters an output library. The zero value admits everything.
type Config struct {
	MinProbability float64  // Minimum identification probability (0 = no cutoff)
	MinNreps       int      // Minimum replicates used (0 = no cutoff)
	MinNTT         int      // Minimum number of tryptic termini (0 = no cutoff)
	MaxNMC         int      // Maximum missed cleavages (-1 = no cutoff)
	MinMZ, MaxMZ   float64  // Precursor m/z window (0,0 = no window)
	MinPeaks       int      // Minimum peak count (0 = no cutoff)
	Statuses       []string // Admit only these statuses (nil = all)
}

// DefaultConfig returns a config that admits everything.
func DefaultConfig() Config {
	return Config{MaxNMC: -1}
}

// Check evaluates all configured criteria against an entry. It returns
// whether the entry is admitted and, when it is not, the first failing
// criterion as a human-readable reason.
func (c *Config) Check(e *splib.Entry) (bool, string) {
	if c.MinProbability > 0 && e.Probability < c.MinProbability {
		return false, fmt.Sprintf("probability %.4f below %.4f", e.Probability, c.MinProbability)
	}
	if c.MinNreps > 0 && e.NrepsUsed < c.MinNreps {
		return false, fmt.Sprintf("nreps %d below %d", e.NrepsUsed, c.MinNreps)
	}
	if c.MinNTT > 0 && e.Peptide.NTT() < c.MinNTT {
		return false, fmt.Sprintf("ntt %d below %d", e.Peptide.NTT(), c.MinNTT)
	}
	if c.MaxNMC >= 0 && e.Peptide.NMC() > c.MaxNMC {
		return false, fmt.Sprintf("nmc %d above %d", e.Peptide.NMC(), c.MaxNMC)
	}
	if c.MinMZ != 0 || c.MaxMZ != 0 {
		if e.PrecursorMZ < c.MinMZ || e.PrecursorMZ > c.MaxMZ {
			return false, fmt.Sprintf("precursor %.4f outside [%.4f, %.4f]", e.PrecursorMZ, c.MinMZ, c.MaxMZ)
		}
	}
	if c.MinPeaks > 0 && len(e.Peaks.Peaks) < c.MinPeaks {
		return false, fmt.Sprintf("%d peaks below %d", len(e.Peaks.Peaks), c.MinPeaks)
	}
	if len(c.Statuses) > 0 && !statusAllowed(string(e.Status), c.Statuses) {
		return false, fmt.Sprintf("status %s not admitted", e.Status)
	}
	return true, ""
}

func statusAllowed(status string, allowed []string) bool {
	for _, s := range allowed {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}
