package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/splib"
)

func entry(t *testing.T, prob float64, nreps int) *splib.Entry {
	t.Helper()
	pep, err := core.NewPeptide("PEKPTIDEK", 2, "")
	require.NoError(t, err)
	pep.PrevAA, pep.NextAA = 'A', 'L'

	e := splib.NewEntry(pep, 512.3)
	e.Probability = prob
	e.NrepsUsed = nreps
	e.Status = splib.StatusNormal
	e.Peaks = core.NewPeakList([]core.Peak{
		{MZ: 200, Intensity: 1000},
		{MZ: 300, Intensity: 500},
	})
	return e
}

func TestZeroValueAdmitsEverything(t *testing.T) {
	c := Config{MaxNMC: -1}
	ok, reason := c.Check(entry(t, 0, 0))
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCheckCriteria(t *testing.T) {
	e := entry(t, 0.8, 2)

	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{name: "probability pass", cfg: Config{MinProbability: 0.5, MaxNMC: -1}, want: true},
		{name: "probability fail", cfg: Config{MinProbability: 0.9, MaxNMC: -1}, want: false},
		{name: "nreps fail", cfg: Config{MinNreps: 3, MaxNMC: -1}, want: false},
		{name: "ntt fail", cfg: Config{MinNTT: 2, MaxNMC: -1}, want: false}, // A.PEK... has one tryptic terminus
		{name: "nmc pass", cfg: Config{MaxNMC: 0}, want: true},              // KP is not a missed cleavage
		{name: "mz window pass", cfg: Config{MinMZ: 500, MaxMZ: 600, MaxNMC: -1}, want: true},
		{name: "mz window fail", cfg: Config{MinMZ: 600, MaxMZ: 700, MaxNMC: -1}, want: false},
		{name: "min peaks fail", cfg: Config{MinPeaks: 5, MaxNMC: -1}, want: false},
		{name: "status pass", cfg: Config{Statuses: []string{"normal"}, MaxNMC: -1}, want: true},
		{name: "status fail", cfg: Config{Statuses: []string{"Decoy"}, MaxNMC: -1}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := tt.cfg.Check(e)
			assert.Equal(t, tt.want, ok)
			if !tt.want {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
