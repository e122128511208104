package create

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/byronyi/SpectraST/pkg/core"
)

func TestIntensityBand(t *testing.T) {
	assert.Equal(t, 0, intensityBand(1000, 1000))
	assert.Equal(t, 2, intensityBand(500, 1000))
	// Very weak peaks and degenerate inputs land in the last band.
	assert.Equal(t, numIntensityBands-1, intensityBand(1, 1000))
	assert.Equal(t, numIntensityBands-1, intensityBand(0, 1000))
	assert.Equal(t, numIntensityBands-1, intensityBand(100, 0))
}

func TestDenoiserPosterior(t *testing.T) {
	d := NewDenoiser()
	// No evidence: add-one smoothing gives an even prior.
	assert.Equal(t, 0.5, d.Posterior(0))

	base := 1000.0
	strong := core.Peak{MZ: 200, Intensity: 1000}
	weak := core.Peak{MZ: 300, Intensity: 10}
	for i := 0; i < 10; i++ {
		d.Observe(strong, base, 3, 4) // recurring, strong: signal
		d.Observe(weak, base, 1, 4)   // one-off, weak: noise
	}
	assert.Greater(t, d.Posterior(intensityBand(1000, base)), 0.5)
	assert.Less(t, d.Posterior(intensityBand(10, base)), 0.5)

	// Observations from too few replicates carry no evidence.
	d2 := NewDenoiser()
	d2.Observe(weak, base, 1, 2)
	assert.Equal(t, 0.5, d2.Posterior(intensityBand(10, base)))
}

func TestDenoiserFilter(t *testing.T) {
	d := NewDenoiser()
	base := 1000.0
	for i := 0; i < 10; i++ {
		d.Observe(core.Peak{MZ: 200, Intensity: 1000}, base, 3, 4)
		d.Observe(core.Peak{MZ: 300, Intensity: 10}, base, 1, 4)
	}

	pl := core.NewPeakList([]core.Peak{
		{MZ: 200, Intensity: 1000},
		{MZ: 300, Intensity: 10},
		{MZ: 400, Intensity: 10, Annotation: "y3"},
	})

	// An untrained denoiser leaves the list alone.
	d.Filter(pl)
	assert.Len(t, pl.Peaks, 3)

	d.Train()
	assert.True(t, d.Ready())
	d.Filter(pl)

	// The noisy peak goes; the annotated one survives on its annotation.
	var mzs []float64
	for _, p := range pl.Peaks {
		mzs = append(mzs, p.MZ)
	}
	assert.Equal(t, []float64{200, 400}, mzs)
}
