package create

import (
	"math"

	"github.com/byronyi/SpectraST/pkg/core"
)

// Denoiser is a Bayesian signal/noise classifier for fragment peaks, trained
// on the fly during consensus building. Peaks that recur across replicates of
// the same peptide ion are signal observations; peaks seen in only one of
// several replicates are noise. Once trained, the model filters the peak
// lists of singleton spectra that had no replicates to vote with.
type Denoiser struct {
	signal [numIntensityBands]int
	noise  [numIntensityBands]int
	ready  bool
}

// numIntensityBands buckets relative peak intensity on a log scale.
const numIntensityBands = 8

// posteriorKeepThreshold is the minimum posterior signal probability for a
// peak to survive filtering.
const posteriorKeepThreshold = 0.5

// NewDenoiser returns an untrained denoiser.
func NewDenoiser() *Denoiser {
	return &Denoiser{}
}

// intensityBand maps a peak's intensity relative to the base peak into a
// band index: band 0 is the base peak, higher bands are progressively weaker
// peaks.
func intensityBand(intensity, base float64) int {
	if base <= 0 || intensity <= 0 {
		return numIntensityBands - 1
	}
	band := int(-math.Log2(intensity/base) * 2)
	if band < 0 {
		band = 0
	}
	if band >= numIntensityBands {
		band = numIntensityBands - 1
	}
	return band
}

// Observe records one aligned consensus peak: reps is the number of
// replicates the peak appeared in, totalReps the number of replicates
// aligned. Observations from fewer than three replicates carry no evidence
// and are ignored.
func (d *Denoiser) Observe(p core.Peak, base float64, reps, totalReps int) {
	if totalReps < 3 {
		return
	}
	band := intensityBand(p.Intensity, base)
	if reps >= 2 {
		d.signal[band]++
	} else {
		d.noise[band]++
	}
}

// Train builds the model from all observations collected so far.
func (d *Denoiser) Train() {
	d.ready = true
}

// Ready reports whether the model has been trained.
func (d *Denoiser) Ready() bool {
	return d.ready
}

// Posterior returns the probability that a peak in the given intensity band
// is signal, with add-one smoothing.
func (d *Denoiser) Posterior(band int) float64 {
	s := d.signal[band]
	n := d.noise[band]
	return (float64(s) + 1.0) / (float64(s+n) + 2.0)
}

// Filter removes peaks classified as noise from the list. Annotated peaks
// are always kept: they match a predicted fragment regardless of the
// intensity model.
func (d *Denoiser) Filter(pl *core.PeakList) {
	if !d.ready || len(pl.Peaks) == 0 {
		return
	}
	base := 0.0
	for _, p := range pl.Peaks {
		if p.Intensity > base {
			base = p.Intensity
		}
	}
	kept := pl.Peaks[:0]
	for _, p := range pl.Peaks {
		if p.Annotation != "" || d.Posterior(intensityBand(p.Intensity, base)) >= posteriorKeepThreshold {
			kept = append(kept, p)
		}
	}
	pl.Peaks = kept
}
