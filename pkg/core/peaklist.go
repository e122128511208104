package core

import (
	"math"
	"sort"
)

// Peak represents a single m/z, intensity pair with optional metadata.
type Peak struct {
	MZ         float64
	Intensity  float64
	Annotation string // Ion annotation (e.g., "y3", "b2^2")
	Reps       int    // Number of replicates in which this peak was observed
}

// PeakList holds the fragment peaks of one spectrum, ordered by m/z.
type PeakList struct {
	Peaks []Peak
}

// NewPeakList creates a peak list and sorts it by m/z.
func NewPeakList(peaks []Peak) *PeakList {
	pl := &PeakList{Peaks: peaks}
	pl.Sort()
	return pl
}

// Sort orders peaks by m/z ascending.
func (pl *PeakList) Sort() {
	sort.Slice(pl.Peaks, func(i, j int) bool {
		return pl.Peaks[i].MZ < pl.Peaks[j].MZ
	})
}

// Clone returns a deep copy.
func (pl *PeakList) Clone() *PeakList {
	peaks := make([]Peak, len(pl.Peaks))
	copy(peaks, pl.Peaks)
	return &PeakList{Peaks: peaks}
}

// TotalIonCurrent returns the summed intensity of all peaks.
func (pl *PeakList) TotalIonCurrent() float64 {
	total := 0.0
	for _, p := range pl.Peaks {
		total += p.Intensity
	}
	return total
}

// dotBinWidth is the m/z bin width used for similarity scoring.
const dotBinWidth = 1.0

// Dot computes the normalized dot product between two peak lists in [0,1].
// Intensities are square-root transformed and binned at 1 Th before the
// inner product, the usual spectral similarity metric.
func (pl *PeakList) Dot(other *PeakList) float64 {
	if len(pl.Peaks) == 0 || len(other.Peaks) == 0 {
		return 0.0
	}
	a := binSqrtIntensities(pl.Peaks)
	b := binSqrtIntensities(other.Peaks)

	var dot, normA, normB float64
	for bin, va := range a {
		normA += va * va
		if vb, ok := b[bin]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	score := dot / math.Sqrt(normA*normB)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func binSqrtIntensities(peaks []Peak) map[int]float64 {
	bins := make(map[int]float64, len(peaks))
	for _, p := range peaks {
		bin := int(p.MZ/dotBinWidth + 0.5)
		bins[bin] += math.Sqrt(p.Intensity)
	}
	return bins
}

// fragmentTolerance is the m/z tolerance for fragment assignment.
const fragmentTolerance = 0.5

// Annotate assigns b/y fragment ion labels (charge 1 and 2) predicted from
// the peptide to matching peaks. Previously assigned annotations are
// replaced. Peaks with no matching fragment get an empty annotation.
func (pl *PeakList) Annotate(pep *Peptide, db *ModDatabase) {
	frags := FragmentIons(pep, db)
	for i := range pl.Peaks {
		pl.Peaks[i].Annotation = ""
		best := fragmentTolerance
		for _, f := range frags {
			if d := math.Abs(pl.Peaks[i].MZ - f.MZ); d < best {
				best = d
				pl.Peaks[i].Annotation = f.Label
			}
		}
	}
}

// Simplify keeps only the maxPeaks most intense peaks, re-sorted by m/z.
func (pl *PeakList) Simplify(maxPeaks int) {
	if maxPeaks <= 0 || len(pl.Peaks) <= maxPeaks {
		return
	}
	peaks := make([]Peak, len(pl.Peaks))
	copy(peaks, pl.Peaks)
	sort.Slice(peaks, func(i, j int) bool {
		return peaks[i].Intensity > peaks[j].Intensity
	})
	pl.Peaks = peaks[:maxPeaks]
	pl.Sort()
}

// FractionUnassigned returns the fraction of the topN most intense peaks
// without a fragment annotation, along with the unassigned and assigned
// counts. Annotate must have been called first.
func (pl *PeakList) FractionUnassigned(topN int) (frac float64, unassigned, assigned int) {
	peaks := make([]Peak, len(pl.Peaks))
	copy(peaks, pl.Peaks)
	sort.Slice(peaks, func(i, j int) bool {
		return peaks[i].Intensity > peaks[j].Intensity
	})
	if topN > 0 && topN < len(peaks) {
		peaks = peaks[:topN]
	}
	for _, p := range peaks {
		if p.Annotation == "" {
			unassigned++
		} else {
			assigned++
		}
	}
	if unassigned+assigned == 0 {
		return 0.0, 0, 0
	}
	return float64(unassigned) / float64(unassigned+assigned), unassigned, assigned
}

// RemoveInquoratePeaks prunes peaks observed in fewer than minReps
// replicates. Peaks with no replicate bookkeeping (Reps == 0) count as
// observed once.
func (pl *PeakList) RemoveInquoratePeaks(minReps int) {
	if minReps <= 1 {
		return
	}
	kept := pl.Peaks[:0]
	for _, p := range pl.Peaks {
		reps := p.Reps
		if reps == 0 {
			reps = 1
		}
		if reps >= minReps {
			kept = append(kept, p)
		}
	}
	pl.Peaks = kept
}

// Xrea computes a signal-quality score in [0,1]: the normalized area between
// the cumulative intensity curve of the rank-sorted peaks and the diagonal.
// A spectrum dominated by a few strong peaks scores high; flat noise scores
// near zero.
func (pl *PeakList) Xrea() float64 {
	n := len(pl.Peaks)
	if n < 2 {
		return 0.0
	}
	intensities := make([]float64, n)
	total := 0.0
	for i, p := range pl.Peaks {
		intensities[i] = p.Intensity
		total += p.Intensity
	}
	if total <= 0 {
		return 0.0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(intensities)))

	area := 0.0
	cum := 0.0
	for i, inten := range intensities {
		cum += inten / total
		diagonal := float64(i+1) / float64(n)
		area += cum - diagonal
	}
	return area / float64(n)
}
