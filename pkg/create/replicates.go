package create

import (
	"fmt"
	"sort"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/logger"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// consensusBinWidth is the m/z bin width for aligning peaks across
// replicates.
const consensusBinWidth = 1.0

// consensusMinimumDot is the similarity floor below which a replicate is
// judged dissimilar to the front-runner and excluded from the consensus.
const consensusMinimumDot = 0.6

// Replicates reduces a set of entries believed to be the same peptide ion to
// a single representative, either by best-replicate selection or by
// consensus averaging.
type Replicates struct {
	entries  []*splib.Entry
	cfg      Config
	denoiser *Denoiser
	log      *logger.Logger
}

// NewReplicates wraps a replicate set. The denoiser may be nil.
func NewReplicates(entries []*splib.Entry, cfg Config, denoiser *Denoiser, log *logger.Logger) *Replicates {
	if log == nil {
		log = logger.Noop()
	}
	return &Replicates{entries: entries, cfg: cfg, denoiser: denoiser, log: log}
}

// BestReplicate selects the single best entry: highest probability, ties
// broken by replicate count, then by total ion current. Returns nil for an
// empty set.
func (r *Replicates) BestReplicate() *splib.Entry {
	var best *splib.Entry
	for _, e := range r.entries {
		if best == nil || betterReplicate(e, best) {
			best = e
		}
	}
	return best
}

func betterReplicate(a, b *splib.Entry) bool {
	if a.Probability != b.Probability {
		return a.Probability > b.Probability
	}
	if a.NrepsUsed != b.NrepsUsed {
		return a.NrepsUsed > b.NrepsUsed
	}
	return a.Peaks.TotalIonCurrent() > b.Peaks.TotalIonCurrent()
}

// ConsensusSpectrum builds a consensus entry from the replicate set: the
// front-runner's metadata with a peak list averaged across all replicates
// judged similar enough to it. Peaks are aligned in 1 Th bins, intensity
// averaged over the replicates used, and pruned by the peak quorum. With a
// trained denoiser, single-replicate consensus spectra are denoised instead
// of averaged. Returns nil for an empty set.
func (r *Replicates) ConsensusSpectrum() *splib.Entry {
	if len(r.entries) == 0 {
		return nil
	}

	front := r.BestReplicate()
	if len(r.entries) == 1 {
		cons := front.Clone()
		if r.denoiser != nil && r.denoiser.Ready() {
			r.denoiser.Filter(cons.Peaks)
		}
		return cons
	}

	used := r.similarToFront(front)

	// Cap the replicate set; the front-runner sorts first so it is never
	// dropped.
	if r.cfg.MaximumNumReplicates > 0 && len(used) > r.cfg.MaximumNumReplicates {
		used = used[:r.cfg.MaximumNumReplicates]
	}

	if len(used) == 1 {
		cons := front.Clone()
		if r.denoiser != nil && r.denoiser.Ready() {
			r.denoiser.Filter(cons.Peaks)
		}
		return cons
	}

	cons := front.Clone()
	cons.Peaks = r.alignPeaks(used)
	cons.Status = splib.StatusNormal
	cons.NrepsUsed = 0
	for _, e := range used {
		cons.NrepsUsed += e.NrepsUsed
	}
	cons.Comments.Set("Nreps", fmt.Sprintf("%d/%d", len(used), len(r.entries)))

	minRep := peakQuorumMin(len(used), r.cfg.PeakQuorum)
	cons.Peaks.RemoveInquoratePeaks(minRep)
	return cons
}

// similarToFront drops replicates whose spectra are dissimilar to the
// front-runner, returning the survivors ordered best first.
func (r *Replicates) similarToFront(front *splib.Entry) []*splib.Entry {
	used := make([]*splib.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e == front {
			continue
		}
		if dot := front.Peaks.Dot(e.Peaks); dot < consensusMinimumDot {
			r.log.Debug("replicate dropped as dissimilar",
				"entry", e.Name(),
				"dot", dot,
			)
			continue
		}
		used = append(used, e)
	}
	sort.SliceStable(used, func(i, j int) bool { return betterReplicate(used[i], used[j]) })
	return append([]*splib.Entry{front}, used...)
}

// alignPeaks bins every replicate's peaks at the consensus bin width and
// merges bins: intensity-weighted mean m/z, intensity averaged over the
// replicates used, replicate support counted per bin. Annotations are taken
// from the front-runner (the first replicate).
func (r *Replicates) alignPeaks(used []*splib.Entry) *core.PeakList {
	type binAcc struct {
		sumWeightedMZ float64
		sumIntensity  float64
		reps          int
		annotation    string
	}
	bins := make(map[int]*binAcc)

	for ei, e := range used {
		// Strongest peak per bin per replicate.
		perRep := make(map[int]core.Peak)
		for _, p := range e.Peaks.Peaks {
			bin := int(p.MZ/consensusBinWidth + 0.5)
			if prev, ok := perRep[bin]; !ok || p.Intensity > prev.Intensity {
				perRep[bin] = p
			}
		}
		for bin, p := range perRep {
			acc := bins[bin]
			if acc == nil {
				acc = &binAcc{}
				bins[bin] = acc
			}
			acc.sumWeightedMZ += p.MZ * p.Intensity
			acc.sumIntensity += p.Intensity
			acc.reps++
			if ei == 0 && p.Annotation != "" {
				acc.annotation = p.Annotation
			}
		}
	}

	base := 0.0
	peaks := make([]core.Peak, 0, len(bins))
	for _, acc := range bins {
		if acc.sumIntensity <= 0 {
			continue
		}
		p := core.Peak{
			MZ:         acc.sumWeightedMZ / acc.sumIntensity,
			Intensity:  acc.sumIntensity / float64(len(used)),
			Annotation: acc.annotation,
			Reps:       acc.reps,
		}
		if p.Intensity > base {
			base = p.Intensity
		}
		peaks = append(peaks, p)
	}

	pl := core.NewPeakList(peaks)
	if r.denoiser != nil {
		for _, p := range pl.Peaks {
			r.denoiser.Observe(p, base, p.Reps, len(used))
		}
	}
	return pl
}

// peakQuorumMin computes the minimum replicate support a peak needs:
// ceil(reps * quorum), at least 1.
func peakQuorumMin(reps int, quorum float64) int {
	min := int(float64(reps)*quorum-0.00001) + 1
	if min < 1 {
		min = 1
	}
	return min
}
