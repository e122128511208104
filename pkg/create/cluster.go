package create

import (
	"fmt"

	"github.com/byronyi/SpectraST/pkg/splib"
)

// similarity clustering parameters
const (
	// clusterWindow is the initial precursor window searched around a
	// cluster seed; it narrows by 1 Th per expansion round.
	clusterWindow = 2.5

	// clusterMaxPeaks caps the peak list before spectra are compared.
	clusterMaxPeaks = 50

	// hopelessDot marks a candidate so dissimilar to a seed that it is
	// excluded from all later rounds of that cluster.
	hopelessDot = 0.3

	// clusterMaxRound stops the recursive expansion.
	clusterMaxRound = 2
)

// doSimilarityClustering groups the entries of a single (typically
// unidentified) library by spectral similarity. The library is traversed in
// descending signal quality so the cleanest spectra seed the clusters; each
// cluster of two or more members is replaced by its consensus spectrum, and
// singletons survive only with replicate support or a high signal score.
func (b *Builder) doSimilarityClustering() error {
	if err := b.openSplibs(false, true, false); err != nil {
		return err
	}
	in := b.inputs[0]
	if in == nil || in.mz == nil {
		return fmt.Errorf("%w: %s", ErrFirstInputUnreadable, b.inputPaths[0])
	}
	if err := b.openWriter(); err != nil {
		return err
	}
	if err := b.refreshProteinMappings(); err != nil {
		return err
	}

	// visited marks every entry already claimed by a cluster or emitted
	// as a singleton, so each entry belongs to exactly one cluster.
	visited := make(map[int64]bool, in.mz.EntryCount())
	var clusters [][]int64
	singletons := 0

	in.mz.SortBySignal()
	for in.mz.NextSorted() {
		seedOff := in.mz.SortedOffset()
		if visited[seedOff] {
			continue
		}
		seed, err := in.mz.SortedEntry()
		if err != nil {
			b.log.Warn("unreadable entry skipped", "offset", seedOff, "error", err)
			b.skipped++
			visited[seedOff] = true
			continue
		}

		cluster := b.growCluster(in.mz, seed, visited)
		for off := range cluster {
			visited[off] = true
		}

		if len(cluster) == 1 {
			// A lone spectrum earns its place by replicate support
			// or by signal quality.
			if !b.passAllFilters(seed) {
				continue
			}
			if seed.NrepsUsed > 1 || seed.Peaks.Xrea() >= b.cfg.UnidentifiedSingletonXreaThreshold {
				b.count++
				singletons++
				b.processEntry(seed)
				b.insert(seed)
			}
			continue
		}

		offsets := make([]int64, 0, len(cluster))
		for off := range cluster {
			offsets = append(offsets, off)
		}
		clusters = append(clusters, offsets)
	}

	for _, offsets := range clusters {
		entries := b.readCluster(in.lib, offsets)
		if len(entries) == 0 {
			continue
		}
		reps := NewReplicates(entries, b.cfg, nil, b.log)
		cons := reps.ConsensusSpectrum()
		if cons == nil || !b.passAllFilters(cons) {
			continue
		}
		b.count++
		b.processEntry(cons)
		b.insert(cons)
	}

	b.log.Info("similarity clustering complete",
		"clusters", len(clusters),
		"singletons", singletons,
	)
	return b.out.Close()
}

// growCluster expands a seed into a cluster of spectrally similar neighbors.
// Candidates are fetched once from the widest precursor window; expansion
// then proceeds in rounds, each accepted member recruiting its own neighbors
// under a loosened similarity floor and a narrowed window re-centered on the
// cluster's mean precursor mass.
func (b *Builder) growCluster(mz *splib.MzIndex, seed *splib.Entry, visited map[int64]bool) map[int64]bool {
	cluster := map[int64]bool{seed.Offset: true}

	candidates, err := mz.Retrieve(seed.PrecursorMZ-clusterWindow, seed.PrecursorMZ+clusterWindow)
	if err != nil {
		b.log.Warn("neighbor search failed", "mz", seed.PrecursorMZ, "error", err)
		return cluster
	}

	// excluded collects candidates spoken for elsewhere plus the hopeless
	// ones, so no round reconsiders them.
	excluded := make(map[int64]bool)
	for _, c := range candidates {
		if visited[c.Offset] {
			excluded[c.Offset] = true
		}
		c.Peaks.Simplify(clusterMaxPeaks)
	}
	seed.Peaks.Simplify(clusterMaxPeaks)

	sumMz := seed.PrecursorMZ
	b.findSpectralNeighbors(seed, seed.PrecursorMZ, 0, candidates, cluster, excluded, &sumMz)
	return cluster
}

func (b *Builder) findSpectralNeighbors(e *splib.Entry, centerMz float64, round int, candidates []*splib.Entry, cluster, excluded map[int64]bool, sumMz *float64) {
	lo := centerMz - clusterWindow + float64(round)
	hi := centerMz + clusterWindow - float64(round)
	minDot := b.cfg.UnidentifiedClusterMinimumDot - float64(round)*0.5

	var hits []*splib.Entry
	for _, c := range candidates {
		if cluster[c.Offset] || excluded[c.Offset] {
			continue
		}
		if c.PrecursorMZ < lo || c.PrecursorMZ > hi {
			continue
		}
		dot := e.Peaks.Dot(c.Peaks)
		if dot >= minDot {
			cluster[c.Offset] = true
			*sumMz += c.PrecursorMZ
			hits = append(hits, c)
		} else if dot < hopelessDot {
			excluded[c.Offset] = true
		}
	}

	if round >= clusterMaxRound {
		return
	}
	for _, h := range hits {
		mean := *sumMz / float64(len(cluster))
		b.findSpectralNeighbors(h, mean, round+1, candidates, cluster, excluded, sumMz)
	}
}
