package create

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/logger"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// Quality levels, lower number = more severe defect. The cascade evaluates
// from level 5 down to level 1.
type Level int

const (
	LevelImpure        Level = 1
	LevelConflictingID Level = 2
	LevelUnconfirmed   Level = 3
	LevelSingleton     Level = 4
	LevelInquorate     Level = 5
)

func (l Level) String() string {
	switch l {
	case LevelImpure:
		return "IMPURE"
	case LevelConflictingID:
		return "CONFLICTING_ID"
	case LevelUnconfirmed:
		return "INQUORATE_UNCONFIRMED"
	case LevelSingleton:
		return "SINGLETON"
	case LevelInquorate:
		return "INQUORATE"
	}
	return "UNKNOWN"
}

func (l Level) status() splib.Status {
	switch l {
	case LevelImpure:
		return splib.StatusImpure
	case LevelConflictingID:
		return splib.StatusConflictingID
	case LevelUnconfirmed:
		return splib.StatusInquorateUnconfirmed
	case LevelSingleton:
		return splib.StatusSingleton
	case LevelInquorate:
		return splib.StatusInquorate
	}
	return splib.StatusNormal
}

// LevelSet is the set of quality levels an entry triggered, as a bitset.
type LevelSet uint8

// NewLevelSet builds a set from levels.
func NewLevelSet(levels ...Level) LevelSet {
	var s LevelSet
	for _, l := range levels {
		s = s.Add(l)
	}
	return s
}

// Add returns the set with the level included.
func (s LevelSet) Add(l Level) LevelSet { return s | 1<<uint(l) }

// Has reports whether the level is in the set.
func (s LevelSet) Has(l Level) bool { return s&(1<<uint(l)) != 0 }

// ContainsAll reports whether every level of o is in s.
func (s LevelSet) ContainsAll(o LevelSet) bool { return s&o == o }

// Levels returns the members in ascending severity order (5 down to 1).
func (s LevelSet) Levels() []Level {
	var out []Level
	for l := LevelInquorate; l >= LevelImpure; l-- {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

func (s LevelSet) String() string {
	if s == 0 {
		return "none"
	}
	parts := make([]string, 0, 5)
	for _, l := range s.Levels() {
		parts = append(parts, fmt.Sprintf("Q%d", l))
	}
	return strings.Join(parts, "&")
}

// QFStats is the inclusion-exclusion accounting of the quality filter: a
// count per exact set of simultaneously triggered levels. Any intersection
// term or remaining-at-level figure derives from these counts.
type QFStats struct {
	Total        int
	ImmuneProb   int
	ImmuneEngine int
	counts       map[LevelSet]int
}

// NewQFStats returns empty statistics.
func NewQFStats() *QFStats {
	return &QFStats{counts: make(map[LevelSet]int)}
}

// Record tallies one entry's triggered set (possibly empty).
func (s *QFStats) Record(set LevelSet) {
	s.counts[set]++
}

// Triggered returns the number of entries that triggered all the given
// levels simultaneously, i.e. the intersection term Qk1∧...∧Qkn.
func (s *QFStats) Triggered(levels ...Level) int {
	want := NewLevelSet(levels...)
	n := 0
	for set, count := range s.counts {
		if set.ContainsAll(want) {
			n += count
		}
	}
	return n
}

// Remaining returns the number of entries that survive after filtering at
// all levels up to and including the given one: those triggering none of
// levels 1..level.
func (s *QFStats) Remaining(level Level) int {
	var through LevelSet
	for l := LevelImpure; l <= level; l++ {
		through = through.Add(l)
	}
	n := 0
	for set, count := range s.counts {
		if set&through == 0 {
			n += count
		}
	}
	return n + s.ImmuneProb + s.ImmuneEngine
}

// LogSummary writes the per-level survivor counts to the log.
func (s *QFStats) LogSummary(log *logger.Logger) {
	log.Info("quality filter statistics",
		"total", s.Total,
		"immune_prob", s.ImmuneProb,
		"immune_engine", s.ImmuneEngine,
		"level1", s.Remaining(LevelImpure),
		"level2", s.Remaining(LevelConflictingID),
		"level3", s.Remaining(LevelUnconfirmed),
		"level4", s.Remaining(LevelSingleton),
		"level5", s.Remaining(LevelInquorate),
	)
}

// quality cascade thresholds
const (
	conflictingMzTolerance  = 4.5
	conflictingDot          = 0.70
	conflictingDotSingleton = 0.65
	homologSparedIdentity   = 0.6
	impureFracThreshold     = 0.4
	impureTopN              = 20
)

// qualityChecker applies the five-level cascade against a reference library
// (the input library itself, re-opened through its indices).
type qualityChecker struct {
	cfg    Config
	refPep *splib.PeptideIndex
	refMz  *splib.MzIndex
	modDB  *core.ModDatabase
	stats  *QFStats
	log    *logger.Logger
}

func newQualityChecker(cfg Config, refPep *splib.PeptideIndex, refMz *splib.MzIndex, modDB *core.ModDatabase, log *logger.Logger) *qualityChecker {
	return &qualityChecker{
		cfg:    cfg,
		refPep: refPep,
		refMz:  refMz,
		modDB:  modDB,
		stats:  NewQFStats(),
		log:    log,
	}
}

// levelActive reports whether the configuration cares about a level at all.
func (q *qualityChecker) levelActive(l Level) bool {
	return q.cfg.QualityLevelRemove >= int(l) || q.cfg.QualityLevelMark >= int(l)
}

// Apply runs the cascade on one entry and reports whether it is to be kept.
// All active levels are evaluated and recorded before the keep/mark decision,
// so the statistics see every triggered level even for removed entries. The
// peak quorum is enforced on kept and removed entries alike.
func (q *qualityChecker) Apply(e *splib.Entry) bool {
	q.stats.Total++

	if e.Probability >= q.cfg.QualityImmuneProbThreshold {
		q.stats.ImmuneProb++
		return true
	}
	if q.cfg.QualityImmuneMultipleEngines && searchEngineCount(e) > 1 {
		q.stats.ImmuneEngine++
		return true
	}

	e.Status = splib.StatusNormal
	nreps := e.NrepsUsed

	// All singletons are inquorate: the replicate quorum is at least 2.
	repQuorum := q.cfg.MinimumNumReplicates
	if repQuorum < 2 {
		repQuorum = 2
	}
	inquorate := nreps < repQuorum

	var triggered LevelSet
	if q.levelActive(LevelInquorate) && inquorate {
		triggered = triggered.Add(LevelInquorate)
	}
	if inquorate && q.levelActive(LevelSingleton) && nreps == 1 {
		triggered = triggered.Add(LevelSingleton)
	}
	if inquorate && q.levelActive(LevelUnconfirmed) &&
		!q.refPep.HasSharedSequence(e.Peptide, e.FragType) {
		triggered = triggered.Add(LevelUnconfirmed)
	}
	if q.levelActive(LevelConflictingID) && q.isBadConflictingID(e) {
		triggered = triggered.Add(LevelConflictingID)
	}
	if q.levelActive(LevelImpure) && q.isImpure(e) {
		triggered = triggered.Add(LevelImpure)
	}

	q.stats.Record(triggered)

	keep := true
	for _, l := range triggered.Levels() {
		if q.cfg.QualityLevelRemove >= int(l) {
			q.log.Info("quality filter remove",
				"entry", e.Name(),
				"level", l.String(),
				"triggered", triggered.String(),
				"nreps", nreps,
				"prob", e.Probability,
			)
			keep = false
			break
		}
	}
	if keep {
		// Status reflects the most severe marked level.
		for l := LevelInquorate; l >= LevelImpure; l-- {
			if triggered.Has(l) && q.cfg.QualityLevelMark >= int(l) {
				e.Status = l.status()
			}
		}
		if e.Status != splib.StatusNormal {
			q.log.Info("quality filter mark",
				"entry", e.Name(),
				"status", string(e.Status),
				"triggered", triggered.String(),
			)
		}
	}

	e.Peaks.RemoveInquoratePeaks(peakQuorumMin(nreps, q.cfg.PeakQuorum))
	return keep
}

// searchEngineCount parses the leading engine count of the "Se" comment,
// e.g. "2^X2:ex=..." means two search engines agreed on the identification.
func searchEngineCount(e *splib.Entry) int {
	se, ok := e.Comments.Get("Se")
	if !ok {
		return 1
	}
	end := strings.IndexAny(se, "^/")
	if end < 0 {
		end = len(se)
	}
	n, err := strconv.Atoi(se[:end])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// isBadConflictingID searches the reference library for a spectrally similar
// entry at a different, non-homologous identity within the precursor
// tolerance. The entry with fewer replicates loses; a replicate tie is
// broken by probability, and a full tie keeps both.
func (q *qualityChecker) isBadConflictingID(e *splib.Entry) bool {
	matches, err := q.refMz.Retrieve(e.PrecursorMZ-conflictingMzTolerance, e.PrecursorMZ+conflictingMzTolerance)
	if err != nil {
		q.log.Warn("conflicting-ID search failed", "entry", e.Name(), "error", err)
		return false
	}

	minDot := conflictingDot
	if q.cfg.QualityPenalizeSingletons && e.NrepsUsed == 1 {
		minDot = conflictingDotSingleton
	}

	for _, m := range matches {
		if m.Offset == e.Offset {
			continue
		}
		dot := e.Peaks.Dot(m.Peaks)
		if dot < minDot {
			continue
		}
		// A similar spectrum from a homologous sequence is spared;
		// searches against this library then need homolog detection.
		if ok, identity := e.Peptide.Homolog(m.Peptide, homologSparedIdentity); ok {
			q.log.Debug("conflicting-ID spared homolog",
				"entry", e.Name(),
				"match", m.Name(),
				"dot", dot,
				"identity", identity,
			)
			continue
		}
		if m.NrepsUsed > e.NrepsUsed ||
			(m.NrepsUsed == e.NrepsUsed && m.Probability > e.Probability) {
			q.log.Debug("conflicting-ID detected",
				"entry", e.Name(),
				"match", m.Name(),
				"dot", dot,
				"match_nreps", m.NrepsUsed,
				"match_prob", m.Probability,
			)
			return true
		}
	}
	return false
}

// isImpure flags spectra whose strongest peaks are largely unexplained by
// the peptide's predicted fragments. Charge +1 spectra are immune: they
// often appear impure anyway.
func (q *qualityChecker) isImpure(e *splib.Entry) bool {
	if e.Peptide.Charge == 1 {
		return false
	}
	e.Peaks.Annotate(e.Peptide, q.modDB)
	frac, unassigned, assigned := e.Peaks.FractionUnassigned(impureTopN)

	penalized := q.cfg.QualityPenalizeSingletons && e.NrepsUsed == 1
	if !penalized {
		return frac >= impureFracThreshold
	}
	// Penalized singletons additionally fail on a high absolute count of
	// unassigned peaks among the top 20.
	return frac >= impureFracThreshold || unassigned >= assigned-2
}
