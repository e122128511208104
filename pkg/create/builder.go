package create

import (
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/filter"
	"github.com/byronyi/SpectraST/pkg/logger"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// homologIdentityThreshold is the sequence-identity floor for
// SUBTRACT_HOMOLOGS. Distinct from the 0.6 used to spare homologs in the
// conflicting-ID filter.
const homologIdentityThreshold = 0.7

// homologMzTolerance is the precursor window searched for homologs.
const homologMzTolerance = 4.5

// input is one opened source library with the indices the run needs. A nil
// slot in Builder.inputs marks a library that failed to open and was skipped.
type input struct {
	path string
	lib  *splib.Library
	pep  *splib.PeptideIndex
	mz   *splib.MzIndex
}

// ionKey identifies one peptide ion for the deferred-singleton second pass.
type ionKey struct {
	seq    string
	subkey string
}

// Builder runs one build/merge: it opens the input libraries and their
// indices, iterates peptide-ion keys under the combine-action policy,
// reduces each key's entries under the build action and writes survivors to
// the output library. Single-threaded; entries are streamed, never
// batch-loaded.
type Builder struct {
	cfg        Config
	log        *logger.Logger
	inputPaths []string
	inputs     []*input
	out        *splib.Writer
	outPath    string
	filter     filter.Config
	modDB      *core.ModDatabase
	denoiser   *Denoiser
	rng        *rand.Rand

	// ppMappings is nil unless a refresh database is configured; a key
	// with a nil value means "no protein found for this sequence".
	ppMappings map[string][]proteinHit

	pendingSingletons []ionKey
	preamble          []string
	count             int
	skipped           int

	// qfStats holds the statistics of the last quality-filter run.
	qfStats *QFStats
}

// NewBuilder validates the configuration against the inputs and prepares a
// builder. No file is opened yet.
func NewBuilder(cfg Config, inputPaths []string, log *logger.Logger) (*Builder, error) {
	if log == nil {
		log = logger.Noop()
	}
	if err := cfg.Validate(len(inputPaths)); err != nil {
		return nil, err
	}
	b := &Builder{
		cfg:        cfg,
		log:        log.WithAction(actionName(cfg)),
		inputPaths: inputPaths,
		outPath:    cfg.OutputName(inputPaths),
		modDB:      core.DefaultModDatabase(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		filter: filter.Config{
			MinProbability: cfg.MinimumProbability,
			MinNTT:         cfg.MinimumTrypticTermini,
			MaxNMC:         cfg.MaximumMissedCleavage,
		},
	}
	if cfg.UseDenoiser {
		b.denoiser = NewDenoiser()
	}
	return b, nil
}

func actionName(cfg Config) string {
	if cfg.BuildAction != "" {
		return cfg.BuildAction
	}
	return cfg.CombineAction
}

// OutputPath returns the output library path the run will produce.
func (b *Builder) OutputPath() string { return b.outPath }

// Count returns the number of peptide ions processed.
func (b *Builder) Count() int { return b.count }

// Skipped returns the number of records skipped over recoverable anomalies.
func (b *Builder) Skipped() int { return b.skipped }

// QualityStats returns the statistics of the last quality-filter run, or nil
// if none ran.
func (b *Builder) QualityStats() *QFStats { return b.qfStats }

// Build runs the configured actions and writes the output library with its
// indices. Closes all inputs before returning.
func (b *Builder) Build() error {
	defer b.closeInputs()

	switch {
	case b.cfg.BuildAction == QualityFilter:
		return b.doQualityFilter()
	case b.cfg.BuildAction == Decoy:
		return b.doGenerateDecoy()
	case b.cfg.BuildAction == SortByNreps:
		return b.doSortByNreps()
	case b.cfg.BuildAction == UserSpecifiedMods:
		return b.doUserSpecifiedMods()
	case b.cfg.BuildAction == SimilarityClustering:
		return b.doSimilarityClustering()
	case b.cfg.CombineAction == SubtractHomologs:
		return b.doSubtractHomologs()
	default:
		return b.doCombine()
	}
}

// openSplibs opens every input library and the requested indices. The first
// input failing to open is fatal; later failures leave a nil slot and the
// run continues without that library. With checkUnique set, a non-unique
// peptide index aborts the run.
func (b *Builder) openSplibs(needPep, needMz, checkUnique bool) error {
	wantRefresh := b.cfg.RefreshDatabase != ""
	if wantRefresh {
		needPep = true
		b.ppMappings = make(map[string][]proteinHit)
	}

	for i, path := range b.inputPaths {
		lib, err := splib.Open(path)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("%w: %v", ErrFirstInputUnreadable, err)
			}
			b.log.Error("cannot open library, file skipped", "library", path, "error", err)
			b.inputs = append(b.inputs, nil)
			continue
		}
		in := &input{path: path, lib: lib}

		if needPep || checkUnique {
			pep, err := splib.OpenPeptideIndex(lib, b.log)
			if err != nil {
				lib.Close()
				if i == 0 {
					return fmt.Errorf("%w: %v", ErrFirstInputUnreadable, err)
				}
				b.log.Error("cannot index library, file skipped", "library", path, "error", err)
				b.inputs = append(b.inputs, nil)
				continue
			}
			if checkUnique && !pep.Unique() {
				lib.Close()
				return fmt.Errorf("%w: %s", ErrNonUniqueLibrary, path)
			}
			in.pep = pep
			if wantRefresh {
				for _, seq := range pep.AllSequences() {
					b.ppMappings[seq] = nil
				}
			}
		}
		if needMz {
			mz, err := splib.OpenMzIndex(lib, b.log)
			if err != nil {
				lib.Close()
				if i == 0 {
					return fmt.Errorf("%w: %v", ErrFirstInputUnreadable, err)
				}
				b.log.Error("cannot index library, file skipped", "library", path, "error", err)
				b.inputs = append(b.inputs, nil)
				continue
			}
			in.mz = mz
		}

		b.carryPreamble(in.lib)
		b.inputs = append(b.inputs, in)
	}
	return nil
}

// carryPreamble appends an input's lineage lines to the output preamble, so
// the product records every build that led to it.
func (b *Builder) carryPreamble(lib *splib.Library) {
	first := true
	for _, line := range lib.Preamble {
		if first {
			b.preamble = append(b.preamble, "> "+lib.SourceFile+" : "+line)
			first = false
		} else {
			b.preamble = append(b.preamble, "> "+line)
		}
	}
}

func (b *Builder) closeInputs() {
	for _, in := range b.inputs {
		if in != nil {
			in.lib.Close()
		}
	}
}

// openWriter creates the output library, prefixing the preamble with a
// description of this run.
func (b *Builder) openWriter() error {
	desc := fmt.Sprintf("%s %s of %s", b.cfg.CombineAction, orNone(b.cfg.BuildAction), b.fileListStr())
	b.preamble = append([]string{desc}, b.preamble...)
	b.log.Info("creating library", "output", b.outPath, "description", desc)

	w, err := splib.NewWriter(b.outPath, b.preamble, b.log)
	if err != nil {
		return err
	}
	if b.cfg.WriteTextLibrary {
		if err := w.EnableText(); err != nil {
			return err
		}
	}
	b.out = w
	return nil
}

func orNone(buildAction string) string {
	if buildAction == "" {
		return "(no build action)"
	}
	return buildAction
}

func (b *Builder) fileListStr() string {
	var sb strings.Builder
	for i, p := range b.inputPaths {
		if i > 0 {
			sb.WriteString(" " + b.cfg.CombineAction + " ")
		}
		fmt.Fprintf(&sb, "%q", filepath.Base(p))
	}
	return sb.String()
}

// doCombine runs UNION/APPEND/INTERSECT/SUBTRACT with the optional
// BEST_REPLICATE/CONSENSUS reduction.
//
// The iteration is multi-pass for UNION and APPEND: open the first file and,
// for each peptide ion, pull the entries from every file holding it; then
// scan the second file for ions not already emitted, and so on. INTERSECT
// and SUBTRACT pivot entirely on the first file, so one pass suffices.
func (b *Builder) doCombine() error {
	if err := b.openSplibs(true, false, false); err != nil {
		return err
	}
	if b.inputs[0] == nil || b.inputs[0].pep == nil {
		return fmt.Errorf("%w: %s", ErrFirstInputUnreadable, b.inputPaths[0])
	}
	if err := b.openWriter(); err != nil {
		return err
	}
	if err := b.refreshProteinMappings(); err != nil {
		return err
	}

	multiPass := b.cfg.CombineAction == Union || b.cfg.CombineAction == Append

	for cur, in := range b.inputs {
		if in == nil || in.pep == nil {
			continue
		}
		in.pep.Reset()
		for in.pep.Next() {
			seq, subkeys := in.pep.Peptide()
			for _, subkey := range subkeys {
				if !b.includeKey(cur, seq, subkey) {
					continue
				}
				entries := b.gatherEntries(seq, subkey)
				if len(entries) == 0 {
					b.skipped++
					continue
				}
				b.count++
				b.reduceAndInsert(entries)
			}
		}
		if !multiPass {
			break
		}
	}

	if b.denoiser != nil && len(b.pendingSingletons) > 0 {
		b.denoiser.Train()
		b.reloadPendingSingletons()
	}
	return b.out.Close()
}

// includeKey applies the combine-action policy to one peptide-ion key found
// while scanning input cur.
func (b *Builder) includeKey(cur int, seq, subkey string) bool {
	switch b.cfg.CombineAction {
	case Union, Append:
		// Self-referential skip: the key may already be in the
		// partially-written output from an earlier file's pass.
		return cur == 0 || !b.out.IsInIndex(seq, subkey)
	case Intersect:
		for _, other := range b.inputs[1:] {
			if other != nil && other.pep != nil && !other.pep.IsInIndex(seq, subkey) {
				return false
			}
		}
		return true
	case Subtract:
		for _, other := range b.inputs[1:] {
			if other != nil && other.pep != nil && other.pep.IsInIndex(seq, subkey) {
				return false
			}
		}
		return true
	}
	return true
}

// gatherEntries retrieves the ordered entry list for one key under the
// combine action: all files for UNION/INTERSECT, the first file holding the
// key for APPEND, only the first file for SUBTRACT.
func (b *Builder) gatherEntries(seq, subkey string) []*splib.Entry {
	var entries []*splib.Entry
	for _, in := range b.inputs {
		if in == nil || in.pep == nil {
			continue
		}
		es, err := in.pep.Retrieve(seq, subkey)
		if err != nil {
			b.log.Warn("retrieve failed, record skipped",
				"library", in.path, "peptide", seq, "subkey", subkey, "error", err)
			b.skipped++
			continue
		}
		entries = append(entries, es...)
		if b.cfg.CombineAction == Append && len(entries) > 0 {
			break
		}
		if b.cfg.CombineAction == Subtract {
			break
		}
	}
	return entries
}

// reduceAndInsert dispatches one key's candidate entries on the build
// action and writes the survivor(s).
func (b *Builder) reduceAndInsert(entries []*splib.Entry) {
	switch b.cfg.BuildAction {
	case BestReplicate:
		reps := NewReplicates(entries, b.cfg, nil, b.log)
		if best := reps.BestReplicate(); best != nil && b.passAllFilters(best) {
			b.processEntry(best)
			b.insert(best)
		}

	case Consensus:
		reps := NewReplicates(entries, b.cfg, b.denoiser, b.log)
		cons := reps.ConsensusSpectrum()
		if cons == nil || !b.passAllFilters(cons) {
			return
		}
		if b.denoiser != nil && !b.denoiser.Ready() && cons.NrepsUsed == 1 {
			// Defer: remember the ion, re-reduce after the
			// denoiser trains at the end of the pass.
			b.pendingSingletons = append(b.pendingSingletons, ionKey{
				seq:    cons.Peptide.Sequence,
				subkey: splib.EntrySubkey(cons),
			})
			return
		}
		b.processEntry(cons)
		b.insert(cons)

	default:
		// Passthrough. Identical entries from different inputs collapse to
		// one, so merging a library with itself is idempotent; genuinely
		// distinct replicates of the same ion all survive.
		var written []*splib.Entry
		for _, e := range entries {
			if duplicateEntry(e, written) {
				continue
			}
			if b.passAllFilters(e) {
				b.processEntry(e)
				b.insert(e)
				written = append(written, e)
			}
		}
	}
}

func duplicateEntry(e *splib.Entry, written []*splib.Entry) bool {
	for _, w := range written {
		if e.Peptide.Equal(w.Peptide) &&
			e.FragType == w.FragType &&
			e.PrecursorMZ == w.PrecursorMZ &&
			e.NrepsUsed == w.NrepsUsed &&
			e.Probability == w.Probability &&
			len(e.Peaks.Peaks) == len(w.Peaks.Peaks) &&
			e.Peaks.TotalIonCurrent() == w.Peaks.TotalIonCurrent() {
			return true
		}
	}
	return false
}

// reloadPendingSingletons re-retrieves every deferred singleton peptide ion
// and runs it through the dispatcher again, now with a trained denoiser.
func (b *Builder) reloadPendingSingletons() {
	b.log.Info("denoising deferred singleton spectra", "count", len(b.pendingSingletons))
	for _, key := range b.pendingSingletons {
		entries := b.gatherEntries(key.seq, key.subkey)
		if len(entries) == 0 {
			b.skipped++
			continue
		}
		b.reduceAndInsert(entries)
	}
}

// doSubtractHomologs iterates the first library in precursor-mass order and
// drops every entry with an identical or homologous counterpart in any
// other library within the precursor tolerance. No build action applies;
// survivors are filtered and inserted directly.
func (b *Builder) doSubtractHomologs() error {
	if err := b.openSplibs(false, true, false); err != nil {
		return err
	}
	if b.inputs[0] == nil || b.inputs[0].mz == nil {
		return fmt.Errorf("%w: %s", ErrFirstInputUnreadable, b.inputPaths[0])
	}
	if err := b.openWriter(); err != nil {
		return err
	}
	if err := b.refreshProteinMappings(); err != nil {
		return err
	}

	mzIndex := b.inputs[0].mz
	mzIndex.Reset()
	for mzIndex.Next() {
		entry, err := mzIndex.Entry()
		if err != nil {
			b.log.Warn("unreadable entry skipped", "error", err)
			b.skipped++
			continue
		}
		if b.hasHomologElsewhere(entry) {
			continue
		}
		b.count++
		if b.passAllFilters(entry) {
			b.processEntry(entry)
			b.insert(entry)
		}
	}
	return b.out.Close()
}

func (b *Builder) hasHomologElsewhere(entry *splib.Entry) bool {
	mz := entry.PrecursorMZ
	for _, other := range b.inputs[1:] {
		if other == nil || other.mz == nil {
			continue
		}
		isobaric, err := other.mz.Retrieve(mz-homologMzTolerance, mz+homologMzTolerance)
		if err != nil {
			b.log.Warn("homolog search failed", "library", other.path, "error", err)
			continue
		}
		for _, match := range isobaric {
			identical := entry.Peptide.Equal(match.Peptide)
			homolog := false
			identity := 0
			if !identical && entry.Peptide.Charge == match.Peptide.Charge {
				homolog, identity = entry.Peptide.Homolog(match.Peptide, homologIdentityThreshold)
			}
			if identical || homolog {
				b.log.Info("homologous entry removed",
					"peptide", entry.Name(),
					"mz", mz,
					"match", match.Name(),
					"match_mz", match.PrecursorMZ,
					"identity", identity,
				)
				return true
			}
		}
	}
	return false
}

// doQualityFilter applies the five-level cascade to a single unique
// library, searching the library against itself for conflicting IDs.
func (b *Builder) doQualityFilter() error {
	if err := b.openSplibs(true, true, true); err != nil {
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

	// Conflicting-ID detection searches each entry against the same
	// library; a second handle keeps those seeks off the iteration
	// stream.
	var refMz *splib.MzIndex
	if b.cfg.QualityLevelMark >= int(LevelConflictingID) || b.cfg.QualityLevelRemove >= int(LevelConflictingID) {
		refLib, err := splib.Open(b.inputPaths[0])
		if err != nil {
			return fmt.Errorf("reopen for conflicting-ID search: %w", err)
		}
		defer refLib.Close()
		refMz, err = splib.OpenMzIndex(refLib, b.log)
		if err != nil {
			return err
		}
	}
	checker := newQualityChecker(b.cfg, in.pep, refMz, b.modDB, b.log)
	b.qfStats = checker.stats

	in.mz.Reset()
	for in.mz.Next() {
		entry, err := in.mz.Entry()
		if err != nil {
			b.log.Warn("unreadable entry skipped", "error", err)
			b.skipped++
			continue
		}
		b.count++
		if b.passAllFilters(entry) && checker.Apply(entry) {
			b.processEntry(entry)
			b.insert(entry)
		}
	}

	// A mark-everything, remove-nothing run yields complete statistics.
	if b.cfg.QualityLevelMark >= 5 && b.cfg.QualityLevelRemove == 0 {
		checker.stats.LogSummary(b.log)
	}
	return b.out.Close()
}

// doSortByNreps rewrites a single library in descending replicate count.
func (b *Builder) doSortByNreps() error {
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

	in.mz.SortByNreps()
	for in.mz.NextSorted() {
		entry, err := in.mz.SortedEntry()
		if err != nil {
			b.log.Warn("unreadable entry skipped", "error", err)
			b.skipped++
			continue
		}
		if b.passAllFilters(entry) {
			b.count++
			b.processEntry(entry)
			b.insert(entry)
		}
	}
	return b.out.Close()
}

// passAllFilters applies the user-supplied admission predicate plus the
// protein-mapping constraints when a refresh is active.
func (b *Builder) passAllFilters(e *splib.Entry) bool {
	ok, reason := b.filter.Check(e)
	if !ok {
		b.log.LogSkippedEntry(e.Name(), reason)
		return false
	}
	if b.ppMappings == nil || e.Peptide == nil {
		return true
	}
	hits, found := b.ppMappings[e.Peptide.Sequence]
	if !found {
		return false
	}
	if b.cfg.RefreshDeleteUnmapped && hits == nil {
		b.log.LogSkippedEntry(e.Name(), "no protein mapping")
		return false
	}
	if b.cfg.RefreshDeleteMultimapped && len(hits) > 1 {
		b.log.LogSkippedEntry(e.Name(), "multiple protein mappings")
		return false
	}
	return true
}

// processEntry finalizes an entry before insertion: fragmentation override,
// peak annotation, NAA bookkeeping and protein-mapping comments.
func (b *Builder) processEntry(e *splib.Entry) {
	if b.cfg.SetFragmentation != "" {
		e.FragType = b.cfg.SetFragmentation
	}
	if b.cfg.AnnotatePeaks {
		e.Peaks.Annotate(e.Peptide, b.modDB)
	}
	if _, ok := e.Comments.Get("NAA"); !ok && e.Peptide != nil {
		e.Comments.Set("NAA", fmt.Sprintf("%d", e.Peptide.NAA()))
	}
	b.applyProteinMapping(e)
}

func (b *Builder) insert(e *splib.Entry) {
	if _, err := b.out.Insert(e); err != nil {
		b.log.Error("insert failed", "entry", e.Name(), "error", err)
		b.skipped++
	}
}

// readCluster re-reads a cluster's entries from the backing library by
// their persistence-key offsets.
func (b *Builder) readCluster(lib *splib.Library, offsets []int64) []*splib.Entry {
	entries := make([]*splib.Entry, 0, len(offsets))
	for _, off := range offsets {
		e, err := lib.ReadEntryAt(off)
		if err != nil {
			if err != io.EOF {
				b.log.Warn("unreadable cluster member skipped", "offset", off, "error", err)
			}
			b.skipped++
			continue
		}
		entries = append(entries, e)
	}
	return entries
}
