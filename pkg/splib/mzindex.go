package splib

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/byronyi/SpectraST/pkg/logger"
)

// MzIndex maps precursor m/z to entry file offsets, ordered by m/z. It is
// loaded from the .spidx sidecar, which also carries each entry's replicate
// count and signal score so the library can be traversed in quality order
// without re-reading every entry.
type MzIndex struct {
	lib  *Library
	recs []mzRecord
	pos  int

	// sorted holds a secondary traversal order (indices into recs) set up
	// by SortByNreps or SortBySignal.
	sorted    []int
	sortedPos int
}

// OpenMzIndex loads the precursor-mass index for an open library, rebuilding
// the sidecar if it is missing or older than the library file.
func OpenMzIndex(lib *Library, log *logger.Logger) (*MzIndex, error) {
	if log == nil {
		log = logger.Noop()
	}
	ix := &MzIndex{lib: lib, pos: -1, sortedPos: -1}
	idxPath := SidecarPath(lib.Path(), MzIdxExt)

	if sidecarFresh(lib.Path(), idxPath) {
		if err := ix.load(idxPath); err == nil {
			return ix, nil
		}
	}
	if err := ix.rebuild(idxPath); err != nil {
		log.LogIndexRebuild(idxPath, 0, err)
		return nil, err
	}
	log.LogIndexRebuild(idxPath, len(ix.recs), nil)
	return ix, nil
}

func (ix *MzIndex) load(idxPath string) error {
	f, err := os.Open(idxPath)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() || !strings.HasPrefix(sc.Text(), mzIdxMagic) {
		return fmt.Errorf("precursor index %s: bad header", idxPath)
	}

	var recs []mzRecord
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != 4 {
			return fmt.Errorf("precursor index %s: malformed line %q", idxPath, sc.Text())
		}
		mz, err1 := strconv.ParseFloat(fields[0], 64)
		off, err2 := strconv.ParseInt(fields[1], 10, 64)
		nreps, err3 := strconv.Atoi(fields[2])
		xrea, err4 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return fmt.Errorf("precursor index %s: malformed line %q", idxPath, sc.Text())
		}
		recs = append(recs, mzRecord{MZ: mz, Offset: off, Nreps: nreps, Xrea: xrea})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("precursor index %s: %w", idxPath, err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].MZ < recs[j].MZ })
	ix.recs = recs
	return nil
}

func (ix *MzIndex) rebuild(idxPath string) error {
	if err := ix.lib.Rewind(); err != nil {
		return err
	}
	var recs []mzRecord
	for {
		e, err := ix.lib.NextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("rebuild precursor index: %w", err)
		}
		recs = append(recs, mzRecord{
			MZ:     e.PrecursorMZ,
			Offset: e.Offset,
			Nreps:  e.NrepsUsed,
			Xrea:   e.Peaks.Xrea(),
		})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].MZ < recs[j].MZ })
	ix.recs = recs
	return ix.write(idxPath)
}

func (ix *MzIndex) write(idxPath string) error {
	f, err := os.Create(idxPath)
	if err != nil {
		return fmt.Errorf("create precursor index %s: %w", idxPath, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	fmt.Fprintf(bw, "%s %s\n", mzIdxMagic, filepath.Base(ix.lib.Path()))
	for _, r := range ix.recs {
		fmt.Fprintf(bw, "%.4f\t%d\t%d\t%.4f\n", mzKey(r.MZ), r.Offset, r.Nreps, r.Xrea)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write precursor index %s: %w", idxPath, err)
	}
	return nil
}

// EntryCount returns the number of indexed entries.
func (ix *MzIndex) EntryCount() int { return len(ix.recs) }

// RetrieveOffsets returns the offsets of entries with precursor m/z in
// [lo, hi], in ascending m/z order.
func (ix *MzIndex) RetrieveOffsets(lo, hi float64) []int64 {
	first := sort.Search(len(ix.recs), func(i int) bool { return ix.recs[i].MZ >= lo })
	var offsets []int64
	for i := first; i < len(ix.recs) && ix.recs[i].MZ <= hi; i++ {
		offsets = append(offsets, ix.recs[i].Offset)
	}
	return offsets
}

// Retrieve reads all entries with precursor m/z in [lo, hi].
func (ix *MzIndex) Retrieve(lo, hi float64) ([]*Entry, error) {
	offsets := ix.RetrieveOffsets(lo, hi)
	entries := make([]*Entry, 0, len(offsets))
	for _, off := range offsets {
		e, err := ix.lib.ReadEntryAt(off)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Next advances the m/z-ordered iterator; Entry reads the current record.
func (ix *MzIndex) Next() bool {
	ix.pos++
	return ix.pos < len(ix.recs)
}

// Entry reads the entry at the iterator's current position.
func (ix *MzIndex) Entry() (*Entry, error) {
	return ix.lib.ReadEntryAt(ix.recs[ix.pos].Offset)
}

// Offset returns the file offset at the iterator's current position.
func (ix *MzIndex) Offset() int64 { return ix.recs[ix.pos].Offset }

// Reset rewinds the m/z-ordered iterator.
func (ix *MzIndex) Reset() { ix.pos = -1 }

// SortByNreps prepares a secondary traversal in descending replicate count,
// ties broken by ascending m/z.
func (ix *MzIndex) SortByNreps() {
	ix.initSorted()
	sort.SliceStable(ix.sorted, func(a, b int) bool {
		ra, rb := ix.recs[ix.sorted[a]], ix.recs[ix.sorted[b]]
		if ra.Nreps != rb.Nreps {
			return ra.Nreps > rb.Nreps
		}
		return ra.MZ < rb.MZ
	})
	ix.sortedPos = -1
}

// SortBySignal prepares a secondary traversal in descending signal score,
// ties broken by ascending m/z.
func (ix *MzIndex) SortBySignal() {
	ix.initSorted()
	sort.SliceStable(ix.sorted, func(a, b int) bool {
		ra, rb := ix.recs[ix.sorted[a]], ix.recs[ix.sorted[b]]
		if ra.Xrea != rb.Xrea {
			return ra.Xrea > rb.Xrea
		}
		return ra.MZ < rb.MZ
	})
	ix.sortedPos = -1
}

func (ix *MzIndex) initSorted() {
	ix.sorted = make([]int, len(ix.recs))
	for i := range ix.sorted {
		ix.sorted[i] = i
	}
}

// NextSorted advances the secondary traversal set up by SortByNreps or
// SortBySignal.
func (ix *MzIndex) NextSorted() bool {
	ix.sortedPos++
	return ix.sortedPos < len(ix.sorted)
}

// SortedOffset returns the file offset at the secondary traversal's current
// position.
func (ix *MzIndex) SortedOffset() int64 {
	return ix.recs[ix.sorted[ix.sortedPos]].Offset
}

// SortedEntry reads the entry at the secondary traversal's current position.
func (ix *MzIndex) SortedEntry() (*Entry, error) {
	return ix.lib.ReadEntryAt(ix.recs[ix.sorted[ix.sortedPos]].Offset)
}

// Library returns the backing library.
func (ix *MzIndex) Library() *Library { return ix.lib }
