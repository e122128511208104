package splib

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/byronyi/SpectraST/pkg/logger"
)

// Writer creates a .splib library and, on Close, its .pepidx and .spidx
// sidecar indices. Inserted entries are serialized immediately; the caller
// keeps ownership of the entries it passes in and may reuse or discard them.
type Writer struct {
	path     string
	f        *os.File
	w        *bufio.Writer
	offset   int64
	count    int
	nextID   uint32
	preamble []string

	pep map[string]map[string][]int64 // sequence -> subkey -> offsets
	mz  []mzRecord

	text *os.File
	tw   *bufio.Writer

	log *logger.Logger
}

type mzRecord struct {
	MZ     float64
	Offset int64
	Nreps  int
	Xrea   float64
}

// NewWriter creates the library file and writes its preamble. The preamble
// lines record the lineage of the file: the preambles of the inputs plus one
// line for the command producing this library.
func NewWriter(path string, preamble []string, log *logger.Logger) (*Writer, error) {
	if log == nil {
		log = logger.Noop()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create library %s: %w", path, err)
	}
	source := filepath.Base(path)
	w := &Writer{
		path:     path,
		f:        f,
		w:        bufio.NewWriter(f),
		offset:   preambleSize(source, preamble),
		preamble: preamble,
		pep:      make(map[string]map[string][]int64),
		log:      log.WithLibrary(path),
	}
	if err := writePreamble(w.w, source, preamble); err != nil {
		f.Close()
		return nil, fmt.Errorf("write preamble %s: %w", path, err)
	}
	return w, nil
}

// EnableText additionally writes a human-readable .sptxt companion alongside
// the binary library.
func (w *Writer) EnableText() error {
	path := SidecarPath(w.path, TextExt)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create text library %s: %w", path, err)
	}
	w.text = f
	w.tw = bufio.NewWriter(f)
	return writeTextPreamble(w.tw, filepath.Base(w.path), w.preamble)
}

// Path returns the output library path.
func (w *Writer) Path() string { return w.path }

// Count returns the number of entries written so far.
func (w *Writer) Count() int { return w.count }

// Insert serializes a copy of the entry at the current offset, assigning it
// the next sequential library ID, and records it in the in-progress indices.
// The entry's offset in the output is returned.
func (w *Writer) Insert(e *Entry) (int64, error) {
	at := w.offset
	cp := *e
	cp.LibID = w.nextID
	cp.Offset = at

	data := cp.encode()
	if _, err := w.w.Write(data); err != nil {
		w.log.LogInsert(cp.Name(), at, err)
		return 0, fmt.Errorf("write entry %s: %w", cp.Name(), err)
	}
	if w.tw != nil {
		if err := cp.writeText(w.tw); err != nil {
			return 0, fmt.Errorf("write text entry %s: %w", cp.Name(), err)
		}
	}

	seq := cp.Peptide.Sequence
	subkey := EntrySubkey(&cp)
	if w.pep[seq] == nil {
		w.pep[seq] = make(map[string][]int64)
	}
	w.pep[seq][subkey] = append(w.pep[seq][subkey], at)
	w.mz = append(w.mz, mzRecord{
		MZ:     cp.PrecursorMZ,
		Offset: at,
		Nreps:  cp.NrepsUsed,
		Xrea:   cp.Peaks.Xrea(),
	})

	w.offset += int64(len(data))
	w.count++
	w.nextID++
	w.log.LogInsert(cp.Name(), at, nil)
	return at, nil
}

// IsInIndex reports whether an entry with this sequence and subkey has
// already been written. Combines use this to skip re-inserting peptide ions
// the output already holds.
func (w *Writer) IsInIndex(seq, subkey string) bool {
	subs, ok := w.pep[seq]
	if !ok {
		return false
	}
	_, ok = subs[subkey]
	return ok
}

// Close flushes the library and writes the sidecar indices. The sidecars are
// written after the library file is finalized so their modification times
// are never older than the library's.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush library %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close library %s: %w", w.path, err)
	}
	if w.tw != nil {
		if err := w.tw.Flush(); err != nil {
			return fmt.Errorf("flush text library: %w", err)
		}
		if err := w.text.Close(); err != nil {
			return fmt.Errorf("close text library: %w", err)
		}
	}
	if err := w.writePepIdx(); err != nil {
		return err
	}
	return w.writeMzIdx()
}

func (w *Writer) writePepIdx() error {
	path := SidecarPath(w.path, PepIdxExt)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create peptide index %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	fmt.Fprintf(bw, "%s %s\n", pepIdxMagic, filepath.Base(w.path))

	seqs := make([]string, 0, len(w.pep))
	for seq := range w.pep {
		seqs = append(seqs, seq)
	}
	sort.Strings(seqs)
	for _, seq := range seqs {
		subs := w.pep[seq]
		subkeys := make([]string, 0, len(subs))
		for sk := range subs {
			subkeys = append(subkeys, sk)
		}
		sort.Strings(subkeys)
		for _, sk := range subkeys {
			fmt.Fprintf(bw, "%s\t%s\t", seq, sk)
			for i, off := range subs[sk] {
				if i > 0 {
					fmt.Fprint(bw, ",")
				}
				fmt.Fprintf(bw, "%d", off)
			}
			fmt.Fprintln(bw)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write peptide index %s: %w", path, err)
	}
	return nil
}

func (w *Writer) writeMzIdx() error {
	path := SidecarPath(w.path, MzIdxExt)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create precursor index %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	fmt.Fprintf(bw, "%s %s\n", mzIdxMagic, filepath.Base(w.path))

	recs := make([]mzRecord, len(w.mz))
	copy(recs, w.mz)
	sort.Slice(recs, func(i, j int) bool { return recs[i].MZ < recs[j].MZ })
	for _, r := range recs {
		fmt.Fprintf(bw, "%.4f\t%d\t%d\t%.4f\n", mzKey(r.MZ), r.Offset, r.Nreps, r.Xrea)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write precursor index %s: %w", path, err)
	}
	return nil
}

// index file header magics
const (
	pepIdxMagic = "#pepidx1"
	mzIdxMagic  = "#spidx1"
)
