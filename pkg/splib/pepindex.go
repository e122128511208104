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

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/logger"
)

// PeptideIndex maps stripped sequence and subkey to the file offsets of the
// matching entries in a library. It is loaded from the .pepidx sidecar; a
// missing or stale sidecar (older than the library file) is rebuilt by a
// full scan and rewritten.
type PeptideIndex struct {
	lib     *Library
	entries map[string]map[string][]int64
	seqs    []string // sorted iteration order
	pos     int
}

// OpenPeptideIndex loads the peptide index for an open library, rebuilding
// the sidecar if it is missing or older than the library file.
func OpenPeptideIndex(lib *Library, log *logger.Logger) (*PeptideIndex, error) {
	if log == nil {
		log = logger.Noop()
	}
	ix := &PeptideIndex{lib: lib, pos: -1}
	idxPath := SidecarPath(lib.Path(), PepIdxExt)

	if sidecarFresh(lib.Path(), idxPath) {
		if err := ix.load(idxPath); err == nil {
			return ix, nil
		}
		// Unparseable sidecar is treated like a stale one.
	}
	if err := ix.rebuild(idxPath); err != nil {
		log.LogIndexRebuild(idxPath, 0, err)
		return nil, err
	}
	log.LogIndexRebuild(idxPath, ix.EntryCount(), nil)
	return ix, nil
}

// sidecarFresh reports whether the sidecar exists and is at least as new as
// the library file.
func sidecarFresh(libPath, idxPath string) bool {
	libInfo, err := os.Stat(libPath)
	if err != nil {
		return false
	}
	idxInfo, err := os.Stat(idxPath)
	if err != nil {
		return false
	}
	return !idxInfo.ModTime().Before(libInfo.ModTime())
}

func (ix *PeptideIndex) load(idxPath string) error {
	f, err := os.Open(idxPath)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() || !strings.HasPrefix(sc.Text(), pepIdxMagic) {
		return fmt.Errorf("peptide index %s: bad header", idxPath)
	}

	entries := make(map[string]map[string][]int64)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != 3 {
			return fmt.Errorf("peptide index %s: malformed line %q", idxPath, sc.Text())
		}
		seq, subkey := fields[0], fields[1]
		var offsets []int64
		for _, tok := range strings.Split(fields[2], ",") {
			off, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return fmt.Errorf("peptide index %s: bad offset %q: %w", idxPath, tok, err)
			}
			offsets = append(offsets, off)
		}
		if entries[seq] == nil {
			entries[seq] = make(map[string][]int64)
		}
		entries[seq][subkey] = append(entries[seq][subkey], offsets...)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("peptide index %s: %w", idxPath, err)
	}
	ix.entries = entries
	ix.sortSeqs()
	return nil
}

// rebuild scans the library sequentially and rewrites the sidecar.
func (ix *PeptideIndex) rebuild(idxPath string) error {
	if err := ix.lib.Rewind(); err != nil {
		return err
	}
	entries := make(map[string]map[string][]int64)
	for {
		e, err := ix.lib.NextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("rebuild peptide index: %w", err)
		}
		seq := e.Peptide.Sequence
		if entries[seq] == nil {
			entries[seq] = make(map[string][]int64)
		}
		subkey := EntrySubkey(e)
		entries[seq][subkey] = append(entries[seq][subkey], e.Offset)
	}
	ix.entries = entries
	ix.sortSeqs()
	return ix.write(idxPath)
}

func (ix *PeptideIndex) write(idxPath string) error {
	f, err := os.Create(idxPath)
	if err != nil {
		return fmt.Errorf("create peptide index %s: %w", idxPath, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	fmt.Fprintf(bw, "%s %s\n", pepIdxMagic, filepath.Base(ix.lib.Path()))
	for _, seq := range ix.seqs {
		for _, sk := range ix.Subkeys(seq) {
			fmt.Fprintf(bw, "%s\t%s\t", seq, sk)
			for i, off := range ix.entries[seq][sk] {
				if i > 0 {
					fmt.Fprint(bw, ",")
				}
				fmt.Fprintf(bw, "%d", off)
			}
			fmt.Fprintln(bw)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write peptide index %s: %w", idxPath, err)
	}
	return nil
}

func (ix *PeptideIndex) sortSeqs() {
	ix.seqs = make([]string, 0, len(ix.entries))
	for seq := range ix.entries {
		ix.seqs = append(ix.seqs, seq)
	}
	sort.Strings(ix.seqs)
}

// IsInIndex reports whether the index holds any entry for the sequence and
// subkey. An empty subkey matches any subkey of the sequence.
func (ix *PeptideIndex) IsInIndex(seq, subkey string) bool {
	subs, ok := ix.entries[seq]
	if !ok {
		return false
	}
	if subkey == "" {
		return true
	}
	_, ok = subs[subkey]
	return ok
}

// Subkeys returns the sorted subkeys recorded for a sequence.
func (ix *PeptideIndex) Subkeys(seq string) []string {
	subs := ix.entries[seq]
	keys := make([]string, 0, len(subs))
	for sk := range subs {
		keys = append(keys, sk)
	}
	sort.Strings(keys)
	return keys
}

// Offsets returns the file offsets recorded for a sequence and subkey.
func (ix *PeptideIndex) Offsets(seq, subkey string) []int64 {
	return ix.entries[seq][subkey]
}

// Retrieve reads all entries for a sequence and subkey from the library.
func (ix *PeptideIndex) Retrieve(seq, subkey string) ([]*Entry, error) {
	offsets := ix.entries[seq][subkey]
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

// Next advances the sequence iterator. Use Peptide to read the current
// sequence and its subkeys.
func (ix *PeptideIndex) Next() bool {
	ix.pos++
	return ix.pos < len(ix.seqs)
}

// Peptide returns the current sequence and its sorted subkeys.
func (ix *PeptideIndex) Peptide() (string, []string) {
	seq := ix.seqs[ix.pos]
	return seq, ix.Subkeys(seq)
}

// Reset rewinds the sequence iterator.
func (ix *PeptideIndex) Reset() { ix.pos = -1 }

// SequenceCount returns the number of distinct stripped sequences.
func (ix *PeptideIndex) SequenceCount() int { return len(ix.seqs) }

// AllSequences returns the sorted stripped sequences in the index.
func (ix *PeptideIndex) AllSequences() []string { return ix.seqs }

// EntryCount returns the total number of entry offsets in the index.
func (ix *PeptideIndex) EntryCount() int {
	n := 0
	for _, subs := range ix.entries {
		for _, offsets := range subs {
			n += len(offsets)
		}
	}
	return n
}

// Unique reports whether every (sequence, subkey) pair maps to exactly one
// entry, i.e. the library holds no unreduced replicates.
func (ix *PeptideIndex) Unique() bool {
	for _, subs := range ix.entries {
		for _, offsets := range subs {
			if len(offsets) > 1 {
				return false
			}
		}
	}
	return true
}

// HasSharedSequence reports whether some other peptide ion in the library
// shares the peptide's stripped sequence: an entry with the same sequence but
// a different charge or modification pattern, under the same fragmentation
// type.
func (ix *PeptideIndex) HasSharedSequence(pep *core.Peptide, fragType string) bool {
	subs, ok := ix.entries[pep.Sequence]
	if !ok {
		return false
	}
	own := Subkey(pep, fragType)
	for sk := range subs {
		if sk == own {
			continue
		}
		_, _, frag, err := ParseSubkey(sk)
		if err == nil && frag == fragType {
			return true
		}
	}
	return false
}

// Library returns the backing library.
func (ix *PeptideIndex) Library() *Library { return ix.lib }
