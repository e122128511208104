// Package splib implements the binary spectral library file format (.splib)
// together with its two sidecar indices: the peptide index (.pepidx), keyed
// by stripped sequence and subkey, and the precursor-mass index (.spidx).
package splib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
)

// Status labels the curation state of a library entry.
type Status string

const (
	StatusNormal               Status = "Normal"
	StatusInquorate            Status = "Inquorate"
	StatusSingleton            Status = "Singleton"
	StatusInquorateUnconfirmed Status = "Inquorate_Unconfirmed"
	StatusConflictingID        Status = "Conflicting_ID"
	StatusImpure               Status = "Impure"
	StatusDecoy                Status = "Decoy"
)

// Entry is one library record: a peptide ion with its reference spectrum and
// curation metadata. Entries are ephemeral: read or constructed, transformed,
// written, then dropped. Insertion into a Writer serializes a copy; the
// caller keeps ownership of the value it passed.
type Entry struct {
	LibID       uint32
	Peptide     *core.Peptide
	PrecursorMZ float64
	Status      Status
	NrepsUsed   int
	Probability float64
	FragType    string
	Comments    *Comments
	Peaks       *core.PeakList

	// Offset is the byte position of this entry in its backing .splib
	// file, usable for seek-based re-reads. Zero until written or read.
	Offset int64
}

// NewEntry creates an entry with empty comments and peaks.
func NewEntry(pep *core.Peptide, precursorMZ float64) *Entry {
	return &Entry{
		Peptide:     pep,
		PrecursorMZ: precursorMZ,
		Status:      StatusNormal,
		NrepsUsed:   1,
		Comments:    NewComments(),
		Peaks:       &core.PeakList{},
	}
}

// Name returns the peptide ion name, e.g. "PEPTIDEK/2".
func (e *Entry) Name() string {
	if e.Peptide == nil {
		return "?/0"
	}
	return e.Peptide.Name()
}

// Clone returns a deep copy with a zero offset.
func (e *Entry) Clone() *Entry {
	cp := &Entry{
		LibID:       e.LibID,
		PrecursorMZ: e.PrecursorMZ,
		Status:      e.Status,
		NrepsUsed:   e.NrepsUsed,
		Probability: e.Probability,
		FragType:    e.FragType,
		Comments:    e.Comments.Clone(),
		Peaks:       e.Peaks.Clone(),
	}
	if e.Peptide != nil {
		cp.Peptide = e.Peptide.Clone()
	}
	return cp
}

// MakeDecoy turns a copy of this entry into a decoy for the shuffled
// peptide, recording the fold index. The peak list is retained; fragment
// annotations are cleared since they no longer match the sequence.
func (e *Entry) MakeDecoy(decoy *core.Peptide, fold int) {
	e.Peptide = decoy
	e.Status = StatusDecoy
	e.Comments.Set("Remark", fmt.Sprintf("DECOY_%d", fold))
	for i := range e.Peaks.Peaks {
		e.Peaks.Peaks[i].Annotation = ""
	}
}

// MakeSemiempirical rewrites a copy of this entry as a semi-empirical
// spectrum for a perturbed peptide: the precursor m/z is recomputed and the
// peak annotations refreshed against the new sequence.
func (e *Entry) MakeSemiempirical(pep *core.Peptide, db *core.ModDatabase) {
	e.Peptide = pep
	e.PrecursorMZ = core.PrecursorMZ(pep, db)
	e.NrepsUsed = 1
	e.Comments.Set("Spec", "Semi-empirical")
	e.Peaks.Annotate(pep, db)
}

// Comments is an ordered key -> value map of free-form entry annotations.
type Comments struct {
	keys   []string
	values map[string]string
}

// NewComments creates an empty comment map.
func NewComments() *Comments {
	return &Comments{values: make(map[string]string)}
}

// Get returns the value for key and whether it is present.
func (c *Comments) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set adds or replaces a comment, preserving first-insertion order.
func (c *Comments) Set(key, value string) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Delete removes a comment if present.
func (c *Comments) Delete(key string) {
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of comments.
func (c *Comments) Len() int { return len(c.keys) }

// Keys returns the comment keys in insertion order.
func (c *Comments) Keys() []string { return c.keys }

// Clone returns a deep copy.
func (c *Comments) Clone() *Comments {
	cp := NewComments()
	for _, k := range c.keys {
		cp.Set(k, c.values[k])
	}
	return cp
}

// String renders the comments as space-separated "key=value" pairs.
func (c *Comments) String() string {
	var sb strings.Builder
	for i, k := range c.keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(c.values[k])
	}
	return sb.String()
}

// ---- binary entry codec ----

// encode serializes the entry into the binary record layout. Fields are
// little-endian; variable-length fields are '\n'-terminated lines.
func (e *Entry) encode() []byte {
	var buf bytes.Buffer
	putU32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	putF64 := func(v float64) { _ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(v)) }
	putLine := func(s string) {
		buf.WriteString(s)
		buf.WriteByte('\n')
	}

	putU32(e.LibID)
	putLine(e.Peptide.Sequence)
	putU32(uint32(e.Peptide.Charge))
	putLine(e.Peptide.ModTokenString())
	putLine(e.FragType)
	buf.WriteByte(e.Peptide.PrevAA)
	buf.WriteByte(e.Peptide.NextAA)
	putF64(e.PrecursorMZ)
	putLine(string(e.Status))
	putU32(uint32(e.NrepsUsed))
	putF64(e.Probability)

	putU32(uint32(e.Comments.Len()))
	for _, k := range e.Comments.Keys() {
		v, _ := e.Comments.Get(k)
		putLine(k + "=" + v)
	}

	putU32(uint32(len(e.Peaks.Peaks)))
	for _, p := range e.Peaks.Peaks {
		putF64(p.MZ)
		putF64(p.Intensity)
		putU32(uint32(p.Reps))
		putLine(p.Annotation)
	}
	return buf.Bytes()
}

// decodeEntry reads one binary entry record from r, returning the record and
// the byte count consumed. Returns io.EOF cleanly when the stream ends before
// the first field.
func decodeEntry(r *bufio.Reader) (*Entry, int64, error) {
	br := &binReader{r: r}

	libID := br.u32()
	if br.err == io.EOF && br.n == 0 {
		return nil, 0, io.EOF
	}
	sequence := br.line()
	charge := int(br.u32())
	modStr := br.line()
	fragType := br.line()
	prevAA := br.byte()
	nextAA := br.byte()
	precursorMZ := br.f64()
	status := br.line()
	nreps := int(br.u32())
	prob := br.f64()

	comments := NewComments()
	numComments := int(br.u32())
	for i := 0; i < numComments && br.err == nil; i++ {
		kv := br.line()
		if eq := strings.IndexByte(kv, '='); eq >= 0 {
			comments.Set(kv[:eq], kv[eq+1:])
		}
	}

	numPeaks := int(br.u32())
	var peaks []core.Peak
	for i := 0; i < numPeaks && br.err == nil; i++ {
		mz := br.f64()
		inten := br.f64()
		reps := int(br.u32())
		anno := br.line()
		peaks = append(peaks, core.Peak{MZ: mz, Intensity: inten, Reps: reps, Annotation: anno})
	}

	if br.err != nil {
		return nil, br.n, fmt.Errorf("truncated library entry: %w", br.err)
	}

	pep, err := core.NewPeptide(sequence, charge, modStr)
	if err != nil {
		return nil, br.n, fmt.Errorf("entry %d: %w", libID, err)
	}
	pep.PrevAA = prevAA
	pep.NextAA = nextAA

	return &Entry{
		LibID:       libID,
		Peptide:     pep,
		PrecursorMZ: precursorMZ,
		Status:      Status(status),
		NrepsUsed:   nreps,
		Probability: prob,
		FragType:    fragType,
		Comments:    comments,
		Peaks:       &core.PeakList{Peaks: peaks},
	}, br.n, nil
}

// binReader accumulates the first read error and the byte count consumed.
type binReader struct {
	r   *bufio.Reader
	n   int64
	err error
}

func (br *binReader) byte() byte {
	if br.err != nil {
		return 0
	}
	b, err := br.r.ReadByte()
	if err != nil {
		br.err = err
		return 0
	}
	br.n++
	return b
}

func (br *binReader) u32() uint32 {
	var raw [4]byte
	if br.err != nil {
		return 0
	}
	if _, err := io.ReadFull(br.r, raw[:]); err != nil {
		br.err = err
		return 0
	}
	br.n += 4
	return binary.LittleEndian.Uint32(raw[:])
}

func (br *binReader) f64() float64 {
	var raw [8]byte
	if br.err != nil {
		return 0
	}
	if _, err := io.ReadFull(br.r, raw[:]); err != nil {
		br.err = err
		return 0
	}
	br.n += 8
	return math.Float64frombits(binary.LittleEndian.Uint64(raw[:]))
}

func (br *binReader) line() string {
	if br.err != nil {
		return ""
	}
	s, err := br.r.ReadString('\n')
	br.n += int64(len(s))
	if err != nil {
		br.err = err
		return ""
	}
	return strings.TrimRight(s, "\n")
}

// writeText renders the entry in the text (.sptxt style) variant.
func (e *Entry) writeText(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", e.Name())
	fmt.Fprintf(&sb, "LibID: %d\n", e.LibID)
	fmt.Fprintf(&sb, "PrecursorMZ: %.4f\n", e.PrecursorMZ)
	fmt.Fprintf(&sb, "Status: %s\n", e.Status)
	fmt.Fprintf(&sb, "FullName: %s\n", e.Peptide.FullName())
	comment := fmt.Sprintf("Mods=%s Nreps=%d Prob=%.4f", e.Peptide.ModTokenString(), e.NrepsUsed, e.Probability)
	if e.FragType != "" {
		comment += " FragType=" + e.FragType
	}
	if extra := e.Comments.String(); extra != "" {
		comment += " " + extra
	}
	fmt.Fprintf(&sb, "Comment: %s\n", comment)
	fmt.Fprintf(&sb, "NumPeaks: %d\n", len(e.Peaks.Peaks))
	for _, p := range e.Peaks.Peaks {
		anno := p.Annotation
		if anno == "" {
			anno = "?"
		}
		fmt.Fprintf(&sb, "%.4f\t%.1f\t%s\n", p.MZ, p.Intensity, anno)
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}
