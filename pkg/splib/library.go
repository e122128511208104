package splib

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Library file format version.
const (
	FormatVersion    = 1
	FormatSubVersion = 0
)

// maxPreambleLines bounds the preamble line count; a larger value means the
// count field was read from garbage.
const maxPreambleLines = 100000

// ErrCorruptPreamble is returned when a library file's preamble cannot be
// parsed. A library without a readable preamble is unusable; callers treat
// this as fatal rather than skipping the file.
var ErrCorruptPreamble = errors.New("corrupt library preamble")

// Library is an open .splib file positioned for entry reads. The preamble
// records the command lineage of the file: every build that produced it, most
// recent last.
type Library struct {
	Version    int
	SubVersion int
	SourceFile string   // file name recorded at write time
	Preamble   []string // lineage lines, one per producing command

	f      *os.File
	path   string
	r      *bufio.Reader
	start  int64 // offset of the first entry
	offset int64 // offset of the next sequential entry
}

// Open opens a binary .splib file and parses its preamble, leaving the read
// position at the first entry.
func Open(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}

	l := &Library{f: f, path: path, r: bufio.NewReader(f)}
	if err := l.readPreamble(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Path returns the file path the library was opened from.
func (l *Library) Path() string { return l.path }

// Close closes the underlying file.
func (l *Library) Close() error { return l.f.Close() }

func (l *Library) readPreamble() error {
	br := &binReader{r: l.r}

	peek, err := l.r.Peek(1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPreamble, err)
	}
	if peek[0] == '#' {
		// A '#' opener is a text-format (.sptxt-style) file; entries can
		// only be decoded from binary libraries, so fail up front with a
		// clear reason instead of a truncated-entry error mid-body.
		return fmt.Errorf("%w: text-format library, import it into a binary .splib first", ErrCorruptPreamble)
	}

	version := int(int32(br.u32()))
	subVersion := int(int32(br.u32()))
	source := br.line()
	numLines := int(br.u32())
	if br.err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPreamble, br.err)
	}
	if version < 1 || version > FormatVersion || numLines < 0 || numLines > maxPreambleLines {
		return fmt.Errorf("%w: version %d.%d with %d lines", ErrCorruptPreamble, version, subVersion, numLines)
	}

	lines := make([]string, 0, numLines)
	for i := 0; i < numLines; i++ {
		lines = append(lines, br.line())
	}
	if br.err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPreamble, br.err)
	}

	l.Version = version
	l.SubVersion = subVersion
	l.SourceFile = source
	l.Preamble = lines
	l.start = br.n
	l.offset = br.n
	return nil
}

// NextEntry reads the next entry sequentially, recording its file offset.
// Returns io.EOF at the end of the library.
func (l *Library) NextEntry() (*Entry, error) {
	at := l.offset
	e, n, err := decodeEntry(l.r)
	l.offset += n
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%s at offset %d: %w", l.path, at, err)
	}
	e.Offset = at
	return e, nil
}

// ReadEntryAt seeks to the given offset and reads one entry. Sequential reads
// continue from the end of this entry.
func (l *Library) ReadEntryAt(offset int64) (*Entry, error) {
	if _, err := l.f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s to %d: %w", l.path, offset, err)
	}
	l.r.Reset(l.f)
	l.offset = offset
	return l.NextEntry()
}

// Rewind repositions sequential reads at the first entry.
func (l *Library) Rewind() error {
	if _, err := l.f.Seek(l.start, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", l.path, err)
	}
	l.r.Reset(l.f)
	l.offset = l.start
	return nil
}

// ModTime returns the library file's modification time for index staleness
// checks.
func (l *Library) ModTime() (int64, error) {
	fi, err := l.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.ModTime().UnixNano(), nil
}

// writePreamble emits the binary preamble.
func writePreamble(w io.Writer, sourceFile string, lines []string) error {
	var errs []error
	put := func(v any) { errs = append(errs, binary.Write(w, binary.LittleEndian, v)) }
	putLine := func(s string) {
		_, err := io.WriteString(w, s+"\n")
		errs = append(errs, err)
	}
	put(int32(FormatVersion))
	put(int32(FormatSubVersion))
	putLine(sourceFile)
	put(uint32(len(lines)))
	for _, line := range lines {
		putLine(line)
	}
	return errors.Join(errs...)
}

// preambleSize computes the byte length of the binary preamble as written by
// writePreamble.
func preambleSize(sourceFile string, lines []string) int64 {
	n := int64(4 + 4 + len(sourceFile) + 1 + 4)
	for _, line := range lines {
		n += int64(len(line)) + 1
	}
	return n
}

// writeTextPreamble emits the '#'-prefixed text preamble variant.
func writeTextPreamble(w io.Writer, sourceFile string, lines []string) error {
	if _, err := fmt.Fprintf(w, "### %s (v%d.%d)\n", sourceFile, FormatVersion, FormatSubVersion); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintf(w, "### %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "###")
	return err
}

// SidecarPath swaps the extension of a library path, e.g. ".pepidx".
func SidecarPath(libPath, ext string) string {
	base := strings.TrimSuffix(libPath, filepath.Ext(libPath))
	return base + ext
}

// sidecar file extensions
const (
	PepIdxExt = ".pepidx"
	MzIdxExt  = ".spidx"
	TextExt   = ".sptxt"
)

// mzKey quantizes an m/z value for stable text round-trips in index files.
func mzKey(mz float64) float64 {
	return math.Round(mz*10000) / 10000
}
