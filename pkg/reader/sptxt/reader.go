// Package sptxt provides a streaming reader for SPTXT text-format spectral
// libraries, used to import plain-text libraries into the binary format.
package sptxt

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// Reader provides streaming access to SPTXT files
type Reader struct {
	scanner *bufio.Scanner
	modDB   *core.ModDatabase
	lineNum int
	current *splib.Entry
	err     error
}

// NewReader creates a new SPTXT reader
func NewReader(r io.Reader, modDB *core.ModDatabase) *Reader {
	if modDB == nil {
		modDB = core.DefaultModDatabase()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{
		scanner: sc,
		modDB:   modDB,
	}
}

// Next advances to the next entry. Returns false when no more entries or error.
func (r *Reader) Next() bool {
	r.current = nil

	e, err := r.readEntry()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.current = e
	return true
}

// Entry returns the current entry
func (r *Reader) Entry() *splib.Entry {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// readEntry reads a single entry block from the SPTXT file
func (r *Reader) readEntry() (*splib.Entry, error) {
	e := &splib.Entry{
		Status:    splib.StatusNormal,
		NrepsUsed: 1,
		Comments:  splib.NewComments(),
	}
	var peaks []core.Peak

	var numPeaks int
	inPeaks := false
	haveName := false

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())

		// Skip preamble and empty lines
		if line == "" || strings.HasPrefix(line, "###") {
			if inPeaks && len(peaks) >= numPeaks && haveName {
				break
			}
			continue
		}

		if !inPeaks {
			key, value, ok := strings.Cut(line, ": ")
			if !ok {
				continue
			}
			switch key {
			case "Name":
				if err := r.parseName(e, value); err != nil {
					return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
				}
				haveName = true
			case "LibID":
				if id, err := strconv.Atoi(value); err == nil {
					e.LibID = uint32(id)
				}
			case "PrecursorMZ":
				if mz, err := strconv.ParseFloat(value, 64); err == nil {
					e.PrecursorMZ = mz
				}
			case "Status":
				e.Status = splib.Status(value)
			case "FullName":
				r.parseFullName(e, value)
			case "Comment":
				if err := r.parseComment(e, value); err != nil {
					return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
				}
			case "NumPeaks":
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid peak count: %w", r.lineNum, err)
				}
				numPeaks = n
				inPeaks = true
			}
		} else {
			peak, err := r.parsePeak(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			peaks = append(peaks, peak)
			if len(peaks) >= numPeaks {
				break
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if !haveName {
		return nil, io.EOF
	}

	e.Peaks = core.NewPeakList(peaks)
	if e.PrecursorMZ == 0 && e.Peptide != nil {
		e.PrecursorMZ = core.PrecursorMZ(e.Peptide, r.modDB)
	}
	return e, nil
}

// inlineModPattern matches inline bracket modifications like "C[160]" or
// "n[305]" in SPTXT peptide names.
var inlineModPattern = regexp.MustCompile(`([a-zA-Z]?)(\[\d+(?:\.\d+)?\])`)

// parseName extracts the peptide from the Name field,
// e.g. "n[305]AAAAQDEITGDGTTTVVC[160]LVGELLR/3".
func (r *Reader) parseName(e *splib.Entry, name string) error {
	seqPart, chargePart, ok := strings.Cut(name, "/")
	if !ok {
		return fmt.Errorf("invalid name %q, expected 'SEQUENCE/CHARGE'", name)
	}
	charge, err := strconv.Atoi(chargePart)
	if err != nil {
		return fmt.Errorf("invalid charge in name %q: %w", name, err)
	}

	sequence, mods, err := parseInlineModifications(seqPart)
	if err != nil {
		return fmt.Errorf("parse modifications in %q: %w", name, err)
	}

	pep, err := core.NewPeptide(sequence, charge, "")
	if err != nil {
		return err
	}
	for pos, tok := range mods {
		pep.Mods[pos] = tok
	}
	if e.Peptide != nil {
		// FullName came first; keep its flanking residues.
		pep.PrevAA, pep.NextAA = e.Peptide.PrevAA, e.Peptide.NextAA
	}
	e.Peptide = pep
	return nil
}

// parseInlineModifications strips inline bracket mods from a raw sequence,
// returning the stripped sequence and a position -> mass-token map. The
// numeric tokens are replaced by proper names when a Mods comment follows.
func parseInlineModifications(rawSeq string) (string, map[int]string, error) {
	var sequence strings.Builder
	mods := make(map[int]string)

	lastIdx := 0
	for _, match := range inlineModPattern.FindAllStringSubmatchIndex(rawSeq, -1) {
		before := rawSeq[lastIdx:match[0]]
		sequence.WriteString(before)

		aa := rawSeq[match[2]:match[3]]
		massStr := strings.Trim(rawSeq[match[4]:match[5]], "[]")
		if _, err := strconv.ParseFloat(massStr, 64); err != nil {
			return "", nil, fmt.Errorf("invalid modification mass %q: %w", massStr, err)
		}

		if aa == "n" || aa == "" {
			mods[core.NTermPos] = massStr
		} else {
			mods[sequence.Len()] = massStr
			sequence.WriteString(aa)
		}
		lastIdx = match[1]
	}
	sequence.WriteString(rawSeq[lastIdx:])
	return sequence.String(), mods, nil
}

// parseFullName extracts flanking residues from "K.PEPTIDEK.L/2".
func (r *Reader) parseFullName(e *splib.Entry, value string) {
	name, _, _ := strings.Cut(value, "/")
	parts := strings.Split(name, ".")
	if len(parts) != 3 || len(parts[0]) != 1 || len(parts[2]) != 1 {
		return
	}
	if e.Peptide == nil {
		e.Peptide = &core.Peptide{Mods: make(map[int]string), PrevAA: '-', NextAA: '-'}
	}
	e.Peptide.PrevAA = parts[0][0]
	e.Peptide.NextAA = parts[2][0]
}

// parseComment splits the Comment field into key=value pairs, extracting the
// fields the engine models and keeping everything verbatim as comments.
func (r *Reader) parseComment(e *splib.Entry, comment string) error {
	for _, field := range strings.Fields(comment) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}

		switch key {
		case "Mods":
			if e.Peptide != nil && value != "0" {
				// Proper names replace the numeric inline tokens.
				pep, err := core.NewPeptide(e.Peptide.Sequence, e.Peptide.Charge, value)
				if err == nil {
					pep.PrevAA, pep.NextAA = e.Peptide.PrevAA, e.Peptide.NextAA
					e.Peptide = pep
				}
			}
			continue

		case "Parent":
			if mz, err := strconv.ParseFloat(value, 64); err == nil && e.PrecursorMZ == 0 {
				e.PrecursorMZ = mz
			}

		case "Prob":
			if p, err := strconv.ParseFloat(value, 64); err == nil {
				e.Probability = p
			}

		case "Nreps":
			// "used/total" or a plain count.
			used, _, _ := strings.Cut(value, "/")
			if n, err := strconv.Atoi(used); err == nil && n > 0 {
				e.NrepsUsed = n
			}

		case "FragType":
			e.FragType = value
			continue
		}

		e.Comments.Set(key, value)
	}
	return nil
}

// parsePeak parses one "mz intensity annotation" line; "?" marks an
// unannotated peak.
func (r *Reader) parsePeak(line string) (core.Peak, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return core.Peak{}, fmt.Errorf("invalid peak line %q, expected at least 2 fields", line)
	}

	mz, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid m/z value: %w", err)
	}
	intensity, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid intensity value: %w", err)
	}

	peak := core.Peak{MZ: mz, Intensity: intensity}
	if len(fields) >= 3 && fields[2] != "?" {
		annotation := fields[2]
		if idx := strings.Index(annotation, "/"); idx > 0 {
			annotation = annotation[:idx]
		}
		peak.Annotation = annotation
	}
	return peak, nil
}
