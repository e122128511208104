// Package msp provides a streaming reader for MSP format spectral libraries
package msp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// Reader provides streaming access to MSP format files
type Reader struct {
	scanner *bufio.Scanner
	modDB   *core.ModDatabase
	lineNum int
	current *splib.Entry
	err     error
}

// NewReader creates a new MSP reader
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

// readEntry reads a single entry from the MSP file
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

		// Blank lines separate entries
		if line == "" {
			if haveName && inPeaks {
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
			case "MW":
				// Recalculated from the sequence.
			case "PrecursorMZ":
				if mz, err := strconv.ParseFloat(value, 64); err == nil {
					e.PrecursorMZ = mz
				}
			case "Comment":
				r.parseComment(e, value)
			case "Num peaks", "NumPeaks":
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

// parseName extracts sequence and charge from the Name field ("SEQUENCE/CHARGE")
func (r *Reader) parseName(e *splib.Entry, name string) error {
	seqPart, chargePart, ok := strings.Cut(name, "/")
	if !ok {
		return fmt.Errorf("invalid name %q, expected 'SEQUENCE/CHARGE'", name)
	}
	charge, err := strconv.Atoi(chargePart)
	if err != nil {
		return fmt.Errorf("invalid charge in name %q: %w", name, err)
	}
	pep, err := core.NewPeptide(seqPart, charge, "")
	if err != nil {
		return err
	}
	e.Peptide = pep
	return nil
}

// parseComment extracts metadata from the Comment field, e.g.
// "Parent=414.71 Mods=1/6,M,Oxidation Prob=1.0000 Nreps=3/5".
func (r *Reader) parseComment(e *splib.Entry, comment string) {
	for _, field := range strings.Fields(comment) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}

		switch key {
		case "Mods":
			if e.Peptide != nil && value != "0" {
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
}

// parsePeak parses a single peak line (format: "mz\tintensity\t\"annotation\"")
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
	if len(fields) >= 3 {
		annotation := strings.Trim(fields[2], "\"")
		if idx := strings.Index(annotation, "/"); idx > 0 {
			annotation = annotation[:idx]
		}
		if annotation != "?" {
			peak.Annotation = annotation
		}
	}
	return peak, nil
}
