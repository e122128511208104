// Package sqlite exports spectral library entries to an SQLite database for
// downstream querying outside the library engine.
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/byronyi/SpectraST/pkg/splib"
	_ "github.com/mattn/go-sqlite3"
)

// headerDateFormat is the ISO 8601 date written to LibraryTable.
const headerDateFormat = "2006-01-02"

// Writer handles writing library entries to an SQLite database file
type Writer struct {
	db         *sql.DB
	outputPath string
	entryStmt  *sql.Stmt
	entryCount int
}

// NewWriter creates a new SQLite writer
func NewWriter(outputPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := w.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS EntryTable (
		LibID INTEGER PRIMARY KEY,
		Name TEXT,
		Sequence TEXT,
		Charge INTEGER,
		Mods TEXT,
		PrevAA TEXT,
		NextAA TEXT,
		PrecursorMZ DOUBLE,
		Status TEXT,
		Nreps INTEGER,
		Probability DOUBLE,
		FragType TEXT,
		Comments TEXT,
		NumPeaks INTEGER,
		blobMass BLOB,
		blobIntensity BLOB,
		blobReps BLOB,
		Annotations TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entry_sequence ON EntryTable(Sequence);
	CREATE INDEX IF NOT EXISTS idx_entry_mz ON EntryTable(PrecursorMZ);

	CREATE TABLE IF NOT EXISTS LibraryTable (
		version INTEGER NOT NULL DEFAULT 0,
		CreationDate TEXT,
		SourceFile TEXT,
		EntryCount INTEGER,
		Preamble TEXT
	);
	`
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// prepareStatements prepares the SQL statement for batch insertion
func (w *Writer) prepareStatements() error {
	var err error
	w.entryStmt, err = w.db.Prepare(`
		INSERT INTO EntryTable (
			LibID, Name, Sequence, Charge, Mods, PrevAA, NextAA,
			PrecursorMZ, Status, Nreps, Probability, FragType,
			Comments, NumPeaks, blobMass, blobIntensity, blobReps, Annotations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry statement: %w", err)
	}
	return nil
}

// WriteEntry writes a single library entry to the database
func (w *Writer) WriteEntry(e *splib.Entry) error {
	var seq, mods, prevAA, nextAA string
	charge := 0
	if e.Peptide != nil {
		seq = e.Peptide.Sequence
		charge = e.Peptide.Charge
		mods = e.Peptide.ModTokenString()
		prevAA = string(e.Peptide.PrevAA)
		nextAA = string(e.Peptide.NextAA)
	}

	annotations := make([]string, 0, len(e.Peaks.Peaks))
	for _, p := range e.Peaks.Peaks {
		anno := p.Annotation
		if anno == "" {
			anno = "?"
		}
		annotations = append(annotations, anno)
	}

	_, err := w.entryStmt.Exec(
		e.LibID,
		e.Name(),
		seq,
		charge,
		mods,
		prevAA,
		nextAA,
		e.PrecursorMZ,
		string(e.Status),
		e.NrepsUsed,
		e.Probability,
		e.FragType,
		e.Comments.String(),
		len(e.Peaks.Peaks),
		encodePeaksFloat64(e, true),
		encodePeaksFloat64(e, false),
		encodePeakReps(e),
		strings.Join(annotations, ";"),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry %s: %w", e.Name(), err)
	}

	w.entryCount++
	return nil
}

// encodePeaksFloat64 encodes peak data as a little-endian float64 blob
func encodePeaksFloat64(e *splib.Entry, useMZ bool) []byte {
	buf := make([]byte, len(e.Peaks.Peaks)*8)
	for i, peak := range e.Peaks.Peaks {
		value := peak.Intensity
		if useMZ {
			value = peak.MZ
		}
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(value))
	}
	return buf
}

// encodePeakReps encodes per-peak replicate support as a little-endian
// uint32 blob
func encodePeakReps(e *splib.Entry) []byte {
	buf := make([]byte, len(e.Peaks.Peaks)*4)
	for i, peak := range e.Peaks.Peaks {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(peak.Reps))
	}
	return buf
}

// Finalize writes the library header table and closes the database
func (w *Writer) Finalize(lib *splib.Library) error {
	source := ""
	preamble := ""
	version := 0
	if lib != nil {
		source = lib.SourceFile
		preamble = strings.Join(lib.Preamble, "\n")
		version = lib.Version
	}
	_, err := w.db.Exec(`
		INSERT INTO LibraryTable (version, CreationDate, SourceFile, EntryCount, Preamble)
		VALUES (?, ?, ?, ?, ?)
	`, version, time.Now().Format(headerDateFormat), source, w.entryCount, preamble)
	if err != nil {
		return fmt.Errorf("failed to insert library header: %w", err)
	}

	if w.entryStmt != nil {
		w.entryStmt.Close()
	}
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
