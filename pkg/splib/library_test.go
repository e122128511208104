package splib

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronyi/SpectraST/pkg/core"
)

// buildTestLibrary writes a small library and returns its path. Each spec is
// "sequence/charge" with a probability and replicate count.
func buildTestLibrary(t *testing.T, name string, specs []testSpec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	w, err := NewWriter(path, []string{"test library"}, nil)
	require.NoError(t, err)
	for _, s := range specs {
		_, err := w.Insert(makeTestEntry(t, s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

type testSpec struct {
	seq    string
	charge int
	mods   string
	prob   float64
	nreps  int
	mz     float64
}

func makeTestEntry(t *testing.T, s testSpec) *Entry {
	t.Helper()
	pep, err := core.NewPeptide(s.seq, s.charge, s.mods)
	require.NoError(t, err)
	pep.PrevAA, pep.NextAA = 'K', 'A'

	mz := s.mz
	if mz == 0 {
		mz = core.PrecursorMZ(pep, core.DefaultModDatabase())
	}
	e := NewEntry(pep, mz)
	e.NrepsUsed = s.nreps
	if e.NrepsUsed == 0 {
		e.NrepsUsed = 1
	}
	e.Probability = s.prob
	e.FragType = "CID"
	e.Peaks = core.NewPeakList([]core.Peak{
		{MZ: 147.11, Intensity: 500, Annotation: "y1"},
		{MZ: 260.20, Intensity: 900},
		{MZ: 357.25, Intensity: 300, Annotation: "y3"},
	})
	return e
}

func TestLibraryWriteReadRoundTrip(t *testing.T) {
	specs := []testSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 1},
		{seq: "LLSDPNYR", charge: 3, prob: 0.80, nreps: 5},
	}
	path := buildTestLibrary(t, "round.splib", specs)

	lib, err := Open(path)
	require.NoError(t, err)
	defer lib.Close()

	assert.Equal(t, FormatVersion, lib.Version)
	assert.Equal(t, []string{"test library"}, lib.Preamble)
	assert.Equal(t, "round.splib", lib.SourceFile)

	var got []string
	var offsets []int64
	for {
		e, err := lib.NextEntry()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, e.Name())
		offsets = append(offsets, e.Offset)
	}
	assert.Equal(t, []string{"AAAELAK/2", "GGIMDPK/2", "LLSDPNYR/3"}, got)

	// Seek-based re-read lands on the same entry.
	e, err := lib.ReadEntryAt(offsets[1])
	require.NoError(t, err)
	assert.Equal(t, "GGIMDPK/2", e.Name())
	assert.Equal(t, offsets[1], e.Offset)

	// Sequential reads continue after a seek.
	e, err = lib.NextEntry()
	require.NoError(t, err)
	assert.Equal(t, "LLSDPNYR/3", e.Name())

	require.NoError(t, lib.Rewind())
	e, err = lib.NextEntry()
	require.NoError(t, err)
	assert.Equal(t, "AAAELAK/2", e.Name())
}

func TestOpenCorruptPreamble(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.splib")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrCorruptPreamble)
}

func TestOpenRejectsTextLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "text.sptxt")
	text := "### text.sptxt (v1.0)\n### test library\n###\nName: PEPTIDEK/2\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	_, err := Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptPreamble)
	assert.Contains(t, err.Error(), "text-format library")
}

func TestPeptideIndexRoundTrip(t *testing.T) {
	specs := []testSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "AAAELAK", charge: 3, prob: 0.90, nreps: 2},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 1},
	}
	path := buildTestLibrary(t, "pep.splib", specs)

	lib, err := Open(path)
	require.NoError(t, err)
	defer lib.Close()

	ix, err := OpenPeptideIndex(lib, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, ix.SequenceCount())
	assert.Equal(t, 3, ix.EntryCount())
	assert.True(t, ix.Unique())
	assert.Equal(t, []string{"AAAELAK", "GGIMDPK"}, ix.AllSequences())

	subkeys := ix.Subkeys("AAAELAK")
	require.Len(t, subkeys, 2)

	entries, err := ix.Retrieve("AAAELAK", subkeys[0])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AAAELAK", entries[0].Peptide.Sequence)

	assert.True(t, ix.IsInIndex("AAAELAK", ""))
	assert.True(t, ix.IsInIndex("AAAELAK", subkeys[1]))
	assert.False(t, ix.IsInIndex("NOPE", ""))

	// Charge 2 and charge 3 of the same sequence confirm each other.
	pep2, _ := core.NewPeptide("AAAELAK", 2, "")
	assert.True(t, ix.HasSharedSequence(pep2, "CID"))
	pepG, _ := core.NewPeptide("GGIMDPK", 2, "")
	assert.False(t, ix.HasSharedSequence(pepG, "CID"))
}

func TestPeptideIndexRebuildWhenSidecarMissing(t *testing.T) {
	path := buildTestLibrary(t, "rebuild.splib", []testSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99},
	})
	idxPath := SidecarPath(path, PepIdxExt)
	require.NoError(t, os.Remove(idxPath))

	lib, err := Open(path)
	require.NoError(t, err)
	defer lib.Close()

	ix, err := OpenPeptideIndex(lib, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.EntryCount())

	// The sidecar was rewritten.
	_, err = os.Stat(idxPath)
	assert.NoError(t, err)
}

func TestMzIndexRetrieveWindow(t *testing.T) {
	specs := []testSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, mz: 400.0},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, mz: 402.5},
		{seq: "LLSDPNYR", charge: 2, prob: 0.80, mz: 450.0},
	}
	path := buildTestLibrary(t, "mz.splib", specs)

	lib, err := Open(path)
	require.NoError(t, err)
	defer lib.Close()

	ix, err := OpenMzIndex(lib, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ix.EntryCount())

	entries, err := ix.Retrieve(399.0, 404.0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "AAAELAK/2", entries[0].Name())
	assert.Equal(t, "GGIMDPK/2", entries[1].Name())

	entries, err = ix.Retrieve(500.0, 600.0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMzIndexSortByNreps(t *testing.T) {
	specs := []testSpec{
		{seq: "AAAELAK", charge: 2, nreps: 1, mz: 400.0},
		{seq: "GGIMDPK", charge: 2, nreps: 7, mz: 402.5},
		{seq: "LLSDPNYR", charge: 2, nreps: 3, mz: 450.0},
	}
	path := buildTestLibrary(t, "sorted.splib", specs)

	lib, err := Open(path)
	require.NoError(t, err)
	defer lib.Close()

	ix, err := OpenMzIndex(lib, nil)
	require.NoError(t, err)

	ix.SortByNreps()
	var reps []int
	for ix.NextSorted() {
		e, err := ix.SortedEntry()
		require.NoError(t, err)
		reps = append(reps, e.NrepsUsed)
	}
	assert.Equal(t, []int{7, 3, 1}, reps)
}

func TestWriterIsInIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.splib")
	w, err := NewWriter(path, nil, nil)
	require.NoError(t, err)

	e := makeTestEntry(t, testSpec{seq: "AAAELAK", charge: 2, prob: 0.9})
	_, err = w.Insert(e)
	require.NoError(t, err)

	assert.True(t, w.IsInIndex("AAAELAK", EntrySubkey(e)))
	assert.False(t, w.IsInIndex("AAAELAK", "9|0|CID"))
	assert.False(t, w.IsInIndex("OTHER", EntrySubkey(e)))
	require.NoError(t, w.Close())
}

func TestWriterAssignsSequentialLibIDs(t *testing.T) {
	path := buildTestLibrary(t, "ids.splib", []testSpec{
		{seq: "AAAELAK", charge: 2},
		{seq: "GGIMDPK", charge: 2},
	})
	lib, err := Open(path)
	require.NoError(t, err)
	defer lib.Close()

	e0, err := lib.NextEntry()
	require.NoError(t, err)
	e1, err := lib.NextEntry()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), e0.LibID)
	assert.Equal(t, uint32(1), e1.LibID)
}
