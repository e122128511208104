package create

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/splib"
)

type libSpec struct {
	seq    string
	charge int
	mods   string
	prob   float64
	nreps  int
	mz     float64
	peaks  []core.Peak
}

// makeEntry builds one entry from a spec. Without explicit peaks, the entry
// gets the first few predicted fragments of its own peptide, so synthetic
// spectra never look impure to the quality filter.
func makeEntry(t *testing.T, s libSpec) *splib.Entry {
	t.Helper()
	db := core.DefaultModDatabase()
	pep, err := core.NewPeptide(s.seq, s.charge, s.mods)
	require.NoError(t, err)
	pep.PrevAA, pep.NextAA = 'K', 'A'

	mz := s.mz
	if mz == 0 {
		mz = core.PrecursorMZ(pep, db)
	}
	e := splib.NewEntry(pep, mz)
	e.Probability = s.prob
	e.NrepsUsed = s.nreps
	if e.NrepsUsed == 0 {
		e.NrepsUsed = 1
	}
	e.FragType = "CID"

	peaks := append([]core.Peak(nil), s.peaks...)
	if peaks == nil {
		for i, f := range core.FragmentIons(pep, db) {
			if i >= 6 {
				break
			}
			peaks = append(peaks, core.Peak{MZ: f.MZ, Intensity: 1000 - 50*float64(i), Annotation: f.Label})
		}
	}
	for i := range peaks {
		if peaks[i].Reps == 0 {
			peaks[i].Reps = e.NrepsUsed
		}
	}
	e.Peaks = core.NewPeakList(peaks)
	return e
}

func writeLibrary(t *testing.T, path string, specs []libSpec) string {
	t.Helper()
	w, err := splib.NewWriter(path, []string{"test library"}, nil)
	require.NoError(t, err)
	for _, s := range specs {
		_, err := w.Insert(makeEntry(t, s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func readAll(t *testing.T, path string) []*splib.Entry {
	t.Helper()
	lib, err := splib.Open(path)
	require.NoError(t, err)
	defer lib.Close()

	var out []*splib.Entry
	for {
		e, err := lib.NextEntry()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func runBuild(t *testing.T, cfg Config, inputs []string) *Builder {
	t.Helper()
	b, err := NewBuilder(cfg, inputs, nil)
	require.NoError(t, err)
	require.NoError(t, b.Build())
	return b
}

func sequences(entries []*splib.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Peptide.Sequence)
	}
	return out
}

func TestUnionWithSelfIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 1},
	})

	cfg := DefaultConfig()
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, a})

	got := readAll(t, b.OutputPath())
	assert.ElementsMatch(t, []string{"AAAELAK", "GGIMDPK"}, sequences(got))
	assert.Equal(t, 2, b.Count())
}

func TestIntersectWithSelf(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 1},
	})

	cfg := DefaultConfig()
	cfg.CombineAction = Intersect
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, a})

	assert.ElementsMatch(t, []string{"AAAELAK", "GGIMDPK"}, sequences(readAll(t, b.OutputPath())))
}

func TestAppendFirstFileWins(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.50, nreps: 1},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 2},
	})
	c := writeLibrary(t, filepath.Join(dir, "b.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 4},
		{seq: "LLSDPNYR", charge: 3, prob: 0.80, nreps: 5},
	})

	cfg := DefaultConfig()
	cfg.CombineAction = Append
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, c})

	got := readAll(t, b.OutputPath())
	assert.ElementsMatch(t, []string{"AAAELAK", "GGIMDPK", "LLSDPNYR"}, sequences(got))

	// The shared ion keeps the first file's entry, not the better one.
	for _, e := range got {
		if e.Peptide.Sequence == "AAAELAK" {
			assert.Equal(t, 0.50, e.Probability)
			assert.Equal(t, 1, e.NrepsUsed)
		}
	}
}

func TestConsensusDenoiserWritesDeferredSingletons(t *testing.T) {
	dir := t.TempDir()
	// GGIMDPK has replicates in all three libraries and trains the
	// denoiser; AAAELAK exists only once and has no replicates to vote
	// with, so its consensus is deferred until the model is ready.
	libs := []string{
		writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
			{seq: "AAAELAK", charge: 2, prob: 0.50, nreps: 1},
			{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 1},
		}),
		writeLibrary(t, filepath.Join(dir, "b.splib"), []libSpec{
			{seq: "GGIMDPK", charge: 2, prob: 0.90, nreps: 1},
		}),
		writeLibrary(t, filepath.Join(dir, "c.splib"), []libSpec{
			{seq: "GGIMDPK", charge: 2, prob: 0.85, nreps: 1},
		}),
	}

	cfg := DefaultConfig()
	cfg.BuildAction = Consensus
	cfg.UseDenoiser = true
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, libs)

	got := readAll(t, b.OutputPath())
	assert.ElementsMatch(t, []string{"AAAELAK", "GGIMDPK"}, sequences(got))

	for _, e := range got {
		switch e.Peptide.Sequence {
		case "GGIMDPK":
			nreps, ok := e.Comments.Get("Nreps")
			require.True(t, ok)
			assert.Equal(t, "3/3", nreps)
		case "AAAELAK":
			// The deferred singleton comes back denoised, not dropped;
			// its annotated fragment peaks survive the filter.
			assert.Equal(t, 1, e.NrepsUsed)
			assert.NotEmpty(t, e.Peaks.Peaks)
		}
	}
}

func TestSubtractWithSelfIsEmpty(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
	})

	cfg := DefaultConfig()
	cfg.CombineAction = Subtract
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, a})

	assert.Empty(t, readAll(t, b.OutputPath()))
	assert.Equal(t, 0, b.Count())
}

func TestSubtractHomologsWithSelfIsEmpty(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "GGIMDPK", charge: 2, prob: 0.95, nreps: 1},
	})

	cfg := DefaultConfig()
	cfg.CombineAction = SubtractHomologs
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, a})

	assert.Empty(t, readAll(t, b.OutputPath()))
}

func TestSubtractHomologsSparesDistinctIons(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "LLSDPNYR", charge: 3, prob: 0.80, nreps: 5},
	})
	// Shares nothing isobaric or homologous with AAAELAK/2.
	other := writeLibrary(t, filepath.Join(dir, "b.splib"), []libSpec{
		{seq: "LLSDPNYR", charge: 3, prob: 0.80, nreps: 5},
	})

	cfg := DefaultConfig()
	cfg.CombineAction = SubtractHomologs
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, other})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 1)
	assert.Equal(t, "AAAELAK", got[0].Peptide.Sequence)
}

func TestUnionBestReplicatePicksHigherProbability(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "PEPTIDEK", charge: 2, prob: 0.70, nreps: 1},
	})
	c := writeLibrary(t, filepath.Join(dir, "b.splib"), []libSpec{
		{seq: "PEPTIDEK", charge: 2, prob: 0.90, nreps: 2},
	})

	cfg := DefaultConfig()
	cfg.BuildAction = BestReplicate
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, c})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 1)
	assert.Equal(t, 0.90, got[0].Probability)
	assert.Equal(t, 2, got[0].NrepsUsed)
}

func TestUnionSkipsUnreadableLaterInput(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
	})

	cfg := DefaultConfig()
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a, filepath.Join(dir, "missing.splib")})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 1)
	assert.Equal(t, "AAAELAK", got[0].Peptide.Sequence)
}

func TestBuildFirstInputUnreadable(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputFile = filepath.Join(dir, "out.splib")

	b, err := NewBuilder(cfg, []string{filepath.Join(dir, "missing.splib")}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Build(), ErrFirstInputUnreadable)
}

func TestGenerateDecoy(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "ACDEFGHIK", charge: 2, prob: 0.95, nreps: 2},
		{seq: "ACDEFGHIK", charge: 3, prob: 0.90, nreps: 1},
	})

	cfg := DefaultConfig()
	cfg.BuildAction = Decoy
	cfg.DecoySizeRatio = 2
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	// Two charge variants, two decoys per real ion.
	require.Len(t, got, 4)

	remarks := make(map[string]int)
	for _, e := range got {
		assert.Equal(t, splib.StatusDecoy, e.Status)
		assert.NotEqual(t, "ACDEFGHIK", e.Peptide.Sequence)
		assert.GreaterOrEqual(t, len(e.Peptide.Sequence), len("ACDEFGHIK"))
		remark, ok := e.Comments.Get("Remark")
		require.True(t, ok)
		remarks[remark]++
	}
	assert.Equal(t, map[string]int{"DECOY_1": 2, "DECOY_2": 2}, remarks)
}

func TestGenerateDecoyConcatenated(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "ACDEFGHIK", charge: 2, prob: 0.95, nreps: 2},
	})

	cfg := DefaultConfig()
	cfg.BuildAction = Decoy
	cfg.DecoyConcatenate = true
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 2)

	var real, decoys int
	for _, e := range got {
		if e.Status == splib.StatusDecoy {
			decoys++
		} else {
			real++
			assert.Equal(t, "ACDEFGHIK", e.Peptide.Sequence)
		}
	}
	assert.Equal(t, 1, real)
	assert.Equal(t, 1, decoys)
}

func TestSortByNreps(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.9, nreps: 1},
		{seq: "GGIMDPK", charge: 2, prob: 0.9, nreps: 7},
		{seq: "LLSDPNYR", charge: 3, prob: 0.9, nreps: 3},
	})

	cfg := DefaultConfig()
	cfg.BuildAction = SortByNreps
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	var reps []int
	for _, e := range readAll(t, b.OutputPath()) {
		reps = append(reps, e.NrepsUsed)
	}
	assert.Equal(t, []int{7, 3, 1}, reps)
}

func TestSimilarityClustering(t *testing.T) {
	dir := t.TempDir()
	shared := []core.Peak{
		{MZ: 200.0, Intensity: 1000},
		{MZ: 300.0, Intensity: 800},
		{MZ: 400.0, Intensity: 600},
		{MZ: 500.1, Intensity: 400},
	}
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.5, nreps: 1, mz: 500.0, peaks: shared},
		{seq: "GGIMDPK", charge: 2, prob: 0.5, nreps: 1, mz: 500.5, peaks: shared},
		{seq: "LLSDPNYR", charge: 2, prob: 0.5, nreps: 1, mz: 501.0, peaks: shared},
		{seq: "PEPTIDEK", charge: 2, prob: 0.5, nreps: 3, mz: 600.0,
			peaks: []core.Peak{{MZ: 700.0, Intensity: 1000}, {MZ: 800.0, Intensity: 900}}},
	})

	cfg := DefaultConfig()
	cfg.BuildAction = SimilarityClustering
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 2)

	var consensus, singleton *splib.Entry
	for _, e := range got {
		if e.Peptide.Sequence == "PEPTIDEK" {
			singleton = e
		} else {
			consensus = e
		}
	}
	// The replicate-supported lone spectrum survives on its own.
	require.NotNil(t, singleton)
	assert.Equal(t, 3, singleton.NrepsUsed)

	// The three near-isobaric identical spectra collapse into one consensus.
	require.NotNil(t, consensus)
	assert.Equal(t, 3, consensus.NrepsUsed)
	nreps, ok := consensus.Comments.Get("Nreps")
	require.True(t, ok)
	assert.Equal(t, "3/3", nreps)
	assert.InDelta(t, 500.5, consensus.PrecursorMZ, 0.6)
}

func TestUserSpecifiedMods(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "ACDEFGHIK", charge: 2, prob: 0.95, nreps: 2},
		{seq: "GGIMDPK", charge: 2, prob: 0.90, nreps: 1},
	})

	cfg := DefaultConfig()
	cfg.BuildAction = UserSpecifiedMods
	cfg.AllowableModTokens = "{C,Carbamidomethyl}"
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 2)

	var modified, untouched *splib.Entry
	for _, e := range got {
		if e.Peptide.Sequence == "ACDEFGHIK" {
			modified = e
		} else {
			untouched = e
		}
	}

	// C is pinned to carbamidomethyl, so the unmodified real spectrum is
	// replaced by a semi-empirical one with the mass shift applied.
	require.NotNil(t, modified)
	assert.Equal(t, "1/1,C,Carbamidomethyl", modified.Peptide.ModTokenString())
	spec, ok := modified.Comments.Get("Spec")
	require.True(t, ok)
	assert.Equal(t, "Semi-empirical", spec)

	db := core.DefaultModDatabase()
	pep, err := core.NewPeptide("ACDEFGHIK", 2, "1/1,C,Carbamidomethyl")
	require.NoError(t, err)
	assert.InDelta(t, core.PrecursorMZ(pep, db), modified.PrecursorMZ, 1e-9)

	// No governed residue: the real spectrum passes through unchanged.
	require.NotNil(t, untouched)
	assert.Equal(t, "0", untouched.Peptide.ModTokenString())
	_, ok = untouched.Comments.Get("Spec")
	assert.False(t, ok)
}
