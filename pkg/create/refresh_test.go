package create

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFasta = `>sp|P00001|ALPHA_TEST first test protein
MKAAAELAKR
TTTPEPTIDEKGGG
>DECOY_sp|P00001|ALPHA_TEST shuffled
MKAAAELAKR
>sp|P00002|BETA_TEST second test protein
AAAELAKQQQ
`

func writeFasta(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proteins.fasta")
	require.NoError(t, os.WriteFile(path, []byte(testFasta), 0o644))
	return path
}

func TestDecoyAccession(t *testing.T) {
	assert.True(t, decoyAccession("DECOY_sp|P00001|ALPHA_TEST"))
	assert.True(t, decoyAccession("REV_P00001"))
	assert.True(t, decoyAccession("rev_P00001"))
	assert.False(t, decoyAccession("sp|P00001|ALPHA_TEST"))
}

func TestRefreshRewritesProteinComments(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "PEPTIDEK", charge: 2, prob: 0.95, nreps: 2},
	})

	cfg := DefaultConfig()
	cfg.RefreshDatabase = writeFasta(t)
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 2)
	byName := make(map[string]int)
	for i, e := range got {
		byName[e.Peptide.Sequence] = i
	}

	// AAAELAK occurs in two real proteins and one decoy; the decoy lists
	// last. The best tryptic occurrence (K. ... .R) sets the flanks.
	aaa := got[byName["AAAELAK"]]
	protein, ok := aaa.Comments.Get("Protein")
	require.True(t, ok)
	assert.Equal(t, "3/sp|P00001|ALPHA_TEST/sp|P00002|BETA_TEST/DECOY_sp|P00001|ALPHA_TEST", protein)
	ctx, _ := aaa.Comments.Get("PepContext")
	assert.Equal(t, "K.R/-.Q/K.R", ctx)
	ntt, _ := aaa.Comments.Get("NTT")
	assert.Equal(t, "2", ntt)
	assert.Equal(t, byte('K'), aaa.Peptide.PrevAA)
	assert.Equal(t, byte('R'), aaa.Peptide.NextAA)

	// PEPTIDEK occurs once, mid-protein.
	pep := got[byName["PEPTIDEK"]]
	protein, _ = pep.Comments.Get("Protein")
	assert.Equal(t, "1/sp|P00001|ALPHA_TEST", protein)
	ctx, _ = pep.Comments.Get("PepContext")
	assert.Equal(t, "T.G", ctx)
}

func TestMapPeptidesOverlappingOccurrences(t *testing.T) {
	b := &Builder{ppMappings: map[string][]proteinHit{"ARARA": nil}}
	b.mapPeptides("sp|P00003|PERIODIC", "ARARARA")

	hits := b.ppMappings["ARARA"]
	require.Len(t, hits, 2)
	assert.Equal(t, byte('-'), hits[0].prevAA)
	assert.Equal(t, byte('R'), hits[0].nextAA)
	assert.Equal(t, byte('R'), hits[1].prevAA)
	assert.Equal(t, byte('-'), hits[1].nextAA)
}

func TestRefreshDeleteUnmapped(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3},
		{seq: "WWWDDDR", charge: 2, prob: 0.95, nreps: 2}, // not in the database
	})

	cfg := DefaultConfig()
	cfg.RefreshDatabase = writeFasta(t)
	cfg.RefreshDeleteUnmapped = true
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 1)
	assert.Equal(t, "AAAELAK", got[0].Peptide.Sequence)
}

func TestRefreshKeepsUnmappedByDefault(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "WWWDDDR", charge: 2, prob: 0.95, nreps: 2},
	})

	cfg := DefaultConfig()
	cfg.RefreshDatabase = writeFasta(t)
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 1)
	protein, ok := got[0].Comments.Get("Protein")
	require.True(t, ok)
	assert.Equal(t, "0/UNMAPPED", protein)
}

func TestRefreshDeleteMultimapped(t *testing.T) {
	dir := t.TempDir()
	a := writeLibrary(t, filepath.Join(dir, "a.splib"), []libSpec{
		{seq: "AAAELAK", charge: 2, prob: 0.99, nreps: 3}, // three occurrences
		{seq: "PEPTIDEK", charge: 2, prob: 0.95, nreps: 2},
	})

	cfg := DefaultConfig()
	cfg.RefreshDatabase = writeFasta(t)
	cfg.RefreshDeleteMultimapped = true
	cfg.OutputFile = filepath.Join(dir, "out.splib")
	b := runBuild(t, cfg, []string{a})

	got := readAll(t, b.OutputPath())
	require.Len(t, got, 1)
	assert.Equal(t, "PEPTIDEK", got[0].Peptide.Sequence)
}
