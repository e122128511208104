package msp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMsp = `Name: AAELMTGQLK/2
MW: 1061.17
Comment: Parent=530.79 Mods=1/4,M,Oxidation Prob=1.0000 Nreps=3/5 Protein=sp|P12345|TEST
Num peaks: 3
201.1	350.2	"b2/0.01"
540.3	9000.0	"y5"
650.4	120.0	"?"

Name: GGIMDPK/1
Num peaks: 2
150.0	100.0
250.0	900.0
`

func TestReaderParsesEntries(t *testing.T) {
	r := NewReader(strings.NewReader(sampleMsp), nil)

	require.True(t, r.Next())
	e := r.Entry()
	require.NotNil(t, e)

	assert.Equal(t, "AAELMTGQLK", e.Peptide.Sequence)
	assert.Equal(t, 2, e.Peptide.Charge)
	assert.Equal(t, "1/4,M,Oxidation", e.Peptide.ModTokenString())
	assert.Equal(t, 530.79, e.PrecursorMZ)
	assert.Equal(t, 1.0, e.Probability)
	assert.Equal(t, 3, e.NrepsUsed)

	protein, ok := e.Comments.Get("Protein")
	require.True(t, ok)
	assert.Equal(t, "sp|P12345|TEST", protein)
	_, ok = e.Comments.Get("Mods")
	assert.False(t, ok)

	require.Len(t, e.Peaks.Peaks, 3)
	assert.Equal(t, "b2", e.Peaks.Peaks[0].Annotation)
	assert.Equal(t, "y5", e.Peaks.Peaks[1].Annotation)
	assert.Empty(t, e.Peaks.Peaks[2].Annotation)

	// Second entry has no Parent; the precursor comes from the sequence.
	require.True(t, r.Next())
	e = r.Entry()
	require.NotNil(t, e)
	assert.Equal(t, "GGIMDPK", e.Peptide.Sequence)
	assert.Equal(t, 1, e.Peptide.Charge)
	assert.Greater(t, e.PrecursorMZ, 700.0)

	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestReaderBadPeakLine(t *testing.T) {
	r := NewReader(strings.NewReader("Name: PEPTIDEK/2\nNum peaks: 1\nnot-a-number 5\n"), nil)
	assert.False(t, r.Next())
	assert.Error(t, r.Err())
}
