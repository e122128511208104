package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidueMass(t *testing.T) {
	// Glycine: C2H3NO
	assert.InDelta(t, 57.02146, ResidueMass('G'), 0.0001)
	// Tryptophan, the heaviest standard residue
	assert.InDelta(t, 186.07931, ResidueMass('W'), 0.0001)
	// Unknown code
	assert.Equal(t, 0.0, ResidueMass('X'))
}

func TestNeutralMassAndPrecursorMZ(t *testing.T) {
	db := DefaultModDatabase()

	p, err := NewPeptide("PEPTIDEK", 2, "")
	require.NoError(t, err)
	mass := NeutralMass(p, db)
	assert.InDelta(t, 927.4549, mass, 0.001)

	mz := PrecursorMZ(p, db)
	assert.InDelta(t, (mass+2*ProtonMass)/2, mz, 1e-9)

	// A modification shifts the mass by its delta.
	pm, err := NewPeptide("PEPTIDEK", 2, "1/2,P,Phospho")
	require.NoError(t, err)
	delta, ok := db.GetMass("Phospho")
	require.True(t, ok)
	assert.InDelta(t, mass+delta, NeutralMass(pm, db), 1e-6)
}

func TestFragmentIons(t *testing.T) {
	db := DefaultModDatabase()
	p, err := NewPeptide("PEPTIDEK", 2, "")
	require.NoError(t, err)

	frags := FragmentIons(p, db)
	// 7 cleavage sites, b and y series at fragment charges 1 and 2.
	assert.Len(t, frags, 7*2*2)

	byLabel := make(map[string]float64)
	for _, f := range frags {
		byLabel[f.Label] = f.MZ
	}

	// b1 = P residue + proton
	assert.InDelta(t, ResidueMass('P')+ProtonMass, byLabel["b1"], 1e-6)
	// y1 = K residue + water + proton
	assert.InDelta(t, ResidueMass('K')+MassH2O+ProtonMass, byLabel["y1"], 1e-6)
	// Doubly charged b2 is labeled with its charge.
	b2 := byLabel["b2"]
	b2z2 := byLabel["b2^2"]
	assert.InDelta(t, (b2+ProtonMass)/2, b2z2, 1e-6)

	// b(n) and y(n) do not exist; the longest fragments are b7/y7.
	_, hasB8 := byLabel["b8"]
	assert.False(t, hasB8)
}

func TestFragmentIonsChargeOne(t *testing.T) {
	db := DefaultModDatabase()
	p, err := NewPeptide("PEPTIDEK", 1, "")
	require.NoError(t, err)

	// Singly charged precursors get no doubly charged fragments.
	for _, f := range FragmentIons(p, db) {
		assert.NotContains(t, f.Label, "^")
	}
}

func TestRoundFloat(t *testing.T) {
	assert.Equal(t, 1.23, RoundFloat(1.23456, 2))
	assert.Equal(t, 1.235, RoundFloat(1.23456, 3))
}
