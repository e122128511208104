package core

import (
	"fmt"
	"math"
)

// Atomic masses (monoisotopic)
const (
	MassH = 1.0078250321
	MassC = 12.0000000000
	MassN = 14.0030740052
	MassO = 15.9949146221
	MassS = 31.9720706900

	// Proton mass for charge calculations
	ProtonMass = 1.00727646688

	// Water, added once per peptide
	MassH2O = 2*MassH + MassO
)

// AminoAcidComposition stores elemental composition
type AminoAcidComposition struct {
	C, H, N, O, S int
}

// AminoAcidMasses maps amino acid one-letter codes to elemental composition
var AminoAcidMasses = map[byte]AminoAcidComposition{
	'A': {C: 3, H: 5, N: 1, O: 1, S: 0},
	'R': {C: 6, H: 12, N: 4, O: 1, S: 0},
	'N': {C: 4, H: 6, N: 2, O: 2, S: 0},
	'D': {C: 4, H: 5, N: 1, O: 3, S: 0},
	'C': {C: 3, H: 5, N: 1, O: 1, S: 1},
	'E': {C: 5, H: 7, N: 1, O: 3, S: 0},
	'Q': {C: 5, H: 8, N: 2, O: 2, S: 0},
	'G': {C: 2, H: 3, N: 1, O: 1, S: 0},
	'H': {C: 6, H: 7, N: 3, O: 1, S: 0},
	'I': {C: 6, H: 11, N: 1, O: 1, S: 0},
	'L': {C: 6, H: 11, N: 1, O: 1, S: 0},
	'K': {C: 6, H: 12, N: 2, O: 1, S: 0},
	'M': {C: 5, H: 9, N: 1, O: 1, S: 1},
	'F': {C: 9, H: 9, N: 1, O: 1, S: 0},
	'P': {C: 5, H: 7, N: 1, O: 1, S: 0},
	'S': {C: 3, H: 5, N: 1, O: 2, S: 0},
	'T': {C: 4, H: 7, N: 1, O: 2, S: 0},
	'W': {C: 11, H: 10, N: 2, O: 1, S: 0},
	'Y': {C: 9, H: 9, N: 1, O: 2, S: 0},
	'V': {C: 5, H: 9, N: 1, O: 1, S: 0},
}

// ResidueMass returns the monoisotopic residue mass of an amino acid, or 0
// for unknown codes.
func ResidueMass(aa byte) float64 {
	comp, ok := AminoAcidMasses[aa]
	if !ok {
		return 0.0
	}
	return float64(comp.C)*MassC +
		float64(comp.H)*MassH +
		float64(comp.N)*MassN +
		float64(comp.O)*MassO +
		float64(comp.S)*MassS
}

// NeutralMass computes the neutral monoisotopic mass of a peptide including
// its modifications. Modification tokens are resolved through db.
func NeutralMass(p *Peptide, db *ModDatabase) float64 {
	mass := MassH2O
	for i := 0; i < len(p.Sequence); i++ {
		mass += ResidueMass(p.Sequence[i])
	}
	for _, tok := range p.Mods {
		mass += db.TokenMass(tok)
	}
	return mass
}

// PrecursorMZ computes the precursor m/z of a peptide ion:
// (mass + charge * proton) / charge.
func PrecursorMZ(p *Peptide, db *ModDatabase) float64 {
	charge := p.Charge
	if charge < 1 {
		charge = 1
	}
	return (NeutralMass(p, db) + float64(charge)*ProtonMass) / float64(charge)
}

// FragmentIon is one predicted fragment with its label, e.g. "y3" or "b2^2".
type FragmentIon struct {
	Label string
	MZ    float64
}

// FragmentIons predicts the b and y series of a peptide at fragment charges
// 1 and 2 (fragment charge 2 only for precursor charge > 1).
func FragmentIons(p *Peptide, db *ModDatabase) []FragmentIon {
	n := len(p.Sequence)
	if n < 2 {
		return nil
	}
	// Per-residue masses including positional modifications.
	residue := make([]float64, n)
	for i := 0; i < n; i++ {
		residue[i] = ResidueMass(p.Sequence[i])
		if tok, ok := p.Mods[i]; ok {
			residue[i] += db.TokenMass(tok)
		}
	}
	ntermMod := 0.0
	if tok, ok := p.Mods[NTermPos]; ok {
		ntermMod = db.TokenMass(tok)
	}
	ctermMod := 0.0
	if tok, ok := p.Mods[n]; ok {
		ctermMod = db.TokenMass(tok)
	}

	maxFragCharge := 1
	if p.Charge > 1 {
		maxFragCharge = 2
	}

	ySuffix := make([]float64, n+1)
	for i := n - 1; i >= 0; i-- {
		ySuffix[i] = ySuffix[i+1] + residue[i]
	}

	var frags []FragmentIon
	bMass := ntermMod
	for i := 0; i < n-1; i++ {
		bMass += residue[i]
		yMass := MassH2O + ctermMod + ySuffix[i+1]
		for z := 1; z <= maxFragCharge; z++ {
			frags = append(frags,
				FragmentIon{Label: ionLabel('b', i+1, z), MZ: (bMass + float64(z)*ProtonMass) / float64(z)},
				FragmentIon{Label: ionLabel('y', n-i-1, z), MZ: (yMass + float64(z)*ProtonMass) / float64(z)},
			)
		}
	}
	return frags
}

func ionLabel(series byte, ordinal, charge int) string {
	if charge == 1 {
		return fmt.Sprintf("%c%d", series, ordinal)
	}
	return fmt.Sprintf("%c%d^%d", series, ordinal, charge)
}

// RoundFloat rounds a float to n decimal places
func RoundFloat(val float64, precision int) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
