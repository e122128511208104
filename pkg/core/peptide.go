// Package core provides the peptide and peak-list models shared by the
// spectral library readers, indices and the build/merge engine.
package core

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// Residues is the canonical amino acid alphabet, one-letter codes.
const Residues = "ACDEFGHIKLMNPQRSTVWY"

// Positions for terminal modifications in Peptide.Mods.
const (
	NTermPos = -1
)

// Peptide represents one peptide ion identity: a stripped sequence with a
// charge state, positional modification tokens and flanking residues from the
// protein context.
type Peptide struct {
	Sequence string
	Charge   int
	Mods     map[int]string // position -> mod token; NTermPos for N-term, len(Sequence) for C-term
	PrevAA   byte
	NextAA   byte
}

// NewPeptide creates a peptide from a stripped sequence, charge and an
// MSP-style modification string ("2/3,C,Carbamidomethyl/8,M,Oxidation").
func NewPeptide(sequence string, charge int, modStr string) (*Peptide, error) {
	p := &Peptide{
		Sequence: sequence,
		Charge:   charge,
		Mods:     make(map[int]string),
		PrevAA:   '-',
		NextAA:   '-',
	}
	if err := p.ParseModTokens(modStr); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseModTokens merges an MSP-style modification string into p.Mods.
// An empty string or "0" means no modifications.
func (p *Peptide) ParseModTokens(modStr string) error {
	modStr = strings.TrimSpace(modStr)
	if modStr == "" || modStr == "0" {
		return nil
	}
	parts := strings.Split(modStr, "/")
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid modification count in %q: %w", modStr, err)
	}
	if count != len(parts)-1 {
		return fmt.Errorf("modification count %d does not match %d tokens in %q", count, len(parts)-1, modStr)
	}
	for _, part := range parts[1:] {
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return fmt.Errorf("invalid modification token %q, expected 'pos,AA,name'", part)
		}
		pos, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("invalid modification position %q: %w", fields[0], err)
		}
		if pos < NTermPos || pos > len(p.Sequence) {
			return fmt.Errorf("modification position %d out of range for %q", pos, p.Sequence)
		}
		p.Mods[pos] = fields[2]
	}
	return nil
}

// ModTokenString returns the canonical MSP-style modification string with
// positions in ascending order. Empty mods yield "0".
func (p *Peptide) ModTokenString() string {
	if len(p.Mods) == 0 {
		return "0"
	}
	positions := make([]int, 0, len(p.Mods))
	for pos := range p.Mods {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(len(positions)))
	for _, pos := range positions {
		aa := byte('n')
		if pos == len(p.Sequence) {
			aa = 'c'
		} else if pos >= 0 {
			aa = p.Sequence[pos]
		}
		fmt.Fprintf(&sb, "/%d,%c,%s", pos, aa, p.Mods[pos])
	}
	return sb.String()
}

// NAA returns the number of amino acids in the stripped sequence.
func (p *Peptide) NAA() int {
	return len(p.Sequence)
}

// Name returns the peptide ion name in "SEQUENCE/CHARGE" form.
func (p *Peptide) Name() string {
	return fmt.Sprintf("%s/%d", p.Sequence, p.Charge)
}

// FullName returns the name with flanking residues, e.g. "K.PEPTIDEK.L/2".
func (p *Peptide) FullName() string {
	return fmt.Sprintf("%c.%s.%c/%d", p.PrevAA, p.Sequence, p.NextAA, p.Charge)
}

// Equal reports whether two peptides have the same sequence, charge and
// modification pattern.
func (p *Peptide) Equal(other *Peptide) bool {
	if other == nil || p.Sequence != other.Sequence || p.Charge != other.Charge {
		return false
	}
	return p.ModTokenString() == other.ModTokenString()
}

// NTT returns the number of tryptic termini (0-2).
func (p *Peptide) NTT() int {
	if len(p.Sequence) == 0 {
		return 0
	}
	n := 0
	if p.PrevAA == 'K' || p.PrevAA == 'R' || p.PrevAA == '-' {
		n++
	}
	last := p.Sequence[len(p.Sequence)-1]
	if last == 'K' || last == 'R' || p.NextAA == '-' {
		n++
	}
	return n
}

// NMC returns the number of missed tryptic cleavages: internal K/R residues
// not followed by proline.
func (p *Peptide) NMC() int {
	n := 0
	for i := 0; i < len(p.Sequence)-1; i++ {
		if (p.Sequence[i] == 'K' || p.Sequence[i] == 'R') && p.Sequence[i+1] != 'P' {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Peptide) Clone() *Peptide {
	cp := &Peptide{
		Sequence: p.Sequence,
		Charge:   p.Charge,
		Mods:     make(map[int]string, len(p.Mods)),
		PrevAA:   p.PrevAA,
		NextAA:   p.NextAA,
	}
	for pos, tok := range p.Mods {
		cp.Mods[pos] = tok
	}
	return cp
}

// Homolog reports whether other is a homolog of p at the given minimum
// identity: the longest common subsequence of the two stripped sequences,
// divided by the length of the shorter one, must reach minIdentity. The
// returned count is the number of aligned identical residues.
func (p *Peptide) Homolog(other *Peptide, minIdentity float64) (bool, int) {
	identity := lcsLength(p.Sequence, other.Sequence)
	shorter := len(p.Sequence)
	if len(other.Sequence) < shorter {
		shorter = len(other.Sequence)
	}
	if shorter == 0 {
		return false, 0
	}
	return float64(identity)/float64(shorter) >= minIdentity, identity
}

func lcsLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// maxShuffleAttempts is the number of plain permutations tried before
// resorting to residue insertion during decoy generation.
const maxShuffleAttempts = 20

// Shuffle produces a decoy permutation of the peptide. Residues bearing a
// modification stay in place; only unmodified positions are randomized. If
// every attempted permutation collides with a sequence in taken (keyed by
// sequence length), up to two random residues are inserted to escape the
// collision. The returned peptide carries the same charge, modifications and
// flanking residues. The second return value is the number of inserted
// residues.
func (p *Peptide) Shuffle(rng *rand.Rand, taken map[int]map[string]bool) (*Peptide, int) {
	for attempt := 0; attempt < maxShuffleAttempts; attempt++ {
		shuffled := p.permuteUnmodified(rng)
		if !taken[len(shuffled.Sequence)][shuffled.Sequence] {
			return shuffled, 0
		}
	}
	// Collisions persist (short or low-complexity sequences). Grow the
	// sequence by one, then two, random residues.
	for inserted := 1; inserted <= 2; inserted++ {
		for attempt := 0; attempt < maxShuffleAttempts; attempt++ {
			grown := p.insertRandomResidues(rng, inserted)
			shuffled := grown.permuteUnmodified(rng)
			if !taken[len(shuffled.Sequence)][shuffled.Sequence] {
				return shuffled, inserted
			}
		}
	}
	// Give up on uniqueness; return the last permutation grown by two.
	grown := p.insertRandomResidues(rng, 2)
	return grown.permuteUnmodified(rng), 2
}

// permuteUnmodified returns a copy with the unmodified residue positions
// randomly permuted among themselves.
func (p *Peptide) permuteUnmodified(rng *rand.Rand) *Peptide {
	cp := p.Clone()
	seq := []byte(cp.Sequence)
	var movable []int
	for i := range seq {
		if _, fixed := cp.Mods[i]; !fixed {
			movable = append(movable, i)
		}
	}
	order := rng.Perm(len(movable))
	permuted := make([]byte, len(seq))
	copy(permuted, seq)
	for i, j := range order {
		permuted[movable[i]] = seq[movable[j]]
	}
	cp.Sequence = string(permuted)
	return cp
}

// insertRandomResidues returns a copy with n random residues inserted at
// unmodified interior positions; modification positions at or beyond an
// insertion point shift right so tokens stay attached to their residues.
func (p *Peptide) insertRandomResidues(rng *rand.Rand, n int) *Peptide {
	cp := p.Clone()
	for k := 0; k < n; k++ {
		idx := 0
		if len(cp.Sequence) > 0 {
			idx = rng.Intn(len(cp.Sequence))
		}
		if _, fixed := cp.Mods[idx]; fixed {
			idx++ // insert after a modified residue, never between it and its token
		}
		aa := Residues[rng.Intn(len(Residues))]
		cp.Sequence = cp.Sequence[:idx] + string(aa) + cp.Sequence[idx:]
		shifted := make(map[int]string, len(cp.Mods))
		for pos, tok := range cp.Mods {
			if pos >= idx && pos != NTermPos {
				pos++
			}
			shifted[pos] = tok
		}
		cp.Mods = shifted
	}
	return cp
}
