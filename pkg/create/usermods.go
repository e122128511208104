package create

import (
	"fmt"
	"sort"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// maxModPermutations caps the modification permutations generated per
// peptide; pathological token sets otherwise explode combinatorially.
const maxModPermutations = 512

// allowedModStates maps a residue to its permitted modification states; the
// empty string is the unmodified state.
type allowedModStates map[byte][]string

// parseAllowableTokens parses the user's token-set string, one braced set
// per residue: "{C,Carbamidomethyl} {M,M|Oxidation}". Within a set, the
// residue letter itself names the unmodified state, anything else a
// modification. "{C,Carbamidomethyl}" therefore pins C as always modified,
// while "{M,M|Oxidation}" lets M be plain or oxidized.
func parseAllowableTokens(s string) (allowedModStates, error) {
	allowed := make(allowedModStates)
	for _, set := range strings.Fields(strings.NewReplacer("{", " ", "}", " ").Replace(s)) {
		aa, states, ok := strings.Cut(set, ",")
		if !ok || len(aa) != 1 {
			return nil, fmt.Errorf("%w: malformed mod token set %q", ErrConfigConflict, set)
		}
		residue := aa[0]
		for _, state := range strings.Split(states, "|") {
			if state == aa {
				state = "" // unmodified
			}
			allowed[residue] = append(allowed[residue], state)
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: no usable mod token sets in %q", ErrConfigConflict, s)
	}
	return allowed, nil
}

// modPerm is one permutation of a peptide's modifications, with the number
// of positions changed from the source peptide.
type modPerm struct {
	pep     *core.Peptide
	changes int
}

// permuteAllowedMods enumerates every assignment of allowed states to the
// peptide's governed residues. Positions whose residue has no token set keep
// their existing modification.
func permuteAllowedMods(p *core.Peptide, allowed allowedModStates) []modPerm {
	var positions []int
	for i := 0; i < len(p.Sequence); i++ {
		if _, ok := allowed[p.Sequence[i]]; ok {
			positions = append(positions, i)
		}
	}

	perms := []modPerm{{pep: p.Clone(), changes: 0}}
	for _, pos := range positions {
		states := allowed[p.Sequence[pos]]
		orig := p.Mods[pos]
		var next []modPerm
		for _, perm := range perms {
			for _, state := range states {
				cp := perm.pep.Clone()
				if state == "" {
					delete(cp.Mods, pos)
				} else {
					cp.Mods[pos] = state
				}
				changes := perm.changes
				if state != orig {
					changes++
				}
				next = append(next, modPerm{pep: cp, changes: changes})
				if len(next) >= maxModPermutations {
					return next
				}
			}
		}
		perms = next
	}
	return perms
}

// doUserSpecifiedMods generates a library covering every allowed
// modification permutation of the input's peptides. Permutations already
// present keep their real spectra; the rest become semi-empirical entries
// derived from the closest real permutation (fewest modification changes).
func (b *Builder) doUserSpecifiedMods() error {
	allowed, err := parseAllowableTokens(b.cfg.AllowableModTokens)
	if err != nil {
		return err
	}
	if err := b.openSplibs(true, false, true); err != nil {
		return err
	}
	in := b.inputs[0]
	if in == nil || in.pep == nil {
		return fmt.Errorf("%w: %s", ErrFirstInputUnreadable, b.inputPaths[0])
	}
	if err := b.openWriter(); err != nil {
		return err
	}
	if err := b.refreshProteinMappings(); err != nil {
		return err
	}

	type newIon struct {
		pep     *core.Peptide
		changes int
		closest *splib.Entry
	}
	ions := make(map[string]*newIon)

	in.pep.Reset()
	for in.pep.Next() {
		seq, subkeys := in.pep.Peptide()
		for _, subkey := range subkeys {
			entries, err := in.pep.Retrieve(seq, subkey)
			if err != nil || len(entries) == 0 {
				b.skipped++
				continue
			}
			e := entries[0]
			if !b.passAllFilters(e) {
				continue
			}
			for _, perm := range permuteAllowedMods(e.Peptide, allowed) {
				key := seq + ":" + splib.Subkey(perm.pep, e.FragType)
				if cur, ok := ions[key]; !ok || perm.changes < cur.changes {
					ions[key] = &newIon{pep: perm.pep, changes: perm.changes, closest: e}
				}
			}
		}
	}

	keys := make([]string, 0, len(ions))
	for k := range ions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	semiempirical := 0
	for _, k := range keys {
		ion := ions[k]
		b.count++
		if ion.changes == 0 {
			b.processEntry(ion.closest)
			b.insert(ion.closest)
			continue
		}
		e := ion.closest.Clone()
		e.MakeSemiempirical(ion.pep, b.modDB)
		semiempirical++
		b.processEntry(e)
		b.insert(e)
	}

	b.log.Info("modification permutation complete",
		"ions", len(ions),
		"semiempirical", semiempirical,
	)
	return b.out.Close()
}
