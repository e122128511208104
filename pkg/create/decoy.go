package create

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
	"github.com/byronyi/SpectraST/pkg/splib"
)

// doGenerateDecoy shuffles every real peptide of a unique library into
// DecoySizeRatio decoy permutations, creating one decoy entry per
// charge/mod/fragmentation variant of the real peptide. With
// DecoyConcatenate set, the real entries are written out alongside the
// decoys.
func (b *Builder) doGenerateDecoy() error {
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

	// Every real sequence is off-limits for decoys, as is every decoy
	// already generated. Keyed by length so permutations only probe their
	// own bucket.
	taken := make(map[int]map[string]bool)
	for _, seq := range in.pep.AllSequences() {
		if taken[len(seq)] == nil {
			taken[len(seq)] = make(map[string]bool)
		}
		taken[len(seq)][seq] = true
	}

	decoys := 0
	in.pep.Reset()
	for in.pep.Next() {
		seq, subkeys := in.pep.Peptide()
		// Sequences flagged as unparseable by upstream tools.
		if strings.HasPrefix(seq, "_") {
			continue
		}

		// Template peptide: each position ever modified in any variant
		// is pinned during shuffling. The marker token records the
		// original position, so the shuffled template yields an
		// old-to-new position map that works even when residues get
		// inserted.
		template, err := core.NewPeptide(seq, 2, "")
		if err != nil {
			b.log.LogSkippedEntry(seq, "invalid sequence")
			b.skipped++
			continue
		}

		type variant struct {
			subkey string
			entry  *splib.Entry
		}
		var variants []variant
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
			b.processEntry(e)
			if b.cfg.DecoyConcatenate {
				b.insert(e)
			}
			for pos := range e.Peptide.Mods {
				template.Mods[pos] = strconv.Itoa(pos)
			}
			variants = append(variants, variant{subkey: subkey, entry: e})
		}
		if len(variants) == 0 {
			continue
		}
		b.count++

		for fold := 0; fold < b.cfg.DecoySizeRatio; fold++ {
			shuffled, inserted := template.Shuffle(b.rng, taken)
			if taken[len(shuffled.Sequence)] == nil {
				taken[len(shuffled.Sequence)] = make(map[string]bool)
			}
			taken[len(shuffled.Sequence)][shuffled.Sequence] = true

			remap := make(map[int]int, len(shuffled.Mods))
			remap[core.NTermPos] = core.NTermPos
			for newPos, tok := range shuffled.Mods {
				if orig, err := strconv.Atoi(tok); err == nil {
					remap[orig] = newPos
				}
			}
			b.log.Debug("decoy shuffle",
				"peptide", seq,
				"decoy", shuffled.Sequence,
				"inserted", inserted,
				"fold", fold+1,
			)

			for _, v := range variants {
				real := v.entry.Peptide
				decoyPep := &core.Peptide{
					Sequence: shuffled.Sequence,
					Charge:   real.Charge,
					Mods:     make(map[int]string, len(real.Mods)),
					PrevAA:   real.PrevAA,
					NextAA:   real.NextAA,
				}
				for pos, tok := range real.Mods {
					if newPos, ok := remap[pos]; ok {
						decoyPep.Mods[newPos] = tok
					}
				}

				decoy := v.entry.Clone()
				decoy.MakeDecoy(decoyPep, fold+1)
				if inserted > 0 {
					// Inserted residues change the mass.
					decoy.PrecursorMZ = core.PrecursorMZ(decoyPep, b.modDB)
				}
				b.insert(decoy)
				decoys++
			}
		}
	}

	b.log.Info("decoy generation complete",
		"real_peptides", b.count,
		"decoys", decoys,
		"ratio", b.cfg.DecoySizeRatio,
		"concatenated", b.cfg.DecoyConcatenate,
	)
	return b.out.Close()
}
