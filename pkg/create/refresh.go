package create

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/byronyi/SpectraST/pkg/splib"
)

// proteinHit is one occurrence of a library peptide in a sequence database:
// the protein accession and the residues flanking the match.
type proteinHit struct {
	accession string
	prevAA    byte
	nextAA    byte
}

// decoyAccession reports an accession that names a decoy or reversed
// protein; real mappings list ahead of these.
func decoyAccession(acc string) bool {
	return strings.HasPrefix(acc, "DECOY") || strings.HasPrefix(acc, "REV") ||
		strings.HasPrefix(acc, "rev_")
}

// refreshProteinMappings scans the configured FASTA database for every
// library peptide sequence and fills ppMappings. A no-op unless a refresh
// database is configured. The whole database streams through once; each
// protein is searched for all peptides.
func (b *Builder) refreshProteinMappings() error {
	if b.ppMappings == nil {
		return nil
	}
	path := b.cfg.RefreshDatabase
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open refresh database %s: %w", path, err)
	}
	defer f.Close()

	b.log.Info("refreshing protein mappings",
		"database", path,
		"peptides", len(b.ppMappings),
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var accession string
	var protein strings.Builder
	flush := func() {
		if accession != "" && protein.Len() > 0 {
			b.mapPeptides(accession, protein.String())
		}
		protein.Reset()
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			accession = strings.Fields(line[1:])[0]
			continue
		}
		protein.WriteString(line)
	}
	flush()
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read refresh database %s: %w", path, err)
	}

	mapped := 0
	for _, hits := range b.ppMappings {
		if hits != nil {
			mapped++
		}
	}
	b.log.Info("protein mapping done",
		"mapped", mapped,
		"unmapped", len(b.ppMappings)-mapped,
	)
	return nil
}

// mapPeptides records every occurrence of a tracked peptide in one protein.
func (b *Builder) mapPeptides(accession, protein string) {
	for seq := range b.ppMappings {
		from := 0
		for {
			i := strings.Index(protein[from:], seq)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(seq)
			hit := proteinHit{accession: accession, prevAA: '-', nextAA: '-'}
			if start > 0 {
				hit.prevAA = protein[start-1]
			}
			if end < len(protein) {
				hit.nextAA = protein[end]
			}
			b.ppMappings[seq] = append(b.ppMappings[seq], hit)
			// Advance one residue, not past the match: occurrences of
			// periodic sequences may overlap.
			from = start + 1
		}
	}
}

// applyProteinMapping rewrites an entry's protein comments from the refresh
// results: the mapping count and accession list, with decoy accessions
// pushed to the back, and the protein context of the best-NTT occurrence
// adopted as the peptide's flanking residues.
func (b *Builder) applyProteinMapping(e *splib.Entry) {
	if b.ppMappings == nil || e.Peptide == nil {
		return
	}
	hits, found := b.ppMappings[e.Peptide.Sequence]
	if !found {
		return
	}
	if orig, ok := e.Comments.Get("Protein"); ok {
		e.Comments.Set("OrigProtein", orig)
	}
	if hits == nil {
		e.Comments.Set("Protein", "0/UNMAPPED")
		return
	}

	ordered := make([]proteinHit, 0, len(hits))
	for _, h := range hits {
		if !decoyAccession(h.accession) {
			ordered = append(ordered, h)
		}
	}
	for _, h := range hits {
		if decoyAccession(h.accession) {
			ordered = append(ordered, h)
		}
	}

	accessions := make([]string, 0, len(ordered))
	contexts := make([]string, 0, len(ordered))
	best := ordered[0]
	bestNTT := -1
	for _, h := range ordered {
		accessions = append(accessions, h.accession)
		contexts = append(contexts, fmt.Sprintf("%c.%c", h.prevAA, h.nextAA))

		trial := e.Peptide.Clone()
		trial.PrevAA, trial.NextAA = h.prevAA, h.nextAA
		if ntt := trial.NTT(); ntt > bestNTT {
			bestNTT = ntt
			best = h
		}
	}
	e.Peptide.PrevAA, e.Peptide.NextAA = best.prevAA, best.nextAA

	e.Comments.Set("Protein", fmt.Sprintf("%d/%s", len(ordered), strings.Join(accessions, "/")))
	e.Comments.Set("PepContext", strings.Join(contexts, "/"))
	e.Comments.Set("NTT", fmt.Sprintf("%d", bestNTT))
}
