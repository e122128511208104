package splib

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/byronyi/SpectraST/pkg/core"
)

// A subkey distinguishes entries sharing a stripped sequence within the
// peptide index: "{charge}|{mods}|{fragType}". The mods field is the
// canonical modification token string, so parsing a subkey recovers the
// exact peptide ion identity.

// Subkey builds the subkey for a peptide ion and fragmentation type.
func Subkey(pep *core.Peptide, fragType string) string {
	return fmt.Sprintf("%d|%s|%s", pep.Charge, pep.ModTokenString(), fragType)
}

// EntrySubkey builds the subkey for an entry.
func EntrySubkey(e *Entry) string {
	return Subkey(e.Peptide, e.FragType)
}

// ParseSubkey splits a subkey back into charge, modification string and
// fragmentation type.
func ParseSubkey(subkey string) (charge int, mods, fragType string, err error) {
	parts := strings.SplitN(subkey, "|", 3)
	if len(parts) != 3 {
		return 0, "", "", fmt.Errorf("malformed subkey %q", subkey)
	}
	charge, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", fmt.Errorf("malformed subkey charge in %q: %w", subkey, err)
	}
	return charge, parts[1], parts[2], nil
}
