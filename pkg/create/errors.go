package create

import "errors"

// Sentinel errors for the abort classes of a build run. Anything not in one
// of these classes degrades gracefully: the offending record is skipped and
// counted, never crashing the run.
var (
	// ErrConfigConflict marks a configuration that cannot produce output,
	// e.g. SUBTRACT_HOMOLOGS combined with a build action.
	ErrConfigConflict = errors.New("configuration conflict")

	// ErrNonUniqueLibrary marks an input whose peptide index maps some
	// peptide ion to more than one entry where uniqueness is required.
	ErrNonUniqueLibrary = errors.New("library is not unique")

	// ErrFirstInputUnreadable marks a failure to open the first input;
	// all comparisons pivot on it, so the run cannot continue.
	ErrFirstInputUnreadable = errors.New("first input library unreadable")
)
