package ingest

import "errors"

// Failure classes surfaced by Ingest. Match with errors.Is.
var (
	// ErrParse means the document is malformed or unreadable.
	ErrParse = errors.New("parse failure")

	// ErrHash means the document bytes could not be read for hashing. It is
	// returned before any store interaction.
	ErrHash = errors.New("hash failure")

	// ErrStore means a store operation failed for a reason other than a
	// uniqueness conflict. Rows committed before the failure stay in place.
	ErrStore = errors.New("store failure")
)
