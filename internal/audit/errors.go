package audit

import "errors"

// Store sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a site, run, or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRunSealed is returned on writes or seal transitions against a run
	// that already reached a terminal status.
	ErrRunSealed = errors.New("audit run already sealed")

	// ErrRunNotSealed is returned when a diff references a run that is
	// still RUNNING.
	ErrRunNotSealed = errors.New("audit run is not sealed")
)
