package link

import "errors"

// Domain errors for the link package, checked with errors.Is().
var (
	// ErrNotFound is returned when no active link matches the lookup.
	ErrNotFound = errors.New("link: not found")

	// ErrSubjectExists is returned when creating a link whose subject is
	// already bound to an active link.
	ErrSubjectExists = errors.New("link: subject already linked")

	// ErrInvalidSubject is returned when a link subject is empty.
	ErrInvalidSubject = errors.New("link: invalid subject")
)
