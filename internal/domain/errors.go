// ABOUTME: Sentinel errors shared by the repository, service and consumers.
// ABOUTME: Callers classify failures with errors.Is.

package domain

import "errors"

var (
	// ErrNotFound is returned when a conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a save races another writer of the same
	// conversation. The caller may reload and retry.
	ErrConflict = errors.New("conflicting update")

	// ErrInvalidRole is returned for a role outside the known set.
	ErrInvalidRole = errors.New("invalid role")
)
