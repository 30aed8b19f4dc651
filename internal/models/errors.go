package models

import "errors"

// Sentinel errors shared by every layer of the file core. Callers wrap them
// with context using fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrNotFound means the file, version or folder is absent or not visible
	// to the tenant (soft-deleted files included).
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied means a permission check failed.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidArgument covers bad MIME filters, unknown actions, non-image
	// thumbnail targets and malformed permission targets.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageWrite is returned when a backend could not persist content.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrStorageNotFound is returned when a backend has no object at a path.
	ErrStorageNotFound = errors.New("storage object not found")

	// ErrConflict is returned to the loser of a version-number race once
	// retries are exhausted.
	ErrConflict = errors.New("conflict")
)
