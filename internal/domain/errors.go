package domain

import "errors"

// Domain errors
var (
	ErrInvalidInput              = errors.New("invalid input")
	ErrLayoutNotFound            = errors.New("layout not found")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrForbidden                 = errors.New("layout is not writable by this user")
	ErrNameRequired              = errors.New("name is required")
	ErrNameTooLong               = errors.New("name exceeds maximum length")
	ErrDataRequired              = errors.New("layout data is required")
	ErrDataInvalid               = errors.New("layout data must be valid JSON")
	ErrInvalidPermission         = errors.New("invalid permission")
	ErrUnmodifiedSinceRequired   = errors.New("ifUnmodifiedSince is required")
	ErrNamespaceRequired         = errors.New("namespace is required")
	ErrSnapshotConflict          = errors.New("snapshot violates layout name uniqueness")
	ErrSnapshotDuplicateLayoutID = errors.New("snapshot contains duplicate layout id")
)

// Validation constants
const (
	MaxLayoutNameLength = 255
)
