package repository

import "errors"

// ErrNotFound indicates an entity was not located for the caller's tenant.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates the caller supplied malformed input.
var ErrInvalidArgument = errors.New("repository: invalid argument")

// ErrImmutable indicates an attempted mutation of a persisted append-only
// row (audit entry or version snapshot).
var ErrImmutable = errors.New("repository: immutable record")
