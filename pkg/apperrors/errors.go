package apperrors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreTransient marks a persistence failure the caller may retry
	// (connection loss, lock conflict, I/O). The transaction was rolled back.
	ErrStoreTransient = errors.New("store transient failure")

	// ErrStoreIntegrity marks a constraint violation other than a documented upsert.
	ErrStoreIntegrity = errors.New("store integrity violation")

	ErrEncoderUnavailable = errors.New("encoder unavailable")
)
