package store

import "errors"

var (
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")

	// ErrPartialFailure means a multi-step scoped mutation applied some but
	// not all of its writes. Postgres-backed stores never return it (each
	// scope runs in one transaction); the contract exists for stores without
	// multi-entity transactions and must never be swallowed.
	ErrPartialFailure = errors.New("partial failure")
)
