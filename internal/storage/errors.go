package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrManifestTerminal is returned when attempting a second terminal
	// transition on an ingestion run manifest. Manifests are append-only
	// audit records: one RUNNING -> COMPLETED/FAILED transition, ever.
	ErrManifestTerminal = errors.New("manifest already in terminal state")
)
