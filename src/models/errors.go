package models

import "errors"

var (
	// ErrAccountNotFound means no FinancialAccount matches the source's
	// account key. Always surfaced, never papered over with a null owner.
	ErrAccountNotFound = errors.New("financial account not found")

	// ErrUnrecognizedCurrency means a source currency code has no canonical
	// mapping. Always surfaced, never defaulted.
	ErrUnrecognizedCurrency = errors.New("unrecognized currency code")

	// ErrDuplicateIngestion signals the raw row was already ingested. The
	// pipeline absorbs it as a no-op; it is never returned to callers.
	ErrDuplicateIngestion = errors.New("raw record already ingested")

	// ErrMalformedRecord marks a single record that failed to parse (e.g. a
	// bad SWIFT amount field). It fails that record, not the batch.
	ErrMalformedRecord = errors.New("malformed source record")
)
