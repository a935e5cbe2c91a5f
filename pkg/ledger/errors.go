// Package ledger executes contract operations as atomic transactions against
// the versioned world state, with optimistic concurrency at commit.
package ledger

import "errors"

var (
	// ErrNotFound indicates the operation's target record is absent
	ErrNotFound = errors.New("ledger: record not found")

	// ErrAlreadyExists indicates a create on a key already present
	ErrAlreadyExists = errors.New("ledger: record already exists")

	// ErrConflict indicates the optimistic version check failed at commit;
	// the only error kind a caller should retry, with fresh reads
	ErrConflict = errors.New("ledger: transaction conflict")

	// ErrMalformedInput indicates an argument that does not parse or
	// validate into the expected record shape
	ErrMalformedInput = errors.New("ledger: malformed input")

	// ErrReadOnly indicates a state write attempted inside a query
	ErrReadOnly = errors.New("ledger: write in read-only transaction")
)
