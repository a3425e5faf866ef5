package stm

import (
	"errors"
	"fmt"
)

// Closed taxonomy of error kinds a caller can match with errors.Is. The
// sentinel style mirrors the transaction-error idiom used elsewhere in the
// corpus for hand-rolled transaction managers (e.g. Jekaa-go-mvcc-map's
// ErrConflict/ErrTxDone), rather than a bespoke panic/recover protocol.
var (
	// ErrConflict is never returned to a Run/RunReadOnly caller: it is
	// caught at the outermost frame and the closure is retried. Inside a
	// closure it can be observed from Cell.Read or from a nested
	// Run/RunReadOnly; code that chooses not to return it up the closure
	// leaves the transaction's subsequent behavior undefined.
	ErrConflict = errors.New("stm: conflict")

	// ErrOutsideTransaction is returned by Cell.Read and Cell.Write when
	// called with a context that carries no running transaction.
	ErrOutsideTransaction = errors.New("stm: outside transaction")

	// ErrReadOnly is returned when a write (or a nested read-write Begin)
	// is attempted against a read-only frame.
	ErrReadOnly = errors.New("stm: read-only transaction")

	// ErrValidation is returned when a Cell's OnValidate hook vetoes a
	// buffered write. It aborts the enclosing Run exactly like any other
	// non-Conflict error from the closure.
	ErrValidation = errors.New("stm: validation failed")

	// ErrArgumentNull is returned by Run/RunReadOnly given a nil closure.
	ErrArgumentNull = errors.New("stm: nil argument")
)

func newErr(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

func newValidationErr(cause error) error {
	return fmt.Errorf("%w: %w", ErrValidation, cause)
}
