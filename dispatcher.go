package stm

import (
	"context"
	"errors"
)

// ctxKey is the unexported context.Context key the currently running
// transaction (a *rwTxn or a *roTxn) is stored under. Keeping the key type
// private and unexported prevents any other package from reading or
// spoofing the slot.
type ctxKey struct{}

func withTxn(ctx context.Context, t any) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

func txnFromContext(ctx context.Context) any {
	return ctx.Value(ctxKey{})
}

// IsTransactionRunning reports whether ctx carries a transaction that is
// currently running (has at least one live nested Begin).
func IsTransactionRunning(ctx context.Context) bool {
	switch t := txnFromContext(ctx).(type) {
	case *rwTxn:
		return t.running()
	case *roTxn:
		return t.running()
	default:
		return false
	}
}

// Run executes f in a read-write transaction, retrying it transparently on
// conflict. If ctx already carries a running transaction, f runs as a
// nested frame on that same transaction instead of starting a new one: its
// writes become visible to the parent frame on success, and vanish on any
// failure, which is then re-raised unchanged so the outermost call's retry
// loop (or the caller, for a non-Conflict failure) can handle it.
//
// Run fails immediately with ErrArgumentNull if f is nil, and with
// ErrReadOnly if ctx's current transaction is a read-only one (a read-write
// transaction may never nest inside a read-only one) or if the innermost
// frame of an existing read-write transaction is itself read-only.
func Run(ctx context.Context, f func(context.Context) error) error {
	if f == nil {
		return newErr(ErrArgumentNull, "f must not be nil")
	}
	switch existing := txnFromContext(ctx).(type) {
	case *rwTxn:
		return runNestedRW(ctx, existing, f)
	case *roTxn:
		return newErr(ErrReadOnly, "cannot begin a read-write transaction while a read-only transaction is running")
	default:
		return runOutermostRW(ctx, f)
	}
}

func runOutermostRW(ctx context.Context, f func(context.Context) error) error {
	t := &rwTxn{clock: defaultClock}
	innerCtx := withTxn(ctx, t)

	for {
		if err := t.beginRW(); err != nil {
			return err
		}

		if err := f(innerCtx); err != nil {
			t.rollback()
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}

		if err := t.commitOutermost(); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
}

func runNestedRW(ctx context.Context, t *rwTxn, f func(context.Context) error) error {
	if err := t.beginRW(); err != nil {
		return err
	}
	if err := f(ctx); err != nil {
		t.rollback()
		return err
	}
	t.commitInner()
	return nil
}

// RunReadOnly executes f in a read-only transaction: reads are validated
// in O(1) against a snapshot with no read-set to maintain, and any write
// attempted inside f fails with ErrReadOnly. Nesting rules mirror Run:
// nesting inside an existing read-write transaction pushes a read-only
// frame onto that transaction's stack instead of starting a fresh one.
func RunReadOnly(ctx context.Context, f func(context.Context) error) error {
	if f == nil {
		return newErr(ErrArgumentNull, "f must not be nil")
	}
	switch existing := txnFromContext(ctx).(type) {
	case *rwTxn:
		return runNestedRO(ctx, existing, f)
	case *roTxn:
		return runNestedROOnRO(ctx, existing, f)
	default:
		return runOutermostRO(ctx, f)
	}
}

func runOutermostRO(ctx context.Context, f func(context.Context) error) error {
	t := &roTxn{clock: defaultClock}
	innerCtx := withTxn(ctx, t)

	for {
		t.begin()
		err := f(innerCtx)
		t.end()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
}

func runNestedROOnRO(ctx context.Context, t *roTxn, f func(context.Context) error) error {
	t.begin()
	err := f(ctx)
	t.end()
	return err
}

func runNestedRO(ctx context.Context, t *rwTxn, f func(context.Context) error) error {
	t.beginRO()
	if err := f(ctx); err != nil {
		t.rollback()
		return err
	}
	t.commitInner()
	return nil
}
