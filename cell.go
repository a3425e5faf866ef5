package stm

import (
	"context"
	"sync/atomic"
)

var cellIDSeq atomic.Uint64

// Cell is one transactionally-accessed shared location holding a value of
// type T. The zero value is not usable; construct one with NewCell.
//
// A Cell's value is only ever mutated while its vLock's lock bit is held by
// the committing transaction (see lock.go); all other access goes through
// the lock-free consistent-read protocol in consistentRead.
type Cell[T any] struct {
	id    uint64
	vLock versionedLock
	value T

	validators listenerSet[func(T) error]
	changed    listenerSet[func(T)]
}

// NewCell creates a cell holding initial. Every Cell is implicitly bound to
// the package's single global clock (spec.md §3: one clock, process-wide).
// Callable inside or outside any transaction.
func NewCell[T any](initial T) *Cell[T] {
	c := &Cell[T]{id: cellIDSeq.Add(1)}
	c.value = initial
	return c
}

// ID is the cell's process-unique, stable-for-life identity. Commit-time
// lock acquisition orders cells by ID to make concurrent committers
// deadlock-free.
func (c *Cell[T]) ID() uint64 {
	return c.id
}

// --- cellHandle: the type-erased view rwTxn's commit protocol operates on.

func (c *Cell[T]) cellID() uint64 {
	return c.id
}

func (c *Cell[T]) loadVLock() uint64 {
	return c.vLock.load()
}

func (c *Cell[T]) tryAcquire(observed uint64) bool {
	return c.vLock.tryLock(observed)
}

func (c *Cell[T]) releaseLock(preLockVersion uint64) {
	c.vLock.unlock(preLockVersion)
}

// publishLocked stores payload and the new version. The caller must already
// hold this cell's lock; the type assertion can only fail if some other
// cellHandle's write-set entry were passed in by mistake, which would be an
// internal bug in rwtxn.go, not a user error.
func (c *Cell[T]) publishLocked(payload any, writeVersion uint64) {
	c.value = payload.(T)
	c.vLock.publish(writeVersion)
}

func (c *Cell[T]) fireChanged(payload any) {
	v := payload.(T)
	for _, fn := range c.changed.snapshot() {
		fn := fn
		safeCall(func() { fn(v) })
	}
}

// consistentRead is the lock-free protocol shared by read-only transactions
// and read-write reads that miss the write-set: sample the lock, read the
// value, sample the lock again, and only accept the read if both samples
// agree, are unlocked, and are not newer than readVersion.
func (c *Cell[T]) consistentRead(readVersion uint64) (T, error) {
	for {
		pre := c.vLock.load()
		v := c.value
		post := c.vLock.load()
		if pre != post || isLocked(pre) {
			continue
		}
		if versionOf(pre) > readVersion {
			var zero T
			return zero, newErr(ErrConflict, "cell changed after the transaction's snapshot")
		}
		return v, nil
	}
}

// Read returns the cell's value as seen by the transaction running on ctx.
// It fails with ErrOutsideTransaction if ctx carries no transaction.
func (c *Cell[T]) Read(ctx context.Context) (T, error) {
	switch t := txnFromContext(ctx).(type) {
	case *rwTxn:
		return c.readRW(t)
	case *roTxn:
		return c.consistentRead(t.readVersion)
	default:
		var zero T
		return zero, newErr(ErrOutsideTransaction, "Read called with no running transaction")
	}
}

func (c *Cell[T]) readRW(t *rwTxn) (T, error) {
	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i].writes == nil {
			continue
		}
		if payload, ok := t.stack[i].writes[c]; ok {
			return payload.(T), nil
		}
	}
	v, err := c.consistentRead(t.readVersion)
	if err != nil {
		return v, err
	}
	top := t.top()
	top.reads[c] = struct{}{}
	return v, nil
}

// Write buffers v as this cell's new value within the transaction running
// on ctx. It is not visible to other transactions, or to this one's own
// parent frame, until that frame commits. Fails with ErrReadOnly inside a
// read-only frame and ErrOutsideTransaction with no running transaction.
func (c *Cell[T]) Write(ctx context.Context, v T) error {
	switch t := txnFromContext(ctx).(type) {
	case *rwTxn:
		top := t.top()
		if top.readOnly {
			return newErr(ErrReadOnly, "Write called in a read-only frame")
		}
		for _, fn := range c.validators.snapshot() {
			if err := fn(v); err != nil {
				return newValidationErr(err)
			}
		}
		if top.writes == nil {
			top.writes = make(map[cellHandle]any)
		}
		top.writes[c] = v
		return nil
	case *roTxn:
		return newErr(ErrReadOnly, "Write called in a read-only transaction")
	default:
		return newErr(ErrOutsideTransaction, "Write called with no running transaction")
	}
}

// OnValidate registers fn to run synchronously, inside the writer's
// transaction, every time this cell is about to buffer a new value. Any
// error fn returns vetoes the write: the buffer is left untouched and the
// transaction surfaces ErrValidation, aborting the enclosing Run. The
// returned closure deregisters fn.
func (c *Cell[T]) OnValidate(fn func(next T) error) func() {
	return c.validators.add(fn)
}

// OnChanged registers fn to run once, after the outermost commit that wrote
// this cell has popped its frame, outside any transactional state. Panics
// from fn are recovered and discarded. The returned closure deregisters fn.
func (c *Cell[T]) OnChanged(fn func(next T)) func() {
	return c.changed.add(fn)
}
