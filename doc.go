// Package stm implements Software Transactional Memory: ACID-ish access to
// shared mutable Cell[T] values from multiple goroutines without explicit
// locking in user code.
//
// A unit of work is a closure run against a consistent snapshot of shared
// state:
//
//	c := stm.NewCell(0)
//	err := stm.Run(ctx, func(ctx context.Context) error {
//		v, err := c.Read(ctx)
//		if err != nil {
//			return err
//		}
//		return c.Write(ctx, v+1)
//	})
//
// Run retries the closure transparently whenever a concurrent committer
// invalidates it. The algorithm is a variant of Transactional Locking II
// (TL2): a global version clock, a versioned lock per cell, deferred writes
// buffered until commit, and a read-set revalidated against the writer's
// freshly acquired locks. RunReadOnly gives read-only closures an O(1)
// per-access validation path with no read-set to maintain.
//
// The current transaction is threaded through context.Context rather than a
// package-level thread-local slot, so a transaction object is never shared
// across goroutines by accident: it only ever reaches code that was handed
// the ctx value that carries it.
package stm
