package stm

// roTxn is the read-only transaction strategy: a single snapshot timestamp
// and a nesting depth, nothing more. There is no read-set to maintain and
// no commit protocol to run — every read is independently validated against
// readVersion by Cell.consistentRead, and "commit" and "rollback" are the
// same no-op (spec.md §4.D).
type roTxn struct {
	clock       *globalClock
	readVersion uint64
	depth       int
}

func (t *roTxn) running() bool {
	return t.depth > 0
}

// begin snapshots the clock only for the outermost nesting level; an inner
// begin inherits the host frame's snapshot unchanged.
func (t *roTxn) begin() {
	if t.depth == 0 {
		t.readVersion = t.clock.snapshot()
	}
	t.depth++
}

// end is shared by commit and rollback: both just decrement depth, since a
// read-only frame has no buffered effects to publish or discard.
func (t *roTxn) end() {
	t.depth--
}
