package stm

import "sort"

// cellHandle is the type-erased view of a Cell[T] that the commit protocol
// needs: enough to order cells for deadlock-free locking and to publish or
// notify a buffered write without knowing T. Every *Cell[T] implements it;
// the concrete type recovers T with a single type assertion inside
// publishLocked/fireChanged, so no reflection is needed (spec.md §9,
// "the cell's identity encodes the type").
type cellHandle interface {
	cellID() uint64
	loadVLock() uint64
	tryAcquire(observed uint64) bool
	releaseLock(preLockVersion uint64)
	publishLocked(payload any, writeVersion uint64)
	fireChanged(payload any)
}

// frame is one live nested Begin on a read-write transaction's stack.
type frame struct {
	readOnly bool
	reads    map[cellHandle]struct{}
	writes   map[cellHandle]any // nil for a readOnly frame
}

func newFrame(readOnly bool) *frame {
	return &frame{readOnly: readOnly, reads: make(map[cellHandle]struct{})}
}

// rwTxn is the read-write transaction strategy: a stack of frames, one per
// live nested Begin/BeginReadOnly, merging upward on inner commit and
// discarding on rollback. Confined to a single goroutine's call chain for
// its lifetime (spec.md §3 "Ownership").
type rwTxn struct {
	clock       *globalClock
	readVersion uint64
	stack       []*frame
}

func (t *rwTxn) running() bool {
	return len(t.stack) > 0
}

func (t *rwTxn) top() *frame {
	return t.stack[len(t.stack)-1]
}

// beginRW pushes a read-write frame. It snapshots the clock only when this
// is the outermost Begin; it fails with ErrReadOnly if the current
// innermost frame is a read-only one (spec.md §4.E: "running (ro frame)
// —Begin→ fail ReadOnly").
func (t *rwTxn) beginRW() error {
	if t.running() && t.top().readOnly {
		return newErr(ErrReadOnly, "cannot begin a read-write transaction inside a read-only frame")
	}
	if !t.running() {
		t.readVersion = t.clock.snapshot()
	}
	t.stack = append(t.stack, newFrame(false))
	return nil
}

// beginRO pushes a read-only frame. BeginReadOnly is always permitted
// regardless of the current frame's flavor (spec.md §4.E).
func (t *rwTxn) beginRO() {
	if !t.running() {
		t.readVersion = t.clock.snapshot()
	}
	t.stack = append(t.stack, newFrame(true))
}

// rollback discards the top frame; its reads and writes vanish.
func (t *rwTxn) rollback() {
	t.stack = t.stack[:len(t.stack)-1]
}

// commitInner merges an inner frame into its parent: reads always union in,
// writes overlay (last-writer-wins) only if the inner frame was read-write.
func (t *rwTxn) commitInner() {
	inner := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	parent := t.top()

	for c := range inner.reads {
		parent.reads[c] = struct{}{}
	}
	if !inner.readOnly {
		if parent.writes == nil {
			parent.writes = make(map[cellHandle]any, len(inner.writes))
		}
		for c, v := range inner.writes {
			parent.writes[c] = v
		}
	}
}

// commitOutermost runs the full TL2 commit protocol (spec.md §4.E) against
// the sole remaining frame: acquire write-set locks in ascending cell-id
// order, tick the clock, validate the read-set against readVersion,
// publish, pop, and notify. Returns ErrConflict if validation failed (locks
// already released) or nil on success; any other outcome cannot arise here.
func (t *rwTxn) commitOutermost() error {
	f := t.top()

	if len(f.writes) == 0 {
		t.stack = t.stack[:0]
		return nil
	}

	cells := make([]cellHandle, 0, len(f.writes))
	for c := range f.writes {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].cellID() < cells[j].cellID() })

	// Step 1: acquire every write-set lock, in the fixed global id order.
	// No timeout: deadlock freedom follows from that fixed order alone.
	preLock := make(map[cellHandle]uint64, len(cells))
	for _, c := range cells {
		for {
			w := c.loadVLock()
			if c.tryAcquire(w) {
				preLock[c] = w
				break
			}
		}
	}

	// Step 2: assign the commit version.
	writeVersion := t.clock.tick()

	// Step 3: validate the read-set, unless we can prove no other writer
	// could have committed since our snapshot (teacher's optimization: a
	// writeVersion immediately following readVersion means nobody else
	// ticked the clock in between).
	conflict := false
	if writeVersion != t.readVersion+1 {
		for rc := range f.reads {
			var v uint64
			if w, ok := preLock[rc]; ok {
				v = versionOf(w)
			} else {
				raw := rc.loadVLock()
				if isLocked(raw) {
					conflict = true
					break
				}
				v = versionOf(raw)
			}
			if v > t.readVersion {
				conflict = true
				break
			}
		}
	}

	if conflict {
		for _, c := range cells {
			c.releaseLock(preLock[c])
		}
		t.stack = t.stack[:0]
		return newErr(ErrConflict, "read-set validation failed at commit")
	}

	// Step 4: publish. Each cellHandle's publishLocked stores the value
	// before clearing the lock bit, matching the required store ordering.
	for c, payload := range f.writes {
		c.publishLocked(payload, writeVersion)
	}

	// Step 5: the frame is done.
	t.stack = t.stack[:0]

	// Step 6: notify, outside any transactional state.
	for c, payload := range f.writes {
		c.fireChanged(payload)
	}
	return nil
}
