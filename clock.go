package stm

import "sync/atomic"

// globalClock is a single monotonically increasing counter shared by every
// committing writer. Wraparound after 2^63 ticks is out of scope.
type globalClock struct {
	word atomic.Uint64
}

func newGlobalClock() *globalClock {
	return &globalClock{}
}

func (g *globalClock) snapshot() uint64 {
	return g.word.Load()
}

// tick is the clock's only writer: a fetch-and-add returning the
// post-increment value, which becomes the writeVersion stamped on every
// cell in a committing read-write transaction.
func (g *globalClock) tick() uint64 {
	return g.word.Add(1)
}

// defaultClock is the clock every Cell created with NewCell is bound to.
// spec.md describes a single process-wide global clock; keeping it behind a
// constructor (rather than a bare package variable) lets tests build
// isolated clocks without cross-talk; transactions always use defaultClock.
var defaultClock = newGlobalClock()
