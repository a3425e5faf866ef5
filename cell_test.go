package stm

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCellAssignsDistinctIDs(t *testing.T) {
	a := NewCell(0)
	b := NewCell(0)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Less(t, a.ID(), b.ID())
}

// TL2 is serializable, not snapshot-isolated: it must rule out write skew.
// Two transactions each read the other's cell, decide to write based on
// what they saw, and write only their own cell. Under true serializability
// at most one of the two writes may go through as read; the result a=1,
// b=666 and a=42,b=2 are both fine, but a=42,b=666 (both "conditions" true
// simultaneously) is write skew and must never be observed.
func TestNoWriteSkew(t *testing.T) {
	a := NewCell(1)
	b := NewCell(2)

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		<-start
		_ = Run(context.Background(), func(ctx context.Context) error {
			va, err := a.Read(ctx)
			if err != nil {
				return err
			}
			if va == 1 {
				return b.Write(ctx, 666)
			}
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		<-start
		_ = Run(context.Background(), func(ctx context.Context) error {
			vb, err := b.Read(ctx)
			if err != nil {
				return err
			}
			if vb == 2 {
				return a.Write(ctx, 42)
			}
			return nil
		})
	}()
	close(start)
	wg.Wait()

	var va, vb int
	require.NoError(t, Run(context.Background(), func(ctx context.Context) error {
		var err error
		if va, err = a.Read(ctx); err != nil {
			return err
		}
		vb, err = b.Read(ctx)
		return err
	}))
	assert.False(t, va == 42 && vb == 666, "write skew: both transactions acted on a premise the other invalidated")
}

// A min-heap built entirely out of Cells, appended to concurrently,
// exercises multi-cell read/write transactions with a real data structure
// rather than bare counters.
func TestHeapPropertyUnderConcurrentAppend(t *testing.T) {
	const size = 100
	heap := make([]*Cell[int], size)
	for i := range heap {
		heap[i] = NewCell(0)
	}
	end := NewCell(0)

	appendValue := func(ctx context.Context, x int) error {
		e, err := end.Read(ctx)
		if err != nil {
			return err
		}
		curr, parent := e, e/2
		for curr != 0 {
			pv, err := heap[parent].Read(ctx)
			if err != nil {
				return err
			}
			if pv <= x {
				break
			}
			if err := heap[curr].Write(ctx, pv); err != nil {
				return err
			}
			curr = parent
			parent = parent / 2
		}
		if err := heap[curr].Write(ctx, x); err != nil {
			return err
		}
		return end.Write(ctx, e+1)
	}

	const workers = 5
	const perWorker = 19 // keeps total appends == size - 5 slack slots below
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				x := rnd.Intn(500)
				require.NoError(t, Run(context.Background(), func(ctx context.Context) error {
					return appendValue(ctx, x)
				}))
			}
		}(int64(w))
	}
	wg.Wait()

	var filled int
	require.NoError(t, Run(context.Background(), func(ctx context.Context) error {
		var err error
		filled, err = end.Read(ctx)
		return err
	}))

	require.NoError(t, Run(context.Background(), func(ctx context.Context) error {
		for i := 0; i < filled; i++ {
			vi, err := heap[i].Read(ctx)
			if err != nil {
				return err
			}
			if left := i * 2; left < filled && left != i {
				vl, err := heap[left].Read(ctx)
				if err != nil {
					return err
				}
				assert.LessOrEqualf(t, vi, vl, "heap property violated at parent %d / left child %d", i, left)
			}
			if right := i*2 + 1; right < filled {
				vr, err := heap[right].Read(ctx)
				if err != nil {
					return err
				}
				assert.LessOrEqualf(t, vi, vr, "heap property violated at parent %d / right child %d", i, right)
			}
		}
		return nil
	}))
}
