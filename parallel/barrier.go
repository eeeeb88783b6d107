package parallel

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBarrierBroken is returned by Wait once the barrier has been broken.
var ErrBarrierBroken = errors.New("barrier broken")

// Barrier is a reusable cyclic barrier for a fixed number of parties.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
	broken     error
}

// NewBarrier creates a barrier released each time n parties have called Wait.
func NewBarrier(n int) *Barrier {
	if n <= 0 {
		panic(fmt.Sprintf("parallel: barrier needs a positive party count, got %d", n))
	}
	b := &Barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of parties the barrier waits for.
func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until all parties arrived. The last party to arrive releases the others
// and starts a new generation, so the barrier can be reused right away.
func (b *Barrier) Wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken != nil {
		return b.broken
	}
	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return nil
	}
	for gen == b.generation && b.broken == nil {
		b.cond.Wait()
	}
	if gen == b.generation {
		return b.broken
	}
	return nil
}

// Break releases every waiting party. Current and future calls to Wait return an error
// wrapping ErrBarrierBroken and cause.
func (b *Barrier) Break(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken != nil {
		return
	}
	if cause == nil {
		b.broken = ErrBarrierBroken
	} else {
		b.broken = fmt.Errorf("%w: %v", ErrBarrierBroken, cause)
	}
	b.cond.Broadcast()
}

// Broken reports whether Break has been called.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken != nil
}
