// Package parallel contains the synchronization primitives shared by the trainer:
// a counting semaphore, a reusable barrier, bounded fan-out and row-range partitioning.
package parallel

import "sync"

// Semaphore is a counting semaphore.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int
}

// NewSemaphore creates a semaphore holding the initial count.
func NewSemaphore(initial int) *Semaphore {
	s := &Semaphore{count: initial}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Post increments the count, wakes one waiter and returns the new count.
func (s *Semaphore) Post() int {
	s.mu.Lock()
	s.count++
	n := s.count
	s.mu.Unlock()
	s.cond.Signal()
	return n
}

// Wait blocks until the count is positive and then decrements it.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	for s.count <= 0 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}

// TryWait decrements the count if it is positive and reports whether it did.
func (s *Semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count <= 0 {
		return false
	}
	s.count--
	return true
}

// Value returns the current count.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
