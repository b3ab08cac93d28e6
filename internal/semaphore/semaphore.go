// Package semaphore limits the number of concurrent disk operations.
package semaphore

import "sync/atomic"

// Semaphore is a counting semaphore.
type Semaphore struct {
	c       chan struct{}
	waiting atomic.Int32
}

// New returns a semaphore that allows n holders at once.
func New(n int) *Semaphore {
	return &Semaphore{c: make(chan struct{}, n)}
}

// Wait blocks until the semaphore is acquired.
func (s *Semaphore) Wait() {
	s.waiting.Add(1)
	s.c <- struct{}{}
	s.waiting.Add(-1)
}

// Signal releases the semaphore.
func (s *Semaphore) Signal() {
	<-s.c
}

// Len returns the number of holders.
func (s *Semaphore) Len() int { return len(s.c) }

// Waiting returns the number of goroutines blocked in Wait.
func (s *Semaphore) Waiting() int { return int(s.waiting.Load()) }
