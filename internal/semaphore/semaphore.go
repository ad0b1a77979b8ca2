/*
Package semaphore provides a counting semaphore that doesn't trip up the
race detector the way a sync.WaitGroup used as a semaphore does.
*/
package semaphore

import (
	"context"
	"sync"
)

// Semaphore is a counting semaphore of a fixed capacity. Acquire blocks
// until a slot is available; Release returns one.
type Semaphore struct {
	cond *sync.Cond
	lock sync.Mutex
	cur  int
	cap  int
}

// New returns a semaphore with capacity slots available.
func New(capacity int) *Semaphore {
	s := &Semaphore{cap: capacity}
	s.cond = sync.NewCond(&s.lock)
	return s
}

// Acquire blocks until a slot is free or ctx is done, whichever happens
// first. It returns ctx.Err() if the context finished first, in which case
// no slot was taken.
func (s *Semaphore) Acquire(ctx context.Context) error {
	// Watch ctx in a separate goroutine so a Done channel can wake the
	// Cond's waiters; the cascade's token is
	// checked before a slot is taken, never to tear down work already in
	// flight past this point (§9 design notes).
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()

	s.lock.Lock()
	defer s.lock.Unlock()
	for s.cur >= s.cap {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.cur++
	return nil
}

// Release returns a slot to the pool.
func (s *Semaphore) Release() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cur--
	s.cond.Broadcast()
}

// InUse reports the number of slots currently held, for tests.
func (s *Semaphore) InUse() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cur
}
