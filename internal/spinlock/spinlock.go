// Package spinlock implements the spin lock embedded in every PTE and PFN. Critical sections guarded by it are expected to run for at most
// a few hundred cycles, so a contending goroutine backs off with bounded
// exponential delay rather than parking with the OS scheduler.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

const (
	unlocked uint16 = 0
	locked   uint16 = 1

	// maxBackoff caps the exponential back-off, in Gosched iterations.
	maxBackoff = 64
)

// T is a ticket-like spin lock. It occupies four bytes (an atomic.Uint32,
// as sync/atomic has no 16-bit operations), not two. Its zero value is
// unlocked. It must not be copied after first use.
type T struct {
	state atomic.Uint32 // only the low 16 bits are meaningful
}

// Init resets the lock to its unlocked state, whether or not it is held.
func (l *T) Init() {
	l.state.Store(uint32(unlocked))
}

// TryAcquire performs a single compare-and-swap and reports whether it
// succeeded.
func (l *T) TryAcquire() bool {
	return l.state.CompareAndSwap(uint32(unlocked), uint32(locked))
}

// Acquire blocks until the lock is held. Between attempts it yields the
// goroutine for a back-off count that doubles on each failure, capped at
// maxBackoff.
func (l *T) Acquire() {
	backoff := 1
	for !l.TryAcquire() {
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// Release unlocks the lock. It panics if the lock was not held, matching
// the teacher's convention of asserting invariants that must never fail at
// runtime rather than failing silently.
func (l *T) Release() {
	if !l.state.CompareAndSwap(uint32(locked), uint32(unlocked)) {
		panic("spinlock: release of unlocked lock")
	}
}
