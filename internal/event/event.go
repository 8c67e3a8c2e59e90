// Package event implements the manual-reset event primitives spec.md §5/§6
// names as a host collaborator (system_start, initiate_{aging,trimming,
// writing,pruning}, standby_pages_ready) and the wait_any combinator
// workers use to race an event against system_exit. system_exit itself is
// modeled as context.Context cancellation (spec.md §5's "manual-reset
// broadcast" is exactly what ctx.Done() is), the idiomatic Go replacement
// for the teacher's hand-rolled kill-channel-plus-condvar
// (tinfo.Tnote_t.Killnaps).
package event

import (
	"context"
	"reflect"
	"sync"
)

// ManualEvent is a broadcast, manual-reset event: once Set, every current
// and future Wait call returns immediately until Reset is called.
type ManualEvent struct {
	mu    sync.Mutex
	ch    chan struct{}
	isSet bool
}

// NewManualEvent returns an event in the unset state.
func NewManualEvent() *ManualEvent {
	return &ManualEvent{ch: make(chan struct{})}
}

// Set signals the event, waking every current waiter. Idempotent.
func (e *ManualEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isSet {
		e.isSet = true
		close(e.ch)
	}
}

// Reset clears the event. Idempotent. Per spec.md §4.8, the convention in
// this simulator is that the observer which sees a condition go empty is
// the one that resets the corresponding event.
func (e *ManualEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isSet {
		e.isSet = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the event's current state.
func (e *ManualEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isSet
}

func (e *ManualEvent) snapshot() chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait blocks until the event is set or ctx is done.
func (e *ManualEvent) Wait(ctx context.Context) error {
	select {
	case <-e.snapshot():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAny blocks until the first of evs is set or ctx is done, returning
// the index of the event that fired, or -1 with ctx's error if ctx fired
// first. This is the wait_any each background worker uses to pair its
// trigger event with system_exit (spec.md §5).
func WaitAny(ctx context.Context, evs ...*ManualEvent) (int, error) {
	cases := make([]reflect.SelectCase, 0, len(evs)+1)
	for _, e := range evs {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(e.snapshot()),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	chosen, _, _ := reflect.Select(cases)
	if chosen == len(evs) {
		return -1, ctx.Err()
	}
	return chosen, nil
}
