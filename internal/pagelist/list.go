// Package pagelist implements the doubly linked per-state page lists
// (spec.md §3/§4.5): a sentinel head of the same lockable shape as any
// other node, a shared/exclusive list lock, and try-lock-with-escalation
// neighbour acquisition so concurrent trimmer/writer/pruner/fault-handler
// traffic can mutate different parts of the same list without serializing
// on a single mutex in the common case.
package pagelist

import (
	"runtime"
	"sync"
	"sync/atomic"

	"vmcore/internal/pfn"
)

const (
	// maxSoftAccessAttempts bounds the try-lock retries on a neighbour
	// node before a mutator escalates to the exclusive list lock
	// (spec.md §4.5).
	maxSoftAccessAttempts = 8
	// maxWaitBeforeRetry caps the exponential back-off between retries,
	// in Gosched iterations, matching the spin lock's own cap.
	maxWaitBeforeRetry = 64
)

// List is one page list: a sentinel head plus a shared/exclusive lock. The
// zero value is not usable; construct with New.
type List struct {
	mu   sync.RWMutex
	head pfn.Frame
	size atomic.Int64
}

// New returns an empty, ready-to-use list.
func New() *List {
	l := &List{}
	l.head.Flink = &l.head
	l.head.Blink = &l.head
	return l
}

// Size returns the number of pages currently on the list.
func (l *List) Size() int { return int(l.size.Load()) }

// Empty reports whether the list is currently empty.
func (l *List) Empty() bool { return l.Size() == 0 }

// tryLockNeighbour attempts to acquire node's lock, retrying with bounded
// exponential back-off up to maxSoftAccessAttempts times before giving up
// (spec.md §4.5).
func tryLockNeighbour(node *pfn.Frame) bool {
	backoff := 1
	for attempt := 0; attempt < maxSoftAccessAttempts; attempt++ {
		if node.Lock.TryAcquire() {
			return true
		}
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		if backoff < maxWaitBeforeRetry {
			backoff *= 2
		}
	}
	return false
}

// InsertTail appends page to the tail of the list. The caller must already
// hold page.Lock; InsertTail never touches it, leaving lock lifetime to the
// caller (spec.md §4.6/§4.7 release their batched pages only after the
// splice that uses this path completes).
func (l *List) InsertTail(page *pfn.Frame) {
	l.mu.RLock()
	h := &l.head
	h.Lock.Acquire()
	tail := h.Blink
	if tail == h {
		page.Flink, page.Blink = h, h
		h.Flink, h.Blink = page, page
		h.Lock.Release()
		l.mu.RUnlock()
		l.size.Add(1)
		return
	}
	if !tryLockNeighbour(tail) {
		h.Lock.Release()
		l.mu.RUnlock()
		l.insertTailExclusive(page)
		return
	}
	page.Flink, page.Blink = h, tail
	tail.Flink = page
	h.Blink = page
	tail.Lock.Release()
	h.Lock.Release()
	l.mu.RUnlock()
	l.size.Add(1)
}

func (l *List) insertTailExclusive(page *pfn.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := &l.head
	tail := h.Blink
	page.Flink, page.Blink = h, tail
	tail.Flink = page
	h.Blink = page
	l.size.Add(1)
}

// PopHead removes and returns the head of the list, locked, for the
// caller. It is a single try-form attempt: any lock contention along the
// way causes it to give up and report false rather than retry or escalate,
// since concurrent removers are expected to fall back to a different
// strategy (spec.md §4.5 "unused by writer, which prefers batch").
func (l *List) PopHead() (*pfn.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := &l.head
	if !h.Lock.TryAcquire() {
		return nil, false
	}
	first := h.Flink
	if first == h {
		h.Lock.Release()
		return nil, false
	}
	if !first.Lock.TryAcquire() {
		h.Lock.Release()
		return nil, false
	}
	next := first.Flink
	if next != h {
		if !next.Lock.TryAcquire() {
			first.Lock.Release()
			h.Lock.Release()
			return nil, false
		}
	}
	h.Flink = next
	next.Blink = h
	first.Flink, first.Blink = nil, nil
	if next != h {
		next.Lock.Release()
	}
	h.Lock.Release()
	l.size.Add(-1)
	return first, true
}

// RemoveInMiddle unlinks page from wherever it sits in the list. The
// caller must already hold page.Lock, which (per spec.md §4.5) is what
// makes this safe without re-validating page's position: nothing else can
// move it while its own lock is held. This is the soft-fault path, so it
// does not go through the head the way insert/append do — it only touches
// page's immediate neighbours, which may happen to include the head.
func (l *List) RemoveInMiddle(page *pfn.Frame) {
	l.mu.RLock()
	prev, next := page.Blink, page.Flink
	if prev == nil || next == nil {
		l.mu.RUnlock()
		panic("pagelist: remove of a page not on any list")
	}
	if !tryLockNeighbour(prev) {
		l.mu.RUnlock()
		l.removeInMiddleExclusive(page)
		return
	}
	if next != prev {
		if !tryLockNeighbour(next) {
			prev.Lock.Release()
			l.mu.RUnlock()
			l.removeInMiddleExclusive(page)
			return
		}
	}
	prev.Flink = next
	next.Blink = prev
	page.Flink, page.Blink = nil, nil
	if next != prev {
		next.Lock.Release()
	}
	prev.Lock.Release()
	l.mu.RUnlock()
	l.size.Add(-1)
}

func (l *List) removeInMiddleExclusive(page *pfn.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, next := page.Blink, page.Flink
	prev.Flink = next
	next.Blink = prev
	page.Flink, page.Blink = nil, nil
	l.size.Add(-1)
}

// RemoveBatchFromHead walks from the head locking consecutive pages until
// either capacity-reserved pages are locked, the head is reached (the list
// drained), or a try-lock fails. On success it detaches the run in a
// single link rewrite and returns the count placed into dst, all still
// locked for the caller to process (spec.md §4.5).
func (l *List) RemoveBatchFromHead(dst []*pfn.Frame, capacity, reserved int) int {
	target := capacity - reserved
	if target <= 0 {
		return 0
	}
	if target > len(dst) {
		target = len(dst)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	h := &l.head
	h.Lock.Acquire()

	n := 0
	cur := h.Flink
	for n < target && cur != h {
		if !cur.Lock.TryAcquire() {
			break
		}
		dst[n] = cur
		n++
		cur = cur.Flink
	}
	if n == 0 {
		h.Lock.Release()
		return 0
	}

	if cur != h {
		cur.Lock.Acquire()
	}
	h.Flink = cur
	cur.Blink = h
	if cur != h {
		cur.Lock.Release()
	}
	for i := 0; i < n; i++ {
		dst[i].Flink, dst[i].Blink = nil, nil
	}
	h.Lock.Release()
	l.size.Add(-int64(n))
	return n
}

// SpliceTail appends the entirety of src onto the tail of l in one link
// rewrite, holding l's head and tail locks for the duration, then empties
// src (spec.md §4.5). Used by the trimmer, writer, and pruner to publish a
// whole batch in one step.
func (l *List) SpliceTail(src *List) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.head.Flink == &src.head {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	dh := &l.head
	dh.Lock.Acquire()
	dtail := dh.Blink
	if dtail != dh {
		dtail.Lock.Acquire()
	}

	sFirst, sLast := src.head.Flink, src.head.Blink
	dtail.Flink = sFirst
	sFirst.Blink = dtail
	sLast.Flink = dh
	dh.Blink = sLast

	if dtail != dh {
		dtail.Lock.Release()
	}
	dh.Lock.Release()

	n := src.size.Load()
	l.size.Add(n)
	src.size.Store(0)
	src.head.Flink = &src.head
	src.head.Blink = &src.head
}
