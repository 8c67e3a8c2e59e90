// Package pte implements the per-virtual-page descriptor: a 64-bit word
// carrying one of three mutually exclusive encodings (valid, transition,
// on-disk), plus the spin lock that serializes its mutation. Every mutator
// prepares the full 64-bit value in a local and installs it with a single
// atomic store, per spec.md §3/§4.3, so that a concurrent lock-free reader
// never observes a partially-written form.
package pte

import (
	"fmt"
	"sync/atomic"

	"vmcore/internal/spinlock"
	"vmcore/internal/vmdefs"
)

const (
	bitValid  = 63
	bitStatus = 62
)

// Form identifies which of the three encodings (plus the zeroed "never
// touched" special case of transition) a PTE currently holds.
type Form int

const (
	FormZeroed Form = iota
	FormValid
	FormTransition
	FormOnDisk
)

func (f Form) String() string {
	switch f {
	case FormZeroed:
		return "zeroed"
	case FormValid:
		return "valid"
	case FormTransition:
		return "transition"
	case FormOnDisk:
		return "on-disk"
	default:
		return fmt.Sprintf("pte.Form(%d)", int(f))
	}
}

// Entry is one virtual page's PTE: a 64-bit word plus its spin lock. The
// word must only be mutated while Lock is held; it may be read lock-free by
// anyone willing to re-verify after taking a dependent lock (spec.md §4.3).
type Entry struct {
	word atomic.Uint64
	Lock spinlock.T
}

// Raw returns the current 64-bit word without synchronization beyond the
// atomic load itself. Callers that depend on the classification remaining
// stable must hold Lock or re-verify after acquiring a dependent lock.
func (e *Entry) Raw() uint64 {
	return e.word.Load()
}

// Classify decodes the current word into its Form.
func Classify(word uint64) Form {
	valid := word>>bitValid&1 != 0
	status := word>>bitStatus&1 != 0
	payload := word & vmdefs.PayloadMask
	switch {
	case valid:
		return FormValid
	case status:
		return FormOnDisk
	case payload == 0:
		return FormZeroed
	default:
		return FormTransition
	}
}

// Classify decodes the entry's current word into its Form.
func (e *Entry) Classify() Form {
	return Classify(e.Raw())
}

// Frame returns the 40-bit frame number carried by a valid or transition
// PTE. ok is false for any other form.
func (e *Entry) Frame() (frame uint64, ok bool) {
	w := e.Raw()
	switch Classify(w) {
	case FormValid, FormTransition:
		return w & vmdefs.PayloadMask, true
	default:
		return 0, false
	}
}

// DiskSlot returns the slot carried by an on-disk PTE. ok is false for any
// other form.
func (e *Entry) DiskSlot() (slot uint64, ok bool) {
	w := e.Raw()
	if Classify(w) != FormOnDisk {
		return 0, false
	}
	return w & vmdefs.PayloadMask, true
}

// SetValid installs the valid form, naming frame. Requires the current form
// to be transition, zeroed, or on-disk (spec.md §4.3); panics otherwise,
// matching the teacher's XXXPANIC treatment of impossible states.
func (e *Entry) SetValid(frame uint64) {
	switch cur := e.Classify(); cur {
	case FormTransition, FormZeroed, FormOnDisk:
	default:
		panic("pte: set_valid from " + cur.String())
	}
	if frame == 0 || frame&^vmdefs.PayloadMask != 0 {
		panic("pte: frame number out of range")
	}
	e.word.Store(uint64(1)<<bitValid | frame)
}

// SetTransition clears the valid bit while keeping the frame number.
// Requires the current form to be valid; panics otherwise.
func (e *Entry) SetTransition() {
	w := e.Raw()
	if Classify(w) != FormValid {
		panic("pte: set_transition requires valid form")
	}
	e.word.Store(w & vmdefs.PayloadMask)
}

// SetOnDisk installs the on-disk form, naming slot. Requires the current
// form to be transition (called only by the writer, when it publishes a
// page to standby); panics otherwise.
func (e *Entry) SetOnDisk(slot uint64) {
	if e.Classify() != FormTransition {
		panic("pte: set_on_disk requires transition form")
	}
	if slot == 0 || slot&^vmdefs.PayloadMask != 0 {
		panic("pte: disk slot out of range")
	}
	e.word.Store(uint64(1)<<bitStatus | slot)
}

// Table is the dense array of PTEs for a contiguous virtual address space
// of V pages beginning at BaseVA.
type Table struct {
	BaseVA  uintptr
	Entries []Entry
}

// NewTable allocates a zeroed PTE table for pages virtual-page-count pages.
func NewTable(baseVA uintptr, pages int) *Table {
	return &Table{BaseVA: baseVA, Entries: make([]Entry, pages)}
}

// Lookup returns the PTE index for va, or false if va falls outside the
// table's reserved span (spec.md §3/§8 Boundary).
func (t *Table) Lookup(va uintptr) (idx int, ok bool) {
	if va < t.BaseVA {
		return 0, false
	}
	off := va - t.BaseVA
	idx = int(off / vmdefs.PageSize)
	if idx < 0 || idx >= len(t.Entries) {
		return 0, false
	}
	return idx, true
}

// At returns the PTE for the given index.
func (t *Table) At(idx int) *Entry {
	return &t.Entries[idx]
}

// VA returns the virtual address of the page at idx.
func (t *Table) VA(idx int) uintptr {
	return t.BaseVA + uintptr(idx)*vmdefs.PageSize
}
