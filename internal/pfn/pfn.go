// Package pfn implements the per-physical-frame descriptor table: one
// record per frame, each tagged with a lifecycle state and, when on a page
// list, doubly linked into exactly that list (spec.md §3/§4.4).
package pfn

import (
	"fmt"

	"vmcore/internal/pte"
	"vmcore/internal/spinlock"
)

// State is the lifecycle state of a physical frame (spec.md §3).
type State int

const (
	StateFree State = iota
	StateActive
	StateModified
	StateStandby
	StateMidTrim
	StateMidWrite
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateActive:
		return "active"
	case StateModified:
		return "modified"
	case StateStandby:
		return "standby"
	case StateMidTrim:
		return "mid-trim"
	case StateMidWrite:
		return "mid-write"
	default:
		return fmt.Sprintf("pfn.State(%d)", int(s))
	}
}

// OnList reports whether frames in state s are expected to be linked into a
// page list (spec.md §3 list invariant).
func (s State) OnList() bool {
	switch s {
	case StateFree, StateModified, StateStandby:
		return true
	default:
		return false
	}
}

// Frame is one physical frame's descriptor. Flink/Blink are valid only
// while the frame is linked into a page list; the list package is the sole
// owner of them, always under Lock.
type Frame struct {
	Lock spinlock.T

	Flink, Blink *Frame

	id    uint64
	state State

	// owning PTE, valid for active/transition-backing states.
	ownerPTE *pte.Entry
	ownerVA  uintptr

	diskSlot uint64

	// soft-fault-occurred-during-X flags: set by a soft-faulter that
	// reclaims a PFN currently being published by the trimmer/writer, so
	// the worker can detect the race and skip its publish step on this
	// frame (spec.md §4.8 case B step 4, §9 open question (b)).
	softFaultDuringTrim  bool
	softFaultDuringWrite bool
}

// ID returns the frame's 1-based frame number.
func (f *Frame) ID() uint64 { return f.id }

// State returns the frame's current lifecycle state. Callers racing with a
// concurrent state transition must hold Lock.
func (f *Frame) State() State { return f.state }

// Owner returns the PTE and virtual address this frame currently backs.
func (f *Frame) Owner() (*pte.Entry, uintptr) { return f.ownerPTE, f.ownerVA }

// DiskSlot returns the page-file slot backing a standby frame (0 when
// none).
func (f *Frame) DiskSlot() uint64 { return f.diskSlot }

// SetActive transitions f to active, installing its owning PTE and VA and
// clearing any disk slot and soft-fault flags (spec.md §4.4).
func (f *Frame) SetActive(owner *pte.Entry, va uintptr) {
	f.state = StateActive
	f.ownerPTE = owner
	f.ownerVA = va
	f.diskSlot = 0
	f.softFaultDuringTrim = false
	f.softFaultDuringWrite = false
}

// SetFree transitions f to free, clearing its owner and disk slot.
func (f *Frame) SetFree() {
	f.state = StateFree
	f.ownerPTE = nil
	f.ownerVA = 0
	f.diskSlot = 0
}

// SetModified transitions f to modified, keeping its owning PTE/VA (the
// trimmer has already moved the PTE to transition form).
func (f *Frame) SetModified() {
	f.state = StateModified
	f.diskSlot = 0
}

// SetStandby transitions f to standby, recording the page-file slot the
// writer flushed it to.
func (f *Frame) SetStandby(slot uint64) {
	f.state = StateStandby
	f.diskSlot = slot
}

// SetMidTrim marks f as being processed by the trimmer, between acquiring
// its PTE lock and splicing it onto the modified list.
func (f *Frame) SetMidTrim() { f.state = StateMidTrim }

// SetMidWrite marks f as being processed by the writer, between removal
// from the modified list and publication onto the standby list.
func (f *Frame) SetMidWrite() { f.state = StateMidWrite }

// MarkSoftFaultDuringTrim records that a soft-faulter reclaimed f while the
// trimmer still held a reference to it mid-batch.
func (f *Frame) MarkSoftFaultDuringTrim() { f.softFaultDuringTrim = true }

// MarkSoftFaultDuringWrite records that a soft-faulter reclaimed f while
// the writer still held a reference to it mid-batch.
func (f *Frame) MarkSoftFaultDuringWrite() { f.softFaultDuringWrite = true }

// TakeSoftFaultDuringTrim reports and clears the trim race flag.
func (f *Frame) TakeSoftFaultDuringTrim() bool {
	v := f.softFaultDuringTrim
	f.softFaultDuringTrim = false
	return v
}

// TakeSoftFaultDuringWrite reports and clears the write race flag.
func (f *Frame) TakeSoftFaultDuringWrite() bool {
	v := f.softFaultDuringWrite
	f.softFaultDuringWrite = false
	return v
}

// Table is the sparse array of frame descriptors, one per physical frame
// the host has granted the simulator (spec.md §3). Frame numbers are
// 1-based; 0 is reserved so it can serve as "no frame" in a PTE word, the
// same convention the disk-slot bitmap uses for slot 0.
type Table struct {
	frames []Frame
}

// NewTable reserves count frame descriptors, all initially free.
func NewTable(count int) *Table {
	t := &Table{frames: make([]Frame, count)}
	for i := range t.frames {
		t.frames[i].id = uint64(i + 1)
		t.frames[i].state = StateFree
	}
	return t
}

// Len returns the number of frames in the table.
func (t *Table) Len() int { return len(t.frames) }

// Get returns the frame descriptor for the given 1-based frame number. It
// panics if id is out of range, matching the teacher's bounds-checked
// pointer arithmetic (mem.go's Refaddr).
func (t *Table) Get(id uint64) *Frame {
	if id == 0 || id > uint64(len(t.frames)) {
		panic("pfn: frame number out of range")
	}
	return &t.frames[id-1]
}

// All returns every frame descriptor, for validators and tests that need
// to scan the whole table (spec.md §8 invariants).
func (t *Table) All() []Frame {
	return t.frames
}
