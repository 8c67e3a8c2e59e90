// Package vmerr implements the error taxonomy of spec.md §7: a small set
// of recoverable error kinds carried as values, mirroring the teacher's own
// defs.Err_t (a signed int carried as a plain return value) rather than
// Go's usual ad-hoc error strings, since the kind itself drives recovery
// policy (fatal at startup, surfaced to the caller, or recovered locally).
package vmerr

import (
	"errors"
	"fmt"
)

// Kind classifies a recoverable error (spec.md §7). Invariant violations
// are not represented here: they are bugs, reported via panic, exactly as
// the teacher treats its own "XXXPANIC" assertions.
type Kind int

const (
	// Privilege: the host refused the bulk-frame privilege. Fatal at
	// startup.
	Privilege Kind = iota
	// Allocation: the host refused virtual or physical memory. Fatal.
	Allocation
	// InvalidAddress: the faulting VA is outside the reserved span.
	// Surfaced to the workload simulator as a fatal test failure.
	InvalidAddress
	// SlotExhaustion: the disk-slot allocator could not meet the
	// requested batch size. Recovered locally by using the partial
	// stash.
	SlotExhaustion
)

func (k Kind) String() string {
	switch k {
	case Privilege:
		return "privilege"
	case Allocation:
		return "allocation"
	case InvalidAddress:
		return "invalid-address"
	case SlotExhaustion:
		return "slot-exhaustion"
	default:
		return fmt.Sprintf("vmerr.Kind(%d)", int(k))
	}
}

// Fault is a recoverable error value of a given Kind.
type Fault struct {
	Kind Kind
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

// New constructs a Fault of the given kind.
func New(kind Kind, msg string) *Fault {
	return &Fault{Kind: kind, Msg: msg}
}

// Newf constructs a Fault of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a Fault of the given Kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	if !errors.As(err, &f) {
		return false
	}
	return f.Kind == kind
}
