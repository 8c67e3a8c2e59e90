// Package frame defines the frame-mapper contract spec.md §1/§6 treats as
// an external, host-owned collaborator, plus Sim, the in-process
// implementation a usermode simulator needs in place of a real MMU.
package frame

import (
	"sync"
	"sync/atomic"

	"vmcore/internal/vmdefs"
	"vmcore/internal/vmerr"
)

// Mapper is the host facility that grants frames and maps them to virtual
// addresses (spec.md §6). The fault handler, trimmer, and writer depend
// only on this interface.
type Mapper interface {
	// AllocFrames obtains up to count host-assigned frame numbers.
	AllocFrames(count int) ([]uint64, error)
	// FreeFrames returns frame numbers to the host.
	FreeFrames(ids []uint64) error
	// Map installs (frame != 0) or removes (frame == 0) a single
	// identity mapping for va.
	Map(va uintptr, frame uint64) error
	// MapScatter installs or removes mappings for several VAs in one
	// call; frames[i] == 0 unmaps vas[i].
	MapScatter(vas []uintptr, frames []uint64) error
	// Bytes returns the direct byte-addressable window onto frame's
	// contents (spec.md §9's "direct-mapped byte access", grounded on
	// the teacher's mem.Physmem.Dmap). A simulator has no MMU to program
	// for this; production code running on real hardware would instead
	// go through a kernel-scratch VA it had Map'd.
	Bytes(frame uint64) []byte
}

// Sim is a fixed-size, in-process Mapper: the concrete frame supply a
// usermode simulator runs against, since there is no real hardware page
// table underneath it (spec.md §1, §9).
type Sim struct {
	mu     sync.Mutex
	frames [][]byte
	free   []uint64
	mapped map[uintptr]uint64

	mapCalls     atomic.Int64
	scatterCalls atomic.Int64
}

// NewSim reserves frameCount zeroed frames, available for AllocFrames.
func NewSim(frameCount int) *Sim {
	s := &Sim{
		frames: make([][]byte, frameCount),
		free:   make([]uint64, frameCount),
		mapped: make(map[uintptr]uint64),
	}
	for i := range s.frames {
		s.frames[i] = make([]byte, vmdefs.PageSize)
		s.free[i] = uint64(i + 1)
	}
	return s
}

// AllocFrames implements Mapper.
func (s *Sim) AllocFrames(count int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > len(s.free) {
		return nil, vmerr.Newf(vmerr.Allocation, "host has only %d frames left, %d requested", len(s.free), count)
	}
	n := len(s.free)
	ids := append([]uint64(nil), s.free[n-count:]...)
	s.free = s.free[:n-count]
	return ids, nil
}

// FreeFrames implements Mapper.
func (s *Sim) FreeFrames(ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = append(s.free, ids...)
	return nil
}

// Map implements Mapper.
func (s *Sim) Map(va uintptr, frame uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame == 0 {
		delete(s.mapped, va)
	} else {
		s.mapped[va] = frame
	}
	s.mapCalls.Add(1)
	return nil
}

// MapScatter implements Mapper.
func (s *Sim) MapScatter(vas []uintptr, frames []uint64) error {
	if len(vas) != len(frames) {
		panic("frame: MapScatter called with mismatched slice lengths")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, va := range vas {
		if frames[i] == 0 {
			delete(s.mapped, va)
		} else {
			s.mapped[va] = frames[i]
		}
	}
	s.scatterCalls.Add(1)
	return nil
}

// Bytes implements Mapper.
func (s *Sim) Bytes(frame uint64) []byte {
	if frame == 0 || frame > uint64(len(s.frames)) {
		panic("frame: frame number out of range")
	}
	return s.frames[frame-1]
}

// MappedFrame reports which frame (if any) currently backs va, for tests
// and validators.
func (s *Sim) MappedFrame(va uintptr) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.mapped[va]
	return f, ok
}

// Stats returns the running count of Map/MapScatter calls. The periodic
// stats report does not include these counts.
func (s *Sim) Stats() (mapCalls, scatterCalls int64) {
	return s.mapCalls.Load(), s.scatterCalls.Load()
}
