package vmm

import (
	"context"

	"vmcore/internal/event"
	"vmcore/internal/pagefile"
	"vmcore/internal/pagelist"
	"vmcore/internal/pfn"
	"vmcore/internal/vmdefs"
	"vmcore/internal/vmerr"
)

// Writer flushes modified pages to the page file, publishing them as
// standby (spec.md §4.7). The PTE write that installs the disk slot is
// the single point at which the page file becomes authoritative for that
// data.
type Writer struct {
	vm      *Vm
	scratch []uintptr
}

// NewWriter reserves a scratch VA range of MaxWriteBatchSize pages, used
// only to exercise the mapper's scatter contract around the copy (the
// simulator reads/writes frame content directly through frame.Mapper.Bytes,
// see SPEC_FULL.md §4).
func NewWriter(vm *Vm, scratchBase uintptr) *Writer {
	w := &Writer{vm: vm, scratch: make([]uintptr, vm.cfg.MaxWriteBatchSize)}
	for i := range w.scratch {
		w.scratch[i] = scratchBase + uintptr(i)*vmdefs.PageSize
	}
	return w
}

// Run blocks until ctx is done, running one write pass each time
// initiate_writing fires.
func (w *Writer) Run(ctx context.Context) error {
	for {
		_, err := event.WaitAny(ctx, w.vm.events.InitiateWriting)
		if err != nil {
			return nil
		}
		w.vm.events.InitiateWriting.Reset()
		w.runOnce()
	}
}

func (w *Writer) runOnce() {
	vm := w.vm
	cfg := vm.cfg

	var stash pagefile.Stash
	vm.disk.StashSlots(&stash, cfg.MaxWriteBatchSize*2)

	batch := make([]*pfn.Frame, cfg.MaxWriteBatchSize)
	n := vm.modified.RemoveBatchFromHead(batch, cfg.MaxWriteBatchSize, 0)
	if n == 0 {
		w.drainStash(&stash)
		return
	}
	batch = batch[:n]

	// StashSlots is best-effort: once the page file nears full occupancy
	// it can legitimately hand back fewer slots than requested (spec.md
	// §7 SlotExhaustion). Stage only as many pages as there are slots for
	// and put the rest straight back on the modified list for the next
	// pass rather than pop an empty stash.
	staged := n
	if avail := stash.Len(); avail < n {
		vm.log.Warn().
			Err(vmerr.Newf(vmerr.SlotExhaustion, "page file has %d free slots, %d modified pages pending", avail, n)).
			Msg("writer: partial batch, page file nearly full")
		staged = avail
	}
	for _, pf := range batch[staged:] {
		vm.modified.InsertTail(pf)
		pf.Lock.Release()
	}
	batch = batch[:staged]
	n = staged
	if n == 0 {
		w.drainStash(&stash)
		return
	}

	slots := make([]uint64, n)
	frames := make([]uint64, n)
	for i, pf := range batch {
		slots[i] = stash.PopStashed()
		pf.SetMidWrite()
		frames[i] = pf.ID()
		pf.Lock.Release()
	}

	if err := vm.mapper.MapScatter(w.scratch[:n], frames); err != nil {
		panic(err)
	}
	for i, pf := range batch {
		copy(vm.disk.PageFileBytes(slots[i]), vm.mapper.Bytes(pf.ID()))
	}
	zeros := make([]uint64, n)
	if err := vm.mapper.MapScatter(w.scratch[:n], zeros); err != nil {
		panic(err)
	}

	published := pagelist.New()
	var writtenCount int64
	for i, pf := range batch {
		pf.Lock.Acquire()
		if pf.TakeSoftFaultDuringWrite() {
			// The soft-faulter already reactivated this page; the slot
			// reserved for it was never installed into any PTE, so it
			// returns to the pool instead of leaking.
			vm.disk.Clear(slots[i])
			pf.Lock.Release()
			continue
		}
		entry, _ := pf.Owner()
		entry.Lock.Acquire()
		entry.SetOnDisk(slots[i])
		entry.Lock.Release()
		pf.SetStandby(slots[i])
		published.InsertTail(pf)
		pf.Lock.Release()
		writtenCount++
	}
	vm.standby.SpliceTail(published)
	vm.counters.RecordWritten(writtenCount)

	w.drainStash(&stash)
	vm.events.StandbyPagesReady.Set()
}

func (w *Writer) drainStash(stash *pagefile.Stash) {
	for stash.Len() > 0 {
		w.vm.disk.Clear(stash.PopStashed())
	}
}
