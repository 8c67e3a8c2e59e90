package vmm

import (
	"context"
	"time"

	"vmcore/internal/event"
	"vmcore/internal/pfn"
	"vmcore/internal/pte"
)

// Access resolves one fault against va on behalf of th (spec.md §4.8). It
// range-checks first, then loops classifying and re-classifying the PTE
// until a case reaches a terminal outcome; transient races (another
// thread moved the PTE between two of our lock acquisitions) restart the
// loop rather than surfacing an error.
func (vm *Vm) Access(ctx context.Context, th *ThreadState, va uintptr) error {
	idx, ok := vm.ptes.Lookup(va)
	if !ok {
		return invalidAddress("faulting va outside reserved span")
	}
	entry := vm.ptes.At(idx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch entry.Classify() {
		case pte.FormValid:
			// Case A: a concurrent resolver already won the race.
			return nil

		case pte.FormTransition:
			switch vm.resolveSoftFault(entry, va) {
			case faultResolved:
				vm.counters.RecordSoftFault()
				return nil
			case faultRestart:
				continue
			}

		case pte.FormOnDisk, pte.FormZeroed:
			switch vm.resolveHardFault(ctx, th, entry, va) {
			case faultResolved:
				vm.counters.RecordHardFault()
				return nil
			case faultRestart:
				continue
			case faultAborted:
				return ctx.Err()
			}
		}
	}
}

type faultOutcome int

const (
	faultResolved faultOutcome = iota
	faultRestart
	faultAborted
)

// resolveSoftFault implements spec.md §4.8 case B. The PFN may be caught
// mid-trim or mid-write: rather than unlink it from a list it doesn't
// belong to yet, it marks the race flag the owning worker checks at
// publish time (spec.md §9 open question (b)).
func (vm *Vm) resolveSoftFault(entry *pte.Entry, va uintptr) faultOutcome {
	entry.Lock.Acquire()
	if entry.Classify() != pte.FormTransition {
		entry.Lock.Release()
		return faultRestart
	}

	frameNum, _ := entry.Frame()
	pf := vm.pfns.Get(frameNum)
	pf.Lock.Acquire()

	if entry.Classify() != pte.FormTransition {
		// Stolen by a hard fault between our two locks.
		pf.Lock.Release()
		entry.Lock.Release()
		return faultRestart
	}

	prevState := pf.State()
	switch prevState {
	case pfn.StateModified:
		vm.modified.RemoveInMiddle(pf)
		if vm.modified.Size() <= vm.cfg.ModifiedLowWater {
			vm.events.InitiateTrimming.Set()
		}
	case pfn.StateStandby:
		vm.standby.RemoveInMiddle(pf)
		vm.disk.Clear(pf.DiskSlot())
	case pfn.StateMidTrim, pfn.StateMidWrite:
		// Not on any list; the race flag is set below, after SetActive
		// (which clears both flags).
	default:
		panic("vmm: soft fault against pfn in unexpected state " + pf.State().String())
	}

	if err := vm.mapper.Map(va, frameNum); err != nil {
		panic(err)
	}
	pf.SetActive(entry, va)
	switch prevState {
	case pfn.StateMidTrim:
		pf.MarkSoftFaultDuringTrim()
	case pfn.StateMidWrite:
		pf.MarkSoftFaultDuringWrite()
	}
	entry.SetValid(frameNum)

	pf.Lock.Release()
	entry.Lock.Release()
	return faultResolved
}

// resolveHardFault implements spec.md §4.8 case C.
func (vm *Vm) resolveHardFault(ctx context.Context, th *ThreadState, entry *pte.Entry, va uintptr) faultOutcome {
	pf, err := vm.acquireFreePage(ctx, th)
	if err != nil {
		return faultAborted
	}

	entry.Lock.Acquire()
	form := entry.Classify()
	if form != pte.FormOnDisk && form != pte.FormZeroed {
		// Someone else resolved it first; give the frame back.
		entry.Lock.Release()
		vm.releaseFreePage(th, pf)
		return faultRestart
	}
	slot, _ := entry.DiskSlot() // 0, false when form is FormZeroed

	kernelVA := th.kernelVAs[th.kernelIdx]
	if err := vm.mapper.MapScatter([]uintptr{kernelVA, va}, []uint64{pf.ID(), pf.ID()}); err != nil {
		panic(err)
	}

	content := vm.mapper.Bytes(pf.ID())
	switch form {
	case pte.FormOnDisk:
		copy(content, vm.disk.PageFileBytes(slot))
		vm.disk.Clear(slot)
	case pte.FormZeroed:
		for i := range content {
			content[i] = 0
		}
	}

	pf.SetActive(entry, va)
	entry.SetValid(pf.ID())
	entry.Lock.Release()
	pf.Lock.Release()

	th.kernelIdx++
	if th.kernelIdx >= len(th.kernelVAs) {
		vm.unmapKernelScratch(th)
	}
	return faultResolved
}

// acquireFreePage implements spec.md §4.8 case C step 1: thread cache,
// then free shards round-robin, then standby, then wait for the writer.
func (vm *Vm) acquireFreePage(ctx context.Context, th *ThreadState) (*pfn.Frame, error) {
	for {
		if n := len(th.freeCache); n > 0 {
			pf := th.freeCache[n-1]
			th.freeCache = th.freeCache[:n-1]
			pf.Lock.Acquire()
			return pf, nil
		}
		if vm.refillFromShards(th) {
			continue
		}
		if vm.refillFromStandby(th) {
			continue
		}

		vm.events.StandbyPagesReady.Reset()
		vm.events.InitiateTrimming.Set()
		waitStart := time.Now()
		_, err := event.WaitAny(ctx, vm.events.StandbyPagesReady)
		vm.counters.RecordWait(time.Since(waitStart))
		if err != nil {
			return nil, err
		}
	}
}

// releaseFreePage returns a page acquired but not ultimately consumed
// (spec.md §4.8 case C step 2's restart path) straight back to its
// thread's cache rather than all the way to a shard, since the common
// case is immediate reuse on the restart.
func (vm *Vm) releaseFreePage(th *ThreadState, pf *pfn.Frame) {
	pf.SetFree()
	pf.Lock.Release()
	th.freeCache = append(th.freeCache, pf)
}

// refillFromShards pulls a batch into th's cache from the next free shard
// in round-robin order (spec.md §4.8 case C step 1(ii)).
func (vm *Vm) refillFromShards(th *ThreadState) bool {
	n := len(vm.freeShards)
	buf := make([]*pfn.Frame, vm.cfg.PerThreadCacheSize)
	for i := 0; i < n; i++ {
		shard := (th.shardStart + i) % n
		got := vm.freeShards[shard].RemoveBatchFromHead(buf, vm.cfg.PerThreadCacheSize, 0)
		if got == 0 {
			continue
		}
		for j := 0; j < got; j++ {
			buf[j].Lock.Release()
			th.freeCache = append(th.freeCache, buf[j])
		}
		if vm.freeShards[shard].Size() <= vm.cfg.ShardLowWater {
			vm.markShardLow(shard)
			vm.events.InitiatePruning.Set()
		}
		th.shardStart = (shard + 1) % n
		return true
	}
	return false
}

// refillFromStandby batch-pulls from standby when every free shard is dry
// (spec.md §4.8 case C step 1(iii)). Pulled pages go straight to free:
// standby and free both count toward n_available (spec.md §4.9), so this
// never perturbs that invariant.
func (vm *Vm) refillFromStandby(th *ThreadState) bool {
	buf := make([]*pfn.Frame, vm.cfg.PerThreadCacheSize)
	got := vm.standby.RemoveBatchFromHead(buf, vm.cfg.PerThreadCacheSize, 0)
	if got == 0 {
		return false
	}
	for i := 0; i < got; i++ {
		pf := buf[i]
		pf.SetFree()
		pf.Lock.Release()
		th.freeCache = append(th.freeCache, pf)
	}
	return true
}
