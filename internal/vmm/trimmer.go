package vmm

import (
	"context"

	"vmcore/internal/event"
	"vmcore/internal/pagelist"
	"vmcore/internal/pfn"
	"vmcore/internal/pte"
)

// trimCandidate is one page the trimmer has moved to transition form and
// is carrying through to publication.
type trimCandidate struct {
	pf *pfn.Frame
	va uintptr
}

// Trimmer demotes active pages to modified, replenishing the modified
// list the writer drains (spec.md §4.6).
type Trimmer struct{ vm *Vm }

func NewTrimmer(vm *Vm) *Trimmer { return &Trimmer{vm: vm} }

// Run blocks until ctx is done, running one trim pass each time
// initiate_trimming fires.
func (t *Trimmer) Run(ctx context.Context) error {
	for {
		idx, err := event.WaitAny(ctx, t.vm.events.InitiateTrimming)
		if err != nil {
			return nil
		}
		_ = idx
		t.vm.events.InitiateTrimming.Reset()
		t.runOnce()
	}
}

func (t *Trimmer) runOnce() {
	vm := t.vm
	n := len(vm.ptes.Entries)
	if n == 0 {
		return
	}
	cfg := vm.cfg

	batch := make([]trimCandidate, 0, cfg.MaxTrimBatchSize)
	start := int(vm.pteToTrim.Load() % int64(n))
	lastIdx := start

	for attempts := 0; attempts < cfg.MaxTrimAttempts && len(batch) < cfg.MaxTrimBatchSize; attempts++ {
		idx := (start + attempts) % n
		lastIdx = idx
		entry := vm.ptes.At(idx)
		if !entry.Lock.TryAcquire() {
			continue
		}
		if entry.Classify() != pte.FormValid {
			entry.Lock.Release()
			continue
		}
		frameNum, _ := entry.Frame()
		pf := vm.pfns.Get(frameNum)
		pf.Lock.Acquire()
		entry.SetTransition()
		entry.Lock.Release()
		pf.SetMidTrim()
		pf.Lock.Release()

		batch = append(batch, trimCandidate{pf: pf, va: vm.ptes.VA(idx)})
	}
	vm.pteToTrim.Store(int64((lastIdx + 1) % n))

	if len(batch) == 0 {
		return
	}

	vas := make([]uintptr, len(batch))
	zeros := make([]uint64, len(batch))
	for i, c := range batch {
		vas[i] = c.va
	}
	if err := vm.mapper.MapScatter(vas, zeros); err != nil {
		panic(err)
	}

	temp := pagelist.New()
	published := 0
	for _, c := range batch {
		c.pf.Lock.Acquire()
		if c.pf.TakeSoftFaultDuringTrim() {
			// Reclaimed by a soft-faulter while in flight; it already
			// reached active on its own, nothing left to publish.
			c.pf.Lock.Release()
			continue
		}
		c.pf.SetModified()
		temp.InsertTail(c.pf)
		c.pf.Lock.Release()
		published++
	}
	vm.modified.SpliceTail(temp)
	vm.counters.RecordTrimmed(int64(published))

	if t.shouldSignalWriter() {
		vm.events.InitiateWriting.Set()
	}
}

// shouldSignalWriter decides whether to wake the writer after a trim pass.
// The consumption rate is in pages/sec; once one is measured, the writer
// is signalled when fewer pages are available (free plus standby) than
// roughly one second of consumption. Before any rate is measured, it is
// signalled whenever the modified list is non-empty. No estimate of the
// writer's batch time is kept or consulted.
func (t *Trimmer) shouldSignalWriter() bool {
	rate := t.vm.rate.Rate()
	if rate <= 0 {
		return t.vm.modified.Size() > 0
	}
	return float64(t.vm.AvailablePages()) < rate
}
