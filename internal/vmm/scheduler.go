package vmm

import (
	"context"
	"time"

	"vmcore/internal/stats"
)

// Scheduler is the periodic sampler of spec.md §4.10: it folds the fault
// count into the consumption-rate estimate on every tick and uses the
// result to proactively wake the trimmer/pruner before a hard fault would
// otherwise have to block on standby_pages_ready.
type Scheduler struct {
	vm       *Vm
	interval time.Duration
	reporter *stats.Reporter
}

// NewScheduler ticks every interval. reporter may be nil to disable the
// periodic log line (spec.md §6 "optional periodic report when a logging
// flag is set").
func NewScheduler(vm *Vm, interval time.Duration, reporter *stats.Reporter) *Scheduler {
	return &Scheduler{vm: vm, interval: interval, reporter: reporter}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.tick(now)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	vm := s.vm
	rate := vm.rate.Sample(vm.counters.NFaultsTotal.Load(), now)

	if rate > 0 && float64(vm.AvailablePages()) < rate {
		vm.events.InitiateTrimming.Set()
	}
	if len(vm.lowShardIndices()) > 0 {
		vm.events.InitiatePruning.Set()
	}
	if vm.modified.Size() > vm.cfg.ModifiedLowWater {
		vm.events.InitiateWriting.Set()
	}

	if s.reporter != nil {
		s.reporter.Report()
	}
}
