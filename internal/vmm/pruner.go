package vmm

import (
	"context"

	"vmcore/internal/event"
	"vmcore/internal/pfn"
)

// Pruner moves standby pages back to the free lists when shards run low,
// severing the pruned PFN's back-pointer to its (already on-disk) owning
// PTE (spec.md §4.9). It never changes n_available: standby and free both
// count toward it.
type Pruner struct{ vm *Vm }

func NewPruner(vm *Vm) *Pruner { return &Pruner{vm: vm} }

// Run blocks until ctx is done, running one prune pass each time
// initiate_pruning fires.
func (p *Pruner) Run(ctx context.Context) error {
	for {
		_, err := event.WaitAny(ctx, p.vm.events.InitiatePruning)
		if err != nil {
			return nil
		}
		p.vm.events.InitiatePruning.Reset()
		p.runOnce()
	}
}

func (p *Pruner) runOnce() {
	vm := p.vm
	targets := vm.lowShardIndices()
	if len(targets) == 0 {
		return
	}

	capacity := vm.cfg.PerThreadCacheSize * len(targets)
	batch := make([]*pfn.Frame, capacity)
	n := vm.standby.RemoveBatchFromHead(batch, capacity, 0)
	if n == 0 {
		return
	}
	batch = batch[:n]

	for i, pf := range batch {
		// pf arrives locked from RemoveBatchFromHead. The owning PTE is
		// already on-disk (the writer installed that form before ever
		// moving the frame to standby); pruning only detaches this PFN's
		// side of the relationship and hands the frame back as free.
		pf.SetFree()
		shard := targets[i%len(targets)]
		vm.freeShards[shard].InsertTail(pf)
		pf.Lock.Release()
		vm.clearShardLow(shard)
	}
	vm.counters.RecordPruned(int64(n))
}
