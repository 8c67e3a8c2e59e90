// Package vmm ties the leaf subsystems (PTE/PFN tables, page lists, the
// disk-slot bitmap, and the frame mapper) into the single aggregate "vm"
// value spec.md §9 calls for, plus the fault handler and background
// workers that operate on it.
package vmm

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"vmcore/internal/event"
	"vmcore/internal/frame"
	"vmcore/internal/pagefile"
	"vmcore/internal/pagelist"
	"vmcore/internal/pfn"
	"vmcore/internal/pte"
	"vmcore/internal/stats"
	"vmcore/internal/vmdefs"
	"vmcore/internal/vmerr"
)

// Config sizes every subsystem. Values absent from the command line fall
// back to Default (spec.md §6).
type Config struct {
	BaseVA         uintptr
	VirtualPages   int
	PhysicalFrames int
	PageFileSlots  int

	FreeShardCount int

	MaxTrimAttempts    int
	MaxTrimBatchSize   int
	MaxWriteBatchSize  int
	PerThreadCacheSize int
	KernelScratchSlots int

	// ShardLowWater marks a free shard "low" once its size falls to or
	// below this many pages, making it a pruner target.
	ShardLowWater int
	// ModifiedLowWater is the threshold at or below which a soft-faulter that
	// drains the modified list signals the trimmer (spec.md §4.8 case B
	// step 4).
	ModifiedLowWater int
}

// Default returns sane sizing for a run that did not override every knob.
// It leaves VirtualPages, PhysicalFrames and PageFileSlots zero; the caller
// sets them afterwards (cmd/vmcore takes the frame and slot counts from the
// CLI and derives VirtualPages from the frame count).
func Default() Config {
	return Config{
		BaseVA:             0x10000,
		FreeShardCount:     8,
		MaxTrimAttempts:    256,
		MaxTrimBatchSize:   64,
		MaxWriteBatchSize:  64,
		PerThreadCacheSize: 16,
		KernelScratchSlots: 8,
		ShardLowWater:      4,
		ModifiedLowWater:   32,
	}
}

// Events bundles the named manual-reset events spec.md §5 lists. system_exit
// is deliberately absent: it is modeled as context.Context cancellation,
// passed to every Run/Access call instead of living here.
type Events struct {
	SystemStart       *event.ManualEvent
	InitiateAging     *event.ManualEvent
	InitiateTrimming  *event.ManualEvent
	InitiateWriting   *event.ManualEvent
	InitiatePruning   *event.ManualEvent
	StandbyPagesReady *event.ManualEvent
}

func newEvents() Events {
	return Events{
		SystemStart:       event.NewManualEvent(),
		InitiateAging:     event.NewManualEvent(),
		InitiateTrimming:  event.NewManualEvent(),
		InitiateWriting:   event.NewManualEvent(),
		InitiatePruning:   event.NewManualEvent(),
		StandbyPagesReady: event.NewManualEvent(),
	}
}

// ThreadState is the per-user-thread scratch the fault handler consults:
// a small free-frame cache, a round-robin shard start, and a cyclic pool
// of kernel scratch VAs distinct from the thread's user VA range (spec.md
// §4.8 case C, §5 "kernel-VA scratch regions are partitioned per user
// thread").
type ThreadState struct {
	id         int
	freeCache  []*pfn.Frame
	shardStart int
	kernelVAs  []uintptr
	kernelIdx  int
}

// NewThreadState allocates a ThreadState for user thread id whose kernel
// scratch pool is kernelSlots consecutive pages starting at kernelBase;
// ThreadScratchBase gives each thread a base that does not collide with
// the user span or another thread's pool.
func NewThreadState(id int, cacheSize, kernelSlots int, kernelBase uintptr) *ThreadState {
	vas := make([]uintptr, kernelSlots)
	for i := range vas {
		vas[i] = kernelBase + uintptr(i)*vmdefs.PageSize
	}
	return &ThreadState{
		id:         id,
		freeCache:  make([]*pfn.Frame, 0, cacheSize),
		shardStart: id,
		kernelVAs:  vas,
	}
}

// unmapKernelScratch drops every currently-mapped kernel scratch VA in one
// scatter call and rewinds the cursor, per spec.md §4.8 case C step 5.
func (vm *Vm) unmapKernelScratch(th *ThreadState) {
	if th.kernelIdx == 0 {
		return
	}
	zeros := make([]uint64, th.kernelIdx)
	if err := vm.mapper.MapScatter(th.kernelVAs[:th.kernelIdx], zeros); err != nil {
		panic(err)
	}
	th.kernelIdx = 0
}

// Vm is the single aggregate value the fault handler and every background
// worker share (spec.md §9's "one aggregate 'vm' value"). It is
// constructed once at startup; there is no lazy or implicit per-component
// initialization. It has no teardown method: its frames are not returned
// to the mapper at shutdown.
type Vm struct {
	cfg Config
	log zerolog.Logger

	ptes *pte.Table
	pfns *pfn.Table

	freeShards []*pagelist.List
	shardLow   []atomic.Bool

	modified *pagelist.List
	standby  *pagelist.List

	disk   *pagefile.Bitmap
	mapper frame.Mapper

	events   Events
	counters *stats.Counters
	rate     *stats.RateEstimator

	pteToTrim atomic.Int64
}

// New constructs the aggregate vm: it asks mapper for cfg.PhysicalFrames
// frames up front (spec.md §7 Allocation is fatal at startup if the host
// refuses) and distributes them round-robin across the free shards.
func New(cfg Config, mapper frame.Mapper, disk *pagefile.Bitmap, log zerolog.Logger) (*Vm, error) {
	ids, err := mapper.AllocFrames(cfg.PhysicalFrames)
	if err != nil {
		return nil, err
	}

	vm := &Vm{
		cfg:      cfg,
		log:      log,
		ptes:     pte.NewTable(cfg.BaseVA, cfg.VirtualPages),
		pfns:     pfn.NewTable(cfg.PhysicalFrames),
		modified: pagelist.New(),
		standby:  pagelist.New(),
		disk:     disk,
		mapper:   mapper,
		events:   newEvents(),
		counters: &stats.Counters{},
		rate:     stats.NewRateEstimator(0.5),
	}
	vm.freeShards = make([]*pagelist.List, cfg.FreeShardCount)
	vm.shardLow = make([]atomic.Bool, cfg.FreeShardCount)
	for i := range vm.freeShards {
		vm.freeShards[i] = pagelist.New()
	}
	for i, id := range ids {
		pf := vm.pfns.Get(id)
		pf.Lock.Acquire()
		vm.freeShards[i%cfg.FreeShardCount].InsertTail(pf)
		pf.Lock.Release()
	}
	vm.events.SystemStart.Set()
	return vm, nil
}

func (vm *Vm) Counters() *stats.Counters      { return vm.counters }
func (vm *Vm) RateEstimator() *stats.RateEstimator { return vm.rate }
func (vm *Vm) Events() Events                 { return vm.events }
func (vm *Vm) Config() Config                 { return vm.cfg }

// ThreadScratchBase returns the base of user thread id's private kernel
// scratch VA pool, just past the user VA span (spec.md §5 "kernel-VA
// scratch regions are partitioned per user thread").
func (vm *Vm) ThreadScratchBase(id int) uintptr {
	userSpan := uintptr(vm.cfg.VirtualPages) * vmdefs.PageSize
	perThread := uintptr(vm.cfg.KernelScratchSlots) * vmdefs.PageSize
	return vm.cfg.BaseVA + userSpan + uintptr(id)*perThread
}

// WriterScratchBase returns the base of the writer's own scratch VA pool,
// placed past every user thread's scratch range so the two never overlap.
func (vm *Vm) WriterScratchBase(threadCount int) uintptr {
	return vm.ThreadScratchBase(threadCount)
}

func (vm *Vm) markShardLow(i int)   { vm.shardLow[i].Store(true) }
func (vm *Vm) clearShardLow(i int)  { vm.shardLow[i].Store(false) }
func (vm *Vm) isShardLow(i int) bool { return vm.shardLow[i].Load() }

// lowShardIndices returns the indices of every shard currently marked low,
// the pruner's distribution targets (spec.md §4.9).
func (vm *Vm) lowShardIndices() []int {
	var out []int
	for i := range vm.shardLow {
		if vm.shardLow[i].Load() {
			out = append(out, i)
		}
	}
	return out
}

// AvailablePages returns the live n_available counter (spec.md §8
// invariant 4): every page sitting free or standby.
func (vm *Vm) AvailablePages() int {
	n := vm.standby.Size()
	for _, s := range vm.freeShards {
		n += s.Size()
	}
	return n
}

// invalidAddress is a convenience constructor matching spec.md §7's
// InvalidAddress kind.
func invalidAddress(msg string) error {
	return vmerr.New(vmerr.InvalidAddress, msg)
}
