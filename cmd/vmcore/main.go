// Command vmcore drives a usermode virtual-memory fault simulator: a
// synthetic address space backed by a deliberately undersized pool of
// physical frames, exercised by concurrent user threads while the
// trimmer, writer, and pruner keep the free lists replenished.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vmcore/internal/frame"
	"vmcore/internal/pagefile"
	"vmcore/internal/stats"
	"vmcore/internal/vmdefs"
	"vmcore/internal/vmm"
	"vmcore/internal/workload"
)

const (
	defaultThreadCount    = 8
	defaultIterations     = 1 << 20
	defaultPhysicalFrames = 256 << 10
	defaultPageFileSlots  = 128 << 10
	reportInterval        = time.Second
)

// usage prints a small help message and terminates the program, in the
// same style as chentry's own usage/log.Fatal pattern.
func usage(me string) {
	fmt.Printf("%s [threads iterations frames pagefile_slots]\n\n"+
		"Run the virtual-memory fault simulator.\n"+
		"Defaults: %d %d %d %d\n", me, defaultThreadCount, defaultIterations,
		defaultPhysicalFrames, defaultPageFileSlots)
	os.Exit(1)
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	threadCount, iterations, physFrames, pageSlots, ok := parseArgs(os.Args)
	if !ok {
		usage(os.Args[0])
	}

	if err := run(log, threadCount, iterations, physFrames, pageSlots); err != nil {
		log.Fatal().Err(err).Msg("vmcore failed")
	}
}

// parseArgs fills in spec defaults (8, 1Mi, 256Ki, 128Ki) for any argument
// the caller omitted; it accepts either zero or exactly four positional
// integers, matching chentry's own strict argc check.
func parseArgs(args []string) (threads, iterations, frames, slots int, ok bool) {
	threads, iterations, frames, slots = defaultThreadCount, defaultIterations, defaultPhysicalFrames, defaultPageFileSlots
	switch len(args) {
	case 1:
		return threads, iterations, frames, slots, true
	case 5:
		vals := make([]int, 4)
		for i, s := range args[1:] {
			n, err := strconv.ParseUint(s, 0, 32)
			if err != nil {
				return 0, 0, 0, 0, false
			}
			vals[i] = int(n)
		}
		return vals[0], vals[1], vals[2], vals[3], true
	default:
		return 0, 0, 0, 0, false
	}
}

func run(log zerolog.Logger, threadCount, iterations, physFrames, pageSlots int) error {
	start := time.Now()

	cfg := vmm.Default()
	// Oversubscribe the virtual address space relative to physical frames
	// so the workload actually drives the fault path instead of fitting
	// entirely resident after warmup.
	cfg.VirtualPages = physFrames * 4
	cfg.PhysicalFrames = physFrames
	cfg.PageFileSlots = pageSlots

	mapper := frame.NewSim(cfg.PhysicalFrames)
	disk := pagefile.NewBitmap(cfg.PageFileSlots)
	vm, err := vmm.New(cfg, mapper, disk, log)
	if err != nil {
		return fmt.Errorf("vmcore: startup: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep := stats.NewReporter(log, vm.Counters(), vm.RateEstimator())

	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error { return vmm.NewTrimmer(vm).Run(bgCtx) })
	bg.Go(func() error { return vmm.NewWriter(vm, vm.WriterScratchBase(threadCount)).Run(bgCtx) })
	bg.Go(func() error { return vmm.NewPruner(vm).Run(bgCtx) })
	bg.Go(func() error { return vmm.NewScheduler(vm, reportInterval, rep).Run(bgCtx) })

	users, usersCtx := errgroup.WithContext(ctx)
	for id := 0; id < threadCount; id++ {
		id := id
		users.Go(func() error {
			th := vmm.NewThreadState(id, cfg.PerThreadCacheSize, cfg.KernelScratchSlots, vm.ThreadScratchBase(id))
			gen := workload.NewGenerator(uint64(id+1), cfg.VirtualPages)
			access := func(ctx context.Context, va uintptr) error {
				return vm.Access(ctx, th, va)
			}
			return workload.Run(usersCtx, gen, cfg.BaseVA, vmdefs.PageSize, iterations, access)
		})
	}

	userErr := users.Wait()

	stop()
	if bgErr := bg.Wait(); bgErr != nil && userErr == nil {
		userErr = bgErr
	}
	if userErr != nil {
		return fmt.Errorf("vmcore: %w", userErr)
	}

	elapsed := time.Since(start)
	snap := vm.Counters().Snapshot()
	log.Info().
		Int64("hard_faults", snap.HardFaults).
		Int64("soft_faults", snap.SoftFaults).
		Int64("trimmed", snap.Trimmed).
		Int64("written", snap.Written).
		Int64("pruned", snap.Pruned).
		Msg("run complete")
	fmt.Printf("Test successful. Time elapsed: %.3f seconds.\n", elapsed.Seconds())
	return nil
}
