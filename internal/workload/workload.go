// Package workload generates the synthetic per-thread access pattern that
// drives a vmm.Vm in the absence of a real application (spec.md §1 treats
// the faulting program as an out-of-scope collaborator; something still
// has to call Access to exercise the simulator end to end).
package workload

import (
	"context"
	"math/rand/v2"
)

// Generator produces a deterministic, per-thread pseudo-random sequence of
// page indices into [0, virtualPages). Determinism per thread (not across
// threads: each gets its own stream) keeps a failing run reproducible
// without requiring the caller to capture every decision the scheduler and
// workers made concurrently.
type Generator struct {
	rng          *rand.Rand
	virtualPages int
}

// NewGenerator seeds a Generator for one thread. seed should vary by
// thread id so concurrent threads don't walk identical sequences.
func NewGenerator(seed uint64, virtualPages int) *Generator {
	return &Generator{
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		virtualPages: virtualPages,
	}
}

// NextPage returns the next page index to fault on.
func (g *Generator) NextPage() int {
	return g.rng.IntN(g.virtualPages)
}

// Access is the function a workload calls to resolve one fault; it is
// satisfied by (*vmm.Vm).Access with its thread state bound, keeping this
// package free of a dependency on vmm.
type Access func(ctx context.Context, va uintptr) error

// Run drives access with iterations page-sized accesses through baseVA,
// stopping early if ctx is cancelled or access returns an error.
func Run(ctx context.Context, g *Generator, baseVA uintptr, pageSize uintptr, iterations int, access Access) error {
	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		page := g.NextPage()
		va := baseVA + uintptr(page)*pageSize
		if err := access(ctx, va); err != nil {
			return err
		}
	}
	return nil
}
