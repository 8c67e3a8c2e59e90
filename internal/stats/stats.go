// Package stats implements the always-on counters and consumption-rate
// estimator spec.md §4.10/§8 needs for both the scheduler's trim-target
// sizing and the invariant checks, plus a zerolog-backed periodic report.
package stats

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Counters holds the running totals the scheduler and validators read.
// Every field is updated with atomic ops from arbitrary goroutines, the
// same shape as the teacher's Counter_t fields, but always compiled in:
// spec.md requires them for invariant checking, not just optional
// instrumentation.
type Counters struct {
	NHardFaults  atomic.Int64
	NSoftFaults  atomic.Int64
	NTrimmed     atomic.Int64
	NWritten     atomic.Int64
	NPruned      atomic.Int64
	WaitTimeNS   atomic.Int64 // cumulative time faulting threads spent blocked
	NFaultsTotal atomic.Int64
}

func (c *Counters) RecordHardFault() {
	c.NHardFaults.Add(1)
	c.NFaultsTotal.Add(1)
}

// RecordWait folds in time a faulting thread spent blocked on
// standby_pages_ready (spec.md §8 scenario 5).
func (c *Counters) RecordWait(d time.Duration) {
	c.WaitTimeNS.Add(int64(d))
}

func (c *Counters) RecordSoftFault() {
	c.NSoftFaults.Add(1)
	c.NFaultsTotal.Add(1)
}

func (c *Counters) RecordTrimmed(n int64) { c.NTrimmed.Add(n) }
func (c *Counters) RecordWritten(n int64) { c.NWritten.Add(n) }
func (c *Counters) RecordPruned(n int64)  { c.NPruned.Add(n) }

// Snapshot is an immutable, point-in-time copy of Counters for reporting.
type Snapshot struct {
	HardFaults  int64
	SoftFaults  int64
	Trimmed     int64
	Written     int64
	Pruned      int64
	WaitTimeNS  int64
	FaultsTotal int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		HardFaults:  c.NHardFaults.Load(),
		SoftFaults:  c.NSoftFaults.Load(),
		Trimmed:     c.NTrimmed.Load(),
		Written:     c.NWritten.Load(),
		Pruned:      c.NPruned.Load(),
		WaitTimeNS:  c.WaitTimeNS.Load(),
		FaultsTotal: c.NFaultsTotal.Load(),
	}
}

// RateEstimator is an exponentially-weighted moving average of the page
// consumption rate (faults per second), the basis for the scheduler's
// trim-target sizing in spec.md §4.10.
type RateEstimator struct {
	alpha   float64
	rate    atomic.Uint64 // math.Float64bits, EWMA in faults/sec
	lastN   int64
	lastT   time.Time
	initial bool
}

// NewRateEstimator returns an estimator with the given smoothing factor
// (spec.md §4.10 calls for 0.5: equal weight on the new sample and the
// running average).
func NewRateEstimator(alpha float64) *RateEstimator {
	return &RateEstimator{alpha: alpha}
}

// Sample folds in the number of faults observed since the previous call
// to Sample, weighted by elapsed wall time, producing a rate in
// faults/sec.
func (r *RateEstimator) Sample(totalFaults int64, now time.Time) float64 {
	if !r.initial {
		r.initial = true
		r.lastN = totalFaults
		r.lastT = now
		return 0
	}
	elapsed := now.Sub(r.lastT).Seconds()
	var instant float64
	if elapsed > 0 {
		instant = float64(totalFaults-r.lastN) / elapsed
	}
	r.lastN = totalFaults
	r.lastT = now

	prev := r.Rate()
	next := r.alpha*instant + (1-r.alpha)*prev
	r.rate.Store(math.Float64bits(next))
	return next
}

// Rate returns the current smoothed estimate, in faults/sec.
func (r *RateEstimator) Rate() float64 {
	return math.Float64frombits(r.rate.Load())
}

// Reporter periodically logs a Snapshot plus the current consumption
// rate through zerolog, in place of the teacher's Stats2String reflection
// dump (see SPEC_FULL.md §2).
type Reporter struct {
	log      zerolog.Logger
	counters *Counters
	rate     *RateEstimator
}

func NewReporter(log zerolog.Logger, counters *Counters, rate *RateEstimator) *Reporter {
	return &Reporter{log: log, counters: counters, rate: rate}
}

// Report emits one structured log line summarizing the current state.
func (r *Reporter) Report() {
	s := r.counters.Snapshot()
	r.log.Info().
		Int64("hard_faults", s.HardFaults).
		Int64("soft_faults", s.SoftFaults).
		Int64("trimmed", s.Trimmed).
		Int64("written", s.Written).
		Int64("pruned", s.Pruned).
		Float64("consumption_rate_per_sec", r.rate.Rate()).
		Dur("cumulative_wait", time.Duration(s.WaitTimeNS)).
		Msg("vmcore stats")
}

// Run samples the rate and emits a report every interval until done is
// closed. It is intended to run as one errgroup worker alongside the
// trimmer, writer, and pruner.
func (r *Reporter) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.rate.Sample(r.counters.NFaultsTotal.Load(), now)
			r.Report()
		case <-done:
			return
		}
	}
}
