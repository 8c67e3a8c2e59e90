package stats_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vmcore/internal/stats"
)

func TestCountersSnapshot(t *testing.T) {
	var c stats.Counters
	c.RecordHardFault()
	c.RecordWait(10 * time.Millisecond)
	c.RecordSoftFault()
	c.RecordTrimmed(3)
	c.RecordWritten(2)
	c.RecordPruned(1)

	s := c.Snapshot()
	require.EqualValues(t, 1, s.HardFaults)
	require.EqualValues(t, 1, s.SoftFaults)
	require.EqualValues(t, 3, s.Trimmed)
	require.EqualValues(t, 2, s.Written)
	require.EqualValues(t, 1, s.Pruned)
	require.EqualValues(t, 2, s.FaultsTotal)
	require.EqualValues(t, 10*time.Millisecond, s.WaitTimeNS)
}

func TestRateEstimatorFirstSampleIsBaseline(t *testing.T) {
	r := stats.NewRateEstimator(0.5)
	now := time.Unix(0, 0)
	require.Zero(t, r.Sample(0, now))
	require.Zero(t, r.Rate())
}

func TestRateEstimatorConvergesTowardSteadyRate(t *testing.T) {
	r := stats.NewRateEstimator(0.5)
	start := time.Unix(0, 0)
	r.Sample(0, start)

	var total int64
	var last float64
	for i := 1; i <= 10; i++ {
		total += 100
		last = r.Sample(total, start.Add(time.Duration(i)*time.Second))
	}
	require.InDelta(t, 100, last, 1.0, "steady 100/sec input should converge toward 100")
}

func TestReporterRunStopsOnDone(t *testing.T) {
	c := &stats.Counters{}
	r := stats.NewRateEstimator(0.5)
	rep := stats.NewReporter(zerolog.Nop(), c, r)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		rep.Run(done, time.Millisecond)
		close(finished)
	}()
	close(done)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after done was closed")
	}
}
