package workload_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/workload"
)

func TestGeneratorStaysInRange(t *testing.T) {
	g := workload.NewGenerator(1, 37)
	for i := 0; i < 1000; i++ {
		page := g.NextPage()
		require.GreaterOrEqual(t, page, 0)
		require.Less(t, page, 37)
	}
}

func TestGeneratorIsDeterministicPerSeed(t *testing.T) {
	a := workload.NewGenerator(42, 100)
	b := workload.NewGenerator(42, 100)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.NextPage(), b.NextPage())
	}
}

func TestRunCallsAccessForEveryIteration(t *testing.T) {
	g := workload.NewGenerator(7, 16)
	var calls int
	access := func(ctx context.Context, va uintptr) error {
		calls++
		return nil
	}
	err := workload.Run(context.Background(), g, 0x1000, 4096, 25, access)
	require.NoError(t, err)
	require.Equal(t, 25, calls)
}

func TestRunStopsOnAccessError(t *testing.T) {
	g := workload.NewGenerator(7, 16)
	boom := errors.New("boom")
	var calls int
	access := func(ctx context.Context, va uintptr) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	}
	err := workload.Run(context.Background(), g, 0, 4096, 100, access)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	g := workload.NewGenerator(7, 16)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	access := func(ctx context.Context, va uintptr) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	}
	err := workload.Run(ctx, g, 0, 4096, 100, access)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, calls, 100)
}
