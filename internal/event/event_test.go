package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vmcore/internal/event"
)

func TestWaitBlocksUntilSet(t *testing.T) {
	e := event.NewManualEvent()
	require.False(t, e.IsSet())

	done := make(chan struct{})
	go func() {
		require.NoError(t, e.Wait(context.Background()))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Set")
	case <-time.After(20 * time.Millisecond):
	}

	e.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Set")
	}
}

func TestSetIsIdempotentAndBroadcasts(t *testing.T) {
	e := event.NewManualEvent()
	e.Set()
	e.Set()
	require.True(t, e.IsSet())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, e.Wait(context.Background()))
		}()
	}
	wg.Wait()
}

func TestResetClearsState(t *testing.T) {
	e := event.NewManualEvent()
	e.Set()
	e.Reset()
	require.False(t, e.IsSet())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitAnyReturnsFirstSetIndex(t *testing.T) {
	a := event.NewManualEvent()
	b := event.NewManualEvent()
	b.Set()

	idx, err := event.WaitAny(context.Background(), a, b)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestWaitAnyHonoursContextCancellation(t *testing.T) {
	a := event.NewManualEvent()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx, err := event.WaitAny(ctx, a)
	require.Equal(t, -1, idx)
	require.ErrorIs(t, err, context.Canceled)
}
