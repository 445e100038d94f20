package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateBlocksAtLimit(t *testing.T) {
	t.Parallel()
	g := newGate(2)
	ctx := context.Background()

	require.NoError(t, g.acquire(ctx))
	require.NoError(t, g.acquire(ctx))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.acquire(tctx), context.DeadlineExceeded)

	g.release()
	require.NoError(t, g.acquire(ctx))
	require.Equal(t, 2, g.peak())
}

func TestGateCanceledContextWins(t *testing.T) {
	t.Parallel()
	g := newGate(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.acquire(ctx), context.Canceled)
	require.Zero(t, g.peak())
}

func TestGatePeakUnderContention(t *testing.T) {
	t.Parallel()
	g := newGate(3)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.acquire(context.Background()); err != nil {
				return
			}
			defer g.release()
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, g.peak(), 3)
	require.GreaterOrEqual(t, g.peak(), 1)
}

func TestGateZeroLimitMeansOne(t *testing.T) {
	t.Parallel()
	g := newGate(0)
	require.NoError(t, g.acquire(context.Background()))
	tctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, g.acquire(tctx))
}
