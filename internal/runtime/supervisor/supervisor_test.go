package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanicAndKeepsFirstError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("boom", func(context.Context) error { panic("kaboom") })
	require.Error(t, s.Wait(context.Background()))
	require.Contains(t, s.Err().Error(), "kaboom")

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	require.EqualValues(t, 1, snap.Tasks[0].Panics)
	require.EqualValues(t, 0, snap.Counters.Active)
}

func TestCanceledIsCleanExit(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Err())
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	s.Go("fails", func(context.Context) error { return errors.New("listen failed") })
	err := s.Wait(context.Background())
	require.ErrorContains(t, err, "fails: listen failed")
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("serve", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond), WithPublishFirstError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorContains(t, s.Wait(ctx), "transient")
	require.EqualValues(t, 3, calls.Load())
	require.EqualValues(t, 2, s.Snapshot().Tasks[0].Restarts)
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := NewSupervisor(context.Background())
	s.GoRestart("serve", func(context.Context) error {
		calls.Add(1)
		return errors.New("bind: address in use")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, s.Wait(ctx))
	require.EqualValues(t, 3, calls.Load())
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	s := NewSupervisor(context.Background())
	s.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, s.Wait(context.Background()))
}
