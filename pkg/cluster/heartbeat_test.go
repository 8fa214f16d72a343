package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedPeriod(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestSchedulerRunsCyclesUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(func(context.Context) error {
		runs.Add(1)
		return nil
	}, fixedPeriod(5*time.Millisecond), zerolog.Nop())

	assert.Equal(t, StateIdle, s.State())
	require.True(t, s.Start())
	assert.False(t, s.Start(), "second start while active is a no-op")

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.Active())

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no cycles after stop")

	assert.False(t, s.Start(), "stopped is terminal")
	s.Stop() // idempotent
}

func TestSchedulerStopCancelsPendingCycle(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(func(context.Context) error {
		runs.Add(1)
		return nil
	}, fixedPeriod(time.Hour), zerolog.Nop())

	require.True(t, s.Start())
	assert.Equal(t, StateScheduled, s.State())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the pending timer")
	}
	assert.Equal(t, int32(0), runs.Load())
}

func TestSchedulerStopLetsRunningCycleFinish(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	s := NewScheduler(func(context.Context) error {
		close(entered)
		<-release
		finished.Store(true)
		return nil
	}, fixedPeriod(time.Millisecond), zerolog.Nop())
	require.True(t, s.Start())

	<-entered
	assert.Equal(t, StateRunning, s.State())

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a cycle was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop never returned")
	}
	assert.True(t, finished.Load())
	assert.Equal(t, StateStopped, s.State())
}

func TestSchedulerHaltsOnFailure(t *testing.T) {
	var runs atomic.Int32
	var fail atomic.Bool
	s := NewScheduler(func(context.Context) error {
		runs.Add(1)
		if fail.Load() {
			return errors.New("boom")
		}
		return nil
	}, fixedPeriod(2*time.Millisecond), zerolog.Nop())

	fail.Store(true)
	require.True(t, s.Start())
	require.Eventually(t, func() bool { return !s.Active() }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, int32(1), runs.Load())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "nothing rescheduled after a failure")

	// Restart resumes the schedule.
	fail.Store(false)
	require.True(t, s.Start())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()
}

func TestSchedulerReadsPeriodWhenArming(t *testing.T) {
	var period atomic.Int64
	period.Store(int64(time.Hour))

	var runs atomic.Int32
	s := NewScheduler(func(context.Context) error {
		runs.Add(1)
		return nil
	}, func() time.Duration { return time.Duration(period.Load()) }, zerolog.Nop())

	// The first cycle is armed with an hour; shortening the period does not
	// pull it in.
	require.True(t, s.Start())
	period.Store(int64(time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
	s.Stop()

	// Armed with a short period, later cycles pick up a longer one.
	var runs2 atomic.Int32
	period.Store(int64(time.Millisecond))
	s2 := NewScheduler(func(context.Context) error {
		if runs2.Add(1) == 1 {
			period.Store(int64(time.Hour))
		}
		return nil
	}, func() time.Duration { return time.Duration(period.Load()) }, zerolog.Nop())
	require.True(t, s2.Start())
	require.Eventually(t, func() bool { return runs2.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs2.Load())
	s2.Stop()
}

func TestSchedulerStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "scheduled", StateScheduled.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
