package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRunsOnInterval(t *testing.T) {
	var runs atomic.Int64

	sched := NewScheduler(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	sched.Start()
	defer sched.Stop()

	// First run is immediate with no jitter, then the ticker takes over.
	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFailingJobKeepsItsCadence(t *testing.T) {
	var runs atomic.Int64

	sched := NewScheduler(Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("peer unreachable")
		},
	})
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopHaltsJobs(t *testing.T) {
	var runs atomic.Int64

	sched := NewScheduler(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	sched.Start()

	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	sched.Stop()

	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	released := make(chan struct{})

	sched := NewScheduler(Job{
		Name:     "blocking",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			close(released)
			return ctx.Err()
		},
	})
	sched.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case <-released:
	default:
		t.Fatal("job did not observe cancellation")
	}
}

func TestJitterDelaysFirstRun(t *testing.T) {
	var runs atomic.Int64

	sched := NewScheduler(Job{
		Name:     "jittered",
		Interval: time.Hour,
		Jitter:   time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	sched.Start()
	defer sched.Stop()

	// With an hour of jitter the first run cannot plausibly have
	// happened yet.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestLifecycleIsIdempotent(t *testing.T) {
	var runs atomic.Int64

	sched := NewScheduler()
	sched.Add(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	// Stop before Start is a no-op.
	sched.Stop()

	sched.Start()
	sched.Start()
	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	sched.Stop()
	sched.Stop()
}
