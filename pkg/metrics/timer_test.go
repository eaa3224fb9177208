package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	require.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveRecordsSample(t *testing.T) {
	h := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_operation_duration_seconds",
			Help:    "Test operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.Observe(h, "/health")

	// One labelled series should exist after the observation.
	ch := make(chan prometheus.Metric, 4)
	h.Collect(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestTimersAreIndependent(t *testing.T) {
	older := NewTimer()
	time.Sleep(15 * time.Millisecond)
	newer := NewTimer()
	time.Sleep(5 * time.Millisecond)

	assert.Greater(t, older.Duration(), newer.Duration())
}
