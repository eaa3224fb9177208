package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures one operation for histogram observation.
type Timer struct {
	start time.Time
}

// NewTimer starts measuring.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration is the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Observe records the elapsed seconds on a labelled histogram.
func (t *Timer) Observe(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
