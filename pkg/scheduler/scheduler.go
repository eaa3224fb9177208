package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Firefox2100/dedi-gateway/pkg/log"
)

// Job is a recurring background task. Jitter delays the first run by a
// random duration up to its value, so gateways restarted together do
// not gossip in lockstep.
type Job struct {
	Name     string
	Interval time.Duration
	Jitter   time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs the gateway's maintenance jobs: membership and data
// index gossip on every registered network, and polling for admission
// decisions the remote side could not push.
type Scheduler struct {
	logger zerolog.Logger

	mu     sync.Mutex
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over the given jobs.
func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{
		logger: log.WithComponent("scheduler"),
		jobs:   jobs,
	}
}

// Add registers another job. Jobs added after Start only run after the
// next Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches one loop per job. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.run(ctx, job)
		}(job)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels every job loop and waits for them to return. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// run executes the job once after its startup jitter, then on every
// tick of its interval, until the scheduler stops.
func (s *Scheduler) run(ctx context.Context, job Job) {
	if job.Jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(job.Jitter)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	s.invoke(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.invoke(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// invoke runs the job once. A failing run is logged and the loop keeps
// going; individual peers being down must not stall gossip for the
// rest of the network.
func (s *Scheduler) invoke(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Warn().
			Err(err).
			Str("job", job.Name).
			Msg("Scheduled job failed")
		return
	}
	s.logger.Debug().
		Str("job", job.Name).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled job finished")
}
