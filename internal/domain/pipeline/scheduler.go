package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// JobRunner executes a batch job once.
type JobRunner interface {
	Run(ctx context.Context, job *ETLJobConfig) (*JobRun, error)
}

// JobLister supplies the current job definitions on every tick.
type JobLister interface {
	List(ctx context.Context, limit, offset int) ([]*ETLJobConfig, int, error)
}

const maxScheduledJobs = 1000

// Scheduler starts enabled batch jobs whose schedule interval has elapsed
// since their last start. A job still running when it falls due again is
// skipped for that tick.
type Scheduler struct {
	jobs   JobLister
	runner JobRunner
	tick   time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastStart map[uuid.UUID]time.Time
	wg        sync.WaitGroup
}

func NewScheduler(jobs JobLister, runner JobRunner, tick time.Duration, logger zerolog.Logger) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{
		jobs:      jobs,
		runner:    runner,
		tick:      tick,
		logger:    logger,
		now:       time.Now,
		lastStart: make(map[uuid.UUID]time.Time),
	}
}

// Run ticks until ctx is cancelled, then waits for started jobs to return.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.logger.Info().Dur("tick", s.tick).Msg("etl scheduler started")

	s.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("etl scheduler stopped")
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue starts every due job in its own goroutine and returns the names of
// the jobs started.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	jobs, _, err := s.jobs.List(ctx, maxScheduledJobs, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("etl scheduler: listing jobs")
		return nil
	}
	now := s.now()
	var started []string
	for _, job := range jobs {
		if !job.Enabled || job.Mode != ModeBatch || job.ScheduleInterval <= 0 {
			continue
		}
		s.mu.Lock()
		last, seen := s.lastStart[job.ID]
		due := !seen || now.Sub(last) >= time.Duration(job.ScheduleInterval)
		if due {
			s.lastStart[job.ID] = now
		}
		s.mu.Unlock()
		if !due {
			continue
		}
		started = append(started, job.Name)
		s.wg.Add(1)
		go func(job *ETLJobConfig) {
			defer s.wg.Done()
			if _, err := s.runner.Run(ctx, job); err != nil {
				if apperr.Is(err, apperr.CodeConflict) {
					s.logger.Debug().Str("job", job.Name).Msg("etl scheduler: job still running, skipped")
					return
				}
				s.logger.Error().Err(err).Str("job", job.Name).Msg("etl scheduler: job failed")
			}
		}(job)
	}
	return started
}

// Wait blocks until jobs started by RunDue have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }
