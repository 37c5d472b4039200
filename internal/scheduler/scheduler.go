// Package scheduler runs the periodic sync and analysis jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// ErrJobNotFound is returned by RunJobNow for an unknown job name.
var ErrJobNotFound = errors.New("job not found")

const defaultJobTimeout = 5 * time.Minute

// Job represents a scheduled job.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // per run, default 5m
	Handler  func(ctx context.Context) error

	// RunOnStart fires the job as soon as the scheduler starts.
	RunOnStart bool
}

// JobStatus is a snapshot of a job for the admin API.
type JobStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Running   bool       `json:"running"`
	Runs      int        `json:"runs"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

type jobState struct {
	job     *Job
	handle  gocron.Job
	running bool
	runs    int
	lastRun time.Time
	lastErr error
}

// Scheduler manages interval jobs on top of gocron.
type Scheduler struct {
	cron gocron.Scheduler

	jobs    []*jobState
	jobsMux sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler.
func NewScheduler() (*Scheduler, error) {
	cron, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(newGocronLogger()),
		gocron.WithStopTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, ctx: ctx, cancel: cancel}, nil
}

// AddJob registers a job. Runs of the same job never overlap; a tick that
// lands during a run is rescheduled.
func (s *Scheduler) AddJob(job *Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultJobTimeout
	}

	state := &jobState{job: job}
	opts := []gocron.JobOption{
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if job.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	handle, err := s.cron.NewJob(
		gocron.DurationJob(job.Interval),
		gocron.NewTask(func() { s.runJob(state) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", job.Name, err)
	}
	state.handle = handle

	s.jobsMux.Lock()
	s.jobs = append(s.jobs, state)
	s.jobsMux.Unlock()

	log.Info().
		Str("job", job.Name).
		Dur("interval", job.Interval).
		Bool("run_on_start", job.RunOnStart).
		Msg("Job registered")
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.jobsMux.RLock()
	log.Info().Int("jobs", len(s.jobs)).Msg("Starting scheduler")
	s.jobsMux.RUnlock()

	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	log.Info().Msg("Stopping scheduler")
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}

// runJob executes a job.
func (s *Scheduler) runJob(state *jobState) {
	job := state.job

	s.jobsMux.Lock()
	state.running = true
	s.jobsMux.Unlock()

	log.Info().Str("job", job.Name).Msg("Running job")
	start := time.Now()

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
	err := job.Handler(ctx)
	cancel()

	s.jobsMux.Lock()
	state.running = false
	state.runs++
	state.lastRun = start.UTC()
	state.lastErr = err
	s.jobsMux.Unlock()

	if err != nil {
		log.Error().Err(err).Str("job", job.Name).Dur("took", time.Since(start)).Msg("Job failed")
	} else {
		log.Info().Str("job", job.Name).Dur("took", time.Since(start)).Msg("Job completed")
	}
}

// RunJobNow runs a specific job immediately by name, without changing its
// schedule.
func (s *Scheduler) RunJobNow(name string) error {
	s.jobsMux.RLock()
	defer s.jobsMux.RUnlock()

	for _, state := range s.jobs {
		if state.job.Name == name {
			return state.handle.RunNow()
		}
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// GetJobStatus returns the status of all jobs.
func (s *Scheduler) GetJobStatus() []JobStatus {
	s.jobsMux.RLock()
	defer s.jobsMux.RUnlock()

	status := make([]JobStatus, len(s.jobs))
	for i, state := range s.jobs {
		st := JobStatus{
			Name:     state.job.Name,
			Interval: state.job.Interval.String(),
			Running:  state.running,
			Runs:     state.runs,
		}
		if !state.lastRun.IsZero() {
			t := state.lastRun
			st.LastRun = &t
		}
		if next, err := state.handle.NextRun(); err == nil && !next.IsZero() {
			st.NextRun = &next
		}
		if state.lastErr != nil {
			st.LastError = state.lastErr.Error()
		}
		status[i] = st
	}
	return status
}
