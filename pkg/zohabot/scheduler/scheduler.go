// Package scheduler runs the bot's housekeeping jobs (periodic session save
// and state eviction) on cron schedules.
// Uses robfig/cron for parsing and execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the work a job performs.
type JobFunc func(ctx context.Context) error

// Job is a named recurring task.
type Job struct {
	// Name identifies the job in logs and Stats.
	Name string

	// Schedule is a 5-field cron expression or a descriptor such as
	// "@hourly" or "@every 5m".
	Schedule string

	// Timeout bounds one run. Zero uses the scheduler default.
	Timeout time.Duration

	Run JobFunc
}

// JobStats describes the last runs of a job.
type JobStats struct {
	Name      string        `json:"name"`
	Schedule  string        `json:"schedule"`
	RunCount  int           `json:"run_count"`
	LastRunAt time.Time     `json:"last_run_at,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Duration  time.Duration `json:"last_run_duration,omitempty"`
	Next      time.Time     `json:"next,omitempty"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	running bool
	stats   JobStats
}

// Scheduler manages recurring jobs.
type Scheduler struct {
	cron       *cron.Cron
	jobs       map[string]*entry
	jobTimeout time.Duration

	logger *slog.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Jobs run with a 5 minute timeout unless they set
// their own.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		jobs:       make(map[string]*entry),
		jobTimeout: 5 * time.Minute,
		logger:     logger.With("component", "scheduler"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Add registers a job. It may be called before or after Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("job %q: schedule is required", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run func is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}

	e := &entry{job: job, stats: JobStats{Name: job.Name, Schedule: job.Schedule}}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(e) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	e.id = id
	s.jobs[job.Name] = e

	s.logger.Info("job added", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Start begins firing jobs. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "jobs", n)
}

// Stop halts scheduling and waits up to 10s for running jobs.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("scheduler stop timed out")
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.execute(e)
}

// Stats returns a snapshot of every job, ordered by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := e.stats
		st.Next = s.cron.Entry(e.id).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// errSkipped reports an overlapping fire.
var errSkipped = errors.New("job already running")

// execute runs one job with an overlap guard, a timeout and panic recovery.
func (s *Scheduler) execute(e *entry) (err error) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "name", e.job.Name)
		return errSkipped
	}
	e.running = true
	s.mu.Unlock()

	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = s.jobTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		s.mu.Lock()
		e.running = false
		e.stats.RunCount++
		e.stats.LastRunAt = start
		e.stats.Duration = time.Since(start)
		e.stats.LastError = ""
		if err != nil {
			e.stats.LastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("job failed", "name", e.job.Name, "error", err)
		} else {
			s.logger.Debug("job done", "name", e.job.Name, "duration", time.Since(start).String())
		}
	}()

	return e.job.Run(ctx)
}
