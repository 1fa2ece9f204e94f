// Package scheduler provides the per-user derivation work queue.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/metrics"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// Runner executes the derivation pipeline for one user. A failed run
// affects only that user's job; other users are untouched.
type Runner func(ctx context.Context, user core.UserID) error

// Job is one pending derivation for a user. Jobs are persisted so
// recomputation survives restarts.
type Job struct {
	UserID     core.UserID `json:"user_id"`
	NotBefore  time.Time   `json:"not_before"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// Scheduler is a per-user work queue. At most one job per user is
// queued at a time; scheduling an earlier time for an already queued
// user pulls the job forward.
type Scheduler struct {
	kv      storage.Store
	run     Runner
	cfg     config.SchedulerConfig
	log     *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	jobs     map[core.UserID]Job
	inFlight map[core.UserID]bool
	wake     chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(kv storage.Store, run Runner, cfg config.SchedulerConfig, m *metrics.Metrics) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		kv:       kv,
		run:      run,
		cfg:      cfg,
		log:      logging.WithField("component", "scheduler"),
		metrics:  m,
		now:      time.Now,
		jobs:     make(map[core.UserID]Job),
		inFlight: make(map[core.UserID]bool),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithClock overrides the clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func jobKey(user core.UserID) string {
	return "queue/" + string(user)
}

// Schedule enqueues a derivation for the user at or after notBefore.
// If the user already has a queued job, the earlier time wins.
func (s *Scheduler) Schedule(user core.UserID, notBefore time.Time) {
	s.mu.Lock()
	job, ok := s.jobs[user]
	if !ok || notBefore.Before(job.NotBefore) {
		job = Job{UserID: user, NotBefore: notBefore, EnqueuedAt: s.now().UTC()}
		s.jobs[user] = job
		// Persisted under the same lock so a finishing run for this user
		// cannot interleave its queue cleanup with this write.
		if data, err := json.Marshal(job); err == nil {
			if err := s.kv.Put(context.Background(), jobKey(user), data); err != nil {
				s.log.Warn("persist job for %s: %v", user, err)
			}
		}
	}
	queued := len(s.jobs)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobsQueued.Set(float64(queued))
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start restores persisted jobs and launches the worker pool.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.restore(); err != nil {
		return err
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("scheduler started with %d workers", s.cfg.Workers)
	return nil
}

// Stop cancels all workers and waits for in-flight jobs. Cancelled
// runs are safe: derived state is written as whole snapshots, so an
// interrupted run leaves the prior snapshot in place.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// restore reloads jobs that were queued when the process last stopped.
func (s *Scheduler) restore() error {
	keys, err := s.kv.ListKeys(s.ctx, "queue/")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		data, err := s.kv.Get(s.ctx, k)
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Warn("discarding corrupt job at %s: %v", k, err)
			s.kv.Delete(s.ctx, k)
			continue
		}
		s.jobs[job.UserID] = job
	}
	if len(s.jobs) > 0 {
		s.log.Info("restored %d queued jobs", len(s.jobs))
	}
	return nil
}

// worker claims due jobs until the scheduler stops.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}

		for {
			job, ok := s.claim()
			if !ok {
				break
			}
			s.execute(job)
		}
	}
}

// claim pops one due job whose user has no run in flight.
func (s *Scheduler) claim() (Job, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, job := range s.jobs {
		if job.NotBefore.After(now) || s.inFlight[user] {
			continue
		}
		delete(s.jobs, user)
		s.inFlight[user] = true
		return job, true
	}
	return Job{}, false
}

func (s *Scheduler) execute(job Job) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, job.UserID)
		queued := len(s.jobs)
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.JobsQueued.Set(float64(queued))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	err := s.run(ctx, job.UserID)
	result := "ok"
	if err != nil {
		result = "error"
		s.log.Error("derivation for %s failed: %v", job.UserID, err)
	}
	if s.metrics != nil {
		s.metrics.JobsCompleted.WithLabelValues(result).Inc()
	}

	// The job is done (or failed terminally for this cycle); clear the
	// persisted copy either way. A failure surfaces again on the next
	// periodic sweep rather than retrying hot. If the user was
	// re-scheduled while this run was in flight, the persisted entry
	// belongs to the newer job and must stay.
	s.mu.Lock()
	if _, requeued := s.jobs[job.UserID]; !requeued {
		if err := s.kv.Delete(context.Background(), jobKey(job.UserID)); err != nil {
			s.log.Warn("clear job for %s: %v", job.UserID, err)
		}
	}
	s.mu.Unlock()
}

// Sweep enqueues a synthesis job for every known user. Called
// periodically by the daemon so derived state stays fresh even for
// users without recent events.
func (s *Scheduler) Sweep(users []core.UserID) {
	now := s.now().UTC()
	for _, u := range users {
		s.Schedule(u, now)
	}
}

// Pending reports queued (not in-flight) jobs, for the stats endpoint.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
