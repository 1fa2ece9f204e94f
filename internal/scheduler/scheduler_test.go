package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/storage"
)

type recorder struct {
	mu   sync.Mutex
	runs []core.UserID
	done chan core.UserID
	err  error
}

func newRecorder() *recorder {
	return &recorder{done: make(chan core.UserID, 16)}
}

func (r *recorder) run(ctx context.Context, user core.UserID) error {
	r.mu.Lock()
	r.runs = append(r.runs, user)
	r.mu.Unlock()
	r.done <- user
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Workers:    2,
		JobTimeout: time.Second,
	}
}

func waitFor(t *testing.T, r *recorder, want core.UserID) {
	t.Helper()
	select {
	case got := <-r.done:
		if got != want {
			t.Fatalf("ran %s, want %s", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job for %s never ran", want)
	}
}

func TestScheduler_RunsDueJob(t *testing.T) {
	r := newRecorder()
	s := New(storage.NewMemoryStore(), r.run, testConfig(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	s.Schedule("u1", time.Now())
	waitFor(t, r, "u1")
}

func TestScheduler_HonorsNotBefore(t *testing.T) {
	r := newRecorder()
	s := New(storage.NewMemoryStore(), r.run, testConfig(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	s.Schedule("u1", time.Now().Add(time.Hour))
	select {
	case <-r.done:
		t.Fatal("job ran before its not_before time")
	case <-time.After(150 * time.Millisecond):
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}
}

func TestScheduler_EarlierScheduleWins(t *testing.T) {
	r := newRecorder()
	s := New(storage.NewMemoryStore(), r.run, testConfig(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	s.Schedule("u1", time.Now().Add(time.Hour))
	s.Schedule("u1", time.Now()) // pull forward
	waitFor(t, r, "u1")
}

func TestScheduler_OneJobPerUser(t *testing.T) {
	r := newRecorder()
	s := New(storage.NewMemoryStore(), r.run, testConfig(), nil)

	future := time.Now().Add(time.Hour)
	s.Schedule("u1", future)
	s.Schedule("u1", future)
	s.Schedule("u1", future.Add(time.Minute)) // later: ignored

	if s.Pending() != 1 {
		t.Errorf("Pending() = %d after repeated schedules, want 1", s.Pending())
	}
}

func TestScheduler_SurvivesRestart(t *testing.T) {
	kv := storage.NewMemoryStore()

	first := New(kv, newRecorder().run, testConfig(), nil)
	first.Schedule("u1", time.Now().Add(-time.Minute))
	// Not started; the job only lives in the KV store now.

	r := newRecorder()
	second := New(kv, r.run, testConfig(), nil)
	if err := second.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer second.Stop()

	waitFor(t, r, "u1")
}

func TestScheduler_RescheduleDuringRunSurvivesRestart(t *testing.T) {
	kv := storage.NewMemoryStore()
	r := newRecorder()

	// The runner re-schedules its own user mid-run, like an ingest
	// arriving while derivation is in flight.
	var s *Scheduler
	var once sync.Once
	run := func(ctx context.Context, user core.UserID) error {
		once.Do(func() { s.Schedule(user, time.Now().Add(time.Hour)) })
		return r.run(ctx, user)
	}
	s = New(kv, run, testConfig(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Schedule("u1", time.Now())
	waitFor(t, r, "u1")
	time.Sleep(100 * time.Millisecond) // let the finished run clean up
	s.Stop()

	if _, err := kv.Get(context.Background(), jobKey("u1")); err != nil {
		t.Fatalf("persisted job for u1 cleared by the finished run: %v", err)
	}

	second := New(kv, newRecorder().run, testConfig(), nil)
	if err := second.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	defer second.Stop()
	if second.Pending() != 1 {
		t.Errorf("Pending() after restart = %d, want the re-scheduled job", second.Pending())
	}
}

func TestScheduler_FailedJobDoesNotBlockOthers(t *testing.T) {
	r := newRecorder()
	r.err = errors.New("derivation boom")
	s := New(storage.NewMemoryStore(), r.run, testConfig(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	s.Schedule("u1", time.Now())
	s.Schedule("u2", time.Now())

	seen := map[core.UserID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-r.done:
			seen[u] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("only %d jobs ran", len(seen))
		}
	}
	if !seen["u1"] || !seen["u2"] {
		t.Errorf("ran %v, want both users despite failures", seen)
	}
}

func TestScheduler_Sweep(t *testing.T) {
	r := newRecorder()
	s := New(storage.NewMemoryStore(), r.run, testConfig(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	s.Sweep([]core.UserID{"u1", "u2", "u3"})
	seen := map[core.UserID]bool{}
	for i := 0; i < 3; i++ {
		select {
		case u := <-r.done:
			seen[u] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("sweep ran %d of 3 jobs", len(seen))
		}
	}
}
