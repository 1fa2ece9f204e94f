package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/metrics"
	"github.com/learnpulse/learnpulse/internal/storage"
)

type stubScheduler struct {
	mu    sync.Mutex
	calls []core.UserID
}

func (s *stubScheduler) Schedule(user core.UserID, notBefore time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, user)
}

func testEngine(t *testing.T) (*Engine, *stubScheduler) {
	t.Helper()
	cfg := config.Default()
	sched := &stubScheduler{}
	e := New(NewStores(storage.NewMemoryStore()), nil, sched, cfg, nil)
	return e, sched
}

func floatPtr(v float64) *float64 { return &v }

func event(id string, kind core.EventKind, ts time.Time, accuracy float64) core.Event {
	ev := core.Event{
		ID:        core.EventID(id),
		UserID:    "u1",
		Timestamp: ts,
		Tool:      "phonics_blending",
		Kind:      kind,
		Performance: core.Performance{
			Attempts:   1,
			Difficulty: 2,
		},
		Behavior: core.Behavior{Engagement: 6},
	}
	if kind == core.EventSuccess {
		ev.Performance.Accuracy = floatPtr(accuracy)
	}
	return ev
}

func TestEngine_EndToEnd(t *testing.T) {
	e, sched := testEngine(t)
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Hour)

	// Struggle then recover on phonics.
	seq := []core.Event{
		event("e1", core.EventError, now, 0),
		event("e2", core.EventError, now.Add(time.Minute), 0),
		event("e3", core.EventError, now.Add(2*time.Minute), 0),
		event("e4", core.EventError, now.Add(3*time.Minute), 0),
		event("e5", core.EventSuccess, now.Add(4*time.Minute), 90),
		event("e6", core.EventSuccess, now.Add(5*time.Minute), 90),
	}
	for _, ev := range seq {
		if _, err := e.Ingest(ctx, ev); err != nil {
			t.Fatalf("Ingest(%s) error = %v", ev.ID, err)
		}
	}
	if len(sched.calls) != len(seq) {
		t.Errorf("scheduler received %d calls, want one per ingested event", len(sched.calls))
	}

	if err := e.Derive(ctx, "u1"); err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	pats, err := e.stores.Patterns.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	var hasChallenge, hasBreakthrough bool
	for _, pat := range pats {
		switch pat.Type {
		case core.PatternChallenge:
			hasChallenge = true
		case core.PatternBreakthrough:
			hasBreakthrough = true
		}
	}
	if !hasChallenge {
		t.Error("low-mastery phonics should yield a challenge pattern")
	}
	if !hasBreakthrough {
		t.Error("first success after 4 failures should yield a breakthrough pattern")
	}

	run, err := e.stores.Focus.Latest(ctx, "u1")
	if err != nil || run == nil {
		t.Fatalf("no focus run after Derive: %v", err)
	}
	if len(run.Areas) == 0 {
		t.Fatal("focus run has no areas")
	}

	recs, err := e.recommender.List(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("recommendations: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("no active recommendations after Derive")
	}

	// Close the loop: a regression outcome interrupts synchronously.
	adj, err := e.RecordOutcome(ctx, core.Outcome{
		RecommendationID: recs[0].ID,
		UserID:           "u1",
		Type:             core.OutcomeRegression,
	})
	if err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if adj == nil || adj.Type != core.RecAdaptiveAdjust {
		t.Fatalf("regression outcome produced %+v, want adaptive_adjustment", adj)
	}
}

func histogramSamples(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("histogram Write() error = %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func recsGenerated(m *metrics.Metrics) float64 {
	var total float64
	for _, typ := range []core.RecommendationType{
		core.RecImmediateAction, core.RecShortTermGoal, core.RecLongTermPathway,
		core.RecAdaptiveAdjust, core.RecBreakthroughAccel,
	} {
		total += testutil.ToFloat64(m.RecommendationsGenerated.WithLabelValues(string(typ)))
	}
	return total
}

func TestEngine_DeriveObservesBreakthroughsAndRecommendations(t *testing.T) {
	cfg := config.Default()
	m := metrics.New()
	e := New(NewStores(storage.NewMemoryStore()), nil, &stubScheduler{}, cfg, m)
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Hour)

	scoredBefore := histogramSamples(t, m.BreakthroughsScored)
	recsBefore := recsGenerated(m)

	// Struggle then recover: the first success after four failures is a
	// breakthrough, and derivation turns the challenge into recommendations.
	seq := []core.Event{
		event("m1", core.EventError, now, 0),
		event("m2", core.EventError, now.Add(time.Minute), 0),
		event("m3", core.EventError, now.Add(2*time.Minute), 0),
		event("m4", core.EventError, now.Add(3*time.Minute), 0),
		event("m5", core.EventSuccess, now.Add(4*time.Minute), 90),
		event("m6", core.EventSuccess, now.Add(5*time.Minute), 90),
	}
	for _, ev := range seq {
		if _, err := e.Ingest(ctx, ev); err != nil {
			t.Fatalf("Ingest(%s) error = %v", ev.ID, err)
		}
	}
	if err := e.Derive(ctx, "u1"); err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if got := histogramSamples(t, m.BreakthroughsScored) - scoredBefore; got == 0 {
		t.Error("no breakthrough confidence observed after a first-success derivation")
	}
	if got := recsGenerated(m) - recsBefore; got == 0 {
		t.Error("no generated recommendations counted after derivation")
	}
}

func TestEngine_DeriveUnknownUser(t *testing.T) {
	e, _ := testEngine(t)
	if err := e.Derive(context.Background(), "ghost"); err == nil {
		t.Error("Derive() for unknown user should fail")
	}
}

func TestEngine_CleanupPrunesOldEvents(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	old := event("old", core.EventSuccess, time.Now().UTC().AddDate(0, 0, -120), 80)
	if _, err := e.Ingest(ctx, old); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	fresh := event("fresh", core.EventSuccess, time.Now().UTC(), 80)
	if _, err := e.Ingest(ctx, fresh); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if err := e.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	events, err := e.stores.Events.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "fresh" {
		t.Errorf("after cleanup events = %v, want only the fresh one", events)
	}
}
