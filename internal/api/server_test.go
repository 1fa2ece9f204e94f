package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/engine"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// ============================================================================
// Test fixtures
// ============================================================================

type testEnv struct {
	server *Server
	engine *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stores := engine.NewStores(storage.NewMemoryStore())
	eng := engine.New(stores, nil, nil, config.Default(), nil)
	srv := New(Config{Host: "127.0.0.1", Port: 0, Engine: eng})
	return &testEnv{server: srv, engine: eng}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	return rec
}

func floatPtr(v float64) *float64 { return &v }

func apiEvent(id, user string, kind core.EventKind, accuracy float64, ts time.Time) core.Event {
	return core.Event{
		ID:        core.EventID(id),
		UserID:    core.UserID(user),
		Timestamp: ts,
		Tool:      "phonics_blending",
		Kind:      kind,
		Performance: core.Performance{
			Accuracy:   floatPtr(accuracy),
			Attempts:   1,
			Difficulty: 2,
		},
		Behavior:    core.Behavior{Engagement: 7, Persistence: 6, Attention: 7},
		Environment: core.Environment{TimeOfDay: "morning"},
	}
}

// seedUser ingests enough events for patterns and recommendations to exist.
func (env *testEnv) seedUser(t *testing.T, user string) {
	t.Helper()
	base := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 4; i++ {
		ev := apiEvent(fmt.Sprintf("seed-err-%d", i), user, core.EventError, 20, base.Add(time.Duration(i)*time.Minute))
		rec := env.do(t, http.MethodPost, "/api/v1/events", ev)
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed event %d: status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
	}
	for i := 0; i < 3; i++ {
		ev := apiEvent(fmt.Sprintf("seed-ok-%d", i), user, core.EventSuccess, 90, base.Add(time.Duration(10+i)*time.Minute))
		rec := env.do(t, http.MethodPost, "/api/v1/events", ev)
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed event %d: status = %d, body = %s", i, rec.Code, rec.Body.String())
		}
	}
	if err := env.engine.Derive(context.Background(), core.UserID(user)); err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
}

// ============================================================================
// Ingestion
// ============================================================================

func TestPostEvent(t *testing.T) {
	env := newTestEnv(t)

	ev := apiEvent("ev-1", "kid-1", core.EventSuccess, 85, time.Now())
	rec := env.do(t, http.MethodPost, "/api/v1/events", ev)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["event_id"] != "ev-1" {
		t.Errorf("event_id = %q, want ev-1", resp["event_id"])
	}
}

func TestPostEventValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*core.Event)
		want   int
	}{
		{"missing id", func(ev *core.Event) { ev.ID = "" }, http.StatusBadRequest},
		{"missing user", func(ev *core.Event) { ev.UserID = "" }, http.StatusBadRequest},
		{"missing tool", func(ev *core.Event) { ev.Tool = "" }, http.StatusBadRequest},
		{"bad kind", func(ev *core.Event) { ev.Kind = "explode" }, http.StatusBadRequest},
		{"accuracy out of range", func(ev *core.Event) { ev.Performance.Accuracy = floatPtr(140) }, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := apiEvent("ev-x", "kid-1", core.EventSuccess, 80, time.Now())
			tt.mutate(&ev)
			rec := env.do(t, http.MethodPost, "/api/v1/events", ev)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestPostEventMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostEventOutOfOrder(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now()
	rec := env.do(t, http.MethodPost, "/api/v1/events", apiEvent("ev-1", "kid-1", core.EventSuccess, 80, now))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first event: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/events", apiEvent("ev-0", "kid-1", core.EventSuccess, 80, now.Add(-time.Hour)))
	if rec.Code != http.StatusConflict {
		t.Errorf("out-of-order event: status = %d, want 409", rec.Code)
	}
}

// ============================================================================
// Query endpoints
// ============================================================================

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var p core.LearningProfile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if p.UserID != "kid-1" {
		t.Errorf("UserID = %q, want kid-1", p.UserID)
	}
	if len(p.Skills) == 0 {
		t.Error("expected skills on seeded profile")
	}
}

func TestGetProfileUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/users/ghost/profile", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetPatterns(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/patterns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var pats []core.Pattern
	if err := json.Unmarshal(rec.Body.Bytes(), &pats); err != nil {
		t.Fatalf("decode patterns: %v", err)
	}
	if len(pats) == 0 {
		t.Error("expected patterns on seeded user")
	}
}

func TestGetFocus(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/focus", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var run core.FocusRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode focus run: %v", err)
	}
	if len(run.Areas) == 0 {
		t.Error("expected focus areas on seeded user")
	}
}

func TestGetRecommendations(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/recommendations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var recs []core.Recommendation
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode recommendations: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected recommendations on seeded user")
	}

	limited := env.do(t, http.MethodGet, "/api/v1/users/kid-1/recommendations?limit=1", nil)
	var one []core.Recommendation
	if err := json.Unmarshal(limited.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode limited recommendations: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("limit=1 returned %d recommendations", len(one))
	}
}

func TestGetRecommendationsBadLimit(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/recommendations?limit=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetBundle(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/bundle?minutes=45", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var bundle core.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	total := 0
	for _, item := range bundle.Recommendations {
		total += item.Timing.DurationMinutes
	}
	if total > 45 {
		t.Errorf("bundle duration %d exceeds 45 minute budget", total)
	}
}

func TestGetBundleBadMinutes(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	rec := env.do(t, http.MethodGet, "/api/v1/users/kid-1/bundle?minutes=-5", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ============================================================================
// Feedback endpoints
// ============================================================================

func TestPostOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	recs, err := env.engine.Recommender().List(context.Background(), "kid-1", 1)
	if err != nil || len(recs) == 0 {
		t.Fatalf("List() = %v recs, error %v", len(recs), err)
	}

	o := core.Outcome{
		UserID: "kid-1",
		Type:   core.OutcomeSuccess,
	}
	rec := env.do(t, http.MethodPost, "/api/v1/recommendations/"+recs[0].ID+"/outcome", o)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestPostOutcomeUnknownRecommendation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	o := core.Outcome{UserID: "kid-1", Type: core.OutcomeSuccess}
	rec := env.do(t, http.MethodPost, "/api/v1/recommendations/nope/outcome", o)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPostOutcomeRegressionReturnsAdjustment(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	recs, err := env.engine.Recommender().List(context.Background(), "kid-1", 1)
	if err != nil || len(recs) == 0 {
		t.Fatalf("List() = %v recs, error %v", len(recs), err)
	}

	o := core.Outcome{UserID: "kid-1", Type: core.OutcomeRegression}
	rec := env.do(t, http.MethodPost, "/api/v1/recommendations/"+recs[0].ID+"/outcome", o)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := resp["adaptive_adjustment"]; !ok {
		t.Error("expected adaptive_adjustment in regression response")
	}
}

func TestPauseAndResume(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")

	recs, err := env.engine.Recommender().List(context.Background(), "kid-1", 1)
	if err != nil || len(recs) == 0 {
		t.Fatalf("List() = %v recs, error %v", len(recs), err)
	}
	id := recs[0].ID
	body := map[string]string{"user_id": "kid-1"}

	rec := env.do(t, http.MethodPost, "/api/v1/recommendations/"+id+"/pause", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var paused core.Recommendation
	if err := json.Unmarshal(rec.Body.Bytes(), &paused); err != nil {
		t.Fatalf("decode paused: %v", err)
	}
	if paused.Status != core.RecStatusPaused {
		t.Errorf("Status = %q, want paused", paused.Status)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/recommendations/"+id+"/resume", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/recommendations/"+id+"/pause", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pause without user_id: status = %d, want 400", rec.Code)
	}
}

// ============================================================================
// Operational endpoints
// ============================================================================

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "kid-1")
	env.seedUser(t, "kid-2")

	rec := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if users, ok := stats["users"].(float64); !ok || int(users) != 2 {
		t.Errorf("users = %v, want 2", stats["users"])
	}
}

// ============================================================================
// WebSocket hub
// ============================================================================

func TestWebSocketHubLifecycle(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()
	defer hub.Close()

	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}

	// Broadcast to an empty hub must not block.
	done := make(chan struct{})
	go func() {
		hub.Broadcast(WebSocketMessage{Type: "test", Timestamp: time.Now()})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on empty hub")
	}
}
