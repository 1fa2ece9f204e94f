package insight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/metrics"
)

func TestAnalyze_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"text": "Focus on phonics drills.", "confidence": 0.7}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	analysis, err := c.Analyze(context.Background(), AnalysisRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", analysis.Confidence)
	}
}

func TestAnalyze_CachesByContentHash(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"text": "narrative", "confidence": 0.5}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	req := AnalysisRequest{UserID: "u1", ProfileSummary: "summary"}
	for i := 0; i < 3; i++ {
		if _, err := c.Analyze(context.Background(), req); err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times for identical request, want 1", got)
	}

	// A different request must bypass the cache.
	other := AnalysisRequest{UserID: "u2", ProfileSummary: "different"}
	if _, err := c.Analyze(context.Background(), other); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server called %d times after distinct request, want 2", got)
	}
}

func TestAnalyze_CountsRequestsAndCacheHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "narrative", "confidence": 0.5}`))
	}))
	defer srv.Close()

	m := metrics.New()
	okBefore := testutil.ToFloat64(m.InsightRequests.WithLabelValues("ok"))
	cacheBefore := testutil.ToFloat64(m.InsightRequests.WithLabelValues("cache"))
	hitsBefore := testutil.ToFloat64(m.InsightCacheHits)

	c := NewClient(Config{BaseURL: srv.URL, Metrics: m})
	req := AnalysisRequest{UserID: "u1", ProfileSummary: "counted"}
	for i := 0; i < 2; i++ {
		if _, err := c.Analyze(context.Background(), req); err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
	}

	if got := testutil.ToFloat64(m.InsightRequests.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok requests counted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InsightRequests.WithLabelValues("cache")) - cacheBefore; got != 1 {
		t.Errorf("cache requests counted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InsightCacheHits) - hitsBefore; got != 1 {
		t.Errorf("cache hits counted = %v, want 1", got)
	}
}

func TestAnalyze_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := c.Analyze(context.Background(), AnalysisRequest{UserID: "u1"})
	if !errors.Is(err, core.ErrCollaboratorUnavailable) {
		t.Errorf("Analyze() timeout error = %v, want ErrCollaboratorUnavailable", err)
	}
}

func TestAnalyze_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Analyze(context.Background(), AnalysisRequest{UserID: "u1"})
	if !errors.Is(err, core.ErrMalformedNarrative) {
		t.Errorf("Analyze() error = %v, want ErrMalformedNarrative", err)
	}
}

func TestAnalyze_Unconfigured(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Analyze(context.Background(), AnalysisRequest{UserID: "u1"})
	if !errors.Is(err, core.ErrCollaboratorUnavailable) {
		t.Errorf("Analyze() error = %v, want ErrCollaboratorUnavailable", err)
	}
}

func TestParseNarrative(t *testing.T) {
	text := "The learner shows steady gains.\n" +
		"- daily phonics blending practice\n" +
		"* short memory games before lunch\n" +
		"You should focus on turn-taking exercises.\n" +
		"Unrelated commentary with no suggestion."

	areas := ParseNarrative(text, 0.8)
	if len(areas) != 3 {
		t.Fatalf("ParseNarrative() returned %d areas, want 3: %+v", len(areas), areas)
	}
	for _, a := range areas {
		if a.Kind != core.FocusNarrative {
			t.Errorf("area kind = %s, want narrative_insight", a.Kind)
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			t.Errorf("area confidence %v outside [0,1]", a.Confidence)
		}
	}
	if areas[2].Area != "turn-taking exercises" {
		t.Errorf("parsed focus = %q, want %q", areas[2].Area, "turn-taking exercises")
	}
}

func TestParseNarrative_Garbage(t *testing.T) {
	if areas := ParseNarrative("", 0.9); len(areas) != 0 {
		t.Errorf("empty text produced %d areas", len(areas))
	}
	if areas := ParseNarrative("no structure here whatsoever", 0.9); len(areas) != 0 {
		t.Errorf("unstructured text produced %d areas", len(areas))
	}
}
