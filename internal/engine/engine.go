// Package engine wires the derivation pipeline: events in, profile,
// patterns, focus areas, and recommendations out.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/focus"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/metrics"
	"github.com/learnpulse/learnpulse/internal/patterns"
	"github.com/learnpulse/learnpulse/internal/profile"
	"github.com/learnpulse/learnpulse/internal/recommend"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// Scheduler is the work-queue surface the engine needs.
type Scheduler interface {
	Schedule(user core.UserID, notBefore time.Time)
}

// Notifier pushes derivation updates to live clients. Satisfied by
// the API server's websocket broadcast.
type Notifier interface {
	Broadcast(msgType string, data interface{})
}

// Stores bundles the per-concern storage handles.
type Stores struct {
	Events   *storage.EventStore
	Profiles *storage.ProfileStore
	Patterns *storage.PatternStore
	Focus    *storage.FocusStore
	Recs     *storage.RecommendationStore
}

// NewStores builds all stores over one KV backend.
func NewStores(kv storage.Store) Stores {
	return Stores{
		Events:   storage.NewEventStore(kv),
		Profiles: storage.NewProfileStore(kv),
		Patterns: storage.NewPatternStore(kv),
		Focus:    storage.NewFocusStore(kv),
		Recs:     storage.NewRecommendationStore(kv),
	}
}

// Engine orchestrates the full pipeline. Per-user state is
// independent; callers may process different users concurrently.
type Engine struct {
	stores      Stores
	maintainer  *profile.Maintainer
	detector    *patterns.Detector
	synthesizer *focus.Synthesizer
	recommender *recommend.Engine
	feedback    *recommend.FeedbackLoop
	scheduler   Scheduler
	notifier    Notifier
	cfg         *config.Config
	metrics     *metrics.Metrics
	log         *logging.Logger
	now         func() time.Time
}

func New(stores Stores, analyzer focus.Analyzer, scheduler Scheduler, cfg *config.Config, m *metrics.Metrics) *Engine {
	recommender := recommend.NewEngine(stores.Recs, cfg.Tuning)
	e := &Engine{
		stores:      stores,
		maintainer:  profile.NewMaintainer(stores.Events, stores.Profiles, cfg.Tuning),
		detector:    patterns.NewDetector(stores.Events, stores.Patterns, cfg.Tuning),
		synthesizer: focus.NewSynthesizer(stores.Focus, analyzer, cfg.Tuning),
		recommender: recommender,
		scheduler:   scheduler,
		cfg:         cfg,
		metrics:     m,
		log:         logging.WithField("component", "engine"),
		now:         time.Now,
	}
	e.feedback = recommend.NewFeedbackLoop(recommender, stores.Profiles, schedulerAdapter{scheduler})
	return e
}

// schedulerAdapter lets a nil scheduler degrade to no-op.
type schedulerAdapter struct{ s Scheduler }

func (a schedulerAdapter) Schedule(user core.UserID, notBefore time.Time) {
	if a.s != nil {
		a.s.Schedule(user, notBefore)
	}
}

// SetNotifier attaches a live-update sink. Called after construction
// because the HTTP layer is built on top of the engine.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Recommender exposes the recommendation engine for query handlers.
func (e *Engine) Recommender() *recommend.Engine { return e.recommender }

// Stores exposes the storage handles for query handlers.
func (e *Engine) Stores() Stores { return e.stores }

// Ingest applies one event. Signal-driven breakthroughs (level_up,
// first_success) are detected synchronously so they are never lost;
// the full derivation pass is queued for the scheduler.
func (e *Engine) Ingest(ctx context.Context, ev core.Event) (*core.LearningProfile, error) {
	p, signals, err := e.maintainer.Apply(ctx, ev)
	if err != nil {
		if e.metrics != nil {
			e.metrics.EventsRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.EventsIngested.WithLabelValues(ev.Tool, string(ev.Kind)).Inc()
		e.metrics.IngestionLag.Observe(e.now().UTC().Sub(ev.Timestamp).Seconds())
	}

	if len(signals) > 0 {
		if _, err := e.detector.Detect(ctx, p, signals); err != nil {
			e.log.Error("signal detection for %s: %v", p.UserID, err)
		}
	}

	if e.scheduler != nil {
		e.scheduler.Schedule(ev.UserID, e.now().Add(time.Minute))
	}
	return p, nil
}

// Derive runs the scheduled downstream recomputation for one user:
// pattern detection, focus synthesis, and recommendation generation.
// Every write is a whole-snapshot replace, so cancellation mid-run
// leaves the previous snapshots intact.
func (e *Engine) Derive(ctx context.Context, user core.UserID) error {
	start := e.now()

	p, err := e.stores.Profiles.Get(ctx, user)
	if err != nil {
		return err
	}

	pats, err := e.detector.Detect(ctx, p, nil)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		for _, pat := range pats {
			if pat.LastObserved.After(start.Add(-time.Second)) {
				e.metrics.PatternsDetected.WithLabelValues(string(pat.Type)).Inc()
				if pat.Type == core.PatternBreakthrough {
					e.metrics.BreakthroughsScored.Observe(pat.Confidence)
				}
			}
		}
	}

	run, err := e.synthesizer.Synthesize(ctx, p, pats)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		narr := "fallback"
		if run.NarrativeUsed {
			narr = "used"
		}
		e.metrics.FocusRuns.WithLabelValues(narr).Inc()
	}

	recs, err := e.recommender.Generate(ctx, p, run, 0)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		for _, r := range recs {
			if r.GeneratedAt.After(start.Add(-time.Second)) {
				e.metrics.RecommendationsGenerated.WithLabelValues(string(r.Type)).Inc()
			}
		}
		e.metrics.RecommendationsActive.Set(float64(len(recs)))
		e.metrics.DerivationDuration.WithLabelValues("full").Observe(e.now().Sub(start).Seconds())
	}

	if e.notifier != nil {
		e.notifier.Broadcast("patterns_updated", map[string]interface{}{
			"user_id": user, "patterns": len(pats),
		})
		e.notifier.Broadcast("recommendations_updated", map[string]interface{}{
			"user_id": user, "active": len(recs),
		})
	}

	e.log.Debug("derived %d patterns, %d focus areas, %d recommendations for %s",
		len(pats), len(run.Areas), len(recs), user)
	return nil
}

// RecordOutcome runs the feedback loop for one outcome.
func (e *Engine) RecordOutcome(ctx context.Context, o core.Outcome) (*core.Recommendation, error) {
	adj, err := e.feedback.RecordOutcome(ctx, o)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.OutcomesRecorded.WithLabelValues(string(o.Type)).Inc()
	}
	return adj, nil
}

// Cleanup prunes expired events and focus history for every user.
func (e *Engine) Cleanup(ctx context.Context) error {
	users, err := e.stores.Events.Users(ctx)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	eventCutoff := now.AddDate(0, 0, -e.cfg.Storage.EventRetentionDays)
	focusCutoff := now.AddDate(0, 0, -e.cfg.Storage.FocusRetentionDays)

	for _, u := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n, err := e.stores.Events.Prune(ctx, u, eventCutoff); err != nil {
			e.log.Warn("event pruning for %s: %v", u, err)
		} else if n > 0 {
			e.log.Debug("pruned %d events for %s", n, u)
		}
		if _, err := e.stores.Focus.Prune(ctx, u, focusCutoff); err != nil {
			e.log.Warn("focus pruning for %s: %v", u, err)
		}
	}
	return nil
}

// Users lists every user with logged events.
func (e *Engine) Users(ctx context.Context) ([]core.UserID, error) {
	return e.stores.Events.Users(ctx)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrEventOutOfOrder):
		return "out_of_order"
	case errors.Is(err, core.ErrMissingRequired):
		return "missing_field"
	case errors.Is(err, core.ErrInvalidInput):
		return "invalid"
	default:
		return "other"
	}
}
