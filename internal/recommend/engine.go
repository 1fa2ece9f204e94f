package recommend

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// Engine expands focus areas into recommendations, scores and ranks
// them, and drives the per-recommendation state machine.
type Engine struct {
	recs   *storage.RecommendationStore
	tuning config.TuningConfig
	log    *logging.Logger
	now    func() time.Time
}

func NewEngine(recs *storage.RecommendationStore, tuning config.TuningConfig) *Engine {
	return &Engine{
		recs:   recs,
		tuning: tuning,
		log:    logging.WithField("component", "recommend"),
		now:    time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Generate expands the focus run into recommendations, supersedes
// older active recommendations for the same focus areas, ranks the
// active set, and persists the snapshot. availableTime of 0 means no
// caller constraint on session length.
func (e *Engine) Generate(ctx context.Context, p *core.LearningProfile, run *core.FocusRun, availableTime int) ([]core.Recommendation, error) {
	existing, err := e.recs.Get(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	existing = e.age(existing, now)

	var fresh []core.Recommendation
	for _, area := range run.Areas {
		acts := lookupActivities(area)
		if len(acts) > 2 {
			acts = acts[:2]
		}
		for _, act := range acts {
			fresh = append(fresh, e.build(p, area, act, availableTime, now))
		}
	}

	// A newer recommendation for the same focus area supersedes the
	// older active one.
	freshAreas := make(map[string]bool)
	for _, r := range fresh {
		freshAreas[r.FocusArea] = true
	}
	for i := range existing {
		if existing[i].Status == core.RecStatusActive && freshAreas[existing[i].FocusArea] {
			existing[i].Status = core.RecStatusSuperseded
			existing[i].UpdatedAt = now
		}
	}

	all := append(existing, fresh...)
	all = e.rank(all)

	if err := e.recs.Put(ctx, p.UserID, all); err != nil {
		return nil, err
	}
	return activeOnly(all), nil
}

// build constructs one scored recommendation from a catalog activity.
func (e *Engine) build(p *core.LearningProfile, area core.FocusArea, act activity, availableTime int, now time.Time) core.Recommendation {
	duration := p.Style.OptimalSessionLength
	if duration == 0 {
		duration = act.minutes
	}
	if availableTime > 0 && duration > availableTime {
		duration = availableTime
	}

	typ := act.typ
	if area.Kind == core.FocusBreakthrough {
		typ = core.RecBreakthroughAccel
	}

	rec := core.Recommendation{
		ID:               uuid.NewString(),
		UserID:           p.UserID,
		Type:             typ,
		FocusArea:        area.Area,
		Skill:            act.skill,
		Title:            act.title,
		Actions:          act.actions,
		ExpectedOutcomes: act.outcomes,
		Timing: core.Timing{
			DurationMinutes: duration,
			Frequency:       act.frequency,
		},
		Priority:    area.Priority,
		Confidence:  area.Confidence,
		Difficulty:  act.difficulty,
		Status:      core.RecStatusActive,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
	rec.Score = rec.Priority.Weight() * rec.Confidence * e.styleMatch(p.Style, act)
	return rec
}

// styleMatch rewards alignment with the learner's declared
// preferences, within [1.0, StyleMatchMax].
func (e *Engine) styleMatch(style core.LearningStyleProfile, act activity) float64 {
	factor := 1.0
	for _, m := range style.ModalityPreferences {
		if m == act.modality {
			factor += 0.1
			break
		}
	}
	if style.OptimalSessionLength > 0 {
		diff := act.minutes - style.OptimalSessionLength
		if diff < 0 {
			diff = -diff
		}
		if diff <= 5 {
			factor += 0.1
		}
	}
	return core.Clamp(factor, 1.0, e.tuning.StyleMatchMax)
}

// rank sorts by score descending with ties broken by the most recent
// generation timestamp, then truncates the active set to the cap.
// Terminal and paused recommendations are kept but do not count
// against the cap. The sort is total, so input order never changes
// the result.
func (e *Engine) rank(recs []core.Recommendation) []core.Recommendation {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.GeneratedAt.Equal(b.GeneratedAt) {
			return a.GeneratedAt.After(b.GeneratedAt)
		}
		return a.ID < b.ID
	})

	active := 0
	for i := range recs {
		if recs[i].Status != core.RecStatusActive {
			continue
		}
		active++
		if active > e.tuning.MaxActiveRecommendations {
			recs[i].Status = core.RecStatusSuperseded
			recs[i].UpdatedAt = e.now().UTC()
		}
	}
	return recs
}

// age moves active recommendations past the age limit to superseded.
func (e *Engine) age(recs []core.Recommendation, now time.Time) []core.Recommendation {
	maxAge := time.Duration(e.tuning.RecommendationMaxAgeDays) * 24 * time.Hour
	for i := range recs {
		if recs[i].Status == core.RecStatusActive && now.Sub(recs[i].GeneratedAt) > maxAge {
			recs[i].Status = core.RecStatusSuperseded
			recs[i].UpdatedAt = now
		}
	}
	return recs
}

// List returns the user's recommendations with aging applied, active
// first by rank order, up to limit (0 for all).
func (e *Engine) List(ctx context.Context, user core.UserID, limit int) ([]core.Recommendation, error) {
	recs, err := e.recs.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	aged := e.age(recs, now)
	if err := e.recs.Put(ctx, user, aged); err != nil {
		return nil, err
	}

	active := activeOnly(aged)
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

// Pause marks an active recommendation paused (explicit external signal).
func (e *Engine) Pause(ctx context.Context, user core.UserID, id string) (*core.Recommendation, error) {
	rec, err := e.recs.Find(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, core.ErrRecommendationTerminal
	}
	rec.Status = core.RecStatusPaused
	rec.UpdatedAt = e.now().UTC()
	if err := e.recs.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Resume reactivates a paused recommendation.
func (e *Engine) Resume(ctx context.Context, user core.UserID, id string) (*core.Recommendation, error) {
	rec, err := e.recs.Find(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, core.ErrRecommendationTerminal
	}
	rec.Status = core.RecStatusActive
	rec.UpdatedAt = e.now().UTC()
	if err := e.recs.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func activeOnly(recs []core.Recommendation) []core.Recommendation {
	var out []core.Recommendation
	for _, r := range recs {
		if r.Status == core.RecStatusActive {
			out = append(out, r)
		}
	}
	return out
}
