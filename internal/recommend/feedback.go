package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// Scheduler is the resynthesis hook the feedback loop pokes when an
// outcome demands attention before the next scheduled cycle.
type Scheduler interface {
	Schedule(user core.UserID, notBefore time.Time)
}

// FeedbackLoop records outcomes against recommendations, adjusts the
// learning style profile, and fires the single interrupt path: a
// synchronous adaptive_adjustment on no_progress or regression.
type FeedbackLoop struct {
	engine    *Engine
	profiles  *storage.ProfileStore
	scheduler Scheduler
}

func NewFeedbackLoop(engine *Engine, profiles *storage.ProfileStore, scheduler Scheduler) *FeedbackLoop {
	return &FeedbackLoop{
		engine:    engine,
		profiles:  profiles,
		scheduler: scheduler,
	}
}

// RecordOutcome applies one outcome. The recommendation transitions
// per its state machine, the style profile is adjusted, and stalled or
// regressing outcomes synchronously produce exactly one
// adaptive_adjustment recommendation before returning.
func (f *FeedbackLoop) RecordOutcome(ctx context.Context, o core.Outcome) (*core.Recommendation, error) {
	if err := core.ValidateOutcome(o); err != nil {
		return nil, err
	}

	rec, err := f.engine.recs.Find(ctx, o.UserID, o.RecommendationID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", core.ErrRecommendationTerminal, rec.ID, rec.Status)
	}

	now := f.engine.now().UTC()
	if o.RecordedAt.IsZero() {
		o.RecordedAt = now
	}

	rec.Progress.Attempts++
	switch o.Type {
	case core.OutcomeSuccess, core.OutcomePartialSuccess:
		rec.Progress.Successes++
		rec.Status = core.RecStatusCompleted
	}
	rec.UpdatedAt = now
	if err := f.engine.recs.Update(ctx, rec); err != nil {
		return nil, err
	}
	if err := f.engine.recs.RecordOutcome(ctx, &o); err != nil {
		return nil, err
	}

	if err := f.adjustStyle(ctx, o); err != nil {
		return nil, err
	}

	var adjustment *core.Recommendation
	if o.Type == core.OutcomeNoProgress || o.Type == core.OutcomeRegression {
		adjustment, err = f.adaptiveAdjustment(ctx, rec, o, now)
		if err != nil {
			return nil, err
		}
		if f.scheduler != nil {
			f.scheduler.Schedule(o.UserID, now)
		}
	}
	return adjustment, nil
}

// adjustStyle applies the motivation and reward-responsiveness deltas.
func (f *FeedbackLoop) adjustStyle(ctx context.Context, o core.Outcome) error {
	p, err := f.profiles.Get(ctx, o.UserID)
	if err != nil {
		return err
	}

	t := f.engine.tuning
	switch o.Type {
	case core.OutcomeSuccess:
		p.Style.IntrinsicMotivation = core.Clamp(p.Style.IntrinsicMotivation+t.MotivationGainOnSuccess, 0, 100)
	case core.OutcomeNoProgress:
		p.Style.IntrinsicMotivation = core.Clamp(p.Style.IntrinsicMotivation-t.MotivationLossOnStall, 0, 100)
	}

	if o.Feedback != nil {
		delta := float64(o.Feedback.Engagement-3) * 2
		p.Style.RewardResponsiveness = core.Clamp(p.Style.RewardResponsiveness+delta, 0, 100)
	}

	p.UpdatedAt = f.engine.now().UTC()
	return f.profiles.Put(ctx, p)
}

// adaptiveAdjustment builds the interrupt recommendation: shorten the
// session on no_progress, lower the difficulty on regression.
func (f *FeedbackLoop) adaptiveAdjustment(ctx context.Context, failed *core.Recommendation, o core.Outcome, now time.Time) (*core.Recommendation, error) {
	duration := failed.Timing.DurationMinutes
	difficulty := failed.Difficulty
	var title string
	var actions []string

	switch o.Type {
	case core.OutcomeRegression:
		if difficulty > 1 {
			difficulty--
		}
		title = "Ease difficulty: " + failed.Title
		actions = []string{
			"Drop back one difficulty step",
			"Rebuild confidence with mastered material before retrying",
		}
	default: // no_progress
		if duration > 5 {
			duration = duration / 2
			if duration < 5 {
				duration = 5
			}
		}
		title = "Shorter sessions: " + failed.Title
		actions = []string{
			"Halve the session length",
			"End each session on a success",
		}
	}

	adj := core.Recommendation{
		ID:               uuid.NewString(),
		UserID:           o.UserID,
		Type:             core.RecAdaptiveAdjust,
		FocusArea:        failed.FocusArea,
		Skill:            failed.Skill,
		Title:            title,
		Actions:          actions,
		ExpectedOutcomes: []string{"Renewed progress at the adjusted level"},
		Timing: core.Timing{
			DurationMinutes: duration,
			Frequency:       failed.Timing.Frequency,
		},
		Priority:    core.PriorityHigh,
		Confidence:  0.75,
		Difficulty:  difficulty,
		Status:      core.RecStatusActive,
		GeneratedAt: now,
		UpdatedAt:   now,
	}
	adj.Score = adj.Priority.Weight() * adj.Confidence

	recs, err := f.engine.recs.Get(ctx, o.UserID)
	if err != nil {
		return nil, err
	}

	// The adjustment replaces the recommendation it corrects, so the
	// corrected one is superseded here. That also frees its slot under
	// the active cap: the interrupt must survive ranking even when the
	// user is at the cap with higher-scoring actives.
	for i := range recs {
		if recs[i].ID == failed.ID && !recs[i].Status.Terminal() {
			recs[i].Status = core.RecStatusSuperseded
			recs[i].UpdatedAt = now
		}
	}

	recs = append(recs, adj)
	if err := f.engine.recs.Put(ctx, o.UserID, f.engine.rank(recs)); err != nil {
		return nil, err
	}
	return &adj, nil
}
