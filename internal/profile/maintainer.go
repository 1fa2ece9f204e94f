// Package profile folds interaction events into per-learner profiles.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// -----------------------------------------------------------------------------
// TOOL → SKILLS
// -----------------------------------------------------------------------------

// toolSkills maps each platform tool to the skill areas it exercises.
// Tools not listed here fall back to a single skill named after the tool.
var toolSkills = map[string][]core.SkillArea{
	"letter_matching":        {"phonics", "visual_processing"},
	"phonics_blending":       {"phonics"},
	"sight_words":            {"reading", "memory"},
	"visual_sequence_memory": {"memory", "visual_processing"},
	"pattern_completion":     {"memory", "logic"},
	"number_line":            {"numeracy"},
	"counting_game":          {"numeracy", "attention"},
	"message_builder":        {"communication"},
	"picture_exchange":       {"communication", "visual_processing"},
	"story_sequencing":       {"reading", "logic"},
	"sound_discrimination":   {"phonics", "attention"},
	"fine_motor_tracing":     {"motor_skills"},
	"daily_routine_board":    {"life_skills", "communication"},
}

// SkillsForTool resolves the skill areas a tool exercises.
func SkillsForTool(tool string) []core.SkillArea {
	if skills, ok := toolSkills[tool]; ok {
		return skills
	}
	return []core.SkillArea{core.SkillArea(tool)}
}

// -----------------------------------------------------------------------------
// SIGNALS
// -----------------------------------------------------------------------------

// SignalKind identifies a discontinuity the maintainer observed while
// applying an event. Signals feed the pattern detector's breakthrough
// logic for the same derivation pass.
type SignalKind string

const (
	SignalLevelUp      SignalKind = "level_up"
	SignalFirstSuccess SignalKind = "first_success"
)

// Signal is emitted by Apply alongside the updated profile.
type Signal struct {
	Kind    SignalKind
	Skill   core.SkillArea
	Level   int
	EventID core.EventID

	// PriorFailures is set for first_success signals.
	PriorFailures int
}

// -----------------------------------------------------------------------------
// MAINTAINER
// -----------------------------------------------------------------------------

// Maintainer owns all mutation of LearningProfile state. Events are
// appended to the log first, then folded into the profile; replaying
// an already-logged event id is a no-op.
type Maintainer struct {
	events   *storage.EventStore
	profiles *storage.ProfileStore
	tuning   config.TuningConfig
	log      *logging.Logger
	now      func() time.Time
}

func NewMaintainer(events *storage.EventStore, profiles *storage.ProfileStore, tuning config.TuningConfig) *Maintainer {
	return &Maintainer{
		events:   events,
		profiles: profiles,
		tuning:   tuning,
		log:      logging.WithField("component", "profile"),
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (m *Maintainer) WithClock(now func() time.Time) *Maintainer {
	m.now = now
	return m
}

// Apply validates, logs, and folds one event into the user's profile.
// It is idempotent: applying the same event id twice is equivalent to
// applying it once. Events older than the profile's last applied event
// are rejected rather than applied out of order.
func (m *Maintainer) Apply(ctx context.Context, ev core.Event) (*core.LearningProfile, []Signal, error) {
	if err := core.ValidateEvent(ev); err != nil {
		return nil, nil, err
	}
	if len(ev.Skills) == 0 {
		ev.Skills = SkillsForTool(ev.Tool)
	}

	p, err := m.profiles.Get(ctx, ev.UserID)
	if errors.Is(err, core.ErrUserNotFound) {
		now := m.now().UTC()
		p = &core.LearningProfile{
			UserID:    ev.UserID,
			CreatedAt: now,
			Skills:    make(map[core.SkillArea]*core.SkillProgress),
			Style: core.LearningStyleProfile{
				PreferredPace:        "moderate",
				OptimalSessionLength: 15,
				ChallengeTolerance:   0.5,
				IntrinsicMotivation:  50,
				RewardResponsiveness: 50,
			},
		}
	} else if err != nil {
		return nil, nil, err
	}

	// Redeliveries are acknowledged before the ordering check: an
	// already-applied event is always a no-op, even after newer events
	// have moved LastEventAt past it.
	seen, err := m.events.Seen(ctx, ev.UserID, ev.ID)
	if err != nil {
		return nil, nil, err
	}
	if seen {
		m.log.Debug("duplicate event %s for %s, skipping", ev.ID, ev.UserID)
		return p, nil, nil
	}

	if !p.LastEventAt.IsZero() && ev.Timestamp.Before(p.LastEventAt) {
		return nil, nil, fmt.Errorf("%w: event %s at %s precedes last applied %s",
			core.ErrEventOutOfOrder, ev.ID, ev.Timestamp.Format(time.RFC3339), p.LastEventAt.Format(time.RFC3339))
	}

	if _, err := m.events.Append(ctx, ev); err != nil {
		if errors.Is(err, core.ErrDuplicateEvent) {
			m.log.Debug("duplicate event %s for %s, skipping", ev.ID, ev.UserID)
			return p, nil, nil
		}
		return nil, nil, err
	}

	signals := m.fold(p, ev)

	if err := m.updateSessionStats(ctx, p, ev); err != nil {
		return nil, nil, err
	}

	p.LastEventAt = ev.Timestamp
	p.EventCount++
	p.UpdatedAt = m.now().UTC()

	if err := m.profiles.Put(ctx, p); err != nil {
		return nil, nil, err
	}
	return p, signals, nil
}

// fold applies the event's performance to each mapped skill.
func (m *Maintainer) fold(p *core.LearningProfile, ev core.Event) []Signal {
	var signals []Signal

	for _, area := range ev.Skills {
		sp := p.Skill(area)
		sp.LastPractice = ev.Timestamp
		sp.TotalMinutes += eventMinutes(ev)

		if ev.Performance.LatencyMS != nil {
			if sp.ToolLatencyMS == nil {
				sp.ToolLatencyMS = make(map[string][]int64)
			}
			window := append(sp.ToolLatencyMS[ev.Tool], *ev.Performance.LatencyMS)
			if len(window) > 10 {
				window = window[1:]
			}
			sp.ToolLatencyMS[ev.Tool] = window
		}

		switch ev.Kind {
		case core.EventSuccess, core.EventComplete:
			accuracy := 100.0
			if ev.Performance.Accuracy != nil {
				accuracy = *ev.Performance.Accuracy
			}
			sp.MasteryPct = core.Clamp(
				sp.MasteryPct+accuracy/100*m.tuning.MasteryGainPerSuccess, 0, 100)

			if sp.FailureStreak >= m.tuning.FirstSuccessFailures {
				signals = append(signals, Signal{
					Kind:          SignalFirstSuccess,
					Skill:         area,
					EventID:       ev.ID,
					PriorFailures: sp.FailureStreak,
				})
			}
			sp.FailureStreak = 0

		case core.EventError:
			sp.MasteryPct = core.Clamp(sp.MasteryPct-m.tuning.MasteryLossPerFailure, 0, 100)
			sp.FailureStreak++
		}

		sp.SessionsPracticed++
		sp.TotalAttempts += max(1, ev.Performance.Attempts)

		m.pushSession(sp, ev.Timestamp)
		sp.ImprovementRate = m.improvementRate(sp)

		if lvl := m.levelFor(sp.MasteryPct); lvl > sp.Level {
			sp.Level = lvl
			signals = append(signals, Signal{
				Kind:    SignalLevelUp,
				Skill:   area,
				Level:   lvl,
				EventID: ev.ID,
			})
			m.log.Info("level up: %s reached level %d in %s", p.UserID, lvl, area)
		}
	}
	return signals
}

// pushSession records the post-event mastery sample, keeping two full
// improvement windows of history.
func (m *Maintainer) pushSession(sp *core.SkillProgress, at time.Time) {
	keep := m.tuning.ImprovementWindow * 2
	sp.SessionMastery = append(sp.SessionMastery, sp.MasteryPct)
	sp.SessionTimes = append(sp.SessionTimes, at)
	if len(sp.SessionMastery) > keep {
		sp.SessionMastery = sp.SessionMastery[len(sp.SessionMastery)-keep:]
		sp.SessionTimes = sp.SessionTimes[len(sp.SessionTimes)-keep:]
	}
}

// improvementRate is the percentage-point delta between the trailing
// window's mean and the preceding window's mean, normalized to a
// weekly rate using the span those sessions cover.
func (m *Maintainer) improvementRate(sp *core.SkillProgress) float64 {
	w := m.tuning.ImprovementWindow
	n := len(sp.SessionMastery)
	if n < 2*w {
		return 0
	}
	trailing := mean(sp.SessionMastery[n-w:])
	preceding := mean(sp.SessionMastery[n-2*w : n-w])
	delta := trailing - preceding

	span := sp.SessionTimes[n-1].Sub(sp.SessionTimes[n-2*w])
	if span <= 0 {
		return delta
	}
	weeks := span.Hours() / (24 * 7)
	if weeks < 1 {
		weeks = 1
	}
	return delta / weeks
}

func (m *Maintainer) levelFor(mastery float64) int {
	if m.tuning.LevelStepPct <= 0 {
		return 0
	}
	return int(math.Floor(mastery / m.tuning.LevelStepPct))
}

// updateSessionStats recomputes the rolling engagement score from the
// recent event window:
// clamp(interaction_rate*10 + activity_diversity*5 + goal_completion_pct, 0, 100)
func (m *Maintainer) updateSessionStats(ctx context.Context, p *core.LearningProfile, ev core.Event) error {
	recent, err := m.events.Recent(ctx, p.UserID, m.tuning.WindowEvents)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		recent = []core.Event{ev}
	}

	tools := make(map[string]bool)
	starts, completes := 0, 0
	var engagementSamples []float64
	var minutes int
	for _, e := range recent {
		tools[e.Tool] = true
		switch e.Kind {
		case core.EventStart:
			starts++
		case core.EventComplete:
			completes++
		}
		engagementSamples = append(engagementSamples, float64(e.Behavior.Engagement))
		minutes += eventMinutes(e)
	}

	span := recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp)
	hours := span.Hours()
	if hours < 1 {
		hours = 1
	}
	interactionRate := float64(len(recent)) / hours

	goalCompletion := 0.0
	if starts > 0 {
		goalCompletion = math.Min(100, float64(completes)/float64(starts)*100)
	}

	p.Sessions.Count++
	p.Sessions.AvgLengthMinutes = float64(minutes) / float64(len(recent))
	p.Sessions.EngagementScore = core.Clamp(
		interactionRate*10+float64(len(tools))*5+goalCompletion, 0, 100)
	p.Sessions.EngagementTrend = engagementTrend(engagementSamples)
	return nil
}

// engagementTrend compares the trailing half of the samples against
// the leading half.
func engagementTrend(samples []float64) core.Trend {
	if len(samples) < 4 {
		return core.TrendStable
	}
	half := len(samples) / 2
	delta := mean(samples[half:]) - mean(samples[:half])
	switch {
	case delta > 0.5:
		return core.TrendIncreasing
	case delta < -0.5:
		return core.TrendDecreasing
	default:
		return core.TrendStable
	}
}

// eventMinutes estimates practice minutes from latency, defaulting to
// one minute per interaction.
func eventMinutes(ev core.Event) int {
	if ev.Performance.LatencyMS != nil {
		if mins := int(*ev.Performance.LatencyMS / 60000); mins > 0 {
			return mins
		}
	}
	return 1
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
