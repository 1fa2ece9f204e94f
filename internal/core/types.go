// Package core defines the fundamental types for LearnPulse.
// These types are the DNA of the entire system.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// EVENT - An immutable behavioral fact from the learning platform
// -----------------------------------------------------------------------------

// EventID is a type-safe identifier for events
type EventID string

// UserID is a type-safe identifier for learners
type UserID string

// SkillArea is a type-safe identifier for skill areas ("phonics", "memory", ...)
type SkillArea string

// EventKind represents what happened during an interaction
type EventKind string

const (
	EventSuccess       EventKind = "success"
	EventError         EventKind = "error"
	EventStart         EventKind = "start"
	EventComplete      EventKind = "complete"
	EventNavigation    EventKind = "navigation"
	EventCommunication EventKind = "communication_attempt"
)

// ValidEventKind reports whether k is a known event kind.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventSuccess, EventError, EventStart, EventComplete,
		EventNavigation, EventCommunication:
		return true
	}
	return false
}

// Performance captures how the learner did on a single interaction.
// Accuracy and latency are optional; not every tool reports them.
type Performance struct {
	Accuracy   *float64 `json:"accuracy,omitempty"`   // 0-100
	LatencyMS  *int64   `json:"latency_ms,omitempty"` // Response latency
	Attempts   int      `json:"attempts"`
	Difficulty int      `json:"difficulty"` // 1-5
}

// Behavior captures the observed behavioral state during the interaction.
// Scores are 0-10 as reported by the collecting platform.
type Behavior struct {
	Engagement  int    `json:"engagement"`
	Frustration int    `json:"frustration"`
	Persistence int    `json:"persistence"`
	Attention   int    `json:"attention"`
	Mood        string `json:"mood,omitempty"`
}

// Environment captures the context the interaction happened in
type Environment struct {
	TimeOfDay    string `json:"time_of_day"` // "morning", "afternoon", "evening"
	Location     string `json:"location,omitempty"`
	Distractions string `json:"distractions,omitempty"`
}

// Event is an immutable interaction fact submitted by the platform.
// Events are never mutated after ingestion.
type Event struct {
	ID          EventID     `json:"id"`
	UserID      UserID      `json:"user_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Tool        string      `json:"tool_name"`
	Kind        EventKind   `json:"event_kind"`
	Performance Performance `json:"performance"`
	Behavior    Behavior    `json:"behavior"`
	Environment Environment `json:"environment"`

	// Skills the event exercises, resolved from the tool at ingestion.
	Skills []SkillArea `json:"skill_areas,omitempty"`
}

// -----------------------------------------------------------------------------
// PROFILE - The longitudinal per-learner model
// -----------------------------------------------------------------------------

// SkillProgress tracks mastery of one skill area for one learner.
// MasteryPct is always within [0,100]; Level advances only when the
// mastery threshold (level * 20) is crossed.
type SkillProgress struct {
	Skill             SkillArea `json:"skill_area"`
	MasteryPct        float64   `json:"mastery_pct"`
	Level             int       `json:"level"`
	SessionsPracticed int       `json:"sessions_practiced"`
	TotalMinutes      int       `json:"total_minutes"`
	ImprovementRate   float64   `json:"improvement_rate"` // pct points per week
	LastPractice      time.Time `json:"last_practice"`

	// Rolling per-session mastery samples with their timestamps, oldest
	// first. Used for the trailing-vs-preceding improvement rate window
	// and its normalization to a weekly rate.
	SessionMastery []float64   `json:"session_mastery,omitempty"`
	SessionTimes   []time.Time `json:"session_times,omitempty"`

	// Rolling response latencies keyed by tool, oldest first, trailing
	// ten per tool. Kept per tool so a fast tool and a slow tool under
	// the same skill never blend into one baseline.
	ToolLatencyMS map[string][]int64 `json:"tool_latency_ms,omitempty"`

	// Consecutive failures since the last success, feeding
	// first-success breakthrough detection.
	FailureStreak int `json:"failure_streak"`
	TotalAttempts int `json:"total_attempts"`
}

// LearningStyleProfile biases scoring toward what works for this learner.
// Motivation and responsiveness live on a 0-100 scale and are adjusted
// by the outcome feedback loop.
type LearningStyleProfile struct {
	ModalityPreferences  []string `json:"modality_preferences"`   // "visual", "auditory", ...
	PreferredPace        string   `json:"preferred_pace"`         // "slow", "moderate", "fast"
	OptimalSessionLength int      `json:"optimal_session_length"` // minutes
	ChallengeTolerance   float64  `json:"challenge_tolerance"`    // 0-1
	IntrinsicMotivation  float64  `json:"intrinsic_motivation"`   // 0-100
	RewardResponsiveness float64  `json:"reward_responsiveness"`  // 0-100
}

// SessionStats holds rolling session aggregates
type SessionStats struct {
	Count            int     `json:"count"`
	AvgLengthMinutes float64 `json:"avg_length_minutes"`
	EngagementScore  float64 `json:"engagement_score"` // 0-100
	EngagementTrend  Trend   `json:"engagement_trend"`
}

// LearningProfile is the aggregated longitudinal model for a learner.
// Created on the first event, updated incrementally, long-lived.
type LearningProfile struct {
	UserID    UserID    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Skills   map[SkillArea]*SkillProgress `json:"skills"`
	Sessions SessionStats                 `json:"sessions"`
	Style    LearningStyleProfile         `json:"learning_style"`

	// LastEventAt is the timestamp of the last applied event; events
	// older than this are rejected at the ingestion boundary.
	LastEventAt time.Time `json:"last_event_at"`
	EventCount  int       `json:"event_count"`
}

// Skill returns the progress record for a skill, creating it if absent.
func (p *LearningProfile) Skill(area SkillArea) *SkillProgress {
	if p.Skills == nil {
		p.Skills = make(map[SkillArea]*SkillProgress)
	}
	sp, ok := p.Skills[area]
	if !ok {
		sp = &SkillProgress{Skill: area}
		p.Skills[area] = sp
	}
	return sp
}

// -----------------------------------------------------------------------------
// PATTERN - A detected behavioral pattern
// -----------------------------------------------------------------------------

// PatternType categorizes detected patterns
type PatternType string

const (
	PatternStrength          PatternType = "strength"
	PatternChallenge         PatternType = "challenge"
	PatternBreakthrough      PatternType = "breakthrough"
	PatternRegressionWarning PatternType = "regression_warning"
)

// BreakthroughKind distinguishes the discontinuity that triggered a
// breakthrough pattern.
type BreakthroughKind string

const (
	BreakthroughFirstSuccess     BreakthroughKind = "first_success"
	BreakthroughConsistency      BreakthroughKind = "consistency_achieved"
	BreakthroughLevelUp          BreakthroughKind = "level_up"
	BreakthroughSpeedImprovement BreakthroughKind = "speed_improvement"
	BreakthroughIndependence     BreakthroughKind = "independence_gained"
	BreakthroughTrendReversal    BreakthroughKind = "trend_reversal"
)

// Trend represents the direction of a metric over time
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Significance ranks how much a pattern matters
type Significance string

const (
	SignificanceLow      Significance = "low"
	SignificanceModerate Significance = "moderate"
	SignificanceHigh     Significance = "high"
	SignificanceCritical Significance = "critical"
)

// Rank returns an ordering value for tie-breaking (higher wins).
func (s Significance) Rank() int {
	switch s {
	case SignificanceCritical:
		return 4
	case SignificanceHigh:
		return 3
	case SignificanceModerate:
		return 2
	case SignificanceLow:
		return 1
	}
	return 0
}

// Pattern is a derived observation about a learner. Patterns with the
// same (user, type, key) accumulate frequency instead of duplicating.
type Pattern struct {
	ID            string       `json:"id"`
	UserID        UserID       `json:"user_id"`
	Type          PatternType  `json:"type"`
	Key           string       `json:"key"` // dedupe key, e.g. "strength:phonics"
	Description   string       `json:"description"`
	Confidence    float64      `json:"confidence"` // 0-1
	Evidence      []EventID    `json:"evidence_event_ids,omitempty"`
	FirstObserved time.Time    `json:"first_observed"`
	LastObserved  time.Time    `json:"last_observed"`
	Frequency     int          `json:"frequency"`
	TrendDir      Trend        `json:"trend"`
	Significance  Significance `json:"significance"`

	Skill        SkillArea        `json:"skill_area,omitempty"`
	Breakthrough BreakthroughKind `json:"breakthrough_kind,omitempty"`
}

// -----------------------------------------------------------------------------
// FOCUS AREA - A synthesized intervention priority
// -----------------------------------------------------------------------------

// Priority ranks focus areas and recommendations
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight returns the scoring weight for a priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 1
}

// FocusKind categorizes how a focus area was derived
type FocusKind string

const (
	FocusSkillBuilding FocusKind = "skill_building"
	FocusReinforcement FocusKind = "reinforcement"
	FocusBreakthrough  FocusKind = "breakthrough_acceleration"
	FocusNarrative     FocusKind = "narrative_insight"
)

// FocusArea is an ephemeral ranked intervention topic. Each synthesis
// run replaces the previous set; prior runs are retained for audit.
type FocusArea struct {
	Area       string    `json:"area"`
	Kind       FocusKind `json:"kind"`
	Skill      SkillArea `json:"skill_area,omitempty"`
	Rationale  string    `json:"rationale"`
	Priority   Priority  `json:"priority"`
	Confidence float64   `json:"confidence"`

	// EstWeeksToBreakthrough is set for breakthrough_acceleration areas.
	EstWeeksToBreakthrough int `json:"est_weeks_to_breakthrough,omitempty"`
}

// FocusRun is one synthesis run's output snapshot
type FocusRun struct {
	ID          string      `json:"id"`
	UserID      UserID      `json:"user_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Areas       []FocusArea `json:"areas"`

	// NarrativeUsed records whether the insight collaborator contributed.
	NarrativeUsed bool `json:"narrative_used"`
}

// -----------------------------------------------------------------------------
// RECOMMENDATION - A concrete, time-boxed intervention
// -----------------------------------------------------------------------------

// RecommendationType categorizes recommendations
type RecommendationType string

const (
	RecImmediateAction   RecommendationType = "immediate_action"
	RecShortTermGoal     RecommendationType = "short_term_goal"
	RecLongTermPathway   RecommendationType = "long_term_pathway"
	RecAdaptiveAdjust    RecommendationType = "adaptive_adjustment"
	RecBreakthroughAccel RecommendationType = "breakthrough_acceleration"
)

// RecommendationStatus tracks the recommendation state machine.
// completed and superseded are terminal.
type RecommendationStatus string

const (
	RecStatusActive     RecommendationStatus = "active"
	RecStatusCompleted  RecommendationStatus = "completed"
	RecStatusPaused     RecommendationStatus = "paused"
	RecStatusSuperseded RecommendationStatus = "superseded"
)

// Terminal reports whether no further transitions are allowed.
func (s RecommendationStatus) Terminal() bool {
	return s == RecStatusCompleted || s == RecStatusSuperseded
}

// Timing describes when and how long to run a recommendation
type Timing struct {
	DurationMinutes int    `json:"duration_minutes"`
	Frequency       string `json:"frequency"` // "daily", "3x per week", ...
}

// RecommendationProgress tracks execution attempts
type RecommendationProgress struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// Recommendation is a concrete intervention derived from a focus area
type Recommendation struct {
	ID               string                 `json:"id"`
	UserID           UserID                 `json:"user_id"`
	Type             RecommendationType     `json:"type"`
	FocusArea        string                 `json:"focus_area"`
	Skill            SkillArea              `json:"skill_area,omitempty"`
	Title            string                 `json:"title"`
	Actions          []string               `json:"actions"`
	ExpectedOutcomes []string               `json:"expected_outcomes"`
	Timing           Timing                 `json:"timing"`
	Priority         Priority               `json:"priority"`
	Confidence       float64                `json:"confidence"`
	Score            float64                `json:"score"`
	Difficulty       int                    `json:"difficulty"` // 1-5
	Status           RecommendationStatus   `json:"status"`
	Progress         RecommendationProgress `json:"progress"`
	GeneratedAt      time.Time              `json:"generated_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Bundle is a time-boxed, synergy-scored set of recommendations
type Bundle struct {
	ID                string           `json:"id"`
	UserID            UserID           `json:"user_id"`
	FocusArea         string           `json:"focus_area"`
	TimeBudgetMinutes int              `json:"time_budget_minutes"`
	Recommendations   []Recommendation `json:"recommendations"`
	TotalMinutes      int              `json:"total_minutes"`
	SynergyScore      float64          `json:"synergy_score"` // 0-100
	CreatedAt         time.Time        `json:"created_at"`
}

// -----------------------------------------------------------------------------
// OUTCOME - The observed result of executing a recommendation
// -----------------------------------------------------------------------------

// OutcomeType categorizes the observed result
type OutcomeType string

const (
	OutcomeSuccess        OutcomeType = "success"
	OutcomePartialSuccess OutcomeType = "partial_success"
	OutcomeNoProgress     OutcomeType = "no_progress"
	OutcomeRegression     OutcomeType = "regression"
)

// ValidOutcomeType reports whether t is a known outcome type.
func ValidOutcomeType(t OutcomeType) bool {
	switch t {
	case OutcomeSuccess, OutcomePartialSuccess, OutcomeNoProgress, OutcomeRegression:
		return true
	}
	return false
}

// OutcomeMetric is one measured result
type OutcomeMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// OutcomeFeedback is the optional subjective rating, 1-5 scales
type OutcomeFeedback struct {
	Engagement int `json:"engagement"`
	Difficulty int `json:"difficulty"`
	Enjoyment  int `json:"enjoyment"`
}

// Outcome records what happened when a recommendation was executed.
// Immutable once recorded; consumed once by the feedback loop.
type Outcome struct {
	RecommendationID string           `json:"recommendation_id"`
	UserID           UserID           `json:"user_id"`
	Type             OutcomeType      `json:"outcome_type"`
	Metrics          []OutcomeMetric  `json:"metrics,omitempty"`
	Feedback         *OutcomeFeedback `json:"feedback,omitempty"`
	RecordedAt       time.Time        `json:"recorded_at"`
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
