// Package focus synthesizes prioritized intervention focus areas.
package focus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/insight"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// Analyzer is the narrative-insight collaborator surface the
// synthesizer needs. Satisfied by *insight.Client.
type Analyzer interface {
	Analyze(ctx context.Context, req insight.AnalysisRequest) (*insight.Analysis, error)
	IsConfigured() bool
}

// Synthesizer combines profile and pattern state into a ranked set of
// focus areas. The deterministic rules are the baseline; the narrative
// collaborator may only add areas on top of them.
type Synthesizer struct {
	focus    *storage.FocusStore
	analyzer Analyzer
	tuning   config.TuningConfig
	log      *logging.Logger
	now      func() time.Time
}

func NewSynthesizer(focus *storage.FocusStore, analyzer Analyzer, tuning config.TuningConfig) *Synthesizer {
	return &Synthesizer{
		focus:    focus,
		analyzer: analyzer,
		tuning:   tuning,
		log:      logging.WithField("component", "focus"),
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Synthesizer) WithClock(now func() time.Time) *Synthesizer {
	s.now = now
	return s
}

// Synthesize produces and persists a new focus run. Each run replaces
// the previous one as the latest; prior runs stay retained for audit.
func (s *Synthesizer) Synthesize(ctx context.Context, p *core.LearningProfile, pats []core.Pattern) (*core.FocusRun, error) {
	areas := s.deterministic(p, pats)

	narrativeUsed := false
	if s.analyzer != nil && s.analyzer.IsConfigured() && len(areas) < s.tuning.MaxFocusAreas {
		extra, ok := s.narrative(ctx, p, pats)
		if ok {
			narrativeUsed = len(extra) > 0
			areas = append(areas, extra...)
		}
	}

	if len(areas) > s.tuning.MaxFocusAreas {
		areas = areas[:s.tuning.MaxFocusAreas]
	}

	run := &core.FocusRun{
		ID:            uuid.NewString(),
		UserID:        p.UserID,
		GeneratedAt:   s.now().UTC(),
		Areas:         areas,
		NarrativeUsed: narrativeUsed,
	}
	if err := s.focus.Put(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// deterministic runs the rule-based synthesis:
//  1. top 3 challenge patterns, most urgent (lowest mastery) first
//  2. skills untouched for the inactivity window
//  3. near-breakthrough skills with positive momentum
func (s *Synthesizer) deterministic(p *core.LearningProfile, pats []core.Pattern) []core.FocusArea {
	var areas []core.FocusArea

	// Rule 1: challenges, ascending mastery.
	var challenges []core.Pattern
	for _, pat := range pats {
		if pat.Type == core.PatternChallenge && pat.Skill != "" {
			challenges = append(challenges, pat)
		}
	}
	sort.Slice(challenges, func(i, j int) bool {
		mi := p.Skill(challenges[i].Skill).MasteryPct
		mj := p.Skill(challenges[j].Skill).MasteryPct
		if mi != mj {
			return mi < mj
		}
		return challenges[i].Skill < challenges[j].Skill
	})
	if len(challenges) > 3 {
		challenges = challenges[:3]
	}
	for _, ch := range challenges {
		sp := p.Skill(ch.Skill)
		priority := core.PriorityHigh
		if sp.MasteryPct < s.tuning.ChallengeThresholdPct/2 {
			priority = core.PriorityCritical
		}
		areas = append(areas, core.FocusArea{
			Area:       fmt.Sprintf("Build %s fundamentals", ch.Skill),
			Kind:       core.FocusSkillBuilding,
			Skill:      ch.Skill,
			Rationale:  fmt.Sprintf("Mastery at %.0f%%, below the challenge threshold", sp.MasteryPct),
			Priority:   priority,
			Confidence: ch.Confidence,
		})
	}

	// Rule 2: inactive skills.
	cutoff := s.now().UTC().AddDate(0, 0, -s.tuning.InactiveSkillDays)
	var inactive []*core.SkillProgress
	for _, sp := range p.Skills {
		if !sp.LastPractice.IsZero() && sp.LastPractice.Before(cutoff) {
			inactive = append(inactive, sp)
		}
	}
	sort.Slice(inactive, func(i, j int) bool {
		return inactive[i].LastPractice.Before(inactive[j].LastPractice)
	})
	for _, sp := range inactive {
		days := int(s.now().UTC().Sub(sp.LastPractice).Hours() / 24)
		areas = append(areas, core.FocusArea{
			Area:       fmt.Sprintf("Resume %s practice", sp.Skill),
			Kind:       core.FocusReinforcement,
			Skill:      sp.Skill,
			Rationale:  fmt.Sprintf("No practice for %d days", days),
			Priority:   core.PriorityMedium,
			Confidence: 0.9, // inactivity is directly observed, not inferred
		})
	}

	// Rule 3: near-breakthrough skills.
	var near []*core.SkillProgress
	for _, sp := range p.Skills {
		if sp.MasteryPct > s.tuning.NearBreakthroughLow &&
			sp.MasteryPct < s.tuning.NearBreakthroughHigh &&
			sp.ImprovementRate > 0 {
			near = append(near, sp)
		}
	}
	sort.Slice(near, func(i, j int) bool {
		return near[i].MasteryPct > near[j].MasteryPct // closest to breakthrough first
	})
	for _, sp := range near {
		weeks := int(math.Ceil((s.tuning.NearBreakthroughHigh - sp.MasteryPct) / math.Max(1, sp.ImprovementRate)))
		areas = append(areas, core.FocusArea{
			Area:                   fmt.Sprintf("Push %s over the threshold", sp.Skill),
			Kind:                   core.FocusBreakthrough,
			Skill:                  sp.Skill,
			Rationale:              fmt.Sprintf("At %.0f%% mastery and improving; est. %d weeks to breakthrough", sp.MasteryPct, weeks),
			Priority:               core.PriorityHigh,
			Confidence:             0.8,
			EstWeeksToBreakthrough: weeks,
		})
	}

	return areas
}

// narrative asks the collaborator for additional suggestions. Any
// failure is logged and swallowed; the deterministic baseline stands.
func (s *Synthesizer) narrative(ctx context.Context, p *core.LearningProfile, pats []core.Pattern) ([]core.FocusArea, bool) {
	req := insight.AnalysisRequest{
		UserID:         p.UserID,
		ProfileSummary: profileSummary(p),
		OpenQuestions: []string{
			"Which skill areas deserve attention next?",
		},
	}
	for _, pat := range pats {
		req.Patterns = append(req.Patterns, pat.Description)
	}

	analysis, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrCollaboratorUnavailable):
			s.log.Warn("insight collaborator unavailable for %s, using deterministic rules only", p.UserID)
		case errors.Is(err, core.ErrMalformedNarrative):
			s.log.Warn("insight narrative malformed for %s, using deterministic rules only", p.UserID)
		default:
			s.log.Error("insight analysis failed for %s: %v", p.UserID, err)
		}
		return nil, false
	}
	return insight.ParseNarrative(analysis.Text, analysis.Confidence), true
}

func profileSummary(p *core.LearningProfile) string {
	summary := fmt.Sprintf("%d events across %d skills; engagement %.0f (%s)",
		p.EventCount, len(p.Skills), p.Sessions.EngagementScore, p.Sessions.EngagementTrend)
	for _, sp := range sortedSkills(p) {
		summary += fmt.Sprintf("; %s %.0f%% lvl %d", sp.Skill, sp.MasteryPct, sp.Level)
	}
	return summary
}

func sortedSkills(p *core.LearningProfile) []*core.SkillProgress {
	out := make([]*core.SkillProgress, 0, len(p.Skills))
	for _, sp := range p.Skills {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Skill < out[j].Skill })
	return out
}
