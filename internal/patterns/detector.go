// Package patterns detects behavioral patterns in learner event windows.
package patterns

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/learnpulse/learnpulse/internal/config"
	"github.com/learnpulse/learnpulse/internal/core"
	"github.com/learnpulse/learnpulse/internal/logging"
	"github.com/learnpulse/learnpulse/internal/profile"
	"github.com/learnpulse/learnpulse/internal/storage"
)

// Detector derives patterns from the profile and recent event windows.
// Detection is deterministic: the same profile, window, and signals
// always produce the same pattern set.
type Detector struct {
	events   *storage.EventStore
	patterns *storage.PatternStore
	tuning   config.TuningConfig
	log      *logging.Logger
	now      func() time.Time
}

func NewDetector(events *storage.EventStore, patterns *storage.PatternStore, tuning config.TuningConfig) *Detector {
	return &Detector{
		events:   events,
		patterns: patterns,
		tuning:   tuning,
		log:      logging.WithField("component", "patterns"),
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// candidate is a detection before upsert against the stored set.
type candidate struct {
	typ          core.PatternType
	key          string
	description  string
	confidence   float64
	significance core.Significance
	trend        core.Trend
	skill        core.SkillArea
	breakthrough core.BreakthroughKind
	evidence     []core.EventID
}

// Detect runs all rules for the user and persists the updated pattern
// snapshot. Candidates with the same (user, type, key) as an existing
// pattern accumulate frequency instead of duplicating. The returned
// set is ordered by significance, highest first.
func (d *Detector) Detect(ctx context.Context, p *core.LearningProfile, signals []profile.Signal) ([]core.Pattern, error) {
	cutoff := d.now().UTC().AddDate(0, 0, -d.tuning.WindowDays)
	window, err := d.events.Since(ctx, p.UserID, cutoff)
	if err != nil {
		return nil, err
	}
	if len(window) > d.tuning.WindowEvents {
		window = window[len(window)-d.tuning.WindowEvents:]
	}

	bySkill := make(map[core.SkillArea][]core.Event)
	for _, ev := range window {
		for _, sk := range ev.Skills {
			bySkill[sk] = append(bySkill[sk], ev)
		}
	}

	var cands []candidate
	for area, sp := range p.Skills {
		skillEvents := bySkill[area]
		cands = append(cands, d.detectSkill(sp, skillEvents)...)
	}
	cands = append(cands, d.detectSignals(p, signals)...)

	existing, err := d.patterns.Get(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	merged := d.upsert(p.UserID, existing, cands)

	sortPatterns(merged)
	if err := d.patterns.Put(ctx, p.UserID, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// detectSkill runs the per-skill rules. With fewer than the minimum
// events for the skill, only strength and challenge survive; everything
// statistical declines to guess.
func (d *Detector) detectSkill(sp *core.SkillProgress, events []core.Event) []candidate {
	var cands []candidate

	confidence := minf(1, float64(sp.SessionsPracticed)/float64(d.tuning.ConfidenceSessionScale))

	if sp.MasteryPct > d.tuning.StrengthThresholdPct {
		cands = append(cands, candidate{
			typ:          core.PatternStrength,
			key:          fmt.Sprintf("strength:%s", sp.Skill),
			description:  fmt.Sprintf("Consistently strong performance in %s (%.0f%% mastery)", sp.Skill, sp.MasteryPct),
			confidence:   confidence,
			significance: gradedSignificance(confidence),
			trend:        trendFromRate(sp.ImprovementRate),
			skill:        sp.Skill,
			evidence:     eventIDs(events),
		})
	}
	if sp.MasteryPct < d.tuning.ChallengeThresholdPct && sp.SessionsPracticed > 0 {
		cands = append(cands, candidate{
			typ:          core.PatternChallenge,
			key:          fmt.Sprintf("challenge:%s", sp.Skill),
			description:  fmt.Sprintf("Ongoing difficulty with %s (%.0f%% mastery)", sp.Skill, sp.MasteryPct),
			confidence:   confidence,
			significance: gradedSignificance(confidence),
			trend:        trendFromRate(sp.ImprovementRate),
			skill:        sp.Skill,
			evidence:     eventIDs(events),
		})
	}

	if len(events) < d.tuning.MinEventsPerSkill {
		return cands
	}

	if c, ok := d.detectTrendReversal(sp); ok {
		cands = append(cands, c)
	}
	if c, ok := d.detectConsistency(sp, events); ok {
		cands = append(cands, c)
	}
	if c, ok := d.detectIndependence(sp, events); ok {
		cands = append(cands, c)
	}
	if c, ok := d.detectSpeedImprovement(sp, events); ok {
		cands = append(cands, c)
	}
	if c, ok := d.detectRegression(sp, events); ok {
		cands = append(cands, c)
	}
	return cands
}

// detectTrendReversal fires when improvement_rate crosses from <=0 to >0.
// The crossing is visible in the session mastery window: the preceding
// half was flat or declining while the trailing half climbs.
func (d *Detector) detectTrendReversal(sp *core.SkillProgress) (candidate, bool) {
	w := d.tuning.ImprovementWindow
	n := len(sp.SessionMastery)
	if n < 2*w || sp.ImprovementRate <= 0 {
		return candidate{}, false
	}
	preceding := sp.SessionMastery[n-2*w : n-w]
	if preceding[len(preceding)-1] > preceding[0] {
		return candidate{}, false // was already improving, no reversal
	}
	return d.breakthroughCandidate(sp, core.BreakthroughTrendReversal,
		fmt.Sprintf("Progress in %s reversed from flat to improving (%.1f pts/week)", sp.Skill, sp.ImprovementRate), nil), true
}

// detectConsistency fires when the last five skill events are all successes.
func (d *Detector) detectConsistency(sp *core.SkillProgress, events []core.Event) (candidate, bool) {
	const streak = 5
	if len(events) < streak {
		return candidate{}, false
	}
	recent := events[len(events)-streak:]
	for _, ev := range recent {
		if ev.Kind != core.EventSuccess && ev.Kind != core.EventComplete {
			return candidate{}, false
		}
	}
	return d.breakthroughCandidate(sp, core.BreakthroughConsistency,
		fmt.Sprintf("Five consecutive successes in %s", sp.Skill), eventIDs(recent)), true
}

// detectIndependence fires on a single-attempt success for a skill
// whose historical average is multiple attempts per interaction.
func (d *Detector) detectIndependence(sp *core.SkillProgress, events []core.Event) (candidate, bool) {
	last := events[len(events)-1]
	if last.Kind != core.EventSuccess || last.Performance.Attempts != 1 {
		return candidate{}, false
	}
	if sp.SessionsPracticed == 0 {
		return candidate{}, false
	}
	avgAttempts := float64(sp.TotalAttempts) / float64(sp.SessionsPracticed)
	if avgAttempts <= 2 {
		return candidate{}, false
	}
	return d.breakthroughCandidate(sp, core.BreakthroughIndependence,
		fmt.Sprintf("First-try success in %s after averaging %.1f attempts", sp.Skill, avgAttempts),
		[]core.EventID{last.ID}), true
}

// detectSpeedImprovement fires when the latest response latency is
// under the speed ratio of the trailing-10 average for the same tool.
// Windows are per tool so one tool's baseline never judges another's.
func (d *Detector) detectSpeedImprovement(sp *core.SkillProgress, events []core.Event) (candidate, bool) {
	var tool string
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Performance.LatencyMS != nil {
			tool = events[i].Tool
			break
		}
	}
	if tool == "" {
		return candidate{}, false
	}
	window := sp.ToolLatencyMS[tool]
	n := len(window)
	if n < 4 {
		return candidate{}, false
	}
	latest := float64(window[n-1])
	var sum float64
	for _, l := range window[:n-1] {
		sum += float64(l)
	}
	avg := sum / float64(n-1)
	if avg <= 0 || latest >= avg*d.tuning.SpeedImprovementRatio {
		return candidate{}, false
	}
	return d.breakthroughCandidate(sp, core.BreakthroughSpeedImprovement,
		fmt.Sprintf("Response time in %s with %s dropped to %.0f%% of recent average", sp.Skill, tool, latest/avg*100), nil), true
}

// detectRegression compares mean accuracy of the trailing half of the
// window against the leading half.
func (d *Detector) detectRegression(sp *core.SkillProgress, events []core.Event) (candidate, bool) {
	var accs []float64
	for _, ev := range events {
		if ev.Performance.Accuracy != nil {
			accs = append(accs, *ev.Performance.Accuracy)
		}
	}
	if len(accs) < 4 {
		return candidate{}, false
	}
	half := len(accs) / 2
	drop := meanOf(accs[:half]) - meanOf(accs[half:])
	if drop <= d.tuning.RegressionDropPct {
		return candidate{}, false
	}
	return candidate{
		typ:          core.PatternRegressionWarning,
		key:          fmt.Sprintf("regression:%s", sp.Skill),
		description:  fmt.Sprintf("Accuracy in %s dropped %.0f points across the recent window", sp.Skill, drop),
		confidence:   minf(1, drop/(2*d.tuning.RegressionDropPct)+0.5),
		significance: core.SignificanceHigh,
		trend:        core.TrendDecreasing,
		skill:        sp.Skill,
		evidence:     eventIDs(events),
	}, true
}

// detectSignals converts maintainer signals (level_up, first_success)
// into breakthrough candidates.
func (d *Detector) detectSignals(p *core.LearningProfile, signals []profile.Signal) []candidate {
	var cands []candidate
	for _, sig := range signals {
		sp := p.Skill(sig.Skill)
		switch sig.Kind {
		case profile.SignalLevelUp:
			cands = append(cands, d.breakthroughCandidate(sp, core.BreakthroughLevelUp,
				fmt.Sprintf("Reached level %d in %s", sig.Level, sig.Skill),
				[]core.EventID{sig.EventID}))
		case profile.SignalFirstSuccess:
			cands = append(cands, d.breakthroughCandidate(sp, core.BreakthroughFirstSuccess,
				fmt.Sprintf("First success in %s after %d failed attempts", sig.Skill, sig.PriorFailures),
				[]core.EventID{sig.EventID}))
		}
	}
	return cands
}

// breakthroughCandidate scores a breakthrough: base score for the
// kind, +2 when the learner has a deep attempt history, clamped to
// [0,10] and scaled to [0,1].
func (d *Detector) breakthroughCandidate(sp *core.SkillProgress, kind core.BreakthroughKind, desc string, evidence []core.EventID) candidate {
	score := d.tuning.BreakthroughBaseScores[string(kind)]
	if sp.TotalAttempts > d.tuning.PriorAttemptsBonusAt {
		score += 2
	}
	confidence := core.Clamp(score, 0, 10) / 10
	sig := core.SignificanceHigh
	if confidence >= 0.9 {
		sig = core.SignificanceCritical
	}
	return candidate{
		typ:          core.PatternBreakthrough,
		key:          fmt.Sprintf("breakthrough:%s:%s", kind, sp.Skill),
		description:  desc,
		confidence:   confidence,
		significance: sig,
		trend:        core.TrendIncreasing,
		skill:        sp.Skill,
		breakthrough: kind,
		evidence:     evidence,
	}
}

// upsert merges candidates into the existing set: same key accumulates
// frequency and refreshes observation fields; new keys append.
func (d *Detector) upsert(user core.UserID, existing []core.Pattern, cands []candidate) []core.Pattern {
	now := d.now().UTC()
	byKey := make(map[string]int, len(existing))
	for i, p := range existing {
		byKey[p.Key] = i
	}

	out := make([]core.Pattern, len(existing))
	copy(out, existing)

	for _, c := range cands {
		if i, ok := byKey[c.key]; ok {
			out[i].Frequency++
			out[i].LastObserved = now
			out[i].Description = c.description
			out[i].Confidence = c.confidence
			out[i].TrendDir = c.trend
			out[i].Significance = c.significance
			out[i].Evidence = c.evidence
			continue
		}
		byKey[c.key] = len(out)
		out = append(out, core.Pattern{
			ID:            uuid.NewString(),
			UserID:        user,
			Type:          c.typ,
			Key:           c.key,
			Description:   c.description,
			Confidence:    c.confidence,
			Evidence:      c.evidence,
			FirstObserved: now,
			LastObserved:  now,
			Frequency:     1,
			TrendDir:      c.trend,
			Significance:  c.significance,
			Skill:         c.skill,
			Breakthrough:  c.breakthrough,
		})
	}
	return out
}

// sortPatterns orders by significance rank descending, then by
// confidence descending, then key for a stable order.
func sortPatterns(ps []core.Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Significance.Rank() != b.Significance.Rank() {
			return a.Significance.Rank() > b.Significance.Rank()
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Key < b.Key
	})
}

func gradedSignificance(confidence float64) core.Significance {
	switch {
	case confidence >= 0.8:
		return core.SignificanceHigh
	case confidence >= 0.4:
		return core.SignificanceModerate
	default:
		return core.SignificanceLow
	}
}

func trendFromRate(rate float64) core.Trend {
	switch {
	case rate > 0:
		return core.TrendIncreasing
	case rate < 0:
		return core.TrendDecreasing
	default:
		return core.TrendStable
	}
}

func eventIDs(events []core.Event) []core.EventID {
	if len(events) == 0 {
		return nil
	}
	ids := make([]core.EventID, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
