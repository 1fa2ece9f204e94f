package recommend

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/learnpulse/learnpulse/internal/core"
)

// CreateBundle assembles a time-boxed set of recommendations for a
// focus area: a greedy knapsack over the active candidates sorted by
// confidence, selecting while total duration fits the budget.
func (e *Engine) CreateBundle(ctx context.Context, user core.UserID, focusArea string, budgetMinutes int) (*core.Bundle, error) {
	recs, err := e.recs.Get(ctx, user)
	if err != nil {
		return nil, err
	}

	var candidates []core.Recommendation
	for _, r := range e.age(recs, e.now().UTC()) {
		if r.Status != core.RecStatusActive {
			continue
		}
		if focusArea != "" && !strings.EqualFold(r.FocusArea, focusArea) {
			continue
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].ID < candidates[j].ID
	})

	var selected []core.Recommendation
	total := 0
	for _, r := range candidates {
		if total+r.Timing.DurationMinutes > budgetMinutes {
			continue
		}
		selected = append(selected, r)
		total += r.Timing.DurationMinutes
	}

	return &core.Bundle{
		ID:                uuid.NewString(),
		UserID:            user,
		FocusArea:         focusArea,
		TimeBudgetMinutes: budgetMinutes,
		Recommendations:   selected,
		TotalMinutes:      total,
		SynergyScore:      e.synergy(selected),
		CreatedAt:         e.now().UTC(),
	}, nil
}

// synergy scores how well the selected set hangs together: a base
// score plus rewards for type diversity, overlapping target skills,
// and a non-decreasing difficulty ramp, capped at 100.
func (e *Engine) synergy(recs []core.Recommendation) float64 {
	if len(recs) == 0 {
		return 0
	}
	score := e.tuning.SynergyBase

	types := make(map[core.RecommendationType]bool)
	for _, r := range recs {
		types[r.Type] = true
	}
	if len(types) > 1 {
		score += e.tuning.SynergyTypeDiversity
	}

	skills := make(map[core.SkillArea]int)
	for _, r := range recs {
		if r.Skill != "" {
			skills[r.Skill]++
		}
	}
	for _, n := range skills {
		if n > 1 {
			score += e.tuning.SynergySkillOverlap
			break
		}
	}

	ramped := true
	for i := 1; i < len(recs); i++ {
		if recs[i].Difficulty < recs[i-1].Difficulty {
			ramped = false
			break
		}
	}
	if ramped && len(recs) > 1 {
		score += e.tuning.SynergyDifficulty
	}

	return core.Clamp(score, 0, 100)
}
