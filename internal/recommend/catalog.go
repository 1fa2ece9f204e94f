// Package recommend expands focus areas into ranked recommendations.
package recommend

import (
	"strings"

	"github.com/learnpulse/learnpulse/internal/core"
)

// activity is a catalog entry a focus area can expand into.
type activity struct {
	title      string
	typ        core.RecommendationType
	actions    []string
	outcomes   []string
	skill      core.SkillArea
	difficulty int // 1-5
	modality   string
	minutes    int
	frequency  string
}

// catalog maps focus keywords to activities. Lookup is by substring
// match against the focus area text and skill; the first matching
// keyword wins, and each keyword yields at most two recommendations.
var catalog = map[string][]activity{
	"memory": {
		{
			title:      "Visual Sequence Memory",
			typ:        core.RecShortTermGoal,
			actions:    []string{"Show a 3-item picture sequence", "Hide it and ask for the order", "Extend to 4 items after two correct rounds"},
			outcomes:   []string{"Recalls 4-item sequences", "Sustains attention through a full round"},
			skill:      "memory",
			difficulty: 2,
			modality:   "visual",
			minutes:    10,
			frequency:  "daily",
		},
		{
			title:      "Pattern Completion Drills",
			typ:        core.RecImmediateAction,
			actions:    []string{"Present simple ABAB patterns", "Ask which piece comes next"},
			outcomes:   []string{"Completes patterns without prompting"},
			skill:      "memory",
			difficulty: 1,
			modality:   "visual",
			minutes:    5,
			frequency:  "daily",
		},
	},
	"communication": {
		{
			title:      "Message Construction Practice",
			typ:        core.RecShortTermGoal,
			actions:    []string{"Build two-word requests with the message builder", "Model one new phrase per session"},
			outcomes:   []string{"Initiates requests independently"},
			skill:      "communication",
			difficulty: 3,
			modality:   "verbal",
			minutes:    15,
			frequency:  "daily",
		},
		{
			title:      "Picture Exchange Warmup",
			typ:        core.RecImmediateAction,
			actions:    []string{"Offer a choice of two picture cards", "Honor the exchange immediately"},
			outcomes:   []string{"Uses pictures to express a preference"},
			skill:      "communication",
			difficulty: 1,
			modality:   "visual",
			minutes:    5,
			frequency:  "daily",
		},
	},
	"phonics": {
		{
			title:      "Sound Blending Ladder",
			typ:        core.RecShortTermGoal,
			actions:    []string{"Blend two-sound words aloud together", "Move to three sounds after five correct blends"},
			outcomes:   []string{"Blends CVC words unassisted"},
			skill:      "phonics",
			difficulty: 2,
			modality:   "auditory",
			minutes:    10,
			frequency:  "daily",
		},
		{
			title:      "Letter-Sound Matching",
			typ:        core.RecImmediateAction,
			actions:    []string{"Match letter tiles to spoken sounds"},
			outcomes:   []string{"Identifies all practiced letter sounds"},
			skill:      "phonics",
			difficulty: 1,
			modality:   "auditory",
			minutes:    5,
			frequency:  "3x per week",
		},
	},
	"reading": {
		{
			title:      "Story Sequencing Cards",
			typ:        core.RecShortTermGoal,
			actions:    []string{"Order three story cards", "Retell the story in order"},
			outcomes:   []string{"Sequences and retells short stories"},
			skill:      "reading",
			difficulty: 3,
			modality:   "visual",
			minutes:    15,
			frequency:  "3x per week",
		},
	},
	"numeracy": {
		{
			title:      "Number Line Hops",
			typ:        core.RecShortTermGoal,
			actions:    []string{"Count forward along the number line", "Add single hops for simple sums"},
			outcomes:   []string{"Adds within 10 using the line"},
			skill:      "numeracy",
			difficulty: 2,
			modality:   "visual",
			minutes:    10,
			frequency:  "daily",
		},
	},
	"attention": {
		{
			title:      "Short Focus Sprints",
			typ:        core.RecImmediateAction,
			actions:    []string{"Run a 3-minute single-task sprint", "Celebrate completion before switching"},
			outcomes:   []string{"Completes sprints without redirection"},
			skill:      "attention",
			difficulty: 2,
			modality:   "kinesthetic",
			minutes:    5,
			frequency:  "daily",
		},
	},
	"motor": {
		{
			title:      "Tracing Warmups",
			typ:        core.RecImmediateAction,
			actions:    []string{"Trace large shapes before letters", "Shrink shape size gradually"},
			outcomes:   []string{"Traces letters within guide lines"},
			skill:      "motor_skills",
			difficulty: 2,
			modality:   "kinesthetic",
			minutes:    10,
			frequency:  "daily",
		},
	},
	"resume": {
		{
			title:      "Gentle Re-entry Session",
			typ:        core.RecImmediateAction,
			actions:    []string{"Restart with the easiest mastered activity", "Keep the first session short and successful"},
			outcomes:   []string{"Re-engages with lapsed skill"},
			difficulty: 1,
			modality:   "visual",
			minutes:    10,
			frequency:  "daily",
		},
	},
}

// genericPractice is the fallback for unmapped focus areas.
func genericPractice(area core.FocusArea) activity {
	return activity{
		title:      "Structured Practice: " + area.Area,
		typ:        core.RecShortTermGoal,
		actions:    []string{"Schedule short, regular practice for this area", "Track successes per session"},
		outcomes:   []string{"Measurable progress in " + area.Area},
		skill:      area.Skill,
		difficulty: 2,
		modality:   "visual",
		minutes:    10,
		frequency:  "3x per week",
	}
}

// catalogKeys is the deterministic lookup order for keyword matching.
var catalogKeys = []string{
	"memory", "communication", "phonics", "reading",
	"numeracy", "attention", "motor", "resume",
}

// lookupActivities finds catalog entries for a focus area.
func lookupActivities(area core.FocusArea) []activity {
	haystack := strings.ToLower(area.Area + " " + string(area.Skill))
	for _, key := range catalogKeys {
		if strings.Contains(haystack, key) {
			acts := catalog[key]
			// Carry the focus skill through when the entry has none.
			out := make([]activity, len(acts))
			copy(out, acts)
			for i := range out {
				if out[i].skill == "" {
					out[i].skill = area.Skill
				}
			}
			return out
		}
	}
	return []activity{genericPractice(area)}
}
