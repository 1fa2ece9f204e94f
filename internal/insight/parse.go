package insight

import (
	"strings"

	"github.com/learnpulse/learnpulse/internal/core"
)

// ParseNarrative extracts focus-area suggestions from the
// collaborator's free text. Parsing is best-effort and lossy: lines
// that look like suggestions ("- ..." bullets, or sentences containing
// "focus on ...") become narrative_insight focus areas; everything
// else is discarded. An unparseable narrative yields an empty slice,
// never an error.
func ParseNarrative(text string, confidence float64) []core.FocusArea {
	var areas []core.FocusArea
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		suggestion := ""

		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			suggestion = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "• "):
			suggestion = strings.TrimSpace(strings.TrimPrefix(line, "• "))
		default:
			lower := strings.ToLower(line)
			if idx := strings.Index(lower, "focus on "); idx >= 0 {
				suggestion = strings.TrimSpace(line[idx+len("focus on "):])
				suggestion = strings.TrimRight(suggestion, ".")
			}
		}

		if suggestion == "" || len(suggestion) > 200 {
			continue
		}
		areas = append(areas, core.FocusArea{
			Area:       suggestion,
			Kind:       core.FocusNarrative,
			Rationale:  "Suggested by narrative analysis",
			Priority:   core.PriorityLow,
			Confidence: core.Clamp(confidence*0.8, 0, 1), // discount: advisory only
		})
	}
	return areas
}
