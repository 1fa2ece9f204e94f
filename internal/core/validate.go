package core

import "fmt"

// ValidateEvent checks an inbound event at the ingestion boundary.
// A rejected event is never partially applied.
func ValidateEvent(ev Event) error {
	if ev.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingRequired)
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: user_id", ErrMissingRequired)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp", ErrMissingRequired)
	}
	if ev.Tool == "" {
		return fmt.Errorf("%w: tool_name", ErrMissingRequired)
	}
	if !ValidEventKind(ev.Kind) {
		return fmt.Errorf("%w: unknown event_kind %q", ErrInvalidInput, ev.Kind)
	}
	if ev.Performance.Accuracy != nil {
		if a := *ev.Performance.Accuracy; a < 0 || a > 100 {
			return fmt.Errorf("%w: accuracy %v outside [0,100]", ErrInvalidInput, a)
		}
	}
	if ev.Performance.LatencyMS != nil && *ev.Performance.LatencyMS < 0 {
		return fmt.Errorf("%w: negative latency_ms", ErrInvalidInput)
	}
	if d := ev.Performance.Difficulty; d != 0 && (d < 1 || d > 5) {
		return fmt.Errorf("%w: difficulty %d outside [1,5]", ErrInvalidInput, d)
	}
	for name, v := range map[string]int{
		"engagement":  ev.Behavior.Engagement,
		"frustration": ev.Behavior.Frustration,
		"persistence": ev.Behavior.Persistence,
		"attention":   ev.Behavior.Attention,
	} {
		if v < 0 || v > 10 {
			return fmt.Errorf("%w: behavior.%s %d outside [0,10]", ErrInvalidInput, name, v)
		}
	}
	return nil
}

// ValidateOutcome checks an inbound outcome report.
func ValidateOutcome(o Outcome) error {
	if o.RecommendationID == "" {
		return fmt.Errorf("%w: recommendation_id", ErrMissingRequired)
	}
	if !ValidOutcomeType(o.Type) {
		return fmt.Errorf("%w: unknown outcome_type %q", ErrInvalidInput, o.Type)
	}
	if o.Feedback != nil {
		for name, v := range map[string]int{
			"engagement": o.Feedback.Engagement,
			"difficulty": o.Feedback.Difficulty,
			"enjoyment":  o.Feedback.Enjoyment,
		} {
			if v < 1 || v > 5 {
				return fmt.Errorf("%w: feedback.%s %d outside [1,5]", ErrInvalidInput, name, v)
			}
		}
	}
	return nil
}
