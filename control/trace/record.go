// Package trace provides race-control decision recording.
// This package has no dependencies on control/; it stores pure data types.
package trace

// Action classifies a race-control decision.
type Action string

const (
	ActionFlag           Action = "flag"
	ActionSafetyCar      Action = "safety-car"
	ActionSession        Action = "session"
	ActionPenalty        Action = "penalty"
	ActionPenaltyCleared Action = "penalty-cleared"
	ActionProtest        Action = "protest"
	ActionBlueFlag       Action = "blue-flag"
	ActionIncident       Action = "incident"
	ActionAdmin          Action = "admin"
)

// DecisionRecord captures a single race-control action, manual or automatic.
type DecisionRecord struct {
	ID           string
	Clock        float64 // session time in seconds
	Action       Action
	CompetitorID string // empty for global actions
	Message      string
	Flag         string // flag in force after the decision
	SafetyCar    string // safety-car mode in force after the decision
	Automatic    bool   // raised by the engine rather than an operator
}
