package control

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PenaltyKind names a penalty variant.
type PenaltyKind string

const (
	PenaltyTime             PenaltyKind = "time"
	PenaltyDriveThrough     PenaltyKind = "drive-through"
	PenaltyStopGo           PenaltyKind = "stop-go"
	PenaltyFreeze           PenaltyKind = "freeze"
	PenaltySpeedLimit       PenaltyKind = "speed-limit"
	PenaltyTyreDegradation  PenaltyKind = "tyre-degradation"
	PenaltyWarning          PenaltyKind = "warning"
	PenaltyDisqualification PenaltyKind = "disqualification"
)

// penaltyAliases maps accepted spellings to a kind and, for time penalties,
// a preset number of seconds.
var penaltyAliases = map[string]struct {
	kind    PenaltyKind
	seconds float64
}{
	"time":             {PenaltyTime, 0},
	"time-penalty":     {PenaltyTime, 0},
	"5s":               {PenaltyTime, 5},
	"10s":              {PenaltyTime, 10},
	"drive-through":    {PenaltyDriveThrough, 0},
	"drivethrough":     {PenaltyDriveThrough, 0},
	"stop-go":          {PenaltyStopGo, 0},
	"stop&go":          {PenaltyStopGo, 0},
	"stop-and-go":      {PenaltyStopGo, 0},
	"freeze":           {PenaltyFreeze, 0},
	"speed-limit":      {PenaltySpeedLimit, 0},
	"tyre-degradation": {PenaltyTyreDegradation, 0},
	"warning":          {PenaltyWarning, 0},
	"disqualification": {PenaltyDisqualification, 0},
	"dq":               {PenaltyDisqualification, 0},
}

const defaultTimePenalty = 5.0

// ParsePenaltyKind resolves a kind name or alias. The returned seconds are
// non-zero only for presets such as "10s".
func ParsePenaltyKind(s string) (PenaltyKind, float64, error) {
	a, ok := penaltyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPenaltyKind, s)
	}
	return a.kind, a.seconds, nil
}

// Queued reports whether the kind is served through the FIFO queue.
// The other kinds take effect at issue.
func (k PenaltyKind) Queued() bool {
	return k == PenaltyTime || k == PenaltyDriveThrough || k == PenaltyStopGo
}

// PenaltyStatus is the lifecycle state of a penalty.
// Queued kinds go queued → serving → served; standing kinds are serving
// until cleared; a warning is served at issue.
type PenaltyStatus string

const (
	PenaltyQueued  PenaltyStatus = "queued"
	PenaltyServing PenaltyStatus = "serving"
	PenaltyServed  PenaltyStatus = "served"
	PenaltyCleared PenaltyStatus = "cleared"
)

// open reports whether the penalty still affects the competitor.
func (s PenaltyStatus) open() bool {
	return s == PenaltyQueued || s == PenaltyServing
}

// PenaltyTerms carries the fields a penalty kind needs. The set of
// implementations is closed.
type PenaltyTerms interface {
	Kind() PenaltyKind
}

// TimeTerms adds seconds to the competitor's classified time.
type TimeTerms struct {
	Seconds float64 `json:"seconds"`
}

// DriveThroughTerms is a pit-lane transit without stopping.
type DriveThroughTerms struct {
	Remaining float64 `json:"remaining"`
}

// StopGoTerms is a pit-lane transit followed by a hold.
type StopGoTerms struct {
	TransitRemaining float64 `json:"transit_remaining"`
	HoldRemaining    float64 `json:"hold_remaining"`
}

// FreezeTerms stops the competitor until cleared.
type FreezeTerms struct{}

// SpeedLimitTerms caps the competitor's multiplier at Factor.
type SpeedLimitTerms struct {
	Factor float64 `json:"factor"`
}

// TyreDegradationTerms accelerates tyre wear and costs pace.
type TyreDegradationTerms struct {
	WearFactor        float64 `json:"wear_factor"`
	PerformanceFactor float64 `json:"performance_factor"`
}

// WarningTerms is an official warning; it only counts.
type WarningTerms struct{}

// DisqualificationTerms removes the competitor from the running order.
type DisqualificationTerms struct{}

func (TimeTerms) Kind() PenaltyKind             { return PenaltyTime }
func (DriveThroughTerms) Kind() PenaltyKind     { return PenaltyDriveThrough }
func (StopGoTerms) Kind() PenaltyKind           { return PenaltyStopGo }
func (FreezeTerms) Kind() PenaltyKind           { return PenaltyFreeze }
func (SpeedLimitTerms) Kind() PenaltyKind       { return PenaltySpeedLimit }
func (TyreDegradationTerms) Kind() PenaltyKind  { return PenaltyTyreDegradation }
func (WarningTerms) Kind() PenaltyKind          { return PenaltyWarning }
func (DisqualificationTerms) Kind() PenaltyKind { return PenaltyDisqualification }

// Penalty is a snapshot of an issued penalty. Terms are values, so copies
// never share state with the engine.
type Penalty struct {
	ID           string        `json:"id"`
	CompetitorID string        `json:"competitor_id"`
	Reason       string        `json:"reason"`
	IssuedAt     float64       `json:"issued_at"` // session seconds
	ServedAt     float64       `json:"served_at,omitempty"`
	Status       PenaltyStatus `json:"status"`
	Automatic    bool          `json:"automatic"`
	Terms        PenaltyTerms  `json:"terms"`
}

// Kind returns the variant of the penalty's terms.
func (p Penalty) Kind() PenaltyKind {
	if p.Terms == nil {
		return ""
	}
	return p.Terms.Kind()
}

// MarshalJSON adds the derived kind next to the terms.
func (p Penalty) MarshalJSON() ([]byte, error) {
	type plain Penalty
	return json.Marshal(struct {
		plain
		Kind PenaltyKind `json:"kind"`
	}{plain(p), p.Kind()})
}

// PenaltyRequest asks race control to issue a penalty. Seconds applies to
// time penalties and Factor to speed-limit and tyre-degradation; zero means
// the configured default.
type PenaltyRequest struct {
	CompetitorID string
	Kind         string
	Seconds      float64
	Factor       float64
	Reason       string
}
