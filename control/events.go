package control

import (
	"slices"

	"github.com/racecontrol/racecontrol/control/bus"
	"github.com/racecontrol/racecontrol/control/trace"
)

// Event kinds broadcast by the engine.
const (
	KindTelemetry        bus.Kind = "telemetry"
	KindLapCompleted     bus.Kind = "lapCompleted"
	KindIncident         bus.Kind = "incident"
	KindIncidentResolved bus.Kind = "incidentResolved"
	KindPenalty          bus.Kind = "penalty"
	KindPenaltyIssued    bus.Kind = "penaltyIssued"
	KindPenaltyServed    bus.Kind = "penaltyServed"
	KindPenaltyCleared   bus.Kind = "penaltyCleared"
	KindProtestFiled     bus.Kind = "protestFiled"
	KindFlagChange       bus.Kind = "flagChange"
	KindSafetyCarChange  bus.Kind = "safetyCarChange"
	KindSessionChange    bus.Kind = "sessionChange"
	KindDecision         bus.Kind = "decision"
	KindRadio            bus.Kind = "radio"
)

// TelemetryEvent carries every competitor's telemetry at the end of a tick,
// in competitor id order.
type TelemetryEvent struct {
	Clock       float64               `json:"clock"`
	Competitors []CompetitorTelemetry `json:"competitors"`
}

// LapCompletedEvent is raised when a competitor crosses the line.
type LapCompletedEvent struct {
	CompetitorID string               `json:"competitor_id"`
	Lap          int                  `json:"lap"`
	LapTime      float64              `json:"lap_time"`
	SectorTimes  [SectorCount]float64 `json:"sector_times"`
}

// IncidentEvent is raised when an incident is recorded, whether reported,
// detected or generated.
type IncidentEvent struct {
	Incident Incident `json:"incident"`
}

// IncidentResolvedEvent is raised when an incident is closed, manually or by
// the automatic safety-car release.
type IncidentResolvedEvent struct {
	Incident  Incident `json:"incident"`
	Automatic bool     `json:"automatic"`
}

// PenaltyEvent reports every stage a penalty passes through.
type PenaltyEvent struct {
	Penalty Penalty `json:"penalty"`
	Stage   string  `json:"stage"`
}

// PenaltyIssuedEvent is raised when a penalty is accepted.
type PenaltyIssuedEvent struct {
	Penalty   Penalty `json:"penalty"`
	Refreshed bool    `json:"refreshed"` // an open penalty of the same kind was renewed
}

// PenaltyServedEvent is raised when a queued penalty completes.
type PenaltyServedEvent struct {
	Penalty Penalty `json:"penalty"`
}

// PenaltyClearedEvent is raised by ClearPenalties.
type PenaltyClearedEvent struct {
	CompetitorID string      `json:"competitor_id"`
	PenaltyKind  PenaltyKind `json:"penalty_kind,omitempty"` // empty when every kind was cleared
	Cleared      int         `json:"cleared"`
}

// ProtestFiledEvent is raised when a protest is lodged.
type ProtestFiledEvent struct {
	Protest Protest `json:"protest"`
}

// FlagChangeEvent is raised whenever the session flag changes colour.
type FlagChangeEvent struct {
	Flag     Flag   `json:"flag"`
	Previous Flag   `json:"previous"`
	Reason   string `json:"reason"`
}

// SafetyCarChangeEvent is raised when the safety-car mode changes.
type SafetyCarChangeEvent struct {
	Mode      SafetyCarMode `json:"mode"`
	Previous  SafetyCarMode `json:"previous"`
	Active    bool          `json:"active"`
	Automatic bool          `json:"automatic"`
	Reason    string        `json:"reason"`
}

// SessionChangeEvent is raised after every accepted phase transition and
// carries the session as it stands afterwards.
type SessionChangeEvent struct {
	Session  Session `json:"session"`
	Command  Command `json:"command"`
	Previous Phase   `json:"previous"`
}

// DecisionEvent mirrors every entry written to the decision log.
type DecisionEvent struct {
	Decision trace.DecisionRecord `json:"decision"`
}

// RadioEvent carries one team-radio or race-control transmission.
type RadioEvent struct {
	Transmission Transmission `json:"transmission"`
}

func (TelemetryEvent) Kind() bus.Kind        { return KindTelemetry }
func (LapCompletedEvent) Kind() bus.Kind     { return KindLapCompleted }
func (IncidentEvent) Kind() bus.Kind         { return KindIncident }
func (IncidentResolvedEvent) Kind() bus.Kind { return KindIncidentResolved }
func (PenaltyEvent) Kind() bus.Kind          { return KindPenalty }
func (PenaltyIssuedEvent) Kind() bus.Kind    { return KindPenaltyIssued }
func (PenaltyServedEvent) Kind() bus.Kind    { return KindPenaltyServed }
func (PenaltyClearedEvent) Kind() bus.Kind   { return KindPenaltyCleared }
func (ProtestFiledEvent) Kind() bus.Kind     { return KindProtestFiled }
func (FlagChangeEvent) Kind() bus.Kind       { return KindFlagChange }
func (SafetyCarChangeEvent) Kind() bus.Kind  { return KindSafetyCarChange }
func (SessionChangeEvent) Kind() bus.Kind    { return KindSessionChange }
func (DecisionEvent) Kind() bus.Kind         { return KindDecision }
func (RadioEvent) Kind() bus.Kind            { return KindRadio }

// Clone copies the competitor slice.
func (ev TelemetryEvent) Clone() bus.Event {
	ev.Competitors = slices.Clone(ev.Competitors)
	return ev
}

// Clone copies the incident notes.
func (ev IncidentEvent) Clone() bus.Event {
	ev.Incident = ev.Incident.clone()
	return ev
}

// Clone copies the incident notes.
func (ev IncidentResolvedEvent) Clone() bus.Event {
	ev.Incident = ev.Incident.clone()
	return ev
}

// AllKinds lists every event kind the engine publishes.
func AllKinds() []bus.Kind {
	return []bus.Kind{
		KindTelemetry, KindLapCompleted, KindIncident, KindIncidentResolved,
		KindPenalty, KindPenaltyIssued, KindPenaltyServed, KindPenaltyCleared,
		KindProtestFiled, KindFlagChange, KindSafetyCarChange, KindSessionChange,
		KindDecision, KindRadio,
	}
}
