package control

import (
	"fmt"
	"maps"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control/trace"
)

// IncidentType classifies an incident.
type IncidentType string

const (
	IncidentCollision    IncidentType = "collision"
	IncidentTrackLimits  IncidentType = "track-limits"
	IncidentSpin         IncidentType = "spin"
	IncidentMechanical   IncidentType = "mechanical"
	IncidentWeatherShift IncidentType = "weather-shift"
	IncidentCrash        IncidentType = "crash"
	IncidentOvertake     IncidentType = "overtake"
	IncidentDebris       IncidentType = "debris"
	IncidentOther        IncidentType = "other"
)

var validIncidentTypes = map[IncidentType]bool{
	IncidentCollision:    true,
	IncidentTrackLimits:  true,
	IncidentSpin:         true,
	IncidentMechanical:   true,
	IncidentWeatherShift: true,
	IncidentCrash:        true,
	IncidentOvertake:     true,
	IncidentDebris:       true,
	IncidentOther:        true,
}

// IsValidIncidentType returns true if the given string names an incident type.
func IsValidIncidentType(s string) bool {
	return validIncidentTypes[IncidentType(s)]
}

// Severity grades an incident. Medium raises a held yellow, High also
// deploys an automatic safety car.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var validSeverities = map[Severity]bool{
	SeverityInfo:   true,
	SeverityLow:    true,
	SeverityMedium: true,
	SeverityHigh:   true,
}

// IsValidSeverity returns true if the given string names a severity.
func IsValidSeverity(s string) bool {
	return validSeverities[Severity(s)]
}

// escalates reports whether the severity affects the flag.
func (s Severity) escalates() bool {
	return s == SeverityMedium || s == SeverityHigh
}

// IncidentSource records who raised an incident.
type IncidentSource string

const (
	SourceManual    IncidentSource = "manual"
	SourceDetector  IncidentSource = "detector"
	SourceGenerator IncidentSource = "generator"
)

// IncidentDetails is the type-specific payload of an incident. The set of
// implementations is closed.
type IncidentDetails interface {
	incidentType() IncidentType
}

// CollisionDetails describes contact between two competitors.
type CollisionDetails struct {
	Position      Vec2    `json:"position"`
	CombinedSpeed float64 `json:"combined_speed"`
}

// TrackLimitsDetails describes a car leaving the track.
type TrackLimitsDetails struct {
	Position Vec2 `json:"position"`
	Strike   int  `json:"strike"` // competitor's violation count including this one
}

// WeatherShiftDetails records the change of weather label.
type WeatherShiftDetails struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MechanicalDetails names the failed component.
type MechanicalDetails struct {
	Component string `json:"component"`
}

// OvertakeDetails names the competitor that lost the place.
type OvertakeDetails struct {
	PassedID string `json:"passed_id"`
}

func (CollisionDetails) incidentType() IncidentType    { return IncidentCollision }
func (TrackLimitsDetails) incidentType() IncidentType  { return IncidentTrackLimits }
func (WeatherShiftDetails) incidentType() IncidentType { return IncidentWeatherShift }
func (MechanicalDetails) incidentType() IncidentType   { return IncidentMechanical }
func (OvertakeDetails) incidentType() IncidentType     { return IncidentOvertake }

// Incident is an immutable snapshot of a recorded incident.
type Incident struct {
	ID                string            `json:"id"`
	Type              IncidentType      `json:"type"`
	Severity          Severity          `json:"severity"`
	Timestamp         float64           `json:"timestamp"` // session seconds
	Location          string            `json:"location"`
	Turn              int               `json:"turn"` // 0 when not anchored to the track
	KmMarker          float64           `json:"km_marker"`
	CompetitorID      string            `json:"competitor_id,omitempty"`
	OtherCompetitorID string            `json:"other_competitor_id,omitempty"`
	Resolved          bool              `json:"resolved"`
	Source            IncidentSource    `json:"source"`
	Details           IncidentDetails   `json:"details,omitempty"`
	Notes             map[string]string `json:"notes,omitempty"`
}

func (inc Incident) clone() Incident {
	inc.Notes = maps.Clone(inc.Notes)
	return inc
}

// IncidentReport is a manually reported incident.
type IncidentReport struct {
	Type              IncidentType
	Severity          Severity
	CompetitorID      string // optional
	OtherCompetitorID string // optional
	Location          string // derived from the competitor's progress when empty
	Details           IncidentDetails
	Notes             map[string]string
}

// ReportIncident records a manual incident and applies its escalation.
func (e *Engine) ReportIncident(r IncidentReport) (Incident, error) {
	defer e.flush()

	if !validIncidentTypes[r.Type] {
		return Incident{}, fmt.Errorf("%w: unknown incident type %q", ErrInvalidIncident, r.Type)
	}
	if !validSeverities[r.Severity] {
		return Incident{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidIncident, r.Severity)
	}
	if r.Details != nil && r.Details.incidentType() != r.Type {
		return Incident{}, fmt.Errorf("%w: %T does not describe a %s", ErrInvalidIncident, r.Details, r.Type)
	}
	for _, id := range []string{r.CompetitorID, r.OtherCompetitorID} {
		if id == "" {
			continue
		}
		if _, ok := e.competitors[id]; !ok {
			return Incident{}, fmt.Errorf("%w: %q", ErrUnknownCompetitor, id)
		}
	}

	inc := Incident{
		Type:              r.Type,
		Severity:          r.Severity,
		CompetitorID:      r.CompetitorID,
		OtherCompetitorID: r.OtherCompetitorID,
		Location:          "Race Control",
		Source:            SourceManual,
		Details:           r.Details,
		Notes:             maps.Clone(r.Notes),
	}
	if st, ok := e.competitors[r.CompetitorID]; ok {
		e.anchor(&inc, st)
	}
	if r.Location != "" {
		inc.Location = r.Location
	}
	return e.recordIncident(inc), nil
}

// ResolveIncident marks an incident resolved. Resolving twice is a no-op.
func (e *Engine) ResolveIncident(id string) error {
	defer e.flush()

	found := false
	e.incidents.Update(func(inc *Incident) bool {
		if inc.ID != id {
			return false
		}
		found = true
		return true
	})
	if !found {
		return fmt.Errorf("%w: incident %q", ErrNotFound, id)
	}
	e.resolveIncident(id, false)
	return nil
}

func (e *Engine) resolveIncident(id string, automatic bool) {
	var resolved Incident
	changed := e.incidents.Update(func(inc *Incident) bool {
		if inc.ID != id || inc.Resolved {
			return false
		}
		inc.Resolved = true
		resolved = inc.clone()
		return true
	})
	if !changed {
		return
	}
	logrus.Infof("[%8.2fs] incident %s resolved", e.session.Elapsed, id)
	e.emit(IncidentResolvedEvent{Incident: resolved, Automatic: automatic})
}

// anchor attaches the competitor's current track position to the incident.
func (e *Engine) anchor(inc *Incident, st *competitorState) {
	turn, km, label := e.cfg.Track.Location(st.telemetry.LapDistance)
	inc.Turn = turn
	inc.KmMarker = km
	inc.Location = label
}

// recordIncident stamps, stores and broadcasts an incident, then applies
// its flag escalation.
func (e *Engine) recordIncident(inc Incident) Incident {
	e.incidentSeq++
	inc.ID = fmt.Sprintf("INC-%04d", e.incidentSeq)
	inc.Timestamp = e.session.Elapsed
	e.incidents.Push(inc)

	logrus.Infof("[%8.2fs] incident %s: %s (%s) at %s", inc.Timestamp, inc.ID, inc.Type, inc.Severity, inc.Location)
	snapshot := inc.clone()
	e.emit(IncidentEvent{Incident: snapshot})
	e.recordDecision(trace.ActionIncident, inc.CompetitorID,
		fmt.Sprintf("%s (%s) at %s", titleCase(string(inc.Type)), inc.Severity, inc.Location),
		inc.Source != SourceManual)

	if inc.Severity.escalates() {
		e.raiseCaution(inc)
	}
	return snapshot
}

// Contact is a pair of competitors the motion collaborator found touching.
type Contact struct {
	A string `json:"a"`
	B string `json:"b"`
}

func (c Contact) key() string {
	if c.B < c.A {
		return c.B + "|" + c.A
	}
	return c.A + "|" + c.B
}

// detectIncidents turns the frame's collision and off-track outcomes into
// incidents, rate-limited per pair and per competitor.
func (e *Engine) detectIncidents(frame Frame) {
	now := e.session.Elapsed
	cfg := e.cfg.Incident

	for _, c := range frame.Collisions {
		a, okA := e.competitors[c.A]
		b, okB := e.competitors[c.B]
		if !okA || !okB || c.A == c.B {
			logrus.Debugf("skipping malformed contact %s/%s", c.A, c.B)
			continue
		}
		k := c.key()
		if last, seen := e.contactSeen[k]; seen && now-last < cfg.CollisionCooldown {
			continue
		}
		e.contactSeen[k] = now

		combined := a.telemetry.Speed + b.telemetry.Speed
		severity := SeverityMedium
		if combined > cfg.CrashSpeed {
			severity = SeverityHigh
		}
		inc := Incident{
			Type:              IncidentCollision,
			Severity:          severity,
			CompetitorID:      c.A,
			OtherCompetitorID: c.B,
			Source:            SourceDetector,
			Details: CollisionDetails{
				Position:      a.telemetry.Position,
				CombinedSpeed: combined,
			},
			Notes: map[string]string{"colliding_with": c.B},
		}
		e.anchor(&inc, a)
		e.recordIncident(inc)
	}

	for _, id := range frame.OffTrack {
		st, ok := e.competitors[id]
		if !ok {
			continue
		}
		if last, seen := e.offTrackSeen[id]; seen && now-last < cfg.TrackLimitCooldown {
			continue
		}
		e.offTrackSeen[id] = now
		e.trackLimitViolation(st, SourceDetector)
	}
}

// trackLimitViolation records a strike and, every TrackLimitStrikes strikes,
// issues the automatic time penalty.
func (e *Engine) trackLimitViolation(st *competitorState, source IncidentSource) {
	st.telemetry.TrackLimitViolations++
	strike := st.telemetry.TrackLimitViolations
	inc := Incident{
		Type:         IncidentTrackLimits,
		Severity:     SeverityLow,
		CompetitorID: st.telemetry.ID,
		Source:       source,
		Details:      TrackLimitsDetails{Position: st.telemetry.Position, Strike: strike},
	}
	e.anchor(&inc, st)
	e.recordIncident(inc)

	n := e.cfg.Penalty.TrackLimitStrikes
	if n > 0 && strike%n == 0 {
		_, err := e.issue(st, PenaltyRequest{
			CompetitorID: st.telemetry.ID,
			Kind:         string(PenaltyTime),
			Seconds:      e.cfg.Penalty.TrackLimitSeconds,
			Reason:       fmt.Sprintf("Track limits (%d strikes)", strike),
		}, true)
		if err != nil {
			logrus.Warnf("automatic track-limits penalty for %s: %v", st.telemetry.ID, err)
		}
	}
}

var mechanicalComponents = []string{"gearbox", "hydraulics", "power unit", "brakes", "suspension"}

// generateIncident runs the stochastic generator once. It draws nothing until
// the cooldown since the last generated incident has passed.
func (e *Engine) generateIncident(rng *rand.Rand) {
	cfg := e.cfg.Incident
	if cfg.Probability <= 0 || len(cfg.Table) == 0 || len(e.order) == 0 {
		return
	}
	if e.session.Elapsed-e.lastGenerated < cfg.Cooldown {
		return
	}
	if rng.Float64() >= cfg.Probability {
		return
	}
	row, ok := pickWeighted(rng, cfg.Table)
	if !ok {
		return
	}
	st := e.competitors[e.order[rng.Intn(len(e.order))]]
	e.lastGenerated = e.session.Elapsed

	inc := Incident{
		Type:         row.Type,
		Severity:     row.Severity,
		CompetitorID: st.telemetry.ID,
		Source:       SourceGenerator,
	}
	switch row.Type {
	case IncidentTrackLimits:
		e.trackLimitViolation(st, SourceGenerator)
		return
	case IncidentWeatherShift:
		from, to := e.session.Weather, nextWeather(e.cfg.Session.WeatherCycle, e.session.Weather)
		e.session.Weather = to
		inc.CompetitorID = ""
		inc.Details = WeatherShiftDetails{From: from, To: to}
	case IncidentMechanical:
		inc.Details = MechanicalDetails{Component: mechanicalComponents[rng.Intn(len(mechanicalComponents))]}
	case IncidentOvertake:
		if ahead := e.competitorAhead(st); ahead != "" {
			inc.OtherCompetitorID = ahead
			inc.Details = OvertakeDetails{PassedID: ahead}
		}
	}
	e.anchor(&inc, st)
	e.recordIncident(inc)
}

// pickWeighted draws a row proportionally to its weight. Rows are scanned in
// table order so the draw is reproducible for a given seed.
func pickWeighted(rng *rand.Rand, table []IncidentWeight) (IncidentWeight, bool) {
	total := 0.0
	for _, row := range table {
		total += row.Weight
	}
	if total <= 0 {
		return IncidentWeight{}, false
	}
	r := rng.Float64() * total
	for _, row := range table {
		if r < row.Weight {
			return row, true
		}
		r -= row.Weight
	}
	return table[len(table)-1], true
}

func nextWeather(cycle []string, current string) string {
	if len(cycle) == 0 {
		return current
	}
	for i, w := range cycle {
		if w == current {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return cycle[0]
}

// competitorAhead returns the competitor classified one place ahead, if any.
func (e *Engine) competitorAhead(st *competitorState) string {
	want := st.telemetry.RacePosition - 1
	if want < 1 {
		return ""
	}
	for _, id := range e.order {
		if e.competitors[id].telemetry.RacePosition == want {
			return id
		}
	}
	return ""
}
