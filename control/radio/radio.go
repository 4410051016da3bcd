// Package radio turns race-control events into team-radio chatter. A Manager
// listens on the engine's bus and answers penalties, protests, incidents and
// safety-car changes with transmissions from the drivers and pit walls
// involved, broadcast back through Engine.Transmit.
package radio

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/control/bus"
)

var driverNames = []string{
	"Lena Hartmann", "Max Dalton", "Isla Moretti", "Noah Renshaw", "Soren Takahashi",
	"Maya Velasco", "Julian Pierce", "Aria Beaumont", "Theo Richter", "Cass Santos",
	"Leo Vasseur", "Nina Kohler", "Victor Hale", "Zara Petrov", "Hugo Kwon",
	"Amelia Frost", "Miles Navarro", "Ivy Martell", "Jonas Reeve", "Serena Okoye",
	"Dmitri Alvarez", "Mara Sinclair", "Tomas Ibarra", "Liv Anders", "Callum Reyes",
	"Aya Solberg", "Bruno Calder", "Emilia Strauss", "Rowan Mercer", "Talia Rindt",
}

var teamNames = []string{
	"Apex GP", "Velocity Racing", "Solaris Motorsport", "Titan Dynamics",
	"Nova Corse", "Prism Autosport", "Hyperion Works", "Artemis Engineering",
}

// Temperament colours how a driver reacts on the radio.
type Temperament string

const (
	Calm     Temperament = "calm"
	Fiery    Temperament = "fiery"
	Measured Temperament = "measured"
)

var temperaments = []Temperament{Calm, Fiery, Measured}

var incidentPhrases = map[control.IncidentType]string{
	control.IncidentCollision:    "We were tagged in a collision",
	control.IncidentTrackLimits:  "Ran out of room at the exit",
	control.IncidentSpin:         "Car rotated on its own",
	control.IncidentOvertake:     "Clean overtake complete",
	control.IncidentMechanical:   "Losing drive, something has let go",
	control.IncidentCrash:        "Big impact, I'm in the barrier",
	control.IncidentDebris:       "Debris on the racing line",
	control.IncidentWeatherShift: "Conditions are changing out here",
}

const defaultPhrase = "Situation developing"

// Profile is the radio persona of one competitor.
type Profile struct {
	CompetitorID string
	Driver       string
	Team         string
	Temperament  Temperament
}

// Manager generates transmissions for one engine.
//
// Thread-safety: NOT thread-safe. Handlers run on the engine's goroutine.
type Manager struct {
	engine      *control.Engine
	rng         *rand.Rand
	profiles    map[string]Profile
	unsubscribe []func()
}

// New subscribes a Manager to e's bus. Random choices (which rival or
// driver speaks) come from the engine's radio stream.
func New(e *control.Engine) *Manager {
	if e == nil {
		panic("radio.New: engine must not be nil")
	}
	m := &Manager{
		engine:   e,
		rng:      e.RNG().ForSubsystem(control.SubsystemRadio),
		profiles: make(map[string]Profile),
	}
	b := e.Bus()
	m.unsubscribe = append(m.unsubscribe,
		bus.Subscribe(b, m.onPenalty),
		bus.Subscribe(b, m.onProtest),
		bus.Subscribe(b, m.onIncident),
		bus.Subscribe(b, m.onSafetyCar),
	)
	return m
}

// Close removes every subscription. Calling it twice is harmless.
func (m *Manager) Close() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
}

// Profile returns the persona for a competitor, creating it on first use.
// Personas are derived from the id so they are stable across runs.
func (m *Manager) Profile(id string) Profile {
	if p, ok := m.profiles[id]; ok {
		return p
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	n := int(h.Sum32() & 0x7fffffff)
	p := Profile{
		CompetitorID: id,
		Driver:       driverNames[n%len(driverNames)],
		Team:         teamNames[n%len(teamNames)],
		Temperament:  temperaments[n%len(temperaments)],
	}
	m.profiles[id] = p
	return p
}

func (m *Manager) onPenalty(ev control.PenaltyIssuedEvent) {
	if ev.Refreshed {
		return
	}
	p := ev.Penalty
	kind := strings.ReplaceAll(string(p.Kind()), "-", " ")
	penalised := m.Profile(p.CompetitorID)
	m.engine.Transmit(control.Transmission{
		Tone:         control.ToneAlert,
		From:         penalised.Driver,
		Message:      fmt.Sprintf("%s: That %s penalty is brutal, we barely stepped over the line.", penalised.Driver, kind),
		CompetitorID: p.CompetitorID,
	})

	rivalID, ok := m.pickOther(p.CompetitorID)
	if !ok {
		return
	}
	rival := m.Profile(rivalID)
	first, _, _ := strings.Cut(penalised.Driver, " ")
	m.engine.Transmit(control.Transmission{
		Tone:         control.ToneInfo,
		From:         rival.Team,
		Message:      fmt.Sprintf("%s pit wall: Copy, %s picked up a %s. Keep it tidy.", rival.Team, first, kind),
		CompetitorID: rivalID,
	})
}

func (m *Manager) onProtest(ev control.ProtestFiledEvent) {
	p := ev.Protest
	caller := m.Profile(p.CompetitorID)
	accused := "the field"
	if p.TargetID != "" {
		accused = m.Profile(p.TargetID).Driver
	}
	m.engine.Transmit(control.Transmission{
		Tone:         control.ToneAlert,
		From:         caller.Team,
		Message:      fmt.Sprintf("%s: Lodging protest on %s. %s", caller.Team, accused, p.Reason),
		CompetitorID: p.CompetitorID,
	})
}

func (m *Manager) onIncident(ev control.IncidentEvent) {
	inc := ev.Incident
	speaker := "Race engineer"
	fiery := false
	if inc.CompetitorID != "" {
		prof := m.Profile(inc.CompetitorID)
		speaker = prof.Driver
		fiery = prof.Temperament == Fiery
	}
	phrase, ok := incidentPhrases[inc.Type]
	if !ok {
		phrase = defaultPhrase
	}
	tone := control.ToneInfo
	suffix := "Will keep it steady."
	if inc.Severity == control.SeverityHigh || (fiery && inc.Severity != control.SeverityInfo) {
		tone = control.ToneAlert
		suffix = "Need help immediately."
	}
	m.engine.Transmit(control.Transmission{
		Tone:         tone,
		From:         speaker,
		Message:      fmt.Sprintf("%s: %s at %s. %s", speaker, phrase, inc.Location, suffix),
		CompetitorID: inc.CompetitorID,
	})
}

func (m *Manager) onSafetyCar(ev control.SafetyCarChangeEvent) {
	prefix := "Safety car ending"
	switch ev.Mode {
	case control.SafetyCarPhysical:
		prefix = "Safety car deployed"
	case control.SafetyCarVirtual:
		prefix = "Virtual safety car deployed"
	}
	speaker := "Race control"
	var id string
	if ids := m.engine.Competitors(); len(ids) > 0 {
		id = ids[m.rng.Intn(len(ids))]
		speaker = m.Profile(id).Driver
	}
	m.engine.Transmit(control.Transmission{
		Tone:         control.ToneWarning,
		From:         speaker,
		Message:      fmt.Sprintf("%s: %s. %s", speaker, prefix, ev.Reason),
		CompetitorID: id,
	})
}

// pickOther draws a registered competitor other than id.
func (m *Manager) pickOther(id string) (string, bool) {
	var others []string
	for _, c := range m.engine.Competitors() {
		if c != id {
			others = append(others, c)
		}
	}
	if len(others) == 0 {
		return "", false
	}
	return others[m.rng.Intn(len(others))], true
}
