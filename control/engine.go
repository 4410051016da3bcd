package control

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control/bus"
	"github.com/racecontrol/racecontrol/control/internal/ring"
	"github.com/racecontrol/racecontrol/control/trace"
)

// epsilon absorbs float drift when a countdown lands on zero.
const epsilon = 1e-9

// CompetitorSample is one competitor's raw state at the end of a motion step.
type CompetitorSample struct {
	ID       string  `json:"id"`
	Position Vec2    `json:"position"`
	Speed    float64 `json:"speed"` // m/s
}

// Frame is the motion collaborator's input to one tick: elapsed simulation
// time, every competitor's sample, and the contact and off-track outcomes it
// detected during the step.
type Frame struct {
	Elapsed     float64
	Competitors []CompetitorSample
	Collisions  []Contact
	OffTrack    []string
}

// Engine is the race-control authority for one session.
//
// Thread-safety: NOT thread-safe. A single driver owns the engine and calls
// Tick and the command methods from one goroutine. Event handlers run
// synchronously after the operation that raised them has finished mutating
// state, so they may issue further commands.
type Engine struct {
	cfg     Config
	bus     *bus.Bus
	rng     *PartitionedRNG
	session Session

	holdRemaining float64
	autoSafetyCar *autoSafetyCarState

	competitors map[string]*competitorState
	order       []string // competitor ids, sorted

	incidents    *ring.Buffer[Incident]
	protests     *ring.Buffer[Protest]
	transmission *ring.Buffer[Transmission]
	decisions    *trace.Log

	incidentSeq, protestSeq, penaltySeq, transmissionSeq int

	lastGenerated float64
	contactSeen   map[string]float64
	offTrackSeen  map[string]float64

	outbox   []bus.Event
	flushing bool
}

// NewEngine validates cfg and creates an engine in the idle phase under a
// green flag.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid race config: %w", err)
	}
	e := &Engine{
		cfg: cfg,
		bus: bus.New(),
		rng: NewPartitionedRNG(cfg.Seed),
		session: Session{
			ID:         ksuid.New().String(),
			Phase:      PhaseIdle,
			Flag:       FlagGreen,
			SafetyCar:  SafetyCarNone,
			CurrentLap: 1,
			TotalLaps:  cfg.Session.TotalLaps,
			Weather:    cfg.Session.Weather,
		},
		competitors:  make(map[string]*competitorState),
		incidents:    ring.New[Incident](cfg.History.Incidents),
		protests:     ring.New[Protest](cfg.History.Protests),
		transmission: ring.New[Transmission](cfg.History.Radio),
		decisions:    trace.NewLog(cfg.History.Decisions),
		contactSeen:  make(map[string]float64),
		offTrackSeen: make(map[string]float64),
	}
	return e, nil
}

// Bus returns the event bus. Subscribe with bus.Subscribe for typed handlers.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// RNG returns the engine's partitioned random source so collaborators can
// draw from their own reproducible streams.
func (e *Engine) RNG() *PartitionedRNG { return e.rng }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Tick advances the engine by one frame. Telemetry is updated first, then
// incident detection, penalty service, the stochastic generator and the
// regulatory countdowns; directives are compiled last and every event raised
// during the tick is delivered after the tick's state is complete.
// Timers and telemetry progress only advance while the session is running.
// A negative or non-finite elapsed time is treated as zero, and a sample
// whose position is not finite is skipped for this tick.
func (e *Engine) Tick(frame Frame) {
	defer e.flush()

	dt := frame.Elapsed
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		logrus.Debugf("tick with invalid elapsed %v treated as 0", dt)
		dt = 0
	}
	running := e.session.Phase == PhaseRunning
	if running {
		e.session.Elapsed += dt
	}

	samples := make([]CompetitorSample, 0, len(frame.Competitors))
	for _, s := range frame.Competitors {
		switch {
		case s.ID == "":
		case !s.Position.Finite():
			logrus.Debugf("dropping sample for %s with non-finite position %v", s.ID, s.Position)
		default:
			samples = append(samples, s)
		}
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })
	for _, s := range samples {
		e.updateTelemetry(e.register(s.ID), s, dt, running)
	}
	e.updateStandings()
	e.updateLapCounter()

	if running {
		e.updateBlueFlags(dt)
		e.detectIncidents(frame)
		for _, id := range e.order {
			e.advancePenalties(e.competitors[id], dt)
		}
		e.generateIncident(e.rng.ForSubsystem(SubsystemIncidents))
		e.advanceRegulatoryTimers(dt)
		e.checkFinish()
	}

	all := make([]CompetitorTelemetry, 0, len(e.order))
	for _, id := range e.order {
		st := e.competitors[id]
		st.telemetry.Directive = e.compileDirective(st)
		st.telemetry.QueuedPenalties = st.penalties.queue.Len()
		all = append(all, st.telemetry)
	}
	e.emit(TelemetryEvent{Clock: e.session.Elapsed, Competitors: all})
}

func (e *Engine) updateLapCounter() {
	lead := e.leader()
	if lead == nil {
		return
	}
	e.session.LapElapsed = lead.telemetry.LapElapsed
	lap := lead.telemetry.Lap + 1
	if e.session.TotalLaps > 0 {
		lap = min(lap, e.session.TotalLaps)
	}
	e.session.CurrentLap = lap
}

// checkFinish ends the session once the leader has completed the planned distance.
func (e *Engine) checkFinish() {
	if e.session.TotalLaps <= 0 || e.session.Phase != PhaseRunning {
		return
	}
	lead := e.leader()
	if lead == nil || lead.telemetry.Lap < e.session.TotalLaps {
		return
	}
	e.applyCommand(CommandFinish, PhaseFinished, true)
}

// emit queues an event for delivery once the current operation completes.
func (e *Engine) emit(ev bus.Event) {
	e.outbox = append(e.outbox, ev)
}

// flush delivers queued events in order. Events raised by handlers are
// appended and delivered by the same loop.
func (e *Engine) flush() {
	if e.flushing {
		return
	}
	e.flushing = true
	defer func() { e.flushing = false }()
	for len(e.outbox) > 0 {
		ev := e.outbox[0]
		e.outbox[0] = nil
		e.outbox = e.outbox[1:]
		e.bus.Publish(ev)
	}
	e.outbox = nil
}

func (e *Engine) recordDecision(action trace.Action, competitorID, message string, automatic bool) {
	rec := e.decisions.Record(trace.DecisionRecord{
		Clock:        e.session.Elapsed,
		Action:       action,
		CompetitorID: competitorID,
		Message:      message,
		Flag:         string(e.session.Flag),
		SafetyCar:    string(e.session.SafetyCar),
		Automatic:    automatic,
	})
	logrus.Infof("[%8.2fs] %s %s", rec.Clock, rec.ID, message)
	e.emit(DecisionEvent{Decision: rec})
}

// Session returns a copy of the session state.
func (e *Engine) Session() Session {
	s := e.session
	s.FlagHold = e.holdRemaining
	if e.autoSafetyCar != nil {
		s.AutoSafetyCar = e.autoSafetyCar.remaining
	}
	return s
}

// Telemetry returns a copy of one competitor's telemetry.
func (e *Engine) Telemetry(id string) (CompetitorTelemetry, error) {
	st, ok := e.competitors[id]
	if !ok {
		return CompetitorTelemetry{}, fmt.Errorf("%w: %q", ErrUnknownCompetitor, id)
	}
	return e.snapshot(st), nil
}

// AllTelemetry returns copies of every competitor's telemetry in id order.
func (e *Engine) AllTelemetry() []CompetitorTelemetry {
	out := make([]CompetitorTelemetry, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.snapshot(e.competitors[id]))
	}
	return out
}

// Standings returns telemetry ordered by race position.
func (e *Engine) Standings() []CompetitorTelemetry {
	out := e.AllTelemetry()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RacePosition < out[j].RacePosition })
	return out
}

// Competitors returns the registered competitor ids in sorted order.
func (e *Engine) Competitors() []string {
	return append([]string(nil), e.order...)
}

// RecentIncidents returns up to n of the newest incidents, oldest first.
// n <= 0 returns the whole retained history.
func (e *Engine) RecentIncidents(n int) []Incident {
	out := e.incidents.Recent(n)
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

// RecentDecisions returns up to n of the newest race-control decisions.
func (e *Engine) RecentDecisions(n int) []trace.DecisionRecord {
	return e.decisions.Recent(n)
}

// RecentProtests returns up to n of the newest protests.
func (e *Engine) RecentProtests(n int) []Protest {
	return e.protests.Recent(n)
}

// RecentTransmissions returns up to n of the newest radio transmissions.
func (e *Engine) RecentTransmissions(n int) []Transmission {
	return e.transmission.Recent(n)
}

// titleCase turns a kebab-case name into a capitalised phrase.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return strings.ReplaceAll(string(r), "-", " ")
}
