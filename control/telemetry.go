package control

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control/trace"
)

// SectorCount is the number of timing sectors per lap.
const SectorCount = 3

// CompetitorTelemetry is the derived race state of one competitor. It holds
// only values, so a returned copy never aliases engine storage.
type CompetitorTelemetry struct {
	ID       string  `json:"id"`
	Position Vec2    `json:"position"`
	Speed    float64 `json:"speed"` // m/s

	Lap           int                  `json:"lap"` // completed laps
	Sector        int                  `json:"sector"`
	SectorTimes   [SectorCount]float64 `json:"sector_times"`
	SectorElapsed float64              `json:"sector_elapsed"`
	LapDistance   float64              `json:"lap_distance"`   // metres into the current lap
	TotalDistance float64              `json:"total_distance"` // metres since the start
	LapElapsed    float64              `json:"lap_elapsed"`
	LastLapTime   float64              `json:"last_lap_time"`
	HasLastLap    bool                 `json:"has_last_lap"` // false until a lap completes
	BestLapTime   float64              `json:"best_lap_time"`

	GapToLeader  float64 `json:"gap_to_leader"` // seconds
	RacePosition int     `json:"race_position"`

	Compound   string  `json:"compound"`
	TyreWear   float64 `json:"tyre_wear"`   // 0..1
	TyreHealth float64 `json:"tyre_health"` // percent

	TrackLimitViolations int     `json:"track_limit_violations"`
	TimePenalty          float64 `json:"time_penalty"` // seconds added to the classified time
	Warnings             int     `json:"warnings"`
	BlueFlag             bool    `json:"blue_flag"`
	Disqualified         bool    `json:"disqualified"`
	QueuedPenalties      int     `json:"queued_penalties"` // waiting behind the one being served

	Directive Directive `json:"directive"`
}

// competitorState is everything the engine tracks per competitor.
type competitorState struct {
	telemetry CompetitorTelemetry
	penalties *penaltyBook
	compound  CompoundConfig

	angle    float64 // last raw angle, for unwrapping
	anchored bool

	blueHold float64 // manual blue flag countdown
}

// RegisterCompetitor adds a competitor and assigns its tyre compound from
// the seeded tyre stream. Registering an existing id is a no-op.
func (e *Engine) RegisterCompetitor(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty competitor id", ErrUnknownCompetitor)
	}
	e.register(id)
	return nil
}

func (e *Engine) register(id string) *competitorState {
	if st, ok := e.competitors[id]; ok {
		return st
	}
	tyres := e.cfg.Tyres
	compound := tyres[e.rng.ForSubsystem(SubsystemTyres).Intn(len(tyres))]
	st := &competitorState{
		telemetry: CompetitorTelemetry{
			ID:         id,
			Compound:   compound.Name,
			TyreHealth: 100,
		},
		penalties: &penaltyBook{},
		compound:  compound,
	}
	e.competitors[id] = st
	e.order = append(e.order, id)
	sort.Strings(e.order)
	logrus.Debugf("registered competitor %s on %s tyres", id, compound.Name)
	return st
}

// updateTelemetry folds one position sample into the competitor's record.
// With accumulate false the position is recorded and the unwrap angle
// re-anchored, but no progress, time or wear is counted.
func (e *Engine) updateTelemetry(st *competitorState, s CompetitorSample, dt float64, accumulate bool) {
	t := &st.telemetry
	track := e.cfg.Track
	c := track.Circumference()

	t.Position = s.Position
	t.Speed = s.Speed
	if t.Speed < 0 || math.IsNaN(t.Speed) || math.IsInf(t.Speed, 0) {
		t.Speed = 0
	}
	angle := track.AngleOf(s.Position)

	if !st.anchored {
		st.anchored = true
		st.angle = angle
		if t.Lap == 0 && t.LapDistance == 0 {
			placeOnGrid(t, angle, track.Radius, c)
		}
		return
	}

	delta := unwrapDelta(angle - st.angle)
	st.angle = angle
	if !accumulate {
		// Before the start the grid may still be forming.
		if e.session.Phase == PhaseIdle && t.Lap == 0 {
			placeOnGrid(t, angle, track.Radius, c)
		}
		return
	}

	t.LapElapsed += dt
	t.SectorElapsed += dt
	t.LapDistance += delta * track.Radius
	if t.LapDistance < 0 {
		t.LapDistance = 0
	}

	e.advanceSectors(t, c)
	if t.LapDistance >= c {
		t.SectorTimes[SectorCount-1] = t.SectorElapsed
		lapTime := t.LapElapsed
		t.Lap++
		t.LapDistance = math.Mod(t.LapDistance-c, c)
		t.LastLapTime = lapTime
		if !t.HasLastLap || lapTime < t.BestLapTime {
			t.BestLapTime = lapTime
		}
		t.HasLastLap = true
		t.LapElapsed = 0
		t.SectorElapsed = 0
		t.Sector = 0
		e.advanceSectors(t, c)

		logrus.Debugf("[%8.2fs] %s completed lap %d in %.3fs", e.session.Elapsed, t.ID, t.Lap, lapTime)
		e.emit(LapCompletedEvent{
			CompetitorID: t.ID,
			Lap:          t.Lap,
			LapTime:      lapTime,
			SectorTimes:  t.SectorTimes,
		})
	}
	t.TotalDistance = float64(t.Lap)*c + t.LapDistance

	rate := st.compound.WearRate * e.tyreWearFactor(st)
	t.TyreWear = math.Min(1, t.TyreWear+dt*t.Speed*rate)
	t.TyreHealth = math.Max(0, 100-t.TyreWear*100)
}

// placeOnGrid sets lap-zero progress straight from the angular position.
func placeOnGrid(t *CompetitorTelemetry, angle, radius, c float64) {
	d := normalizeAngle(angle) * radius
	if d >= c {
		d = 0
	}
	t.LapDistance = d
	t.Sector = sectorOf(d, c)
	t.TotalDistance = d
}

// advanceSectors finalises every sector boundary the lap distance has
// passed. The sector index never moves backwards within a lap.
func (e *Engine) advanceSectors(t *CompetitorTelemetry, c float64) {
	for t.Sector < SectorCount-1 && t.LapDistance >= float64(t.Sector+1)*c/SectorCount {
		t.SectorTimes[t.Sector] = t.SectorElapsed
		t.SectorElapsed = 0
		t.Sector++
	}
}

func sectorOf(d, c float64) int {
	s := int(d / (c / SectorCount))
	return min(max(s, 0), SectorCount-1)
}

// updateStandings ranks competitors by total distance (ties to the lower id)
// and derives each gap to the leader in seconds.
func (e *Engine) updateStandings() {
	if len(e.order) == 0 {
		return
	}
	ranked := make([]*competitorState, 0, len(e.order))
	for _, id := range e.order {
		ranked = append(ranked, e.competitors[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].telemetry.TotalDistance > ranked[j].telemetry.TotalDistance
	})
	leader := ranked[0].telemetry.TotalDistance
	pace := e.cfg.Telemetry.AveragePace
	for i, st := range ranked {
		st.telemetry.RacePosition = i + 1
		if i == 0 {
			st.telemetry.GapToLeader = 0
			continue
		}
		st.telemetry.GapToLeader = math.Max(0, (leader-st.telemetry.TotalDistance)/pace)
	}
}

// leader returns the competitor classified first, or nil.
func (e *Engine) leader() *competitorState {
	for _, id := range e.order {
		if st := e.competitors[id]; st.telemetry.RacePosition == 1 {
			return st
		}
	}
	return nil
}

// updateBlueFlags shows blue to a lapped competitor when the leader is
// within BlueFlagWindow metres behind it on track, and counts down manual
// blue flags. Only called while running.
func (e *Engine) updateBlueFlags(dt float64) {
	lead := e.leader()
	if lead == nil {
		return
	}
	c := e.cfg.Track.Circumference()
	window := e.cfg.Telemetry.BlueFlagWindow
	for _, id := range e.order {
		st := e.competitors[id]
		if st.blueHold > 0 {
			st.blueHold = math.Max(0, st.blueHold-dt)
		}
		auto := false
		if st != lead && window > 0 {
			deficit := lead.telemetry.TotalDistance - st.telemetry.TotalDistance
			auto = deficit >= c-window && math.Mod(deficit, c) >= c-window
		}
		show := auto || st.blueHold > 0
		if show && !st.telemetry.BlueFlag {
			e.recordDecision(trace.ActionBlueFlag, id, fmt.Sprintf("Blue flag shown to %s", id), auto)
		}
		st.telemetry.BlueFlag = show
	}
}

// ShowBlueFlag shows the blue flag to one competitor for BlueFlagHold seconds.
func (e *Engine) ShowBlueFlag(id string) error {
	defer e.flush()

	st, ok := e.competitors[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCompetitor, id)
	}
	if e.session.Phase.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidStateTransition, e.session.Phase)
	}
	st.blueHold = e.cfg.Telemetry.BlueFlagHold
	if !st.telemetry.BlueFlag {
		st.telemetry.BlueFlag = true
		e.recordDecision(trace.ActionBlueFlag, id, fmt.Sprintf("Blue flag shown to %s", id), false)
	}
	return nil
}

func (e *Engine) tyreWearFactor(st *competitorState) float64 {
	f := 1.0
	for _, p := range st.penalties.inForce() {
		if t, ok := p.Terms.(TyreDegradationTerms); ok {
			f = math.Max(f, t.WearFactor)
		}
	}
	return f
}

// snapshot returns a copy of the competitor's telemetry with a freshly
// compiled directive.
func (e *Engine) snapshot(st *competitorState) CompetitorTelemetry {
	t := st.telemetry
	t.Directive = e.compileDirective(st)
	t.QueuedPenalties = st.penalties.queue.Len()
	return t
}
