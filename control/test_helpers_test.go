package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/racecontrol/racecontrol/control/bus"
)

// quietConfig returns the default config with the stochastic generator off.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Incident.Probability = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, ids ...string) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, e.RegisterCompetitor(id))
	}
	return e
}

func startedEngine(t *testing.T, cfg Config, ids ...string) *Engine {
	t.Helper()
	e := newTestEngine(t, cfg, ids...)
	require.NoError(t, e.HandleSessionCommand(CommandStart))
	return e
}

// sampleAt places a competitor on the racing line d metres into the lap.
func sampleAt(cfg Config, id string, d, speed float64) CompetitorSample {
	return CompetitorSample{
		ID:       id,
		Position: cfg.Track.PointAt(d/cfg.Track.Radius, cfg.Track.Radius),
		Speed:    speed,
	}
}

// frameOf builds a frame from lap distances keyed by competitor id.
func frameOf(cfg Config, dt float64, dists map[string]float64) Frame {
	f := Frame{Elapsed: dt}
	for id, d := range dists {
		f.Competitors = append(f.Competitors, sampleAt(cfg, id, d, 0))
	}
	return f
}

// stationary ticks n times with every competitor parked at the given distance.
func stationary(e *Engine, n int, dt float64, dists map[string]float64) {
	for i := 0; i < n; i++ {
		e.Tick(frameOf(e.Config(), dt, dists))
	}
}

// recorder collects every event published on a bus.
type recorder struct {
	events []bus.Event
}

func record(e *Engine) *recorder {
	r := &recorder{}
	e.Bus().OnAll(func(ev bus.Event) { r.events = append(r.events, ev) })
	return r
}

func (r *recorder) count(kind bus.Kind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}
