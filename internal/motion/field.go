// Package motion moves a field of demo cars round the circular track and
// reports what happened as a control.Frame. It stands in for the physics a
// real harness would own: the engine only sees positions, speeds, contacts
// and off-track excursions.
package motion

import (
	"math"
	"math/rand"

	"github.com/racecontrol/racecontrol/control"
)

// DirectiveSource supplies the per-car speed directive. *control.Engine
// satisfies it.
type DirectiveSource interface {
	Directive(id string) (control.Directive, error)
}

// Config tunes the demo field.
type Config struct {
	GridSpacing     float64 // metres between grid slots
	GridLane        float64 // lateral offset of alternate grid slots
	ContactDistance float64 // centre distance below which two cars touch
	Acceleration    float64 // m/s²
	Braking         float64 // m/s²
	LaneWander      float64 // m/s of random lateral drift at aggression 1
	ExcursionRate   float64 // off-track excursions per second at aggression 1
	LaneRecovery    float64 // fraction of lane offset recovered per second
}

// DefaultConfig returns the demo field tuning.
func DefaultConfig() Config {
	return Config{
		GridSpacing:     8,
		GridLane:        3,
		ContactDistance: 4,
		Acceleration:    12,
		Braking:         30,
		LaneWander:      1.5,
		ExcursionRate:   0.004,
		LaneRecovery:    0.5,
	}
}

// Car is one demo car. Distance is progress along the racing line from
// the start line; Lane is the lateral offset from it (positive = outside).
type Car struct {
	ID       string
	Profile  Profile
	Distance float64
	Lane     float64
	Speed    float64
}

// Field owns the cars and advances them each tick.
//
// Thread-safety: NOT thread-safe. The driver serialises access.
type Field struct {
	cfg   Config
	track control.TrackConfig
	rng   *rand.Rand
	cars  []*Car
}

// NewField places ids on a staggered grid just ahead of the start line, pole
// first, with profiles drawn from rng.
func NewField(cfg Config, track control.TrackConfig, rng *rand.Rand, ids []string) *Field {
	if rng == nil {
		panic("motion.NewField: rng must not be nil")
	}
	f := &Field{cfg: cfg, track: track, rng: rng}
	n := len(ids)
	for i, id := range ids {
		lane := cfg.GridLane
		if i%2 == 1 {
			lane = -lane
		}
		f.cars = append(f.cars, &Car{
			ID:       id,
			Profile:  RandomProfile(rng),
			Distance: float64(n-i) * cfg.GridSpacing,
			Lane:     lane,
		})
	}
	return f
}

// Cars returns a copy of every car, in grid order.
func (f *Field) Cars() []Car {
	out := make([]Car, len(f.cars))
	for i, c := range f.cars {
		out[i] = *c
	}
	return out
}

// IDs returns the car ids in grid order.
func (f *Field) IDs() []string {
	out := make([]string, len(f.cars))
	for i, c := range f.cars {
		out[i] = c.ID
	}
	return out
}

// Step advances every car by dt seconds under the directives from src and
// returns the frame to feed the engine. A car src does not know races
// unrestricted.
func (f *Field) Step(dt float64, src DirectiveSource) control.Frame {
	frame := control.Frame{Elapsed: dt}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
		frame.Elapsed = 0
	}
	positions := make([]control.Vec2, len(f.cars))
	for i, c := range f.cars {
		d, err := src.Directive(c.ID)
		if err != nil {
			d = control.Directive{Multiplier: 1}
		}
		f.drive(c, d, dt)
		positions[i] = f.track.PointAt(c.Distance/f.track.Radius, f.track.Radius+c.Lane)
		frame.Competitors = append(frame.Competitors, control.CompetitorSample{
			ID:       c.ID,
			Position: positions[i],
			Speed:    c.Speed,
		})
		if f.track.OffTrack(positions[i]) {
			frame.OffTrack = append(frame.OffTrack, c.ID)
		}
	}
	frame.Collisions = f.contacts(positions)
	return frame
}

func (f *Field) drive(c *Car, d control.Directive, dt float64) {
	target := c.Profile.BaseSpeed * d.Multiplier
	if d.SpeedLimit > 0 {
		target = math.Min(target, d.SpeedLimit)
	}
	if d.Frozen {
		c.Speed = 0
		return
	}
	if c.Speed < target {
		c.Speed = math.Min(target, c.Speed+f.cfg.Acceleration*dt)
	} else {
		c.Speed = math.Max(target, c.Speed-f.cfg.Braking*dt)
	}
	c.Distance += c.Speed * dt

	if d.ForcedPit {
		c.Lane *= math.Max(0, 1-dt)
		return
	}
	agg := c.Profile.Aggression
	c.Lane += (f.rng.Float64() - 0.5) * 2 * f.cfg.LaneWander * agg * dt
	c.Lane *= math.Max(0, 1-f.cfg.LaneRecovery*dt)
	if f.rng.Float64() < f.cfg.ExcursionRate*agg*dt {
		side := 1.0
		if f.rng.Intn(2) == 0 {
			side = -1
		}
		centre := f.track.InnerRadius + f.track.Width/2 - f.track.Radius
		c.Lane = centre + side*(f.track.Width/2+2)
	}
}

// contacts reports every pair of cars closer than the contact distance,
// ordered by the first car's grid slot.
func (f *Field) contacts(positions []control.Vec2) []control.Contact {
	var out []control.Contact
	for i := range f.cars {
		for j := i + 1; j < len(f.cars); j++ {
			if positions[i].Distance(positions[j]) < f.cfg.ContactDistance {
				out = append(out, control.Contact{A: f.cars[i].ID, B: f.cars[j].ID})
			}
		}
	}
	return out
}
