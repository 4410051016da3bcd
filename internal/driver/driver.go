// Package driver runs the tick loop. It owns the engine and the demo field
// behind one mutex so that manual commands from the CLI or the dashboard
// land between ticks, never inside one.
package driver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/internal/motion"
)

// Driver steps an engine with frames produced by a motion field.
type Driver struct {
	mu     sync.Mutex
	engine *control.Engine
	field  *motion.Field
	dt     float64
	ticks  int64

	after []func()
}

// New creates a Driver advancing dt simulated seconds per tick and registers
// every car in field with the engine.
func New(engine *control.Engine, field *motion.Field, dt float64) (*Driver, error) {
	if engine == nil || field == nil {
		panic("driver.New: engine and field must not be nil")
	}
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("driver: tick length must be a finite positive number, got %v", dt)
	}
	for _, id := range field.IDs() {
		if err := engine.RegisterCompetitor(id); err != nil {
			return nil, fmt.Errorf("driver: %w", err)
		}
	}
	return &Driver{engine: engine, field: field, dt: dt}, nil
}

// AfterTick registers fn to run after every tick, outside the lock.
// Register hooks before starting the loop.
func (d *Driver) AfterTick(fn func()) {
	d.after = append(d.after, fn)
}

// Step runs one tick.
func (d *Driver) Step() {
	d.mu.Lock()
	frame := d.field.Step(d.dt, d.engine)
	d.engine.Tick(frame)
	d.ticks++
	d.mu.Unlock()
	for _, fn := range d.after {
		fn()
	}
}

// Do runs fn with exclusive access to the engine.
func (d *Driver) Do(fn func(e *control.Engine) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.engine)
}

// Ticks returns the number of ticks run so far.
func (d *Driver) Ticks() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

func (d *Driver) finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine.Session().Phase.Terminal()
}

// RunFor steps as fast as possible until simSeconds of tick time have been
// fed or the session ends, and returns the number of ticks run.
func (d *Driver) RunFor(simSeconds float64) int {
	n := 0
	for fed := 0.0; fed+d.dt/2 < simSeconds; fed += d.dt {
		if d.finished() {
			break
		}
		d.Step()
		n++
	}
	logrus.Debugf("driver: ran %d ticks headless", n)
	return n
}

// Run steps on a wall-clock ticker, speed simulated seconds per real second,
// until ctx is cancelled or the session ends.
func (d *Driver) Run(ctx context.Context, speed float64) error {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("driver: speed must be a finite positive number, got %v", speed)
	}
	period := time.Duration(d.dt / speed * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	logrus.Infof("driver: ticking every %v (dt=%.3fs, speed=%.2fx)", period, d.dt, speed)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if d.finished() {
				return nil
			}
			d.Step()
		}
	}
}
