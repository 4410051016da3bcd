package driver

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/internal/motion"
)

func newDriver(t *testing.T, laps int) (*Driver, *control.Engine) {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.Incident.Probability = 0
	cfg.Session.TotalLaps = laps
	e, err := control.NewEngine(cfg)
	require.NoError(t, err)
	mcfg := motion.DefaultConfig()
	mcfg.ExcursionRate = 0
	f := motion.NewField(mcfg, cfg.Track, rand.New(rand.NewSource(5)), []string{"A", "B", "C"})
	d, err := New(e, f, 0.5)
	require.NoError(t, err)
	return d, e
}

func TestNew_RejectsBadTickLength(t *testing.T) {
	cfg := control.DefaultConfig()
	e, err := control.NewEngine(cfg)
	require.NoError(t, err)
	f := motion.NewField(motion.DefaultConfig(), cfg.Track, rand.New(rand.NewSource(1)), nil)

	_, err = New(e, f, 0)

	assert.Error(t, err)
	assert.Panics(t, func() { _, _ = New(nil, f, 1) })
}

func TestRunFor_StepsAndRunsHooks(t *testing.T) {
	d, e := newDriver(t, 0)
	require.NoError(t, d.Do(func(e *control.Engine) error {
		return e.HandleSessionCommand(control.CommandStart)
	}))
	hooks := 0
	d.AfterTick(func() { hooks++ })

	n := d.RunFor(10)

	assert.Equal(t, 20, n)
	assert.Equal(t, 20, hooks)
	assert.Equal(t, int64(20), d.Ticks())
	assert.InDelta(t, 10, e.Session().Elapsed, 1e-9)
	assert.Len(t, e.Standings(), 3)
}

func TestRunFor_StopsWhenSessionEnds(t *testing.T) {
	// GIVEN a one-lap race
	d, e := newDriver(t, 1)
	require.NoError(t, d.Do(func(e *control.Engine) error {
		return e.HandleSessionCommand(control.CommandStart)
	}))

	// WHEN far more time than a lap is offered
	n := d.RunFor(3600)

	// THEN the loop stops at the chequered flag
	assert.Less(t, n, 7200)
	assert.Equal(t, control.PhaseFinished, e.Session().Phase)
}

func TestRun_CancelledByContext(t *testing.T) {
	d, _ := newDriver(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.Run(ctx, 100)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, d.Ticks(), int64(0))
}

func TestRun_RejectsBadSpeed(t *testing.T) {
	d, _ := newDriver(t, 0)

	assert.Error(t, d.Run(context.Background(), 0))
}

func TestDo_SerialisedWithTicks(t *testing.T) {
	// GIVEN a loop ticking in the background
	d, _ := newDriver(t, 0)
	require.NoError(t, d.Do(func(e *control.Engine) error {
		return e.HandleSessionCommand(control.CommandStart)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Run(ctx, 200)
	}()

	// WHEN commands are issued concurrently
	for i := 0; i < 20; i++ {
		err := d.Do(func(e *control.Engine) error {
			_, err := e.IssuePenalty(control.PenaltyRequest{CompetitorID: "A", Kind: "warning"})
			return err
		})
		assert.NoError(t, err)
	}
	cancel()
	wg.Wait()

	// THEN every command was applied
	var warnings int
	require.NoError(t, d.Do(func(e *control.Engine) error {
		tel, err := e.Telemetry("A")
		warnings = tel.Warnings
		return err
	}))
	assert.Equal(t, 20, warnings)
}
