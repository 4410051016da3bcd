package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racecontrol/racecontrol/control/bus"
)

var parked = map[string]float64{"A": 100, "B": 50}

func TestParsePenaltyKind_Aliases(t *testing.T) {
	tests := []struct {
		in      string
		kind    PenaltyKind
		seconds float64
	}{
		{"5s", PenaltyTime, 5},
		{"10s", PenaltyTime, 10},
		{"time-penalty", PenaltyTime, 0},
		{"Drive-Through", PenaltyDriveThrough, 0},
		{"stop&go", PenaltyStopGo, 0},
		{" freeze ", PenaltyFreeze, 0},
		{"dq", PenaltyDisqualification, 0},
	}
	for _, tc := range tests {
		kind, seconds, err := ParsePenaltyKind(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, kind, tc.in)
		assert.Equal(t, tc.seconds, seconds, tc.in)
	}

	_, _, err := ParsePenaltyKind("flogging")
	assert.ErrorIs(t, err, ErrInvalidPenaltyKind)
}

func TestIssuePenalty_UnknownCompetitor(t *testing.T) {
	e := startedEngine(t, quietConfig(), "A")

	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "ghost", Kind: "5s"})

	assert.ErrorIs(t, err, ErrUnknownCompetitor)
}

func TestIssuePenalty_UnknownKind_NoStateChange(t *testing.T) {
	e := startedEngine(t, quietConfig(), "A")
	rec := record(e)

	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "community-service"})

	assert.ErrorIs(t, err, ErrInvalidPenaltyKind)
	ps, _ := e.Penalties("A")
	assert.Empty(t, ps)
	assert.Empty(t, rec.events)
}

func TestDriveThrough_ServedOnceThenDirectiveNeutral(t *testing.T) {
	// GIVEN a drive-through issued to A
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A", "B")
	served := 0
	bus.Subscribe(e.Bus(), func(ev PenaltyServedEvent) { served++ })
	p, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "drive-through", Reason: "Unsafe release"})
	require.NoError(t, err)
	assert.Equal(t, PenaltyQueued, p.Status)

	// WHEN one tick passes
	stationary(e, 1, 1, parked)

	// THEN A is in the pit lane at the pit-lane factor
	d, err := e.Directive("A")
	require.NoError(t, err)
	assert.True(t, d.ForcedPit)
	assert.Equal(t, cfg.Penalty.PitLaneFactor, d.Multiplier)
	other, _ := e.Directive("B")
	assert.Equal(t, 1.0, other.Multiplier)

	// WHEN time passes beyond the configured duration
	stationary(e, int(cfg.Penalty.DriveThroughDuration)+3, 1, parked)

	// THEN exactly one served record exists and the directive is neutral
	assert.Equal(t, 1, served)
	ps, err := e.Penalties("A")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, PenaltyServed, ps[0].Status)
	assert.Equal(t, cfg.Penalty.DriveThroughDuration, ps[0].ServedAt)
	d, _ = e.Directive("A")
	assert.Equal(t, Directive{Multiplier: 1, Reason: neutralReason}, d)
}

func TestStopGo_TransitThenHold_ServedOnce(t *testing.T) {
	// GIVEN a stop-go issued to A
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	var served []PenaltyServedEvent
	bus.Subscribe(e.Bus(), func(ev PenaltyServedEvent) { served = append(served, ev) })
	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "stop-go"})
	require.NoError(t, err)

	// WHEN the transit phase is under way
	stationary(e, int(cfg.Penalty.StopGoTransit)-1, 1, parked)
	d, _ := e.Directive("A")
	assert.Equal(t, cfg.Penalty.PitLaneFactor, d.Multiplier)

	// THEN after transit the stricter hold factor applies
	stationary(e, 2, 1, parked)
	d, _ = e.Directive("A")
	assert.Equal(t, cfg.Penalty.HoldFactor, d.Multiplier)
	assert.True(t, d.ForcedPit)
	assert.Empty(t, served)

	// WHEN time passes beyond transit plus hold
	stationary(e, int(cfg.Penalty.StopGoHold)+2, 1, parked)

	// THEN exactly one served event for A and a neutral directive
	require.Len(t, served, 1)
	assert.Equal(t, "A", served[0].Penalty.CompetitorID)
	assert.Equal(t, PenaltyStopGo, served[0].Penalty.Kind())
	d, _ = e.Directive("A")
	assert.Equal(t, 1.0, d.Multiplier)
	assert.False(t, d.ForcedPit)
}

func TestDriveThrough_ReissueRefreshesInsteadOfQueueing(t *testing.T) {
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	first, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "drive-through"})
	require.NoError(t, err)
	stationary(e, 5, 1, parked)

	again, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "drive-through"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, PenaltyServing, again.Status)
	assert.Equal(t, DriveThroughTerms{Remaining: cfg.Penalty.DriveThroughDuration}, again.Terms)
	ps, _ := e.Penalties("A")
	assert.Len(t, ps, 1)

	// the refreshed penalty needs its full duration again
	stationary(e, int(cfg.Penalty.DriveThroughDuration)-1, 1, parked)
	ps, _ = e.Penalties("A")
	assert.Equal(t, PenaltyServing, ps[0].Status)
	stationary(e, 1, 1, parked)
	ps, _ = e.Penalties("A")
	assert.Equal(t, PenaltyServed, ps[0].Status)
}

func TestQueuedPenalties_ServeInArrivalOrder(t *testing.T) {
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	var order []string
	bus.Subscribe(e.Bus(), func(ev PenaltyServedEvent) { order = append(order, string(ev.Penalty.Kind())) })

	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "drive-through"})
	require.NoError(t, err)
	_, err = e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "10s"})
	require.NoError(t, err)
	_, err = e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "5s"})
	require.NoError(t, err)

	stationary(e, 1, 1, parked)
	serving := 0
	ps, _ := e.Penalties("A")
	for _, p := range ps {
		if p.Status == PenaltyServing {
			serving++
		}
	}
	assert.Equal(t, 1, serving, "at most one penalty serves at a time")
	tel, _ := e.Telemetry("A")
	assert.Equal(t, 2, tel.QueuedPenalties)

	stationary(e, int(cfg.Penalty.DriveThroughDuration)+2, 1, parked)

	assert.Equal(t, []string{"drive-through", "time", "time"}, order)
	tel, _ = e.Telemetry("A")
	assert.Equal(t, 15.0, tel.TimePenalty)
	assert.Equal(t, 0, tel.QueuedPenalties)
}

func TestPenalties_DoNotAdvanceWhilePaused(t *testing.T) {
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "drive-through"})
	require.NoError(t, err)
	stationary(e, 2, 1, parked)
	require.NoError(t, e.HandleSessionCommand(CommandPause))

	stationary(e, 100, 1, parked)

	ps, _ := e.Penalties("A")
	assert.Equal(t, PenaltyServing, ps[0].Status)
	assert.Equal(t, DriveThroughTerms{Remaining: cfg.Penalty.DriveThroughDuration - 2}, ps[0].Terms)
	d, _ := e.Directive("A")
	assert.True(t, d.Frozen)
	assert.Equal(t, 0.0, d.Multiplier)
}

func TestStandingPenalties_AffectDirectiveUntilCleared(t *testing.T) {
	// GIVEN speed-limit and tyre-degradation penalties on A
	e := startedEngine(t, quietConfig(), "A")
	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "speed-limit", Factor: 0.5})
	require.NoError(t, err)
	_, err = e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "tyre-degradation"})
	require.NoError(t, err)

	// THEN the most restrictive factor wins
	d, _ := e.Directive("A")
	assert.Equal(t, 0.5, d.Multiplier)
	assert.Equal(t, "speed-limit penalty", d.Reason)

	// WHEN only speed limits are cleared
	n, err := e.ClearPenalties("A", PenaltySpeedLimit)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// THEN the tyre penalty still applies
	d, _ = e.Directive("A")
	assert.Equal(t, 0.9, d.Multiplier)

	// WHEN everything is cleared
	_, err = e.ClearPenalties("A", "")
	require.NoError(t, err)

	// THEN the directive is neutral
	d, _ = e.Directive("A")
	assert.Equal(t, 1.0, d.Multiplier)
	assert.Equal(t, neutralReason, d.Reason)
}

func TestFreezeAndDisqualification_FreezeCompetitor(t *testing.T) {
	e := startedEngine(t, quietConfig(), "A", "B")

	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "freeze"})
	require.NoError(t, err)
	_, err = e.IssuePenalty(PenaltyRequest{CompetitorID: "B", Kind: "disqualification"})
	require.NoError(t, err)

	a, _ := e.Directive("A")
	assert.True(t, a.Frozen)
	assert.Equal(t, 0.0, a.Multiplier)
	b, _ := e.Telemetry("B")
	assert.True(t, b.Disqualified)
	assert.True(t, b.Directive.Frozen)
	assert.Equal(t, "disqualified", b.Directive.Reason)

	_, err = e.ClearPenalties("B", PenaltyDisqualification)
	require.NoError(t, err)
	b, _ = e.Telemetry("B")
	assert.False(t, b.Disqualified)
	assert.False(t, b.Directive.Frozen)
}

func TestClearPenalties_RescindsServedTimeAndDropsQueued(t *testing.T) {
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	var cleared []PenaltyClearedEvent
	bus.Subscribe(e.Bus(), func(ev PenaltyClearedEvent) { cleared = append(cleared, ev) })
	_, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "10s"})
	require.NoError(t, err)
	stationary(e, 1, 1, parked)
	_, err = e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "5s"})
	require.NoError(t, err)

	n, err := e.ClearPenalties("A", PenaltyTime)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	tel, _ := e.Telemetry("A")
	assert.Equal(t, 0.0, tel.TimePenalty)
	stationary(e, 3, 1, parked)
	tel, _ = e.Telemetry("A")
	assert.Equal(t, 0.0, tel.TimePenalty, "cleared queued penalty must not be served")
	require.Len(t, cleared, 1)
	assert.Equal(t, PenaltyTime, cleared[0].PenaltyKind)
	ps, _ := e.Penalties("A")
	for _, p := range ps {
		assert.Equal(t, PenaltyCleared, p.Status)
	}
}

func TestClearPenalties_UnknownKindOrCompetitor(t *testing.T) {
	e := startedEngine(t, quietConfig(), "A")

	_, err := e.ClearPenalties("A", PenaltyKind("nonsense"))
	assert.ErrorIs(t, err, ErrInvalidPenaltyKind)
	_, err = e.ClearPenalties("ghost", "")
	assert.ErrorIs(t, err, ErrUnknownCompetitor)
}

func TestWarning_CompletesAtIssue(t *testing.T) {
	e := startedEngine(t, quietConfig(), "A")

	p, err := e.IssuePenalty(PenaltyRequest{CompetitorID: "A", Kind: "warning", Reason: "Weaving"})

	require.NoError(t, err)
	assert.Equal(t, PenaltyServed, p.Status)
	tel, _ := e.Telemetry("A")
	assert.Equal(t, 1, tel.Warnings)
	d, _ := e.Directive("A")
	assert.Equal(t, 1.0, d.Multiplier)
}

func TestPenaltyQueue_RemovePreservesOrder(t *testing.T) {
	pq := &penaltyQueue{}
	a := &Penalty{ID: "a", Terms: TimeTerms{Seconds: 5}}
	b := &Penalty{ID: "b", Terms: DriveThroughTerms{}}
	c := &Penalty{ID: "c", Terms: TimeTerms{Seconds: 10}}
	pq.Enqueue(a)
	pq.Enqueue(b)
	pq.Enqueue(c)

	removed := pq.Remove(func(p *Penalty) bool { return p.Kind() == PenaltyDriveThrough })

	assert.Equal(t, 1, removed)
	assert.Equal(t, "[a:time c:time]", pq.String())
	assert.Same(t, a, pq.Dequeue())
	assert.Same(t, c, pq.Peek())
	assert.Equal(t, 1, pq.Len())
}
