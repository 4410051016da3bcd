package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racecontrol/racecontrol/control/bus"
	"github.com/racecontrol/racecontrol/control/trace"
)

func TestNextPhase_TransitionTable(t *testing.T) {
	tests := []struct {
		from Phase
		cmd  Command
		want Phase
		ok   bool
	}{
		{PhaseIdle, CommandStart, PhaseRunning, true},
		{PhaseIdle, CommandPause, PhaseIdle, false},
		{PhaseRunning, CommandPause, PhasePaused, true},
		{PhaseRunning, CommandRedFlag, PhaseRedFlag, true},
		{PhaseRunning, CommandFinish, PhaseFinished, true},
		{PhaseRunning, CommandAbort, PhaseAborted, true},
		{PhaseRunning, CommandResume, PhaseRunning, false},
		{PhasePaused, CommandResume, PhaseRunning, true},
		{PhasePaused, CommandRedFlag, PhaseRedFlag, true},
		{PhasePaused, CommandFinish, PhasePaused, false},
		{PhaseRedFlag, CommandRestart, PhaseRunning, true},
		{PhaseRedFlag, CommandResume, PhaseRedFlag, false},
		{PhaseRedFlag, CommandFinish, PhaseFinished, true},
		{PhaseAborted, CommandRestart, PhaseAborted, false},
		{PhaseFinished, CommandStart, PhaseFinished, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"/"+string(tc.cmd), func(t *testing.T) {
			got, err := nextPhase(tc.from, tc.cmd)
			if tc.ok {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidStateTransition)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHandleSessionCommand_UnknownCommand_Rejected(t *testing.T) {
	e := newTestEngine(t, quietConfig())

	err := e.HandleSessionCommand(Command("warp"))

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, PhaseIdle, e.Session().Phase)
}

func TestSetFlag_Red_ForcesRedFlagPhaseFromAnyState(t *testing.T) {
	setups := map[string]func(e *Engine){
		"idle":    func(e *Engine) {},
		"running": func(e *Engine) { _ = e.HandleSessionCommand(CommandStart) },
		"paused": func(e *Engine) {
			_ = e.HandleSessionCommand(CommandStart)
			_ = e.HandleSessionCommand(CommandPause)
		},
		"safety car": func(e *Engine) {
			_ = e.HandleSessionCommand(CommandStart)
			_ = e.DeploySafetyCar(SafetyCarPhysical)
		},
		"virtual safety car": func(e *Engine) {
			_ = e.HandleSessionCommand(CommandStart)
			_ = e.DeploySafetyCar(SafetyCarVirtual)
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			// GIVEN an engine in the named state
			e := newTestEngine(t, quietConfig())
			setup(e)

			// WHEN red is set twice
			require.NoError(t, e.SetFlag(FlagRed))
			require.NoError(t, e.SetFlag(FlagRed))

			// THEN the session is red-flagged with no safety car
			s := e.Session()
			assert.Equal(t, PhaseRedFlag, s.Phase)
			assert.Equal(t, FlagRed, s.Flag)
			assert.Equal(t, SafetyCarNone, s.SafetyCar)
			assert.Equal(t, 0.0, e.GlobalSpeedMultiplier())
		})
	}
}

func TestSetFlag_UnknownFlag_RejectedWithoutMutation(t *testing.T) {
	e := startedEngine(t, quietConfig())
	before := e.Session()

	err := e.SetFlag(Flag("purple"))

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, before, e.Session())
}

func TestSetFlag_Blue_IsNotAGlobalFlag(t *testing.T) {
	e := startedEngine(t, quietConfig())

	err := e.SetFlag(FlagBlue)

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, FlagGreen, e.Session().Flag)
}

func TestSetFlag_Unchanged_IsNoOp(t *testing.T) {
	e := startedEngine(t, quietConfig())
	rec := record(e)

	require.NoError(t, e.SetFlag(FlagGreen))

	assert.Empty(t, rec.events)
}

func TestSetFlag_Yellow_ReducesGlobalMultiplier(t *testing.T) {
	e := startedEngine(t, quietConfig())

	require.NoError(t, e.SetFlag(FlagDoubleYellow))

	assert.Equal(t, 0.85, e.GlobalSpeedMultiplier())
}

func TestSetFlag_YellowWhileSafetyCarOut_Rejected(t *testing.T) {
	e := startedEngine(t, quietConfig())
	require.NoError(t, e.DeploySafetyCar(SafetyCarPhysical))

	err := e.SetFlag(FlagYellow)

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, FlagSafetyCar, e.Session().Flag)
}

func TestSetFlag_Checkered_FinishesSession(t *testing.T) {
	e := startedEngine(t, quietConfig())

	require.NoError(t, e.SetFlag(FlagCheckered))

	s := e.Session()
	assert.Equal(t, PhaseFinished, s.Phase)
	assert.Equal(t, FlagCheckered, s.Flag)
	assert.ErrorIs(t, e.SetFlag(FlagGreen), ErrInvalidStateTransition)
}

func TestSetFlag_GreenDuringRedFlag_Rejected(t *testing.T) {
	e := startedEngine(t, quietConfig())
	require.NoError(t, e.SetFlag(FlagRed))

	err := e.SetFlag(FlagGreen)

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, PhaseRedFlag, e.Session().Phase)
}

func TestSetFlag_GreenWhileHoldPending_IgnoredUntilExpiry(t *testing.T) {
	// GIVEN a medium incident raised a held yellow
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	_, err := e.ReportIncident(IncidentReport{Type: IncidentSpin, Severity: SeverityMedium, CompetitorID: "A"})
	require.NoError(t, err)
	require.Equal(t, FlagYellow, e.Session().Flag)
	require.Equal(t, cfg.Incident.YellowHold, e.Session().FlagHold)

	// WHEN green is requested before the hold expires
	require.NoError(t, e.SetFlag(FlagGreen))

	// THEN the yellow stays out
	assert.Equal(t, FlagYellow, e.Session().Flag)

	// WHEN the hold runs out in simulation time
	stationary(e, int(cfg.Incident.YellowHold), 1, map[string]float64{"A": 10})

	// THEN the track goes green by itself
	assert.Equal(t, FlagGreen, e.Session().Flag)
	assert.Equal(t, 0.0, e.Session().FlagHold)
}

func TestDeploySafetyCar_ThenRelease_RestoresGreen(t *testing.T) {
	// GIVEN a running session
	e := startedEngine(t, quietConfig())

	// WHEN the safety car is deployed
	require.NoError(t, e.DeploySafetyCar(SafetyCarPhysical))

	// THEN the flag and multiplier reflect the physical safety car
	assert.Equal(t, FlagSafetyCar, e.Session().Flag)
	assert.Equal(t, 0.6, e.GlobalSpeedMultiplier())

	// WHEN it is released
	require.NoError(t, e.ReleaseSafetyCar())

	// THEN racing resumes under green at full speed
	assert.Equal(t, FlagGreen, e.Session().Flag)
	assert.Equal(t, SafetyCarNone, e.Session().SafetyCar)
	assert.Equal(t, 1.0, e.GlobalSpeedMultiplier())
}

func TestDeploySafetyCar_Virtual_ShowsDoubleYellow(t *testing.T) {
	e := startedEngine(t, quietConfig())

	require.NoError(t, e.DeploySafetyCar(SafetyCarVirtual))

	assert.Equal(t, FlagDoubleYellow, e.Session().Flag)
	assert.Equal(t, 0.7, e.GlobalSpeedMultiplier())
}

func TestDeploySafetyCar_ReleaseWhilePaused_LeavesYellow(t *testing.T) {
	e := startedEngine(t, quietConfig())
	require.NoError(t, e.DeploySafetyCar(SafetyCarPhysical))
	require.NoError(t, e.HandleSessionCommand(CommandPause))

	require.NoError(t, e.ReleaseSafetyCar())

	assert.Equal(t, FlagYellow, e.Session().Flag)
	assert.Equal(t, 0.0, e.GlobalSpeedMultiplier())
}

func TestDeploySafetyCar_OutsideRunningOrPaused_Rejected(t *testing.T) {
	e := newTestEngine(t, quietConfig())

	err := e.DeploySafetyCar(SafetyCarPhysical)

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, SafetyCarNone, e.Session().SafetyCar)
}

func TestDeploySafetyCar_UnknownMode_Rejected(t *testing.T) {
	e := startedEngine(t, quietConfig())

	err := e.DeploySafetyCar(SafetyCarMode("hovercraft"))

	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestRedFlag_ResumeRejected_RestartAccepted(t *testing.T) {
	// GIVEN a running session under red
	e := startedEngine(t, quietConfig())
	require.NoError(t, e.SetFlag(FlagRed))

	// WHEN resume is attempted
	err := e.HandleSessionCommand(CommandResume)

	// THEN it is rejected because the session is red-flagged, not paused
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, PhaseRedFlag, e.Session().Phase)

	// WHEN restart is issued instead
	require.NoError(t, e.HandleSessionCommand(CommandRestart))

	// THEN the session runs again under green
	assert.Equal(t, PhaseRunning, e.Session().Phase)
	assert.Equal(t, FlagGreen, e.Session().Flag)
}

func TestResume_ForcesGreen(t *testing.T) {
	e := startedEngine(t, quietConfig())
	require.NoError(t, e.SetFlag(FlagYellow))
	require.NoError(t, e.HandleSessionCommand(CommandPause))

	require.NoError(t, e.HandleSessionCommand(CommandResume))

	assert.Equal(t, FlagGreen, e.Session().Flag)
	assert.Equal(t, 1.0, e.GlobalSpeedMultiplier())
}

func TestAbort_IsTerminal(t *testing.T) {
	e := startedEngine(t, quietConfig())
	require.NoError(t, e.HandleSessionCommand(CommandAbort))

	for _, cmd := range []Command{CommandStart, CommandResume, CommandRestart, CommandFinish, CommandRedFlag} {
		assert.ErrorIs(t, e.HandleSessionCommand(cmd), ErrInvalidStateTransition, string(cmd))
	}
	assert.ErrorIs(t, e.SetFlag(FlagRed), ErrInvalidStateTransition)
	assert.Equal(t, PhaseAborted, e.Session().Phase)
}

func TestHighSeverityIncident_AutoSafetyCarReleasesAfterDuration(t *testing.T) {
	// GIVEN a running session and a high-severity crash
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	var changes []SafetyCarChangeEvent
	bus.Subscribe(e.Bus(), func(ev SafetyCarChangeEvent) { changes = append(changes, ev) })

	inc, err := e.ReportIncident(IncidentReport{Type: IncidentCrash, Severity: SeverityHigh, CompetitorID: "A"})
	require.NoError(t, err)

	// THEN the safety car comes out automatically
	s := e.Session()
	assert.Equal(t, SafetyCarPhysical, s.SafetyCar)
	assert.Equal(t, FlagSafetyCar, s.Flag)
	assert.Equal(t, cfg.Incident.AutoSafetyCarDuration, s.AutoSafetyCar)

	// WHEN the session is paused the countdown does not advance
	require.NoError(t, e.HandleSessionCommand(CommandPause))
	stationary(e, 100, 1, map[string]float64{"A": 10})
	require.NoError(t, e.HandleSessionCommand(CommandResume))

	// resume forces green and cancels the automatic deployment
	assert.Equal(t, SafetyCarNone, e.Session().SafetyCar)
	assert.Equal(t, 0.0, e.Session().AutoSafetyCar)

	// GIVEN another crash while running
	inc, err = e.ReportIncident(IncidentReport{Type: IncidentCrash, Severity: SeverityHigh, CompetitorID: "A"})
	require.NoError(t, err)

	// WHEN the configured duration elapses
	stationary(e, int(cfg.Incident.AutoSafetyCarDuration), 1, map[string]float64{"A": 10})

	// THEN the safety car withdraws, the hold has expired so green shows,
	// and the triggering incident is resolved
	s = e.Session()
	assert.Equal(t, SafetyCarNone, s.SafetyCar)
	assert.Equal(t, FlagGreen, s.Flag)
	incidents := e.RecentIncidents(0)
	require.Len(t, incidents, 2)
	assert.Equal(t, inc.ID, incidents[1].ID)
	assert.True(t, incidents[1].Resolved)
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.True(t, last.Automatic)
	assert.False(t, last.Active)
}

func TestManualSafetyCar_CancelsAutomaticCountdown(t *testing.T) {
	cfg := quietConfig()
	e := startedEngine(t, cfg, "A")
	_, err := e.ReportIncident(IncidentReport{Type: IncidentCrash, Severity: SeverityHigh, CompetitorID: "A"})
	require.NoError(t, err)

	require.NoError(t, e.DeploySafetyCar(SafetyCarVirtual))
	stationary(e, int(cfg.Incident.AutoSafetyCarDuration)+5, 1, map[string]float64{"A": 10})

	assert.Equal(t, SafetyCarVirtual, e.Session().SafetyCar)
}

func TestHandleAdminAction_TogglesAndLogs(t *testing.T) {
	e := newTestEngine(t, quietConfig())

	require.NoError(t, e.HandleAdminAction(AdminParcFerme))
	require.NoError(t, e.HandleAdminAction(AdminTechReview))
	require.NoError(t, e.HandleAdminAction(AdminParcFerme))

	admin := e.Session().Admin
	assert.False(t, admin.ParcFermeLocked)
	assert.True(t, admin.TechReviewActive)
	decisions := e.RecentDecisions(0)
	require.Len(t, decisions, 3)
	assert.Equal(t, trace.ActionAdmin, decisions[0].Action)
	assert.Equal(t, "Parc ferme secured", decisions[0].Message)
	assert.ErrorIs(t, e.HandleAdminAction(AdminAction("open-bar")), ErrInvalidStateTransition)
}

func TestSessionCommands_EmitSessionChange(t *testing.T) {
	e := newTestEngine(t, quietConfig())
	var got []SessionChangeEvent
	bus.Subscribe(e.Bus(), func(ev SessionChangeEvent) { got = append(got, ev) })

	require.NoError(t, e.HandleSessionCommand(CommandStart))
	require.NoError(t, e.HandleSessionCommand(CommandPause))
	err := e.HandleSessionCommand(CommandRestart)

	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	require.Len(t, got, 2)
	assert.Equal(t, PhaseIdle, got[0].Previous)
	assert.Equal(t, PhaseRunning, got[0].Session.Phase)
	assert.Equal(t, PhasePaused, got[1].Session.Phase)
}
