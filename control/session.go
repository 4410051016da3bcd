package control

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control/trace"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhasePaused   Phase = "paused"
	PhaseRedFlag  Phase = "red-flag"
	PhaseAborted  Phase = "aborted"
	PhaseFinished Phase = "finished"
)

// Terminal reports whether the phase accepts no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseAborted || p == PhaseFinished
}

// Frozen reports whether every competitor must hold still in this phase.
func (p Phase) Frozen() bool {
	return p == PhasePaused || p == PhaseRedFlag || p.Terminal()
}

// Flag is the regulatory colour signal.
type Flag string

const (
	FlagGreen        Flag = "green"
	FlagYellow       Flag = "yellow"
	FlagDoubleYellow Flag = "double-yellow"
	FlagRed          Flag = "red"
	FlagBlue         Flag = "blue"
	FlagSafetyCar    Flag = "safety-car"
	FlagCheckered    Flag = "checkered"
)

var validFlags = map[Flag]bool{
	FlagGreen:        true,
	FlagYellow:       true,
	FlagDoubleYellow: true,
	FlagRed:          true,
	FlagBlue:         true,
	FlagSafetyCar:    true,
	FlagCheckered:    true,
}

// IsValidFlag returns true if the given string names a flag.
func IsValidFlag(s string) bool {
	return validFlags[Flag(s)]
}

// SafetyCarMode is the global speed-capping regime.
type SafetyCarMode string

const (
	SafetyCarNone     SafetyCarMode = "none"
	SafetyCarPhysical SafetyCarMode = "physical"
	SafetyCarVirtual  SafetyCarMode = "virtual"
)

var validSafetyCarModes = map[SafetyCarMode]bool{
	SafetyCarNone:     true,
	SafetyCarPhysical: true,
	SafetyCarVirtual:  true,
}

// IsValidSafetyCarMode returns true if the given string names a safety-car mode.
func IsValidSafetyCarMode(s string) bool {
	return validSafetyCarModes[SafetyCarMode(s)]
}

// Command is a session-control instruction.
type Command string

const (
	CommandStart   Command = "start"
	CommandPause   Command = "pause"
	CommandResume  Command = "resume"
	CommandRedFlag Command = "red-flag"
	CommandRestart Command = "restart"
	CommandFinish  Command = "finish"
	CommandAbort   Command = "abort"
)

// sessionTransitions is the single authoritative phase table.
// A (phase, command) pair absent from the table is illegal.
var sessionTransitions = map[Phase]map[Command]Phase{
	PhaseIdle: {
		CommandStart: PhaseRunning,
	},
	PhaseRunning: {
		CommandPause:   PhasePaused,
		CommandRedFlag: PhaseRedFlag,
		CommandFinish:  PhaseFinished,
		CommandAbort:   PhaseAborted,
	},
	PhasePaused: {
		CommandResume:  PhaseRunning,
		CommandRedFlag: PhaseRedFlag,
		CommandAbort:   PhaseAborted,
	},
	PhaseRedFlag: {
		CommandRedFlag: PhaseRedFlag,
		CommandRestart: PhaseRunning,
		CommandFinish:  PhaseFinished,
		CommandAbort:   PhaseAborted,
	},
}

var validCommands = map[Command]bool{
	CommandStart:   true,
	CommandPause:   true,
	CommandResume:  true,
	CommandRedFlag: true,
	CommandRestart: true,
	CommandFinish:  true,
	CommandAbort:   true,
}

// IsValidCommand returns true if the given string names a session command.
func IsValidCommand(s string) bool {
	return validCommands[Command(s)]
}

// nextPhase resolves cmd from phase through the transition table.
func nextPhase(phase Phase, cmd Command) (Phase, error) {
	if !validCommands[cmd] {
		return phase, fmt.Errorf("%w: unknown session command %q", ErrInvalidStateTransition, cmd)
	}
	next, ok := sessionTransitions[phase][cmd]
	if !ok {
		return phase, fmt.Errorf("%w: cannot %s from phase %s", ErrInvalidStateTransition, cmd, phase)
	}
	return next, nil
}

// AdminAction toggles one of the administrative switches race control keeps.
type AdminAction string

const (
	AdminStartReleases AdminAction = "start-releases"
	AdminTechReview    AdminAction = "tech-review"
	AdminParcFerme     AdminAction = "parc-ferme"
)

// AdminState is the set of administrative switches.
type AdminState struct {
	StartReleasesOpen bool `json:"start_releases_open"`
	TechReviewActive  bool `json:"tech_review_active"`
	ParcFermeLocked   bool `json:"parc_ferme_locked"`
}

// Session is the regulatory state of the one session an engine governs.
// Values returned by Engine.Session are copies.
type Session struct {
	ID         string        `json:"id"`
	Phase      Phase         `json:"phase"`
	Flag       Flag          `json:"flag"`
	SafetyCar  SafetyCarMode `json:"safety_car"`
	CurrentLap int           `json:"current_lap"`
	TotalLaps  int           `json:"total_laps"`
	Elapsed    float64       `json:"elapsed"`     // session seconds spent running
	LapElapsed float64       `json:"lap_elapsed"` // leader's time into the current lap
	Weather    string        `json:"weather"`
	// FlagHold is the time left before a raised yellow may return to green.
	FlagHold float64 `json:"flag_hold"`
	// AutoSafetyCar is the time left before an automatically deployed safety
	// car withdraws; 0 when none is pending.
	AutoSafetyCar float64    `json:"auto_safety_car"`
	Admin         AdminState `json:"admin"`
}

// HandleSessionCommand applies a session-control command through the
// transition table. resume/restart/start force green; red-flag forces red and
// withdraws any safety car; finish shows the chequered flag.
func (e *Engine) HandleSessionCommand(cmd Command) error {
	defer e.flush()

	next, err := nextPhase(e.session.Phase, cmd)
	if err != nil {
		logrus.Warnf("rejected session command %q: %v", cmd, err)
		return err
	}
	e.applyCommand(cmd, next, false)
	return nil
}

// applyCommand performs a validated transition and its flag/safety-car side effects.
func (e *Engine) applyCommand(cmd Command, next Phase, automatic bool) {
	prev := e.session.Phase
	if prev == next && cmd == CommandRedFlag {
		return
	}
	e.session.Phase = next

	switch cmd {
	case CommandStart, CommandResume, CommandRestart:
		e.cancelRegulatoryTimers()
		e.setSafetyCar(SafetyCarNone, automatic, "session "+string(cmd))
		e.setFlagValue(FlagGreen, "session "+string(cmd))
	case CommandRedFlag, CommandAbort:
		e.cancelRegulatoryTimers()
		e.setSafetyCar(SafetyCarNone, automatic, "session "+string(cmd))
		e.setFlagValue(FlagRed, "session "+string(cmd))
	case CommandFinish:
		e.cancelRegulatoryTimers()
		e.setSafetyCar(SafetyCarNone, automatic, "session finished")
		e.setFlagValue(FlagCheckered, "session finished")
	}

	logrus.Infof("[%8.2fs] session %s -> %s (%s)", e.session.Elapsed, prev, next, cmd)
	e.emit(SessionChangeEvent{Session: e.Session(), Command: cmd, Previous: prev})
	e.recordDecision(trace.ActionSession, "", fmt.Sprintf("Session %s: %s", cmd, next), automatic)
}

// SetFlag changes the global flag. Setting red enters the red-flag phase from
// any non-terminal phase; chequered finishes the session; blue is a
// per-competitor signal (see ShowBlueFlag). Green is silently ignored while a
// flag-hold countdown is pending.
func (e *Engine) SetFlag(flag Flag) error {
	defer e.flush()

	if !validFlags[flag] {
		return fmt.Errorf("%w: unknown flag %q", ErrInvalidStateTransition, flag)
	}
	phase := e.session.Phase
	if phase.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidStateTransition, phase)
	}
	if flag == e.session.Flag {
		return nil
	}

	switch flag {
	case FlagBlue:
		return fmt.Errorf("%w: blue is shown per competitor, not globally", ErrInvalidStateTransition)
	case FlagRed:
		if phase == PhaseRedFlag {
			return nil
		}
		e.applyCommand(CommandRedFlag, PhaseRedFlag, false)
		return nil
	case FlagCheckered:
		next, err := nextPhase(phase, CommandFinish)
		if err != nil {
			return err
		}
		e.applyCommand(CommandFinish, next, false)
		return nil
	case FlagSafetyCar:
		return e.DeploySafetyCar(SafetyCarPhysical)
	}

	if phase == PhaseRedFlag {
		return fmt.Errorf("%w: restart the session before changing from red", ErrInvalidStateTransition)
	}

	switch flag {
	case FlagGreen:
		if e.holdRemaining > 0 {
			logrus.Debugf("green ignored: flag hold pending for %.1fs", e.holdRemaining)
			return nil
		}
		e.autoSafetyCar = nil
		e.setSafetyCar(SafetyCarNone, false, "green flag")
	case FlagYellow, FlagDoubleYellow:
		if e.session.SafetyCar != SafetyCarNone {
			return fmt.Errorf("%w: safety car is %s, release it first", ErrInvalidStateTransition, e.session.SafetyCar)
		}
	}

	e.setFlagValue(flag, "race control")
	e.recordDecision(trace.ActionFlag, "", fmt.Sprintf("%s flag", titleCase(string(flag))), false)
	return nil
}

// DeploySafetyCar switches the safety-car regime. Physical shows the
// safety-car flag, virtual shows double yellow, none releases (see
// ReleaseSafetyCar). Only legal while running or paused.
func (e *Engine) DeploySafetyCar(mode SafetyCarMode) error {
	defer e.flush()

	if !validSafetyCarModes[mode] {
		return fmt.Errorf("%w: unknown safety car mode %q", ErrInvalidStateTransition, mode)
	}
	phase := e.session.Phase
	if phase != PhaseRunning && phase != PhasePaused {
		return fmt.Errorf("%w: safety car cannot change while %s", ErrInvalidStateTransition, phase)
	}
	if mode == e.session.SafetyCar {
		return nil
	}
	e.autoSafetyCar = nil
	e.switchSafetyCar(mode, false, "race control")
	return nil
}

// ReleaseSafetyCar withdraws any safety car. Equivalent to DeploySafetyCar(SafetyCarNone).
func (e *Engine) ReleaseSafetyCar() error {
	return e.DeploySafetyCar(SafetyCarNone)
}

// switchSafetyCar sets the regime and the flag that goes with it.
func (e *Engine) switchSafetyCar(mode SafetyCarMode, automatic bool, reason string) {
	e.setSafetyCar(mode, automatic, reason)
	switch mode {
	case SafetyCarPhysical:
		e.setFlagValue(FlagSafetyCar, reason)
	case SafetyCarVirtual:
		e.setFlagValue(FlagDoubleYellow, reason)
	default:
		if e.session.Phase == PhaseRunning && e.holdRemaining <= 0 {
			e.setFlagValue(FlagGreen, reason)
		} else {
			e.setFlagValue(FlagYellow, reason)
		}
	}

	msg := map[SafetyCarMode]string{
		SafetyCarPhysical: "Safety car deployed",
		SafetyCarVirtual:  "Virtual safety car deployed",
		SafetyCarNone:     "Safety car in this lap",
	}[mode]
	e.recordDecision(trace.ActionSafetyCar, "", msg, automatic)
}

// setSafetyCar records the mode and emits a change event when it differs.
func (e *Engine) setSafetyCar(mode SafetyCarMode, automatic bool, reason string) {
	prev := e.session.SafetyCar
	if prev == mode {
		return
	}
	e.session.SafetyCar = mode
	logrus.Infof("[%8.2fs] safety car %s -> %s (%s)", e.session.Elapsed, prev, mode, reason)
	e.emit(SafetyCarChangeEvent{
		Mode:      mode,
		Previous:  prev,
		Active:    mode != SafetyCarNone,
		Automatic: automatic,
		Reason:    reason,
	})
}

// setFlagValue records the flag and emits a change event when it differs.
func (e *Engine) setFlagValue(flag Flag, reason string) {
	prev := e.session.Flag
	if prev == flag {
		return
	}
	e.session.Flag = flag
	logrus.Infof("[%8.2fs] flag %s -> %s (%s)", e.session.Elapsed, prev, flag, reason)
	e.emit(FlagChangeEvent{Flag: flag, Previous: prev, Reason: reason})
}

// GlobalSpeedMultiplier resolves the session-wide speed factor from the
// current phase, safety-car regime and flag. Never cached.
func (e *Engine) GlobalSpeedMultiplier() float64 {
	if e.session.Phase.Frozen() {
		return 0
	}
	sc := e.cfg.SafetyCar
	switch e.session.SafetyCar {
	case SafetyCarPhysical:
		return sc.PhysicalMultiplier
	case SafetyCarVirtual:
		return sc.VirtualMultiplier
	}
	switch e.session.Flag {
	case FlagRed:
		return 0
	case FlagYellow, FlagDoubleYellow:
		return sc.YellowMultiplier
	}
	return 1
}

// globalSpeedLimit is the absolute speed cap of the active safety-car regime, 0 if none.
func (e *Engine) globalSpeedLimit() float64 {
	switch e.session.SafetyCar {
	case SafetyCarPhysical:
		return e.cfg.SafetyCar.PhysicalSpeedLimit
	case SafetyCarVirtual:
		return e.cfg.SafetyCar.VirtualSpeedLimit
	}
	return 0
}

// autoSafetyCarState is the engine-owned countdown for a safety car deployed
// in response to a high-severity incident.
type autoSafetyCarState struct {
	remaining  float64
	incidentID string
}

// raiseCaution shows a held yellow and, for high severity, deploys an
// automatic safety car. Only acts while running.
func (e *Engine) raiseCaution(inc Incident) {
	if e.session.Phase != PhaseRunning {
		return
	}
	hold := e.cfg.Incident.YellowHold
	e.holdRemaining = max(e.holdRemaining, hold)

	if inc.Severity == SeverityHigh && e.session.SafetyCar == SafetyCarNone && e.cfg.Incident.AutoSafetyCarDuration > 0 {
		e.autoSafetyCar = &autoSafetyCarState{
			remaining:  e.cfg.Incident.AutoSafetyCarDuration,
			incidentID: inc.ID,
		}
		e.switchSafetyCar(SafetyCarPhysical, true, fmt.Sprintf("%s at %s", inc.Type, inc.Location))
		return
	}
	if e.session.Flag == FlagGreen {
		e.setFlagValue(FlagYellow, fmt.Sprintf("%s at %s", inc.Type, inc.Location))
		e.recordDecision(trace.ActionFlag, inc.CompetitorID, fmt.Sprintf("Yellow flag: %s at %s", inc.Type, inc.Location), true)
	}
}

// advanceRegulatoryTimers counts down the flag hold and the automatic safety
// car in simulation time. Only called while running.
func (e *Engine) advanceRegulatoryTimers(dt float64) {
	if e.autoSafetyCar != nil {
		e.autoSafetyCar.remaining -= dt
		if e.autoSafetyCar.remaining <= epsilon {
			incidentID := e.autoSafetyCar.incidentID
			e.autoSafetyCar = nil
			// Release ahead of the hold check so the flag returns to yellow
			// rather than green while the hold is still running.
			e.switchSafetyCar(SafetyCarNone, true, "automatic withdrawal")
			e.resolveIncident(incidentID, true)
		}
	}
	if e.holdRemaining > 0 {
		e.holdRemaining -= dt
		if e.holdRemaining <= epsilon {
			e.holdRemaining = 0
			if e.session.SafetyCar == SafetyCarNone && (e.session.Flag == FlagYellow || e.session.Flag == FlagDoubleYellow) {
				e.setFlagValue(FlagGreen, "hold expired")
				e.recordDecision(trace.ActionFlag, "", "Track clear, green flag", true)
			}
		}
	}
}

func (e *Engine) cancelRegulatoryTimers() {
	e.holdRemaining = 0
	e.autoSafetyCar = nil
}

// HandleAdminAction toggles an administrative switch and logs the decision.
func (e *Engine) HandleAdminAction(action AdminAction) error {
	defer e.flush()

	var msg string
	admin := &e.session.Admin
	switch action {
	case AdminStartReleases:
		admin.StartReleasesOpen = !admin.StartReleasesOpen
		msg = map[bool]string{true: "Pit start releases opened", false: "Pit start releases closed"}[admin.StartReleasesOpen]
	case AdminTechReview:
		admin.TechReviewActive = !admin.TechReviewActive
		msg = map[bool]string{true: "Technical infraction under review", false: "Technical infraction cleared"}[admin.TechReviewActive]
	case AdminParcFerme:
		admin.ParcFermeLocked = !admin.ParcFermeLocked
		msg = map[bool]string{true: "Parc ferme secured", false: "Parc ferme released"}[admin.ParcFermeLocked]
	default:
		return fmt.Errorf("%w: unknown admin action %q", ErrInvalidStateTransition, action)
	}
	e.recordDecision(trace.ActionAdmin, "", msg, false)
	return nil
}
