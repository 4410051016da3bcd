package control

import (
	"fmt"
	"math"
)

// Directive is the per-tick instruction handed to the motion collaborator.
type Directive struct {
	Multiplier float64 `json:"multiplier"`  // effective speed factor in [0,1]
	Frozen     bool    `json:"frozen"`      // competitor must not move
	ForcedPit  bool    `json:"forced_pit"`  // competitor must be in the pit lane
	SpeedLimit float64 `json:"speed_limit"` // absolute cap in m/s, 0 when none
	Reason     string  `json:"reason"`
}

const neutralReason = "racing"

// Directive compiles the competitor's current directive from the session
// state and its penalties. It is never cached.
func (e *Engine) Directive(id string) (Directive, error) {
	st, ok := e.competitors[id]
	if !ok {
		return Directive{}, fmt.Errorf("%w: %q", ErrUnknownCompetitor, id)
	}
	return e.compileDirective(st), nil
}

// compileDirective combines the global multiplier with the minimum of the
// competitor's own effects. The reason names the most restrictive cause.
func (e *Engine) compileDirective(st *competitorState) Directive {
	cfg := e.cfg.Penalty
	own := 1.0
	ownReason := ""
	frozen := false
	forcedPit := false

	limit := func(f float64, reason string) {
		if f < own {
			own = f
			ownReason = reason
		}
	}

	if p := st.penalties.active; p != nil {
		switch t := p.Terms.(type) {
		case DriveThroughTerms:
			forcedPit = true
			limit(cfg.PitLaneFactor, "drive-through penalty")
		case StopGoTerms:
			forcedPit = true
			if t.TransitRemaining > 0 {
				limit(cfg.PitLaneFactor, "stop-go penalty: pit transit")
			} else {
				limit(cfg.HoldFactor, "stop-go penalty: hold")
			}
		}
	}
	for _, p := range st.penalties.inForce() {
		switch t := p.Terms.(type) {
		case FreezeTerms:
			frozen = true
			ownReason = "frozen by race control"
		case DisqualificationTerms:
			frozen = true
			ownReason = "disqualified"
		case SpeedLimitTerms:
			limit(t.Factor, "speed-limit penalty")
		case TyreDegradationTerms:
			limit(t.PerformanceFactor, "tyre degradation penalty")
		}
	}

	d := Directive{SpeedLimit: e.globalSpeedLimit()}
	phase := e.session.Phase
	switch {
	case phase.Frozen():
		d.Frozen = true
		d.Reason = "session " + string(phase)
	case frozen:
		d.Frozen = true
		d.Reason = ownReason
	}
	if d.Frozen {
		d.ForcedPit = forcedPit && !phase.Frozen()
		return d
	}

	global := e.GlobalSpeedMultiplier()
	d.Multiplier = clamp(global*own, 0, 1)
	d.ForcedPit = forcedPit
	switch {
	case ownReason != "" && own <= global:
		d.Reason = ownReason
	case e.session.SafetyCar == SafetyCarPhysical:
		d.Reason = "safety car"
	case e.session.SafetyCar == SafetyCarVirtual:
		d.Reason = "virtual safety car"
	case global < 1:
		d.Reason = string(e.session.Flag) + " flag"
	case ownReason != "":
		d.Reason = ownReason
	default:
		d.Reason = neutralReason
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
