package control

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/racecontrol/racecontrol/control/trace"
)

// Penalty event stages carried by PenaltyEvent.
const (
	StageIssued    = "issued"
	StageRefreshed = "refreshed"
	StageServing   = "serving"
	StageServed    = "served"
	StageCleared   = "cleared"
)

// penaltyBook is one competitor's penalty state: the FIFO of queued kinds,
// at most one serving queued-kind penalty, and every record ever issued.
type penaltyBook struct {
	queue   penaltyQueue
	active  *Penalty
	records []*Penalty
}

// findOpen returns a queued or serving penalty of the given kind.
func (b *penaltyBook) findOpen(kind PenaltyKind) *Penalty {
	for _, p := range b.records {
		if p.Kind() == kind && p.Status.open() {
			return p
		}
	}
	return nil
}

// inForce returns the standing penalties currently affecting the competitor.
func (b *penaltyBook) inForce() []*Penalty {
	var out []*Penalty
	for _, p := range b.records {
		if !p.Kind().Queued() && p.Status == PenaltyServing {
			out = append(out, p)
		}
	}
	return out
}

// IssuePenalty issues a penalty to a registered competitor. Issuing a
// drive-through or stop-go while one of the same kind is queued or serving
// refreshes that penalty's duration and returns it instead of queueing another.
func (e *Engine) IssuePenalty(req PenaltyRequest) (Penalty, error) {
	defer e.flush()

	st, ok := e.competitors[req.CompetitorID]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownCompetitor, req.CompetitorID)
		logrus.Warnf("rejected penalty: %v", err)
		return Penalty{}, err
	}
	p, err := e.issue(st, req, false)
	if err != nil {
		logrus.Warnf("rejected penalty for %s: %v", req.CompetitorID, err)
	}
	return p, err
}

func (e *Engine) issue(st *competitorState, req PenaltyRequest, automatic bool) (Penalty, error) {
	kind, preset, err := ParsePenaltyKind(req.Kind)
	if err != nil {
		return Penalty{}, err
	}
	terms, err := e.penaltyTerms(kind, preset, req)
	if err != nil {
		return Penalty{}, err
	}
	book := st.penalties
	now := e.session.Elapsed

	if kind == PenaltyDriveThrough || kind == PenaltyStopGo {
		if existing := book.findOpen(kind); existing != nil {
			existing.Terms = terms
			snapshot := *existing
			logrus.Infof("[%8.2fs] penalty %s refreshed for %s (%s)", now, existing.ID, st.telemetry.ID, kind)
			e.emit(PenaltyIssuedEvent{Penalty: snapshot, Refreshed: true})
			e.emit(PenaltyEvent{Penalty: snapshot, Stage: StageRefreshed})
			e.recordDecision(trace.ActionPenalty, st.telemetry.ID,
				fmt.Sprintf("%s refreshed: %s", penaltyLabel(snapshot), snapshot.Reason), automatic)
			return snapshot, nil
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = "Race control decision"
	}
	e.penaltySeq++
	p := &Penalty{
		ID:           fmt.Sprintf("PEN-%04d", e.penaltySeq),
		CompetitorID: st.telemetry.ID,
		Reason:       reason,
		IssuedAt:     now,
		Automatic:    automatic,
		Terms:        terms,
	}
	switch {
	case kind.Queued():
		p.Status = PenaltyQueued
		book.queue.Enqueue(p)
		logrus.Debugf("[%8.2fs] %s penalty queue %s", now, st.telemetry.ID, book.queue.String())
	case kind == PenaltyWarning:
		p.Status = PenaltyServed
		p.ServedAt = now
		st.telemetry.Warnings++
	default:
		p.Status = PenaltyServing
		if kind == PenaltyDisqualification {
			st.telemetry.Disqualified = true
		}
	}
	book.records = append(book.records, p)

	snapshot := *p
	logrus.Infof("[%8.2fs] penalty %s issued to %s: %s (%s)", now, p.ID, p.CompetitorID, penaltyLabel(snapshot), reason)
	e.emit(PenaltyIssuedEvent{Penalty: snapshot})
	e.emit(PenaltyEvent{Penalty: snapshot, Stage: StageIssued})
	e.recordDecision(trace.ActionPenalty, p.CompetitorID,
		fmt.Sprintf("%s: %s", penaltyLabel(snapshot), reason), automatic)
	if kind == PenaltyWarning {
		e.emit(PenaltyServedEvent{Penalty: snapshot})
	}
	return snapshot, nil
}

func (e *Engine) penaltyTerms(kind PenaltyKind, preset float64, req PenaltyRequest) (PenaltyTerms, error) {
	cfg := e.cfg.Penalty
	switch kind {
	case PenaltyTime:
		seconds := req.Seconds
		if seconds == 0 {
			seconds = preset
		}
		if seconds == 0 {
			seconds = defaultTimePenalty
		}
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return nil, fmt.Errorf("%w: time penalty of %v seconds", ErrInvalidPenaltyKind, seconds)
		}
		return TimeTerms{Seconds: seconds}, nil
	case PenaltyDriveThrough:
		return DriveThroughTerms{Remaining: cfg.DriveThroughDuration}, nil
	case PenaltyStopGo:
		return StopGoTerms{TransitRemaining: cfg.StopGoTransit, HoldRemaining: cfg.StopGoHold}, nil
	case PenaltyFreeze:
		return FreezeTerms{}, nil
	case PenaltySpeedLimit:
		factor := req.Factor
		if factor == 0 {
			factor = cfg.SpeedLimitFactor
		}
		if !(factor > 0 && factor <= 1) {
			return nil, fmt.Errorf("%w: speed-limit factor %v outside (0,1]", ErrInvalidPenaltyKind, factor)
		}
		return SpeedLimitTerms{Factor: factor}, nil
	case PenaltyTyreDegradation:
		perf := req.Factor
		if perf == 0 {
			perf = cfg.TyrePerformanceFactor
		}
		if !(perf > 0 && perf <= 1) {
			return nil, fmt.Errorf("%w: tyre performance factor %v outside (0,1]", ErrInvalidPenaltyKind, perf)
		}
		return TyreDegradationTerms{WearFactor: cfg.TyreWearFactor, PerformanceFactor: perf}, nil
	case PenaltyWarning:
		return WarningTerms{}, nil
	case PenaltyDisqualification:
		return DisqualificationTerms{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPenaltyKind, kind)
}

// advancePenalties serves queued penalties. Called only while running, once
// per competitor per tick: an idle competitor dequeues its next penalty and
// the serving penalty's timers count down by dt in the same tick.
func (e *Engine) advancePenalties(st *competitorState, dt float64) {
	book := st.penalties
	if book.active == nil {
		next := book.queue.Dequeue()
		if next == nil {
			return
		}
		next.Status = PenaltyServing
		book.active = next
		logrus.Debugf("[%8.2fs] %s serving %s %s", e.session.Elapsed, st.telemetry.ID, next.ID, next.Kind())
		e.emit(PenaltyEvent{Penalty: *next, Stage: StageServing})
	}

	p := book.active
	done := false
	switch terms := p.Terms.(type) {
	case TimeTerms:
		st.telemetry.TimePenalty += terms.Seconds
		done = true
	case DriveThroughTerms:
		terms.Remaining -= dt
		if terms.Remaining <= epsilon {
			terms.Remaining = 0
			done = true
		}
		p.Terms = terms
	case StopGoTerms:
		left := dt
		if terms.TransitRemaining > 0 {
			used := math.Min(left, terms.TransitRemaining)
			terms.TransitRemaining -= used
			left -= used
			if terms.TransitRemaining <= epsilon {
				terms.TransitRemaining = 0
			}
		}
		if terms.TransitRemaining == 0 && left > 0 {
			terms.HoldRemaining -= left
		}
		if terms.TransitRemaining == 0 && terms.HoldRemaining <= epsilon {
			terms.HoldRemaining = 0
			done = true
		}
		p.Terms = terms
	default:
		logrus.Warnf("penalty %s of kind %s cannot be queued; dropping", p.ID, p.Kind())
		book.active = nil
		return
	}
	if !done {
		return
	}

	p.Status = PenaltyServed
	p.ServedAt = e.session.Elapsed
	book.active = nil
	snapshot := *p
	logrus.Infof("[%8.2fs] penalty %s served by %s", snapshot.ServedAt, snapshot.ID, snapshot.CompetitorID)
	e.emit(PenaltyServedEvent{Penalty: snapshot})
	e.emit(PenaltyEvent{Penalty: snapshot, Stage: StageServed})
	if next := book.queue.Peek(); next != nil {
		logrus.Debugf("[%8.2fs] %s next to serve %s %s", snapshot.ServedAt, snapshot.CompetitorID, next.ID, next.Kind())
	}
}

// ClearPenalties clears a competitor's penalties, optionally only those of
// one kind (empty kind clears all). Queued, serving, in-force and served
// penalties are marked cleared; served time penalties give back their
// seconds. Returns the number of penalties cleared.
func (e *Engine) ClearPenalties(competitorID string, kind PenaltyKind) (int, error) {
	defer e.flush()

	st, ok := e.competitors[competitorID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompetitor, competitorID)
	}
	if kind != "" {
		k, _, err := ParsePenaltyKind(string(kind))
		if err != nil {
			return 0, err
		}
		kind = k
	}
	match := func(p *Penalty) bool { return kind == "" || p.Kind() == kind }

	book := st.penalties
	book.queue.Remove(match)
	if book.active != nil && match(book.active) {
		book.active = nil
	}

	cleared := 0
	for _, p := range book.records {
		if p.Status == PenaltyCleared || !match(p) {
			continue
		}
		if p.Status == PenaltyServed {
			switch terms := p.Terms.(type) {
			case TimeTerms:
				st.telemetry.TimePenalty = math.Max(0, st.telemetry.TimePenalty-terms.Seconds)
			case WarningTerms:
				st.telemetry.Warnings = max(0, st.telemetry.Warnings-1)
			}
		}
		p.Status = PenaltyCleared
		cleared++
		e.emit(PenaltyEvent{Penalty: *p, Stage: StageCleared})
	}
	st.telemetry.Disqualified = false
	for _, p := range book.inForce() {
		if p.Kind() == PenaltyDisqualification {
			st.telemetry.Disqualified = true
		}
	}
	if cleared == 0 {
		return 0, nil
	}

	label := "all penalties"
	if kind != "" {
		label = string(kind) + " penalties"
	}
	logrus.Infof("[%8.2fs] cleared %d %s for %s", e.session.Elapsed, cleared, label, competitorID)
	e.emit(PenaltyClearedEvent{CompetitorID: competitorID, PenaltyKind: kind, Cleared: cleared})
	e.recordDecision(trace.ActionPenaltyCleared, competitorID, fmt.Sprintf("Cleared %s", label), false)
	return cleared, nil
}

// Penalties returns every penalty issued to the competitor, in issue order.
func (e *Engine) Penalties(competitorID string) ([]Penalty, error) {
	st, ok := e.competitors[competitorID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompetitor, competitorID)
	}
	out := make([]Penalty, len(st.penalties.records))
	for i, p := range st.penalties.records {
		out[i] = *p
	}
	return out, nil
}

func penaltyLabel(p Penalty) string {
	switch t := p.Terms.(type) {
	case TimeTerms:
		return fmt.Sprintf("%gs time penalty", t.Seconds)
	case SpeedLimitTerms:
		return fmt.Sprintf("Speed limit %.0f%%", t.Factor*100)
	}
	return titleCase(string(p.Kind()))
}
