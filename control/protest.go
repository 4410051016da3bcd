package control

import (
	"fmt"
	"strings"

	"github.com/racecontrol/racecontrol/control/trace"
)

// ProtestStatus is the review state of a protest.
type ProtestStatus string

const (
	ProtestPending   ProtestStatus = "pending"
	ProtestUpheld    ProtestStatus = "upheld"
	ProtestDismissed ProtestStatus = "dismissed"
)

// Protest is a competitor's request for a steward review.
type Protest struct {
	ID           string        `json:"id"`
	CompetitorID string        `json:"competitor_id"`
	TargetID     string        `json:"target_id,omitempty"`
	Reason       string        `json:"reason"`
	Timestamp    float64       `json:"timestamp"`
	Status       ProtestStatus `json:"status"`
}

// ProtestRequest files a protest on behalf of a competitor.
type ProtestRequest struct {
	CompetitorID string
	TargetID     string // optional
	Reason       string
}

const defaultProtestReason = "Requesting steward review."

// FileProtest appends a pending protest to the capped protest log.
func (e *Engine) FileProtest(r ProtestRequest) (Protest, error) {
	defer e.flush()

	if _, ok := e.competitors[r.CompetitorID]; !ok {
		return Protest{}, fmt.Errorf("%w: %q", ErrUnknownCompetitor, r.CompetitorID)
	}
	if r.TargetID != "" {
		if _, ok := e.competitors[r.TargetID]; !ok {
			return Protest{}, fmt.Errorf("%w: protest target %q", ErrUnknownCompetitor, r.TargetID)
		}
	}
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		reason = defaultProtestReason
	}

	e.protestSeq++
	p := Protest{
		ID:           fmt.Sprintf("PRT-%04d", e.protestSeq),
		CompetitorID: r.CompetitorID,
		TargetID:     r.TargetID,
		Reason:       reason,
		Timestamp:    e.session.Elapsed,
		Status:       ProtestPending,
	}
	e.protests.Push(p)
	e.emit(ProtestFiledEvent{Protest: p})
	e.recordDecision(trace.ActionProtest, p.CompetitorID, fmt.Sprintf("Protest filed: %s", reason), false)
	return p, nil
}

// ResolveProtest upholds or dismisses a pending protest.
func (e *Engine) ResolveProtest(id string, upheld bool) (Protest, error) {
	defer e.flush()

	var (
		out   Protest
		found bool
		err   error
	)
	e.protests.Update(func(p *Protest) bool {
		if p.ID != id {
			return false
		}
		found = true
		if p.Status != ProtestPending {
			err = fmt.Errorf("%w: protest %s already %s", ErrInvalidStateTransition, id, p.Status)
			return true
		}
		p.Status = ProtestDismissed
		if upheld {
			p.Status = ProtestUpheld
		}
		out = *p
		return true
	})
	if !found {
		return Protest{}, fmt.Errorf("%w: protest %q", ErrNotFound, id)
	}
	if err != nil {
		return Protest{}, err
	}
	e.recordDecision(trace.ActionProtest, out.CompetitorID, fmt.Sprintf("Protest %s %s", out.ID, out.Status), false)
	return out, nil
}
