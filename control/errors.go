package control

import "errors"

// Errors returned synchronously by the mutating operations. A call that
// returns one of these has not modified engine state. Callers match with
// errors.Is; the wrapped message carries the offending value.
var (
	// ErrInvalidStateTransition reports an unknown flag/mode/command value or a
	// command that is illegal from the current phase.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrUnknownCompetitor reports a command that references a competitor
	// the engine has never seen.
	ErrUnknownCompetitor = errors.New("unknown competitor")

	// ErrInvalidPenaltyKind reports an unrecognised penalty kind string.
	ErrInvalidPenaltyKind = errors.New("invalid penalty kind")

	// ErrInvalidIncident reports an unrecognised incident type or severity
	// in a manual report.
	ErrInvalidIncident = errors.New("invalid incident")

	// ErrNotFound reports an incident or protest ID that is not in the
	// retained history.
	ErrNotFound = errors.New("not found")
)
