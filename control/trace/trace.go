package trace

import (
	"fmt"

	"github.com/racecontrol/racecontrol/control/internal/ring"
)

// DefaultLimit is the retention used when a Log is created with limit <= 0.
const DefaultLimit = 100

// Log collects decision records during a session, keeping the newest Limit.
type Log struct {
	records *ring.Buffer[DecisionRecord]
	seq     int
}

// NewLog creates a Log ready for recording.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{records: ring.New[DecisionRecord](limit)}
}

// Record assigns the next sequential ID and appends the record.
// Returns the stored copy.
func (l *Log) Record(rec DecisionRecord) DecisionRecord {
	l.seq++
	rec.ID = fmt.Sprintf("D%04d", l.seq)
	l.records.Push(rec)
	return rec
}

// Recent returns up to n of the newest records, oldest first.
func (l *Log) Recent(n int) []DecisionRecord {
	return l.records.Recent(n)
}

// Total returns the number of decisions ever recorded, including evicted ones.
func (l *Log) Total() int {
	return l.seq
}
