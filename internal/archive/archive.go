// Package archive persists the engine's broadcast events to SQLite.
//
// A Recorder subscribes to every event kind and only buffers rows while the
// engine ticks; Flush writes the buffer in one transaction afterwards, so no
// database I/O ever happens inside a tick.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/control/bus"
)

const flushBatchSize = 200

// Open opens (creating if needed) the SQLite archive at path and migrates
// the schema. Use ":memory:" for a throwaway archive.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return db, nil
}

// RecorderOpts selects what a Recorder keeps.
type RecorderOpts struct {
	// IncludeTelemetry archives the per-tick telemetry frame as well. It is
	// by far the largest stream, so it is off by default.
	IncludeTelemetry bool
}

// Recorder buffers events from one engine and writes them on Flush.
//
// Thread-safety: the bus handler and Flush may run on different goroutines.
type Recorder struct {
	db        *gorm.DB
	engine    *control.Engine
	sessionID string
	opts      RecorderOpts

	mu          sync.Mutex
	seq         int64
	events      []EventRow
	decisions   []DecisionRow
	unsubscribe func()
}

// NewRecorder stores the session row and starts listening on e's bus.
func NewRecorder(ctx context.Context, db *gorm.DB, e *control.Engine, opts RecorderOpts) (*Recorder, error) {
	if db == nil || e == nil {
		panic("archive.NewRecorder: db and engine must not be nil")
	}
	cfg := e.Config()
	s := e.Session()
	row := SessionRow{ID: s.ID, Seed: e.RNG().Seed(), TotalLaps: s.TotalLaps, Track: cfg.Track.Name}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("archive: create session %s: %w", s.ID, err)
	}
	r := &Recorder{db: db, engine: e, sessionID: s.ID, opts: opts}
	r.unsubscribe = e.Bus().OnAll(r.record)
	return r, nil
}

// SessionID returns the id rows are stored under.
func (r *Recorder) SessionID() string { return r.sessionID }

func (r *Recorder) record(ev bus.Event) {
	kind := ev.Kind()
	if kind == control.KindTelemetry && !r.opts.IncludeTelemetry {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logrus.Warnf("archive: encode %s event: %v", kind, err)
		return
	}
	clock := r.engine.Session().Elapsed

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.events = append(r.events, EventRow{
		SessionID: r.sessionID,
		Seq:       r.seq,
		Kind:      string(kind),
		Clock:     clock,
		Payload:   string(payload),
	})
	if d, ok := ev.(control.DecisionEvent); ok {
		rec := d.Decision
		r.decisions = append(r.decisions, DecisionRow{
			SessionID:    r.sessionID,
			DecisionID:   rec.ID,
			Clock:        rec.Clock,
			Action:       string(rec.Action),
			CompetitorID: rec.CompetitorID,
			Message:      rec.Message,
			Flag:         rec.Flag,
			SafetyCar:    rec.SafetyCar,
			Automatic:    rec.Automatic,
		})
	}
}

// Pending returns the number of buffered event rows.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Flush writes every buffered row in one transaction and returns how many
// event rows were written. On failure the rows are put back for the next
// attempt.
func (r *Recorder) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	events, decisions := r.events, r.decisions
	r.events, r.decisions = nil, nil
	r.mu.Unlock()
	if len(events) == 0 && len(decisions) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(events) > 0 {
			if err := tx.CreateInBatches(&events, flushBatchSize).Error; err != nil {
				return err
			}
		}
		if len(decisions) > 0 {
			if err := tx.CreateInBatches(&decisions, flushBatchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.mu.Lock()
		r.events = append(resetIDs(events), r.events...)
		r.decisions = append(resetDecisionIDs(decisions), r.decisions...)
		r.mu.Unlock()
		return 0, fmt.Errorf("archive: flush %d events: %w", len(events), err)
	}
	logrus.Debugf("archive: flushed %d events, %d decisions", len(events), len(decisions))
	return len(events), nil
}

// Close stops listening and flushes what is left.
func (r *Recorder) Close(ctx context.Context) error {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	_, err := r.Flush(ctx)
	return err
}

// CreateInBatches assigns primary keys in place; a retried row must not
// carry the key from the rolled-back attempt.
func resetIDs(rows []EventRow) []EventRow {
	for i := range rows {
		rows[i].ID = 0
	}
	return rows
}

func resetDecisionIDs(rows []DecisionRow) []DecisionRow {
	for i := range rows {
		rows[i].ID = 0
	}
	return rows
}

// Events returns a session's archived events in delivery order, optionally
// restricted to one kind.
func Events(ctx context.Context, db *gorm.DB, sessionID string, kind bus.Kind) ([]EventRow, error) {
	q := db.WithContext(ctx).Where("session_id = ?", sessionID)
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	var rows []EventRow
	if err := q.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive: events for %s: %w", sessionID, err)
	}
	return rows, nil
}

// Decisions returns a session's decisions in order, optionally for one
// competitor.
func Decisions(ctx context.Context, db *gorm.DB, sessionID, competitorID string) ([]DecisionRow, error) {
	q := db.WithContext(ctx).Where("session_id = ?", sessionID)
	if competitorID != "" {
		q = q.Where("competitor_id = ?", competitorID)
	}
	var rows []DecisionRow
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive: decisions for %s: %w", sessionID, err)
	}
	return rows, nil
}

// Sessions lists archived sessions, newest first.
func Sessions(ctx context.Context, db *gorm.DB) ([]SessionRow, error) {
	var rows []SessionRow
	if err := db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive: sessions: %w", err)
	}
	return rows, nil
}
