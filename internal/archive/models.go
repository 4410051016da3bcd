package archive

import "time"

// SessionRow records one engine run.
type SessionRow struct {
	ID        string `gorm:"primaryKey;size:27"`
	Seed      int64
	TotalLaps int
	Track     string `gorm:"size:64"`
	CreatedAt time.Time
}

// EventRow is one broadcast event with its JSON payload.
type EventRow struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	SessionID string  `gorm:"size:27;not null;index:idx_event_session_seq"`
	Seq       int64   `gorm:"not null;index:idx_event_session_seq"`
	Kind      string  `gorm:"size:32;not null;index"`
	Clock     float64 // session seconds when the event was delivered
	Payload   string  `gorm:"type:text"`
	CreatedAt time.Time
}

// DecisionRow mirrors a race-control decision so it can be queried by action
// and competitor without decoding payloads.
type DecisionRow struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"size:27;not null;index"`
	DecisionID   string `gorm:"size:16;not null"`
	Clock        float64
	Action       string `gorm:"size:32;index"`
	CompetitorID string `gorm:"size:64;index"`
	Message      string `gorm:"type:text"`
	Flag         string `gorm:"size:16"`
	SafetyCar    string `gorm:"size:16"`
	Automatic    bool
}

func (SessionRow) TableName() string  { return "sessions" }
func (EventRow) TableName() string    { return "events" }
func (DecisionRow) TableName() string { return "decisions" }

// AllModels returns every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{&SessionRow{}, &EventRow{}, &DecisionRow{}}
}
