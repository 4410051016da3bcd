package control

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Tone colours a radio transmission for display.
type Tone string

const (
	ToneInfo    Tone = "info"
	ToneWarning Tone = "warning"
	ToneAlert   Tone = "alert"
)

var validTones = map[Tone]bool{ToneInfo: true, ToneWarning: true, ToneAlert: true}

// IsValidTone returns true if name is a known tone.
func IsValidTone(name string) bool { return validTones[Tone(name)] }

// Transmission is one team-radio or race-control message.
type Transmission struct {
	ID           string  `json:"id"`
	Clock        float64 `json:"clock"`
	Tone         Tone    `json:"tone"`
	From         string  `json:"from"`
	Message      string  `json:"message"`
	CompetitorID string  `json:"competitor_id,omitempty"`
}

// Transmit stamps a transmission with an id and the session clock, appends
// it to the capped radio log and broadcasts it.
func (e *Engine) Transmit(tx Transmission) Transmission {
	defer e.flush()

	e.transmissionSeq++
	tx.ID = fmt.Sprintf("TX-%04d", e.transmissionSeq)
	tx.Clock = e.session.Elapsed
	if tx.Tone == "" {
		tx.Tone = ToneInfo
	}
	e.transmission.Push(tx)
	logrus.Debugf("[%8.2fs] radio %s: %s", tx.Clock, tx.From, tx.Message)
	e.emit(RadioEvent{Transmission: tx})
	return tx
}
