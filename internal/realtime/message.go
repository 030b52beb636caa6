package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Message is one progress event as delivered to live subscribers. Seq is the
// persisted per-run sequence number; receivers dedupe on it.
type Message struct {
	Channel string    `json:"channel"`
	RunID   uuid.UUID `json:"run_id"`
	Seq     int64     `json:"seq"`
	Event   string    `json:"event"`
	Agent   string    `json:"agent,omitempty"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

func RunChannel(runID uuid.UUID) string { return "run:" + runID.String() }
