package accounting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/radio-control/apd/internal/bss"
)

// Record events.
const (
	EventStart = "start"
	EventFail  = "fail"
	EventStop  = "stop"
)

// Record is one exported accounting message.
type Record struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"sessionId"`
	BSSID     string    `json:"bssid"`
	SSID      string    `json:"ssid"`
	Station   string    `json:"station"`
	Started   time.Time `json:"started"`
	// DurationSeconds is set on stop records.
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Status          string  `json:"status,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

func newRecord(event string, s bss.Session, now time.Time) Record {
	r := Record{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: now.UTC(),
		SessionID: s.ID,
		BSSID:     s.BSSID.String(),
		SSID:      s.SSID,
		Station:   s.Station.String(),
		Started:   s.Started.UTC(),
	}
	switch event {
	case EventFail:
		r.Status = s.Status.String()
	case EventStop:
		r.DurationSeconds = s.Duration.Seconds()
		r.Reason = s.Reason.String()
	}
	return r
}

// Encode renders the record as JSON.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}
