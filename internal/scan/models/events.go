package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

type ScanStatusChanged struct {
	eventID    uuid.UUID
	scanID     uuid.UUID
	from       Status
	to         Status
	verdict    Verdict
	occurredAt time.Time
}

func NewScanStatusChanged(scanID uuid.UUID, from, to Status, verdict Verdict) *ScanStatusChanged {
	return &ScanStatusChanged{
		eventID:    uuid.New(),
		scanID:     scanID,
		from:       from,
		to:         to,
		verdict:    verdict,
		occurredAt: time.Now(),
	}
}

func (e *ScanStatusChanged) EventID() uuid.UUID     { return e.eventID }
func (e *ScanStatusChanged) EventType() string      { return "ScanStatusChanged" }
func (e *ScanStatusChanged) AggregateID() uuid.UUID { return e.scanID }
func (e *ScanStatusChanged) OccurredAt() time.Time  { return e.occurredAt }

func (e *ScanStatusChanged) From() Status { return e.from }
func (e *ScanStatusChanged) To() Status   { return e.to }

func (e *ScanStatusChanged) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventID    uuid.UUID `json:"event_id"`
		ScanID     uuid.UUID `json:"scan_id"`
		From       Status    `json:"from"`
		To         Status    `json:"to"`
		Verdict    Verdict   `json:"verdict,omitempty"`
		OccurredAt time.Time `json:"occurred_at"`
	}{
		EventID:    e.eventID,
		ScanID:     e.scanID,
		From:       e.from,
		To:         e.to,
		Verdict:    e.verdict,
		OccurredAt: e.occurredAt,
	})
}
