package model

import "time"

// SubscriptionRecord is the ledger row kept for each upstream subscription.
// Telemetry payloads are never stored, only lifecycle and counters.
type SubscriptionRecord struct {
	ID              string     `db:"id" json:"id"`
	SessionID       string     `db:"session_id" json:"sessionId"`
	DeviceSelector  string     `db:"device_selector" json:"deviceSelector"`
	EventPrefix     string     `db:"event_prefix" json:"eventPrefix"`
	State           string     `db:"state" json:"state"`
	EndReason       *string    `db:"end_reason" json:"endReason,omitempty"`
	EventsReceived  int64      `db:"events_received" json:"eventsReceived"`
	EventsForwarded int64      `db:"events_forwarded" json:"eventsForwarded"`
	StartedAt       time.Time  `db:"started_at" json:"startedAt"`
	EndedAt         *time.Time `db:"ended_at" json:"endedAt,omitempty"`
}

type CreateSubscriptionRecordParams struct {
	ID             string
	SessionID      string
	DeviceSelector string
	EventPrefix    string
}

type EndSubscriptionRecordParams struct {
	ID              string
	Reason          EndReason
	EventsReceived  int64
	EventsForwarded int64
}
