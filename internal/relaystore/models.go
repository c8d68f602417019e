package relaystore

import "time"

// Source records which relay path delivered a message.
type Source string

const (
	// SourceFrame is a cross-boundary post received by the collector.
	SourceFrame Source = "frame"
	// SourcePublish is a record published on a session's host bus.
	SourcePublish Source = "publish"
)

// Message is one stored relay message.
type Message struct {
	ID            int64     `json:"id"`
	Tenant        string    `json:"tenant"`
	Type          string    `json:"type"`
	URL           string    `json:"url,omitempty"`
	MeasurementID string    `json:"measurement_id,omitempty"`
	Source        Source    `json:"source"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReceivedAt    time.Time `json:"received_at"`
	DedupeKey     string    `json:"dedupe_key"`
}
