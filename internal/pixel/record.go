package pixel

import (
	"strings"
	"time"
)

const (
	// TargetOriginAny is used for every cross-boundary post; the host origin is unknown in advance.
	TargetOriginAny = "*"
	// TypeRegistered is posted once when a nested runtime starts.
	TypeRegistered = "BETTER_ANALYTICS_REGISTERED"

	messageTypePrefix = "BETTER_ANALYTICS_"
)

// Record is the normalised form of one observed storefront event.
type Record struct {
	Kind          EventKind `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
	Location      string    `json:"url,omitempty"`
	MeasurementID string    `json:"ga4Id,omitempty"`
}

// Message is the tagged record posted across the frame boundary.
type Message struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	GA4ID     string `json:"ga4Id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MessageType maps page_viewed to BETTER_ANALYTICS_PAGE_VIEWED and so on.
func MessageType(kind EventKind) string {
	return messageTypePrefix + strings.ToUpper(string(kind))
}

// Message converts the record into its cross-boundary shape.
func (r Record) Message() Message {
	return Message{
		Type:      MessageType(r.Kind),
		URL:       r.Location,
		GA4ID:     r.MeasurementID,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
