// Package pixel is the storefront pixel runtime: it runs inside a capability
// restricted sandbox, observes storefront events on the host bus and relays
// them outward through injected sinks.
package pixel

import (
	"context"
	"time"
)

// EventKind names a storefront event on the host bus.
type EventKind string

const (
	KindPageView        EventKind = "page_view"
	KindPageViewed      EventKind = "page_viewed"
	KindConnectionCheck EventKind = "connection_check"
)

// DefaultKinds is the set relayed when Initialize is called without kinds.
var DefaultKinds = []EventKind{KindPageView, KindPageViewed, KindConnectionCheck}

// Known reports whether the runtime has a handler for k.
func (k EventKind) Known() bool {
	switch k {
	case KindPageView, KindPageViewed, KindConnectionCheck:
		return true
	}
	return false
}

// Event is one delivery from the host bus.
type Event struct {
	Name      string    `json:"name"`
	Location  string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Ack is the acknowledgment a handler returns to the bus; its shape varies by kind.
type Ack map[string]any

// Handler is a bus subscriber. Handlers must not block.
type Handler func(Event) Ack

// Analytics is the host bus capability available inside the sandbox.
type Analytics interface {
	Subscribe(name string, h Handler)
	Publish(ctx context.Context, name string, payload any) (bool, error)
}

// Settings is the read-only configuration injected at sandbox creation.
type Settings struct {
	MeasurementID string `json:"ga4AccountId,omitempty"`
}

// Document describes the page hosting the sandbox.
type Document struct {
	Location string `json:"location,omitempty"`
}

// API is the context object the host hands to the runtime.
type API struct {
	Analytics Analytics
	Settings  Settings
	Document  Document
}
