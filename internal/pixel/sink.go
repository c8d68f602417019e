package pixel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"example.com/better-analytics/internal/logging"
)

// RelayEvent is the bus event name used by the in-sandbox publish path.
const RelayEvent = "better_analytics:relay"

// Sink forwards a relay record out of the runtime.
type Sink interface {
	Name() string
	Relay(ctx context.Context, rec Record) error
}

// Announcer is implemented by sinks that post a one-off notice when the runtime starts.
type Announcer interface {
	Announce(ctx context.Context, settings Settings, at time.Time) error
}

// RelayError is what a failed relay attempt becomes. It is logged and dropped.
type RelayError struct {
	Sink string
	Kind EventKind
	Err  error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s via %s: %v", e.Kind, e.Sink, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// PublishSink relays through the sandbox's own analytics publish capability.
type PublishSink struct {
	analytics Analytics
	event     string
	logger    *slog.Logger
}

func NewPublishSink(analytics Analytics, logger *slog.Logger) *PublishSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PublishSink{analytics: analytics, event: RelayEvent, logger: logger}
}

func (s *PublishSink) Name() string { return "publish" }

func (s *PublishSink) Relay(ctx context.Context, rec Record) error {
	accepted, err := s.analytics.Publish(ctx, s.event, rec)
	if err != nil {
		return err
	}
	if !accepted {
		s.logger.Debug("relay publish had no subscriber", "event", s.event, "kind", rec.Kind)
	}
	return nil
}

// Poster is the cross-document messaging primitive of the parent browsing context.
type Poster interface {
	PostMessage(ctx context.Context, msg Message, targetOrigin string) error
}

// Frame tells the runtime whether it is nested and, if so, how to reach the parent.
type Frame interface {
	Parent() (Poster, bool)
}

// TopLevel is a Frame with no parent.
type TopLevel struct{}

func (TopLevel) Parent() (Poster, bool) { return nil, false }

// Nested is a Frame whose parent is reached through Poster.
type Nested struct {
	Poster Poster
}

func (n Nested) Parent() (Poster, bool) { return n.Poster, n.Poster != nil }

// FrameSink posts tagged messages to the parent context so a host page can mirror
// sandbox activity. Top-level runtimes skip it silently.
type FrameSink struct {
	frame Frame
}

func NewFrameSink(frame Frame) *FrameSink {
	return &FrameSink{frame: frame}
}

func (s *FrameSink) Name() string { return "frame" }

func (s *FrameSink) Relay(ctx context.Context, rec Record) error {
	parent, nested := s.frame.Parent()
	if !nested {
		return nil
	}
	return parent.PostMessage(ctx, rec.Message(), TargetOriginAny)
}

func (s *FrameSink) Announce(ctx context.Context, settings Settings, at time.Time) error {
	parent, nested := s.frame.Parent()
	if !nested {
		return nil
	}
	return parent.PostMessage(ctx, Message{
		Type:      TypeRegistered,
		GA4ID:     settings.MeasurementID,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}, TargetOriginAny)
}

// HTTPPoster stands in for the parent window when the runtime is hosted server
// side: messages are POSTed as JSON to a collector endpoint.
type HTTPPoster struct {
	httpClient *http.Client
	endpoint   string
	tenant     string
}

func NewHTTPPoster(endpoint, tenant string, timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPoster{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		tenant:     tenant,
	}
}

func (p *HTTPPoster) PostMessage(ctx context.Context, msg Message, targetOrigin string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Target-Origin", targetOrigin)
	if p.tenant != "" {
		req.Header.Set("X-Shop-Domain", p.tenant)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("parent responded with %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}
