package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"example.com/better-analytics/internal/pixel"
	"example.com/better-analytics/internal/pixel/hostbus"
	"example.com/better-analytics/internal/relaystore"
)

const (
	defaultSessionCapacity = 1024
	publishStoreTimeout    = 5 * time.Second
)

// SessionConfig sizes the pixel session registry.
type SessionConfig struct {
	Capacity  int
	QueueSize int
	// RelayURL is the collector that nested sessions post to.
	RelayURL    string
	PostTimeout time.Duration
}

// Session is one simulated storefront page load: a host bus with a pixel
// runtime initialised on it.
type Session struct {
	ID            string    `json:"session_id"`
	Tenant        string    `json:"tenant"`
	Embedded      bool      `json:"embedded"`
	MeasurementID string    `json:"measurement_id"`
	CreatedAt     time.Time `json:"created_at"`

	bus     *hostbus.Bus
	runtime *pixel.Runtime
	ready   <-chan struct{}
	cancel  context.CancelFunc
	seq     atomic.Int64
}

// Kinds lists the event kinds the session's runtime subscribed to.
func (s *Session) Kinds() []pixel.EventKind { return s.runtime.Kinds() }

// Ready closes once the runtime has finished starting.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Deliver hands a storefront event to the session's bus.
func (s *Session) Deliver(ev pixel.Event) []pixel.Ack { return s.bus.Deliver(ev) }

// unload is the page going away: pending relays stop and publishes fail.
func (s *Session) unload() {
	s.cancel()
	s.bus.Close()
}

// Sessions is a bounded registry of live pixel sessions. The least recently
// used session is unloaded when capacity is exceeded.
type Sessions struct {
	cache  *lru.Cache
	cfg    SessionConfig
	relay  RelayStore
	logger *slog.Logger
}

// NewSessions builds the registry. Published relay records are stored in relay.
func NewSessions(cfg SessionConfig, relay RelayStore, logger *slog.Logger) (*Sessions, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultSessionCapacity
	}
	m := &Sessions{cfg: cfg, relay: relay, logger: logger}
	cache, err := lru.NewWithEvict(cfg.Capacity, func(key, value any) {
		sess := value.(*Session)
		sess.unload()
		m.logger.Debug("pixel session unloaded", "session_id", key, "tenant", sess.Tenant)
	})
	if err != nil {
		return nil, fmt.Errorf("create session registry: %w", err)
	}
	m.cache = cache
	return m, nil
}

// Open starts a session for tenant. Embedded sessions also post every relay
// record across the frame boundary to the collector.
func (m *Sessions) Open(tenant string, embedded bool, cfg pixel.Settings, location string) (*Session, error) {
	if tenant == "" {
		return nil, errors.New("tenant required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:            uuid.NewString(),
		Tenant:        tenant,
		Embedded:      embedded,
		MeasurementID: cfg.MeasurementID,
		CreatedAt:     time.Now().UTC(),
		bus:           hostbus.New(),
		cancel:        cancel,
	}
	sess.bus.Subscribe(pixel.RelayEvent, m.collect(ctx, sess))

	logger := m.logger.With("session_id", sess.ID, "tenant", tenant)
	sinks := []pixel.Sink{pixel.NewPublishSink(sess.bus, logger)}
	if embedded {
		poster := pixel.NewHTTPPoster(m.cfg.RelayURL, tenant, m.cfg.PostTimeout)
		sinks = append(sinks, pixel.NewFrameSink(pixel.Nested{Poster: poster}))
	}
	sess.runtime = pixel.New(pixel.API{
		Analytics: sess.bus,
		Settings:  cfg,
		Document:  pixel.Document{Location: location},
	},
		pixel.WithSinks(sinks...),
		pixel.WithLogger(logger),
		pixel.WithQueueSize(m.cfg.QueueSize),
	)
	sess.ready = sess.runtime.Initialize(ctx)

	m.cache.Add(sess.ID, sess)
	logger.Info("pixel session opened", "embedded", embedded, "measurement_id", cfg.MeasurementID)
	return sess, nil
}

// Get returns a live session and marks it recently used.
func (m *Sessions) Get(id string) (*Session, bool) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Close unloads a session. It reports whether the session existed.
func (m *Sessions) Close(id string) bool {
	if !m.cache.Contains(id) {
		return false
	}
	m.cache.Remove(id)
	return true
}

// Len is the number of live sessions.
func (m *Sessions) Len() int { return m.cache.Len() }

// CloseAll unloads every session; used on shutdown.
func (m *Sessions) CloseAll() { m.cache.Purge() }

// collect is the host side of the publish path: relay records published on the
// session bus are stored as relay messages.
func (m *Sessions) collect(ctx context.Context, sess *Session) pixel.Handler {
	return func(ev pixel.Event) pixel.Ack {
		rec, ok := ev.Data.(pixel.Record)
		if !ok {
			return pixel.Ack{"stored": false}
		}
		msg := rec.Message()
		storeCtx, cancel := context.WithTimeout(ctx, publishStoreTimeout)
		defer cancel()
		_, inserted, err := m.relay.InsertMessage(storeCtx, relaystore.Message{
			Tenant:        sess.Tenant,
			Type:          msg.Type,
			URL:           rec.Location,
			MeasurementID: rec.MeasurementID,
			Source:        relaystore.SourcePublish,
			OccurredAt:    rec.Timestamp,
			DedupeKey:     fmt.Sprintf("publish:%s:%d", sess.ID, sess.seq.Add(1)),
		})
		if err != nil {
			m.logger.Warn("store published relay record failed", "session_id", sess.ID, "kind", rec.Kind, "error", err)
			return pixel.Ack{"stored": false}
		}
		return pixel.Ack{"stored": inserted}
	}
}
