package pixel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"example.com/better-analytics/internal/logging"
)

const defaultQueueSize = 64

// Runtime is a single-use sandbox instance bound to one page load. It has no
// behaviour until Initialize is called, subscribes exactly once and is never torn
// down explicitly: cancelling the host context stops pending relays.
type Runtime struct {
	api    API
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time

	queueSize int
	lanes     []*lane
	once      sync.Once
	ready     chan struct{}
	kinds     []EventKind
}

// lane is one sink's ordered queue. Each lane has its own goroutine so a stalled
// sink never holds back the others.
type lane struct {
	sink  Sink
	queue chan Record
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithSinks replaces the default publish-only relay channel.
func WithSinks(sinks ...Sink) Option {
	return func(r *Runtime) { r.sinks = sinks }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithQueueSize bounds how many records may wait for relay before new ones are dropped.
func WithQueueSize(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New builds a runtime around the host-provided API.
func New(api API, opts ...Option) *Runtime {
	r := &Runtime{
		api:       api,
		logger:    logging.Discard(),
		now:       time.Now,
		queueSize: defaultQueueSize,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sinks == nil {
		r.sinks = []Sink{NewPublishSink(api.Analytics, r.logger)}
	}
	return r
}

// Initialize subscribes to kinds (DefaultKinds when empty) before returning and
// starts one relay goroutine per sink. The returned channel closes once every
// relay goroutine is running; it does not wait for any sink's announce. Later
// calls subscribe nothing and return the same channel.
func (r *Runtime) Initialize(ctx context.Context, kinds ...EventKind) <-chan struct{} {
	r.once.Do(func() {
		r.kinds = r.normalize(kinds)
		for _, sink := range r.sinks {
			r.lanes = append(r.lanes, &lane{sink: sink, queue: make(chan Record, r.queueSize)})
		}
		for _, kind := range r.kinds {
			r.api.Analytics.Subscribe(string(kind), r.guard(kind, r.handlerFor(kind)))
		}
		var started sync.WaitGroup
		started.Add(len(r.lanes))
		for _, l := range r.lanes {
			go r.dispatch(ctx, l, started.Done)
		}
		r.logger.Info("pixel runtime initialized",
			"measurement_id", r.api.Settings.MeasurementID,
			"kinds", r.kinds,
			"sinks", len(r.sinks))
		go func() {
			started.Wait()
			close(r.ready)
		}()
	})
	return r.ready
}

// Kinds returns the event kinds subscribed by Initialize.
func (r *Runtime) Kinds() []EventKind {
	return slices.Clone(r.kinds)
}

func (r *Runtime) normalize(kinds []EventKind) []EventKind {
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	out := make([]EventKind, 0, len(kinds))
	for _, kind := range kinds {
		if !kind.Known() {
			r.logger.Warn("ignoring unknown event kind", "kind", kind)
			continue
		}
		if slices.Contains(out, kind) {
			continue
		}
		out = append(out, kind)
	}
	return out
}

func (r *Runtime) handlerFor(kind EventKind) Handler {
	if kind == KindConnectionCheck {
		return func(Event) Ack {
			r.logger.Debug("connection check")
			return Ack{"connected": true}
		}
	}
	return func(ev Event) Ack {
		location := ev.Location
		if location == "" {
			location = r.api.Document.Location
		}
		r.enqueue(Record{
			Kind:          kind,
			Timestamp:     r.now().UTC(),
			Location:      location,
			MeasurementID: r.api.Settings.MeasurementID,
		})
		return Ack{"success": true}
	}
}

// guard keeps panics from reaching the bus and still hands back the kind's ack.
func (r *Runtime) guard(kind EventKind, h Handler) Handler {
	return func(ev Event) (ack Ack) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("pixel handler panicked", "kind", kind, "panic", fmt.Sprint(p))
				ack = fallbackAck(kind)
			}
		}()
		return h(ev)
	}
}

func fallbackAck(kind EventKind) Ack {
	if kind == KindConnectionCheck {
		return Ack{"connected": true}
	}
	return Ack{"success": true}
}

// enqueue hands rec to every sink independently; a full lane drops it for that sink only.
func (r *Runtime) enqueue(rec Record) {
	for _, l := range r.lanes {
		select {
		case l.queue <- rec:
		default:
			r.logger.Warn("relay queue full, dropping record", "sink", l.sink.Name(), "kind", rec.Kind, "url", rec.Location)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, l *lane, started func()) {
	started()
	if a, ok := l.sink.(Announcer); ok {
		r.attempt(l.sink, "registered", func() error {
			return a.Announce(ctx, r.api.Settings, r.now())
		})
	}
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("pixel relay stopped", "sink", l.sink.Name(), "reason", ctx.Err())
			return
		case rec := <-l.queue:
			r.attempt(l.sink, rec.Kind, func() error { return l.sink.Relay(ctx, rec) })
		}
	}
}

// attempt runs one relay; failures and panics are logged and dropped.
func (r *Runtime) attempt(sink Sink, kind EventKind, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("relay failed", "error", &RelayError{Sink: sink.Name(), Kind: kind, Err: fmt.Errorf("panic: %v", p)})
		}
	}()
	if err := fn(); err != nil {
		r.logger.Warn("relay failed", "error", &RelayError{Sink: sink.Name(), Kind: kind, Err: err})
	}
}
