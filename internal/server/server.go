// Package server exposes the analytics HTTP API: tenant settings with
// reconcile-on-save, pixel sessions and the relay collector.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"example.com/better-analytics/internal/activation"
	"example.com/better-analytics/internal/relaystore"
	"example.com/better-analytics/internal/sandboxattr"
	"example.com/better-analytics/internal/settings"
)

const defaultActivationTimeout = 15 * time.Second

// SettingsService loads and saves tenant settings.
type SettingsService interface {
	Load(ctx context.Context, tenant string) (settings.Record, error)
	Save(ctx context.Context, tenant string, rec settings.Record) (settings.Record, error)
}

// RelayStore keeps relay messages received by the collector or published by sessions.
type RelayStore interface {
	InsertMessage(ctx context.Context, m relaystore.Message) (relaystore.Message, bool, error)
	ListMessages(ctx context.Context, tenant string, limit int) ([]relaystore.Message, error)
}

// Options tune the HTTP layer.
type Options struct {
	// ActivationTimeout bounds the reconcile awaited by a request.
	ActivationTimeout time.Duration
	// AllowedOrigins is applied to the collector's CORS policy.
	AllowedOrigins []string
}

// Server wires the HTTP API to its collaborators.
type Server struct {
	settings     SettingsService
	orchestrator activation.Orchestrator
	relay        RelayStore
	sessions     *Sessions
	logger       *slog.Logger
	opts         Options
}

// NewServer creates a server with the required collaborators wired in.
func NewServer(svc SettingsService, orchestrator activation.Orchestrator, relay RelayStore, sessions *Sessions, logger *slog.Logger, opts Options) *Server {
	if opts.ActivationTimeout <= 0 {
		opts.ActivationTimeout = defaultActivationTimeout
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		settings:     svc,
		orchestrator: orchestrator,
		relay:        relay,
		sessions:     sessions,
		logger:       logger,
		opts:         opts,
	}
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)
		r.Get("/status", s.handleStatus)
	})

	r.With(sandboxattr.Middleware).Get("/app/{tenant}", s.handleAppPage)

	r.Route("/pixel/sessions", func(r chi.Router) {
		r.Post("/", s.handleOpenSession)
		r.Post("/{sessionID}/events", s.handleSessionEvent)
		r.Delete("/{sessionID}", s.handleCloseSession)
	})

	// The collector is called cross-origin from storefront frames.
	r.Route("/api/analytics", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Shop-Domain", "X-Target-Origin"},
			MaxAge:         300,
		}))
		r.Post("/", s.handleCollect)
		r.Get("/", s.handleCollectMethodNotAllowed)
		r.Get("/messages", s.handleListMessages)
	})

	return r
}

// reconcile runs the orchestrator under the activation timeout. A panicking
// orchestrator is reported as a transport error so the caller's save stands.
func (s *Server) reconcile(ctx context.Context, reason string, rec settings.Record) (out activation.Outcome) {
	ctx, cancel := context.WithTimeout(activation.WithReason(ctx, reason), s.opts.ActivationTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("reconcile panicked", "tenant", rec.Tenant, "reason", reason, "panic", fmt.Sprint(p))
			out = activation.Outcome{
				Tenant:      rec.Tenant,
				Kind:        activation.KindTransportError,
				Message:     fmt.Sprintf("reconcile panicked: %v", p),
				AttemptedAt: time.Now().UTC(),
			}
		}
	}()
	return s.orchestrator.Reconcile(ctx, rec.Tenant, rec)
}

// settingsError maps settings errors onto HTTP statuses.
func (s *Server) settingsError(w http.ResponseWriter, tenant string, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, "%v", err)
	case errors.Is(err, settings.ErrStoreUnavailable):
		s.logger.Error("settings store unavailable", "tenant", tenant, "error", err)
		writeError(w, http.StatusServiceUnavailable, "settings store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
