package mockadmin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Server exposes an HTTP API that mimics the storefront platform's admin GraphQL
// endpoint, limited to the create-only web pixel mutation.
type Server struct {
	store       *Store
	accessToken string
	logger      *slog.Logger
}

// NewServer builds a server backed by the provided store. An empty accessToken
// accepts any non-empty token.
func NewServer(store *Store, accessToken string, logger *slog.Logger) *Server {
	return &Server{store: store, accessToken: accessToken, logger: logger}
}

// Router wires all mock admin routes under a single chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/shops/{shop}", func(r chi.Router) {
		r.Get("/pixels", s.handleListPixels)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAccessToken)
			r.Post("/admin/api/graphql.json", s.handleGraphQL)
		})
	})
	return r
}

type graphQLRequest struct {
	Query     string `json:"query"`
	Variables struct {
		WebPixel struct {
			Settings string `json:"settings"`
		} `json:"webPixel"`
	} `json:"variables"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if !strings.Contains(req.Query, "webPixelCreate") {
		writeJSON(w, http.StatusOK, map[string]any{
			"errors": []map[string]any{{"message": "only webPixelCreate is supported"}},
		})
		return
	}

	var parsed struct {
		GA4AccountID string `json:"ga4AccountId"`
	}
	if err := json.Unmarshal([]byte(req.Variables.WebPixel.Settings), &parsed); err != nil || strings.TrimSpace(parsed.GA4AccountID) == "" {
		s.respondPixel(w, nil, UserError{Field: []string{"settings"}, Message: "Settings are invalid"})
		return
	}

	pixel, err := s.store.CreatePixel(r.Context(), shop, req.Variables.WebPixel.Settings)
	switch {
	case errors.Is(err, ErrPixelExists):
		s.logger.Info("pixel create rejected, already exists", "shop", shop)
		s.respondPixel(w, nil, UserError{Field: []string{"webPixel"}, Message: "Web pixel already exists for this app"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "create pixel: %v", err)
	default:
		s.logger.Info("pixel created", "shop", shop, "pixel_id", pixel.ID)
		s.respondPixel(w, &pixel)
	}
}

func (s *Server) respondPixel(w http.ResponseWriter, pixel *Pixel, userErrors ...UserError) {
	var webPixel any
	if pixel != nil {
		webPixel = map[string]any{"id": pixel.ID, "settings": pixel.Settings}
	}
	if userErrors == nil {
		userErrors = []UserError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"webPixelCreate": map[string]any{
				"webPixel":   webPixel,
				"userErrors": userErrors,
			},
		},
	})
}

func (s *Server) handleListPixels(w http.ResponseWriter, r *http.Request) {
	pixels, err := s.store.ListPixels(r.Context(), chi.URLParam(r, "shop"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list pixels: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pixels": pixels})
}

func (s *Server) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Shopify-Access-Token"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Shopify-Access-Token header")
			return
		}
		if s.accessToken != "" && token != s.accessToken {
			writeError(w, http.StatusUnauthorized, "invalid access token")
			return
		}
		next.ServeHTTP(w, r)
	})
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
