package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"example.com/better-analytics/internal/settings"
)

// settingsPayload is the save form. Toggles absent from the body are saved as
// false, like unchecked checkboxes.
type settingsPayload struct {
	MeasurementID        string `json:"measurement_id"`
	TrackProductPrices   bool   `json:"track_product_prices"`
	TrackDiscounts       bool   `json:"track_discounts"`
	TrackCustomerConsent bool   `json:"track_customer_consent"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	rec, err := s.settings.Load(r.Context(), tenant)
	if err != nil {
		s.settingsError(w, tenant, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": rec})
}

// handleSaveSettings persists first and reconciles second. The activation
// outcome is reported next to the save and never undoes it.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}

	saved, err := s.settings.Save(r.Context(), tenant, settings.Record{
		MeasurementID:        payload.MeasurementID,
		TrackProductPrices:   payload.TrackProductPrices,
		TrackDiscounts:       payload.TrackDiscounts,
		TrackCustomerConsent: payload.TrackCustomerConsent,
	})
	if err != nil {
		s.settingsError(w, tenant, err)
		return
	}

	outcome := s.reconcile(r.Context(), "settings-save", saved)
	if err := outcome.Err(); err != nil {
		s.logger.Warn("settings saved but activation unsuccessful", "tenant", saved.Tenant, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":   saved,
		"saved":      true,
		"activation": outcome,
	})
}

// handleStatus is the read-triggered reconcile: every view of a configured
// tenant attempts activation again.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	rec, err := s.settings.Load(r.Context(), tenant)
	if err != nil {
		s.settingsError(w, tenant, err)
		return
	}
	outcome := s.reconcile(r.Context(), "status-read", rec)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":          rec.Tenant,
		"measurement_id":  rec.MeasurementID,
		"configured":      rec.Configured(),
		"pixel_activated": outcome.Active(),
		"activation":      outcome,
	})
}
