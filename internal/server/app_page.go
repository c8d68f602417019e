package server

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"example.com/better-analytics/internal/activation"
	"example.com/better-analytics/internal/settings"
)

var appPage = template.Must(template.New("app").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Better Analytics - {{.Settings.Tenant}}</title></head>
<body>
<h1>Better Analytics</h1>
<dl>
<dt>Shop</dt><dd>{{.Settings.Tenant}}</dd>
<dt>Measurement ID</dt><dd>{{if .Settings.Configured}}{{.Settings.MeasurementID}}{{else}}not configured{{end}}</dd>
<dt>Pixel</dt><dd>{{if .Outcome.Active}}active{{else}}inactive ({{.Outcome.Kind}}){{end}}</dd>
{{with .Outcome.Message}}<dt>Detail</dt><dd>{{.}}</dd>{{end}}
</dl>
<iframe title="pixel preview" sandbox="allow-scripts" srcdoc="{{.Preview}}"></iframe>
</body>
</html>
`))

type appPageData struct {
	Settings settings.Record
	Outcome  activation.Outcome
	Preview  string
}

// handleAppPage renders the embedded admin landing page. Loading it reconciles
// the tenant's pixel.
func (s *Server) handleAppPage(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	rec, err := s.settings.Load(r.Context(), tenant)
	if err != nil {
		s.settingsError(w, tenant, err)
		return
	}
	outcome := s.reconcile(r.Context(), "app-page", rec)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := appPage.Execute(w, appPageData{
		Settings: rec,
		Outcome:  outcome,
		Preview:  "<p>Pixel preview for " + rec.Tenant + "</p>",
	}); err != nil {
		s.logger.Error("render app page failed", "tenant", tenant, "error", err)
	}
}
