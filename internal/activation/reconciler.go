package activation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"example.com/better-analytics/internal/lock"
	"example.com/better-analytics/internal/settings"
)

// Orchestrator abstracts how a reconcile is executed: inline through the
// Reconciler, or as a Temporal workflow. Callers await the Outcome.
type Orchestrator interface {
	Reconcile(ctx context.Context, tenant string, rec settings.Record) Outcome
}

// Reconciler keeps the remote pixel in line with a tenant's measurement id on a
// best-effort basis. It never persists the outcome and never retries.
type Reconciler struct {
	client     PixelCreator
	classifier Classifier
	locker     lock.Locker
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler wires a reconciler. A nil classifier matches only "already
// exists"; a nil locker means lock.NewLocal.
func NewReconciler(client PixelCreator, classifier Classifier, locker lock.Locker, logger *slog.Logger) *Reconciler {
	if classifier == nil {
		classifier = &PatternClassifier{phrase: defaultAlreadyExistsPhrase}
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Reconciler{
		client:     client,
		classifier: classifier,
		locker:     locker,
		logger:     logger,
		now:        time.Now,
	}
}

// Reconcile attempts activation for rec.MeasurementID. Calls for the same tenant
// are serialised; the remote create is not assumed safe to run concurrently.
func (r *Reconciler) Reconcile(ctx context.Context, tenant string, rec settings.Record) Outcome {
	out := Outcome{Tenant: tenant, AttemptedAt: r.now().UTC()}
	measurementID := strings.TrimSpace(rec.MeasurementID)
	if measurementID == "" {
		out.Kind = KindSkipped
		r.logger.Debug("activation skipped, measurement id not configured", "tenant", tenant)
		return out
	}

	unlock, err := r.locker.Lock(ctx, "activation:"+tenant)
	if err != nil {
		out.Kind = KindTransportError
		out.Message = "acquire tenant lock: " + err.Error()
		r.logger.Warn("activation lock unavailable", "tenant", tenant, "error", err)
		return out
	}
	defer unlock()

	payload, err := SettingsPayload(measurementID)
	if err != nil {
		out.Kind = KindTransportError
		out.Message = err.Error()
		return out
	}

	result, err := r.client.CreatePixel(ctx, tenant, payload)
	if err != nil {
		out.Kind = KindTransportError
		out.Message = err.Error()
		r.logger.Warn("activation transport error", "tenant", tenant, "error", err)
		return out
	}
	r.classify(&out, result)
	r.logger.Info("activation attempted", "tenant", tenant, "measurement_id", measurementID, "outcome", out.Kind, "pixel_id", out.PixelID, "reason", reasonFrom(ctx))
	return out
}

func (r *Reconciler) classify(out *Outcome, result CreateResult) {
	if len(result.UserErrors) == 0 {
		out.Kind = KindCreated
		if result.WebPixel != nil {
			out.PixelID = result.WebPixel.ID
		}
		return
	}
	for _, ue := range result.UserErrors {
		if r.classifier.AlreadyExists(ue.Message) {
			out.Kind = KindAlreadyActive
			return
		}
	}
	first := result.UserErrors[0]
	out.Kind = KindFailed
	out.Field = first.FieldPath()
	out.Message = first.Message
}
