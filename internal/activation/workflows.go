package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"example.com/better-analytics/internal/settings"
)

const (
	reconcileTaskQueue    = "activation-reconcile-task-queue"
	reconcileWorkflowName = "activation.reconcile"
	reconcileActivityName = "activation.reconcile.attempt"
)

// ReconcileInput carries the tenant's measurement id into the workflow.
type ReconcileInput struct {
	Tenant        string `json:"tenant"`
	MeasurementID string `json:"measurement_id"`
	Reason        string `json:"reason"`
}

// ReconcileActivities hosts the activity implementation reusing the Reconciler.
type ReconcileActivities struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewReconcileActivities(reconciler *Reconciler, logger *slog.Logger) *ReconcileActivities {
	return &ReconcileActivities{reconciler: reconciler, logger: logger}
}

// ReconcileActivity performs one attempt. Classified failures are returned as
// outcomes, not errors, so Temporal never treats them as retryable.
func (a *ReconcileActivities) ReconcileActivity(ctx context.Context, input ReconcileInput) (Outcome, error) {
	ctx = WithReason(ctx, input.Reason)
	out := a.reconciler.Reconcile(ctx, input.Tenant, settings.Record{Tenant: input.Tenant, MeasurementID: input.MeasurementID})
	a.logger.Info("activity reconcile", "tenant", input.Tenant, "outcome", out.Kind, "reason", input.Reason)
	return out, nil
}

// ReconcileWorkflow runs a single activation attempt with no automatic retry.
func ReconcileWorkflow(ctx workflow.Context, input ReconcileInput) (Outcome, error) {
	logger := workflow.GetLogger(ctx)
	if input.Tenant == "" {
		return Outcome{}, errors.New("tenant required")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	logger.Info("reconcile workflow started", "tenant", input.Tenant, "reason", input.Reason)
	var out Outcome
	if err := workflow.ExecuteActivity(ctx, reconcileActivityName, input).Get(ctx, &out); err != nil {
		logger.Error("reconcile activity failed", "error", err)
		return Outcome{}, err
	}
	logger.Info("reconcile workflow finished", "tenant", input.Tenant, "outcome", out.Kind)
	return out, nil
}

// RegisterReconcileWorker wires up the Temporal worker consuming the reconcile task queue.
func RegisterReconcileWorker(c client.Client, reconciler *Reconciler, logger *slog.Logger) temporalworker.Worker {
	w := temporalworker.New(c, reconcileTaskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(ReconcileWorkflow, workflow.RegisterOptions{Name: reconcileWorkflowName})
	activities := NewReconcileActivities(reconciler, logger.With("component", "activation.activities"))
	w.RegisterActivityWithOptions(activities.ReconcileActivity, activity.RegisterOptions{Name: reconcileActivityName})
	return w
}

// TemporalOrchestrator starts reconcile workflows and waits for their outcome.
type TemporalOrchestrator struct {
	client client.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewTemporalOrchestrator(c client.Client, logger *slog.Logger) *TemporalOrchestrator {
	return &TemporalOrchestrator{client: c, logger: logger.With("component", "activation.orchestrator"), now: time.Now}
}

func (o *TemporalOrchestrator) Reconcile(ctx context.Context, tenant string, rec settings.Record) Outcome {
	input := ReconcileInput{Tenant: tenant, MeasurementID: rec.MeasurementID, Reason: reasonFrom(ctx)}
	options := client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("reconcile-%s-%d", tenant, o.now().UnixNano()),
		TaskQueue:                reconcileTaskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionTimeout: 5 * time.Minute,
	}
	we, err := o.client.ExecuteWorkflow(ctx, options, reconcileWorkflowName, input)
	if err != nil {
		o.logger.Error("start workflow failed", "tenant", tenant, "error", err)
		return o.transportError(tenant, err)
	}
	var out Outcome
	if err := we.Get(ctx, &out); err != nil {
		o.logger.Error("wait workflow failed", "workflow_id", we.GetID(), "error", err)
		return o.transportError(tenant, err)
	}
	o.logger.Info("workflow completed", "workflow_id", we.GetID(), "run_id", we.GetRunID(), "tenant", tenant, "outcome", out.Kind)
	return out
}

func (o *TemporalOrchestrator) transportError(tenant string, err error) Outcome {
	return Outcome{Tenant: tenant, Kind: KindTransportError, Message: err.Error(), AttemptedAt: o.now().UTC()}
}

// ReconcileTaskQueue exposes the queue name so callers can reference it in tests.
func ReconcileTaskQueue() string {
	return reconcileTaskQueue
}

type reasonKey struct{}

// WithReason tags a reconcile with why it was triggered (settings save, status read).
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey{}, reason)
}

func reasonFrom(ctx context.Context) string {
	if v, ok := ctx.Value(reasonKey{}).(string); ok {
		return v
	}
	return ""
}
