package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atlasagents/backoffice/internal/charges"
	jobmetrics "github.com/atlasagents/backoffice/internal/jobs"
	"github.com/atlasagents/backoffice/internal/reports"
)

// ChargeReconciler is the slice of the charge service the worker needs.
type ChargeReconciler interface {
	Reconcile(ctx context.Context, windowDays int) (charges.ReconcileResult, error)
}

// ReportReconciler is the slice of the report service the worker needs.
type ReportReconciler interface {
	Reconcile(ctx context.Context, windowMonths int) (reports.ReconcileResult, error)
}

// ReconcileChargesJob runs scheduled charge reconciliation passes.
type ReconcileChargesJob struct {
	service ChargeReconciler
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewReconcileChargesJob constructs the job.
func NewReconcileChargesJob(service ChargeReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileChargesJob {
	return &ReconcileChargesJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskReconcileCharges tasks.
func (j *ReconcileChargesJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcileChargesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("reconcile_charges")
	result, err := j.service.Reconcile(ctx, payload.WindowDays)
	if err = tracker.End(err); err != nil {
		j.logger.Error("scheduled charge reconcile failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("scheduled charge reconcile done",
		slog.String("run_id", result.RunID),
		slog.Int64("created", result.Created),
		slog.Int64("updated", result.Updated),
		slog.Int64("failed", result.Failed))
	return nil
}

// ReconcileReportsJob runs scheduled annual-report reconciliation passes.
type ReconcileReportsJob struct {
	service ReportReconciler
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewReconcileReportsJob constructs the job.
func NewReconcileReportsJob(service ReportReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileReportsJob {
	return &ReconcileReportsJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskReconcileReports tasks.
func (j *ReconcileReportsJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcileReportsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("reconcile_reports")
	result, err := j.service.Reconcile(ctx, payload.WindowMonths)
	if err = tracker.End(err); err != nil {
		j.logger.Error("scheduled report reconcile failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("scheduled report reconcile done",
		slog.String("run_id", result.RunID),
		slog.Int64("created", result.Created),
		slog.Int64("updated", result.Updated),
		slog.Int64("failed", result.Failed))
	return nil
}
