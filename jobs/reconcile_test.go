package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/atlasagents/backoffice/internal/charges"
	"github.com/atlasagents/backoffice/internal/reports"
)

type fakeChargeReconciler struct {
	gotWindow int
	err       error
}

func (f *fakeChargeReconciler) Reconcile(_ context.Context, windowDays int) (charges.ReconcileResult, error) {
	f.gotWindow = windowDays
	return charges.ReconcileResult{RunID: "run-1", Created: 2}, f.err
}

type fakeReportReconciler struct {
	gotWindow int
	err       error
}

func (f *fakeReportReconciler) Reconcile(_ context.Context, windowMonths int) (reports.ReconcileResult, error) {
	f.gotWindow = windowMonths
	return reports.ReconcileResult{RunID: "run-2", Created: 1}, f.err
}

func TestReconcileChargesJobPassesWindow(t *testing.T) {
	svc := &fakeChargeReconciler{}
	job := NewReconcileChargesJob(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	task, err := NewReconcileChargesTask(ReconcileChargesPayload{WindowDays: 45})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 45, svc.gotWindow)
}

func TestReconcileChargesJobSkipsRetryOnBadPayload(t *testing.T) {
	svc := &fakeChargeReconciler{}
	job := NewReconcileChargesJob(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	task := asynq.NewTask(TaskReconcileCharges, []byte("not json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
	require.Zero(t, svc.gotWindow)
}

func TestReconcileChargesJobPropagatesServiceError(t *testing.T) {
	svc := &fakeChargeReconciler{err: errors.New("boom")}
	job := NewReconcileChargesJob(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	task, err := NewReconcileChargesTask(ReconcileChargesPayload{WindowDays: 7})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestReconcileReportsJobPassesWindow(t *testing.T) {
	svc := &fakeReportReconciler{}
	job := NewReconcileReportsJob(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	task, err := NewReconcileReportsTask(ReconcileReportsPayload{WindowMonths: 6})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6, svc.gotWindow)
}

func TestHandlerHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}

func TestHandlerRunWithoutClient(t *testing.T) {
	h := NewHandler(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run/reconcile-charges", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
