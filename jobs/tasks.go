package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileCharges runs a charge reconciliation pass.
	TaskReconcileCharges = "billing:reconcile_charges"
	// TaskReconcileReports runs an annual-report reconciliation pass.
	TaskReconcileReports = "billing:reconcile_reports"
)

// ReconcileChargesPayload parameterizes a charge reconciliation pass.
type ReconcileChargesPayload struct {
	WindowDays int `json:"window_days"`
}

// ReconcileReportsPayload parameterizes a report reconciliation pass.
type ReconcileReportsPayload struct {
	WindowMonths int `json:"window_months"`
}

// NewReconcileChargesTask constructs an Asynq task.
func NewReconcileChargesTask(payload ReconcileChargesPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileCharges, data), nil
}

// NewReconcileReportsTask constructs an Asynq task.
func NewReconcileReportsTask(payload ReconcileReportsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileReports, data), nil
}
