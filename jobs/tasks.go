package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACIntegrityScan is the task type for the RBAC integrity scan.
	TaskRBACIntegrityScan = "rbac:integrity_scan"
)

// RBACIntegrityPayload describes who asked for a scan. Zero means the scheduler.
type RBACIntegrityPayload struct {
	RequestedBy int64 `json:"requested_by"`
}

// NewRBACIntegrityTask constructs an Asynq task.
func NewRBACIntegrityTask(payload RBACIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACIntegrityScan, data), nil
}
