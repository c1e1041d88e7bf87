package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/edu-platform/edu-platform/internal/jobs"
	"github.com/edu-platform/edu-platform/internal/rbac"
)

// IntegrityScanner produces RBAC integrity reports. *rbac.Service satisfies it.
type IntegrityScanner interface {
	IntegrityReport(ctx context.Context) (rbac.IntegrityReport, error)
}

// RBACIntegrityJob scans roles and permissions for data that is probably a mistake.
type RBACIntegrityJob struct {
	scanner IntegrityScanner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewRBACIntegrityJob constructs the job. metrics may be nil.
func NewRBACIntegrityJob(scanner IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RBACIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACIntegrityJob{scanner: scanner, logger: logger, metrics: metrics}
}

// Run executes one scan and logs its findings.
func (j *RBACIntegrityJob) Run(ctx context.Context) (rbac.IntegrityReport, error) {
	tracker := j.metrics.Track("rbac_integrity")
	report, err := j.scanner.IntegrityReport(ctx)
	if err != nil {
		return rbac.IntegrityReport{}, tracker.End(fmt.Errorf("rbac integrity scan: %w", err))
	}
	j.metrics.ObserveIntegrity(len(report.EmptyRoles), len(report.UnassignedRoles), len(report.OrphanedPermissions))

	level := slog.LevelInfo
	if !report.Clean() {
		level = slog.LevelWarn
	}
	j.logger.Log(ctx, level, "rbac integrity scan",
		slog.String("job", "rbac_integrity"),
		slog.Int("roles", report.TotalRoles),
		slog.Int("permissions", report.TotalPermissions),
		slog.Int("empty_roles", len(report.EmptyRoles)),
		slog.Int("unassigned_roles", len(report.UnassignedRoles)),
		slog.Int("orphaned_permissions", len(report.OrphanedPermissions)))
	return report, tracker.End(nil)
}

// Handle processes TaskRBACIntegrityScan tasks.
func (j *RBACIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RBACIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.RequestedBy > 0 {
		j.logger.Info("rbac integrity scan requested", slog.Int64("user_id", payload.RequestedBy))
	}
	_, err := j.Run(ctx)
	return err
}
