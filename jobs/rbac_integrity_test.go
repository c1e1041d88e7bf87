package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/edu-platform/edu-platform/internal/jobs"
	"github.com/edu-platform/edu-platform/internal/rbac"
)

type stubScanner struct {
	report rbac.IntegrityReport
	err    error
	calls  int
}

func (s *stubScanner) IntegrityReport(context.Context) (rbac.IntegrityReport, error) {
	s.calls++
	return s.report, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRBACIntegrityJobRun(t *testing.T) {
	scanner := &stubScanner{report: rbac.IntegrityReport{
		TotalRoles:          2,
		TotalPermissions:    3,
		EmptyRoles:          []rbac.RoleRef{{ID: 2, Name: "Guest"}},
		OrphanedPermissions: []rbac.Permission{{ID: 9, Name: "view_reports"}},
	}}
	job := NewRBACIntegrityJob(scanner, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, 1, scanner.calls)
}

func TestRBACIntegrityJobPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewRBACIntegrityJob(&stubScanner{err: boom}, quietLogger(), nil)

	_, err := job.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRBACIntegrityJobHandle(t *testing.T) {
	scanner := &stubScanner{}
	job := NewRBACIntegrityJob(scanner, quietLogger(), nil)

	task, err := NewRBACIntegrityTask(RBACIntegrityPayload{RequestedBy: 7})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, scanner.calls)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRBACIntegrityScan, nil)))
	assert.Equal(t, 2, scanner.calls)
}

func TestRBACIntegrityJobRejectsBadPayload(t *testing.T) {
	scanner := &stubScanner{}
	job := NewRBACIntegrityJob(scanner, quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskRBACIntegrityScan, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, scanner.calls)
}
