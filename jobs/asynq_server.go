package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger: newAsynqLogger(cfg.Logger),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
			cfg.Logger.Info("cron registered", slog.String("task", entry.Task.Type()), slog.String("spec", entry.Spec))
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRBACIntegrityScan enqueues an integrity scan. A second request with the
// same payload within a minute is rejected with ErrScanPending.
func (c *Client) EnqueueRBACIntegrityScan(ctx context.Context, payload RBACIntegrityPayload) (*asynq.TaskInfo, error) {
	task, err := NewRBACIntegrityTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(time.Minute))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, ErrScanPending
	}
	return info, err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// ErrScanPending is returned when an integrity scan is already queued.
var ErrScanPending = errors.New("jobs: integrity scan already pending")

// Enqueuer submits integrity scans. *Client satisfies it.
type Enqueuer interface {
	EnqueueRBACIntegrityScan(ctx context.Context, payload RBACIntegrityPayload) (*asynq.TaskInfo, error)
}

// QueueInspector reports queue depth. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability and triggering.
type Handler struct {
	inspector QueueInspector
	enqueuer  Enqueuer
	rbac      rbac.Middleware
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints. inspector and
// enqueuer may be nil when Redis is not configured.
func NewHandler(inspector QueueInspector, enqueuer Enqueuer, rbacMW rbac.Middleware, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, enqueuer: enqueuer, rbac: rbacMW, logger: logger}
}

// MountRoutes attaches every job route. Callers that authenticate only part
// of the tree use Health and MountProtectedRoutes instead.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	h.MountProtectedRoutes(r)
}

// MountProtectedRoutes attaches the routes that need a principal.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.With(h.rbac.Require(shared.PermSystemAdmin)).Post("/rbac-integrity", h.enqueueIntegrity)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
	Failed  int    `json:"failed"`
}

type enqueueResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

// Health reports the depth of the default queue.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "queue unavailable")
		return
	}
	resp := queueHealth{Queue: QueueDefault}
	if info != nil {
		resp.Queue = info.Queue
		resp.Pending = info.Pending
		resp.Active = info.Active
		resp.Failed = info.Failed
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) enqueueIntegrity(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "job queue is not configured")
		return
	}
	payload := RBACIntegrityPayload{RequestedBy: rbac.PrincipalFromContext(r.Context()).GetID()}
	info, err := h.enqueuer.EnqueueRBACIntegrityScan(r.Context(), payload)
	if errors.Is(err, ErrScanPending) {
		httpx.Problem(w, http.StatusConflict, http.StatusText(http.StatusConflict), "an integrity scan is already pending")
		return
	}
	if err != nil {
		h.logger.Error("enqueue integrity scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{TaskID: info.ID, Queue: info.Queue})
}
