// Package handlers contains the HTTP handler implementations for the Inkwell
// admin API: queue inspection, manual triggers, and the health probe.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"inkwell/internal/core"
	"inkwell/internal/stats"
	"inkwell/internal/types"
)

// BatchCreator is the job-creation surface the admin triggers invoke.
type BatchCreator interface {
	CreateHourlyJobs(ctx context.Context, nowUTC time.Time) (int, error)
	CreateJobsForAll(ctx context.Context, nowUTC time.Time, priority int) (int, error)
	CreateJobForUser(ctx context.Context, nowUTC time.Time, userID string, jobType types.JobType, priority int) error
}

// DispatchTrigger starts one dispatcher pass in the background. False means
// a pass was already running and this trigger was skipped.
type DispatchTrigger interface {
	TriggerDispatch(ctx context.Context) bool
}

// StatsProvider serves the read-only operational views.
type StatsProvider interface {
	Snapshot(ctx context.Context, now time.Time) (*stats.QueueSnapshot, error)
	Overview(ctx context.Context, now time.Time) (*stats.Overview, error)
	CheckHealth(ctx context.Context) error
}

// QueueUserRequest is the body for POST /admin/queue-user.
type QueueUserRequest struct {
	UserID  string `json:"user_id" validate:"required,uuid"`
	JobType string `json:"job_type" validate:"required"`
}

// TriggerResponse reports the result of a manual trigger.
type TriggerResponse struct {
	Queued  int    `json:"queued,omitempty"`
	Message string `json:"message"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	QueueAccessible bool      `json:"queue_accessible"`
	WorkerID        string    `json:"worker_id"`
}

// AdminHandler serves the admin surface. When the queue kill switch is off,
// every mutating endpoint and the stats reads answer a disabled-state message
// without touching the queue; the health probe still reports store
// accessibility.
type AdminHandler struct {
	creator   BatchCreator
	dispatch  DispatchTrigger
	stats     StatsProvider
	validator *core.Validator
	enabled   bool
	workerID  string
	logger    *slog.Logger
}

// NewAdminHandler builds the handler. enabled is the QUEUE_ENABLED switch.
func NewAdminHandler(creator BatchCreator, dispatch DispatchTrigger, statsProvider StatsProvider, validator *core.Validator, enabled bool, workerID string, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		creator:   creator,
		dispatch:  dispatch,
		stats:     statsProvider,
		validator: validator,
		enabled:   enabled,
		workerID:  workerID,
		logger:    logger,
	}
}

// RegisterRoutes mounts the admin endpoints on r. The health probe is mounted
// separately, outside the auth boundary.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.HandleStats)
	r.Get("/queue", h.HandleQueue)
	r.Post("/process-all", h.HandleProcessAll)
	r.Post("/queue-user", h.HandleQueueUser)
	r.Post("/process-pending", h.HandleProcessPending)
	r.Post("/create-hourly-jobs", h.HandleCreateHourlyJobs)
}

// guard short-circuits the request when the queue is disabled. Returns false
// when the response has been written. Disabled is an announced state, not an
// error: the caller gets a plain message and HTTP 200.
func (h *AdminHandler) guard(w http.ResponseWriter, r *http.Request) bool {
	if h.enabled {
		return true
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: TriggerResponse{
		Message: "notification queue is disabled",
	}})
	return false
}

// HandleStats serves GET /admin/stats: the full overview of queue depth,
// active workers, and daily rollups.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r) {
		return
	}

	overview, err := h.stats.Overview(r.Context(), time.Now().UTC())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: overview})
}

// HandleQueue serves GET /admin/queue: the point-in-time queue snapshot.
func (h *AdminHandler) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r) {
		return
	}

	snap, err := h.stats.Snapshot(r.Context(), time.Now().UTC())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snap})
}

// HandleProcessAll serves POST /admin/process-all: queues one job for every
// enabled user regardless of their hour slot, above normal hourly priority.
func (h *AdminHandler) HandleProcessAll(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r) {
		return
	}

	queued, err := h.creator.CreateJobsForAll(r.Context(), time.Now().UTC(), types.PriorityBulkManual)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: TriggerResponse{
		Queued:  queued,
		Message: "bulk jobs queued",
	}})
}

// HandleQueueUser serves POST /admin/queue-user: queues a single job for one
// user at the highest manual priority.
func (h *AdminHandler) HandleQueueUser(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r) {
		return
	}

	var req QueueUserRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	jobType := types.JobType(req.JobType)
	if !jobType.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationJobType,
			"unknown job type",
			nil,
			map[string]any{"job_type": req.JobType},
		))
		return
	}

	if err := h.creator.CreateJobForUser(r.Context(), time.Now().UTC(), req.UserID, jobType, types.PriorityUserManual); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: TriggerResponse{
		Queued:  1,
		Message: "job queued for user",
	}})
}

// HandleProcessPending serves POST /admin/process-pending: kicks one
// dispatcher pass immediately instead of waiting for the next tick. Shares
// the scheduler's re-entrancy guard, so a trigger during a running pass is
// acknowledged as skipped rather than queued. The pass outlives the request;
// a client disconnect does not interrupt deliveries mid-flight.
func (h *AdminHandler) HandleProcessPending(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r) {
		return
	}

	started := h.dispatch.TriggerDispatch(r.Context())
	msg := "queue pass started"
	if !started {
		msg = "queue pass already running, trigger skipped"
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: TriggerResponse{Message: msg}})
}

// HandleCreateHourlyJobs serves POST /admin/create-hourly-jobs: runs the
// batch creation for the current hour slot on demand.
func (h *AdminHandler) HandleCreateHourlyJobs(w http.ResponseWriter, r *http.Request) {
	if !h.guard(w, r) {
		return
	}

	queued, err := h.creator.CreateHourlyJobs(r.Context(), time.Now().UTC())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: TriggerResponse{
		Queued:  queued,
		Message: "hourly jobs queued",
	}})
}

// HandleHealth serves GET /health. Healthy means the queue store answered
// the probe read; a failure reports 503 with queue_accessible false so load
// balancers rotate the instance out.
func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "ok",
		Timestamp:       time.Now().UTC(),
		QueueAccessible: true,
		WorkerID:        h.workerID,
	}

	if err := h.stats.CheckHealth(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health probe failed", "error", err)
		resp.Status = "degraded"
		resp.QueueAccessible = false
		core.JSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}

	core.JSON(w, r, http.StatusOK, resp)
}
