// Run HTTP handlers.
//
// This file exposes REST endpoints for automation runs:
//   - POST   /runs               (start)
//   - GET    /runs               (list, paginated)
//   - GET    /runs/{id}          (progress snapshot)
//   - POST   /runs/{id}/stop     (cancel)
//   - POST   /runs/{id}/pause    (suspend dispatch)
//   - POST   /runs/{id}/resume   (resume dispatch)
//   - GET    /runs/{id}/events   (live progress stream, SSE)
//
// Handlers are transport-thin: they validate input, call the supervisor,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
	"github.com/abinet508/go-adder-backend/internal/supervisor"
	"github.com/abinet508/go-adder-backend/internal/utils"
)

//
// Supervisor contract
//

// RunService defines the run lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RunService interface {
	// Start validates the configuration and launches a new run.
	Start(ctx context.Context, cfg supervisor.RunConfig) (*domain.Run, error)
	// Stop cancels a run; in-flight attempts still complete.
	Stop(id string) error
	// Pause suspends dispatch without releasing the destination slot.
	Pause(id string) error
	// Resume moves a paused run back to running.
	Resume(id string) error
	// Progress returns a state snapshot of a live or archived run.
	Progress(ctx context.Context, id string) (*domain.Run, error)
	// Subscribe attaches to the run's progress-event stream.
	Subscribe(id string) (<-chan supervisor.Event, func(), error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for runs, phone numbers, workers, and stats.
// It depends on the abstract RunService to keep transport concerns separate
// from scheduling logic; queue and worker management go straight to the
// repository layer.
type Handlers struct {
	runSvc RunService
	db     *gorm.DB
}

// New constructs and returns a Handlers instance bound to the given
// supervisor and database handle.
func New(runSvc RunService, db *gorm.DB) *Handlers {
	return &Handlers{runSvc: runSvc, db: db}
}

//
// DTOs
//

// StartRunRequest is the JSON payload for starting a run.
type StartRunRequest struct {
	// DestinationID is the target group; required.
	DestinationID string `json:"destination_id" binding:"required" example:"-1001234567890"`
	// DelaySeconds is the per-worker pause after each attempt.
	DelaySeconds int `json:"delay_seconds" example:"30"`
	// BatchSize is the number of concurrent dispatch slots (default applies when 0).
	BatchSize int `json:"batch_size" example:"5"`
	// DailyLimit is the per-worker daily cap recorded for this run (default applies when 0).
	DailyLimit int `json:"daily_limit" example:"80"`
	// InviteMessage enables the invite-link fallback for privacy-restricted numbers.
	InviteMessage string `json:"invite_message,omitempty"`
	// RoleFilter restricts worker eligibility: "admin", "user", or empty for any.
	RoleFilter string `json:"role_filter,omitempty" example:"user"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRunsResponse wraps a page of runs and pagination information.
type ListRunsResponse struct {
	Runs       []domain.Run `json:"runs"`
	Pagination Pagination   `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// startRunError maps supervisor sentinel errors onto HTTP responses.
func startRunError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, supervisor.ErrRunActive):
		fail(c, http.StatusConflict, ErrCodeRunActive, err.Error())
	case errors.Is(err, supervisor.ErrNoDestination),
		errors.Is(err, supervisor.ErrDelayOutOfRange),
		errors.Is(err, supervisor.ErrBatchSize),
		errors.Is(err, supervisor.ErrDailyLimit),
		errors.Is(err, supervisor.ErrBadRoleFilter):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeStartFailed, err.Error())
	}
}

// runLifecycleError maps stop/pause/resume errors onto HTTP responses.
func runLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, supervisor.ErrRunNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, supervisor.ErrRunEnded):
		fail(c, http.StatusGone, ErrCodeRunEnded, err.Error())
	case errors.Is(err, supervisor.ErrNotPaused):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// StartRun launches a new automation run from the posted configuration.
// Validation failures return 400; a destination with an already active run
// returns 409.
func (h *Handlers) StartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	run, err := h.runSvc.Start(c.Request.Context(), supervisor.RunConfig{
		DestinationID: strings.TrimSpace(req.DestinationID),
		Delay:         time.Duration(req.DelaySeconds) * time.Second,
		BatchSize:     req.BatchSize,
		DailyLimit:    req.DailyLimit,
		InviteMessage: req.InviteMessage,
		RoleFilter:    req.RoleFilter,
	})
	if err != nil {
		startRunError(c, err)
		return
	}
	ok(c, http.StatusCreated, run)
}

// ListRuns returns a page of runs, most recent first.
func (h *Handlers) ListRuns(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	total, err := repo.CountRuns(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items := []domain.Run{}
	if total > 0 {
		items, err = repo.ListRunsPage(ctx, h.db, (page-1)*pageSize, pageSize)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
			return
		}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRunsResponse{
		Runs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRun returns the run's current state snapshot.
func (h *Handlers) GetRun(c *gin.Context) {
	run, err := h.runSvc.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, supervisor.ErrRunNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "run not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, run)
}

// StopRun cancels the run. In-flight attempts still complete.
func (h *Handlers) StopRun(c *gin.Context) {
	if err := h.runSvc.Stop(c.Param("id")); err != nil {
		runLifecycleError(c, err)
		return
	}
	noContent(c)
}

// PauseRun suspends dispatch for the run.
func (h *Handlers) PauseRun(c *gin.Context) {
	if err := h.runSvc.Pause(c.Param("id")); err != nil {
		runLifecycleError(c, err)
		return
	}
	noContent(c)
}

// ResumeRun resumes dispatch for a paused run.
func (h *Handlers) ResumeRun(c *gin.Context) {
	if err := h.runSvc.Resume(c.Param("id")); err != nil {
		runLifecycleError(c, err)
		return
	}
	noContent(c)
}

// StreamRunEvents streams the run's progress events as Server-Sent Events.
// One "progress" event is emitted after every recorded outcome and a final
// one when the run ends; the stream then closes.
func (h *Handlers) StreamRunEvents(c *gin.Context) {
	ch, cancel, err := h.runSvc.Subscribe(c.Param("id"))
	if err != nil {
		runLifecycleError(c, err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// The server-wide write timeout would sever long-lived streams; lift
	// the deadline for this response only. Runs can outlive any sane
	// global timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent("progress", ev)
			return true
		case <-clientGone:
			return false
		}
	})
}
