// Worker account HTTP handlers.
//
// Endpoints:
//   - POST /workers   (register)
//   - GET  /workers   (list)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

// CreateWorkerRequest is the JSON payload for registering a worker account.
type CreateWorkerRequest struct {
	// Name uniquely identifies the worker session.
	Name string `json:"name" binding:"required" example:"session-01"`
	// Role is "admin" or "user"; defaults to "user".
	Role string `json:"role,omitempty" example:"user"`
	// DailyLimit overrides the default per-day addition cap when > 0.
	DailyLimit int `json:"daily_limit,omitempty" example:"80"`
}

// CreateWorker registers a new worker account in Active health.
func (h *Handlers) CreateWorker(c *gin.Context) {
	var req CreateWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name must not be empty")
		return
	}
	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleAdmin && role != domain.RoleUser {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role must be admin or user")
		return
	}
	if req.DailyLimit < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "daily_limit must not be negative")
		return
	}

	w, err := repo.CreateWorker(c.Request.Context(), h.db, name, role, req.DailyLimit)
	if err != nil {
		if isUniqueViolation(err) {
			fail(c, http.StatusConflict, ErrCodeConflict, "worker name already registered")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, w)
}

// ListWorkers returns every worker account, ordered by ascending ID.
func (h *Handlers) ListWorkers(c *gin.Context) {
	workers, err := repo.ListWorkers(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"workers": workers})
}
