// Aggregate statistics HTTP handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abinet508/go-adder-backend/internal/repo"
)

// StatsResponse is the dashboard snapshot: queue composition by status plus
// per-worker daily quota usage.
type StatsResponse struct {
	Phones  map[string]int64   `json:"phones"`
	Workers []repo.WorkerUsage `json:"workers"`
}

// GetStats returns queue status counts and per-worker quota usage.
func (h *Handlers) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	phones, err := repo.PhoneStatusCounts(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	workers, err := repo.WorkerUsages(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, StatsResponse{Phones: phones, Workers: workers})
}
