// Phone queue HTTP handlers.
//
// Endpoints:
//   - POST   /phones        (bulk enqueue)
//   - GET    /phones        (list, paginated, optional status filter, ETag)
//   - DELETE /phones/{id}   (remove one)
//   - DELETE /phones        (clear queue)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
	"github.com/abinet508/go-adder-backend/internal/utils"
)

// EnqueuePhonesRequest is the JSON payload for bulk-adding phone numbers.
type EnqueuePhonesRequest struct {
	// Values holds the phone numbers to enqueue, in desired processing order.
	Values []string `json:"values" binding:"required"`
}

// EnqueuePhonesResponse reports the outcome of a bulk enqueue.
type EnqueuePhonesResponse struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// ListPhonesResponse wraps a page of phone numbers and pagination info.
type ListPhonesResponse struct {
	Phones     []domain.PhoneNumber `json:"phones"`
	Pagination Pagination           `json:"pagination"`
}

// validPhoneStatus reports whether s names a known phone status.
func validPhoneStatus(s string) bool {
	switch s {
	case domain.PhonePending, domain.PhoneAdded, domain.PhoneInvited,
		domain.PhoneFailed, domain.PhoneBlacklisted:
		return true
	}
	return false
}

// EnqueuePhones appends phone numbers to the queue in request order.
// Blank entries and values already present are skipped, not rejected, so a
// re-uploaded list is idempotent.
func (h *Handlers) EnqueuePhones(c *gin.Context) {
	var req EnqueuePhonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if len(req.Values) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "values must not be empty")
		return
	}

	ctx := c.Request.Context()
	resp := EnqueuePhonesResponse{}
	seen := make(map[string]struct{}, len(req.Values))
	for _, raw := range req.Values {
		v := strings.TrimSpace(raw)
		if v == "" {
			resp.Skipped++
			continue
		}
		if _, dup := seen[v]; dup {
			resp.Skipped++
			continue
		}
		seen[v] = struct{}{}
		if _, err := repo.CreatePhone(ctx, h.db, v); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
				resp.Skipped++
				continue
			}
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
			return
		}
		resp.Added++
	}
	ok(c, http.StatusCreated, resp)
}

// isUniqueViolation reports whether err looks like a UNIQUE constraint
// failure. The pure-Go sqlite driver surfaces these as plain errors, so
// string matching is the only portable check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}

// ListPhones returns a page of phone numbers in queue order. Supports an
// optional ?status= filter and conditional requests via a weak ETag derived
// from the queue's row count and latest modification time.
func (h *Handlers) ListPhones(c *gin.Context) {
	ctx := c.Request.Context()

	status := strings.TrimSpace(c.Query("status"))
	if status != "" && !validPhoneStatus(status) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag covers the whole table so any outcome written by a run
	// invalidates cached pages.
	count, maxUpdated, err := repo.PhonesStats(ctx, h.db)
	if err == nil {
		var ts int64
		if maxUpdated != nil {
			ts = maxUpdated.UnixNano()
		}
		etag := fmt.Sprintf(`W/"phones-%d-%d"`, count, ts)
		c.Header("ETag", etag)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	total, err := repo.CountPhones(ctx, h.db, status)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items := []domain.PhoneNumber{}
	if total > 0 {
		items, err = repo.ListPhonesPage(ctx, h.db, status, (page-1)*pageSize, pageSize)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
			return
		}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListPhonesResponse{
		Phones: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// DeletePhone removes a single phone number from the queue by ID.
func (h *Handlers) DeletePhone(c *gin.Context) {
	id := utils.AtoiDefault(c.Param("id"), 0)
	if id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid phone id")
		return
	}
	if err := repo.DeletePhone(c.Request.Context(), h.db, uint(id)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "phone not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ClearPhones removes every phone number from the queue and reports how many
// rows were deleted.
func (h *Handlers) ClearPhones(c *gin.Context) {
	n, err := repo.DeleteAllPhones(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": n})
}
