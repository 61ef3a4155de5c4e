package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/abinet508/go-adder-backend/internal/domain"
	"github.com/abinet508/go-adder-backend/internal/repo"
)

func workerRouter(t *testing.T) (*gin.Engine, *Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := New(stubRunSvc{}, newHandlerDB(t))
	r := gin.New()
	r.POST("/workers", h.CreateWorker)
	r.GET("/workers", h.ListWorkers)
	return r, h
}

func TestCreateWorker(t *testing.T) {
	r, _ := workerRouter(t)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/workers", bytes.NewBufferString(body)))
		return w
	}

	// Bad JSON -> 400
	if w := post("{bad"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}

	// Blank name -> 400
	if w := post(`{"name":"   "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("blank name -> %d", w.Code)
	}

	// Unknown role -> 400
	if w := post(`{"name":"s1","role":"owner"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad role -> %d", w.Code)
	}

	// Negative limit -> 400
	if w := post(`{"name":"s1","daily_limit":-1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("negative limit -> %d", w.Code)
	}

	// Success -> 201 with role defaulted to user.
	w := post(`{"name":"  session-01  ","daily_limit":40}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create -> %d body=%s", w.Code, w.Body.String())
	}
	var out domain.Worker
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Name != "session-01" || out.Role != domain.RoleUser || out.DailyLimit != 40 {
		t.Fatalf("unexpected worker: %#v", out)
	}
	if out.Health != domain.WorkerActive {
		t.Fatalf("health = %q", out.Health)
	}

	// Duplicate name -> 409
	if w := post(`{"name":"session-01"}`); w.Code != http.StatusConflict {
		t.Fatalf("duplicate -> %d", w.Code)
	}
}

func TestListWorkers(t *testing.T) {
	r, h := workerRouter(t)
	ctx := context.Background()
	for _, n := range []string{"w1", "w2"} {
		if _, err := repo.CreateWorker(ctx, h.db, n, domain.RoleUser, 80); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/workers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var out struct {
		Workers []domain.Worker `json:"workers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Workers) != 2 || out.Workers[0].Name != "w1" {
		t.Fatalf("workers: %+v", out.Workers)
	}
}
