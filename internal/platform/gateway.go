package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

// GatewayClient implements Client against a session gateway: a separate
// service that holds the authenticated worker sessions and executes platform
// calls on their behalf. The gateway responds with structured JSON errors so
// failures can be mapped onto the closed error set.
//
// Error mapping:
//   - 401                       → ErrInvalidSession
//   - 403 kind "privacy"        → ErrPrivacyRestricted
//   - 403 otherwise             → ErrForbidden
//   - 404                       → ErrNotFound
//   - 429 (+ Retry-After)       → RateLimitedError
//   - anything else             → UnknownError
type GatewayClient struct {
	base   string
	apiKey string
	hc     *http.Client
}

// NewGatewayClient returns a GatewayClient for the given base URL. The API
// key is optional; when set it is sent as X-API-Key on every request.
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		hc:     &http.Client{Timeout: timeout},
	}
}

// gatewayError is the gateway's JSON error envelope.
type gatewayError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// JoinDestination joins the worker's session to the destination group.
func (g *GatewayClient) JoinDestination(ctx context.Context, worker *domain.Worker, destinationID string) error {
	return g.post(ctx, fmt.Sprintf("/sessions/%d/join", worker.ID), map[string]string{
		"destination_id": destinationID,
	})
}

// AddMember adds the phone number to the destination group.
func (g *GatewayClient) AddMember(ctx context.Context, worker *domain.Worker, destinationID, phone string) error {
	return g.post(ctx, fmt.Sprintf("/sessions/%d/add", worker.ID), map[string]string{
		"destination_id": destinationID,
		"phone":          phone,
	})
}

// SendInvite delivers an invite message directly to the phone number.
func (g *GatewayClient) SendInvite(ctx context.Context, worker *domain.Worker, phone, message string) error {
	return g.post(ctx, fmt.Sprintf("/sessions/%d/invite", worker.ID), map[string]string{
		"phone":   phone,
		"message": message,
	})
}

// WorkerHealth probes whether the worker's session is still authorized.
func (g *GatewayClient) WorkerHealth(ctx context.Context, worker *domain.Worker) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+fmt.Sprintf("/sessions/%d/health", worker.ID), nil)
	if err != nil {
		return "", &UnknownError{Detail: err.Error()}
	}
	g.decorate(req)
	resp, err := g.hc.Do(req)
	if err != nil {
		return "", &UnknownError{Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", g.classify(resp)
	}
	var body struct {
		Health string `json:"health"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &UnknownError{Detail: "malformed health response: " + err.Error()}
	}
	return body.Health, nil
}

func (g *GatewayClient) post(ctx context.Context, path string, payload map[string]string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &UnknownError{Detail: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+path, bytes.NewReader(raw))
	if err != nil {
		return &UnknownError{Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	g.decorate(req)

	resp, err := g.hc.Do(req)
	if err != nil {
		return &UnknownError{Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return g.classify(resp)
}

func (g *GatewayClient) decorate(req *http.Request) {
	if g.apiKey != "" {
		req.Header.Set("X-API-Key", g.apiKey)
	}
}

// classify maps a non-2xx gateway response onto the closed error set.
func (g *GatewayClient) classify(resp *http.Response) error {
	var ge gatewayError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ge)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrInvalidSession
	case http.StatusForbidden:
		if ge.Kind == "privacy" {
			return ErrPrivacyRestricted
		}
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		wait := time.Minute
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitedError{Wait: wait}
	default:
		detail := ge.Detail
		if detail == "" {
			detail = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		return &UnknownError{Detail: detail}
	}
}
