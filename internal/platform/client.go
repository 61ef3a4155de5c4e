// Package platform defines the abstract capability interface over the remote
// messaging platform. The supervisor consumes this interface only; the real
// client (wrapping the platform wire protocol) is supplied by the caller and
// is out of scope for this repository.
//
// Remote failures are modeled as a closed set of error variants so that the
// outcome handling in the ledger is exhaustive: RateLimitedError,
// ErrPrivacyRestricted, ErrInvalidSession, ErrForbidden, ErrNotFound, and
// UnknownError. Anything a client implementation cannot classify must be
// wrapped in UnknownError.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abinet508/go-adder-backend/internal/domain"
)

// Client is the remote-addition capability consumed by the supervisor.
//
// Implementations perform real platform calls; all methods must honor the
// context and may be called concurrently for different workers.
type Client interface {
	// JoinDestination joins the worker's session to the destination group.
	// Returns ErrForbidden or ErrNotFound when the group is inaccessible.
	JoinDestination(ctx context.Context, worker *domain.Worker, destinationID string) error

	// AddMember adds the phone number to the destination group using the
	// worker's session. Failure is one of the closed error variants.
	AddMember(ctx context.Context, worker *domain.Worker, destinationID, phone string) error

	// SendInvite delivers an invite message directly to the phone number.
	// Used as a fallback for privacy-restricted numbers.
	SendInvite(ctx context.Context, worker *domain.Worker, phone, message string) error

	// WorkerHealth probes whether the worker's session is still authorized.
	WorkerHealth(ctx context.Context, worker *domain.Worker) (string, error)
}

// Sentinel errors for permanently classified remote failures.
var (
	// ErrPrivacyRestricted means the phone number's privacy settings forbid
	// being added by a non-contact. Permanent per number.
	ErrPrivacyRestricted = errors.New("platform: privacy restricted")

	// ErrInvalidSession means the worker's session is no longer authorized.
	// The worker must be re-authenticated externally.
	ErrInvalidSession = errors.New("platform: invalid session")

	// ErrForbidden means the worker may not access the destination group.
	ErrForbidden = errors.New("platform: destination forbidden")

	// ErrNotFound means the destination group does not exist.
	ErrNotFound = errors.New("platform: destination not found")
)

// RateLimitedError is a temporary platform penalty. The platform supplies
// the wait duration; the worker must not attempt again before it elapses.
type RateLimitedError struct {
	Wait time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("platform: rate limited, wait %s", e.Wait)
}

// UnknownError wraps any remote failure that does not fit the closed set.
// It is treated as a transient, retryable per-number fault.
type UnknownError struct {
	Detail string
}

// Error implements the error interface.
func (e *UnknownError) Error() string {
	return "platform: " + e.Detail
}

// AsRateLimited extracts a RateLimitedError from err, if present.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
