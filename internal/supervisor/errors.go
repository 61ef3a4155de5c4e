// Package supervisor drives automated addition runs. This file centralizes
// common supervisor-level error values so that they can be consistently
// returned by supervisor methods and checked by callers.
//
// These errors are intended for internal use by the supervisor layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package supervisor

import "errors"

// Configuration errors, rejected synchronously at Start and never reaching
// the dispatch loop.
var (
	// ErrNoDestination is returned when a run configuration has no
	// destination group selected.
	ErrNoDestination = errors.New("no destination selected")

	// ErrDelayOutOfRange is returned when the per-worker delay falls
	// outside the configured bounds.
	ErrDelayOutOfRange = errors.New("delay out of range")

	// ErrBatchSize is returned when the batch size is below 1.
	ErrBatchSize = errors.New("batch size must be >= 1")

	// ErrDailyLimit is returned when the per-worker daily limit is below 1.
	ErrDailyLimit = errors.New("daily limit must be >= 1")

	// ErrBadRoleFilter is returned when the role filter names an unknown
	// worker role.
	ErrBadRoleFilter = errors.New("role filter must be admin, user, or empty")
)

// Run lifecycle errors.
var (
	// ErrRunActive is returned by Start when a run is already running or
	// paused against the same destination.
	ErrRunActive = errors.New("a run is already active for this destination")

	// ErrRunNotFound is returned when the referenced run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunEnded is returned for stop/pause/resume on a run that already
	// reached a terminal status.
	ErrRunEnded = errors.New("run already ended")

	// ErrNotPaused is returned by Resume when the run is not paused.
	ErrNotPaused = errors.New("run is not paused")
)
