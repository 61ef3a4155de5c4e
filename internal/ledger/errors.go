package ledger

import "errors"

// ErrNotPending is returned by RecordOutcome when the phone number already
// left Pending. It signals a duplicate-claim bug in the caller rather than a
// recoverable condition.
var ErrNotPending = errors.New("phone number is not pending")
