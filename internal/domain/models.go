// Package domain defines the persistence models for phone numbers, workers,
// and runs. These types are mapped with GORM and form the core data layer of
// the group-addition backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Phone number statuses. Added, Invited, and Blacklisted are terminal;
// Failed is terminal only once the retry budget is spent.
const (
	PhonePending     = "pending"
	PhoneAdded       = "added"
	PhoneInvited     = "invited"
	PhoneFailed      = "failed"
	PhoneBlacklisted = "blacklisted"
)

// Worker health states.
const (
	WorkerActive       = "active"
	WorkerCooling      = "cooling"
	WorkerDisconnected = "disconnected"
)

// Worker roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunPaused    = "paused"
	RunStopped   = "stopped"
	RunCompleted = "completed"
)

// PhoneNumber is one queued identifier to be added to a destination group.
// Rows are attempted FIFO by ascending ID (insertion order), so import order
// is also attempt order and resumption order.
//
// Fields:
//   - ID: auto-increment primary key; doubles as the FIFO position.
//   - Value: the phone number itself (unique; normalized at import time).
//   - Status: one of the Phone* constants above.
//   - AttemptCount: number of attempts that ended in a transient failure.
//   - LastAttemptAt: timestamp of the most recent attempt, if any.
//   - LastError: human-readable reason for the last failure.
//   - BlacklistReason: why the number was permanently excluded (only set
//     when Status is PhoneBlacklisted).
type PhoneNumber struct {
	ID              uint           `json:"id"               gorm:"primaryKey;autoIncrement"`
	Value           string         `json:"value"            gorm:"type:varchar(32);not null;uniqueIndex"`
	Status          string         `json:"status"           gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','added','invited','failed','blacklisted')"`
	AttemptCount    int            `json:"attempt_count"    gorm:"not null;default:0"`
	LastAttemptAt   *time.Time     `json:"last_attempt_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"       gorm:"type:text"`
	BlacklistReason string         `json:"blacklist_reason,omitempty" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for PhoneNumber.
func (PhoneNumber) TableName() string { return "phone_numbers" }

// Terminal reports whether the phone number can never be attempted again.
func (p *PhoneNumber) Terminal() bool {
	switch p.Status {
	case PhoneAdded, PhoneInvited, PhoneBlacklisted:
		return true
	}
	return false
}

// Worker is one authenticated client session capable of performing additions.
// Workers persist across runs; the supervisor only reads eligibility and
// writes back attempt outcomes.
//
// Fields:
//   - Name: unique session name (matches the session file held externally).
//   - Role: RoleAdmin or RoleUser; runs may restrict eligibility by role.
//   - Health: WorkerActive, WorkerCooling, or WorkerDisconnected.
//     Cooling clears lazily once CooldownUntil has passed; Disconnected is
//     terminal until the session is re-authenticated externally.
//   - DailyCount / DailyLimit: additions performed today vs. the cap.
//   - LastResetDate: "YYYY-MM-DD" of the last daily counter reset, compared
//     on every access so a missed reset is caught up after downtime.
//   - CooldownUntil: end of a platform-imposed penalty window, if any.
//   - LastUsedAt: completion time of the most recent attempt; drives
//     least-recently-used selection.
type Worker struct {
	ID            uint           `json:"id"             gorm:"primaryKey;autoIncrement"`
	Name          string         `json:"name"           gorm:"type:varchar(64);not null;uniqueIndex"`
	Role          string         `json:"role"           gorm:"type:varchar(16);not null;default:'user';check:role IN ('admin','user')"`
	Health        string         `json:"health"         gorm:"type:varchar(16);not null;default:'active';check:health IN ('active','cooling','disconnected')"`
	DailyCount    int            `json:"daily_count"    gorm:"not null;default:0"`
	DailyLimit    int            `json:"daily_limit"    gorm:"not null;default:80"`
	LastResetDate string         `json:"last_reset_date" gorm:"type:varchar(10);not null;default:''"`
	CooldownUntil *time.Time     `json:"cooldown_until,omitempty"`
	LastUsedAt    *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Worker.
func (Worker) TableName() string { return "workers" }

// Run is one execution of the supervisor against a fixed configuration.
// The configuration fields are immutable once the run starts; the state
// fields are updated as the run progresses and archived when it ends.
//
// Configuration fields:
//   - DestinationID: the target group. At most one run may be running
//     against a destination at a time.
//   - DelaySeconds: per-worker pause after each attempt.
//   - BatchSize: number of concurrent dispatch slots.
//   - DailyLimit: default per-worker daily cap applied for this run.
//   - InviteMessage: optional invite text; when set, privacy-restricted
//     numbers get one invite-link fallback before being blacklisted.
//   - RoleFilter: restrict worker eligibility to a role ("" means any).
//
// State fields:
//   - Status: RunRunning, RunPaused, RunStopped, or RunCompleted.
//   - ProcessedCount = SuccessCount + InvitedCount + FailureCount; it is
//     monotonically non-decreasing for the lifetime of the run.
type Run struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	DestinationID string     `json:"destination_id" gorm:"type:varchar(64);not null;index"`
	DelaySeconds  int        `json:"delay_seconds"  gorm:"not null"`
	BatchSize     int        `json:"batch_size"     gorm:"not null"`
	DailyLimit    int        `json:"daily_limit"    gorm:"not null"`
	InviteMessage string     `json:"invite_message,omitempty" gorm:"type:text"`
	RoleFilter    string     `json:"role_filter,omitempty"    gorm:"type:varchar(16)"`
	Status        string     `json:"status"         gorm:"type:varchar(16);not null;index;check:status IN ('running','paused','stopped','completed')"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`

	ProcessedCount int    `json:"processed_count" gorm:"not null;default:0"`
	SuccessCount   int    `json:"success_count"   gorm:"not null;default:0"`
	InvitedCount   int    `json:"invited_count"   gorm:"not null;default:0"`
	FailureCount   int    `json:"failure_count"   gorm:"not null;default:0"`
	LastError      string `json:"last_error,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Run.
func (Run) TableName() string { return "runs" }

// Active reports whether the run still owns its destination slot.
func (r *Run) Active() bool {
	return r.Status == RunRunning || r.Status == RunPaused
}
