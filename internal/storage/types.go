package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: plan not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config selects and tunes a backend.
type Config struct {
	Driver      string // sqlite | memory
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVoice    MediaKind = "voice"
	MediaDocument MediaKind = "document"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaPhoto, MediaVoice, MediaDocument:
		return true
	}
	return false
}

// Attachment references media already uploaded to the messaging platform.
type Attachment struct {
	MediaID string
	Kind    MediaKind
}

// Plan is a user-owned dated record with an optional one-shot reminder.
type Plan struct {
	ID         int64
	OwnerID    int64
	Date       string // YYYY-MM-DD in the configured zone
	Topic      string
	Body       string
	Attachment *Attachment
	Completed  bool

	ReminderAt   *time.Time
	ReminderSent bool
	Archived     bool
	CreatedAt    time.Time
}

// HasPendingReminder reports an unsent reminder, whatever its due time.
func (p Plan) HasPendingReminder() bool { return p.ReminderAt != nil && !p.ReminderSent }

// NewPlan is the insert shape. ReminderAt may be nil.
type NewPlan struct {
	OwnerID    int64
	Date       string
	Topic      string
	Body       string
	Attachment *Attachment
	ReminderAt *time.Time
}

// Nullable carries an update to a column that may be set to NULL.
type Nullable[T any] struct {
	Value *T
}

func Set[T any](v T) *Nullable[T] { return &Nullable[T]{Value: &v} }
func Null[T any]() *Nullable[T]   { return &Nullable[T]{} }

// PlanFields is a partial update; nil fields are left unchanged.
type PlanFields struct {
	Date         *string
	Topic        *string
	Body         *string
	Attachment   *Nullable[Attachment]
	ReminderAt   *Nullable[time.Time]
	ReminderSent *bool
	Archived     *bool
}

func (f PlanFields) empty() bool {
	return f.Date == nil && f.Topic == nil && f.Body == nil && f.Attachment == nil &&
		f.ReminderAt == nil && f.ReminderSent == nil && f.Archived == nil
}

// ListFilter narrows ListPlans.
type ListFilter struct {
	IncludeArchived bool
	Date            string // exact date; empty means any
}

// Audit actions written by the reminder engine.
const (
	AuditScheduled = "reminder.scheduled"
	AuditCleared   = "reminder.cleared"
	AuditDelivered = "reminder.delivered"
	AuditFailed    = "reminder.failed"
	AuditExpired   = "reminder.expired"
	AuditArchived  = "plan.archived"
	AuditDeleted   = "plan.deleted"
)

// AuditEntry records a reminder outcome. Rows are append-only.
type AuditEntry struct {
	ID      string
	At      time.Time
	OwnerID int64
	PlanID  int64
	Action  string
	Detail  string
}

func ptr[T any](v T) *T { return &v }
