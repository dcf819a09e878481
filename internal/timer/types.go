package timer

import (
	"context"
	"fmt"
	"time"
)

// Key identifies a reminder job. One plan has at most one job.
type Key struct {
	Owner int64
	Plan  int64
}

// String renders the key for logs only; lookups always use the struct.
func (k Key) String() string { return fmt.Sprintf("reminder_%d_%d", k.Owner, k.Plan) }

// Payload is the message content captured when the job was scheduled.
type Payload struct {
	Topic     string
	Body      string
	MediaID   string
	MediaKind string
}

func (p Payload) HasAttachment() bool { return p.MediaID != "" }

type Job struct {
	Key     Key
	DueAt   time.Time
	Payload Payload

	// Seq is the insertion sequence; it orders jobs with equal DueAt.
	Seq uint64
}

// Handler receives a job once its due time has passed.
type Handler func(ctx context.Context, job Job)

// Dispatcher runs fn for a fired job. The default starts a goroutine per job
// so a slow delivery never delays other due jobs.
type Dispatcher func(ctx context.Context, job Job, fn func(ctx context.Context))

// Stats is a point-in-time view for health output and metrics.
type Stats struct {
	Pending   int       `json:"pending"`
	Fired     uint64    `json:"fired"`
	Replaced  uint64    `json:"replaced"`
	Cancelled uint64    `json:"cancelled"`
	NextDueAt time.Time `json:"next_due_at,omitempty"`
}
