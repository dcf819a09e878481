package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "planbot/pkg/logx"
)

// Store is the persistence API the reminder engine depends on.
type Store interface {
	CreatePlan(ctx context.Context, p NewPlan) (Plan, error)
	GetPlan(ctx context.Context, owner, id int64) (Plan, error)
	ListPlans(ctx context.Context, owner int64, f ListFilter) ([]Plan, error)
	UpdatePlanFields(ctx context.Context, owner, id int64, f PlanFields) error
	ToggleCompleted(ctx context.Context, owner int64, ids ...int64) (int, error)
	DeletePlan(ctx context.Context, owner, id int64) error

	// QueryPendingReminders returns plans with a reminder set and not yet
	// sent, archived ones included, ordered by due time.
	QueryPendingReminders(ctx context.Context) ([]Plan, error)
	// QueryStaleActivePlans returns non-archived plans dated before cutoff (YYYY-MM-DD).
	QueryStaleActivePlans(ctx context.Context, cutoff string) ([]Plan, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, owner, planID int64) ([]AuditEntry, error)

	Close() error
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg, log)
	case "memory":
		log.Warn("using in-memory store; reminders will not survive a restart")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
