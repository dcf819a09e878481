package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "planbot/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

const planColumns = `id, owner_id, plan_date, topic, body, media_id, media_kind,
	completed, reminder_at, reminder_sent, archived, created_at`

// OpenSQLite opens (creating if needed) the database file and migrates it.
func OpenSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite away from SQLITE_BUSY under our own load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL", "PRAGMA foreign_keys = ON"}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreatePlan(ctx context.Context, p NewPlan) (Plan, error) {
	now := time.Now()
	mediaID, mediaKind := attachmentArgs(p.Attachment)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO plans(owner_id, plan_date, topic, body, media_id, media_kind, reminder_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		p.OwnerID, p.Date, p.Topic, p.Body, mediaID, mediaKind, timeArg(p.ReminderAt), formatTime(now),
	)
	if err != nil {
		return Plan{}, fmt.Errorf("storage: insert plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Plan{}, err
	}
	return s.GetPlan(ctx, p.OwnerID, id)
}

func (s *sqliteStore) GetPlan(ctx context.Context, owner, id int64) (Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ? AND owner_id = ?`, id, owner)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, ErrNotFound
	}
	return p, err
}

func (s *sqliteStore) ListPlans(ctx context.Context, owner int64, f ListFilter) ([]Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE owner_id = ?`
	args := []any{owner}
	if !f.IncludeArchived {
		q += ` AND archived = 0`
	}
	if f.Date != "" {
		q += ` AND plan_date = ?`
		args = append(args, f.Date)
	}
	q += ` ORDER BY plan_date, id`
	return s.queryPlans(ctx, q, args...)
}

func (s *sqliteStore) UpdatePlanFields(ctx context.Context, owner, id int64, f PlanFields) error {
	if f.empty() {
		_, err := s.GetPlan(ctx, owner, id)
		return err
	}
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if f.Date != nil {
		set("plan_date", *f.Date)
	}
	if f.Topic != nil {
		set("topic", *f.Topic)
	}
	if f.Body != nil {
		set("body", *f.Body)
	}
	if f.Attachment != nil {
		mid, kind := attachmentArgs(f.Attachment.Value)
		set("media_id", mid)
		set("media_kind", kind)
	}
	if f.ReminderAt != nil {
		set("reminder_at", timeArg(f.ReminderAt.Value))
	}
	if f.ReminderSent != nil {
		set("reminder_sent", boolArg(*f.ReminderSent))
	}
	if f.Archived != nil {
		set("archived", boolArg(*f.Archived))
	}
	args = append(args, id, owner)

	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("storage: update plan %d: %w", id, err)
	}
	return requireRow(res)
}

func (s *sqliteStore) ToggleCompleted(ctx context.Context, owner int64, ids ...int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	holders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, owner)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET completed = 1 - completed WHERE owner_id = ? AND id IN (`+holders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: toggle completed: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) DeletePlan(ctx context.Context, owner, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("storage: delete plan %d: %w", id, err)
	}
	return requireRow(res)
}

func (s *sqliteStore) QueryPendingReminders(ctx context.Context) ([]Plan, error) {
	return s.queryPlans(ctx,
		`SELECT `+planColumns+` FROM plans
		 WHERE reminder_at IS NOT NULL AND reminder_sent = 0
		 ORDER BY reminder_at, id`)
}

func (s *sqliteStore) QueryStaleActivePlans(ctx context.Context, cutoff string) ([]Plan, error) {
	return s.queryPlans(ctx,
		`SELECT `+planColumns+` FROM plans
		 WHERE plan_date < ? AND archived = 0
		 ORDER BY plan_date, id`, cutoff)
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, owner_id, plan_id, action, detail) VALUES(?,?,?,?,?,?)`,
		e.ID, formatTime(e.At), e.OwnerID, e.PlanID, e.Action, nullStr(e.Detail),
	)
	if err != nil {
		return fmt.Errorf("storage: append audit: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListAudit(ctx context.Context, owner, planID int64) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, owner_id, plan_id, action, detail FROM audit
		 WHERE owner_id = ? AND plan_id = ? ORDER BY at, rowid`, owner, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e      AuditEntry
			at     string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.OwnerID, &e.PlanID, &e.Action, &detail); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryPlans(ctx context.Context, q string, args ...any) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query plans: %w", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(sc scanner) (Plan, error) {
	var (
		p                     Plan
		mediaID, mediaKind    sql.NullString
		reminderAt            sql.NullString
		completed, sent, arch int
		createdAt             string
	)
	err := sc.Scan(&p.ID, &p.OwnerID, &p.Date, &p.Topic, &p.Body, &mediaID, &mediaKind,
		&completed, &reminderAt, &sent, &arch, &createdAt)
	if err != nil {
		return Plan{}, err
	}
	p.Completed, p.ReminderSent, p.Archived = completed != 0, sent != 0, arch != 0
	if mediaID.Valid && mediaID.String != "" {
		p.Attachment = &Attachment{MediaID: mediaID.String, Kind: MediaKind(mediaKind.String)}
	}
	if reminderAt.Valid {
		t, err := parseTime(reminderAt.String)
		if err != nil {
			return Plan{}, fmt.Errorf("storage: plan %d reminder_at: %w", p.ID, err)
		}
		p.ReminderAt = &t
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Plan{}, fmt.Errorf("storage: plan %d created_at: %w", p.ID, err)
	}
	return p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func attachmentArgs(a *Attachment) (any, any) {
	if a == nil || a.MediaID == "" {
		return nil, nil
	}
	return a.MediaID, string(a.Kind)
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
