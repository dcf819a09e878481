package storage

import (
	"database/sql"
	"fmt"

	"github.com/GuiaBolso/darwin"
)

// migrations are applied in Version order and recorded in darwin_migrations.
// Never edit a released entry; append a new one.
var migrations = []darwin.Migration{
	{
		Version:     1,
		Description: "create plans",
		Script: `CREATE TABLE IF NOT EXISTS plans (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id      INTEGER NOT NULL,
			plan_date     TEXT    NOT NULL,
			topic         TEXT    NOT NULL,
			body          TEXT    NOT NULL DEFAULT '',
			media_id      TEXT,
			media_kind    TEXT,
			completed     INTEGER NOT NULL DEFAULT 0,
			reminder_at   TEXT,
			reminder_sent INTEGER NOT NULL DEFAULT 0,
			archived      INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT    NOT NULL
		)`,
	},
	{
		Version:     2,
		Description: "index plans by owner and date",
		Script:      `CREATE INDEX IF NOT EXISTS idx_plans_owner_date ON plans(owner_id, plan_date)`,
	},
	{
		Version:     3,
		Description: "index pending reminders",
		Script: `CREATE INDEX IF NOT EXISTS idx_plans_pending_reminder ON plans(reminder_at)
			WHERE reminder_at IS NOT NULL AND reminder_sent = 0`,
	},
	{
		Version:     4,
		Description: "create audit",
		Script: `CREATE TABLE IF NOT EXISTS audit (
			id       TEXT    PRIMARY KEY,
			at       TEXT    NOT NULL,
			owner_id INTEGER NOT NULL,
			plan_id  INTEGER NOT NULL,
			action   TEXT    NOT NULL,
			detail   TEXT
		)`,
	},
	{
		Version:     5,
		Description: "index audit by plan",
		Script:      `CREATE INDEX IF NOT EXISTS idx_audit_plan ON audit(owner_id, plan_id, at)`,
	},
}

// Migrate brings db up to the latest schema.
func Migrate(db *sql.DB) error {
	d := darwin.New(darwin.NewGenericDriver(db, darwin.SqliteDialect{}), migrations, nil)
	if err := d.Migrate(); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}
