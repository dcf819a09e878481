// Package storage is the durable record store for plans and reminder state.
//
// Two backends implement Store:
//   - "sqlite": a single database file (modernc.org/sqlite, no cgo) with
//     schema managed by darwin migrations
//   - "memory": process-local maps, for tests and dry runs
//
// The store is the source of truth for reminders; the in-memory timer table
// is rebuilt from QueryPendingReminders after a restart.
package storage
