// Package reminder owns the lifecycle of one-shot plan reminders.
//
// Manager keeps the durable record (storage.Store) and the in-memory timer
// table in step: every operation on a plan takes that plan's lock, writes the
// store, then adjusts the timer. When a job fires, Manager delivers the
// captured payload and marks the plan's reminder sent whatever the outcome.
//
// Reconciler rebuilds the timer table from the store at startup. Manager
// refuses external calls until MarkReady, which the app calls once
// reconciliation has finished.
package reminder
