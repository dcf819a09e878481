// Package timer holds pending one-shot reminder jobs and fires them.
//
// The job table maps a structured Key (owner, plan) to exactly one pending
// Job. Core runs a single loop that sleeps until the earliest due job and hands
// due jobs to a dispatcher in due-time order, ties broken by insertion order.
//
// Scheduling a key that already has a pending job replaces it atomically: the
// superseded job is removed from the table under the same lock that the loop
// uses to pop due jobs, so it can never fire.
package timer
