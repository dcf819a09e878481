// Package periodic triggers housekeeping tasks on cron or interval schedules.
//
// It is a thin layer over robfig/cron: schedules are upserted by name, a run
// that is still in flight makes the next trigger skip, and interval schedules
// get a small random first-run spread so tasks registered together do not
// fire together.
package periodic
