// Package scheduler triggers named jobs on cron or interval schedules.
//
// Jobs run on the cron goroutine pool with overlap protection: a run that is
// still in flight causes the next trigger to be skipped. The maturity batch
// is the main user.
package scheduler
