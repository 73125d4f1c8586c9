// Package scheduler runs pipeline logic on a single logical thread.
//
// All stage state is mutated from tasks executed by a Scheduler, so stages
// never need their own locks. Remote calls run on separate goroutines and
// hand their results back with Post.
package scheduler

import "time"

// Scheduler executes tasks serially.
type Scheduler interface {
	// Now returns the scheduler clock.
	Now() time.Time
	// Post enqueues fn to run as soon as possible. Safe from any goroutine.
	Post(fn func())
	// After enqueues fn to run once d has elapsed on the scheduler clock.
	After(d time.Duration, fn func()) *Task
}
