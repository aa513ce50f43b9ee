// Package jobstore persists recurring reminder jobs. A job fires every
// 'Every' starting at NextRun until it is cancelled; the reminder scheduler
// polls Due and reschedules each fired job.
package jobstore

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job key is unknown.
var ErrJobNotFound = errors.New("reminder job not found")

// Job is one recurring reminder registration.
type Job struct {
	// Key identifies the job; scheduling under an existing key replaces it.
	Key string

	// WorkflowID is the workflow whose pending recipients get reminded.
	WorkflowID string

	// Every is the period between firings.
	Every time.Duration

	// NextRun is the earliest time the job is eligible to fire.
	NextRun time.Time

	CreatedAt time.Time
}

// Store is the persistent recurring-job contract.
type Store interface {
	// Upsert registers the job, replacing any existing job with the same key.
	Upsert(ctx context.Context, j Job) error

	// Cancel removes the job. Cancelling an unknown key is a no-op.
	Cancel(ctx context.Context, key string) error

	// Due returns all jobs whose NextRun is at or before now.
	Due(ctx context.Context, now time.Time) ([]Job, error)

	// Reschedule moves the job's NextRun, typically to now+Every after a
	// firing.
	Reschedule(ctx context.Context, key string, next time.Time) error

	// Len returns the number of registered jobs.
	Len(ctx context.Context) (int, error)
}
