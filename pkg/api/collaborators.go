package api

import (
	"context"
	"time"
)

// Notifier delivers signing requests, reminders, and completion copies.
//
// Implementations are expected to be I/O-bound (SMTP, webhook, queue); the
// engine never calls Send while holding a workflow lock, and a Send failure
// during a reminder or resend is logged rather than propagated.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NoopNotifier discards all notifications. It is the default when no
// Notifier is configured, which keeps the engine usable in tests and in
// deployments that deliver notifications out of band.
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, to, subject, body string) error { return nil }

// BlobStore persists opaque byte payloads: signed document versions, proof
// images, and the master document used to compile the final artifact.
type BlobStore interface {
	// Store persists data and returns the blob id to reference it by.
	Store(ctx context.Context, data []byte, contentType string) (string, error)

	// Fetch returns the bytes for a previously stored blob.
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// JobScheduler is the persistent recurring-job contract backing
// auto-reminders. The engine only depends on this interface; pkg/reminder
// provides implementations over the job stores in this repository.
type JobScheduler interface {
	// ScheduleRecurring registers (or replaces) a recurring job under key
	// that fires every 'every' for the given workflow.
	ScheduleRecurring(ctx context.Context, key string, every time.Duration, workflowID string) error

	// Cancel deregisters the job under key. Cancelling an unknown key is a
	// no-op.
	Cancel(ctx context.Context, key string) error
}

// NoopScheduler ignores all scheduling calls. It is the default when no
// JobScheduler is configured; auto-reminder registration then has no effect.
type NoopScheduler struct{}

func (NoopScheduler) ScheduleRecurring(ctx context.Context, key string, every time.Duration, workflowID string) error {
	return nil
}

func (NoopScheduler) Cancel(ctx context.Context, key string) error { return nil }
