package signet

import (
	"context"

	"github.com/signetlabs/signet/internal/jobstore"
	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/reminder"
)

// LocalRunner bundles an in-memory Engine with an in-memory reminder
// Scheduler to provide a simple local setup for development and tests.
//
// Typical usage:
//
//	runner := signet.NewLocalRunner(signet.EngineOptions{Notifier: capture})
//	wf, _ := signet.NewWorkflow("Offer letter").
//	    Signer("Ada", "ada@example.com").
//	    StartImmediately().
//	    Create(ctx, runner.Engine)
//
//	// Fire any due reminder jobs deterministically:
//	_, _ = runner.RunDueReminders(ctx)
type LocalRunner struct {
	// Engine is the in-memory signing engine used by this runner.
	Engine Engine

	// Scheduler fires the engine's reminder jobs. It is not started
	// automatically; call Scheduler.Start or RunDueReminders.
	Scheduler *reminder.Scheduler
}

// NewLocalRunner constructs a LocalRunner backed by in-memory stores.
//
// This is intended for local development, tests, and simple single-process
// deployments that do not need durability.
func NewLocalRunner(opts EngineOptions) *LocalRunner {
	jobs := jobstore.NewMemoryStore()
	sched := reminder.New(jobs, nil, opts.Logger)
	opts.Scheduler = sched

	eng := newEngine(persistence.NewMemoryStore().Stores(), opts)
	sched.Bind(eng)

	return &LocalRunner{Engine: eng, Scheduler: sched}
}

// RunDueReminders fires every currently due reminder job once and returns
// the number of jobs that ran. It gives tests and callers that manage their
// own clocks a deterministic alternative to the background loop.
func (r *LocalRunner) RunDueReminders(ctx context.Context) (int, error) {
	return r.Scheduler.RunDue(ctx)
}

// Stop terminates the background scheduler loop if it was started.
func (r *LocalRunner) Stop() {
	r.Scheduler.Stop()
}
