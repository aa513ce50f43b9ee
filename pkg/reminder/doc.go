// Package reminder provides the recurring-reminder scheduler used to nudge
// pending recipients of in-progress signing workflows.
//
// The scheduler persists its jobs through a jobstore.Store, so registrations
// survive restarts when a durable store (SQLite) is used. It deliberately
// stores no workflow state of its own: each firing calls back into the
// engine, which re-reads the workflow and decides who still needs a
// reminder. A job whose workflow has since completed or been cancelled fires
// as a no-op until the engine deregisters it.
//
// # Lifecycle
//
// The engine registers a job when a workflow starts with auto-reminders
// enabled, and cancels it when the workflow completes, expires, is
// cancelled, or is deleted. The scheduler itself only answers two questions:
// which jobs are due, and when does each fire next.
//
// # Driving the scheduler
//
// Most applications call Start to run the polling loop in a background
// goroutine and Stop during shutdown. Tests and callers that want explicit
// control call RunDue directly; it fires everything currently due exactly
// once and reports how many jobs ran.
//
// Most users construct schedulers via the signet package, which wires the
// job store, engine, and scheduler together with sensible defaults.
package reminder
