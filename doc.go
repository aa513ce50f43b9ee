// Package signet provides an embeddable orchestration engine for multi-party
// document signing.
//
// Signet is designed for backend services that need to route a document
// through a set of recipients—sequentially or in parallel—collect their
// signatures, and keep an auditable record of every step. It runs fully in
// Go, supports multiple persistence backends, and integrates cleanly into
// existing codebases.
//
// # Core Concepts
//
// The signet programming model is intentionally small:
//
//  1. Engine
//  2. Workflow, Envelope, Recipient
//  3. WorkflowBuilder
//  4. Signing tokens
//  5. Reminder Scheduler
//
// A Workflow is one end-to-end signing process. Each recipient is wrapped in
// an Envelope, the unit the engine routes: envelopes are activated, signed,
// and completed one by one (sequential routing) or all at once (parallel
// routing). Recipients who only receive a copy of the final document never
// gate completion.
//
// # Engine
//
// The Engine owns the workflow state machine. It provides APIs to:
//   - create, start, cancel, and delete workflows
//   - record signatures via one-time signing tokens
//   - resend signing requests and remind pending recipients
//   - read progress, full workflow detail, and the audit trail
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis (signing tokens only, alongside a SQL backend)
//
// # Signing tokens
//
// Every activated envelope gets a one-time, time-limited token that is the
// recipient's sole credential to complete signing. Tokens are consumed
// atomically, so a link can never be redeemed twice; reminders reuse the
// active token while an explicit resend supersedes it with a fresh one.
//
// # Documents and versions
//
// Each completed signature appends an immutable version of the signed
// document, numbered contiguously from 1. Document bytes live in a
// BlobStore; the engine only records references.
//
// # Reminders
//
// Workflows started with auto-reminders register a recurring job with a
// JobScheduler. The reminder package provides a polling scheduler over
// durable job stores; NewSQLiteBundle and NewLocalRunner wire it up.
//
// # Collaborators
//
// Delivery of signing requests, reminders, and completion copies goes
// through the Notifier interface; implementations plug in SMTP, webhooks, or
// message queues. All collaborators default to no-ops, so the engine stays
// usable in tests without any wiring.
//
// See the package examples and the builder API for typical usage.
package signet
