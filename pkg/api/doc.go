// Package api defines the public contract of the signet signing engine:
// the entity model (Workflow, Envelope, Recipient, Signature, SignedDocument,
// SigningToken, AuditEntry), the Engine interface, the error taxonomy, the
// Result transport envelope, the Observer callbacks, and the collaborator
// interfaces the engine consumes (Notifier, BlobStore, JobScheduler).
//
// Most applications import the root signet package, which re-exports the
// types defined here and provides engine constructors. Import pkg/api
// directly when implementing a collaborator or an alternative store.
//
// # Entities
//
// Entities form an arena keyed by string ids; relationships are foreign-key
// fields, not live object graphs. The read side (GetWorkflow) assembles the
// aggregate explicitly.
//
// # Errors
//
// Every engine failure is an *Error carrying an ErrorKind and a message safe
// for direct display. Token failures are deliberately uniform: a missing,
// expired, and already-used token all produce the same externally-visible
// error, so the failure cannot be used to probe token state.
package api
