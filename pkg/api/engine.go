package api

import (
	"context"
	"time"
)

// RecipientSpec describes one recipient in a workflow-creation request.
type RecipientSpec struct {
	Name             string
	Email            string
	UseOwnerIdentity bool
	RoleID           string

	// RolePriority orders recipients for sequential signing; lower signs
	// first. Recipients with equal priority keep request order.
	RolePriority int

	Delivery DeliveryType
}

// CreateWorkflowRequest carries everything needed to materialize a workflow
// with its envelopes, recipients, and placeholder signatures.
type CreateWorkflowRequest struct {
	Name       string
	CreatorID  string
	TemplateID string

	Mode       RecipientMode
	Sequential bool
	Recipients []RecipientSpec

	// ValidUntil, when non-zero, sets the workflow deadline.
	ValidUntil time.Time

	AutoReminder         bool
	ReminderIntervalDays int

	// StartImmediately starts the workflow in the same call, activating the
	// initial recipient set.
	StartImmediately bool
}

// StartOptions controls StartWorkflow.
type StartOptions struct {
	// AutoReminder registers a recurring reminder job for the workflow.
	AutoReminder bool

	// ReminderIntervalDays is the reminder period. Zero falls back to the
	// interval stored on the workflow, then to DefaultReminderIntervalDays.
	ReminderIntervalDays int
}

// DefaultReminderIntervalDays is used when no reminder interval is given.
const DefaultReminderIntervalDays = 3

// WorkflowUpdate mutates the editable details of a workflow. Only non-zero
// fields are applied.
type WorkflowUpdate struct {
	WorkflowID string

	Name                 string
	ValidUntil           time.Time
	ReminderIntervalDays int
}

// WorkflowListOptions filters ListWorkflows. Zero values mean "no filter".
type WorkflowListOptions struct {
	CreatorID string
	Status    WorkflowStatus
}

// EnvelopeDetail pairs an envelope with its recipient and signature state.
type EnvelopeDetail struct {
	Envelope  Envelope
	Recipient Recipient
	Signature Signature
}

// WorkflowDetail is the full read-side aggregate for one workflow.
type WorkflowDetail struct {
	Workflow  Workflow
	Envelopes []EnvelopeDetail

	// Document and Versions are nil until the first signature lands.
	Document *SignedDocument
	Versions []*SignedDocumentVersion

	Audit []AuditEntry
}

// Progress is a read-only projection of workflow completion.
type Progress struct {
	WorkflowID string
	Status     WorkflowStatus

	// Signer counts cover NeedsToSign recipients only; ReceivesACopy
	// recipients never factor into completion.
	TotalSigners   int
	SignedCount    int
	PendingSigners int

	EnvelopesTotal     int
	EnvelopesCompleted int

	// PercentComplete is SignedCount/TotalSigners in whole percent. A
	// workflow with zero signers reports 100 once started.
	PercentComplete int
}

// SigningRequest carries one recipient's completed signature.
type SigningRequest struct {
	RecipientID string

	// Token is the opaque one-time credential issued to the recipient.
	Token string

	// Document is the signed document bytes to persist as a new version.
	Document []byte

	// ProofImage optionally carries a drawn/scanned signature artifact.
	ProofImage []byte
}

// SigningResult reports the outcome of a successful CompleteSigning call.
type SigningResult struct {
	Signature Signature
	Version   SignedDocumentVersion

	// WorkflowCompleted is true when this signature was the last one needed
	// and the workflow transitioned to Completed.
	WorkflowCompleted bool
}

// RemindReport summarizes a bulk reminder pass. A recipient failure never
// aborts the pass; it is counted and logged instead.
type RemindReport struct {
	WorkflowID string
	Sent       int
	Failed     int

	// FailedRecipients lists the recipient ids whose reminder could not be
	// delivered.
	FailedRecipients []string
}

// Partial reports whether some, but not all, reminders were delivered.
func (r *RemindReport) Partial() bool {
	return r.Failed > 0 && r.Sent > 0
}

// Engine is the signing-workflow orchestration API.
//
// All mutating methods are safe for concurrent use; conflicting operations
// on the same workflow are serialized internally so completion decisions
// always see a consistent snapshot.
type Engine interface {
	// CreateWorkflow validates the request and materializes the workflow in
	// Draft status with one envelope, recipient, and placeholder signature
	// per entry in req.Recipients. With StartImmediately set it also starts
	// the workflow.
	CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*Workflow, error)

	// StartWorkflow transitions a Draft workflow to InProgress and activates
	// the initial eligible recipient set (all signers in parallel mode, the
	// first signer in sequential mode).
	StartWorkflow(ctx context.Context, workflowID string, opts StartOptions) error

	// CancelWorkflow moves any non-terminal workflow to Cancelled, fails all
	// non-completed envelopes, and deregisters reminder jobs. Cancelling an
	// already-terminal workflow is a no-op success.
	CancelWorkflow(ctx context.Context, workflowID, reason string) error

	// DeleteWorkflow hard-deletes a workflow and all of its envelopes,
	// recipients, signatures, tokens, documents, and audit entries. Only
	// permitted in Draft, Completed, or Cancelled status.
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// UpdateWorkflowDetails mutates name, deadline, and reminder interval.
	// Rejected once the workflow is Completed or Cancelled.
	UpdateWorkflowDetails(ctx context.Context, upd WorkflowUpdate) (*Workflow, error)

	// GetWorkflow returns the full aggregate: workflow, envelopes with their
	// recipients and signatures, and the audit trail.
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowDetail, error)

	// ListWorkflows returns workflows matching the given options.
	ListWorkflows(ctx context.Context, opts WorkflowListOptions) ([]*Workflow, error)

	// GetProgress returns envelope/signature counts and percent complete.
	// Pure projection; no side effects.
	GetProgress(ctx context.Context, workflowID string) (*Progress, error)

	// CompleteSigning records one recipient's signature: it consumes the
	// one-time token, persists the signed bytes as a new document version,
	// flips the signature flag, and advances the router. The whole unit is
	// atomic; on any failure no partial state remains.
	CompleteSigning(ctx context.Context, req SigningRequest) (*SigningResult, error)

	// ResendEnvelope refreshes the recipient's signing token and re-sends
	// the signing request for a Draft or InProgress envelope. Fails with an
	// invalid-state error if the envelope is already Completed.
	ResendEnvelope(ctx context.Context, envelopeID string) error

	// RemindRecipient re-notifies a single pending recipient. It reports
	// sent=false without error when the envelope is not awaiting signature.
	RemindRecipient(ctx context.Context, recipientID string) (sent bool, err error)

	// RemindWorkflow re-notifies every pending recipient of the workflow.
	// Individual delivery failures are logged and counted, never fatal.
	RemindWorkflow(ctx context.Context, workflowID string) (*RemindReport, error)
}
