package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow id is unknown.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEnvelopeNotFound is returned when an envelope id is unknown.
	ErrEnvelopeNotFound = errors.New("envelope not found")

	// ErrRecipientNotFound is returned when a recipient id is unknown.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrSignatureNotFound is returned when no signature row exists for a
	// recipient.
	ErrSignatureNotFound = errors.New("signature not found")

	// ErrDocumentNotFound is returned when no signed-document container
	// exists for a workflow.
	ErrDocumentNotFound = errors.New("signed document not found")

	// ErrTokenNotFound is returned when a token value or id is unknown, or
	// when a recipient has no active token.
	ErrTokenNotFound = errors.New("signing token not found")

	// ErrTokenSpent is returned by ConsumeToken when the token was already
	// marked used. It is what makes token consumption at-most-once.
	ErrTokenSpent = errors.New("signing token already used")

	// ErrBlobNotFound is returned when a blob id is unknown.
	ErrBlobNotFound = errors.New("blob not found")
)

// WorkflowGraph is the set of rows materialized together when a workflow is
// created. Stores persist the whole graph atomically.
type WorkflowGraph struct {
	Workflow   *api.Workflow
	Envelopes  []*api.Envelope
	Recipients []*api.Recipient
	Signatures []*api.Signature
	Document   *api.SignedDocument
}

// WorkflowFilter selects workflows from the store. Zero values mean "no
// filter" for that field.
type WorkflowFilter struct {
	CreatorID string
	Status    api.WorkflowStatus
}

// WorkflowStore handles storage of the workflow aggregate: workflows,
// envelopes, recipients, and signatures.
type WorkflowStore interface {
	// CreateWorkflow persists the whole graph atomically.
	CreateWorkflow(ctx context.Context, g WorkflowGraph) error

	GetWorkflow(ctx context.Context, id string) (*api.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *api.Workflow) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*api.Workflow, error)

	// DeleteWorkflow removes the workflow and cascades to its envelopes,
	// recipients, and signatures. Tokens, audit entries, and documents are
	// deleted through their own stores.
	DeleteWorkflow(ctx context.Context, id string) error

	// EnvelopesByWorkflow returns the workflow's envelopes ordered by Seq.
	EnvelopesByWorkflow(ctx context.Context, workflowID string) ([]*api.Envelope, error)
	GetEnvelope(ctx context.Context, id string) (*api.Envelope, error)
	UpdateEnvelope(ctx context.Context, env *api.Envelope) error

	GetRecipient(ctx context.Context, id string) (*api.Recipient, error)
	RecipientByEnvelope(ctx context.Context, envelopeID string) (*api.Recipient, error)

	SignatureByRecipient(ctx context.Context, recipientID string) (*api.Signature, error)
	UpdateSignature(ctx context.Context, sig *api.Signature) error
}

// DocumentStore handles the signed-document container and its immutable
// version snapshots.
type DocumentStore interface {
	DocumentByWorkflow(ctx context.Context, workflowID string) (*api.SignedDocument, error)

	// AppendVersion assigns the next contiguous version number (previous max
	// plus one, starting at 1), fills v.Version and v.CreatedAt if unset,
	// and persists the snapshot. The allocation is atomic per document.
	AppendVersion(ctx context.Context, v *api.SignedDocumentVersion) (int, error)

	// ListVersions returns all snapshots for a document in version order.
	ListVersions(ctx context.Context, documentID string) ([]*api.SignedDocumentVersion, error)

	DeleteByWorkflow(ctx context.Context, workflowID string) error
}

// TokenStore handles one-time signing tokens.
type TokenStore interface {
	SaveToken(ctx context.Context, t *api.SigningToken) error

	// ActiveToken returns the most-recently-expiring unused, unexpired token
	// for the recipient, or ErrTokenNotFound.
	ActiveToken(ctx context.Context, recipientID string, now time.Time) (*api.SigningToken, error)

	// TokenByValue looks a token up by its opaque value.
	TokenByValue(ctx context.Context, value string) (*api.SigningToken, error)

	// RetireActiveTokens marks every unused token of the recipient as used,
	// superseding them before a replacement is issued.
	RetireActiveTokens(ctx context.Context, recipientID string) error

	// ConsumeToken flips used from false to true as a single conditional
	// update. It returns ErrTokenSpent when the token was already used and
	// ErrTokenNotFound when the id is unknown. Two concurrent calls for the
	// same token must yield exactly one success.
	ConsumeToken(ctx context.Context, id string) error

	DeleteByRecipients(ctx context.Context, recipientIDs []string) error
}

// AuditStore is the append-only audit log. No update or delete of single
// entries exists; DeleteByWorkflow only serves whole-workflow deletion.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *api.AuditEntry) error
	AuditByWorkflow(ctx context.Context, workflowID string) ([]*api.AuditEntry, error)
	DeleteByWorkflow(ctx context.Context, workflowID string) error
}

// Persistence bundles the stores an engine needs. The same value may back
// several fields (MemoryStore and SQLiteStore implement all of them).
type Persistence struct {
	Workflows WorkflowStore
	Documents DocumentStore
	Tokens    TokenStore
	Audit     AuditStore
}
