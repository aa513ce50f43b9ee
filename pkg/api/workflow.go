package api

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a signing workflow.
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "DRAFT"
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowExpired    WorkflowStatus = "EXPIRED"
	WorkflowCancelled  WorkflowStatus = "CANCELLED"
)

// Terminal reports whether the status is absorbing: once reached, the
// workflow never transitions again.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowExpired || s == WorkflowCancelled
}

// EnvelopeStatus represents the lifecycle state of a single envelope.
type EnvelopeStatus string

const (
	EnvelopeDraft      EnvelopeStatus = "DRAFT"
	EnvelopeInProgress EnvelopeStatus = "IN_PROGRESS"
	EnvelopeCompleted  EnvelopeStatus = "COMPLETED"
	EnvelopeFailed     EnvelopeStatus = "FAILED"
	EnvelopeExpired    EnvelopeStatus = "EXPIRED"
)

// DeliveryType says what a recipient is expected to do with the document.
type DeliveryType string

const (
	// NeedsToSign recipients must complete a signature before the workflow
	// can finish.
	NeedsToSign DeliveryType = "NEEDS_TO_SIGN"

	// ReceivesACopy recipients never sign; they are notified with the final
	// document when the workflow completes and do not gate sequential order.
	ReceivesACopy DeliveryType = "RECEIVES_A_COPY"
)

// RecipientMode describes how the recipient set of a workflow was configured.
type RecipientMode string

const (
	ModeFromTemplate      RecipientMode = "FROM_TEMPLATE"
	ModeCustomRecipients  RecipientMode = "CUSTOM_RECIPIENTS"
	ModeMixed             RecipientMode = "MIXED"
	ModeCreateNewTemplate RecipientMode = "CREATE_NEW_TEMPLATE"
)

// Workflow is one end-to-end multi-recipient signing process.
//
// Relationships are expressed as foreign-key ids resolved through the engine
// (GetWorkflow returns the full aggregate); entities never hold live object
// graphs.
type Workflow struct {
	ID         string
	Name       string
	CreatorID  string
	TemplateID string

	Status     WorkflowStatus
	Mode       RecipientMode
	Sequential bool

	// ValidUntil, when non-zero, is the deadline after which any still-open
	// envelope (and the workflow itself) expires. Expiry is enforced lazily
	// on access; no timer runs.
	ValidUntil time.Time

	AutoReminder         bool
	ReminderIntervalDays int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Envelope is the signing unit binding exactly one recipient to a workflow.
type Envelope struct {
	ID         string
	WorkflowID string

	// Seq is the insertion order within the workflow. It breaks role-priority
	// ties so the sequential scan is stable.
	Seq int

	Status      EnvelopeStatus
	SentAt      time.Time
	CompletedAt time.Time
}

// Recipient is the identity and role binding for one envelope.
// Immutable after creation except identity-resolution fields.
type Recipient struct {
	ID         string
	EnvelopeID string
	WorkflowID string

	Name  string
	Email string

	// UseOwnerIdentity marks recipients that resolve to the document owner's
	// default identity rather than a custom one.
	UseOwnerIdentity bool

	RoleID string

	// RolePriority orders recipients for sequential signing. Lower signs
	// first.
	RolePriority int

	Delivery DeliveryType
}

// Signature is the signing outcome for one recipient. A placeholder
// (Signed=false) is created when the workflow is materialized; it flips to
// Signed=true exactly once and never back.
type Signature struct {
	ID          string
	RecipientID string
	DocumentID  string

	Signed   bool
	SignedAt time.Time

	// ProofBlobID references an optional signature-proof artifact (for
	// example a drawn-signature image) in the blob store.
	ProofBlobID string
}

// SignedDocument is the logical signed-artifact container for a workflow.
// Actual bytes live in SignedDocumentVersion snapshots.
type SignedDocument struct {
	ID         string
	WorkflowID string
}

// SignedDocumentVersion is an immutable snapshot of signed output. Versions
// for a document are contiguous and strictly increasing from 1; they are
// never mutated or deleted.
type SignedDocumentVersion struct {
	DocumentID string
	Version    int

	// BlobID references the stored bytes in the blob store.
	BlobID string

	// RecipientID is the recipient whose completion produced this version.
	RecipientID string

	CreatedAt time.Time
}

// SigningToken is a one-time, time-limited credential granting one recipient
// access to complete signing. At most one active (unused, unexpired) token
// exists per recipient at any time.
type SigningToken struct {
	ID          string
	RecipientID string
	Value       string
	ExpiresAt   time.Time
	Used        bool
	CreatedAt   time.Time
}

// Active reports whether the token can still be redeemed at the given time.
func (t *SigningToken) Active(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// AuditEntry is one append-only record of a meaningful envelope transition.
type AuditEntry struct {
	ID         string
	WorkflowID string
	EnvelopeID string
	Action     string
	Detail     string
	At         time.Time
}

// Audit actions recorded by the engine.
const (
	AuditSent      = "sent"
	AuditReminded  = "reminded"
	AuditResent    = "resent"
	AuditSigned    = "signed"
	AuditCopied    = "copied"
	AuditCompleted = "completed"
	AuditExpired   = "expired"
	AuditCancelled = "cancelled"
)
