package signet

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signetlabs/signet/internal/engine"
	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine                = api.Engine
	Workflow              = api.Workflow
	Envelope              = api.Envelope
	Recipient             = api.Recipient
	Signature             = api.Signature
	SignedDocument        = api.SignedDocument
	SignedDocumentVersion = api.SignedDocumentVersion
	SigningToken          = api.SigningToken
	AuditEntry            = api.AuditEntry

	WorkflowStatus = api.WorkflowStatus
	EnvelopeStatus = api.EnvelopeStatus
	DeliveryType   = api.DeliveryType
	RecipientMode  = api.RecipientMode

	CreateWorkflowRequest = api.CreateWorkflowRequest
	RecipientSpec         = api.RecipientSpec
	StartOptions          = api.StartOptions
	WorkflowUpdate        = api.WorkflowUpdate
	WorkflowListOptions   = api.WorkflowListOptions
	WorkflowDetail        = api.WorkflowDetail
	EnvelopeDetail        = api.EnvelopeDetail
	Progress              = api.Progress
	SigningRequest        = api.SigningRequest
	SigningResult         = api.SigningResult
	RemindReport          = api.RemindReport

	Error     = api.Error
	ErrorKind = api.ErrorKind
	Result    = api.Result

	Notifier     = api.Notifier
	BlobStore    = api.BlobStore
	JobScheduler = api.JobScheduler

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	KindOf      = api.KindOf
	IsKind      = api.IsKind
	SafeMessage = api.SafeMessage

	OK            = api.OK
	Fail          = api.Fail
	PartialResult = api.PartialResult
)

// Re-export status and classification values for convenience.

const (
	WorkflowDraft      = api.WorkflowDraft
	WorkflowInProgress = api.WorkflowInProgress
	WorkflowCompleted  = api.WorkflowCompleted
	WorkflowExpired    = api.WorkflowExpired
	WorkflowCancelled  = api.WorkflowCancelled

	EnvelopeDraft      = api.EnvelopeDraft
	EnvelopeInProgress = api.EnvelopeInProgress
	EnvelopeCompleted  = api.EnvelopeCompleted
	EnvelopeFailed     = api.EnvelopeFailed
	EnvelopeExpired    = api.EnvelopeExpired

	NeedsToSign   = api.NeedsToSign
	ReceivesACopy = api.ReceivesACopy

	ModeCustomRecipients = api.ModeCustomRecipients
	ModeFromTemplate     = api.ModeFromTemplate

	KindValidation        = api.KindValidation
	KindInvalidState      = api.KindInvalidState
	KindTokenInvalid      = api.KindTokenInvalid
	KindAlreadySigned     = api.KindAlreadySigned
	KindWorkflowNotActive = api.KindWorkflowNotActive
	KindNotFound          = api.KindNotFound
	KindDependency        = api.KindDependency
)

// EngineOptions configures the collaborators of an engine constructed
// through this package. Zero values fall back to no-op implementations, so
// an empty EngineOptions yields a fully functional engine that simply does
// not notify anyone.
type EngineOptions struct {
	// Notifier delivers signing requests, reminders, and completion copies.
	Notifier Notifier

	// Blobs stores signed document bytes and proof images. Defaults to an
	// in-memory store.
	Blobs BlobStore

	// Scheduler backs auto-reminders. Most callers use reminder.Scheduler;
	// see NewSQLiteBundle and NewLocalRunner for prewired setups.
	Scheduler JobScheduler

	Observer Observer
	Logger   *slog.Logger

	// TokenTTL bounds signing-token validity. Zero means one hour.
	TokenTTL time.Duration
}

// Engine constructors. These wrap the internal/engine package so external
// callers never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewInMemoryEngineWithOptions returns an in-memory Engine with the given
// collaborators.
func NewInMemoryEngineWithOptions(opts EngineOptions) Engine {
	return newEngine(persistence.NewMemoryStore().Stores(), opts)
}

// NewSQLiteEngine returns an Engine that persists all workflow state in a
// SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewSQLiteEngineWithOptions returns a SQLite-backed Engine with the given
// collaborators.
func NewSQLiteEngineWithOptions(db *sql.DB, opts EngineOptions) (Engine, error) {
	st, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return newEngine(st.Stores(), opts), nil
}

// NewPostgresEngine returns an Engine that persists all workflow state in
// PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithOptions returns a Postgres-backed Engine with the
// given collaborators.
func NewPostgresEngineWithOptions(db *sql.DB, opts EngineOptions) (Engine, error) {
	st, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return newEngine(st.Stores(), opts), nil
}

// NewSQLiteEngineWithRedisTokens keeps workflows, documents, and the audit
// trail in SQLite but moves signing tokens to Redis, so the short-lived
// token state can be shared across processes.
func NewSQLiteEngineWithRedisTokens(db *sql.DB, client *redis.Client, opts EngineOptions) (Engine, error) {
	st, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	p := st.Stores()
	p.Tokens = persistence.NewRedisTokenStore(client, "signet:")
	return newEngine(p, opts), nil
}

func newEngine(p persistence.Persistence, opts EngineOptions) Engine {
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: p,
		Blobs:       opts.Blobs,
		Notifier:    opts.Notifier,
		Scheduler:   opts.Scheduler,
		Observer:    opts.Observer,
		Logger:      opts.Logger,
		TokenTTL:    opts.TokenTTL,
	})
}

// Convenience helpers that just forward to the underlying Engine.

// CreateWorkflow materializes a workflow in Draft status.
func CreateWorkflow(ctx context.Context, eng Engine, req CreateWorkflowRequest) (*Workflow, error) {
	return eng.CreateWorkflow(ctx, req)
}

// StartWorkflow activates the initial recipient set of a Draft workflow.
func StartWorkflow(ctx context.Context, eng Engine, workflowID string, opts StartOptions) error {
	return eng.StartWorkflow(ctx, workflowID, opts)
}

// CompleteSigning records a recipient's signature using their one-time token.
func CompleteSigning(ctx context.Context, eng Engine, req SigningRequest) (*SigningResult, error) {
	return eng.CompleteSigning(ctx, req)
}

// GetProgress reports signature counts and percent complete.
func GetProgress(ctx context.Context, eng Engine, workflowID string) (*Progress, error) {
	return eng.GetProgress(ctx, workflowID)
}
