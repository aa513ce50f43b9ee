package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/signetlabs/signet/internal/ledger"
	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/api"
)

// engineImpl is a synchronous, in-process signing engine implementation.
// All mutating operations on the same workflow are serialized through a
// per-workflow mutex; notification delivery always happens after the lock
// is released.
type engineImpl struct {
	workflows persistence.WorkflowStore
	documents persistence.DocumentStore
	audit     persistence.AuditStore
	tokens    *ledger.Ledger

	blobs     api.BlobStore
	notifier  api.Notifier
	scheduler api.JobScheduler
	observer  api.Observer
	logger    *slog.Logger

	locks    *workflowLocks
	tokenTTL time.Duration
	now      func() time.Time
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Blobs       api.BlobStore
	Notifier    api.Notifier
	Scheduler   api.JobScheduler
	Observer    api.Observer
	Logger      *slog.Logger

	// TokenTTL bounds the validity of issued signing tokens.
	// Zero means ledger.DefaultTTL.
	TokenTTL time.Duration

	// Clock overrides the time source. Zero means time.Now.
	Clock func() time.Time
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewMemoryStore()
	return NewEngine(mem.Stores())
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: mem.Stores(),
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	st, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(st.Stores()), nil
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	st, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: st.Stores(),
		Observer:    obs,
	}), nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	st, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(st.Stores()), nil
}

// NewEngine returns an Engine backed by the given persistence bundle with
// no-op collaborators. External users access this via the signet package.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = api.NoopNotifier{}
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = api.NoopScheduler{}
	}
	blobs := cfg.Blobs
	if blobs == nil {
		blobs = persistence.NewMemoryBlobStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &engineImpl{
		workflows: cfg.Persistence.Workflows,
		documents: cfg.Persistence.Documents,
		audit:     cfg.Persistence.Audit,
		tokens:    ledger.New(cfg.Persistence.Tokens, now),
		blobs:     blobs,
		notifier:  notifier,
		scheduler: scheduler,
		observer:  obs,
		logger:    logger,
		locks:     newWorkflowLocks(),
		tokenTTL:  cfg.TokenTTL,
		now:       now,
	}
}

func (e *engineImpl) GetWorkflow(ctx context.Context, id string) (*api.WorkflowDetail, error) {
	wf, err := e.workflows.GetWorkflow(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "workflow", id)
	}
	return e.assembleDetail(ctx, wf)
}

func (e *engineImpl) ListWorkflows(ctx context.Context, opts api.WorkflowListOptions) ([]*api.Workflow, error) {
	return e.workflows.ListWorkflows(ctx, persistence.WorkflowFilter{
		CreatorID: opts.CreatorID,
		Status:    opts.Status,
	})
}

// GetProgress is a pure projection over stored state; it never advances the
// workflow state machine.
func (e *engineImpl) GetProgress(ctx context.Context, id string) (*api.Progress, error) {
	wf, err := e.workflows.GetWorkflow(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "workflow", id)
	}
	envs, err := e.workflows.EnvelopesByWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	p := &api.Progress{WorkflowID: wf.ID, Status: wf.Status, EnvelopesTotal: len(envs)}
	for _, env := range envs {
		if env.Status == api.EnvelopeCompleted {
			p.EnvelopesCompleted++
		}
		rcp, err := e.workflows.RecipientByEnvelope(ctx, env.ID)
		if err != nil {
			return nil, err
		}
		if rcp.Delivery != api.NeedsToSign {
			continue
		}
		p.TotalSigners++
		sig, err := e.workflows.SignatureByRecipient(ctx, rcp.ID)
		if err != nil {
			return nil, err
		}
		if sig.Signed {
			p.SignedCount++
		} else {
			p.PendingSigners++
		}
	}
	if p.TotalSigners > 0 {
		p.PercentComplete = p.SignedCount * 100 / p.TotalSigners
	} else if wf.Status != api.WorkflowDraft {
		p.PercentComplete = 100
	}
	return p, nil
}

func (e *engineImpl) assembleDetail(ctx context.Context, wf *api.Workflow) (*api.WorkflowDetail, error) {
	envs, err := e.workflows.EnvelopesByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	detail := &api.WorkflowDetail{Workflow: *wf}
	for _, env := range envs {
		rcp, err := e.workflows.RecipientByEnvelope(ctx, env.ID)
		if err != nil {
			return nil, err
		}
		ed := api.EnvelopeDetail{Envelope: *env, Recipient: *rcp}
		sig, err := e.workflows.SignatureByRecipient(ctx, rcp.ID)
		if err == nil {
			ed.Signature = *sig
		} else if !errors.Is(err, persistence.ErrSignatureNotFound) {
			return nil, err
		}
		detail.Envelopes = append(detail.Envelopes, ed)
	}

	doc, err := e.documents.DocumentByWorkflow(ctx, wf.ID)
	switch {
	case err == nil:
		detail.Document = doc
		versions, err := e.documents.ListVersions(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		detail.Versions = versions
	case !errors.Is(err, persistence.ErrDocumentNotFound):
		return nil, err
	}

	trail, err := e.audit.AuditByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	for _, entry := range trail {
		detail.Audit = append(detail.Audit, *entry)
	}
	return detail, nil
}

// appendAudit records one audit entry. Audit failures are logged, never
// propagated: a lost trail line must not fail the signing operation itself.
func (e *engineImpl) appendAudit(ctx context.Context, workflowID, envelopeID, action, detail string) {
	entry := &api.AuditEntry{
		ID:         newID(),
		WorkflowID: workflowID,
		EnvelopeID: envelopeID,
		Action:     action,
		Detail:     detail,
		At:         e.now(),
	}
	if err := e.audit.AppendAudit(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "audit append failed",
			"workflow_id", workflowID, "action", action, "error", err)
	}
}

func newID() string { return uuid.NewString() }

func mapStoreErr(err error, what, id string) error {
	switch {
	case errors.Is(err, persistence.ErrWorkflowNotFound),
		errors.Is(err, persistence.ErrEnvelopeNotFound),
		errors.Is(err, persistence.ErrRecipientNotFound),
		errors.Is(err, persistence.ErrSignatureNotFound),
		errors.Is(err, persistence.ErrDocumentNotFound):
		return api.Errf(api.KindNotFound, "%s not found: %s", what, id)
	default:
		return err
	}
}

func fmtReason(reason string) string {
	if reason == "" {
		return "cancelled by owner"
	}
	return fmt.Sprintf("cancelled: %s", reason)
}
