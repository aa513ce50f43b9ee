package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the signing engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay signing operations.
type Observer interface {
	// OnWorkflowStarted is called once when a workflow leaves Draft and its
	// initial recipient set is being activated.
	OnWorkflowStarted(ctx context.Context, wf *Workflow)

	// OnWorkflowCompleted is called when the last required signature lands
	// and the workflow reaches Completed.
	OnWorkflowCompleted(ctx context.Context, wf *Workflow)

	// OnWorkflowCancelled is called when a workflow is cancelled.
	OnWorkflowCancelled(ctx context.Context, wf *Workflow, reason string)

	// OnWorkflowExpired is called when the validity deadline lapses and the
	// workflow transitions to Expired.
	OnWorkflowExpired(ctx context.Context, wf *Workflow)

	// OnEnvelopeActivated is called when an envelope enters InProgress and
	// its recipient is issued a signing token.
	OnEnvelopeActivated(ctx context.Context, wf *Workflow, env *Envelope, rcp *Recipient)

	// OnSignatureRecorded is called after a signature and its document
	// version have been durably recorded.
	OnSignatureRecorded(ctx context.Context, wf *Workflow, rcp *Recipient, version int)

	// OnReminderSent is called for each reminder delivered to a pending
	// recipient, whether scheduled or on demand.
	OnReminderSent(ctx context.Context, wf *Workflow, rcp *Recipient)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStarted(ctx context.Context, wf *Workflow)                  {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, wf *Workflow)                {}
func (NoopObserver) OnWorkflowCancelled(ctx context.Context, wf *Workflow, reason string) {}
func (NoopObserver) OnWorkflowExpired(ctx context.Context, wf *Workflow)                  {}
func (NoopObserver) OnEnvelopeActivated(ctx context.Context, wf *Workflow, env *Envelope, rcp *Recipient) {
}
func (NoopObserver) OnSignatureRecorded(ctx context.Context, wf *Workflow, rcp *Recipient, version int) {
}
func (NoopObserver) OnReminderSent(ctx context.Context, wf *Workflow, rcp *Recipient) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStarted(ctx context.Context, wf *Workflow) {
	for _, o := range c.observers {
		o.OnWorkflowStarted(ctx, wf)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, wf *Workflow) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, wf)
	}
}

func (c *CompositeObserver) OnWorkflowCancelled(ctx context.Context, wf *Workflow, reason string) {
	for _, o := range c.observers {
		o.OnWorkflowCancelled(ctx, wf, reason)
	}
}

func (c *CompositeObserver) OnWorkflowExpired(ctx context.Context, wf *Workflow) {
	for _, o := range c.observers {
		o.OnWorkflowExpired(ctx, wf)
	}
}

func (c *CompositeObserver) OnEnvelopeActivated(ctx context.Context, wf *Workflow, env *Envelope, rcp *Recipient) {
	for _, o := range c.observers {
		o.OnEnvelopeActivated(ctx, wf, env, rcp)
	}
}

func (c *CompositeObserver) OnSignatureRecorded(ctx context.Context, wf *Workflow, rcp *Recipient, version int) {
	for _, o := range c.observers {
		o.OnSignatureRecorded(ctx, wf, rcp, version)
	}
}

func (c *CompositeObserver) OnReminderSent(ctx context.Context, wf *Workflow, rcp *Recipient) {
	for _, o := range c.observers {
		o.OnReminderSent(ctx, wf, rcp)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStarted(ctx context.Context, wf *Workflow) {
	o.Logger.InfoContext(ctx, "workflow_started",
		slog.String("workflow", wf.Name),
		slog.String("workflow_id", wf.ID),
		slog.Bool("sequential", wf.Sequential),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, wf *Workflow) {
	o.Logger.InfoContext(ctx, "workflow_completed",
		slog.String("workflow", wf.Name),
		slog.String("workflow_id", wf.ID),
	)
}

func (o *LoggingObserver) OnWorkflowCancelled(ctx context.Context, wf *Workflow, reason string) {
	o.Logger.InfoContext(ctx, "workflow_cancelled",
		slog.String("workflow", wf.Name),
		slog.String("workflow_id", wf.ID),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnWorkflowExpired(ctx context.Context, wf *Workflow) {
	o.Logger.WarnContext(ctx, "workflow_expired",
		slog.String("workflow", wf.Name),
		slog.String("workflow_id", wf.ID),
	)
}

func (o *LoggingObserver) OnEnvelopeActivated(ctx context.Context, wf *Workflow, env *Envelope, rcp *Recipient) {
	o.Logger.InfoContext(ctx, "envelope_activated",
		slog.String("workflow_id", wf.ID),
		slog.String("envelope_id", env.ID),
		slog.String("recipient_id", rcp.ID),
		slog.Int("role_priority", rcp.RolePriority),
	)
}

func (o *LoggingObserver) OnSignatureRecorded(ctx context.Context, wf *Workflow, rcp *Recipient, version int) {
	o.Logger.InfoContext(ctx, "signature_recorded",
		slog.String("workflow_id", wf.ID),
		slog.String("recipient_id", rcp.ID),
		slog.Int("document_version", version),
	)
}

func (o *LoggingObserver) OnReminderSent(ctx context.Context, wf *Workflow, rcp *Recipient) {
	o.Logger.DebugContext(ctx, "reminder_sent",
		slog.String("workflow_id", wf.ID),
		slog.String("recipient_id", rcp.ID),
	)
}

// BasicMetrics collects simple engine counters. It implements Observer and
// can be combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted   atomic.Int64
	workflowsCompleted atomic.Int64
	workflowsCancelled atomic.Int64
	workflowsExpired   atomic.Int64
	signaturesRecorded atomic.Int64
	remindersSent      atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsCompleted int64
	WorkflowsCancelled int64
	WorkflowsExpired   int64
	WorkflowsOpen      int64

	SignaturesRecorded int64
	RemindersSent      int64
}

func (m *BasicMetrics) OnWorkflowStarted(ctx context.Context, wf *Workflow) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, wf *Workflow) {
	m.workflowsCompleted.Add(1)
}

func (m *BasicMetrics) OnWorkflowCancelled(ctx context.Context, wf *Workflow, reason string) {
	m.workflowsCancelled.Add(1)
}

func (m *BasicMetrics) OnWorkflowExpired(ctx context.Context, wf *Workflow) {
	m.workflowsExpired.Add(1)
}

func (m *BasicMetrics) OnSignatureRecorded(ctx context.Context, wf *Workflow, rcp *Recipient, version int) {
	m.signaturesRecorded.Add(1)
}

func (m *BasicMetrics) OnReminderSent(ctx context.Context, wf *Workflow, rcp *Recipient) {
	m.remindersSent.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	completed := m.workflowsCompleted.Load()
	cancelled := m.workflowsCancelled.Load()
	expired := m.workflowsExpired.Load()

	return BasicMetricsSnapshot{
		WorkflowsStarted:   started,
		WorkflowsCompleted: completed,
		WorkflowsCancelled: cancelled,
		WorkflowsExpired:   expired,
		WorkflowsOpen:      started - completed - cancelled - expired,
		SignaturesRecorded: m.signaturesRecorded.Load(),
		RemindersSent:      m.remindersSent.Load(),
	}
}
