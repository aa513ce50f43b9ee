package api

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicMetricsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}

	wf := &Workflow{ID: "wf-1", Name: "nda"}
	rcp := &Recipient{ID: "rcp-1"}

	m.OnWorkflowStarted(ctx, wf)
	m.OnWorkflowStarted(ctx, wf)
	m.OnWorkflowStarted(ctx, wf)
	m.OnSignatureRecorded(ctx, wf, rcp, 1)
	m.OnSignatureRecorded(ctx, wf, rcp, 2)
	m.OnReminderSent(ctx, wf, rcp)
	m.OnWorkflowCompleted(ctx, wf)
	m.OnWorkflowCancelled(ctx, wf, "no longer needed")
	m.OnWorkflowExpired(ctx, wf)

	// Events without counters still satisfy the interface via NoopObserver.
	m.OnEnvelopeActivated(ctx, wf, &Envelope{ID: "env-1"}, rcp)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.WorkflowsStarted)
	assert.Equal(t, int64(1), snap.WorkflowsCompleted)
	assert.Equal(t, int64(1), snap.WorkflowsCancelled)
	assert.Equal(t, int64(1), snap.WorkflowsExpired)
	assert.Equal(t, int64(0), snap.WorkflowsOpen)
	assert.Equal(t, int64(2), snap.SignaturesRecorded)
	assert.Equal(t, int64(1), snap.RemindersSent)
}

// countingObserver counts every callback it receives.
type countingObserver struct {
	NoopObserver
	started, completed, reminded int
}

func (c *countingObserver) OnWorkflowStarted(ctx context.Context, wf *Workflow)   { c.started++ }
func (c *countingObserver) OnWorkflowCompleted(ctx context.Context, wf *Workflow) { c.completed++ }
func (c *countingObserver) OnReminderSent(ctx context.Context, wf *Workflow, rcp *Recipient) {
	c.reminded++
}

func TestCompositeObserverFansOut(t *testing.T) {
	ctx := context.Background()
	a := &countingObserver{}
	b := &countingObserver{}

	obs := NewCompositeObserver(a, nil, b)
	wf := &Workflow{ID: "wf-1"}

	obs.OnWorkflowStarted(ctx, wf)
	obs.OnWorkflowStarted(ctx, wf)
	obs.OnWorkflowCompleted(ctx, wf)
	obs.OnReminderSent(ctx, wf, &Recipient{ID: "rcp-1"})

	for _, c := range []*countingObserver{a, b} {
		assert.Equal(t, 2, c.started)
		assert.Equal(t, 1, c.completed)
		assert.Equal(t, 1, c.reminded)
	}
}

func TestCompositeObserverCollapses(t *testing.T) {
	assert.IsType(t, NoopObserver{}, NewCompositeObserver())
	assert.IsType(t, NoopObserver{}, NewCompositeObserver(nil, nil))

	single := &countingObserver{}
	assert.Same(t, Observer(single), NewCompositeObserver(single), "a single observer is returned as-is")
}

func TestLoggingObserverWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)
	ctx := context.Background()

	wf := &Workflow{ID: "wf-1", Name: "lease agreement", Sequential: true}
	env := &Envelope{ID: "env-1"}
	rcp := &Recipient{ID: "rcp-1", RolePriority: 2}

	obs.OnWorkflowStarted(ctx, wf)
	obs.OnEnvelopeActivated(ctx, wf, env, rcp)
	obs.OnSignatureRecorded(ctx, wf, rcp, 1)
	obs.OnReminderSent(ctx, wf, rcp)
	obs.OnWorkflowCompleted(ctx, wf)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "workflow_started")
	assert.Contains(t, out, "envelope_activated")
	assert.Contains(t, out, "signature_recorded")
	assert.Contains(t, out, "reminder_sent")
	assert.Contains(t, out, "workflow_completed")
	assert.Contains(t, out, "workflow_id=wf-1")
	assert.Contains(t, out, "document_version=1")
}

func TestNewLoggingObserverDefaultsLogger(t *testing.T) {
	obs := NewLoggingObserver(nil)
	lo, ok := obs.(*LoggingObserver)
	require.True(t, ok)
	assert.NotNil(t, lo.Logger)
}
