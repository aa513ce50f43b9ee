package engine

import (
	"context"
	"testing"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

func TestDeadlineLapsesOnNextMutation(t *testing.T) {
	// Long-lived tokens so the workflow deadline, not token TTL, is what
	// rejects the late signing attempt.
	te := newTestEngineTTL(t, 72*time.Hour)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "Offer",
		ValidUntil: te.clock.Now().Add(24 * time.Hour),
		Recipients: []api.RecipientSpec{
			signerSpec("A", "a@x.test", 0),
			signerSpec("B", "b@x.test", 0),
		},
	})
	id := detail.Workflow.ID
	a := detail.Envelopes[0].Recipient
	token := te.activeTokenValue(t, a.ID)

	te.clock.Advance(25 * time.Hour)

	// The first mutating access after the deadline flips the workflow.
	_, err := te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: a.ID, Token: token, Document: []byte("late"),
	})
	if !api.IsKind(err, api.KindWorkflowNotActive) && !api.IsKind(err, api.KindTokenInvalid) {
		t.Fatalf("expected signing after the deadline to be rejected, got %v", err)
	}

	detail, err = te.eng.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if detail.Workflow.Status != api.WorkflowExpired {
		t.Fatalf("expected EXPIRED, got %q", detail.Workflow.Status)
	}
	for _, env := range detail.Envelopes {
		if env.Envelope.Status != api.EnvelopeExpired {
			t.Fatalf("open envelope should expire, got %q", env.Envelope.Status)
		}
	}

	found := false
	for _, entry := range detail.Audit {
		if entry.Action == api.AuditExpired {
			found = true
		}
	}
	if !found {
		t.Fatal("expiry must be recorded in the audit trail")
	}
}

func TestCompletedEnvelopesSurviveExpiry(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "Offer",
		ValidUntil: te.clock.Now().Add(24 * time.Hour),
		Recipients: []api.RecipientSpec{
			signerSpec("A", "a@x.test", 0),
			signerSpec("B", "b@x.test", 0),
		},
	})
	id := detail.Workflow.ID
	a := detail.Envelopes[0].Recipient

	if _, err := te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: a.ID,
		Token:       te.activeTokenValue(t, a.ID),
		Document:    []byte("signed"),
	}); err != nil {
		t.Fatalf("CompleteSigning failed: %v", err)
	}

	te.clock.Advance(25 * time.Hour)

	// A reminder pass is a mutating access; it triggers the lazy expiry.
	report, err := te.eng.RemindWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("RemindWorkflow failed: %v", err)
	}
	if report.Sent != 0 {
		t.Fatalf("no reminders should go out after expiry, sent %d", report.Sent)
	}

	detail, err = te.eng.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if detail.Workflow.Status != api.WorkflowExpired {
		t.Fatalf("expected EXPIRED, got %q", detail.Workflow.Status)
	}
	if got := detail.Envelopes[0].Envelope.Status; got != api.EnvelopeCompleted {
		t.Fatalf("completed envelope must keep its status, got %q", got)
	}
	if got := detail.Envelopes[1].Envelope.Status; got != api.EnvelopeExpired {
		t.Fatalf("open envelope should expire, got %q", got)
	}
	if len(detail.Versions) != 1 {
		t.Fatalf("recorded versions must survive expiry, got %d", len(detail.Versions))
	}
}

func TestStartAfterDeadlineRejected(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	wf, err := te.eng.CreateWorkflow(ctx, api.CreateWorkflowRequest{
		Name:       "Stale",
		ValidUntil: te.clock.Now().Add(time.Hour),
		Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	te.clock.Advance(2 * time.Hour)

	err = te.eng.StartWorkflow(ctx, wf.ID, api.StartOptions{})
	if !api.IsKind(err, api.KindWorkflowNotActive) {
		t.Fatalf("expected workflow-not-active, got %v", err)
	}
	if te.notifier.count() != 0 {
		t.Fatalf("no signing requests may go out for an expired workflow, got %d", te.notifier.count())
	}
}
