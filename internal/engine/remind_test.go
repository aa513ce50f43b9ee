package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/signetlabs/signet/pkg/api"
)

func TestRemindRecipient(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Sequential: true,
		Recipients: []api.RecipientSpec{
			signerSpec("Active", "active@x.test", 1),
			signerSpec("Waiting", "waiting@x.test", 2),
		},
	})
	active := detail.Envelopes[0].Recipient
	waiting := detail.Envelopes[1].Recipient

	tokenBefore := te.activeTokenValue(t, active.ID)

	sent, err := te.eng.RemindRecipient(ctx, active.ID)
	if err != nil {
		t.Fatalf("RemindRecipient failed: %v", err)
	}
	if !sent {
		t.Fatal("pending recipient should be reminded")
	}
	if n := len(te.notifier.sentTo("active@x.test")); n != 2 {
		t.Fatalf("expected activation + reminder, got %d mails", n)
	}

	// A reminder must not invalidate the link already in the inbox.
	if tokenAfter := te.activeTokenValue(t, active.ID); tokenAfter != tokenBefore {
		t.Fatal("reminder must reuse the active token")
	}

	// The gated recipient has no active envelope yet.
	sent, err = te.eng.RemindRecipient(ctx, waiting.ID)
	if err != nil {
		t.Fatalf("RemindRecipient failed: %v", err)
	}
	if sent {
		t.Fatal("recipient without an active envelope must not be reminded")
	}
	if n := len(te.notifier.sentTo("waiting@x.test")); n != 0 {
		t.Fatalf("gated recipient should have no mail, got %d", n)
	}

	// Signed recipients are left alone too.
	if _, err := te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: active.ID,
		Token:       tokenBefore,
		Document:    []byte("signed"),
	}); err != nil {
		t.Fatalf("CompleteSigning failed: %v", err)
	}
	sent, err = te.eng.RemindRecipient(ctx, active.ID)
	if err != nil {
		t.Fatalf("RemindRecipient failed: %v", err)
	}
	if sent {
		t.Fatal("signed recipient must not be reminded")
	}
}

func TestRemindWorkflowPartialFailure(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name: "NDA",
		Recipients: []api.RecipientSpec{
			signerSpec("Good", "good@x.test", 0),
			signerSpec("Broken", "broken@x.test", 0),
			ccSpec("Archive", "archive@x.test"),
		},
	})
	te.notifier.failFor["broken@x.test"] = errors.New("mailbox unavailable")

	report, err := te.eng.RemindWorkflow(ctx, detail.Workflow.ID)
	if err != nil {
		t.Fatalf("RemindWorkflow failed: %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 {
		t.Fatalf("expected 1 sent / 1 failed, got %+v", report)
	}
	if !report.Partial() {
		t.Fatal("report should be partial")
	}
	if len(report.FailedRecipients) != 1 || report.FailedRecipients[0] != detail.Envelopes[1].Recipient.ID {
		t.Fatalf("unexpected failed recipients: %v", report.FailedRecipients)
	}

	// Only pending signers get reminded; the reminder is recorded.
	full, err := te.eng.GetWorkflow(ctx, detail.Workflow.ID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	reminded := 0
	for _, entry := range full.Audit {
		if entry.Action == api.AuditReminded {
			reminded++
		}
	}
	if reminded != 1 {
		t.Fatalf("expected 1 reminded audit entry, got %d", reminded)
	}
}

func TestRemindWorkflowTerminalIsNoop(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
	})
	if err := te.eng.CancelWorkflow(ctx, detail.Workflow.ID, ""); err != nil {
		t.Fatalf("CancelWorkflow failed: %v", err)
	}

	report, err := te.eng.RemindWorkflow(ctx, detail.Workflow.ID)
	if err != nil {
		t.Fatalf("RemindWorkflow failed: %v", err)
	}
	if report.Sent != 0 || report.Failed != 0 {
		t.Fatalf("terminal workflow should remind nobody, got %+v", report)
	}
}

func TestResendEnvelopeIssuesFreshToken(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
	})
	rcp := detail.Envelopes[0].Recipient
	envID := detail.Envelopes[0].Envelope.ID
	oldToken := te.activeTokenValue(t, rcp.ID)

	if err := te.eng.ResendEnvelope(ctx, envID); err != nil {
		t.Fatalf("ResendEnvelope failed: %v", err)
	}

	newToken := te.activeTokenValue(t, rcp.ID)
	if newToken == oldToken {
		t.Fatal("resend must supersede the previous token")
	}

	// The superseded link is dead.
	_, err := te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: rcp.ID, Token: oldToken, Document: []byte("x"),
	})
	if !api.IsKind(err, api.KindTokenInvalid) {
		t.Fatalf("expected token-invalid for superseded token, got %v", err)
	}

	// The fresh link works.
	if _, err := te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: rcp.ID, Token: newToken, Document: []byte("x"),
	}); err != nil {
		t.Fatalf("CompleteSigning with fresh token failed: %v", err)
	}

	// Completed envelopes cannot be resent.
	err = te.eng.ResendEnvelope(ctx, envID)
	if err == nil {
		t.Fatal("expected resend of a completed envelope to fail")
	}
}
