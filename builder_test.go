package signet_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signetlabs/signet"
)

func TestBuilderAssemblesRequest(t *testing.T) {
	deadline := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	req := signet.NewWorkflow("Mutual NDA").
		Creator("user-42").
		Sequential().
		ValidUntil(deadline).
		AutoRemind(2).
		SignerWithPriority("Ada Lovelace", "ada@example.com", 1).
		Signer("Grace Hopper", "grace@example.com").
		CC("Legal Archive", "legal@example.com").
		Request()

	assert.Equal(t, "Mutual NDA", req.Name)
	assert.Equal(t, "user-42", req.CreatorID)
	assert.True(t, req.Sequential)
	assert.Equal(t, deadline, req.ValidUntil)
	assert.True(t, req.AutoReminder)
	assert.Equal(t, 2, req.ReminderIntervalDays)

	require.Len(t, req.Recipients, 3)
	assert.Equal(t, signet.NeedsToSign, req.Recipients[0].Delivery)
	assert.Equal(t, 1, req.Recipients[0].RolePriority)
	assert.Equal(t, signet.NeedsToSign, req.Recipients[1].Delivery)
	assert.Equal(t, signet.ReceivesACopy, req.Recipients[2].Delivery)
	assert.Equal(t, "legal@example.com", req.Recipients[2].Email)
}

func TestBuilderOwnerSigner(t *testing.T) {
	req := signet.NewWorkflow("Board resolution").
		OwnerSigner("Chairperson").
		Request()

	require.Len(t, req.Recipients, 1)
	assert.True(t, req.Recipients[0].UseOwnerIdentity)
	assert.Empty(t, req.Recipients[0].Email)
}

func TestBuilderFromTemplate(t *testing.T) {
	req := signet.NewWorkflow("Lease agreement").
		FromTemplate("tpl-7").
		Request()

	assert.Equal(t, "tpl-7", req.TemplateID)
	assert.Equal(t, signet.ModeFromTemplate, req.Mode)
}

func TestBuilderPanics(t *testing.T) {
	assert.Panics(t, func() { signet.NewWorkflow("") })
	assert.Panics(t, func() {
		signet.NewWorkflow("x").Signer("No Email", "")
	})
	assert.NotPanics(t, func() {
		signet.NewWorkflow("x").OwnerSigner("Owner signs without an email")
	})
}

func TestBuilderCreate(t *testing.T) {
	eng := signet.NewInMemoryEngine()
	ctx := context.Background()

	wf, err := signet.NewWorkflow("Offer letter").
		Creator("hr-1").
		Signer("Ada Lovelace", "ada@example.com").
		Create(ctx, eng)
	require.NoError(t, err)
	assert.Equal(t, signet.WorkflowDraft, wf.Status)

	detail, err := eng.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, detail.Envelopes, 1)
	assert.Equal(t, "ada@example.com", detail.Envelopes[0].Recipient.Email)

	assert.NotPanics(t, func() {
		signet.NewWorkflow("Second").Signer("A", "a@example.com").MustCreate(ctx, eng)
	})
	assert.Panics(t, func() {
		// Template mode without a template id fails validation.
		signet.NewWorkflow("Broken").
			Mode(signet.ModeFromTemplate).
			Signer("A", "a@example.com").
			MustCreate(ctx, eng)
	})
}
