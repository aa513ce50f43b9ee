package signet

import (
	"context"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

// WorkflowBuilder provides a fluent API for assembling signing workflows:
//
//	wf, err := signet.NewWorkflow("Mutual NDA").
//	    Creator("user-42").
//	    Sequential().
//	    Signer("Ada Lovelace", "ada@example.com").
//	    Signer("Grace Hopper", "grace@example.com").
//	    CC("Legal Archive", "legal@example.com").
//	    AutoRemind(2).
//	    Create(ctx, engine)
type WorkflowBuilder struct {
	req api.CreateWorkflowRequest
}

// NewWorkflow creates a new workflow builder with the given name.
func NewWorkflow(name string) *WorkflowBuilder {
	if name == "" {
		panic("signet: workflow name must not be empty")
	}
	return &WorkflowBuilder{
		req: api.CreateWorkflowRequest{
			Name: name,
			Mode: api.ModeCustomRecipients,
		},
	}
}

// Request returns the underlying CreateWorkflowRequest.
// Typically used when interacting with lower-level APIs.
func (b *WorkflowBuilder) Request() CreateWorkflowRequest {
	return b.req
}

// Creator sets the id of the user the workflow belongs to.
func (b *WorkflowBuilder) Creator(id string) *WorkflowBuilder {
	b.req.CreatorID = id
	return b
}

// FromTemplate marks the recipient set as template-derived.
func (b *WorkflowBuilder) FromTemplate(templateID string) *WorkflowBuilder {
	b.req.TemplateID = templateID
	b.req.Mode = api.ModeFromTemplate
	return b
}

// Mode overrides the recipient-configuration mode.
func (b *WorkflowBuilder) Mode(m RecipientMode) *WorkflowBuilder {
	b.req.Mode = m
	return b
}

// Sequential makes recipients sign one after another in priority order.
func (b *WorkflowBuilder) Sequential() *WorkflowBuilder {
	b.req.Sequential = true
	return b
}

// Parallel makes all recipients sign independently. This is the default.
func (b *WorkflowBuilder) Parallel() *WorkflowBuilder {
	b.req.Sequential = false
	return b
}

// ValidUntil sets the workflow deadline.
func (b *WorkflowBuilder) ValidUntil(t time.Time) *WorkflowBuilder {
	b.req.ValidUntil = t
	return b
}

// AutoRemind enables recurring reminders every intervalDays days.
func (b *WorkflowBuilder) AutoRemind(intervalDays int) *WorkflowBuilder {
	b.req.AutoReminder = true
	b.req.ReminderIntervalDays = intervalDays
	return b
}

// StartImmediately starts the workflow as part of Create.
func (b *WorkflowBuilder) StartImmediately() *WorkflowBuilder {
	b.req.StartImmediately = true
	return b
}

// Signer appends a recipient who must sign. Signers added through this
// method keep their insertion order in sequential workflows.
func (b *WorkflowBuilder) Signer(name, email string) *WorkflowBuilder {
	return b.recipient(api.RecipientSpec{
		Name:     name,
		Email:    email,
		Delivery: api.NeedsToSign,
	})
}

// SignerWithPriority appends a signer with an explicit role priority; lower
// priorities sign first in sequential workflows.
func (b *WorkflowBuilder) SignerWithPriority(name, email string, priority int) *WorkflowBuilder {
	return b.recipient(api.RecipientSpec{
		Name:         name,
		Email:        email,
		RolePriority: priority,
		Delivery:     api.NeedsToSign,
	})
}

// OwnerSigner appends a signer that resolves to the document owner's own
// identity instead of a custom name and email.
func (b *WorkflowBuilder) OwnerSigner(name string) *WorkflowBuilder {
	return b.recipient(api.RecipientSpec{
		Name:             name,
		UseOwnerIdentity: true,
		Delivery:         api.NeedsToSign,
	})
}

// CC appends a recipient who only receives a copy of the final document.
func (b *WorkflowBuilder) CC(name, email string) *WorkflowBuilder {
	return b.recipient(api.RecipientSpec{
		Name:     name,
		Email:    email,
		Delivery: api.ReceivesACopy,
	})
}

// Recipient appends a fully specified recipient.
func (b *WorkflowBuilder) Recipient(spec RecipientSpec) *WorkflowBuilder {
	return b.recipient(spec)
}

func (b *WorkflowBuilder) recipient(spec api.RecipientSpec) *WorkflowBuilder {
	if spec.Email == "" && !spec.UseOwnerIdentity {
		panic("signet: recipient needs an email or the owner identity flag")
	}
	b.req.Recipients = append(b.req.Recipients, spec)
	return b
}

// Create materializes the workflow on the given engine.
func (b *WorkflowBuilder) Create(ctx context.Context, eng Engine) (*Workflow, error) {
	return eng.CreateWorkflow(ctx, b.req)
}

// MustCreate is like Create but panics on error.
// Useful for initialization in tests and examples.
func (b *WorkflowBuilder) MustCreate(ctx context.Context, eng Engine) *Workflow {
	wf, err := b.Create(ctx, eng)
	if err != nil {
		panic(err)
	}
	return wf
}
