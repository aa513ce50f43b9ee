package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

// activation is one envelope handed to its recipient: the store mutations
// happen under the workflow lock, the notification is delivered after it.
type activation struct {
	env   *api.Envelope
	rcp   *api.Recipient
	token *api.SigningToken
}

// copyNote is a final-document delivery to a ReceivesACopy recipient.
type copyNote struct {
	env *api.Envelope
	rcp *api.Recipient
}

func reminderJobKey(workflowID string) string {
	return "reminders:" + workflowID
}

func daysToDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

// routingEntry pairs a signer envelope with its recipient for the ordered
// scan. Copy envelopes never enter the routing order.
type routingEntry struct {
	env *api.Envelope
	rcp *api.Recipient
}

func (e *engineImpl) signerEntries(ctx context.Context, workflowID string) ([]routingEntry, []copyNote, error) {
	envs, err := e.workflows.EnvelopesByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	var signers []routingEntry
	var copies []copyNote
	for _, env := range envs {
		rcp, err := e.workflows.RecipientByEnvelope(ctx, env.ID)
		if err != nil {
			return nil, nil, err
		}
		if rcp.Delivery == api.ReceivesACopy {
			copies = append(copies, copyNote{env: env, rcp: rcp})
			continue
		}
		signers = append(signers, routingEntry{env: env, rcp: rcp})
	}

	// Role priority orders the sequential scan; envelope Seq breaks ties so
	// equal-priority recipients keep request order.
	sort.SliceStable(signers, func(i, j int) bool {
		if signers[i].rcp.RolePriority != signers[j].rcp.RolePriority {
			return signers[i].rcp.RolePriority < signers[j].rcp.RolePriority
		}
		return signers[i].env.Seq < signers[j].env.Seq
	})
	return signers, copies, nil
}

// advance runs one routing pass under the caller-held workflow lock: it
// activates every envelope that became eligible and, when no signer remains
// open, completes the workflow. Returned activations and copy notes are
// delivered by the caller after the lock is released.
func (e *engineImpl) advance(ctx context.Context, wf *api.Workflow) ([]activation, []copyNote, bool, error) {
	signers, copies, err := e.signerEntries(ctx, wf.ID)
	if err != nil {
		return nil, nil, false, err
	}

	var acts []activation
	allDone := true
	for _, s := range signers {
		switch s.env.Status {
		case api.EnvelopeCompleted:
			continue
		case api.EnvelopeDraft:
			allDone = false
			act, err := e.activateEnvelope(ctx, wf, s.env, s.rcp)
			if err != nil {
				return nil, nil, false, err
			}
			acts = append(acts, *act)
		default:
			allDone = false
		}
		if wf.Sequential {
			// The first open signer gates everyone behind it.
			break
		}
	}

	if !allDone {
		return acts, nil, false, nil
	}

	notes, err := e.completeWorkflow(ctx, wf, copies)
	if err != nil {
		return nil, nil, false, err
	}
	return acts, notes, true, nil
}

func (e *engineImpl) activateEnvelope(ctx context.Context, wf *api.Workflow, env *api.Envelope, rcp *api.Recipient) (*activation, error) {
	token, err := e.tokens.GetOrReuse(ctx, rcp.ID, e.tokenTTL)
	if err != nil {
		return nil, err
	}

	env.Status = api.EnvelopeInProgress
	env.SentAt = e.now()
	if err := e.workflows.UpdateEnvelope(ctx, env); err != nil {
		return nil, api.WrapErr(api.KindDependency, err, "could not activate envelope")
	}

	e.appendAudit(ctx, wf.ID, env.ID, api.AuditSent, fmt.Sprintf("signing request sent to %s", rcp.Email))
	return &activation{env: env, rcp: rcp, token: token}, nil
}

// completeWorkflow transitions the workflow to Completed and closes the copy
// envelopes. Runs under the workflow lock; copy notifications go out after.
func (e *engineImpl) completeWorkflow(ctx context.Context, wf *api.Workflow, copies []copyNote) ([]copyNote, error) {
	wf.Status = api.WorkflowCompleted
	wf.UpdatedAt = e.now()
	if err := e.workflows.UpdateWorkflow(ctx, wf); err != nil {
		return nil, api.WrapErr(api.KindDependency, err, "could not complete workflow")
	}

	for _, c := range copies {
		c.env.Status = api.EnvelopeCompleted
		c.env.CompletedAt = e.now()
		if err := e.workflows.UpdateEnvelope(ctx, c.env); err != nil {
			return nil, err
		}
		e.appendAudit(ctx, wf.ID, c.env.ID, api.AuditCopied, fmt.Sprintf("final document sent to %s", c.rcp.Email))
	}
	e.appendAudit(ctx, wf.ID, "", api.AuditCompleted, "all required signatures recorded")

	if err := e.scheduler.Cancel(ctx, reminderJobKey(wf.ID)); err != nil {
		e.logger.ErrorContext(ctx, "reminder job cancel failed",
			"workflow_id", wf.ID, "error", err)
	}
	return copies, nil
}

// maybeExpire lapses the workflow when its deadline has passed. Called under
// the workflow lock by every mutating operation; reads never expire. It
// reports whether the workflow is expired (already or just now).
func (e *engineImpl) maybeExpire(ctx context.Context, wf *api.Workflow) (bool, error) {
	if wf.Status == api.WorkflowExpired {
		return true, nil
	}
	if wf.Status.Terminal() || wf.ValidUntil.IsZero() || e.now().Before(wf.ValidUntil) {
		return false, nil
	}

	wf.Status = api.WorkflowExpired
	wf.UpdatedAt = e.now()
	if err := e.workflows.UpdateWorkflow(ctx, wf); err != nil {
		return false, api.WrapErr(api.KindDependency, err, "could not expire workflow")
	}

	envs, err := e.workflows.EnvelopesByWorkflow(ctx, wf.ID)
	if err != nil {
		return false, err
	}
	for _, env := range envs {
		if env.Status != api.EnvelopeDraft && env.Status != api.EnvelopeInProgress {
			continue
		}
		env.Status = api.EnvelopeExpired
		if err := e.workflows.UpdateEnvelope(ctx, env); err != nil {
			return false, err
		}
	}

	e.appendAudit(ctx, wf.ID, "", api.AuditExpired, "validity deadline passed")
	if err := e.scheduler.Cancel(ctx, reminderJobKey(wf.ID)); err != nil {
		e.logger.ErrorContext(ctx, "reminder job cancel failed",
			"workflow_id", wf.ID, "error", err)
	}
	e.observer.OnWorkflowExpired(ctx, wf)
	return true, nil
}

func (e *engineImpl) ResendEnvelope(ctx context.Context, envelopeID string) error {
	env, err := e.workflows.GetEnvelope(ctx, envelopeID)
	if err != nil {
		return mapStoreErr(err, "envelope", envelopeID)
	}

	unlock := e.locks.lock(env.WorkflowID)

	wf, err := e.workflows.GetWorkflow(ctx, env.WorkflowID)
	if err != nil {
		unlock()
		return mapStoreErr(err, "workflow", env.WorkflowID)
	}
	if expired, err := e.maybeExpire(ctx, wf); err != nil {
		unlock()
		return err
	} else if expired {
		unlock()
		return api.Errf(api.KindWorkflowNotActive, "workflow %s has expired", wf.ID)
	}
	if wf.Status != api.WorkflowInProgress {
		unlock()
		return api.Errf(api.KindWorkflowNotActive, "workflow %s is not in progress", wf.ID)
	}

	// Re-read under the lock; a concurrent signing may have closed it.
	env, err = e.workflows.GetEnvelope(ctx, envelopeID)
	if err != nil {
		unlock()
		return mapStoreErr(err, "envelope", envelopeID)
	}
	if env.Status != api.EnvelopeDraft && env.Status != api.EnvelopeInProgress {
		unlock()
		return api.Errf(api.KindInvalidState, "envelope %s cannot be resent in status %s", envelopeID, env.Status)
	}

	rcp, err := e.workflows.RecipientByEnvelope(ctx, envelopeID)
	if err != nil {
		unlock()
		return err
	}

	// A resend supersedes the previous link on purpose: the old token is
	// retired and a fresh one issued, unlike a reminder which reuses it.
	token, err := e.tokens.Issue(ctx, rcp.ID, e.tokenTTL)
	if err != nil {
		unlock()
		return err
	}
	e.appendAudit(ctx, wf.ID, env.ID, api.AuditResent, fmt.Sprintf("signing request resent to %s", rcp.Email))
	unlock()

	if err := e.notifier.Send(ctx, rcp.Email, signingSubject(wf), signingBody(wf, rcp, token)); err != nil {
		return api.WrapErr(api.KindDependency, err, "could not deliver signing request")
	}
	return nil
}

func (e *engineImpl) deliverActivations(ctx context.Context, wf *api.Workflow, acts []activation) {
	for _, a := range acts {
		e.observer.OnEnvelopeActivated(ctx, wf, a.env, a.rcp)
		if err := e.notifier.Send(ctx, a.rcp.Email, signingSubject(wf), signingBody(wf, a.rcp, a.token)); err != nil {
			e.logger.ErrorContext(ctx, "signing request delivery failed",
				"workflow_id", wf.ID, "envelope_id", a.env.ID,
				"recipient_id", a.rcp.ID, "error", err)
		}
	}
}

func (e *engineImpl) deliverCopies(ctx context.Context, wf *api.Workflow, copies []copyNote) {
	for _, c := range copies {
		subject := fmt.Sprintf("Completed: %s", wf.Name)
		body := fmt.Sprintf("Hello %s,\n\nall parties have signed %q. A copy of the final document is attached for your records.\n", c.rcp.Name, wf.Name)
		if err := e.notifier.Send(ctx, c.rcp.Email, subject, body); err != nil {
			e.logger.ErrorContext(ctx, "completion copy delivery failed",
				"workflow_id", wf.ID, "envelope_id", c.env.ID,
				"recipient_id", c.rcp.ID, "error", err)
		}
	}
}

func signingSubject(wf *api.Workflow) string {
	return fmt.Sprintf("Signature requested: %s", wf.Name)
}

func signingBody(wf *api.Workflow, rcp *api.Recipient, token *api.SigningToken) string {
	return fmt.Sprintf("Hello %s,\n\nyou have been asked to sign %q.\nUse this one-time signing credential: %s\nThe link expires at %s.\n",
		rcp.Name, wf.Name, token.Value, token.ExpiresAt.Format(time.RFC3339))
}
