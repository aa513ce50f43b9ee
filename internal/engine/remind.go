package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

// pendingReminder is one reminder prepared under the workflow lock and
// delivered after it.
type pendingReminder struct {
	env   *api.Envelope
	rcp   *api.Recipient
	token *api.SigningToken
}

func (e *engineImpl) RemindRecipient(ctx context.Context, recipientID string) (bool, error) {
	rcp, err := e.workflows.GetRecipient(ctx, recipientID)
	if err != nil {
		return false, mapStoreErr(err, "recipient", recipientID)
	}

	unlock := e.locks.lock(rcp.WorkflowID)
	rem, err := e.prepareReminder(ctx, rcp)
	unlock()
	if err != nil || rem == nil {
		return false, err
	}

	wf, err := e.workflows.GetWorkflow(ctx, rcp.WorkflowID)
	if err != nil {
		return false, mapStoreErr(err, "workflow", rcp.WorkflowID)
	}
	if err := e.sendReminder(ctx, wf, rem); err != nil {
		return false, api.WrapErr(api.KindDependency, err, "could not deliver reminder")
	}
	return true, nil
}

func (e *engineImpl) RemindWorkflow(ctx context.Context, workflowID string) (*api.RemindReport, error) {
	unlock := e.locks.lock(workflowID)

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		unlock()
		return nil, mapStoreErr(err, "workflow", workflowID)
	}
	if expired, err := e.maybeExpire(ctx, wf); err != nil {
		unlock()
		return nil, err
	} else if expired || wf.Status != api.WorkflowInProgress {
		unlock()
		return &api.RemindReport{WorkflowID: workflowID}, nil
	}

	signers, _, err := e.signerEntries(ctx, workflowID)
	if err != nil {
		unlock()
		return nil, err
	}

	var reminders []pendingReminder
	for _, s := range signers {
		if s.env.Status != api.EnvelopeInProgress {
			continue
		}
		token, err := e.tokens.GetOrReuse(ctx, s.rcp.ID, e.tokenTTL)
		if err != nil {
			unlock()
			return nil, err
		}
		reminders = append(reminders, pendingReminder{env: s.env, rcp: s.rcp, token: token})
	}
	unlock()

	report := &api.RemindReport{WorkflowID: workflowID}
	for _, rem := range reminders {
		if err := e.sendReminder(ctx, wf, &rem); err != nil {
			report.Failed++
			report.FailedRecipients = append(report.FailedRecipients, rem.rcp.ID)
			e.logger.ErrorContext(ctx, "reminder delivery failed",
				"workflow_id", workflowID, "recipient_id", rem.rcp.ID, "error", err)
			continue
		}
		report.Sent++
	}
	return report, nil
}

// prepareReminder runs under the workflow lock. It returns nil without error
// when the recipient is not currently awaiting a signature.
func (e *engineImpl) prepareReminder(ctx context.Context, rcp *api.Recipient) (*pendingReminder, error) {
	wf, err := e.workflows.GetWorkflow(ctx, rcp.WorkflowID)
	if err != nil {
		return nil, mapStoreErr(err, "workflow", rcp.WorkflowID)
	}
	if expired, err := e.maybeExpire(ctx, wf); err != nil {
		return nil, err
	} else if expired || wf.Status != api.WorkflowInProgress {
		return nil, nil
	}
	if rcp.Delivery != api.NeedsToSign {
		return nil, nil
	}

	env, err := e.workflows.GetEnvelope(ctx, rcp.EnvelopeID)
	if err != nil {
		return nil, mapStoreErr(err, "envelope", rcp.EnvelopeID)
	}
	if env.Status != api.EnvelopeInProgress {
		return nil, nil
	}

	sig, err := e.workflows.SignatureByRecipient(ctx, rcp.ID)
	if err != nil {
		return nil, mapStoreErr(err, "signature for recipient", rcp.ID)
	}
	if sig.Signed {
		return nil, nil
	}

	// Reminders reuse the active token so a link already sitting in the
	// recipient's inbox keeps working.
	token, err := e.tokens.GetOrReuse(ctx, rcp.ID, e.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &pendingReminder{env: env, rcp: rcp, token: token}, nil
}

// sendReminder delivers one reminder and records it. Never called under the
// workflow lock.
func (e *engineImpl) sendReminder(ctx context.Context, wf *api.Workflow, rem *pendingReminder) error {
	subject := fmt.Sprintf("Reminder: %s is waiting for your signature", wf.Name)
	body := fmt.Sprintf("Hello %s,\n\nthis is a reminder that %q still needs your signature.\nUse this one-time signing credential: %s\nThe link expires at %s.\n",
		rem.rcp.Name, wf.Name, rem.token.Value, rem.token.ExpiresAt.Format(time.RFC3339))
	if err := e.notifier.Send(ctx, rem.rcp.Email, subject, body); err != nil {
		return err
	}
	e.appendAudit(ctx, wf.ID, rem.env.ID, api.AuditReminded,
		fmt.Sprintf("reminder sent to %s", rem.rcp.Email))
	e.observer.OnReminderSent(ctx, wf, rem.rcp)
	return nil
}
