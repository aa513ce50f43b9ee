package engine

import (
	"context"
	"strings"

	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/api"
)

func (e *engineImpl) CreateWorkflow(ctx context.Context, req api.CreateWorkflowRequest) (*api.Workflow, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, api.Errf(api.KindValidation, "workflow name is required")
	}
	if len(req.Recipients) == 0 {
		return nil, api.Errf(api.KindValidation, "workflow needs at least one recipient")
	}

	mode := req.Mode
	if mode == "" {
		mode = api.ModeCustomRecipients
	}
	if (mode == api.ModeFromTemplate || mode == api.ModeMixed) && req.TemplateID == "" {
		return nil, api.Errf(api.KindValidation, "recipient mode %s requires a template id", mode)
	}

	now := e.now()
	wf := &api.Workflow{
		ID:                   newID(),
		Name:                 req.Name,
		CreatorID:            req.CreatorID,
		TemplateID:           req.TemplateID,
		Status:               api.WorkflowDraft,
		Mode:                 mode,
		Sequential:           req.Sequential,
		ValidUntil:           req.ValidUntil,
		AutoReminder:         req.AutoReminder,
		ReminderIntervalDays: req.ReminderIntervalDays,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	doc := &api.SignedDocument{ID: newID(), WorkflowID: wf.ID}

	g := persistence.WorkflowGraph{Workflow: wf, Document: doc}
	for i, spec := range req.Recipients {
		if !spec.UseOwnerIdentity && strings.TrimSpace(spec.Email) == "" {
			return nil, api.Errf(api.KindValidation, "recipient %d needs an email or the owner identity flag", i)
		}
		delivery := spec.Delivery
		if delivery == "" {
			delivery = api.NeedsToSign
		}

		env := &api.Envelope{
			ID:         newID(),
			WorkflowID: wf.ID,
			Seq:        i,
			Status:     api.EnvelopeDraft,
		}
		rcp := &api.Recipient{
			ID:               newID(),
			EnvelopeID:       env.ID,
			WorkflowID:       wf.ID,
			Name:             spec.Name,
			Email:            spec.Email,
			UseOwnerIdentity: spec.UseOwnerIdentity,
			RoleID:           spec.RoleID,
			RolePriority:     spec.RolePriority,
			Delivery:         delivery,
		}
		g.Envelopes = append(g.Envelopes, env)
		g.Recipients = append(g.Recipients, rcp)

		if delivery == api.NeedsToSign {
			g.Signatures = append(g.Signatures, &api.Signature{
				ID:          newID(),
				RecipientID: rcp.ID,
				DocumentID:  doc.ID,
			})
		}
	}

	if err := e.workflows.CreateWorkflow(ctx, g); err != nil {
		return nil, api.WrapErr(api.KindDependency, err, "could not persist workflow")
	}

	if req.StartImmediately {
		opts := api.StartOptions{
			AutoReminder:         req.AutoReminder,
			ReminderIntervalDays: req.ReminderIntervalDays,
		}
		if err := e.StartWorkflow(ctx, wf.ID, opts); err != nil {
			return nil, err
		}
		return e.workflows.GetWorkflow(ctx, wf.ID)
	}
	return wf, nil
}

func (e *engineImpl) StartWorkflow(ctx context.Context, workflowID string, opts api.StartOptions) error {
	unlock := e.locks.lock(workflowID)

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		unlock()
		return mapStoreErr(err, "workflow", workflowID)
	}
	if wf.Status != api.WorkflowDraft {
		unlock()
		return api.Errf(api.KindInvalidState, "workflow %s cannot start from status %s", workflowID, wf.Status)
	}
	if expired, err := e.maybeExpire(ctx, wf); err != nil {
		unlock()
		return err
	} else if expired {
		unlock()
		return api.Errf(api.KindWorkflowNotActive, "workflow %s validity deadline has passed", workflowID)
	}

	wf.Status = api.WorkflowInProgress
	wf.AutoReminder = wf.AutoReminder || opts.AutoReminder
	if opts.ReminderIntervalDays > 0 {
		wf.ReminderIntervalDays = opts.ReminderIntervalDays
	}
	if wf.ReminderIntervalDays <= 0 {
		wf.ReminderIntervalDays = api.DefaultReminderIntervalDays
	}
	wf.UpdatedAt = e.now()
	if err := e.workflows.UpdateWorkflow(ctx, wf); err != nil {
		unlock()
		return api.WrapErr(api.KindDependency, err, "could not start workflow")
	}

	acts, copies, completed, err := e.advance(ctx, wf)
	unlock()
	if err != nil {
		return err
	}

	e.observer.OnWorkflowStarted(ctx, wf)

	if wf.AutoReminder && !completed {
		every := daysToDuration(wf.ReminderIntervalDays)
		if err := e.scheduler.ScheduleRecurring(ctx, reminderJobKey(wf.ID), every, wf.ID); err != nil {
			e.logger.ErrorContext(ctx, "reminder job registration failed",
				"workflow_id", wf.ID, "error", err)
		}
	}

	e.deliverActivations(ctx, wf, acts)
	e.deliverCopies(ctx, wf, copies)
	if completed {
		e.observer.OnWorkflowCompleted(ctx, wf)
	}
	return nil
}

func (e *engineImpl) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	unlock := e.locks.lock(workflowID)
	defer unlock()

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mapStoreErr(err, "workflow", workflowID)
	}
	if wf.Status.Terminal() {
		return nil
	}

	wf.Status = api.WorkflowCancelled
	wf.UpdatedAt = e.now()
	if err := e.workflows.UpdateWorkflow(ctx, wf); err != nil {
		return api.WrapErr(api.KindDependency, err, "could not cancel workflow")
	}

	envs, err := e.workflows.EnvelopesByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if env.Status == api.EnvelopeCompleted {
			continue
		}
		env.Status = api.EnvelopeFailed
		if err := e.workflows.UpdateEnvelope(ctx, env); err != nil {
			return err
		}
	}

	e.appendAudit(ctx, workflowID, "", api.AuditCancelled, fmtReason(reason))
	if err := e.scheduler.Cancel(ctx, reminderJobKey(workflowID)); err != nil {
		e.logger.ErrorContext(ctx, "reminder job cancel failed",
			"workflow_id", workflowID, "error", err)
	}
	e.observer.OnWorkflowCancelled(ctx, wf, reason)
	return nil
}

func (e *engineImpl) DeleteWorkflow(ctx context.Context, workflowID string) error {
	unlock := e.locks.lock(workflowID)
	defer unlock()

	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mapStoreErr(err, "workflow", workflowID)
	}
	switch wf.Status {
	case api.WorkflowDraft, api.WorkflowCompleted, api.WorkflowCancelled, api.WorkflowExpired:
	default:
		return api.Errf(api.KindInvalidState, "workflow %s is active; cancel it before deleting", workflowID)
	}

	envs, err := e.workflows.EnvelopesByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	var recipientIDs []string
	for _, env := range envs {
		rcp, err := e.workflows.RecipientByEnvelope(ctx, env.ID)
		if err != nil {
			return err
		}
		recipientIDs = append(recipientIDs, rcp.ID)
	}

	if err := e.tokens.DeleteByRecipients(ctx, recipientIDs); err != nil {
		return api.WrapErr(api.KindDependency, err, "could not delete signing tokens")
	}
	if err := e.documents.DeleteByWorkflow(ctx, workflowID); err != nil {
		return api.WrapErr(api.KindDependency, err, "could not delete signed documents")
	}
	if err := e.audit.DeleteByWorkflow(ctx, workflowID); err != nil {
		return api.WrapErr(api.KindDependency, err, "could not delete audit trail")
	}
	if err := e.workflows.DeleteWorkflow(ctx, workflowID); err != nil {
		return api.WrapErr(api.KindDependency, err, "could not delete workflow")
	}

	// The workflow may never have been started; cancelling an unknown job
	// key is a no-op.
	if err := e.scheduler.Cancel(ctx, reminderJobKey(workflowID)); err != nil {
		e.logger.ErrorContext(ctx, "reminder job cancel failed",
			"workflow_id", workflowID, "error", err)
	}
	return nil
}

func (e *engineImpl) UpdateWorkflowDetails(ctx context.Context, upd api.WorkflowUpdate) (*api.Workflow, error) {
	unlock := e.locks.lock(upd.WorkflowID)
	defer unlock()

	wf, err := e.workflows.GetWorkflow(ctx, upd.WorkflowID)
	if err != nil {
		return nil, mapStoreErr(err, "workflow", upd.WorkflowID)
	}
	if wf.Status == api.WorkflowCompleted || wf.Status == api.WorkflowCancelled {
		return nil, api.Errf(api.KindInvalidState, "workflow %s can no longer be edited in status %s", wf.ID, wf.Status)
	}

	if upd.Name != "" {
		wf.Name = upd.Name
	}
	if !upd.ValidUntil.IsZero() {
		wf.ValidUntil = upd.ValidUntil
	}
	if upd.ReminderIntervalDays > 0 {
		wf.ReminderIntervalDays = upd.ReminderIntervalDays
	}
	wf.UpdatedAt = e.now()

	if err := e.workflows.UpdateWorkflow(ctx, wf); err != nil {
		return nil, api.WrapErr(api.KindDependency, err, "could not update workflow")
	}
	return wf, nil
}
