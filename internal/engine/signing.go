package engine

import (
	"context"
	"fmt"

	"github.com/signetlabs/signet/pkg/api"
)

// CompleteSigning records one recipient's signature. The unit under the
// workflow lock is: re-check state, consume the token, append the document
// version, flip the signature, close the envelope, advance the router. Blob
// writes happen before the lock and notifications after it, so the lock only
// covers store mutations.
func (e *engineImpl) CompleteSigning(ctx context.Context, req api.SigningRequest) (*api.SigningResult, error) {
	if len(req.Document) == 0 {
		return nil, api.Errf(api.KindValidation, "signed document bytes are required")
	}

	rcp, err := e.workflows.GetRecipient(ctx, req.RecipientID)
	if err != nil {
		return nil, mapStoreErr(err, "recipient", req.RecipientID)
	}
	if rcp.Delivery != api.NeedsToSign {
		return nil, api.Errf(api.KindInvalidState, "recipient %s only receives a copy and cannot sign", rcp.ID)
	}

	// Fast precondition checks before any blob write. They are repeated
	// under the lock; only the locked checks are authoritative.
	sig, err := e.workflows.SignatureByRecipient(ctx, rcp.ID)
	if err != nil {
		return nil, mapStoreErr(err, "signature for recipient", rcp.ID)
	}
	if sig.Signed {
		return nil, api.Errf(api.KindAlreadySigned, "recipient %s has already signed", rcp.ID)
	}

	token, err := e.tokens.Validate(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if token.RecipientID != rcp.ID {
		// A token bound to someone else is indistinguishable from an
		// unknown one on purpose.
		return nil, api.ErrTokenInvalid(fmt.Errorf("token recipient mismatch"))
	}

	docBlobID, err := e.blobs.Store(ctx, req.Document, "application/pdf")
	if err != nil {
		return nil, api.WrapErr(api.KindDependency, err, "could not store signed document")
	}
	var proofBlobID string
	if len(req.ProofImage) > 0 {
		proofBlobID, err = e.blobs.Store(ctx, req.ProofImage, "image/png")
		if err != nil {
			return nil, api.WrapErr(api.KindDependency, err, "could not store signature proof")
		}
	}

	unlock := e.locks.lock(rcp.WorkflowID)
	result, wf, acts, copies, err := e.recordSignature(ctx, rcp, token.ID, docBlobID, proofBlobID)
	unlock()
	if err != nil {
		return nil, err
	}

	e.observer.OnSignatureRecorded(ctx, wf, rcp, result.Version.Version)
	e.deliverActivations(ctx, wf, acts)
	e.deliverCopies(ctx, wf, copies)
	if result.WorkflowCompleted {
		e.observer.OnWorkflowCompleted(ctx, wf)
	}
	return result, nil
}

// recordSignature is the locked portion of CompleteSigning.
func (e *engineImpl) recordSignature(ctx context.Context, rcp *api.Recipient, tokenID, docBlobID, proofBlobID string) (*api.SigningResult, *api.Workflow, []activation, []copyNote, error) {
	wf, err := e.workflows.GetWorkflow(ctx, rcp.WorkflowID)
	if err != nil {
		return nil, nil, nil, nil, mapStoreErr(err, "workflow", rcp.WorkflowID)
	}
	if expired, err := e.maybeExpire(ctx, wf); err != nil {
		return nil, nil, nil, nil, err
	} else if expired {
		return nil, nil, nil, nil, api.Errf(api.KindWorkflowNotActive, "workflow %s has expired", wf.ID)
	}
	if wf.Status != api.WorkflowInProgress {
		return nil, nil, nil, nil, api.Errf(api.KindWorkflowNotActive, "workflow %s is not accepting signatures in status %s", wf.ID, wf.Status)
	}

	// The signed check precedes the envelope check so a replay reports the
	// real cause instead of the closed envelope it left behind.
	sig, err := e.workflows.SignatureByRecipient(ctx, rcp.ID)
	if err != nil {
		return nil, nil, nil, nil, mapStoreErr(err, "signature for recipient", rcp.ID)
	}
	if sig.Signed {
		return nil, nil, nil, nil, api.Errf(api.KindAlreadySigned, "recipient %s has already signed", rcp.ID)
	}

	env, err := e.workflows.GetEnvelope(ctx, rcp.EnvelopeID)
	if err != nil {
		return nil, nil, nil, nil, mapStoreErr(err, "envelope", rcp.EnvelopeID)
	}
	if env.Status != api.EnvelopeInProgress {
		return nil, nil, nil, nil, api.Errf(api.KindWorkflowNotActive, "envelope %s is not awaiting a signature", env.ID)
	}

	doc, err := e.documents.DocumentByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, nil, nil, nil, mapStoreErr(err, "signed document for workflow", wf.ID)
	}
	version := &api.SignedDocumentVersion{
		DocumentID:  doc.ID,
		BlobID:      docBlobID,
		RecipientID: rcp.ID,
		CreatedAt:   e.now(),
	}
	if _, err := e.documents.AppendVersion(ctx, version); err != nil {
		return nil, nil, nil, nil, api.WrapErr(api.KindDependency, err, "could not persist document version")
	}

	sig.Signed = true
	sig.SignedAt = e.now()
	sig.ProofBlobID = proofBlobID
	if err := e.workflows.UpdateSignature(ctx, sig); err != nil {
		return nil, nil, nil, nil, api.WrapErr(api.KindDependency, err, "could not record signature")
	}

	// Consumed only after the version and signature writes land: a storage
	// failure above leaves the token unused so the same link can retry. The
	// conditional flip in the store decides the winner of any cross-process
	// race; in-process the workflow lock already serialized us.
	if err := e.tokens.Consume(ctx, tokenID); err != nil {
		return nil, nil, nil, nil, err
	}

	env.Status = api.EnvelopeCompleted
	env.CompletedAt = e.now()
	if err := e.workflows.UpdateEnvelope(ctx, env); err != nil {
		return nil, nil, nil, nil, api.WrapErr(api.KindDependency, err, "could not close envelope")
	}

	e.appendAudit(ctx, wf.ID, env.ID, api.AuditSigned,
		fmt.Sprintf("%s signed document version %d", rcp.Email, version.Version))

	acts, copies, completed, err := e.advance(ctx, wf)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	result := &api.SigningResult{
		Signature:         *sig,
		Version:           *version,
		WorkflowCompleted: completed,
	}
	return result, wf, acts, copies, nil
}
