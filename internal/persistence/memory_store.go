package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

// MemoryStore is a goroutine-safe implementation of WorkflowStore,
// DocumentStore, TokenStore, and AuditStore backed by maps. It is
// non-durable and intended for tests and single-process development.
type MemoryStore struct {
	mu sync.RWMutex

	workflows  map[string]*api.Workflow
	envelopes  map[string]*api.Envelope
	recipients map[string]*api.Recipient
	signatures map[string]*api.Signature // keyed by recipient id

	documents map[string]*api.SignedDocument          // keyed by workflow id
	versions  map[string][]*api.SignedDocumentVersion // keyed by document id

	tokens map[string]*api.SigningToken // keyed by token id

	audit map[string][]*api.AuditEntry // keyed by workflow id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*api.Workflow),
		envelopes:  make(map[string]*api.Envelope),
		recipients: make(map[string]*api.Recipient),
		signatures: make(map[string]*api.Signature),
		documents:  make(map[string]*api.SignedDocument),
		versions:   make(map[string][]*api.SignedDocumentVersion),
		tokens:     make(map[string]*api.SigningToken),
		audit:      make(map[string][]*api.AuditEntry),
	}
}

// Ensure MemoryStore implements the store interfaces.
var (
	_ WorkflowStore = (*MemoryStore)(nil)
	_ DocumentStore = (*MemoryStore)(nil)
	_ TokenStore    = (*MemoryStore)(nil)
	_ AuditStore    = (*MemoryStore)(nil)
)

// Stores returns a Persistence with every store backed by s.
func (s *MemoryStore) Stores() Persistence {
	return Persistence{Workflows: s, Documents: s, Tokens: s, Audit: s}
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, g WorkflowGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf := *g.Workflow
	s.workflows[wf.ID] = &wf

	for _, env := range g.Envelopes {
		e := *env
		s.envelopes[e.ID] = &e
	}
	for _, rcp := range g.Recipients {
		r := *rcp
		s.recipients[r.ID] = &r
	}
	for _, sig := range g.Signatures {
		c := *sig
		s.signatures[c.RecipientID] = &c
	}
	if g.Document != nil {
		d := *g.Document
		s.documents[d.WorkflowID] = &d
	}
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	out := *wf
	return &out, nil
}

func (s *MemoryStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[wf.ID]; !ok {
		return ErrWorkflowNotFound
	}
	c := *wf
	s.workflows[wf.ID] = &c
	return nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Workflow
	for _, wf := range s.workflows {
		if filter.CreatorID != "" && wf.CreatorID != filter.CreatorID {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		c := *wf
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)

	for envID, env := range s.envelopes {
		if env.WorkflowID != id {
			continue
		}
		delete(s.envelopes, envID)
	}
	for rcpID, rcp := range s.recipients {
		if rcp.WorkflowID != id {
			continue
		}
		delete(s.signatures, rcpID)
		delete(s.recipients, rcpID)
	}
	return nil
}

func (s *MemoryStore) EnvelopesByWorkflow(ctx context.Context, workflowID string) ([]*api.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Envelope
	for _, env := range s.envelopes {
		if env.WorkflowID != workflowID {
			continue
		}
		c := *env
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *MemoryStore) GetEnvelope(ctx context.Context, id string) (*api.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[id]
	if !ok {
		return nil, ErrEnvelopeNotFound
	}
	out := *env
	return &out, nil
}

func (s *MemoryStore) UpdateEnvelope(ctx context.Context, env *api.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.envelopes[env.ID]; !ok {
		return ErrEnvelopeNotFound
	}
	c := *env
	s.envelopes[env.ID] = &c
	return nil
}

func (s *MemoryStore) GetRecipient(ctx context.Context, id string) (*api.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rcp, ok := s.recipients[id]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	out := *rcp
	return &out, nil
}

func (s *MemoryStore) RecipientByEnvelope(ctx context.Context, envelopeID string) (*api.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rcp := range s.recipients {
		if rcp.EnvelopeID == envelopeID {
			out := *rcp
			return &out, nil
		}
	}
	return nil, ErrRecipientNotFound
}

func (s *MemoryStore) SignatureByRecipient(ctx context.Context, recipientID string) (*api.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.signatures[recipientID]
	if !ok {
		return nil, ErrSignatureNotFound
	}
	out := *sig
	return &out, nil
}

func (s *MemoryStore) UpdateSignature(ctx context.Context, sig *api.Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signatures[sig.RecipientID]; !ok {
		return ErrSignatureNotFound
	}
	c := *sig
	s.signatures[sig.RecipientID] = &c
	return nil
}

func (s *MemoryStore) DocumentByWorkflow(ctx context.Context, workflowID string) (*api.SignedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[workflowID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	out := *doc
	return &out, nil
}

func (s *MemoryStore) AppendVersion(ctx context.Context, v *api.SignedDocumentVersion) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.versions[v.DocumentID]
	v.Version = len(existing) + 1
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	c := *v
	s.versions[v.DocumentID] = append(existing, &c)
	return v.Version, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, documentID string) ([]*api.SignedDocumentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[documentID]
	result := make([]*api.SignedDocumentVersion, 0, len(versions))
	for _, v := range versions {
		c := *v
		result = append(result, &c)
	}
	return result, nil
}

func (s *MemoryStore) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.documents[workflowID]; ok {
		delete(s.versions, doc.ID)
		delete(s.documents, workflowID)
	}
	delete(s.audit, workflowID)
	return nil
}

func (s *MemoryStore) SaveToken(ctx context.Context, t *api.SigningToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	s.tokens[t.ID] = &c
	return nil
}

func (s *MemoryStore) ActiveToken(ctx context.Context, recipientID string, now time.Time) (*api.SigningToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *api.SigningToken
	for _, t := range s.tokens {
		if t.RecipientID != recipientID || !t.Active(now) {
			continue
		}
		if best == nil || t.ExpiresAt.After(best.ExpiresAt) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrTokenNotFound
	}
	out := *best
	return &out, nil
}

func (s *MemoryStore) TokenByValue(ctx context.Context, value string) (*api.SigningToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.Value == value {
			out := *t
			return &out, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *MemoryStore) RetireActiveTokens(ctx context.Context, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.RecipientID == recipientID && !t.Used {
			t.Used = true
		}
	}
	return nil
}

func (s *MemoryStore) ConsumeToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	if t.Used {
		return ErrTokenSpent
	}
	t.Used = true
	return nil
}

func (s *MemoryStore) DeleteByRecipients(ctx context.Context, recipientIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		ids[id] = true
	}
	for tokenID, t := range s.tokens {
		if ids[t.RecipientID] {
			delete(s.tokens, tokenID)
		}
	}
	return nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, e *api.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *e
	s.audit[e.WorkflowID] = append(s.audit[e.WorkflowID], &c)
	return nil
}

func (s *MemoryStore) AuditByWorkflow(ctx context.Context, workflowID string) ([]*api.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.audit[workflowID]
	result := make([]*api.AuditEntry, 0, len(entries))
	for _, e := range entries {
		c := *e
		result = append(result, &c)
	}
	return result, nil
}
