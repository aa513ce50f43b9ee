package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/api"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	to      string
	subject string
	body    string
}

// captureNotifier records deliveries and can be told to fail for specific
// addresses.
type captureNotifier struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor map[string]error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{failFor: make(map[string]error)}
}

func (n *captureNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.failFor[to]; ok {
		return err
	}
	n.sent = append(n.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (n *captureNotifier) sentTo(to string) []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMail
	for _, m := range n.sent {
		if m.to == to {
			out = append(out, m)
		}
	}
	return out
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakeScheduler records registrations so tests can verify job lifecycle
// without a running loop.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Duration
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Duration)}
}

func (s *fakeScheduler) ScheduleRecurring(ctx context.Context, key string, every time.Duration, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[key] = every
	return nil
}

func (s *fakeScheduler) Cancel(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, key)
	s.cancelled = append(s.cancelled, key)
	return nil
}

func (s *fakeScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

type testEnv struct {
	eng      api.Engine
	notifier *captureNotifier
	sched    *fakeScheduler
	clock    *fakeClock
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	return newTestEngineTTL(t, 0)
}

func newTestEngineTTL(t *testing.T, tokenTTL time.Duration) *testEnv {
	t.Helper()

	clock := newFakeClock()
	notifier := newCaptureNotifier()
	sched := newFakeScheduler()

	eng := NewEngineWithConfig(Config{
		Persistence: persistence.NewMemoryStore().Stores(),
		Notifier:    notifier,
		Scheduler:   sched,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		TokenTTL:    tokenTTL,
		Clock:       clock.Now,
	})
	return &testEnv{eng: eng, notifier: notifier, sched: sched, clock: clock}
}

// activeTokenValue digs the recipient's current token out of the ledger.
func (te *testEnv) activeTokenValue(t *testing.T, recipientID string) string {
	t.Helper()
	impl := te.eng.(*engineImpl)
	tok, err := impl.tokens.Active(context.Background(), recipientID)
	if err != nil {
		t.Fatalf("Active token lookup failed: %v", err)
	}
	if tok == nil {
		t.Fatalf("no active token for recipient %s", recipientID)
	}
	return tok.Value
}

func (te *testEnv) createStarted(t *testing.T, req api.CreateWorkflowRequest) *api.WorkflowDetail {
	t.Helper()
	ctx := context.Background()

	wf, err := te.eng.CreateWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if !req.StartImmediately {
		if err := te.eng.StartWorkflow(ctx, wf.ID, api.StartOptions{}); err != nil {
			t.Fatalf("StartWorkflow failed: %v", err)
		}
	}

	detail, err := te.eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	return detail
}

func signerSpec(name, email string, priority int) api.RecipientSpec {
	return api.RecipientSpec{Name: name, Email: email, RolePriority: priority, Delivery: api.NeedsToSign}
}

func ccSpec(name, email string) api.RecipientSpec {
	return api.RecipientSpec{Name: name, Email: email, Delivery: api.ReceivesACopy}
}

func TestCreateWorkflowValidation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  api.CreateWorkflowRequest
	}{
		{"empty name", api.CreateWorkflowRequest{Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)}}},
		{"no recipients", api.CreateWorkflowRequest{Name: "NDA"}},
		{"recipient without email", api.CreateWorkflowRequest{
			Name:       "NDA",
			Recipients: []api.RecipientSpec{{Name: "A", Delivery: api.NeedsToSign}},
		}},
		{"template mode without template", api.CreateWorkflowRequest{
			Name:       "NDA",
			Mode:       api.ModeFromTemplate,
			Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
		}},
	}
	for _, tc := range cases {
		if _, err := te.eng.CreateWorkflow(ctx, tc.req); !api.IsKind(err, api.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreateWorkflowMaterializesDraft(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	wf, err := te.eng.CreateWorkflow(ctx, api.CreateWorkflowRequest{
		Name:      "NDA",
		CreatorID: "user-1",
		Recipients: []api.RecipientSpec{
			signerSpec("Ada", "ada@x.test", 1),
			ccSpec("Archive", "archive@x.test"),
		},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if wf.Status != api.WorkflowDraft {
		t.Fatalf("expected DRAFT, got %q", wf.Status)
	}

	detail, err := te.eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if len(detail.Envelopes) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(detail.Envelopes))
	}
	for _, env := range detail.Envelopes {
		if env.Envelope.Status != api.EnvelopeDraft {
			t.Fatalf("expected envelope DRAFT, got %q", env.Envelope.Status)
		}
	}
	if detail.Envelopes[0].Signature.ID == "" {
		t.Fatal("signer should have a placeholder signature")
	}
	if detail.Envelopes[0].Signature.Signed {
		t.Fatal("placeholder signature must not be signed")
	}
	if te.notifier.count() != 0 {
		t.Fatalf("draft creation must not notify anyone, got %d mails", te.notifier.count())
	}
}

func TestStartSequentialActivatesFirstOnly(t *testing.T) {
	te := newTestEngine(t)

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Sequential: true,
		Recipients: []api.RecipientSpec{
			signerSpec("First", "first@x.test", 1),
			signerSpec("Second", "second@x.test", 2),
		},
	})

	if detail.Workflow.Status != api.WorkflowInProgress {
		t.Fatalf("expected IN_PROGRESS, got %q", detail.Workflow.Status)
	}
	if got := detail.Envelopes[0].Envelope.Status; got != api.EnvelopeInProgress {
		t.Fatalf("first envelope: expected IN_PROGRESS, got %q", got)
	}
	if got := detail.Envelopes[1].Envelope.Status; got != api.EnvelopeDraft {
		t.Fatalf("second envelope: expected DRAFT, got %q", got)
	}
	if n := len(te.notifier.sentTo("first@x.test")); n != 1 {
		t.Fatalf("first signer should have 1 mail, got %d", n)
	}
	if n := len(te.notifier.sentTo("second@x.test")); n != 0 {
		t.Fatalf("second signer should have no mail yet, got %d", n)
	}
}

func TestStartSequentialPriorityBeatsInsertionOrder(t *testing.T) {
	te := newTestEngine(t)

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Sequential: true,
		Recipients: []api.RecipientSpec{
			signerSpec("Later", "later@x.test", 5),
			signerSpec("Earlier", "earlier@x.test", 1),
		},
	})

	// Envelopes are returned in Seq order; the lower priority recipient in
	// the second slot must be the activated one.
	if got := detail.Envelopes[0].Envelope.Status; got != api.EnvelopeDraft {
		t.Fatalf("high-priority-number envelope should wait, got %q", got)
	}
	if got := detail.Envelopes[1].Envelope.Status; got != api.EnvelopeInProgress {
		t.Fatalf("low-priority-number envelope should be active, got %q", got)
	}
}

func TestStartParallelActivatesAllSigners(t *testing.T) {
	te := newTestEngine(t)

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name: "NDA",
		Recipients: []api.RecipientSpec{
			signerSpec("A", "a@x.test", 0),
			signerSpec("B", "b@x.test", 0),
			ccSpec("Archive", "archive@x.test"),
		},
	})

	for i := 0; i < 2; i++ {
		if got := detail.Envelopes[i].Envelope.Status; got != api.EnvelopeInProgress {
			t.Fatalf("signer envelope %d: expected IN_PROGRESS, got %q", i, got)
		}
	}
	// The copy recipient waits for completion.
	if got := detail.Envelopes[2].Envelope.Status; got != api.EnvelopeDraft {
		t.Fatalf("copy envelope: expected DRAFT, got %q", got)
	}
	if n := len(te.notifier.sentTo("archive@x.test")); n != 0 {
		t.Fatalf("copy recipient must not be notified before completion, got %d", n)
	}
}

func TestStartTwiceRejected(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
	})

	err := te.eng.StartWorkflow(ctx, detail.Workflow.ID, api.StartOptions{})
	if !api.IsKind(err, api.KindInvalidState) {
		t.Fatalf("expected invalid-state error on double start, got %v", err)
	}
}

func TestStartWithOnlyCopyRecipientsCompletesImmediately(t *testing.T) {
	te := newTestEngine(t)

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name: "FYI",
		Recipients: []api.RecipientSpec{
			ccSpec("A", "a@x.test"),
			ccSpec("B", "b@x.test"),
		},
	})

	if detail.Workflow.Status != api.WorkflowCompleted {
		t.Fatalf("zero-signer workflow should complete at start, got %q", detail.Workflow.Status)
	}
	for _, env := range detail.Envelopes {
		if env.Envelope.Status != api.EnvelopeCompleted {
			t.Fatalf("copy envelope should be COMPLETED, got %q", env.Envelope.Status)
		}
	}
	if n := len(te.notifier.sentTo("a@x.test")); n != 1 {
		t.Fatalf("copy recipient should get the final document, got %d mails", n)
	}
}

func TestAutoReminderJobLifecycle(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	wf, err := te.eng.CreateWorkflow(ctx, api.CreateWorkflowRequest{
		Name:                 "NDA",
		Recipients:           []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
		AutoReminder:         true,
		ReminderIntervalDays: 2,
		StartImmediately:     true,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	if te.sched.active() != 1 {
		t.Fatalf("expected 1 registered reminder job, got %d", te.sched.active())
	}
	if every := te.sched.scheduled[reminderJobKey(wf.ID)]; every != 48*time.Hour {
		t.Fatalf("expected 48h interval, got %v", every)
	}

	token := te.activeTokenValue(t, te.recipientID(t, wf.ID, 0))
	if _, err := te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: te.recipientID(t, wf.ID, 0),
		Token:       token,
		Document:    []byte("signed"),
	}); err != nil {
		t.Fatalf("CompleteSigning failed: %v", err)
	}

	if te.sched.active() != 0 {
		t.Fatalf("completion should deregister the reminder job, got %d active", te.sched.active())
	}
}

func (te *testEnv) recipientID(t *testing.T, workflowID string, idx int) string {
	t.Helper()
	detail, err := te.eng.GetWorkflow(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	return detail.Envelopes[idx].Recipient.ID
}

func TestCancelWorkflow(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name: "NDA",
		Recipients: []api.RecipientSpec{
			signerSpec("A", "a@x.test", 0),
			signerSpec("B", "b@x.test", 0),
		},
	})
	id := detail.Workflow.ID

	if err := te.eng.CancelWorkflow(ctx, id, "deal fell through"); err != nil {
		t.Fatalf("CancelWorkflow failed: %v", err)
	}

	detail, err := te.eng.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if detail.Workflow.Status != api.WorkflowCancelled {
		t.Fatalf("expected CANCELLED, got %q", detail.Workflow.Status)
	}
	for _, env := range detail.Envelopes {
		if env.Envelope.Status != api.EnvelopeFailed {
			t.Fatalf("expected envelope FAILED, got %q", env.Envelope.Status)
		}
	}

	// Cancelling again is a no-op success.
	if err := te.eng.CancelWorkflow(ctx, id, "again"); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}

	// Signing after cancellation is rejected.
	_, err = te.eng.CompleteSigning(ctx, api.SigningRequest{
		RecipientID: detail.Envelopes[0].Recipient.ID,
		Token:       "whatever",
		Document:    []byte("x"),
	})
	if err == nil {
		t.Fatal("expected signing on a cancelled workflow to fail")
	}
}

func TestDeleteWorkflowGuardAndCascade(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	detail := te.createStarted(t, api.CreateWorkflowRequest{
		Name:       "NDA",
		Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
	})
	id := detail.Workflow.ID

	if err := te.eng.DeleteWorkflow(ctx, id); !api.IsKind(err, api.KindInvalidState) {
		t.Fatalf("deleting an active workflow must fail, got %v", err)
	}

	if err := te.eng.CancelWorkflow(ctx, id, ""); err != nil {
		t.Fatalf("CancelWorkflow failed: %v", err)
	}
	if err := te.eng.DeleteWorkflow(ctx, id); err != nil {
		t.Fatalf("DeleteWorkflow failed: %v", err)
	}

	if _, err := te.eng.GetWorkflow(ctx, id); !api.IsKind(err, api.KindNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestUpdateWorkflowDetails(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	wf, err := te.eng.CreateWorkflow(ctx, api.CreateWorkflowRequest{
		Name:       "NDA",
		Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
	})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}

	deadline := te.clock.Now().Add(72 * time.Hour)
	updated, err := te.eng.UpdateWorkflowDetails(ctx, api.WorkflowUpdate{
		WorkflowID:           wf.ID,
		Name:                 "NDA v2",
		ValidUntil:           deadline,
		ReminderIntervalDays: 5,
	})
	if err != nil {
		t.Fatalf("UpdateWorkflowDetails failed: %v", err)
	}
	if updated.Name != "NDA v2" || !updated.ValidUntil.Equal(deadline) || updated.ReminderIntervalDays != 5 {
		t.Fatalf("update not applied: %+v", updated)
	}

	if err := te.eng.CancelWorkflow(ctx, wf.ID, ""); err != nil {
		t.Fatalf("CancelWorkflow failed: %v", err)
	}
	_, err = te.eng.UpdateWorkflowDetails(ctx, api.WorkflowUpdate{WorkflowID: wf.ID, Name: "nope"})
	if !api.IsKind(err, api.KindInvalidState) {
		t.Fatalf("expected invalid-state after cancel, got %v", err)
	}
}

func TestListWorkflowsFilters(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	for _, creator := range []string{"alice", "alice", "bob"} {
		if _, err := te.eng.CreateWorkflow(ctx, api.CreateWorkflowRequest{
			Name:       "doc",
			CreatorID:  creator,
			Recipients: []api.RecipientSpec{signerSpec("A", "a@x.test", 0)},
		}); err != nil {
			t.Fatalf("CreateWorkflow failed: %v", err)
		}
	}

	all, err := te.eng.ListWorkflows(ctx, api.WorkflowListOptions{})
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 workflows, got %d", len(all))
	}

	alice, err := te.eng.ListWorkflows(ctx, api.WorkflowListOptions{CreatorID: "alice"})
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("expected 2 workflows for alice, got %d", len(alice))
	}

	drafts, err := te.eng.ListWorkflows(ctx, api.WorkflowListOptions{Status: api.WorkflowDraft})
	if err != nil {
		t.Fatalf("ListWorkflows failed: %v", err)
	}
	if len(drafts) != 3 {
		t.Fatalf("expected 3 draft workflows, got %d", len(drafts))
	}
}

func TestUnknownIDsReturnNotFound(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	if _, err := te.eng.GetWorkflow(ctx, "nope"); !api.IsKind(err, api.KindNotFound) {
		t.Fatalf("GetWorkflow: expected not-found, got %v", err)
	}
	if err := te.eng.StartWorkflow(ctx, "nope", api.StartOptions{}); !api.IsKind(err, api.KindNotFound) {
		t.Fatalf("StartWorkflow: expected not-found, got %v", err)
	}
	if _, err := te.eng.GetProgress(ctx, "nope"); !api.IsKind(err, api.KindNotFound) {
		t.Fatalf("GetProgress: expected not-found, got %v", err)
	}
	if err := te.eng.ResendEnvelope(ctx, "nope"); !api.IsKind(err, api.KindNotFound) {
		t.Fatalf("ResendEnvelope: expected not-found, got %v", err)
	}
	var e *api.Error
	if _, err := te.eng.CompleteSigning(ctx, api.SigningRequest{RecipientID: "nope", Token: "x", Document: []byte("x")}); !errors.As(err, &e) {
		t.Fatalf("CompleteSigning: expected engine error, got %v", err)
	}
}
