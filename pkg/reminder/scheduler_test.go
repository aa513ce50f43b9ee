package reminder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/signetlabs/signet/internal/jobstore"
	"github.com/signetlabs/signet/pkg/api"
)

// remindSpy is an api.Engine that only records RemindWorkflow calls. The
// embedded interface panics on everything else, which is what we want: the
// scheduler must not touch any other engine method.
type remindSpy struct {
	api.Engine

	mu    sync.Mutex
	calls []string
}

func (s *remindSpy) RemindWorkflow(ctx context.Context, workflowID string) (*api.RemindReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, workflowID)
	return &api.RemindReport{WorkflowID: workflowID, Sent: 1}, nil
}

func (s *remindSpy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestScheduler(t *testing.T) (*Scheduler, *remindSpy, *time.Time) {
	t.Helper()
	spy := &remindSpy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := New(jobstore.NewMemoryStore(), spy, logger)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return now }
	return sched, spy, &now
}

func TestScheduleRecurringFiresAfterPeriod(t *testing.T) {
	sched, spy, now := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.ScheduleRecurring(ctx, "reminders:wf-1", 24*time.Hour, "wf-1"); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}

	// The first firing is one full period out.
	fired, err := sched.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}
	if fired != 0 || spy.callCount() != 0 {
		t.Fatalf("job fired before its period elapsed: fired=%d calls=%d", fired, spy.callCount())
	}

	*now = now.Add(24 * time.Hour)
	fired, err = sched.RunDue(ctx)
	if err != nil {
		t.Fatalf("RunDue failed: %v", err)
	}
	if fired != 1 || spy.callCount() != 1 {
		t.Fatalf("expected one firing, got fired=%d calls=%d", fired, spy.callCount())
	}
	if spy.calls[0] != "wf-1" {
		t.Fatalf("wrong workflow reminded: %q", spy.calls[0])
	}
}

func TestRunDueReschedules(t *testing.T) {
	sched, spy, now := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.ScheduleRecurring(ctx, "reminders:wf-1", time.Hour, "wf-1"); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}

	*now = now.Add(time.Hour)
	if fired, _ := sched.RunDue(ctx); fired != 1 {
		t.Fatalf("expected first firing")
	}

	// Immediately after firing the job is parked one period out again.
	if fired, _ := sched.RunDue(ctx); fired != 0 {
		t.Fatalf("job must not fire twice in the same period")
	}

	*now = now.Add(time.Hour)
	if fired, _ := sched.RunDue(ctx); fired != 1 {
		t.Fatalf("expected second firing one period later")
	}
	if spy.callCount() != 2 {
		t.Fatalf("expected 2 reminder calls, got %d", spy.callCount())
	}
}

func TestScheduleRecurringReplacesExisting(t *testing.T) {
	sched, spy, now := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.ScheduleRecurring(ctx, "reminders:wf-1", 24*time.Hour, "wf-1"); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}
	if err := sched.ScheduleRecurring(ctx, "reminders:wf-1", time.Hour, "wf-1"); err != nil {
		t.Fatalf("replacement ScheduleRecurring failed: %v", err)
	}

	*now = now.Add(time.Hour)
	if fired, _ := sched.RunDue(ctx); fired != 1 {
		t.Fatalf("replacement interval not in effect")
	}
	if spy.callCount() != 1 {
		t.Fatalf("expected a single reminder call, got %d", spy.callCount())
	}
}

func TestCancelStopsFiring(t *testing.T) {
	sched, spy, now := newTestScheduler(t)
	ctx := context.Background()

	if err := sched.ScheduleRecurring(ctx, "reminders:wf-1", time.Hour, "wf-1"); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}
	if err := sched.Cancel(ctx, "reminders:wf-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := sched.Cancel(ctx, "reminders:never-was"); err != nil {
		t.Fatalf("cancel of unknown key must not fail: %v", err)
	}

	*now = now.Add(48 * time.Hour)
	if fired, _ := sched.RunDue(ctx); fired != 0 || spy.callCount() != 0 {
		t.Fatalf("cancelled job fired: fired=%d calls=%d", fired, spy.callCount())
	}
}

func TestBindAttachesEngineLater(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := New(jobstore.NewMemoryStore(), nil, logger)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return now }
	ctx := context.Background()

	if err := sched.ScheduleRecurring(ctx, "reminders:wf-1", time.Hour, "wf-1"); err != nil {
		t.Fatalf("ScheduleRecurring failed: %v", err)
	}

	// Without an engine the due job is still rescheduled, not dropped.
	now = now.Add(time.Hour)
	if fired, err := sched.RunDue(ctx); err != nil || fired != 1 {
		t.Fatalf("RunDue without engine: fired=%d err=%v", fired, err)
	}

	spy := &remindSpy{}
	sched.Bind(spy)

	now = now.Add(time.Hour)
	if fired, _ := sched.RunDue(ctx); fired != 1 {
		t.Fatalf("expected firing after Bind")
	}
	if spy.callCount() != 1 {
		t.Fatalf("bound engine not called, calls=%d", spy.callCount())
	}
}

func TestStartStopIdempotent(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	sched.Start(10 * time.Millisecond)
	sched.Start(10 * time.Millisecond)
	sched.Stop()
	sched.Stop()
}
