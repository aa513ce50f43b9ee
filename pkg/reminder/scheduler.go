package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/signetlabs/signet/internal/jobstore"
	"github.com/signetlabs/signet/pkg/api"
)

// DefaultPollInterval is how often the background loop checks for due jobs
// when no interval is configured.
const DefaultPollInterval = time.Minute

// Scheduler implements api.JobScheduler on top of a jobstore.Store and
// drives due reminder jobs by re-notifying the workflow's pending
// recipients.
//
// Jobs re-read workflow state at fire time, so a job that outlives its
// workflow (completed, cancelled, expired) fires as a no-op and keeps being
// rescheduled until the engine deregisters it.
type Scheduler struct {
	jobs   jobstore.Store
	engine api.Engine
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New creates a Scheduler. The engine may be nil at construction time and
// set later via Bind; this breaks the construction cycle between an engine
// that needs a scheduler and a scheduler that needs the engine.
func New(jobs jobstore.Store, engine api.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:   jobs,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// Bind attaches the engine whose workflows this scheduler reminds.
func (s *Scheduler) Bind(engine api.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = engine
}

// ScheduleRecurring registers (or replaces) a recurring job. The first
// firing happens one period from now: activation itself already notified the
// recipients.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, key string, every time.Duration, workflowID string) error {
	now := s.now()
	return s.jobs.Upsert(ctx, jobstore.Job{
		Key:        key,
		WorkflowID: workflowID,
		Every:      every,
		NextRun:    now.Add(every),
		CreatedAt:  now,
	})
}

// Cancel deregisters the job under key. Unknown keys are a no-op.
func (s *Scheduler) Cancel(ctx context.Context, key string) error {
	return s.jobs.Cancel(ctx, key)
}

// RunDue fires every due job once and reschedules it. It returns the number
// of jobs fired. A failing job is logged and still rescheduled; one broken
// workflow must not starve the rest.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()

	now := s.now()
	due, err := s.jobs.Due(ctx, now)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, job := range due {
		if engine != nil {
			report, err := engine.RemindWorkflow(ctx, job.WorkflowID)
			switch {
			case err != nil:
				s.logger.ErrorContext(ctx, "reminder job failed",
					"job_key", job.Key, "workflow_id", job.WorkflowID, "error", err)
			case report.Failed > 0:
				s.logger.WarnContext(ctx, "reminder job partially delivered",
					"job_key", job.Key, "workflow_id", job.WorkflowID,
					"sent", report.Sent, "failed", report.Failed)
			}
		}
		if err := s.jobs.Reschedule(ctx, job.Key, now.Add(job.Every)); err != nil {
			s.logger.ErrorContext(ctx, "reminder job reschedule failed",
				"job_key", job.Key, "error", err)
			continue
		}
		fired++
	}
	return fired, nil
}

// Start launches the background polling loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(pollInterval, s.stop, s.done)
}

// Stop terminates the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Scheduler) loop(pollInterval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
			if _, err := s.RunDue(ctx); err != nil {
				s.logger.Error("reminder poll failed", "error", err)
			}
			cancel()
		}
	}
}
