package signet

import (
	"database/sql"

	"github.com/signetlabs/signet/internal/jobstore"
	"github.com/signetlabs/signet/internal/persistence"
	"github.com/signetlabs/signet/pkg/reminder"
)

// SigningBundle wires together an Engine and the reminder Scheduler that
// fires its auto-reminder jobs.
type SigningBundle struct {
	Engine    Engine
	Scheduler *reminder.Scheduler
}

// NewSQLiteBundle constructs a durable Engine + reminder Scheduler combo
// sharing the same SQLite database. Workflow state and reminder jobs are
// persisted in the provided *sql.DB, so both survive restarts.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:signet.db?_journal=WAL")
//	bundle, err := signet.NewSQLiteBundle(db, signet.EngineOptions{Notifier: mailer})
//	bundle.Scheduler.Start(time.Minute)
//	defer bundle.Scheduler.Stop()
func NewSQLiteBundle(db *sql.DB, opts EngineOptions) (*SigningBundle, error) {
	st, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	jobs, err := jobstore.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}

	sched := reminder.New(jobs, nil, opts.Logger)
	opts.Scheduler = sched
	eng := newEngine(st.Stores(), opts)
	sched.Bind(eng)

	return &SigningBundle{Engine: eng, Scheduler: sched}, nil
}
