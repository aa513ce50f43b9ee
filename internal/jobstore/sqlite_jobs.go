package jobstore

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteStore is a persistent job Store backed by SQLite. It expects an
// *sql.DB using a SQLite driver (for example, "modernc.org/sqlite"); the
// caller imports the driver.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the jobs table in the given DB and returns a
// new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reminder_jobs (
			key TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			every_ns INTEGER NOT NULL,
			next_run INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) Upsert(ctx context.Context, j Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_jobs (key, workflow_id, every_ns, next_run, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			every_ns = excluded.every_ns,
			next_run = excluded.next_run`,
		j.Key, j.WorkflowID, int64(j.Every), j.NextRun.UnixNano(), j.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) Cancel(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminder_jobs WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) Due(ctx context.Context, now time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, workflow_id, every_ns, next_run, created_at
		FROM reminder_jobs
		WHERE next_run <= ?
		ORDER BY next_run`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []Job
	for rows.Next() {
		var j Job
		var everyNs, nextRun, createdAt int64
		if err := rows.Scan(&j.Key, &j.WorkflowID, &everyNs, &nextRun, &createdAt); err != nil {
			return nil, err
		}
		j.Every = time.Duration(everyNs)
		j.NextRun = time.Unix(0, nextRun)
		j.CreatedAt = time.Unix(0, createdAt)
		due = append(due, j)
	}
	return due, rows.Err()
}

func (s *SQLiteStore) Reschedule(ctx context.Context, key string, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminder_jobs SET next_run = ? WHERE key = ?`,
		next.UnixNano(), key,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reminder_jobs`).Scan(&n)
	return n, err
}
