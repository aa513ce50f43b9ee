// Package postgres wires the pgx driver to signet's Postgres-backed engine.
//
// It lives in its own module so that users of the core signet package are
// not forced to pull the pgx dependency; the core Postgres store only uses
// database/sql and leaves driver choice to the caller.
package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/signetlabs/signet"
)

// Open opens a database/sql handle to the given Postgres DSN using the pgx
// stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// NewEngine returns an Engine that persists all workflow state in the
// PostgreSQL database at dsn.
func NewEngine(dsn string) (signet.Engine, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return signet.NewPostgresEngine(db)
}

// NewEngineWithOptions returns a Postgres-backed Engine with the given
// collaborators.
func NewEngineWithOptions(dsn string, opts signet.EngineOptions) (signet.Engine, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return signet.NewPostgresEngineWithOptions(db, opts)
}
