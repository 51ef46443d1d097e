// Package postgres opens the sqlx connection pool used by the pgvector store.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	pgopts "github.com/kart-io/medrag/pkg/options/postgres"
)

// DriverName is the database/sql driver registered by lib/pq.
const DriverName = "postgres"

// New opens a pool and verifies the connection.
func New(ctx context.Context, opts *pgopts.Options) (*sqlx.DB, error) {
	if opts == nil {
		return nil, fmt.Errorf("postgres options is nil")
	}

	db, err := sqlx.Open(DriverName, opts.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxIdleConns(opts.MaxIdleConnections)
	db.SetMaxOpenConns(opts.MaxOpenConnections)
	db.SetConnMaxLifetime(opts.MaxConnectionLifeTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}
