// Package store is the MySQL persistence façade: every exported method
// opens its own connection, runs one statement, and closes it again. This
// mirrors the per-call connector pattern the whole system is built around —
// the workload is tens of calls per task step, not a high-frequency OLTP
// path, so a pool is a deliberately deferred optimization.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Store is a DSN holder; it carries no live connection.
type Store struct {
	dsn string
}

// Config are the pieces of a DSN sourced from the environment
// (DATABASE_USER, DATABASE_PASSWORD, DATABASE_HOST, DATABASE_NAME,
// DATABASE_PORT).
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// New builds a Store from discrete connection parameters.
func New(cfg Config) *Store {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	return &Store{dsn: dsn}
}

// NewFromDSN builds a Store from a pre-assembled DSN, mainly for tests
// against a local/ephemeral MySQL instance.
func NewFromDSN(dsn string) *Store {
	return &Store{dsn: dsn}
}

func (s *Store) open() (*sql.DB, error) {
	db, err := sql.Open("mysql", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return db, nil
}

// Ping verifies database connectivity, opening and closing a throwaway
// connection.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
