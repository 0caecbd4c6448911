// Package session provides storage backends for conversation sessions.
//
// This file implements the PostgreSQL-backed store, the networked backing for
// multi-instance deployments.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/gastrobot/gastrobot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, models.ErrEmptySessionID
	}
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE id = $1`, sessionID).Scan(&record)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.Load: no record, creating fresh session", "sessionID", sessionID)
		return models.NewSession(sessionID), nil
	}
	if err != nil {
		slog.Error("PostgresStore.Load failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decodeSession(record)
}

// Save implements Store. The upsert makes the overwrite atomic.
func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return models.ErrEmptySessionID
	}
	record, err := encodeSession(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, record, status, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		session.ID, record, string(session.Status), session.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.Save failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore.Save succeeded", "sessionID", session.ID, "turns", len(session.Turns), "status", session.Status)
	return nil
}

// Expire implements Store.
func (s *PostgresStore) Expire(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		slog.Error("PostgresStore.Expire failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to expire session %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore.Expire succeeded", "sessionID", sessionID)
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
