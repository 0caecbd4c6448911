// Package session provides storage backends for conversation sessions.
//
// This file implements the SQLite-backed store.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/gastrobot/gastrobot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists sessions in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The parent directory is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, models.ErrEmptySessionID
	}
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE id = ?`, sessionID).Scan(&record)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.Load: no record, creating fresh session", "sessionID", sessionID)
		return models.NewSession(sessionID), nil
	}
	if err != nil {
		slog.Error("SQLiteStore.Load failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decodeSession([]byte(record))
}

// Save implements Store. The upsert makes the overwrite atomic.
func (s *SQLiteStore) Save(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return models.ErrEmptySessionID
	}
	record, err := encodeSession(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, record, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET record = excluded.record, status = excluded.status, updated_at = excluded.updated_at`,
		session.ID, string(record), string(session.Status), session.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.Save failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore.Save succeeded", "sessionID", session.ID, "turns", len(session.Turns), "status", session.Status)
	return nil
}

// Expire implements Store.
func (s *SQLiteStore) Expire(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore.Expire failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to expire session %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore.Expire succeeded", "sessionID", sessionID)
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
