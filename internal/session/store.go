// Package session provides storage backends for conversation sessions.
//
// All backings share one contract: Load never fails on an unknown id (it
// returns a fresh ACTIVE session), Save overwrites atomically with
// last-writer-wins semantics, and the persisted record is the self-describing
// JSON serialization of models.Session, so backings are interchangeable.
// The store does no per-key locking; callers serialize concurrent work on the
// same session id (see the orchestrator's session locks).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gastrobot/gastrobot/internal/models"
)

// Store persists and retrieves conversation sessions keyed by session id.
type Store interface {
	// Load returns the session for the given id, or a fresh ACTIVE session
	// with an empty transcript when none exists.
	Load(ctx context.Context, sessionID string) (*models.Session, error)
	// Save overwrites the persisted session atomically (last-writer-wins).
	Save(ctx context.Context, session *models.Session) error
	// Expire removes the persisted session, e.g. on COMPLETED/ABANDONED
	// transitions or TTL policy.
	Expire(ctx context.Context, sessionID string) error
	// Close releases any resources held by the backing.
	Close() error
}

// Opts holds configuration options for SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a session store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths and
// file: URIs are treated as SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// encodeSession serializes a session to its persisted record form.
func encodeSession(s *models.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return data, nil
}

// decodeSession restores a session from its persisted record form.
func decodeSession(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	if s.Turns == nil {
		s.Turns = []models.Turn{}
	}
	return &s, nil
}

// InMemoryStore keeps sessions in a process-local map. Records are stored in
// serialized form so the in-memory backing round-trips sessions exactly like
// the SQL backings do.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]byte)}
}

// Load implements Store.
func (s *InMemoryStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, models.ErrEmptySessionID
	}
	s.mu.RLock()
	record, ok := s.records[sessionID]
	s.mu.RUnlock()

	if !ok {
		slog.Debug("InMemoryStore.Load: no record, creating fresh session", "sessionID", sessionID)
		return models.NewSession(sessionID), nil
	}
	return decodeSession(record)
}

// Save implements Store.
func (s *InMemoryStore) Save(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return models.ErrEmptySessionID
	}
	record, err := encodeSession(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[session.ID] = record
	s.mu.Unlock()
	slog.Debug("InMemoryStore.Save: session persisted", "sessionID", session.ID, "turns", len(session.Turns), "status", session.Status)
	return nil
}

// Expire implements Store.
func (s *InMemoryStore) Expire(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.records, sessionID)
	s.mu.Unlock()
	slog.Debug("InMemoryStore.Expire: session removed", "sessionID", sessionID)
	return nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }
