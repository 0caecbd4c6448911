// Package models defines the core data structures for GastroBot.
//
// It includes the conversation session record, transcript turns, and the
// function-call request/result types exchanged between the orchestrator,
// the model gateway, and the reservation backend.
package models

import (
	"errors"
	"time"
)

// SessionStatus describes where a conversation is in its lifecycle.
type SessionStatus string

const (
	// SessionStatusActive means the conversation is ongoing and slots may still be collected.
	SessionStatusActive SessionStatus = "ACTIVE"
	// SessionStatusAwaitingConfirmation means all reservation slots are filled but no reservation exists yet.
	SessionStatusAwaitingConfirmation SessionStatus = "AWAITING_CONFIRMATION"
	// SessionStatusCompleted means a reservation was created successfully.
	SessionStatusCompleted SessionStatus = "COMPLETED"
	// SessionStatusAbandoned means the conversation was explicitly torn down.
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

// IsValidSessionStatus checks if the given status is one of the known lifecycle tags.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusActive, SessionStatusAwaitingConfirmation, SessionStatusCompleted, SessionStatusAbandoned:
		return true
	default:
		return false
	}
}

// TurnRole identifies who produced a transcript turn.
type TurnRole string

const (
	// TurnRoleUser is an inbound user message.
	TurnRoleUser TurnRole = "user"
	// TurnRoleAssistant is a model-produced reply shown to the user.
	TurnRoleAssistant TurnRole = "assistant"
	// TurnRoleFunctionResult is the structured outcome of a backend function call.
	TurnRoleFunctionResult TurnRole = "function_result"
)

// Validation constants for inbound messages and reservation slots.
const (
	// MaxMessageLength caps the size of a single user message.
	MaxMessageLength = 1000
	// MaxTranscriptLength caps how many turns are sent to the model per invocation.
	// The persisted transcript itself is never truncated.
	MaxTranscriptLength = 50
	// MinPartySize is the smallest bookable party.
	MinPartySize = 1
	// MaxPartySize is the largest bookable party.
	MaxPartySize = 20
	// ReservationCodeLength is the fixed length of backend reservation codes.
	ReservationCodeLength = 8
)

// Error variables shared across packages for request validation.
var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrEmptySessionID = errors.New("session id cannot be empty")
)

// Turn represents one recorded step in a conversation transcript.
// Turns are immutable once appended.
type Turn struct {
	Role      TurnRole            `json:"role"`
	Content   string              `json:"content,omitempty"` // text for user/assistant turns
	Result    *FunctionCallResult `json:"result,omitempty"`  // payload for function_result turns
	Timestamp time.Time           `json:"timestamp"`
}

// Session is the persisted state of one ongoing conversation. It is owned by
// the session store; the orchestrator works on a transient copy per request
// and writes it back atomically.
type Session struct {
	ID        string            `json:"session_id"`
	Turns     []Turn            `json:"turns"`
	Slots     map[string]string `json:"slots"`
	Status    SessionStatus     `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewSession returns a fresh ACTIVE session with an empty transcript.
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		Turns:     []Turn{},
		Slots:     make(map[string]string),
		Status:    SessionStatusActive,
		UpdatedAt: time.Now(),
	}
}

// AppendTurn adds a turn to the transcript and bumps the update timestamp.
func (s *Session) AppendTurn(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = t.Timestamp
}

// SetSlot records a collected reservation field.
func (s *Session) SetSlot(name, value string) {
	if s.Slots == nil {
		s.Slots = make(map[string]string)
	}
	s.Slots[name] = value
	s.UpdatedAt = time.Now()
}

// FunctionCallRequest is a model-issued request to invoke a named backend
// function. It is produced only by the model gateway.
type FunctionCallRequest struct {
	ID        string                 `json:"id"`   // provider-assigned tool call id
	Name      string                 `json:"name"` // must exist in the function catalog
	Arguments map[string]interface{} `json:"arguments"`
}

// FunctionError describes a domain-level failure surfaced to the model so it
// can frame the problem in natural language.
type FunctionError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// FunctionCallResult is the structured outcome of executing a function call.
// It carries either a success payload or a domain-error descriptor, never both.
// Produced only by the backend adapter (or synthesized for validation errors).
type FunctionCallResult struct {
	Name    string                 `json:"name"`
	CallID  string                 `json:"call_id,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   *FunctionError         `json:"error,omitempty"`
}

// OK reports whether the call succeeded at the domain level.
func (r *FunctionCallResult) OK() bool {
	return r != nil && r.Error == nil
}
