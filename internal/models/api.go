// Package models defines the HTTP request/response types for GastroBot endpoints.
package models

import "strings"

// APIStatus enumerates the status values used in API responses.
type APIStatus string

const (
	// APIStatusOK indicates the request was processed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates the request failed.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ChatRequest is the inbound payload for POST /api/chat. SessionID is
// optional; when absent a new session is started.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// Validate performs basic request validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return ErrEmptyMessage
	}
	if len(msg) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ChatResponse is the outbound payload for POST /api/chat.
type ChatResponse struct {
	SessionID string        `json:"session_id"`
	Reply     string        `json:"reply"`
	Status    SessionStatus `json:"status"`
}
