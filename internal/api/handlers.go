// Package api provides HTTP handlers for GastroBot endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/gastrobot/gastrobot/internal/models"
	"github.com/gastrobot/gastrobot/internal/util"
)

// emptyTwiML acknowledges a Twilio webhook without an inline reply; the
// actual reply goes out through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// chatHandler handles POST /api/chat: one user message in, one grounded
// assistant reply out.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.chatHandler: processing chat request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.chatHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.chatHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		slog.Debug("Server.chatHandler: started new session", "sessionID", sessionID)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.handleTimeout)
	defer cancel()

	result, err := s.conv.HandleMessage(ctx, sessionID, strings.TrimSpace(req.Message))
	if err != nil {
		slog.Error("Server.chatHandler: orchestration failed", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.chatHandler: reply produced", "sessionID", sessionID, "status", result.Status, "failure", result.Failure)
	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatResponse{
		SessionID: result.SessionID,
		Reply:     result.Reply,
		Status:    result.Status,
	}))
}

// sessionHandler routes /api/chat/{id}/state and /api/chat/{id}.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionHandler: processing session request", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	segments := strings.Split(path, "/")

	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing session id"))
		return
	}
	sessionID := segments[0]

	if len(segments) == 1 {
		// /api/chat/{id}
		switch r.Method {
		case http.MethodDelete:
			s.expireSessionHandler(w, r, sessionID)
		default:
			w.Header().Set("Allow", "DELETE")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	if len(segments) == 2 && segments[1] == "state" {
		// /api/chat/{id}/state
		switch r.Method {
		case http.MethodGet:
			s.sessionStateHandler(w, r, sessionID)
		default:
			w.Header().Set("Allow", "GET")
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown session endpoint"))
}

// sessionStateHandler handles GET /api/chat/{id}/state. Unknown ids return
// an empty session snapshot, matching the store's load semantics.
func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := s.store.Load(r.Context(), sessionID)
	if err != nil {
		slog.Error("Server.sessionStateHandler: failed to load session", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	slog.Debug("Server.sessionStateHandler: returning session state", "sessionID", sessionID, "status", sess.Status, "turns", len(sess.Turns))
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"session_id": sess.ID,
		"status":     sess.Status,
		"slots":      sess.Slots,
		"turn_count": len(sess.Turns),
		"updated_at": sess.UpdatedAt,
	}))
}

// expireSessionHandler handles DELETE /api/chat/{id}.
func (s *Server) expireSessionHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.store.Expire(r.Context(), sessionID); err != nil {
		slog.Error("Server.expireSessionHandler: failed to expire session", "sessionID", sessionID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to expire session"))
		return
	}
	slog.Info("Server.expireSessionHandler: session expired", "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "gastrobot"}))
}

// whatsappWebhookHandler handles POST /webhook/whatsapp, Twilio's inbound
// message callback. The webhook is acknowledged with empty TwiML immediately
// after processing; the reply is delivered through the Twilio REST API so
// slow orchestration never trips Twilio's webhook timeout handling into
// retries with inline replies.
func (s *Server) whatsappWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.whatsappWebhookHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sender == nil {
		slog.Warn("Server.whatsappWebhookHandler: WhatsApp channel not configured")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.whatsappWebhookHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		slog.Warn("Server.whatsappWebhookHandler: missing From or Body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body) > models.MaxMessageLength {
		// Back up to a rune boundary so the cut never produces invalid UTF-8.
		cut := models.MaxMessageLength
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}

	// The phone number keys the session so a returning customer continues
	// their conversation.
	sessionID := "wa_" + util.NormalizePhone(from)
	slog.Info("Server.whatsappWebhookHandler: message received", "from", util.MaskPhone(from), "sessionID", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), s.handleTimeout)
	defer cancel()

	result, err := s.conv.HandleMessage(ctx, sessionID, body)
	if err != nil {
		slog.Error("Server.whatsappWebhookHandler: orchestration failed", "sessionID", sessionID, "error", err)
	} else if sendErr := s.sender.SendMessage(ctx, from, result.Reply); sendErr != nil {
		slog.Error("Server.whatsappWebhookHandler: failed to send reply", "sessionID", sessionID, "error", sendErr)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(emptyTwiML)); err != nil {
		slog.Error("Server.whatsappWebhookHandler: failed to write TwiML ack", "error", err)
	}
}
