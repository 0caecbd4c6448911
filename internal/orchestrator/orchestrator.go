// Package orchestrator implements the conversation orchestration engine: the
// state machine that accepts a user message, drives model-invoke /
// function-resolve cycles against the function catalog and the reservation
// backend, enforces the grounding and alternative-suggestion policies, and
// persists the updated session.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/gastrobot/gastrobot/internal/backend"
	"github.com/gastrobot/gastrobot/internal/catalog"
	"github.com/gastrobot/gastrobot/internal/genai"
	"github.com/gastrobot/gastrobot/internal/models"
	"github.com/gastrobot/gastrobot/internal/session"
)

// DefaultMaxCycles bounds the model-invoke / function-resolve rounds per
// inbound message so a misbehaving model cannot loop forever.
const DefaultMaxCycles = 5

// Safe replies used when no grounded model reply can be produced. They never
// assert reservation facts.
const (
	// FallbackReply is returned on every FAILED path.
	FallbackReply = "I'm having trouble completing this right now. Please try again in a moment."
	// UngroundedReply replaces assistant text that asserted facts without a
	// backing function result.
	UngroundedReply = "I couldn't verify that information just now. Would you like me to check availability for you?"
	// EmptyReply is used when the model returns neither text nor calls.
	EmptyReply = "How can I help you with your reservation?"
)

// DefaultSystemPrompt frames the assistant for the model. It restates the
// grounding rule because the policy layer only replaces violations after the
// fact; the prompt keeps them rare.
const DefaultSystemPrompt = `You are GastroBot, the reservation assistant for the restaurant. ` +
	`Help customers check availability, create, modify and cancel reservations, and answer questions about the menu, hours and policies. ` +
	`Always use the provided functions to look up facts: never state availability, prices, confirmations or reservation codes that did not come from a function result. ` +
	`When a requested slot is unavailable, offer only the alternative times returned by the functions. ` +
	`To modify or cancel a reservation you must ask the customer for their 8-character reservation code. ` +
	`Reply in the language the customer writes in.`

// FailureKind classifies FAILED outcomes for callers and logs. The user only
// ever sees the generic fallback text.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureModelUnavailable FailureKind = "model_unavailable"
	FailureUnknownFunction  FailureKind = "unknown_function"
	FailureLimitExceeded    FailureKind = "orchestration_limit_exceeded"
)

// Executor runs a resolved catalog operation against the reservation backend.
// *backend.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error)
}

// Result is the outcome of handling one inbound message.
type Result struct {
	SessionID string
	Reply     string
	Status    models.SessionStatus
	Failure   FailureKind
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	MaxCycles    int
	SystemPrompt string
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithMaxCycles sets the resolution-cycle ceiling per inbound message.
func WithMaxCycles(n int) Option {
	return func(o *Opts) { o.MaxCycles = n }
}

// WithSystemPrompt overrides the built-in system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Orchestrator drives the conversation loop. Units of work for different
// sessions run fully concurrently; work on the same session id is serialized
// by per-session locks held from load until save.
type Orchestrator struct {
	store        session.Store
	gateway      genai.ClientInterface
	executor     Executor
	catalog      *catalog.Catalog
	tools        []openai.ChatCompletionToolParam
	maxCycles    int
	systemPrompt string
	locks        *sessionLocks
}

// New creates an orchestrator with its collaborators.
func New(store session.Store, gateway genai.ClientInterface, executor Executor, cat *catalog.Catalog, opts ...Option) *Orchestrator {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	slog.Debug("orchestrator.New: creating orchestrator", "maxCycles", cfg.MaxCycles, "customPrompt", cfg.SystemPrompt != DefaultSystemPrompt)

	return &Orchestrator{
		store:        store,
		gateway:      gateway,
		executor:     executor,
		catalog:      cat,
		tools:        cat.ToolParams(),
		maxCycles:    cfg.MaxCycles,
		systemPrompt: cfg.SystemPrompt,
		locks:        newSessionLocks(),
	}
}

// HandleMessage runs the orchestration loop for one inbound user message and
// returns the reply plus the session's post-persist status. Cancellation
// before the final save discards the in-progress session copy entirely; the
// persisted record is never half-updated.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, message string) (*Result, error) {
	o.locks.acquire(sessionID)
	defer o.locks.release(sessionID)

	r := &run{sessionID: sessionID, state: StateReceived}
	slog.Info("Orchestrator.HandleMessage: message received", "sessionID", sessionID, "messageLength", len(message))

	sess, err := o.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	sess.AppendTurn(models.Turn{Role: models.TurnRoleUser, Content: message})

	reply, failure, err := o.resolve(ctx, r, sess)
	if err != nil {
		// Cancellation or an unrecoverable internal error: discard the
		// in-progress copy, release the lock, surface the error.
		return nil, err
	}

	if failure != FailureNone {
		r.transition(StateFailed)
		slog.Warn("Orchestrator.HandleMessage: resolution failed, substituting fallback reply", "sessionID", sessionID, "failure", failure)
		reply = FallbackReply
	} else {
		r.transition(StateReplyReady)
	}

	sess.AppendTurn(models.Turn{Role: models.TurnRoleAssistant, Content: reply})
	o.updateStatus(sess)

	if err := o.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}
	if failure == FailureNone {
		r.transition(StatePersisted)
	}

	slog.Info("Orchestrator.HandleMessage: done", "sessionID", sessionID, "status", sess.Status, "failure", failure, "turns", len(sess.Turns))
	return &Result{SessionID: sessionID, Reply: reply, Status: sess.Status, Failure: failure}, nil
}

// resolve drives the model-invoke / function-resolve cycles until a grounded
// text reply is produced or a bound is hit. It mutates the transient session
// copy (function-result turns, slots, status) but never persists it.
func (o *Orchestrator) resolve(ctx context.Context, r *run, sess *models.Session) (string, FailureKind, error) {
	live := o.buildMessages(sess)
	var cycleResults []*models.FunctionCallResult

	for cycle := 1; cycle <= o.maxCycles; cycle++ {
		r.transition(StateModelInvoking)
		slog.Debug("Orchestrator.resolve: invoking model", "sessionID", sess.ID, "cycle", cycle, "messageCount", len(live))

		resp, err := o.gateway.GenerateWithTools(ctx, live, o.tools)
		if err != nil {
			if ctx.Err() != nil {
				return "", FailureNone, ctx.Err()
			}
			slog.Error("Orchestrator.resolve: model gateway failed", "sessionID", sess.ID, "cycle", cycle, "error", err)
			return "", FailureModelUnavailable, nil
		}

		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Content)
			if reply == "" {
				slog.Warn("Orchestrator.resolve: model returned neither text nor calls", "sessionID", sess.ID, "cycle", cycle)
				return EmptyReply, FailureNone, nil
			}
			if !replyIsGrounded(reply, cycleResults) {
				slog.Warn("Orchestrator.resolve: ungrounded reply replaced", "sessionID", sess.ID, "cycle", cycle, "resultCount", len(cycleResults))
				return UngroundedReply, FailureNone, nil
			}
			return reply, FailureNone, nil
		}

		// The model requested function calls: non-terminal even when it also
		// produced text. Resolve every call, in issue order, before any
		// user-visible reply.
		r.transition(StateResolvingFunctions)
		live = append(live, assistantToolCallMessage(resp))

		var pendingAlternatives map[string]interface{}
		batchHasAlternatives := false

		for _, call := range resp.ToolCalls {
			if call.Name == "list_alternatives" {
				batchHasAlternatives = true
			}

			result, callArgs, err := o.resolveCall(ctx, sess, call)
			if err != nil {
				if ctx.Err() != nil {
					return "", FailureNone, ctx.Err()
				}
				if errors.Is(err, catalog.ErrUnknownFunction) {
					slog.Error("Orchestrator.resolve: model requested unknown function, catalog/model mismatch", "sessionID", sess.ID, "function", call.Name)
					return "", FailureUnknownFunction, nil
				}
				return "", FailureNone, err
			}

			cycleResults = append(cycleResults, result)
			sess.AppendTurn(models.Turn{Role: models.TurnRoleFunctionResult, Result: result})
			live = append(live, openai.ToolMessage(encodeResult(result), call.ID))

			if noAvailability(result) {
				pendingAlternatives = alternativeArgs(callArgs)
			}
			if result.Name == "create_reservation" && result.OK() {
				o.completeReservation(sess, result)
			}
		}

		// No availability on a checked slot: fetch grounded alternatives for
		// the same parameters before the model speaks again, so it never has
		// to invent them.
		if pendingAlternatives != nil && !batchHasAlternatives {
			result, msgs := o.autoListAlternatives(ctx, sess, pendingAlternatives)
			if ctx.Err() != nil {
				return "", FailureNone, ctx.Err()
			}
			cycleResults = append(cycleResults, result)
			sess.AppendTurn(models.Turn{Role: models.TurnRoleFunctionResult, Result: result})
			live = append(live, msgs...)
		}
	}

	slog.Warn("Orchestrator.resolve: resolution-cycle ceiling hit", "sessionID", sess.ID, "maxCycles", o.maxCycles)
	return "", FailureLimitExceeded, nil
}

// resolveCall validates one model-issued call and executes it against the
// backend. Validation and domain failures come back as function results so
// the model can recover within the conversation; only an unknown function or
// cancellation is returned as an error.
func (o *Orchestrator) resolveCall(ctx context.Context, sess *models.Session, call genai.ToolCall) (*models.FunctionCallResult, map[string]interface{}, error) {
	var args map[string]interface{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			slog.Warn("Orchestrator.resolveCall: malformed call arguments", "sessionID", sess.ID, "function", call.Name, "error", err)
			return &models.FunctionCallResult{
				Name:   call.Name,
				CallID: call.ID,
				Error:  &models.FunctionError{Code: "validation_error", Detail: "arguments are not a valid JSON object"},
			}, nil, nil
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	normalized, err := o.catalog.Validate(call.Name, args)
	if err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			slog.Debug("Orchestrator.resolveCall: validation failed, feeding back to model", "sessionID", sess.ID, "function", call.Name, "detail", verr.Detail)
			return &models.FunctionCallResult{
				Name:   call.Name,
				CallID: call.ID,
				Error:  &models.FunctionError{Code: "validation_error", Detail: verr.Detail},
			}, nil, nil
		}
		return nil, nil, err // unknown function
	}

	op, err := o.catalog.Resolve(call.Name)
	if err != nil {
		return nil, nil, err
	}

	o.fillSlots(sess, op, normalized)
	return o.execute(ctx, op, call.Name, call.ID, normalized), normalized, nil
}

// execute runs one backend operation and folds its outcome into a function
// result. Transient backend failures (the adapter already retried once) are
// surfaced as domain failures so the model can tell the user instead of the
// request hanging or dying.
func (o *Orchestrator) execute(ctx context.Context, op catalog.Operation, name, callID string, args map[string]interface{}) *models.FunctionCallResult {
	result := &models.FunctionCallResult{Name: name, CallID: callID}

	payload, err := o.executor.Execute(ctx, op, args)
	if err != nil {
		var domainErr *backend.DomainError
		if errors.As(err, &domainErr) {
			slog.Debug("Orchestrator.execute: domain rejection", "function", name, "code", domainErr.Code)
			result.Error = &models.FunctionError{Code: domainErr.Code, Detail: domainErr.Detail}
			return result
		}
		slog.Warn("Orchestrator.execute: backend unavailable", "function", name, "error", err)
		result.Error = &models.FunctionError{
			Code:   backend.CodeBackendUnavailable,
			Detail: "the reservation system is temporarily unavailable, please apologize and suggest trying again shortly",
		}
		return result
	}

	result.Payload = payload
	return result
}

// autoListAlternatives issues the proactive list_alternatives call. The
// synthetic tool-call exchange keeps the model's view a consistent
// function-calling transcript.
func (o *Orchestrator) autoListAlternatives(ctx context.Context, sess *models.Session, args map[string]interface{}) (*models.FunctionCallResult, []openai.ChatCompletionMessageParamUnion) {
	callID := "auto_" + uuid.NewString()
	slog.Info("Orchestrator.autoListAlternatives: no availability, fetching alternatives", "sessionID", sess.ID, "date", args["date"], "time", args["time"])

	result := o.execute(ctx, catalog.OpListAlternatives, "list_alternatives", callID, args)

	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
			ID:   callID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      "list_alternatives",
				Arguments: string(argsJSON),
			},
		}},
	}

	msgs := []openai.ChatCompletionMessageParamUnion{
		{OfAssistant: &assistant},
		openai.ToolMessage(encodeResult(result), callID),
	}
	return result, msgs
}

// buildMessages converts the persisted transcript into model gateway
// messages: the system prompt plus the most recent user/assistant turns.
// Function results from earlier messages are not replayed; facts must be
// re-fetched in the cycle that uses them.
func (o *Orchestrator) buildMessages(sess *models.Session) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(o.systemPrompt)}

	turns := sess.Turns
	if len(turns) > models.MaxTranscriptLength {
		turns = turns[len(turns)-models.MaxTranscriptLength:]
	}
	for _, t := range turns {
		switch t.Role {
		case models.TurnRoleUser:
			messages = append(messages, openai.UserMessage(t.Content))
		case models.TurnRoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		}
	}
	return messages
}

// fillSlots copies reservation fields from validated arguments into the
// session's slot map.
func (o *Orchestrator) fillSlots(sess *models.Session, op catalog.Operation, args map[string]interface{}) {
	switch op {
	case catalog.OpCheckAvailability, catalog.OpListAlternatives, catalog.OpCreateReservation:
	default:
		return
	}
	for _, slot := range []string{models.SlotDate, models.SlotTime, models.SlotRestaurant, models.SlotName, models.SlotPhone} {
		if v, ok := args[slot].(string); ok && v != "" {
			sess.SetSlot(slot, v)
		}
	}
	if size, ok := args[models.SlotPartySize].(int); ok && size > 0 {
		sess.SetSlot(models.SlotPartySize, strconv.Itoa(size))
	}
}

// completeReservation marks the session COMPLETED after a successful
// create_reservation result and records the backend-assigned code.
func (o *Orchestrator) completeReservation(sess *models.Session, result *models.FunctionCallResult) {
	sess.Status = models.SessionStatusCompleted
	if code, ok := result.Payload["reservation_code"].(string); ok && code != "" {
		sess.SetSlot("reservation_code", code)
	}
	slog.Info("Orchestrator.completeReservation: reservation created", "sessionID", sess.ID)
}

// updateStatus derives the session status from slot-filling progress. The
// loop never decides "completeness" itself; COMPLETED is only ever set by a
// successful create_reservation result.
func (o *Orchestrator) updateStatus(sess *models.Session) {
	if sess.Status == models.SessionStatusCompleted || sess.Status == models.SessionStatusAbandoned {
		return
	}
	for _, slot := range models.RequiredReservationSlots {
		if sess.Slots[slot] == "" {
			sess.Status = models.SessionStatusActive
			return
		}
	}
	sess.Status = models.SessionStatusAwaitingConfirmation
}

// noAvailability reports whether a check_availability result came back with
// an empty slot set. Domain rejections and transient failures do not count;
// the model handles those directly.
func noAvailability(result *models.FunctionCallResult) bool {
	if result.Name != "check_availability" || !result.OK() {
		return false
	}
	available, ok := result.Payload["available"].(bool)
	return ok && !available
}

// alternativeArgs narrows a validated check_availability argument set to the
// parameters list_alternatives accepts.
func alternativeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, 4)
	for _, k := range []string{models.SlotDate, models.SlotTime, models.SlotPartySize, models.SlotRestaurant} {
		if v, ok := args[k]; ok {
			out[k] = v
		}
	}
	return out
}

// assistantToolCallMessage rebuilds the model's tool-call message for the
// live context so the provider accepts the following tool results.
func assistantToolCallMessage(resp *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}

	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if resp.Content != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// encodeResult serializes a function result for the model: the success
// payload as-is, or the domain-error descriptor.
func encodeResult(result *models.FunctionCallResult) string {
	var body interface{}
	if result.OK() {
		body = result.Payload
	} else {
		body = map[string]interface{}{"error": result.Error.Code, "detail": result.Error.Detail}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return `{"error":"encoding_failure"}`
	}
	return string(data)
}
