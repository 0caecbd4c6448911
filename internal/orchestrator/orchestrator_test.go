package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/gastrobot/gastrobot/internal/backend"
	"github.com/gastrobot/gastrobot/internal/catalog"
	"github.com/gastrobot/gastrobot/internal/genai"
	"github.com/gastrobot/gastrobot/internal/models"
	"github.com/gastrobot/gastrobot/internal/session"
)

// testDate is a bookable date; fixed dates go stale against the catalog's
// past-date validation.
var testDate = time.Now().AddDate(0, 0, 3).Format("2006-01-02")

// scriptedGateway replays model responses in order and records the message
// arrays it was invoked with.
type scriptedGateway struct {
	responses []*genai.ToolCallResponse
	errs      []error
	calls     [][]openai.ChatCompletionMessageParamUnion
}

func (g *scriptedGateway) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	i := len(g.calls)
	g.calls = append(g.calls, messages)
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return &genai.ToolCallResponse{Content: "¿En qué más puedo ayudarte?"}, nil
}

type executedCall struct {
	Op   catalog.Operation
	Args map[string]interface{}
}

// scriptedExecutor records executed operations and answers via a handler.
type scriptedExecutor struct {
	calls   []executedCall
	handler func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error)
}

func (e *scriptedExecutor) Execute(ctx context.Context, op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
	e.calls = append(e.calls, executedCall{Op: op, Args: args})
	if e.handler == nil {
		return map[string]interface{}{}, nil
	}
	return e.handler(op, args)
}

func newTestOrchestrator(t *testing.T, gw genai.ClientInterface, ex Executor, opts ...Option) (*Orchestrator, *session.InMemoryStore) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	store := session.NewInMemoryStore()
	return New(store, gw, ex, cat, opts...), store
}

func toolCall(id, name, args string) genai.ToolCall {
	return genai.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestHandleMessagePlainReply(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{Content: "¿Para qué fecha te gustaría reservar?"},
	}}
	ex := &scriptedExecutor{}
	o, store := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "quiero reservar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Errorf("unexpected failure: %s", result.Failure)
	}
	if result.Reply != "¿Para qué fecha te gustaría reservar?" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	if result.Status != models.SessionStatusActive {
		t.Errorf("expected ACTIVE, got %s", result.Status)
	}
	if len(ex.calls) != 0 {
		t.Errorf("no functions should run for a plain reply, got %d", len(ex.calls))
	}

	sess, _ := store.Load(context.Background(), "s1")
	if len(sess.Turns) != 2 {
		t.Fatalf("expected persisted user+assistant turns, got %d", len(sess.Turns))
	}
	if sess.Turns[0].Role != models.TurnRoleUser || sess.Turns[1].Role != models.TurnRoleAssistant {
		t.Errorf("unexpected turn order: %v, %v", sess.Turns[0].Role, sess.Turns[1].Role)
	}
}

func TestHandleMessageFunctionCycle(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "check_availability", `{"date":"`+testDate+`","time":"21:00","party_size":4}`)}},
		{Content: "Sí, tenemos mesa el sábado a las 21:00. ¿Confirmo la reserva?"},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"available": true, "message": "mesa disponible a las 21:00"}, nil
	}}
	o, store := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "¿Tenéis mesa para 4 el sábado a las 21:00?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Fatalf("unexpected failure: %s", result.Failure)
	}
	if !strings.Contains(result.Reply, "21:00") {
		t.Errorf("expected grounded reply to survive, got %q", result.Reply)
	}

	if len(ex.calls) != 1 || ex.calls[0].Op != catalog.OpCheckAvailability {
		t.Fatalf("expected one check_availability execution, got %v", ex.calls)
	}
	if ex.calls[0].Args["party_size"] != 4 {
		t.Errorf("expected normalized party_size 4, got %v", ex.calls[0].Args["party_size"])
	}

	sess, _ := store.Load(context.Background(), "s1")
	if len(sess.Turns) != 3 {
		t.Fatalf("expected user+function_result+assistant turns, got %d", len(sess.Turns))
	}
	fn := sess.Turns[1]
	if fn.Role != models.TurnRoleFunctionResult || fn.Result == nil || fn.Result.Name != "check_availability" {
		t.Errorf("function result turn not recorded: %+v", fn)
	}
	if sess.Slots[models.SlotDate] != testDate || sess.Slots[models.SlotTime] != "21:00" || sess.Slots[models.SlotPartySize] != "4" {
		t.Errorf("slots not filled from validated args: %v", sess.Slots)
	}
}

func TestUngroundedReplyReplaced(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{Content: "We have a table at 21:00, confirmed!"},
	}}
	o, store := newTestOrchestrator(t, gw, &scriptedExecutor{})

	result, err := o.HandleMessage(context.Background(), "s1", "do you have a table tonight at 21:00?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Errorf("grounding replacement is not a failure, got %s", result.Failure)
	}
	if result.Reply != UngroundedReply {
		t.Errorf("expected safe replacement reply, got %q", result.Reply)
	}

	sess, _ := store.Load(context.Background(), "s1")
	if sess.Turns[len(sess.Turns)-1].Content != UngroundedReply {
		t.Error("the replacement reply must be the persisted assistant turn")
	}
}

func TestAutoListAlternativesOnNoAvailability(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "check_availability", `{"date":"`+testDate+`","time":"21:00","party_size":4}`)}},
		{Content: "A las 21:00 no queda mesa, pero puedo ofrecerte las 19:00 o las 21:30. ¿Te va bien alguna?"},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		switch op {
		case catalog.OpCheckAvailability:
			return map[string]interface{}{"available": false, "message": "no hay mesas a esa hora"}, nil
		case catalog.OpListAlternatives:
			return map[string]interface{}{"alternatives": []map[string]interface{}{
				{"date": testDate, "time": "19:00"},
				{"date": testDate, "time": "21:30"},
			}}, nil
		default:
			t.Fatalf("unexpected operation %s", op)
			return nil, nil
		}
	}}
	o, store := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "¿Tenéis mesa para 4 el sábado a las 21:00?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Fatalf("unexpected failure: %s", result.Failure)
	}
	if !strings.Contains(result.Reply, "19:00") || !strings.Contains(result.Reply, "21:30") {
		t.Errorf("expected reply offering grounded alternatives, got %q", result.Reply)
	}

	// Alternatives must be fetched before the model speaks again, with the
	// same slot parameters.
	if len(ex.calls) != 2 {
		t.Fatalf("expected check + alternatives executions, got %d", len(ex.calls))
	}
	if ex.calls[1].Op != catalog.OpListAlternatives {
		t.Fatalf("expected list_alternatives as second execution, got %s", ex.calls[1].Op)
	}
	if ex.calls[1].Args["date"] != testDate || ex.calls[1].Args["time"] != "21:00" || ex.calls[1].Args["party_size"] != 4 {
		t.Errorf("alternatives not requested for the checked slot: %v", ex.calls[1].Args)
	}
	if len(gw.calls) != 2 {
		t.Errorf("expected exactly 2 model invocations, got %d", len(gw.calls))
	}

	sess, _ := store.Load(context.Background(), "s1")
	roles := make([]models.TurnRole, len(sess.Turns))
	for i, turn := range sess.Turns {
		roles[i] = turn.Role
	}
	want := []models.TurnRole{models.TurnRoleUser, models.TurnRoleFunctionResult, models.TurnRoleFunctionResult, models.TurnRoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("expected %d turns, got %v", len(want), roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("turn %d: expected %s, got %s", i, want[i], roles[i])
		}
	}
	if sess.Turns[2].Result.Name != "list_alternatives" {
		t.Errorf("expected alternatives result recorded, got %s", sess.Turns[2].Result.Name)
	}
}

func TestSkipsAutoAlternativesWhenModelAlreadyAsked(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{
			toolCall("call_1", "check_availability", `{"date":"`+testDate+`","time":"21:00","party_size":4}`),
			toolCall("call_2", "list_alternatives", `{"date":"`+testDate+`","time":"21:00","party_size":4}`),
		}},
		{Content: "Lo siento, no queda mesa a esa hora."},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		if op == catalog.OpCheckAvailability {
			return map[string]interface{}{"available": false}, nil
		}
		return map[string]interface{}{"alternatives": []map[string]interface{}{}}, nil
	}}
	o, _ := newTestOrchestrator(t, gw, ex)

	if _, err := o.HandleMessage(context.Background(), "s1", "mesa para 4 a las 21:00 el sábado"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count := 0
	for _, c := range ex.calls {
		if c.Op == catalog.OpListAlternatives {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected a single alternatives lookup, got %d", count)
	}
}

func TestValidationErrorFedBackToModel(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "check_availability", `{"date":"`+testDate+`","time":"21:00","party_size":0}`)}},
		{Content: "¿Para cuántas personas sería la reserva?"},
	}}
	ex := &scriptedExecutor{}
	o, store := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "mesa a las 21:00 del sábado")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Errorf("validation errors are recoverable, got failure %s", result.Failure)
	}
	if len(ex.calls) != 0 {
		t.Error("backend must not run for invalid arguments")
	}

	sess, _ := store.Load(context.Background(), "s1")
	fn := sess.Turns[1]
	if fn.Result == nil || fn.Result.OK() || fn.Result.Error.Code != "validation_error" {
		t.Errorf("expected validation_error function result, got %+v", fn.Result)
	}
}

func TestMalformedArgumentsFedBackToModel(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "get_menu", `not-json`)}},
		{Content: "¿Qué parte de la carta te interesa?"},
	}}
	ex := &scriptedExecutor{}
	o, _ := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "enséñame la carta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Errorf("unexpected failure: %s", result.Failure)
	}
	if len(ex.calls) != 0 {
		t.Error("backend must not run for malformed arguments")
	}
}

func TestUnknownFunctionFails(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "reserve_table", `{}`)}},
	}}
	o, store := newTestOrchestrator(t, gw, &scriptedExecutor{})

	result, err := o.HandleMessage(context.Background(), "s1", "resérvame una mesa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureUnknownFunction {
		t.Errorf("expected unknown-function failure, got %s", result.Failure)
	}
	if result.Reply != FallbackReply {
		t.Errorf("expected fallback reply, got %q", result.Reply)
	}

	// The session survives with the fallback so the user can retry.
	sess, _ := store.Load(context.Background(), "s1")
	if sess.Status != models.SessionStatusActive {
		t.Errorf("expected session to stay ACTIVE, got %s", sess.Status)
	}
	if sess.Turns[len(sess.Turns)-1].Content != FallbackReply {
		t.Error("fallback reply must be persisted as the assistant turn")
	}
}

func TestCycleLimit(t *testing.T) {
	loop := &genai.ToolCallResponse{ToolCalls: []genai.ToolCall{toolCall("call_1", "get_menu", `{}`)}}
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{loop, loop, loop, loop}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"menu": "carta"}, nil
	}}
	o, _ := newTestOrchestrator(t, gw, ex, WithMaxCycles(3))

	result, err := o.HandleMessage(context.Background(), "s1", "enséñame la carta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureLimitExceeded {
		t.Errorf("expected limit failure, got %s", result.Failure)
	}
	if len(gw.calls) != 3 {
		t.Errorf("expected exactly 3 model invocations, got %d", len(gw.calls))
	}
	if result.Reply != FallbackReply {
		t.Errorf("expected fallback reply, got %q", result.Reply)
	}
}

func TestModelGatewayFailure(t *testing.T) {
	gw := &scriptedGateway{errs: []error{errors.New("model invocation failed: timeout")}}
	o, _ := newTestOrchestrator(t, gw, &scriptedExecutor{})

	result, err := o.HandleMessage(context.Background(), "s1", "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureModelUnavailable {
		t.Errorf("expected model-unavailable failure, got %s", result.Failure)
	}
	if result.Reply != FallbackReply {
		t.Errorf("expected fallback reply, got %q", result.Reply)
	}
}

func TestBackendDomainErrorFedBackToModel(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "cancel_reservation", `{"reservation_code":"ABC12345"}`)}},
		{Content: "No encuentro ninguna reserva con ese código. ¿Puedes comprobarlo?"},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, &backend.DomainError{Code: backend.CodeCodeNotFound, Detail: "Reserva no encontrada"}
	}}
	o, store := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "cancela mi reserva ABC12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Errorf("domain errors are recoverable, got %s", result.Failure)
	}

	sess, _ := store.Load(context.Background(), "s1")
	fn := sess.Turns[1]
	if fn.Result.OK() || fn.Result.Error.Code != backend.CodeCodeNotFound {
		t.Errorf("expected code-not-found result, got %+v", fn.Result)
	}
}

func TestBackendTransientErrorFedBackToModel(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "get_hours", `{}`)}},
		{Content: "Ahora mismo no puedo consultarlo, inténtalo en unos minutos por favor."},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, &backend.TransientError{Op: "get_hours", Err: errors.New("connection refused")}
	}}
	o, _ := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "¿a qué hora abrís?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != FailureNone {
		t.Errorf("backend outages surface to the model, not as FAILED: %s", result.Failure)
	}
	if result.Reply == FallbackReply {
		t.Error("expected the model's own apology, not the generic fallback")
	}
}

func TestCompletedOnCreateReservation(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "create_reservation",
			`{"name":"María García","phone":"612345678","date":"`+testDate+`","time":"21:00","party_size":4}`)}},
		{Content: "¡Reserva confirmada! Tu código de reserva es XYZ98765."},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"reservation_code": "XYZ98765", "message": "reserva confirmada"}, nil
	}}
	o, store := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "confírmame la reserva")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.SessionStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", result.Status)
	}
	if !strings.Contains(result.Reply, "XYZ98765") {
		t.Errorf("grounded code must survive the grounding check, got %q", result.Reply)
	}

	sess, _ := store.Load(context.Background(), "s1")
	if sess.Slots["reservation_code"] != "XYZ98765" {
		t.Errorf("reservation code slot not recorded: %v", sess.Slots)
	}
}

func TestAwaitingConfirmationWhenSlotsFilled(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{ToolCalls: []genai.ToolCall{toolCall("call_1", "create_reservation",
			`{"name":"María García","phone":"612345678","date":"`+testDate+`","time":"21:00","party_size":4}`)}},
		{Content: "Esa franja acaba de ocuparse. ¿Quieres que busque otra hora?"},
	}}
	ex := &scriptedExecutor{handler: func(op catalog.Operation, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, &backend.DomainError{Code: backend.CodeBackendRejected, Detail: "la franja ya no está disponible"}
	}}
	o, _ := newTestOrchestrator(t, gw, ex)

	result, err := o.HandleMessage(context.Background(), "s1", "resérvame esa mesa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.SessionStatusAwaitingConfirmation {
		t.Errorf("all slots filled but no reservation: expected AWAITING_CONFIRMATION, got %s", result.Status)
	}
}

func TestTranscriptContinuity(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{Content: "¿Para qué fecha?"},
		{Content: "¿A qué hora os viene bien?"},
	}}
	o, _ := newTestOrchestrator(t, gw, &scriptedExecutor{})

	ctx := context.Background()
	if _, err := o.HandleMessage(ctx, "s1", "quiero reservar"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.HandleMessage(ctx, "s1", "el sábado"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// system + user1 + assistant1 + user2
	if got := len(gw.calls[1]); got != 4 {
		t.Errorf("expected 4 messages on the second invocation, got %d", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{
		{Content: "¿Para qué fecha?"},
		{Content: "¿Para cuántas personas?"},
	}}
	o, store := newTestOrchestrator(t, gw, &scriptedExecutor{})

	ctx := context.Background()
	if _, err := o.HandleMessage(ctx, "s1", "hola desde la primera"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.HandleMessage(ctx, "s2", "hola desde la segunda"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1, _ := store.Load(ctx, "s1")
	s2, _ := store.Load(ctx, "s2")
	if len(s1.Turns) != 2 || len(s2.Turns) != 2 {
		t.Fatalf("expected 2 turns each, got %d and %d", len(s1.Turns), len(s2.Turns))
	}
	if s1.Turns[0].Content == s2.Turns[0].Content {
		t.Error("sessions leaked turns into each other")
	}
}

// cancellingGateway cancels the request context on its first invocation and
// answers normally afterwards.
type cancellingGateway struct {
	cancel    context.CancelFunc
	cancelled bool
}

func (g *cancellingGateway) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	if !g.cancelled {
		g.cancelled = true
		g.cancel()
		return nil, ctx.Err()
	}
	return &genai.ToolCallResponse{Content: "¿A qué hora os viene bien?"}, nil
}

func TestCancellationDiscardsWithoutSaving(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &cancellingGateway{cancel: cancel}
	o, store := newTestOrchestrator(t, gw, &scriptedExecutor{})

	seeded := models.NewSession("s1")
	seeded.AppendTurn(models.Turn{Role: models.TurnRoleUser, Content: "hola"})
	seeded.AppendTurn(models.Turn{Role: models.TurnRoleAssistant, Content: "¿Para qué fecha?"})
	if err := store.Save(context.Background(), seeded); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	if _, err := o.HandleMessage(ctx, "s1", "el sábado"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The persisted record must be untouched: no partial turns, no status change.
	sess, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.Turns) != 2 {
		t.Fatalf("cancelled work must not persist turns, got %d", len(sess.Turns))
	}
	if sess.Turns[1].Content != "¿Para qué fecha?" {
		t.Errorf("pre-cancellation transcript changed: %q", sess.Turns[1].Content)
	}

	// The session lock must be free again; the next message goes through.
	result, err := o.HandleMessage(context.Background(), "s1", "el sábado")
	if err != nil {
		t.Fatalf("unexpected error after cancellation: %v", err)
	}
	if result.Reply != "¿A qué hora os viene bien?" {
		t.Errorf("unexpected reply: %q", result.Reply)
	}
	sess, _ = store.Load(context.Background(), "s1")
	if len(sess.Turns) != 4 {
		t.Errorf("expected the retried exchange persisted, got %d turns", len(sess.Turns))
	}
}

func TestModelContextCapped(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{{Content: "Claro, dime."}}}
	o, store := newTestOrchestrator(t, gw, &scriptedExecutor{})
	ctx := context.Background()

	seeded := models.NewSession("s1")
	for i := 0; i < models.MaxTranscriptLength+10; i++ {
		role := models.TurnRoleUser
		if i%2 == 1 {
			role = models.TurnRoleAssistant
		}
		seeded.AppendTurn(models.Turn{Role: role, Content: fmt.Sprintf("turno %d", i)})
	}
	if err := store.Save(ctx, seeded); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	if _, err := o.HandleMessage(ctx, "s1", "¿seguimos?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// System prompt plus the capped tail of the transcript.
	if got := len(gw.calls[0]); got != models.MaxTranscriptLength+1 {
		t.Errorf("expected %d model messages, got %d", models.MaxTranscriptLength+1, got)
	}

	// The persisted transcript is never truncated.
	sess, _ := store.Load(ctx, "s1")
	if want := models.MaxTranscriptLength + 12; len(sess.Turns) != want {
		t.Errorf("expected %d persisted turns, got %d", want, len(sess.Turns))
	}
}

func TestEmptyModelResponse(t *testing.T) {
	gw := &scriptedGateway{responses: []*genai.ToolCallResponse{{Content: "   "}}}
	o, _ := newTestOrchestrator(t, gw, &scriptedExecutor{})

	result, err := o.HandleMessage(context.Background(), "s1", "hola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reply != EmptyReply {
		t.Errorf("expected the generic prompt-back reply, got %q", result.Reply)
	}
}
