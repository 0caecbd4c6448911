// Package backend provides the typed HTTP adapter over the reservation backend.
//
// Each operation is a pure network call: the adapter translates catalog
// argument names to the backend's wire field names (the backend speaks the
// original Spanish protocol: fecha, hora, personas, exito, mensaje) and
// normalizes responses, but applies no reservation logic of its own.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gastrobot/gastrobot/internal/models"
	"github.com/gastrobot/gastrobot/internal/util"
)

// DefaultTimeout bounds every backend call unless overridden.
const DefaultTimeout = 30 * time.Second

// Opts holds configuration options for the backend client.
type Opts struct {
	BaseURL string        // reservation backend base endpoint
	Token   string        // bearer token, optional
	Timeout time.Duration // per-call timeout
}

// Option defines a configuration option for the backend client.
type Option func(*Opts)

// WithBaseURL sets the reservation backend base endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithToken sets the bearer token sent on every request.
func WithToken(t string) Option {
	return func(o *Opts) { o.Token = t }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client is the reservation backend adapter.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new backend client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("backend.NewClient: options set", "baseURL_set", cfg.BaseURL != "", "token_set", cfg.Token != "", "timeout", cfg.Timeout)

	if cfg.BaseURL == "" {
		slog.Error("backend.NewClient: base URL not set")
		return nil, fmt.Errorf("backend base URL not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// envelope is the backend's standard response wrapper.
type envelope map[string]interface{}

// request performs one HTTP exchange with the backend. Network failures,
// timeouts and 5xx responses come back as *TransientError; 4xx responses and
// exito=false envelopes come back as *DomainError.
func (c *Client) request(ctx context.Context, op, method, path string, body interface{}, params url.Values) (envelope, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	slog.Debug("backend.request: calling backend", "op", op, "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("backend.request: network failure", "op", op, "error", err)
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		slog.Warn("backend.request: server error", "op", op, "status", resp.StatusCode)
		return nil, &TransientError{Op: op, Err: fmt.Errorf("backend returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		slog.Warn("backend.request: request rejected", "op", op, "status", resp.StatusCode)
		return nil, &DomainError{Code: CodeBackendRejected, Detail: fmt.Sprintf("backend rejected the request (status %d)", resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		slog.Warn("backend.request: malformed response", "op", op, "error", err)
		return nil, &TransientError{Op: op, Err: fmt.Errorf("malformed backend response: %w", err)}
	}

	if ok, present := env["exito"].(bool); present && !ok {
		detail, _ := env["mensaje"].(string)
		if detail == "" {
			detail = "the backend declined the operation"
		}
		code := CodeBackendRejected
		if strings.Contains(strings.ToLower(detail), "no encontr") {
			code = CodeCodeNotFound
		}
		slog.Debug("backend.request: domain rejection", "op", op, "detail", detail)
		return nil, &DomainError{Code: code, Detail: detail}
	}

	return env, nil
}

// requestWithRetry retries the exchange once on transient failure.
func (c *Client) requestWithRetry(ctx context.Context, op, method, path string, body interface{}, params url.Values) (envelope, error) {
	env, err := c.request(ctx, op, method, path, body, params)
	if err == nil {
		return env, nil
	}
	if _, transient := err.(*TransientError); !transient || ctx.Err() != nil {
		return nil, err
	}
	slog.Debug("backend.requestWithRetry: retrying after transient failure", "op", op, "error", err)
	return c.request(ctx, op, method, path, body, params)
}

// AvailabilityQuery carries the slot parameters shared by CheckAvailability
// and ListAlternatives.
type AvailabilityQuery struct {
	Date        string
	Time        string
	PartySize   int
	Restaurant  string
	DurationMin int
}

func (q AvailabilityQuery) wire() map[string]interface{} {
	duration := q.DurationMin
	if duration <= 0 {
		duration = models.EstimateDurationMinutes(q.PartySize)
	}
	body := map[string]interface{}{
		"fecha":    q.Date,
		"hora":     q.Time,
		"personas": q.PartySize,
		"duracion": duration,
	}
	if q.Restaurant != "" {
		body["restaurante"] = q.Restaurant
	}
	return body
}

// CheckAvailability asks the backend whether a table is available for the
// given slot. No availability is not an error: the payload carries
// available=false and whatever alternatives the backend volunteered.
func (c *Client) CheckAvailability(ctx context.Context, q AvailabilityQuery) (map[string]interface{}, error) {
	env, err := c.requestWithRetry(ctx, "check_availability", http.MethodPost, "/buscar-mesa", q.wire(), nil)
	if err != nil {
		return nil, err
	}

	table, hasTable := env["mesa_disponible"].(map[string]interface{})
	payload := map[string]interface{}{
		"available": hasTable,
	}
	if hasTable {
		payload["table"] = translateTable(table)
	}
	if alts := translateSlots(env["alternativas"]); len(alts) > 0 {
		payload["alternatives"] = alts
	}
	if msg, _ := env["mensaje"].(string); msg != "" {
		payload["message"] = msg
	}
	slog.Debug("backend.CheckAvailability: result", "date", q.Date, "time", q.Time, "partySize", q.PartySize, "available", hasTable)
	return payload, nil
}

// ListAlternatives returns the backend's ordered alternative slots near the
// requested one.
func (c *Client) ListAlternatives(ctx context.Context, q AvailabilityQuery) (map[string]interface{}, error) {
	env, err := c.requestWithRetry(ctx, "list_alternatives", http.MethodPost, "/listar-alternativas", q.wire(), nil)
	if err != nil {
		return nil, err
	}

	alts := translateSlots(env["alternativas"])
	payload := map[string]interface{}{
		"alternatives": alts,
	}
	if msg, _ := env["mensaje"].(string); msg != "" {
		payload["message"] = msg
	}
	slog.Debug("backend.ListAlternatives: result", "date", q.Date, "time", q.Time, "count", len(alts))
	return payload, nil
}

// Reservation carries the fields needed to create a reservation.
type Reservation struct {
	Name       string
	Phone      string
	Date       string
	Time       string
	PartySize  int
	Restaurant string
	Zone       string
	Allergies  string
	Comments   string
}

// CreateReservation books a table. The backend assigns the reservation code.
func (c *Client) CreateReservation(ctx context.Context, r Reservation) (map[string]interface{}, error) {
	phone := util.NormalizePhone(r.Phone)
	if len(phone) < 9 {
		return nil, &DomainError{Code: CodeBackendRejected, Detail: "phone number is not valid"}
	}

	body := map[string]interface{}{
		"nombre":   r.Name,
		"telefono": phone,
		"fecha":    r.Date,
		"hora":     r.Time,
		"personas": r.PartySize,
		"duracion": models.EstimateDurationMinutes(r.PartySize),
	}
	if r.Restaurant != "" {
		body["restaurante"] = r.Restaurant
	}
	if r.Zone != "" {
		body["zona_preferida"] = r.Zone
	}
	if r.Allergies != "" {
		body["alergias"] = r.Allergies
	}
	if r.Comments != "" {
		body["notas"] = r.Comments
	}

	slog.Info("backend.CreateReservation: creating reservation", "date", r.Date, "time", r.Time, "partySize", r.PartySize, "phone", util.MaskPhone(r.Phone))
	env, err := c.requestWithRetry(ctx, "create_reservation", http.MethodPost, "/crear-reserva", body, nil)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{}
	if res, ok := env["reserva"].(map[string]interface{}); ok {
		payload["reservation"] = translateReservation(res)
		if code, _ := res["codigo_reserva"].(string); code != "" {
			payload["reservation_code"] = code
		}
	}
	if code, _ := env["codigo_reserva"].(string); code != "" {
		payload["reservation_code"] = code
	}
	if msg, _ := env["mensaje"].(string); msg != "" {
		payload["message"] = msg
	}
	return payload, nil
}

// wireChanges maps catalog change-field names onto the backend's wire names.
var wireChanges = map[string]string{
	"date":       "fecha",
	"time":       "hora",
	"party_size": "personas",
	"zone":       "zona_preferida",
	"allergies":  "alergias",
	"comments":   "notas",
}

// ModifyReservation updates an existing reservation identified by its code.
func (c *Client) ModifyReservation(ctx context.Context, code string, changes map[string]interface{}) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"codigo_reserva": strings.ToUpper(strings.TrimSpace(code)),
	}
	for field, value := range changes {
		wire, known := wireChanges[field]
		if !known {
			return nil, &DomainError{Code: CodeBackendRejected, Detail: fmt.Sprintf("field %q cannot be modified", field)}
		}
		body[wire] = value
	}

	env, err := c.requestWithRetry(ctx, "modify_reservation", http.MethodPut, "/modificar-reserva", body, nil)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{}
	if res, ok := env["reserva"].(map[string]interface{}); ok {
		payload["reservation"] = translateReservation(res)
	}
	if msg, _ := env["mensaje"].(string); msg != "" {
		payload["message"] = msg
	}
	return payload, nil
}

// CancelReservation cancels an existing reservation identified by its code.
func (c *Client) CancelReservation(ctx context.Context, code, reason string) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"codigo_reserva": strings.ToUpper(strings.TrimSpace(code)),
	}
	if reason != "" {
		body["motivo"] = reason
	}

	env, err := c.requestWithRetry(ctx, "cancel_reservation", http.MethodPost, "/cancelar-reserva", body, nil)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{"cancelled": true}
	if msg, _ := env["mensaje"].(string); msg != "" {
		payload["message"] = msg
	}
	return payload, nil
}

// GetReservation looks up a reservation by code.
func (c *Client) GetReservation(ctx context.Context, code string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("codigo_reserva", strings.ToUpper(strings.TrimSpace(code)))

	env, err := c.requestWithRetry(ctx, "get_reservation_info", http.MethodGet, "/consultar-reserva", nil, params)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{}
	if res, ok := env["reserva"].(map[string]interface{}); ok {
		payload["reservation"] = translateReservation(res)
	}
	if msg, _ := env["mensaje"].(string); msg != "" {
		payload["message"] = msg
	}
	return payload, nil
}

// GetMenu fetches the menu, optionally filtered by category or dish.
func (c *Client) GetMenu(ctx context.Context, category string, showImages bool, dishName string) (map[string]interface{}, error) {
	params := url.Values{}
	if category != "" {
		params.Set("categoria", category)
	}
	if showImages {
		params.Set("mostrar_imagenes", "true")
	}
	if dishName != "" {
		params.Set("nombre_plato", dishName)
	}

	env, err := c.requestWithRetry(ctx, "get_menu", http.MethodGet, "/ver-menu", nil, params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(env), nil
}

// GetHours fetches the restaurant opening hours, optionally for one date.
func (c *Client) GetHours(ctx context.Context, date string) (map[string]interface{}, error) {
	params := url.Values{}
	if date != "" {
		params.Set("fecha", date)
	}

	env, err := c.requestWithRetry(ctx, "get_hours", http.MethodGet, "/consultar-horario", nil, params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(env), nil
}

// GetPolicies fetches the restaurant policies.
func (c *Client) GetPolicies(ctx context.Context) (map[string]interface{}, error) {
	env, err := c.requestWithRetry(ctx, "get_policies", http.MethodGet, "/espejo", nil, url.Values{"seccion": {"politicas"}})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(env), nil
}

// GetRestaurantInfo fetches general restaurant information or one policy.
func (c *Client) GetRestaurantInfo(ctx context.Context, queryType, policyType string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("seccion", queryType)
	if policyType != "" {
		params.Set("politica", policyType)
	}

	env, err := c.requestWithRetry(ctx, "get_restaurant_info", http.MethodGet, "/espejo", nil, params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(env), nil
}

// translateSlots converts the backend's alternative-slot list to catalog field names.
func translateSlots(raw interface{}) []map[string]interface{} {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		slot, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		t := map[string]interface{}{}
		if v, ok := slot["fecha"]; ok {
			t["date"] = v
		}
		if v, ok := slot["hora"]; ok {
			t["time"] = v
		}
		if v, ok := slot["capacidad"]; ok {
			t["capacity"] = v
		}
		if len(t) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// translateTable converts a backend table record to catalog field names.
func translateTable(raw map[string]interface{}) map[string]interface{} {
	t := map[string]interface{}{}
	if v, ok := raw["id"]; ok {
		t["id"] = v
	}
	if v, ok := raw["numero"]; ok {
		t["number"] = v
	}
	if v, ok := raw["capacidad"]; ok {
		t["capacity"] = v
	}
	if v, ok := raw["zona"]; ok {
		t["zone"] = v
	}
	return t
}

// translateReservation converts a backend reservation record to catalog field names.
func translateReservation(raw map[string]interface{}) map[string]interface{} {
	t := map[string]interface{}{}
	fields := map[string]string{
		"id":             "id",
		"codigo_reserva": "reservation_code",
		"nombre":         "name",
		"fecha":          "date",
		"hora":           "time",
		"personas":       "party_size",
		"mesa_id":        "table_id",
		"zona":           "zone",
		"duracion":       "duration_min",
	}
	for wire, name := range fields {
		if v, ok := raw[wire]; ok {
			t[name] = v
		}
	}
	return t
}
