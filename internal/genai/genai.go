// Package genai provides the model gateway: a thin, stateless wrapper around
// the OpenAI chat completion API with function calling.
//
// One invocation takes a conversation transcript plus the catalog's tool
// definitions and yields either assistant text or an ordered list of tool
// calls. The gateway keeps no session knowledge between invocations.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model identifier is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// DefaultTimeout bounds a single model invocation unless overridden.
const DefaultTimeout = 30 * time.Second

// Generation defaults matching the original service configuration.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

// ToolCall is one function-call request issued by the model, in the order the
// model produced it.
type ToolCall struct {
	ID        string          // provider-assigned call id
	Name      string          // requested function name
	Arguments json.RawMessage // raw JSON argument object
}

// ToolCallResponse is the gateway's tagged reply: assistant text, tool calls,
// or both. When ToolCalls is non-empty the orchestrator treats the response
// as non-terminal and resolves the calls before any user-visible reply.
type ToolCallResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ClientInterface defines the model gateway operations used by the orchestrator.
type ClientInterface interface {
	// GenerateWithTools sends the transcript and tool definitions and returns
	// the model's reply.
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
}

// completionService is the minimal surface of the OpenAI chat completion API,
// extracted for testability.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the model gateway.
type Opts struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// Option defines a configuration option for the model gateway.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	completions completionService
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

// NewClient initializes the model gateway, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("genai.NewClient: options set", "apiKey_set", cfg.APIKey != "", "model", cfg.Model, "timeout", cfg.Timeout)

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		completions: &cli.Chat.Completions,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

// GenerateWithTools invokes the model once with the given transcript and tool
// definitions. A timeout is treated as transient: the call is retried once
// before the error is surfaced.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	resp, err := c.invoke(ctx, messages, tools)
	if err != nil && isTimeout(err) && ctx.Err() == nil {
		slog.Warn("genai.GenerateWithTools: model invocation timed out, retrying once", "error", err)
		resp, err = c.invoke(ctx, messages, tools)
	}
	if err != nil {
		slog.Error("genai.GenerateWithTools: model invocation failed", "error", err)
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}
	return resp, nil
}

func (c *Client) invoke(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := c.completions.New(callCtx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	message := completion.Choices[0].Message
	out := &ToolCallResponse{Content: message.Content}
	for _, tc := range message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	slog.Debug("genai.invoke: model responded", "hasContent", out.Content != "", "toolCallCount", len(out.ToolCalls))
	return out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
