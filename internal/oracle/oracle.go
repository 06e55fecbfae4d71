// Package oracle talks to the code-generation model. Callers describe a task
// and get text back; transport failures are retried once.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

var (
	// ErrTransport wraps failures to reach the oracle or get a usable reply.
	ErrTransport = errors.New("oracle transport failure")
	// ErrDecode wraps replies that are not the structured value requested.
	ErrDecode = errors.New("oracle response could not be decoded")
)

// Client maps a task to generated text.
type Client interface {
	Request(ctx context.Context, task Task) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, task Task) (string, error)

func (f ClientFunc) Request(ctx context.Context, task Task) (string, error) {
	return f(ctx, task)
}

// Options configures the OpenAI-backed client. It is built once at startup.
type Options struct {
	APIKey       string
	Organization string
	BaseURL      string
	Model        string
	Temperature  float32
	Timeout      time.Duration
}

// OpenAIClient sends tasks as chat completions.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
	maxAttempts int
}

// NewOpenAIClient validates opts and builds a client.
func NewOpenAIClient(opts Options, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("oracle: API key is required (set CODERLOOP_API_KEY or OPENAI_API_KEY)")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("oracle: model is required")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.OrgID = opts.Organization
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		logger:      logger,
		maxAttempts: 2,
	}, nil
}

// Request sends the task, retrying exactly once on transport failure.
func (c *OpenAIClient) Request(ctx context.Context, task Task) (string, error) {
	if !task.Kind.Valid() {
		return "", fmt.Errorf("oracle: unknown task kind %q", task.Kind)
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: task.Prompt()},
		},
		Temperature: c.temperature,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.logger.Debug("oracle request",
			"kind", task.Kind,
			"role", task.Role,
			"attempt", attempt)

		content, err := c.complete(ctx, req)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("oracle request failed",
			"kind", task.Kind,
			"attempt", attempt,
			"error", err)
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %w (%v)", ErrTransport, task.Kind, err, lastErr)
	}
	return "", fmt.Errorf("%w: %s: %w", ErrTransport, task.Kind, lastErr)
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Decode runs task and unmarshals the JSON reply into T.
func Decode[T any](ctx context.Context, c Client, task Task) (T, error) {
	var out T

	raw, err := c.Request(ctx, task)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v (response: %q)", ErrDecode, task.Kind, err, truncate(raw, 200))
	}
	return out, nil
}

// StripCodeFence removes a surrounding Markdown code fence such as ```go or
// ```json if the reply is wrapped in one.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	body := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	body = strings.TrimSuffix(strings.TrimRight(body, " \t\r\n"), "```")
	return strings.TrimSpace(body) + "\n"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
