package capsule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// EchoHandler backs "capsule.echo": it returns its arguments verbatim,
// the canonical smoke-test capability.
type EchoHandler struct{}

func (EchoHandler) Handle(_ context.Context, args map[string]any) (any, error) {
	return args, nil
}

// HTTPHandler backs "capsule.http": a thin GET/POST client capability.
// Arguments: "url" (required), "method" (default GET), "body" (for
// POST/PUT). Non-2xx responses are returned as a handler error so the
// router wraps them in an error envelope rather than surfacing a raw
// HTTP status to the caller.
type HTTPHandler struct {
	Client *http.Client
}

func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPHandler) Handle(ctx context.Context, args map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("capsule.http: missing required argument %q", "url")
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := args["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("capsule.http: building request: %w", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capsule.http: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("capsule.http: reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("capsule.http: %s %s returned status %d", method, url, resp.StatusCode)
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(respBody),
	}, nil
}

// ContainerExecHandler backs "container-exec". Real container
// transport is explicitly out of scope; the only mode this module
// implements is the test stub switched on by
// DEMON_CONTAINER_RUNTIME=stub, which reads a pre-baked envelope JSON
// document from disk named by the "fixture" argument.
type ContainerExecHandler struct {
	Getenv func(string) string
}

func NewContainerExecHandler() *ContainerExecHandler {
	return &ContainerExecHandler{Getenv: os.Getenv}
}

func (h *ContainerExecHandler) Handle(_ context.Context, args map[string]any) (any, error) {
	if h.Getenv("DEMON_CONTAINER_RUNTIME") != "stub" {
		return nil, fmt.Errorf("container-exec: no transport configured (DEMON_CONTAINER_RUNTIME must be %q in this build)", "stub")
	}
	fixture, _ := args["fixture"].(string)
	if fixture == "" {
		return nil, fmt.Errorf("container-exec: stub mode requires a %q argument naming the fixture file", "fixture")
	}
	raw, err := os.ReadFile(fixture)
	if err != nil {
		return nil, fmt.Errorf("container-exec: reading stub fixture %s: %w", fixture, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("container-exec: decoding stub fixture %s: %w", fixture, err)
	}
	return decoded, nil
}

// AnthropicHandler backs "capsule.anthropic", the representative
// AI-backed capability: a single Messages API call, quota-gated and
// envelope-wrapped like any other capsule (SPEC_FULL §3).
type AnthropicHandler struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicHandler(apiKey string) *AnthropicHandler {
	return &AnthropicHandler{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaude3_5HaikuLatest,
	}
}

func (h *AnthropicHandler) Handle(ctx context.Context, args map[string]any) (any, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("capsule.anthropic: missing required argument %q", "prompt")
	}

	msg, err := h.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     h.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("capsule.anthropic: messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return map[string]any{"text": text, "stopReason": string(msg.StopReason)}, nil
}
