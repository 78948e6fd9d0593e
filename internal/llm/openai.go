// OpenAI-compatible streaming chat client.
//
// DESIGN: Requests go to {base_url}/v1/chat/completions with stream=true and
// stream_options.include_usage, so the final chunk carries cumulative usage.
// SSE "data:" frames are probed with gjson; tool_call deltas are accumulated
// by index until the stream finishes.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const providerOpenAI = "openai"

// maxErrorBodyLen limits provider error bodies carried in wrapped errors.
const maxErrorBodyLen = 500

// OpenAIClient streams chat completions from an OpenAI-compatible endpoint.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(cl *OpenAIClient) {
		cl.httpClient = c
	}
}

// NewOpenAIClient creates a streaming client for the given endpoint.
func NewOpenAIClient(baseURL, apiKey, model string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			// No overall timeout: streams are long-lived. Cancellation
			// comes from the request context.
			Timeout: 0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Tools         []toolDefWire  `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type toolDefWire struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamChat issues one streaming completion, emitting ContentDelta and
// UsageReported events as frames arrive. The returned message carries the
// full text and any tool calls the model requested.
func (c *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest, emit func(Event)) (Message, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	body := chatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		body.Tools = append(body.Tools, toolDefWire{
			Type:     "function",
			Function: toolFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Message{}, &UpstreamError{Provider: providerOpenAI, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Message{}, &UpstreamError{Provider: providerOpenAI, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Message{}, &UpstreamError{Provider: providerOpenAI, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Message{}, c.classifyHTTPError(resp)
	}

	return c.consumeStream(resp.Body, emit)
}

// classifyHTTPError turns a non-200 response into a typed error.
// The provider's native error is inspected exactly once, here.
func (c *OpenAIClient) classifyHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	msg := gjson.GetBytes(raw, "error.message").String()
	errType := gjson.GetBytes(raw, "error.type").String()
	errCode := gjson.GetBytes(raw, "error.code").String()

	if resp.StatusCode == http.StatusTooManyRequests ||
		errType == "rate_limit_error" || errCode == "rate_limit_exceeded" {
		return &RateLimitError{Provider: providerOpenAI, Message: msg}
	}

	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return &UpstreamError{
		Provider: providerOpenAI,
		Err:      fmt.Errorf("status %d: %s", resp.StatusCode, msg),
	}
}

// toolCallAccumulator assembles a tool call from streamed deltas.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (c *OpenAIClient) consumeStream(body io.Reader, emit func(Event)) (Message, error) {
	var (
		text      strings.Builder
		toolCalls []*toolCallAccumulator
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		// Mid-stream error frames (some providers send these instead of
		// closing with a status code).
		if errMsg := gjson.Get(data, "error.message"); errMsg.Exists() {
			errType := gjson.Get(data, "error.type").String()
			if errType == "rate_limit_error" || gjson.Get(data, "error.code").String() == "rate_limit_exceeded" {
				return Message{}, &RateLimitError{Provider: providerOpenAI, Message: errMsg.String()}
			}
			return Message{}, &UpstreamError{Provider: providerOpenAI, Err: fmt.Errorf("%s", errMsg.String())}
		}

		if delta := gjson.Get(data, "choices.0.delta.content"); delta.Exists() && delta.String() != "" {
			text.WriteString(delta.String())
			emit(ContentDelta{Text: delta.String()})
		}

		if calls := gjson.Get(data, "choices.0.delta.tool_calls"); calls.Exists() {
			for _, tc := range calls.Array() {
				idx := int(tc.Get("index").Int())
				for idx >= len(toolCalls) {
					toolCalls = append(toolCalls, &toolCallAccumulator{})
				}
				acc := toolCalls[idx]
				if id := tc.Get("id").String(); id != "" {
					acc.id = id
				}
				if name := tc.Get("function.name").String(); name != "" {
					acc.name = name
				}
				acc.args.WriteString(tc.Get("function.arguments").String())
			}
		}

		// Usage arrives on the final chunk when include_usage is set.
		// Counters are cumulative: the last report wins.
		if usage := gjson.Get(data, "usage"); usage.Exists() && usage.IsObject() {
			emit(UsageReported{Usage: Usage{
				InputTokens:  int(usage.Get("prompt_tokens").Int()),
				OutputTokens: int(usage.Get("completion_tokens").Int()),
				TotalTokens:  int(usage.Get("total_tokens").Int()),
			}})
		}
	}
	if err := scanner.Err(); err != nil {
		return Message{}, &UpstreamError{Provider: providerOpenAI, Err: err}
	}

	msg := Message{Role: RoleAssistant, Content: text.String()}
	for _, acc := range toolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: acc.args.String(),
		})
	}
	return msg, nil
}

// Healthcheck verifies the endpoint is reachable. Used at startup only.
func (c *OpenAIClient) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("model endpoint unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
