// Package toolhost provides a client for the external tool-execution
// service: schema introspection, filtered item lookup, row counting, and
// read-only SQL execution against the configured databases.
package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/shayan1083/rbchat-backend/internal/llm"
)

// Client is the tool host API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// NewClient creates a tool host client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health verifies the tool host is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &llm.UpstreamError{Provider: "toolhost", Err: err}
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &llm.UpstreamError{Provider: "toolhost", Err: fmt.Errorf("health status %d", resp.StatusCode)}
	}
	return nil
}

// ListTools returns the operations the host exposes, with their JSON-schema
// parameter definitions, ready to advertise to the model.
func (c *Client) ListTools(ctx context.Context) ([]llm.ToolDef, error) {
	raw, err := c.get(ctx, "/tools")
	if err != nil {
		return nil, err
	}

	var defs []llm.ToolDef
	for _, tool := range gjson.GetBytes(raw, "tools").Array() {
		defs = append(defs, llm.ToolDef{
			Name:        tool.Get("name").String(),
			Description: tool.Get("description").String(),
			Parameters:  json.RawMessage(tool.Get("parameters").Raw),
		})
	}
	return defs, nil
}

// Call executes a named tool with raw JSON arguments and returns its text
// result. Implements llm.ToolCaller.
func (c *Client) Call(ctx context.Context, name, arguments string) (string, error) {
	if arguments == "" || !gjson.Valid(arguments) {
		arguments = "{}"
	}

	body, err := sjson.Set(`{}`, "name", name)
	if err != nil {
		return "", err
	}
	body, err = sjson.SetRaw(body, "arguments", arguments)
	if err != nil {
		return "", err
	}

	raw, err := c.post(ctx, "/tools/call", []byte(body))
	if err != nil {
		return "", err
	}

	if errMsg := gjson.GetBytes(raw, "error").String(); errMsg != "" {
		return "", &llm.UpstreamError{Provider: "toolhost", Err: fmt.Errorf("tool %s: %s", name, errMsg)}
	}
	return gjson.GetBytes(raw, "result").String(), nil
}

// DescribeTables returns a textual description of the tables in the given
// database, used to ground the system prompt. db may be empty for the
// default database.
func (c *Client) DescribeTables(ctx context.Context, db string) (string, error) {
	path := "/schema"
	if db != "" {
		path += "?db=" + db
	}
	raw, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(raw, "description").String(), nil
}

// DatabaseNames returns the databases the host can query.
func (c *Client) DatabaseNames(ctx context.Context) ([]string, error) {
	raw, err := c.get(ctx, "/databases")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, n := range gjson.GetBytes(raw, "databases").Array() {
		names = append(names, n.String())
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &llm.UpstreamError{Provider: "toolhost", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, &llm.UpstreamError{Provider: "toolhost", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &llm.UpstreamError{
			Provider: "toolhost",
			Err:      fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode),
		}
	}
	return raw, nil
}
