// Package chat drives one conversational turn end to end: context assembly,
// the model/tool event loop, live fragment relay, and completion bookkeeping.
//
// DESIGN: The orchestrator is the error boundary. Nothing below it may
// terminate the caller's stream abnormally: every failure path ends in one
// user-facing fragment followed by a clean close. History is committed
// atomically at completion; an aborted turn persists nothing.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shayan1083/rbchat-backend/internal/config"
	"github.com/shayan1083/rbchat-backend/internal/history"
	"github.com/shayan1083/rbchat-backend/internal/llm"
	"github.com/shayan1083/rbchat-backend/internal/prompts"
	"github.com/shayan1083/rbchat-backend/internal/usagelog"
)

// User-facing fragments for failed turns. The rate-limit wording is
// distinguishable from the generic one so callers can choose to back off.
const (
	RateLimitFragment = "The assistant is handling too many requests right now. Please wait a moment and try again."
	GenericFragment   = "Something went wrong while answering your question. Please try again later."
)

// AgentRunner produces the event stream for one turn.
type AgentRunner interface {
	Run(ctx context.Context, req llm.ChatRequest) <-chan llm.Event
}

// SchemaSource supplies live schema context and a reachability check for the
// tool host.
type SchemaSource interface {
	Health(ctx context.Context) error
	DescribeTables(ctx context.Context, db string) (string, error)
}

// UsageRecorder records one usage-log entry per completed turn.
type UsageRecorder interface {
	Record(ctx context.Context, e usagelog.Entry)
}

// FileContext is the session's uploaded file supplied as extra prompt
// context.
type FileContext struct {
	Name    string
	Content string
}

// TurnRequest is one prompt-in, streamed-answer-out exchange.
type TurnRequest struct {
	Prompt    string
	SessionID string
	Database  string
	File      *FileContext
}

// Orchestrator executes turns.
type Orchestrator struct {
	agent       AgentRunner
	schema      SchemaSource
	history     history.Store
	usage       UsageRecorder
	model       string
	memoryLimit int
}

// New creates an orchestrator.
func New(agent AgentRunner, schema SchemaSource, hist history.Store, usage UsageRecorder, model string, memoryLimit int) *Orchestrator {
	if memoryLimit <= 0 {
		memoryLimit = config.DefaultMemoryLimit
	}
	return &Orchestrator{
		agent:       agent,
		schema:      schema,
		history:     hist,
		usage:       usage,
		model:       model,
		memoryLimit: memoryLimit,
	}
}

// Stream executes one turn, invoking send for each outgoing fragment in
// production order. It never panics past its boundary and never returns an
// error to the transport: failures surface as a single error fragment. When
// send itself fails the client is gone; the turn aborts without committing.
func (o *Orchestrator) Stream(ctx context.Context, req TurnRequest, send func(fragment string) error) {
	start := time.Now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = config.DefaultSessionID
	}

	logger := log.With().Str("session_id", sessionID).Logger()

	working, system, err := o.setup(ctx, req, sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("turn setup failed")
		o.sendFailure(send, err)
		return
	}

	var (
		fragments strings.Builder
		lastUsage *llm.Usage
		lastTool  string
		turnErr   error
		sendErr   error
	)

	events := o.agent.Run(ctx, llm.ChatRequest{
		Model:    o.model,
		System:   system,
		Messages: working,
	})

	for ev := range events {
		switch e := ev.(type) {
		case llm.ContentDelta:
			fragments.WriteString(e.Text)
			if sendErr == nil {
				sendErr = send(e.Text)
			}
		case llm.ToolStarted:
			lastTool = e.Name
			logger.Info().Str("tool", e.Name).Msg("tool started")
		case llm.ToolFinished:
			logger.Info().Str("tool", e.Name).Int("output_len", len(e.Output)).Msg("tool finished")
		case llm.UsageReported:
			u := e.Usage
			lastUsage = &u
		case llm.StreamEnded:
			turnErr = e.Err
		}
	}

	if turnErr != nil {
		logger.Error().Err(turnErr).Msg("turn failed mid-stream")
		o.sendFailure(send, turnErr)
		return
	}
	if sendErr != nil {
		// Client disconnected mid-stream. Nothing is committed: the user
		// never saw the complete answer.
		logger.Warn().Err(sendErr).Msg("client gone before completion, discarding turn")
		return
	}

	o.complete(ctx, logger, sessionID, req.Prompt, fragments.String(), lastUsage, lastTool, time.Since(start))
}

// setup ensures storage exists, verifies the tool host, and builds the
// working message list and system instruction.
func (o *Orchestrator) setup(ctx context.Context, req TurnRequest, sessionID string) ([]llm.Message, string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, "", &llm.ValidationError{Message: "empty prompt"}
	}
	if err := o.history.EnsureSchema(ctx); err != nil {
		return nil, "", &llm.PersistenceError{Op: "ensure schema", Err: err}
	}
	if err := o.schema.Health(ctx); err != nil {
		return nil, "", err
	}

	prior, err := o.history.Recent(ctx, sessionID, o.memoryLimit)
	if err != nil {
		return nil, "", &llm.PersistenceError{Op: "load history", Err: err}
	}

	working := make([]llm.Message, 0, len(prior)+1)
	for _, m := range prior {
		working = append(working, llm.Message{Role: m.Role, Content: m.Content})
	}
	working = append(working, llm.Message{Role: llm.RoleUser, Content: req.Prompt})

	schemaContext, err := o.schema.DescribeTables(ctx, req.Database)
	if err != nil {
		return nil, "", err
	}

	var fileName, fileContent string
	if req.File != nil {
		fileName = req.File.Name
		fileContent = req.File.Content
	}
	system := prompts.Assemble(schemaContext, fileName, fileContent)

	return working, system, nil
}

// complete commits history and records usage. Both writes are best-effort
// and independent: a failed history append still records usage, and neither
// failure reaches the caller's stream.
func (o *Orchestrator) complete(ctx context.Context, logger zerolog.Logger, sessionID, prompt, response string, usage *llm.Usage, lastTool string, elapsed time.Duration) {
	err := o.history.Append(ctx, sessionID,
		history.Message{Role: llm.RoleUser, Content: prompt},
		history.Message{Role: llm.RoleAssistant, Content: response},
	)
	if err != nil {
		logger.Error().Err(err).Msg("history append failed, answer already delivered")
	}

	entry := usagelog.Entry{
		ModelName: o.model,
		Prompt:    prompt,
		Response:  response,
		ToolName:  lastTool,
		ElapsedMs: elapsed.Milliseconds(),
	}
	if usage != nil {
		in, out, total := usage.InputTokens, usage.OutputTokens, usage.TotalTokens
		entry.InputTokens, entry.OutputTokens, entry.TotalTokens = &in, &out, &total
	}
	o.usage.Record(ctx, entry)
}

// sendFailure forwards exactly one user-facing fragment describing the
// failure, distinguishing upstream rate limiting from everything else.
func (o *Orchestrator) sendFailure(send func(string) error, err error) {
	msg := GenericFragment
	if llm.IsRateLimit(err) {
		msg = RateLimitFragment
	}
	_ = send(msg)
}
