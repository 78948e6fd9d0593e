package chat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shayan1083/rbchat-backend/internal/history"
	"github.com/shayan1083/rbchat-backend/internal/llm"
	"github.com/shayan1083/rbchat-backend/internal/usagelog"
)

// fakeAgent replays a scripted event sequence.
type fakeAgent struct {
	events []llm.Event
	gotReq llm.ChatRequest
}

func (f *fakeAgent) Run(ctx context.Context, req llm.ChatRequest) <-chan llm.Event {
	f.gotReq = req
	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			ch <- ev
		}
	}()
	return ch
}

type fakeSchema struct {
	healthErr error
	desc      string
	descErr   error
}

func (f *fakeSchema) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeSchema) DescribeTables(ctx context.Context, db string) (string, error) {
	return f.desc, f.descErr
}

type capturedUsage struct {
	entries []usagelog.Entry
}

func (c *capturedUsage) Record(ctx context.Context, e usagelog.Entry) {
	c.entries = append(c.entries, e)
}

func openHistory(t *testing.T) *history.SQLiteStore {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collectFragments() (*[]string, func(string) error) {
	var got []string
	return &got, func(s string) error {
		got = append(got, s)
		return nil
	}
}

func TestStream_NormalCompletion(t *testing.T) {
	// Scenario: fragments ["Hel","lo"] commit history "Hello" and a usage
	// row carrying the last-seen counters.
	agent := &fakeAgent{events: []llm.Event{
		llm.ContentDelta{Text: "Hel"},
		llm.ContentDelta{Text: "lo"},
		llm.UsageReported{Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		llm.StreamEnded{},
	}}
	hist := openHistory(t)
	usage := &capturedUsage{}
	o := New(agent, &fakeSchema{desc: "items(id, brand)"}, hist, usage, "gpt-4o", 10)

	got, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "list brands", SessionID: "s1"}, send)

	assert.Equal(t, []string{"Hel", "lo"}, *got)

	msgs, err := hist.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "list brands", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)

	require.Len(t, usage.entries, 1)
	e := usage.entries[0]
	assert.Equal(t, "gpt-4o", e.ModelName)
	assert.Equal(t, "Hello", e.Response)
	require.NotNil(t, e.TotalTokens)
	assert.Equal(t, 15, *e.TotalTokens)
}

func TestStream_LastUsageReportWins(t *testing.T) {
	agent := &fakeAgent{events: []llm.Event{
		llm.ContentDelta{Text: "hi"},
		llm.UsageReported{Usage: llm.Usage{InputTokens: 5, OutputTokens: 1, TotalTokens: 6}},
		llm.UsageReported{Usage: llm.Usage{InputTokens: 20, OutputTokens: 9, TotalTokens: 29}},
		llm.StreamEnded{},
	}}
	usage := &capturedUsage{}
	o := New(agent, &fakeSchema{}, openHistory(t), usage, "gpt-4o", 10)

	_, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "p"}, send)

	require.Len(t, usage.entries, 1)
	require.NotNil(t, usage.entries[0].TotalTokens)
	assert.Equal(t, 29, *usage.entries[0].TotalTokens, "counters are taken from the last report, not summed")
}

func TestStream_RateLimitMidStream(t *testing.T) {
	// A rate-limit shaped failure yields exactly one distinguishable
	// fragment and commits nothing.
	agent := &fakeAgent{events: []llm.Event{
		llm.StreamEnded{Err: &llm.RateLimitError{Provider: "openai", Message: "tokens exhausted"}},
	}}
	hist := openHistory(t)
	usage := &capturedUsage{}
	o := New(agent, &fakeSchema{}, hist, usage, "gpt-4o", 10)

	got, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "p", SessionID: "s1"}, send)

	require.Len(t, *got, 1)
	assert.Equal(t, RateLimitFragment, (*got)[0])

	msgs, err := hist.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "no partial history on failure")
	assert.Empty(t, usage.entries)
}

func TestStream_GenericFailure(t *testing.T) {
	agent := &fakeAgent{events: []llm.Event{
		llm.ContentDelta{Text: "partial"},
		llm.StreamEnded{Err: &llm.UpstreamError{Provider: "openai", Err: errors.New("connection reset")}},
	}}
	hist := openHistory(t)
	o := New(agent, &fakeSchema{}, hist, &capturedUsage{}, "gpt-4o", 10)

	got, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "p", SessionID: "s1"}, send)

	require.NotEmpty(t, *got)
	assert.Equal(t, GenericFragment, (*got)[len(*got)-1])

	msgs, err := hist.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStream_EmptyPromptRejected(t *testing.T) {
	agent := &fakeAgent{}
	hist := openHistory(t)
	o := New(agent, &fakeSchema{}, hist, &capturedUsage{}, "gpt-4o", 10)

	got, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "   ", SessionID: "s1"}, send)

	require.Len(t, *got, 1)
	assert.Equal(t, GenericFragment, (*got)[0])
	assert.Empty(t, agent.gotReq.Messages, "agent never invoked")

	require.NoError(t, hist.EnsureSchema(context.Background()))
	msgs, err := hist.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStream_ToolHostDownAbortsBeforeModel(t *testing.T) {
	agent := &fakeAgent{}
	o := New(agent, &fakeSchema{healthErr: errors.New("refused")}, openHistory(t), &capturedUsage{}, "gpt-4o", 10)

	got, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "p"}, send)

	require.Len(t, *got, 1)
	assert.Equal(t, GenericFragment, (*got)[0])
	assert.Empty(t, agent.gotReq.Messages, "agent never invoked")
}

func TestStream_HistoryAndFileFlowIntoRequest(t *testing.T) {
	hist := openHistory(t)
	ctx := context.Background()
	require.NoError(t, hist.EnsureSchema(ctx))
	require.NoError(t, hist.Append(ctx, "s1",
		history.Message{Role: "user", Content: "earlier question"},
		history.Message{Role: "assistant", Content: "earlier answer"},
	))

	agent := &fakeAgent{events: []llm.Event{llm.ContentDelta{Text: "ok"}, llm.StreamEnded{}}}
	o := New(agent, &fakeSchema{desc: "items(id)"}, hist, &capturedUsage{}, "gpt-4o", 10)

	_, send := collectFragments()
	o.Stream(ctx, TurnRequest{
		Prompt:    "and now?",
		SessionID: "s1",
		File:      &FileContext{Name: "notes.txt", Content: "remember the 42"},
	}, send)

	require.Len(t, agent.gotReq.Messages, 3)
	assert.Equal(t, "earlier question", agent.gotReq.Messages[0].Content)
	assert.Equal(t, "and now?", agent.gotReq.Messages[2].Content)
	assert.Contains(t, agent.gotReq.System, "items(id)")
	assert.Contains(t, agent.gotReq.System, "remember the 42")
	assert.Contains(t, agent.gotReq.System, "notes.txt")
}

func TestStream_DefaultSessionID(t *testing.T) {
	agent := &fakeAgent{events: []llm.Event{llm.ContentDelta{Text: "hi"}, llm.StreamEnded{}}}
	hist := openHistory(t)
	o := New(agent, &fakeSchema{}, hist, &capturedUsage{}, "gpt-4o", 10)

	_, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "p"}, send)

	msgs, err := hist.Recent(context.Background(), "default", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestStream_ToolLifecycleNotForwarded(t *testing.T) {
	agent := &fakeAgent{events: []llm.Event{
		llm.ToolStarted{Name: "run_sql_query", Input: `{"query":"select 1"}`},
		llm.ToolFinished{Name: "run_sql_query", Output: "1"},
		llm.ContentDelta{Text: "The answer is 1."},
		llm.StreamEnded{},
	}}
	usage := &capturedUsage{}
	o := New(agent, &fakeSchema{}, openHistory(t), usage, "gpt-4o", 10)

	got, send := collectFragments()
	o.Stream(context.Background(), TurnRequest{Prompt: "p"}, send)

	assert.Equal(t, []string{"The answer is 1."}, *got, "tool events are logged, not forwarded")
	require.Len(t, usage.entries, 1)
	assert.Equal(t, "run_sql_query", usage.entries[0].ToolName)
}
