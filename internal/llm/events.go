// Package llm provides the model-provider boundary: chat message types, a
// streaming OpenAI-compatible client, the tool-calling agent loop, and the
// typed error taxonomy surfaced to the orchestrator.
//
// DESIGN: The agent loop emits a single tagged-union event stream. The
// orchestrator consumes it with one exhaustive switch in one loop; there are
// no string-keyed event names anywhere above this package.
package llm

// Event is one item of the agent event stream.
//
// Variants: ContentDelta, ToolStarted, ToolFinished, UsageReported,
// StreamEnded. StreamEnded is always the last event on a stream.
type Event interface {
	isEvent()
}

// ContentDelta carries one text fragment of the assistant's answer, in
// arrival order.
type ContentDelta struct {
	Text string
}

// ToolStarted signals that the loop is about to execute a tool.
type ToolStarted struct {
	Name  string
	Input string
}

// ToolFinished carries a tool's output after execution.
type ToolFinished struct {
	Name   string
	Output string
}

// UsageReported carries cumulative token counters as reported by the
// provider. Later reports supersede earlier ones; counters are never summed
// across reports.
type UsageReported struct {
	Usage Usage
}

// StreamEnded terminates the stream. Err is nil on graceful completion.
type StreamEnded struct {
	Err error
}

func (ContentDelta) isEvent()  {}
func (ToolStarted) isEvent()   {}
func (ToolFinished) isEvent()  {}
func (UsageReported) isEvent() {}
func (StreamEnded) isEvent()   {}

// Usage holds the provider-reported token counters for a turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
