package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ToolCaller executes a named tool against the tool host.
type ToolCaller interface {
	Call(ctx context.Context, name, arguments string) (string, error)
}

// Agent runs the model/tool loop for one conversational turn and exposes it
// as a flat event stream.
type Agent struct {
	client    StreamClient
	tools     ToolCaller
	defs      []ToolDef
	maxRounds int
}

// NewAgent wires a stream client to a tool caller. defs are the tools
// advertised to the model; maxRounds bounds model/tool round trips.
func NewAgent(client StreamClient, tools ToolCaller, defs []ToolDef, maxRounds int) *Agent {
	return &Agent{
		client:    client,
		tools:     tools,
		defs:      defs,
		maxRounds: maxRounds,
	}
}

// Run executes one turn. Events arrive on the returned channel in production
// order; the final event is always StreamEnded, after which the channel is
// closed. The channel is unbuffered so the consumer's pace backpressures the
// provider read.
func (a *Agent) Run(ctx context.Context, req ChatRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		err := a.run(ctx, req, events)
		select {
		case events <- StreamEnded{Err: err}:
		case <-ctx.Done():
		}
	}()
	return events
}

func (a *Agent) run(ctx context.Context, req ChatRequest, events chan<- Event) error {
	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	working := append([]Message(nil), req.Messages...)

	for round := 0; round < a.maxRounds; round++ {
		msg, err := a.client.StreamChat(ctx, ChatRequest{
			Model:    req.Model,
			System:   req.System,
			Messages: working,
			Tools:    a.defs,
		}, emit)
		if err != nil {
			return err
		}

		if len(msg.ToolCalls) == 0 {
			return nil
		}

		working = append(working, msg)
		for _, tc := range msg.ToolCalls {
			emit(ToolStarted{Name: tc.Name, Input: tc.Arguments})
			log.Info().Str("tool", tc.Name).Msg("tool started")

			output, err := a.tools.Call(ctx, tc.Name, tc.Arguments)
			if err != nil {
				// Feed the failure back to the model rather than aborting:
				// it can apologize or retry with different arguments.
				output = "tool error: " + err.Error()
				log.Warn().Err(err).Str("tool", tc.Name).Msg("tool failed")
			} else {
				log.Info().Str("tool", tc.Name).Int("output_len", len(output)).Msg("tool completed")
			}
			emit(ToolFinished{Name: tc.Name, Output: output})

			working = append(working, Message{
				Role:       RoleTool,
				Content:    output,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}

	return &UpstreamError{
		Provider: providerOpenAI,
		Err:      fmt.Errorf("tool loop exceeded %d rounds", a.maxRounds),
	}
}
