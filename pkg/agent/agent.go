package agent

import (
	"context"
	"iter"
	"slices"
)

// Agent is implemented by every agent served over A2A.
type Agent interface {
	// Name is the agent type tag reported in outputs.
	Name() string

	// Description is shown on the agent card.
	Description() string

	// Execute runs the agent to completion and returns its final output.
	Execute(ctx context.Context, input map[string]any, rc RunConfig) (*Output, error)

	// FormatStreamEvent converts a raw stream event into an Output.
	// It returns nil for events that should not be forwarded.
	FormatStreamEvent(ev Event) *Output

	// ExtractFinalOutput builds the final output from a state snapshot.
	ExtractFinalOutput(state map[string]any) *Output
}

// Streamer is implemented by agents that report progress while running.
type Streamer interface {
	// Stream runs the agent and yields raw events in order.
	Stream(ctx context.Context, input map[string]any, rc RunConfig) iter.Seq2[Event, error]

	// Snapshot returns the agent's state for the run identified by rc.
	Snapshot(ctx context.Context, rc RunConfig) (map[string]any, error)
}

// RunConfig carries request-scoped identifiers into an agent run.
type RunConfig struct {
	TaskID    string
	ContextID string
	User      string
	Metadata  map[string]any
}

// Event kinds.
const (
	EventChainStart = "on_chain_start"
	EventChainEnd   = "on_chain_end"
	EventLLMStream  = "on_llm_stream"
	EventToolStart  = "on_tool_start"
	EventToolEnd    = "on_tool_end"
	EventProgress   = "progress"
)

// completionNodes are the node names whose chain end finishes a run.
var completionNodes = []string{"__end__", "aggregate", "complete"}

// Event is one raw event yielded by Streamer.Stream.
type Event struct {
	// Kind is one of the Event* constants.
	Kind string

	// Name of the node, tool or step that produced the event.
	Name string

	Data     map[string]any
	Metadata map[string]any

	// Output is set by agents that emit already formatted progress.
	Output *Output
}

// IsCompletionEvent reports whether ev marks the end of a run even though
// no final Output was produced.
func IsCompletionEvent(ev Event) bool {
	return ev.Kind == EventChainEnd && slices.Contains(completionNodes, ev.Name)
}
