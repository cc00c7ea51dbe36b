package llm

import "context"

// StreamChunk is one incremental piece of a streaming completion.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
	Done      bool
	Error     error
}

// StreamingProvider is implemented by providers that support incremental
// responses. Streaming bypasses tool-call extraction: callers receive the raw
// chunk sequence and are responsible for any further interpretation.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}
