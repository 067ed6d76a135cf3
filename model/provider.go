package model

import (
	"context"
	"iter"
)

// ProviderAdapter translates between polychat's provider-agnostic types and one
// vendor dialect (OpenAI-style, Google-style, Anthropic/Vertex-style, Ollama).
//
// This interface is defined in the model package (not the provider package) to
// avoid import cycles: provider implementations import model and tools, and
// the chat layer only ever depends on this contract.
type ProviderAdapter interface {
	// Vendor returns the dialect this adapter speaks.
	Vendor() Vendor

	// BuildRequest maps history and config to a vendor request: role
	// vocabulary, attachment embedding, system prompt placement and the
	// enabled tool schemas.
	BuildRequest(history []Message, cfg GenerationConfig) (Request, error)

	// StreamResponse performs the request and yields normalized events until
	// the vendor signals completion. The sequence is single-use. Tool calls are
	// only ever yielded fully assembled.
	StreamResponse(ctx context.Context, req Request) iter.Seq2[StreamEvent, error]

	// NonStreamingResponse performs the request without incremental delivery
	// and folds the whole answer into one event.
	NonStreamingResponse(ctx context.Context, req Request) (StreamEvent, error)
}

// Request is an opaque vendor request produced by BuildRequest. Only the
// adapter that built it can execute it.
type Request interface {
	Vendor() Vendor
}

// StreamEvent is the normalized unit emitted by an adapter: either a text
// delta or a completed set of tool calls.
type StreamEvent struct {
	Content   string
	ToolCalls []ToolCall
}

// IsEmpty reports whether the event carries nothing.
func (e StreamEvent) IsEmpty() bool {
	return e.Content == "" && len(e.ToolCalls) == 0
}
