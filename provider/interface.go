// Package provider implements the vendor dialects behind model.ProviderAdapter.
//
// polychat talks to several LLM vendor families whose chat protocols differ
// in how multi-part content is embedded, where the system prompt goes, whether
// tool-call arguments stream incrementally, and how requests are
// authenticated. Each dialect lives in its own adapter so the chat layer never
// branches on vendor.
//
// # Dialects
//
//   - OpenAIAdapter: OpenAI chat completions over SSE (also OpenRouter)
//   - GoogleAdapter: Gemini content parts via google.golang.org/genai
//   - AnthropicAdapter: Anthropic messages over SSE (also Claude on Vertex)
//   - OllamaAdapter: local Ollama chat API
//
// # Architecture
//
//   - model.ProviderAdapter defines the contract (model/provider.go)
//   - NewAdapter is the only place that switches on model.Vendor
//   - toolCallAssembler buffers incrementally streamed tool arguments
//   - translateError maps SDK errors onto the model error taxonomy
//
// # Usage
//
//	adapter, err := provider.NewAdapter(record, registry)
//	if err != nil {
//	    // handle error
//	}
//	req, err := adapter.BuildRequest(history, cfg)
//	for ev, err := range adapter.StreamResponse(ctx, req) {
//	    // ev.Content or ev.ToolCalls
//	}
package provider

import (
	"fmt"

	"polychat/model"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ToolCatalog supplies canonical schemas for the enabled tools.
// *tools.Registry satisfies it.
type ToolCatalog interface {
	Definitions(enabled []model.ToolName) []mcptypes.Tool
}

// NewAdapter creates the adapter for a provider record.
//
// This is the centralized factory for every dialect. OpenRouter speaks the
// OpenAI protocol and Vertex hosts the Anthropic one, so both map onto those
// adapters with their own host.
//
// Returns an error if:
//   - The vendor is unknown
//   - The dialect requires an API key and none is set
//   - The provider-specific constructor fails (e.g., invalid URL)
//
// Example:
//
//	rec := model.ProviderRecord{
//	    ID:     "openai",
//	    Vendor: model.VendorOpenAI,
//	    APIKey: "sk-...",
//	}
//	adapter, err := provider.NewAdapter(rec, registry)
func NewAdapter(rec model.ProviderRecord, catalog ToolCatalog) (model.ProviderAdapter, error) {
	switch rec.Vendor {
	case model.VendorOpenAI, model.VendorOpenRouter:
		return NewOpenAIAdapter(rec, catalog)
	case model.VendorAnthropic, model.VendorVertex:
		return NewAnthropicAdapter(rec, catalog)
	case model.VendorGoogle:
		return NewGoogleAdapter(rec, catalog)
	case model.VendorOllama:
		return NewOllamaAdapter(rec, catalog)
	default:
		return nil, fmt.Errorf("unknown provider vendor %q for provider %q", rec.Vendor, rec.ID)
	}
}

// DefaultHost returns the API base URL used when a record leaves Host empty.
func DefaultHost(v model.Vendor) string {
	switch v {
	case model.VendorOpenAI:
		return "https://api.openai.com/v1"
	case model.VendorOpenRouter:
		return "https://openrouter.ai/api/v1"
	case model.VendorAnthropic:
		return "https://api.anthropic.com"
	case model.VendorGoogle:
		return "https://generativelanguage.googleapis.com"
	case model.VendorOllama:
		return "http://localhost:11434"
	default:
		return ""
	}
}

// wrongRequest reports a request handed to an adapter that did not build it.
func wrongRequest(v model.Vendor, req model.Request) error {
	got := model.Vendor("<nil>")
	if req != nil {
		got = req.Vendor()
	}
	return model.NewError(model.ErrProtocol, string(v), fmt.Errorf("request built for %s", got))
}
