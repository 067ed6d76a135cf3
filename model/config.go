package model

import "maps"

// Vendor tags which dialect a provider speaks.
type Vendor string

const (
	VendorOpenAI     Vendor = "openai"
	VendorOpenRouter Vendor = "openrouter"
	VendorGoogle     Vendor = "google"
	VendorAnthropic  Vendor = "anthropic"
	VendorVertex     Vendor = "vertex"
	VendorOllama     Vendor = "ollama"
)

// ProviderRecord is the read-only provider entry handed to the core by the
// persistence layer.
type ProviderRecord struct {
	ID                string   `toml:"id" json:"id"`
	Name              string   `toml:"name" json:"name"`
	Host              string   `toml:"host" json:"host"`
	APIKey            string   `toml:"-" json:"-"`
	Vendor            Vendor   `toml:"vendor" json:"vendor"`
	EnabledModels     []string `toml:"enabled_models" json:"enabled_models,omitempty"`
	DefaultChatModel  string   `toml:"default_chat_model" json:"default_chat_model,omitempty"`
	DefaultImageModel string   `toml:"default_image_model" json:"default_image_model,omitempty"`
	DefaultSTTModel   string   `toml:"default_stt_model" json:"default_stt_model,omitempty"`
}

// IsZero reports whether no provider was selected.
func (p ProviderRecord) IsZero() bool {
	return p.ID == "" && p.Vendor == ""
}

// GenerationConfig is everything one turn needs besides the history. It is a
// value: callers fork it with the helpers below instead of mutating shared
// state.
type GenerationConfig struct {
	Provider         ProviderRecord
	Model            string
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
	SystemPrompt     string
	Stream           bool
	Tools            map[ToolName]bool

	// ConversationID is surfaced to the model next to attachments it cannot
	// read inline, so that file tools can be pointed at them.
	ConversationID string
}

// DefaultGenerationConfig returns the baseline configuration: streaming on,
// neutral sampling, every tool disabled.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature: 1.0,
		TopP:        1.0,
		MaxTokens:   4096,
		Stream:      true,
		Tools:       map[ToolName]bool{},
	}
}

// Clone returns a copy that shares no mutable state with c.
func (c GenerationConfig) Clone() GenerationConfig {
	out := c
	out.Tools = maps.Clone(c.Tools)
	if out.Tools == nil {
		out.Tools = map[ToolName]bool{}
	}
	out.Provider.EnabledModels = append([]string(nil), c.Provider.EnabledModels...)
	return out
}

// EnabledTools returns the enabled subset in catalog order.
func (c GenerationConfig) EnabledTools() []ToolName {
	var out []ToolName
	for _, t := range AllTools() {
		if c.Tools[t] {
			out = append(out, t)
		}
	}
	return out
}

// WithTools returns a copy whose enabled set is exactly tools.
func (c GenerationConfig) WithTools(tools ...ToolName) GenerationConfig {
	out := c.Clone()
	out.Tools = make(map[ToolName]bool, len(tools))
	for _, t := range tools {
		out.Tools[t] = true
	}
	return out
}

// ForTitle forks c for title generation: no tools, no streaming, a short
// budget, and the given model (the provider default when empty).
func (c GenerationConfig) ForTitle(model string) GenerationConfig {
	out := c.WithTools()
	out.Stream = false
	out.MaxTokens = 64
	out.SystemPrompt = "You write short conversation titles. Reply with at most six words and no punctuation at the end."
	out.Model = pickModel(model, c.Provider.DefaultChatModel, c.Model)
	return out
}

// ForQuickChat forks c for a one-off exchange that must not call tools.
func (c GenerationConfig) ForQuickChat(model string) GenerationConfig {
	out := c.WithTools()
	out.Model = pickModel(model, c.Model, c.Provider.DefaultChatModel)
	return out
}

func pickModel(candidates ...string) string {
	for _, m := range candidates {
		if m != "" {
			return m
		}
	}
	return ""
}
