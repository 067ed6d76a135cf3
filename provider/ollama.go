package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"polychat/config"
	"polychat/model"
	"polychat/ollama"
	"polychat/tools"

	"github.com/ollama/ollama/api"
)

// OllamaAdapter speaks the local Ollama chat dialect.
//
// The system prompt is a leading system message, images are raw bytes on the
// message, tool calls arrive whole, and tools are only offered to model
// families known to support them.
type OllamaAdapter struct {
	client  *ollama.Client
	catalog ToolCatalog
}

type ollamaRequest struct {
	req *api.ChatRequest
}

func (r *ollamaRequest) Vendor() model.Vendor { return model.VendorOllama }

var errStopStream = errors.New("stream consumer stopped")

// NewOllamaAdapter creates an adapter for an Ollama server. No API key is
// needed.
func NewOllamaAdapter(rec model.ProviderRecord, catalog ToolCatalog) (*OllamaAdapter, error) {
	return newOllamaAdapter(rec, catalog, nil)
}

func newOllamaAdapter(rec model.ProviderRecord, catalog ToolCatalog, httpClient *http.Client) (*OllamaAdapter, error) {
	client, err := ollama.NewClient(rec.Host, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return &OllamaAdapter{client: client, catalog: catalog}, nil
}

// Vendor implements model.ProviderAdapter.
func (a *OllamaAdapter) Vendor() model.Vendor { return model.VendorOllama }

// BuildRequest implements model.ProviderAdapter.
func (a *OllamaAdapter) BuildRequest(history []model.Message, cfg model.GenerationConfig) (model.Request, error) {
	var msgs []api.Message
	if sys := systemText(cfg, history); sys != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}

	for _, m := range prepareHistory(history) {
		switch m.Role {
		case model.RoleUser:
			msg := api.Message{Role: "user", Content: m.Content}
			var notes []string
			for _, att := range m.Attachments {
				if inlineImage(att) {
					msg.Images = append(msg.Images, api.ImageData(att.Data))
					continue
				}
				notes = append(notes, attachmentText(att, cfg.ConversationID))
			}
			if len(notes) > 0 {
				msg.Content = strings.TrimSpace(msg.Content + "\n\n" + strings.Join(notes, "\n\n"))
			}
			msgs = append(msgs, msg)
		case model.RoleAssistant:
			msg := api.Message{Role: "assistant", Content: m.Content}
			for _, c := range m.ToolCalls {
				var args api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
					return nil, fmt.Errorf("tool call %s arguments: %w", c.CallID, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					Function: api.ToolCallFunction{Name: string(c.Tool), Arguments: args},
				})
			}
			msgs = append(msgs, msg)
		case model.RoleTool:
			msgs = append(msgs, api.Message{Role: "tool", Content: toolResultText(m)})
		}
	}

	options := map[string]any{}
	if cfg.Temperature > 0 {
		options["temperature"] = cfg.Temperature
	}
	if cfg.TopP > 0 && cfg.TopP < 1 {
		options["top_p"] = cfg.TopP
	}
	if cfg.FrequencyPenalty != 0 {
		options["frequency_penalty"] = cfg.FrequencyPenalty
	}
	if cfg.PresencePenalty != 0 {
		options["presence_penalty"] = cfg.PresencePenalty
	}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}

	req := &api.ChatRequest{
		Model:    cfg.Model,
		Messages: msgs,
		Options:  options,
	}

	enabled := cfg.EnabledTools()
	if a.catalog != nil && len(enabled) > 0 {
		if ollama.ModelSupportsToolCalling(cfg.Model) {
			req.Tools = tools.OllamaSchemas(a.catalog.Definitions(enabled))
		} else if config.DebugLog != nil {
			config.DebugLog.Printf("[Provider] ollama model %s has no tool support, sending without tools", cfg.Model)
		}
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] ollama request: model=%s messages=%d tools=%d", cfg.Model, len(msgs), len(req.Tools))
	}
	return &ollamaRequest{req: req}, nil
}

func ollamaToolCalls(calls []api.ToolCall) ([]model.ToolCall, error) {
	out := make([]model.ToolCall, 0, len(calls))
	for _, c := range calls {
		b, err := json.Marshal(c.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("encode tool call %s: %w", c.Function.Name, err)
		}
		args := string(b)
		if args == "null" {
			args = "{}"
		}
		out = append(out, model.NewToolCall("", model.ToolName(c.Function.Name), args))
	}
	return out, nil
}

// StreamResponse implements model.ProviderAdapter.
func (a *OllamaAdapter) StreamResponse(ctx context.Context, req model.Request) iter.Seq2[model.StreamEvent, error] {
	return func(yield func(model.StreamEvent, error) bool) {
		r, ok := req.(*ollamaRequest)
		if !ok {
			yield(model.StreamEvent{}, wrongRequest(model.VendorOllama, req))
			return
		}

		var err error
		ctx, span := startSpan(ctx, "provider.ollama.stream", model.VendorOllama, r.req.Model, true, len(r.req.Tools))
		defer func() { endSpan(span, err) }()

		chatReq := *r.req
		stream := true
		chatReq.Stream = &stream

		var calls []model.ToolCall
		err = a.client.Chat(ctx, &chatReq, func(resp api.ChatResponse) error {
			if len(resp.Message.ToolCalls) > 0 {
				more, cerr := ollamaToolCalls(resp.Message.ToolCalls)
				if cerr != nil {
					return protocolError(model.VendorOllama, cerr)
				}
				calls = append(calls, more...)
			}
			if resp.Message.Content != "" && !yield(model.StreamEvent{Content: resp.Message.Content}, nil) {
				return errStopStream
			}
			return nil
		})
		if errors.Is(err, errStopStream) {
			err = nil
			return
		}
		if err != nil {
			err = translateError(model.VendorOllama, err)
			yield(model.StreamEvent{}, err)
			return
		}
		if len(calls) > 0 {
			yield(model.StreamEvent{ToolCalls: calls}, nil)
		}
	}
}

// NonStreamingResponse implements model.ProviderAdapter.
func (a *OllamaAdapter) NonStreamingResponse(ctx context.Context, req model.Request) (ev model.StreamEvent, err error) {
	r, ok := req.(*ollamaRequest)
	if !ok {
		return model.StreamEvent{}, wrongRequest(model.VendorOllama, req)
	}

	ctx, span := startSpan(ctx, "provider.ollama.generate", model.VendorOllama, r.req.Model, false, len(r.req.Tools))
	defer func() { endSpan(span, err) }()

	chatReq := *r.req
	stream := false
	chatReq.Stream = &stream

	var text strings.Builder
	var raw []api.ToolCall
	err = a.client.Chat(ctx, &chatReq, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		raw = append(raw, resp.Message.ToolCalls...)
		return nil
	})
	if err != nil {
		return model.StreamEvent{}, translateError(model.VendorOllama, err)
	}

	ev.Content = text.String()
	if len(raw) > 0 {
		if ev.ToolCalls, err = ollamaToolCalls(raw); err != nil {
			return model.StreamEvent{}, protocolError(model.VendorOllama, err)
		}
	}
	return ev, nil
}
