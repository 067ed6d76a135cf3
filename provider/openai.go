package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"

	"polychat/config"
	"polychat/model"
	"polychat/tools"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIAdapter speaks the OpenAI chat completions dialect. OpenRouter uses
// the same wire format, so it is served by this adapter with its own host.
//
// System prompts become a leading system message, images are sent as base64
// data URLs, PDFs and text files are pre-extracted, and tool-call arguments
// stream incrementally per call index.
type OpenAIAdapter struct {
	client  openai.Client
	vendor  model.Vendor
	catalog ToolCatalog
}

type openAIRequest struct {
	vendor model.Vendor
	params openai.ChatCompletionNewParams
}

func (r *openAIRequest) Vendor() model.Vendor { return r.vendor }

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible provider.
//
// Parameters:
//   - rec: provider record; Host defaults to the vendor's public endpoint
//   - catalog: source of tool schemas (may be nil when tools are never enabled)
//   - opts: extra SDK request options (tests use these to disable retries)
//
// Returns an error if the API key is missing.
func NewOpenAIAdapter(rec model.ProviderRecord, catalog ToolCatalog, opts ...option.RequestOption) (*OpenAIAdapter, error) {
	if rec.APIKey == "" {
		return nil, model.NewError(model.ErrAuth, string(rec.Vendor), fmt.Errorf("API key is required for provider %q", rec.ID))
	}
	host := rec.Host
	if host == "" {
		host = DefaultHost(rec.Vendor)
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(host),
		option.WithAPIKey(rec.APIKey),
	}
	if rec.Vendor == model.VendorOpenRouter {
		reqOpts = append(reqOpts,
			option.WithHeader("HTTP-Referer", "https://github.com/polychat/polychat"),
			option.WithHeader("X-Title", "polychat"),
		)
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIAdapter{
		client:  openai.NewClient(reqOpts...),
		vendor:  rec.Vendor,
		catalog: catalog,
	}, nil
}

// Vendor implements model.ProviderAdapter.
func (a *OpenAIAdapter) Vendor() model.Vendor { return a.vendor }

// BuildRequest implements model.ProviderAdapter.
func (a *OpenAIAdapter) BuildRequest(history []model.Message, cfg model.GenerationConfig) (model.Request, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if sys := systemText(cfg, history); sys != "" {
		msgs = append(msgs, openai.SystemMessage(sys))
	}

	for _, m := range prepareHistory(history) {
		switch m.Role {
		case model.RoleSystem:
			// folded into the leading system message
		case model.RoleUser:
			msgs = append(msgs, openAIUserMessage(m, cfg.ConversationID))
		case model.RoleAssistant:
			msg, err := openAIAssistantMessage(m)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		case model.RoleTool:
			msgs = append(msgs, openai.ToolMessage(toolResultText(m), m.ToolResult.CallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(cfg.Model),
		Messages: msgs,
	}
	if cfg.Temperature > 0 {
		params.Temperature = openai.Float(cfg.Temperature)
	}
	if cfg.TopP > 0 && cfg.TopP < 1 {
		params.TopP = openai.Float(cfg.TopP)
	}
	if cfg.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(cfg.FrequencyPenalty)
	}
	if cfg.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(cfg.PresencePenalty)
	}
	if cfg.MaxTokens > 0 {
		if a.vendor == model.VendorOpenRouter {
			params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
		}
	}
	if a.catalog != nil {
		params.Tools = tools.OpenAISchemas(a.catalog.Definitions(cfg.EnabledTools()))
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] %s request: model=%s messages=%d tools=%d", a.vendor, cfg.Model, len(msgs), len(params.Tools))
	}
	return &openAIRequest{vendor: a.vendor, params: params}, nil
}

func openAIUserMessage(m model.Message, conversationID string) openai.ChatCompletionMessageParamUnion {
	if len(m.Attachments) == 0 {
		return openai.UserMessage(m.Content)
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	if m.Content != "" {
		parts = append(parts, openai.TextContentPart(m.Content))
	}
	for _, att := range m.Attachments {
		if inlineImage(att) {
			url := fmt.Sprintf("data:%s;base64,%s", att.MIMEType, base64.StdEncoding.EncodeToString(att.Data))
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			continue
		}
		parts = append(parts, openai.TextContentPart(attachmentText(att, conversationID)))
	}
	return openai.UserMessage(parts)
}

// openAIAssistantMessage builds an assistant turn. Tool-call turns go through
// the response type's ToParam so the union shapes stay the SDK's concern.
func openAIAssistantMessage(m model.Message) (openai.ChatCompletionMessageParamUnion, error) {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Content), nil
	}

	type function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	type toolCall struct {
		ID       string   `json:"id"`
		Type     string   `json:"type"`
		Function function `json:"function"`
	}
	raw := struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		ToolCalls []toolCall `json:"tool_calls"`
	}{Role: "assistant", Content: m.Content}
	for _, c := range m.ToolCalls {
		raw.ToolCalls = append(raw.ToolCalls, toolCall{
			ID:       c.CallID,
			Type:     "function",
			Function: function{Name: string(c.Tool), Arguments: c.Arguments},
		})
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("encode assistant tool calls: %w", err)
	}
	var msg openai.ChatCompletionMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("decode assistant tool calls: %w", err)
	}
	return msg.ToParam(), nil
}

// StreamResponse implements model.ProviderAdapter.
func (a *OpenAIAdapter) StreamResponse(ctx context.Context, req model.Request) iter.Seq2[model.StreamEvent, error] {
	return func(yield func(model.StreamEvent, error) bool) {
		r, ok := req.(*openAIRequest)
		if !ok {
			yield(model.StreamEvent{}, wrongRequest(a.vendor, req))
			return
		}

		var err error
		ctx, span := startSpan(ctx, "provider.openai.stream", a.vendor, string(r.params.Model), true, len(r.params.Tools))
		defer func() { endSpan(span, err) }()

		stream := a.client.Chat.Completions.NewStreaming(ctx, r.params)
		defer stream.Close()

		var asm toolCallAssembler
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			for _, tc := range delta.ToolCalls {
				asm.add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if delta.Content != "" {
				if !yield(model.StreamEvent{Content: delta.Content}, nil) {
					return
				}
			}
		}
		if err = stream.Err(); err != nil {
			err = translateError(a.vendor, err)
			yield(model.StreamEvent{}, err)
			return
		}

		if asm.pending() {
			var calls []model.ToolCall
			calls, err = asm.flush()
			if err != nil {
				err = protocolError(a.vendor, err)
				yield(model.StreamEvent{}, err)
				return
			}
			yield(model.StreamEvent{ToolCalls: calls}, nil)
		}
	}
}

// NonStreamingResponse implements model.ProviderAdapter.
func (a *OpenAIAdapter) NonStreamingResponse(ctx context.Context, req model.Request) (ev model.StreamEvent, err error) {
	r, ok := req.(*openAIRequest)
	if !ok {
		return model.StreamEvent{}, wrongRequest(a.vendor, req)
	}

	ctx, span := startSpan(ctx, "provider.openai.generate", a.vendor, string(r.params.Model), false, len(r.params.Tools))
	defer func() { endSpan(span, err) }()

	resp, err := a.client.Chat.Completions.New(ctx, r.params)
	if err != nil {
		return model.StreamEvent{}, translateError(a.vendor, err)
	}
	if len(resp.Choices) == 0 {
		return model.StreamEvent{}, protocolError(a.vendor, fmt.Errorf("response has no choices"))
	}

	msg := resp.Choices[0].Message
	ev.Content = msg.Content

	var asm toolCallAssembler
	for i, tc := range msg.ToolCalls {
		asm.add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
	}
	if asm.pending() {
		if ev.ToolCalls, err = asm.flush(); err != nil {
			return model.StreamEvent{}, protocolError(a.vendor, err)
		}
	}
	return ev, nil
}
