package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"polychat/config"
	"polychat/model"
	"polychat/tools"

	"google.golang.org/genai"
)

const (
	geminiUser  = "user"
	geminiModel = "model"
)

// GoogleAdapter speaks Gemini's content-part dialect.
//
// The system prompt travels in SystemInstruction, the assistant role is
// "model", images, PDFs and audio are inline blobs, and function calls arrive
// whole rather than as argument fragments.
type GoogleAdapter struct {
	client  *genai.Client
	catalog ToolCatalog
}

type googleRequest struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (r *googleRequest) Vendor() model.Vendor { return model.VendorGoogle }

// NewGoogleAdapter creates a Gemini API adapter.
func NewGoogleAdapter(rec model.ProviderRecord, catalog ToolCatalog) (*GoogleAdapter, error) {
	return newGoogleAdapter(rec, catalog, nil)
}

// newGoogleAdapter allows a custom HTTP client; nil uses the SDK default.
func newGoogleAdapter(rec model.ProviderRecord, catalog ToolCatalog, httpClient *http.Client) (*GoogleAdapter, error) {
	if rec.APIKey == "" {
		return nil, model.NewError(model.ErrAuth, string(rec.Vendor), fmt.Errorf("API key is required for provider %q", rec.ID))
	}

	cc := &genai.ClientConfig{
		APIKey:     rec.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if rec.Host != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: rec.Host}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GoogleAdapter{client: client, catalog: catalog}, nil
}

// Vendor implements model.ProviderAdapter.
func (a *GoogleAdapter) Vendor() model.Vendor { return model.VendorGoogle }

// BuildRequest implements model.ProviderAdapter.
func (a *GoogleAdapter) BuildRequest(history []model.Message, cfg model.GenerationConfig) (model.Request, error) {
	var contents []*genai.Content

	push := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range prepareHistory(history) {
		switch m.Role {
		case model.RoleUser:
			push(geminiUser, googleUserParts(m, cfg.ConversationID)...)
		case model.RoleAssistant:
			var parts []*genai.Part
			if strings.TrimSpace(m.Content) != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, c := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
					return nil, fmt.Errorf("tool call %s arguments: %w", c.CallID, err)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: c.CallID, Name: string(c.Tool), Args: args}})
			}
			push(geminiModel, parts...)
		case model.RoleTool:
			push(geminiUser, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolResult.CallID,
				Name:     string(m.ToolResult.Tool),
				Response: map[string]any{"output": toolResultText(m)},
			}})
		}
	}

	gc := &genai.GenerateContentConfig{}
	if sys := systemText(cfg, history); sys != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sys}}}
	}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	}
	if cfg.TopP > 0 && cfg.TopP < 1 {
		gc.TopP = genai.Ptr(float32(cfg.TopP))
	}
	if cfg.FrequencyPenalty != 0 {
		gc.FrequencyPenalty = genai.Ptr(float32(cfg.FrequencyPenalty))
	}
	if cfg.PresencePenalty != 0 {
		gc.PresencePenalty = genai.Ptr(float32(cfg.PresencePenalty))
	}
	if cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if a.catalog != nil {
		gc.Tools = tools.GeminiSchemas(a.catalog.Definitions(cfg.EnabledTools()))
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] google request: model=%s contents=%d tools=%d", cfg.Model, len(contents), len(gc.Tools))
	}
	return &googleRequest{model: cfg.Model, contents: contents, config: gc}, nil
}

func googleUserParts(m model.Message, conversationID string) []*genai.Part {
	var parts []*genai.Part
	if m.Content != "" {
		parts = append(parts, &genai.Part{Text: m.Content})
	}
	for _, att := range m.Attachments {
		switch k := att.Kind(); {
		case len(att.Data) > 0 && (k == model.KindImage || k == model.KindPDF || k == model.KindAudio):
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: att.MIMEType, Data: att.Data}})
		default:
			parts = append(parts, &genai.Part{Text: attachmentText(att, conversationID)})
		}
	}
	if len(parts) == 0 {
		parts = append(parts, &genai.Part{Text: ""})
	}
	return parts
}

// googleEvent folds the first candidate of a response into an event. Function
// calls are returned separately so streaming can hold them until the end.
func googleEvent(resp *genai.GenerateContentResponse) (string, []model.ToolCall, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, nil
	}

	var text strings.Builder
	var calls []model.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			b, err := json.Marshal(args)
			if err != nil {
				return "", nil, fmt.Errorf("encode function call %s: %w", part.FunctionCall.Name, err)
			}
			calls = append(calls, model.NewToolCall(part.FunctionCall.ID, model.ToolName(part.FunctionCall.Name), string(b)))
		case part.Thought:
			// reasoning summaries are not part of the answer
		case part.Text != "":
			text.WriteString(part.Text)
		}
	}
	return text.String(), calls, nil
}

// StreamResponse implements model.ProviderAdapter.
func (a *GoogleAdapter) StreamResponse(ctx context.Context, req model.Request) iter.Seq2[model.StreamEvent, error] {
	return func(yield func(model.StreamEvent, error) bool) {
		r, ok := req.(*googleRequest)
		if !ok {
			yield(model.StreamEvent{}, wrongRequest(model.VendorGoogle, req))
			return
		}

		var err error
		ctx, span := startSpan(ctx, "provider.google.stream", model.VendorGoogle, r.model, true, len(r.config.Tools))
		defer func() { endSpan(span, err) }()

		var calls []model.ToolCall
		for resp, rerr := range a.client.Models.GenerateContentStream(ctx, r.model, r.contents, r.config) {
			if rerr != nil {
				err = translateError(model.VendorGoogle, rerr)
				yield(model.StreamEvent{}, err)
				return
			}
			text, more, perr := googleEvent(resp)
			if perr != nil {
				err = protocolError(model.VendorGoogle, perr)
				yield(model.StreamEvent{}, err)
				return
			}
			calls = append(calls, more...)
			if text != "" && !yield(model.StreamEvent{Content: text}, nil) {
				return
			}
		}
		if len(calls) > 0 {
			yield(model.StreamEvent{ToolCalls: calls}, nil)
		}
	}
}

// NonStreamingResponse implements model.ProviderAdapter.
func (a *GoogleAdapter) NonStreamingResponse(ctx context.Context, req model.Request) (ev model.StreamEvent, err error) {
	r, ok := req.(*googleRequest)
	if !ok {
		return model.StreamEvent{}, wrongRequest(model.VendorGoogle, req)
	}

	ctx, span := startSpan(ctx, "provider.google.generate", model.VendorGoogle, r.model, false, len(r.config.Tools))
	defer func() { endSpan(span, err) }()

	resp, err := a.client.Models.GenerateContent(ctx, r.model, r.contents, r.config)
	if err != nil {
		return model.StreamEvent{}, translateError(model.VendorGoogle, err)
	}
	text, calls, err := googleEvent(resp)
	if err != nil {
		return model.StreamEvent{}, protocolError(model.VendorGoogle, err)
	}
	return model.StreamEvent{Content: text, ToolCalls: calls}, nil
}
