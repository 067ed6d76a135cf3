package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"polychat/config"
	"polychat/model"
	"polychat/tools"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicAdapter speaks the Anthropic messages dialect. Claude models hosted
// on Vertex are reached through the same adapter; the SDK's vertex middleware
// moves the model into the rawPredict path and sets anthropic_version.
//
// The system prompt is a dedicated request field, images are base64 blocks,
// tool results travel as tool_result blocks inside user turns, and tool
// arguments stream as input_json_delta fragments per content block.
type AnthropicAdapter struct {
	client  anthropic.Client
	vendor  model.Vendor
	catalog ToolCatalog
}

type anthropicRequest struct {
	vendor model.Vendor
	params anthropic.MessageNewParams
}

func (r *anthropicRequest) Vendor() model.Vendor { return r.vendor }

// NewAnthropicAdapter creates an adapter for Anthropic or Vertex.
//
// Parameters:
//   - rec: provider record; Vertex records must set Host to a URL naming the
//     project and location, and APIKey to an OAuth access token
//   - catalog: source of tool schemas
//   - opts: extra SDK request options
//
// Returns an error if the credentials or the Vertex host are missing.
func NewAnthropicAdapter(rec model.ProviderRecord, catalog ToolCatalog, opts ...option.RequestOption) (*AnthropicAdapter, error) {
	if rec.APIKey == "" {
		return nil, model.NewError(model.ErrAuth, string(rec.Vendor), fmt.Errorf("API key is required for provider %q", rec.ID))
	}

	var reqOpts []option.RequestOption
	switch rec.Vendor {
	case model.VendorVertex:
		endpoint, err := parseVertexHost(rec.Host)
		if err != nil {
			return nil, fmt.Errorf("vertex provider %q: %w", rec.ID, err)
		}
		creds := &google.Credentials{
			ProjectID:   endpoint.project,
			TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rec.APIKey, TokenType: "Bearer"}),
		}
		reqOpts = append(reqOpts,
			vertex.WithCredentials(context.Background(), endpoint.region, endpoint.project, creds),
			option.WithBaseURL(endpoint.origin),
		)
	default:
		host := rec.Host
		if host == "" {
			host = DefaultHost(model.VendorAnthropic)
		}
		reqOpts = append(reqOpts, option.WithBaseURL(host), option.WithAPIKey(rec.APIKey))
	}
	reqOpts = append(reqOpts, opts...)

	return &AnthropicAdapter{
		client:  anthropic.NewClient(reqOpts...),
		vendor:  rec.Vendor,
		catalog: catalog,
	}, nil
}

type vertexEndpoint struct {
	origin  string
	project string
	region  string
}

// parseVertexHost reads the project and location from a Vertex URL such as
// https://us-east5-aiplatform.googleapis.com/v1/projects/p/locations/us-east5.
// Anything after the location is ignored; the middleware builds the model path.
func parseVertexHost(host string) (vertexEndpoint, error) {
	if host == "" {
		return vertexEndpoint{}, fmt.Errorf("host is required")
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return vertexEndpoint{}, fmt.Errorf("invalid host %q", host)
	}

	ep := vertexEndpoint{origin: u.Scheme + "://" + u.Host + "/"}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "projects":
			ep.project = parts[i+1]
		case "locations":
			ep.region = parts[i+1]
		}
	}
	if ep.region == "" {
		if r, ok := strings.CutSuffix(u.Hostname(), "-aiplatform.googleapis.com"); ok {
			ep.region = r
		}
	}

	if ep.project == "" || ep.region == "" {
		return vertexEndpoint{}, fmt.Errorf("host %q must name the project and location (.../v1/projects/<project>/locations/<region>)", host)
	}
	return ep, nil
}

// Vendor implements model.ProviderAdapter.
func (a *AnthropicAdapter) Vendor() model.Vendor { return a.vendor }

// BuildRequest implements model.ProviderAdapter.
func (a *AnthropicAdapter) BuildRequest(history []model.Message, cfg model.GenerationConfig) (model.Request, error) {
	var msgs []anthropic.MessageParam

	// Anthropic rejects consecutive turns with the same role; tool results
	// following one assistant turn must share a single user turn.
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
			return
		}
		msgs = append(msgs, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range prepareHistory(history) {
		switch m.Role {
		case model.RoleUser:
			push(anthropic.MessageParamRoleUser, anthropicUserBlocks(m, cfg.ConversationID)...)
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(c.CallID, json.RawMessage(c.Arguments), string(c.Tool)))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		case model.RoleTool:
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolResult.CallID, toolResultText(m), false))
		}
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: maxTokens, // Required by Anthropic API
		Messages:  msgs,
	}
	if sys := systemText(cfg, history); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(min(cfg.Temperature, 1.0))
	}
	if a.catalog != nil {
		params.Tools = tools.AnthropicSchemas(a.catalog.Definitions(cfg.EnabledTools()))
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Provider] %s request: model=%s messages=%d tools=%d", a.vendor, cfg.Model, len(msgs), len(params.Tools))
	}
	return &anthropicRequest{vendor: a.vendor, params: params}, nil
}

func anthropicUserBlocks(m model.Message, conversationID string) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, att := range m.Attachments {
		if inlineImage(att) {
			blocks = append(blocks, anthropic.NewImageBlockBase64(att.MIMEType, base64.StdEncoding.EncodeToString(att.Data)))
			continue
		}
		blocks = append(blocks, anthropic.NewTextBlock(attachmentText(att, conversationID)))
	}
	if m.Content != "" || len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	return blocks
}

// StreamResponse implements model.ProviderAdapter.
func (a *AnthropicAdapter) StreamResponse(ctx context.Context, req model.Request) iter.Seq2[model.StreamEvent, error] {
	return func(yield func(model.StreamEvent, error) bool) {
		r, ok := req.(*anthropicRequest)
		if !ok {
			yield(model.StreamEvent{}, wrongRequest(a.vendor, req))
			return
		}

		var err error
		ctx, span := startSpan(ctx, "provider.anthropic.stream", a.vendor, string(r.params.Model), true, len(r.params.Tools))
		defer func() { endSpan(span, err) }()

		stream := a.client.Messages.NewStreaming(ctx, r.params)
		defer stream.Close()

		var asm toolCallAssembler
		var calls []model.ToolCall
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if ev.ContentBlock.Type == "tool_use" {
					asm.add(int(ev.Index), ev.ContentBlock.ID, ev.ContentBlock.Name, "")
				}
			case anthropic.ContentBlockDeltaEvent:
				switch ev.Delta.Type {
				case "text_delta":
					if ev.Delta.Text != "" && !yield(model.StreamEvent{Content: ev.Delta.Text}, nil) {
						return
					}
				case "input_json_delta":
					asm.add(int(ev.Index), "", "", ev.Delta.PartialJSON)
				}
			case anthropic.ContentBlockStopEvent:
				if !asm.has(int(ev.Index)) {
					continue
				}
				var call model.ToolCall
				if call, err = asm.finish(int(ev.Index)); err != nil {
					err = protocolError(a.vendor, err)
					yield(model.StreamEvent{}, err)
					return
				}
				calls = append(calls, call)
			}
		}
		if err = stream.Err(); err != nil {
			err = translateError(a.vendor, err)
			yield(model.StreamEvent{}, err)
			return
		}

		// Blocks left open by a truncated stream.
		if asm.pending() {
			var rest []model.ToolCall
			if rest, err = asm.flush(); err != nil {
				err = protocolError(a.vendor, err)
				yield(model.StreamEvent{}, err)
				return
			}
			calls = append(calls, rest...)
		}
		if len(calls) > 0 {
			yield(model.StreamEvent{ToolCalls: calls}, nil)
		}
	}
}

// NonStreamingResponse implements model.ProviderAdapter.
func (a *AnthropicAdapter) NonStreamingResponse(ctx context.Context, req model.Request) (ev model.StreamEvent, err error) {
	r, ok := req.(*anthropicRequest)
	if !ok {
		return model.StreamEvent{}, wrongRequest(a.vendor, req)
	}

	ctx, span := startSpan(ctx, "provider.anthropic.generate", a.vendor, string(r.params.Model), false, len(r.params.Tools))
	defer func() { endSpan(span, err) }()

	msg, err := a.client.Messages.New(ctx, r.params)
	if err != nil {
		return model.StreamEvent{}, translateError(a.vendor, err)
	}

	var text strings.Builder
	var asm toolCallAssembler
	for i, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			asm.add(i, block.ID, block.Name, string(block.Input))
		}
	}
	ev.Content = text.String()
	if asm.pending() {
		if ev.ToolCalls, err = asm.flush(); err != nil {
			return model.StreamEvent{}, protocolError(a.vendor, err)
		}
	}
	return ev, nil
}
