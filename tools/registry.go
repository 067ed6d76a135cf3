// Package tools holds the fixed tool catalog: one canonical schema per tool,
// its per-dialect conversions, and the executors that run tool calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"polychat/config"
	"polychat/model"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Result is what an executor produces for one call.
type Result struct {
	Text        string
	Attachments []model.Attachment
}

// Env is the per-call context handed to executors.
type Env struct {
	ConversationID string
	Attachments    AttachmentSource
}

// AttachmentSource resolves a file name against the attachments stored on a
// conversation. Implementations return an error matching model.ErrNotFound
// when the name is unknown.
type AttachmentSource interface {
	Attachment(ctx context.Context, conversationID, name string) (model.Attachment, error)
}

// Executor runs one tool call. Expected failures come back as Result text;
// a returned error aborts the tool batch.
type Executor func(ctx context.Context, arguments string, env Env) (Result, error)

// Tool is one catalog entry.
type Tool struct {
	Name        model.ToolName
	DisplayName string
	Icon        string
	Schema      mcptypes.Tool
	Execute     Executor
}

// Registry is the read-only tool catalog shared by every session.
type Registry struct {
	tools  map[model.ToolName]*Tool
	opts   Options
	client *http.Client
	images ImageGenerator
	speech Transcriber
}

// NewRegistry builds the catalog from opts. Missing options fall back to
// DefaultOptions values.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	r := &Registry{
		opts:   opts,
		client: client,
		images: opts.Images,
		speech: opts.Speech,
	}
	if r.images == nil && !opts.Image.Provider.IsZero() {
		r.images = NewOpenAIImages(opts.Image)
	}
	if r.speech == nil && !opts.SpeechToText.Provider.IsZero() {
		r.speech = NewOpenAITranscriber(opts.SpeechToText)
	}

	r.tools = map[model.ToolName]*Tool{
		model.ToolSearch: {
			Name:        model.ToolSearch,
			DisplayName: "Web Search",
			Icon:        "🔍",
			Schema:      searchSchema(),
			Execute:     r.search,
		},
		model.ToolURLScrape: {
			Name:        model.ToolURLScrape,
			DisplayName: "Read Web Pages",
			Icon:        "🌐",
			Schema:      scrapeSchema(),
			Execute:     r.scrape,
		},
		model.ToolImageGenerate: {
			Name:        model.ToolImageGenerate,
			DisplayName: "Image Generation",
			Icon:        "🎨",
			Schema:      imageSchema(),
			Execute:     r.generateImage,
		},
		model.ToolTranscribe: {
			Name:        model.ToolTranscribe,
			DisplayName: "Transcription",
			Icon:        "🎙",
			Schema:      fileSchema(model.ToolTranscribe, "Transcribe audio files attached to the conversation."),
			Execute:     r.transcribe,
		},
		model.ToolPDFReader: {
			Name:        model.ToolPDFReader,
			DisplayName: "PDF Reader",
			Icon:        "📄",
			Schema:      fileSchema(model.ToolPDFReader, "Extract the text of PDF files attached to the conversation."),
			Execute:     r.readPDF,
		},
		model.ToolFileReader: {
			Name:        model.ToolFileReader,
			DisplayName: "File Reader",
			Icon:        "📎",
			Schema:      fileSchema(model.ToolFileReader, "Read text or PDF files attached to the conversation."),
			Execute:     r.readFile,
		},
	}
	return r
}

// Lookup returns the catalog entry for name.
func (r *Registry) Lookup(name model.ToolName) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the canonical schemas of the enabled tools in catalog
// order. Unknown names are ignored.
func (r *Registry) Definitions(enabled []model.ToolName) []mcptypes.Tool {
	want := make(map[model.ToolName]bool, len(enabled))
	for _, n := range enabled {
		want[n] = true
	}

	var out []mcptypes.Tool
	for _, n := range model.AllTools() {
		if t, ok := r.tools[n]; ok && want[n] {
			out = append(out, t.Schema)
		}
	}
	return out
}

// Execute dispatches call to its executor. An unknown tool is reported back to
// the model as text.
func (r *Registry) Execute(ctx context.Context, call model.ToolCall, env Env) (Result, error) {
	t, ok := r.tools[call.Tool]
	if !ok {
		return Result{Text: fmt.Sprintf("Error: unknown tool %q", call.Tool)}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] Executing %s (call %s) args=%s", call.Tool, call.CallID, call.Arguments)
	}

	res, err := t.Execute(ctx, call.Arguments, env)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Tools] %s failed: %v", call.Tool, err)
		}
		return Result{}, err
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Tools] %s returned %d chars, %d attachments", call.Tool, len(res.Text), len(res.Attachments))
	}
	return res, nil
}

// decodeArgs unmarshals arguments into dst. Text that is not JSON at all is a
// validation error; shape problems are left to the caller.
func decodeArgs(tool model.ToolName, arguments string, dst any) error {
	if !json.Valid([]byte(arguments)) {
		return model.NewError(model.ErrValidation, string(tool), fmt.Errorf("arguments are not valid JSON: %q", arguments))
	}
	return json.Unmarshal([]byte(arguments), dst)
}

// argsFailure turns a decodeArgs error into the executor's return values:
// validation errors propagate, shape problems become text the model can react
// to.
func argsFailure(tool model.ToolName, err error) (Result, error) {
	if errors.Is(err, model.ErrValidation) {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("Error: invalid arguments for %s: %v", tool, err)}, nil
}
