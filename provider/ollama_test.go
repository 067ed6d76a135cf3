package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"polychat/model"
	"polychat/provider/testutil"
	"polychat/tools"
)

func ollamaHandler(t *testing.T, body *[]byte, lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if body != nil {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			*body = b
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}
}

func ollamaLine(message string, done bool) string {
	return fmt.Sprintf(`{"model":"llama3.1","created_at":"2025-01-01T00:00:00Z","message":%s,"done":%t}`, message, done)
}

func ollamaConfig(modelName string) model.GenerationConfig {
	cfg := model.DefaultGenerationConfig()
	cfg.Provider = model.ProviderRecord{ID: "local", Vendor: model.VendorOllama}
	cfg.Model = modelName
	return cfg
}

func newTestOllama(t *testing.T, url string) *OllamaAdapter {
	t.Helper()
	a, err := NewOllamaAdapter(model.ProviderRecord{ID: "local", Vendor: model.VendorOllama, Host: url}, tools.NewRegistry(tools.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestOllamaStreamsContentAndTools(t *testing.T) {
	server := httptest.NewServer(ollamaHandler(t, nil,
		ollamaLine(`{"role":"assistant","content":"Search"}`, false),
		ollamaLine(`{"role":"assistant","content":"ing"}`, false),
		ollamaLine(`{"role":"assistant","content":"","tool_calls":[{"function":{"name":"googleSearch","arguments":{"query":"cats"}}}]}`, false),
		ollamaLine(`{"role":"assistant","content":""}`, true),
	))
	defer server.Close()

	text, calls, err := collect(t, newTestOllama(t, server.URL), testutil.SingleUserMessage("cats?"), ollamaConfig("llama3.1").WithTools(model.ToolSearch))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "Searching" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].Tool != model.ToolSearch || calls[0].Arguments != `{"query":"cats"}` {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].CallID == "" {
		t.Error("ollama calls should get a generated call id")
	}
}

func TestOllamaToolsOnlyForCapableModels(t *testing.T) {
	tests := []struct {
		model     string
		wantTools bool
	}{
		{"llama3.1:8b", true},
		{"qwen2.5", true},
		{"gemma2", false},
		{"llama3:latest", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			var body []byte
			server := httptest.NewServer(ollamaHandler(t, &body, ollamaLine(`{"role":"assistant","content":"ok"}`, true)))
			defer server.Close()

			if _, _, err := collect(t, newTestOllama(t, server.URL), testutil.SingleUserMessage("hi"), ollamaConfig(tt.model).WithTools(model.ToolSearch)); err != nil {
				t.Fatalf("stream: %v", err)
			}

			var sent struct {
				Tools []json.RawMessage `json:"tools"`
			}
			if err := json.Unmarshal(body, &sent); err != nil {
				t.Fatal(err)
			}
			if got := len(sent.Tools) > 0; got != tt.wantTools {
				t.Errorf("tools sent = %v, want %v", got, tt.wantTools)
			}
		})
	}
}

func TestOllamaRequestShape(t *testing.T) {
	var body []byte
	server := httptest.NewServer(ollamaHandler(t, &body, ollamaLine(`{"role":"assistant","content":"ok"}`, true)))
	defer server.Close()

	history := testutil.ToolExchange("weather?", model.ToolSearch, `{"query":"weather"}`, "sunny")
	history[0].Attachments = []model.Attachment{testutil.ImageAttachment("cat.png")}
	cfg := ollamaConfig("llama3.1").WithTools(model.ToolSearch)
	cfg.SystemPrompt = "Be brief."
	cfg.MaxTokens = 256

	if _, _, err := collect(t, newTestOllama(t, server.URL), history, cfg); err != nil {
		t.Fatalf("stream: %v", err)
	}

	var sent struct {
		Messages []struct {
			Role      string   `json:"role"`
			Content   string   `json:"content"`
			Images    []string `json:"images"`
			ToolCalls []struct {
				Function struct {
					Name      string         `json:"name"`
					Arguments map[string]any `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
		Options map[string]any `json:"options"`
		Stream  *bool          `json:"stream"`
	}
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatal(err)
	}

	if len(sent.Messages) != 4 || sent.Messages[0].Role != "system" || sent.Messages[0].Content != "Be brief." {
		t.Fatalf("messages = %+v", sent.Messages)
	}
	if len(sent.Messages[1].Images) != 1 {
		t.Error("image should be attached to the user message")
	}
	if calls := sent.Messages[2].ToolCalls; len(calls) != 1 || calls[0].Function.Arguments["query"] != "weather" {
		t.Errorf("assistant tool calls = %+v", calls)
	}
	if sent.Messages[3].Role != "tool" || sent.Messages[3].Content != "sunny" {
		t.Errorf("tool message = %+v", sent.Messages[3])
	}
	if sent.Options["num_predict"] != float64(256) {
		t.Errorf("options = %v", sent.Options)
	}
	if sent.Stream == nil || !*sent.Stream {
		t.Error("stream flag should be set")
	}
}

func TestOllamaNonStreaming(t *testing.T) {
	server := httptest.NewServer(ollamaHandler(t, nil, ollamaLine(`{"role":"assistant","content":"Cat facts"}`, true)))
	defer server.Close()

	a := newTestOllama(t, server.URL)
	req, err := a.BuildRequest(testutil.SingleUserMessage("title?"), ollamaConfig("llama3.1").ForTitle(""))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := a.NonStreamingResponse(t.Context(), req)
	if err != nil {
		t.Fatalf("NonStreamingResponse: %v", err)
	}
	if ev.Content != "Cat facts" {
		t.Errorf("content = %q", ev.Content)
	}
}
