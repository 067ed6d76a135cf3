package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polychat/model"
	"polychat/provider/testutil"
	"polychat/tools"

	"github.com/openai/openai-go/v3/option"
)

func sseHandler(t *testing.T, body *[]byte, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if body != nil {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			*body = b
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func openAIChunk(delta string) string {
	return `{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":` + delta + `,"finish_reason":null}]}`
}

func newTestOpenAI(t *testing.T, url string) *OpenAIAdapter {
	t.Helper()
	a, err := NewOpenAIAdapter(
		model.ProviderRecord{ID: "openai", Vendor: model.VendorOpenAI, APIKey: "sk-test", Host: url},
		tools.NewRegistry(tools.Options{}),
		option.WithMaxRetries(0),
	)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func collect(t *testing.T, a model.ProviderAdapter, history []model.Message, cfg model.GenerationConfig) (string, []model.ToolCall, error) {
	t.Helper()
	req, err := a.BuildRequest(history, cfg)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	var text strings.Builder
	var calls []model.ToolCall
	for ev, err := range a.StreamResponse(t.Context(), req) {
		if err != nil {
			return text.String(), calls, err
		}
		text.WriteString(ev.Content)
		calls = append(calls, ev.ToolCalls...)
	}
	return text.String(), calls, nil
}

func TestOpenAIStreamsContent(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil,
		openAIChunk(`{"role":"assistant","content":"Hel"}`),
		openAIChunk(`{"content":"lo"}`),
	))
	defer server.Close()

	text, calls, err := collect(t, newTestOpenAI(t, server.URL), testutil.SingleUserMessage("hi"), testutil.DefaultConfig())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
}

func TestOpenAIAssemblesToolCallFragments(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil,
		openAIChunk(`{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"googleSearch","arguments":"{\"qu"}}]}`),
		openAIChunk(`{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"cat"}}]}`),
		openAIChunk(`{"tool_calls":[{"index":0,"function":{"arguments":"s\"}"}}]}`),
	))
	defer server.Close()

	cfg := testutil.DefaultConfig().WithTools(model.ToolSearch)
	_, calls, err := collect(t, newTestOpenAI(t, server.URL), testutil.SingleUserMessage("cats?"), cfg)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(calls))
	}
	if calls[0].Arguments != `{"query":"cats"}` || calls[0].CallID != "call_1" || calls[0].Tool != model.ToolSearch {
		t.Errorf("unexpected call: %+v", calls[0])
	}
}

func TestOpenAIInvalidToolArgumentsIsProtocolError(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil,
		openAIChunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"googleSearch","arguments":"{\"query\":"}}]}`),
	))
	defer server.Close()

	_, calls, err := collect(t, newTestOpenAI(t, server.URL), testutil.SingleUserMessage("x"), testutil.DefaultConfig())
	if !errors.Is(err, model.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
	if len(calls) != 0 {
		t.Error("partial tool call must not be emitted")
	}
}

func TestOpenAIStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		expected error
	}{
		{http.StatusUnauthorized, model.ErrAuth},
		{http.StatusTooManyRequests, model.ErrRateLimit},
		{http.StatusBadRequest, model.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			}))
			defer server.Close()

			_, _, err := collect(t, newTestOpenAI(t, server.URL), testutil.SingleUserMessage("x"), testutil.DefaultConfig())
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestOpenAIRequestShape(t *testing.T) {
	var body []byte
	server := httptest.NewServer(sseHandler(t, &body, openAIChunk(`{"content":"ok"}`)))
	defer server.Close()

	history := testutil.ToolExchange("weather?", model.ToolSearch, `{"query":"weather"}`, "sunny")
	history[0].Attachments = []model.Attachment{testutil.ImageAttachment("cat.png")}

	cfg := testutil.DefaultConfig().WithTools(model.ToolSearch)
	cfg.SystemPrompt = "Be brief."
	if _, _, err := collect(t, newTestOpenAI(t, server.URL), history, cfg); err != nil {
		t.Fatalf("stream: %v", err)
	}

	var sent struct {
		Messages []struct {
			Role       string          `json:"role"`
			Content    json.RawMessage `json:"content"`
			ToolCallID string          `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
		Tools []struct {
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("decode request: %v", err)
	}

	roles := make([]string, len(sent.Messages))
	for i, m := range sent.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,tool" {
		t.Fatalf("roles = %v", roles)
	}
	if !strings.Contains(string(sent.Messages[1].Content), "data:image/png;base64,") {
		t.Errorf("image should be a data URL, got %s", sent.Messages[1].Content)
	}
	if len(sent.Messages[2].ToolCalls) != 1 || sent.Messages[2].ToolCalls[0].Function.Arguments != `{"query":"weather"}` {
		t.Errorf("assistant tool calls = %+v", sent.Messages[2].ToolCalls)
	}
	if sent.Messages[3].ToolCallID != sent.Messages[2].ToolCalls[0].ID {
		t.Error("tool message should reference its call id")
	}
	if len(sent.Tools) != 1 || sent.Tools[0].Function.Name != string(model.ToolSearch) {
		t.Errorf("tools = %+v", sent.Tools)
	}
	if !sent.Stream {
		t.Error("streaming request should set stream")
	}
}

func TestOpenAINonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Tokyo trip"}}]}`)
	}))
	defer server.Close()

	a := newTestOpenAI(t, server.URL)
	req, err := a.BuildRequest(testutil.SingleUserMessage("plan a trip"), testutil.DefaultConfig().ForTitle(""))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := a.NonStreamingResponse(t.Context(), req)
	if err != nil {
		t.Fatalf("NonStreamingResponse: %v", err)
	}
	if ev.Content != "Tokyo trip" || len(ev.ToolCalls) != 0 {
		t.Errorf("unexpected event: %+v", ev)
	}
}
