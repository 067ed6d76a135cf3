package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"polychat/chat"
	"polychat/config"
	"polychat/model"
)

func testConfig() *config.Config {
	return &config.Config{
		User: config.UserConfig{
			Tools: config.ToolsSection{ImageProvider: "openai", ImageModel: "gpt-image-1", SpeechProvider: "disabled"},
			Search: config.SearchSection{
				EngineID:        "engine",
				Limit:           3,
				ExcludedDomains: []string{"example.com"},
			},
			Providers: []config.ProviderConfig{
				{ID: "openai", Vendor: "openai", Enabled: true, EnabledModels: []string{"gpt-4o", "gpt-4o-mini"}},
				{ID: "ollama", Vendor: "ollama", Enabled: true, DefaultChatModel: "llama3.2"},
				{ID: "disabled", Vendor: "anthropic", DefaultChatModel: "claude"},
			},
		},
	}
}

func TestToolOptions(t *testing.T) {
	t.Setenv("POLYCHAT_SEARCH_API_KEY", "search-key")

	opts := toolOptions(testConfig())
	if opts.Search.APIKey != "search-key" || opts.Search.EngineID != "engine" || opts.Search.Limit != 3 {
		t.Errorf("search = %+v", opts.Search)
	}
	if opts.Image.Provider.ID != "openai" || opts.Image.Model != "gpt-image-1" {
		t.Errorf("image = %+v", opts.Image)
	}
	if !opts.SpeechToText.Provider.IsZero() {
		t.Error("disabled providers must not serve tools")
	}
}

func TestModelChoices(t *testing.T) {
	var labels []string
	for _, c := range modelChoices(testConfig()) {
		labels = append(labels, c.Label())
	}
	want := "openai/gpt-4o,openai/gpt-4o-mini,ollama/llama3.2"
	if got := strings.Join(labels, ","); got != want {
		t.Errorf("choices = %s, want %s", got, want)
	}
}

func TestReadAttachments(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	raw := filepath.Join(dir, "blob")
	if err := os.WriteFile(txt, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(raw, []byte("\x89PNG\r\n\x1a\n0000"), 0600); err != nil {
		t.Fatal(err)
	}

	atts, err := readAttachments([]string{txt, raw})
	if err != nil {
		t.Fatal(err)
	}
	if atts[0].Name != "notes.txt" || !strings.HasPrefix(atts[0].MIMEType, "text/plain") {
		t.Errorf("text attachment = %+v", atts[0])
	}
	if atts[1].MIMEType != "image/png" || atts[1].Kind() != model.KindImage {
		t.Errorf("sniffed attachment = %s", atts[1].MIMEType)
	}

	if _, err := readAttachments([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestStreamPrinter(t *testing.T) {
	var out, info bytes.Buffer
	history := model.NewMessage(model.RoleUser, "old question")
	p := newStreamPrinter(&out, &info, 1)

	question := model.NewMessage(model.RoleUser, "weather?")
	call := model.NewToolCall("", model.ToolSearch, `{"query":"weather"}`)
	turn := model.NewMessage(model.RoleAssistant, "")
	turn.ToolCalls = []model.ToolCall{call}
	result := model.NewToolMessage(call)
	result.ToolResult.Attachments = []model.Attachment{{Name: "map.png", MIMEType: "image/png"}}
	reply := model.NewMessage(model.RoleAssistant, "Sunny")

	snap := chat.Snapshot{Messages: []model.Message{history, question, turn, result, reply}}
	p.update(snap)

	reply.Content = "Sunny all day"
	snap.Messages[4] = reply
	p.update(snap)
	p.finish(snap)

	if out.String() != "Sunny all day\n" {
		t.Errorf("stdout = %q", out.String())
	}
	for _, want := range []string{"[tool] googleSearch", "produced map.png"} {
		if !strings.Contains(info.String(), want) {
			t.Errorf("stderr %q missing %q", info.String(), want)
		}
	}
	if strings.Contains(out.String(), "old question") {
		t.Error("history must not be printed")
	}
}
