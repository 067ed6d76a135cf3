package provider

import (
	"strings"
	"testing"
	"time"

	"polychat/model"
	"polychat/provider/testutil"
	"polychat/tools"
)

func TestPrepareHistoryDropsUnansweredCalls(t *testing.T) {
	exchange := testutil.ToolExchange("weather?", model.ToolSearch, `{"query":"weather"}`, "sunny")
	user, assistant, result := exchange[0], exchange[1], exchange[2]

	// A second call in the same batch was aborted before it produced a result.
	assistant.ToolCalls = append(assistant.ToolCalls, model.NewToolCall("", model.ToolURLScrape, `{"url_list":[]}`))
	orphan := model.NewToolMessage(model.NewToolCall("call_orphan", model.ToolSearch, "{}"))
	placeholder := model.NewMessage(model.RoleAssistant, "")

	got := prepareHistory([]model.Message{user, assistant, result, orphan, placeholder})

	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Tool != model.ToolSearch {
		t.Errorf("assistant should keep only the answered call, got %+v", got[1].ToolCalls)
	}
	if len(assistant.ToolCalls) != 2 {
		t.Error("prepareHistory must not mutate its input")
	}
	if got[2].ToolResult.CallID != assistant.ToolCalls[0].CallID {
		t.Error("tool result should follow its call")
	}
}

func TestPrepareHistoryDropsToolTurnWithNoAnsweredCalls(t *testing.T) {
	user := model.NewMessage(model.RoleUser, "hi")
	assistant := model.NewMessage(model.RoleAssistant, "")
	assistant.ToolCalls = []model.ToolCall{model.NewToolCall("", model.ToolSearch, "{}")}

	got := prepareHistory([]model.Message{user, assistant})
	if len(got) != 1 || got[0].Role != model.RoleUser {
		t.Errorf("unexpected history: %+v", got)
	}
}

func TestSystemText(t *testing.T) {
	cfg := model.DefaultGenerationConfig()
	cfg.SystemPrompt = "Be brief."
	history := []model.Message{testutil.SystemMessage("Answer in French."), model.NewMessage(model.RoleUser, "hi")}

	if got := systemText(cfg, history); got != "Be brief.\n\nAnswer in French." {
		t.Errorf("systemText() = %q", got)
	}
	if got := systemText(model.DefaultGenerationConfig(), nil); got != "" {
		t.Errorf("expected empty system text, got %q", got)
	}
}

func TestAttachmentText(t *testing.T) {
	tests := []struct {
		name     string
		att      model.Attachment
		contains []string
	}{
		{
			name:     "text is inlined",
			att:      testutil.TextAttachment("notes.txt", "remember the milk"),
			contains: []string{"notes.txt", "remember the milk"},
		},
		{
			name:     "audio points at transcribe",
			att:      model.Attachment{Name: "memo.mp3", MIMEType: "audio/mpeg", Data: []byte{1, 2, 3}},
			contains: []string{"memo.mp3", "conv-1", string(model.ToolTranscribe)},
		},
		{
			name:     "unreadable pdf points at pdfReader",
			att:      model.Attachment{Name: "broken.pdf", MIMEType: "application/pdf", Data: []byte("not a pdf")},
			contains: []string{"broken.pdf", string(model.ToolPDFReader)},
		},
		{
			name:     "binary points at fileReader",
			att:      model.Attachment{Name: "data.bin", MIMEType: "application/zip", Data: []byte{0}},
			contains: []string{"data.bin", string(model.ToolFileReader)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := attachmentText(tt.att, "conv-1")
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("attachmentText() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestBuildRequestSurvivesUnreadablePDF(t *testing.T) {
	prev := tools.PDFTimeout
	tools.PDFTimeout = 100 * time.Millisecond
	t.Cleanup(func() { tools.PDFTimeout = prev })

	user := model.NewMessage(model.RoleUser, "What does this say?")
	user.Attachments = []model.Attachment{{Name: "loop.pdf", MIMEType: "application/pdf", Data: testutil.SelfReferencingPDF("history")}}
	cfg := testutil.DefaultConfig()
	cfg.ConversationID = "conv-1"

	a, err := NewOpenAIAdapter(cfg.Provider, tools.NewRegistry(tools.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := a.BuildRequest([]model.Message{user}, cfg)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("BuildRequest did not return")
	}

	if got := attachmentText(user.Attachments[0], "conv-1"); !strings.Contains(got, string(model.ToolPDFReader)) {
		t.Errorf("an unreadable pdf should become a note, got %q", got)
	}
}

func TestInlineImage(t *testing.T) {
	if !inlineImage(testutil.ImageAttachment("cat.png")) {
		t.Error("an image with a payload should be embedded")
	}
	empty := model.Attachment{Name: "cat.png", MIMEType: "image/png"}
	if inlineImage(empty) {
		t.Error("an image without a payload must not be embedded")
	}
	if got := attachmentText(empty, "conv-1"); !strings.Contains(got, "cat.png") || !strings.Contains(got, "conv-1") {
		t.Errorf("attachmentText() = %q", got)
	}
}

func TestToolResultText(t *testing.T) {
	call := model.NewToolCall("c", model.ToolSearch, "{}")
	msg := model.NewToolMessage(call)
	if got := toolResultText(msg); got != "(no output)" {
		t.Errorf("empty result = %q", got)
	}
	msg.ToolResult.Content = "found it"
	if got := toolResultText(msg); got != "found it" {
		t.Errorf("result = %q", got)
	}
}
