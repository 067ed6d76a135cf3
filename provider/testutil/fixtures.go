package testutil

import (
	"bytes"
	"fmt"

	"polychat/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	return []model.Message{
		model.NewMessage(model.RoleUser, "Hello, how are you?"),
		model.NewMessage(model.RoleAssistant, "I'm doing well, thank you!"),
		model.NewMessage(model.RoleUser, "Can you help me with a task?"),
	}
}

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.Message {
	return []model.Message{model.NewMessage(model.RoleUser, content)}
}

// SystemMessage returns a system message for testing
func SystemMessage(content string) model.Message {
	return model.NewMessage(model.RoleSystem, content)
}

// ToolExchange returns a user question, the assistant turn calling tool with
// args, and the answering tool message carrying output.
func ToolExchange(question string, tool model.ToolName, args, output string) []model.Message {
	user := model.NewMessage(model.RoleUser, question)
	call := model.NewToolCall("", tool, args)

	assistant := model.NewMessage(model.RoleAssistant, "")
	assistant.ToolCalls = []model.ToolCall{call}

	result := model.NewToolMessage(call)
	result.Content = output
	result.ToolResult.Content = output

	return []model.Message{user, assistant, result}
}

// PNG is a minimal PNG header, enough for MIME sniffing.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

// ImageAttachment returns a small image attachment.
func ImageAttachment(name string) model.Attachment {
	return model.Attachment{Name: name, MIMEType: "image/png", Data: PNG}
}

// TextAttachment returns a UTF-8 text attachment.
func TextAttachment(name, content string) model.Attachment {
	return model.Attachment{Name: name, MIMEType: "text/plain", Data: []byte(content)}
}

// DefaultConfig returns a streaming config for an OpenAI provider record.
func DefaultConfig() model.GenerationConfig {
	cfg := model.DefaultGenerationConfig()
	cfg.Provider = model.ProviderRecord{ID: "openai", Name: "OpenAI", Vendor: model.VendorOpenAI, APIKey: "sk-test", DefaultChatModel: "gpt-4o-mini"}
	cfg.Model = "gpt-4o"
	return cfg
}

// SelfReferencingPDF returns a well-formed PDF whose page tree lists itself as
// a kid. Page lookup on it never returns. tag varies the bytes so callers can
// get distinct documents.
func SelfReferencingPDF(tag string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n%" + tag + "\n")
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [2 0 R] /Count 1 >>",
	}
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}
