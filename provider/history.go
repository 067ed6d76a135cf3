package provider

import (
	"context"
	"fmt"
	"strings"

	"polychat/model"
	"polychat/tools"
)

// prepareHistory returns the messages a dialect should serialize.
//
// Assistant tool-call turns keep only the calls answered by a later tool
// message, and tool messages are kept only when their call survives, so an
// aborted tool batch never produces a request the vendor would reject. Empty
// assistant placeholders are dropped.
func prepareHistory(history []model.Message) []model.Message {
	answered := map[string]bool{}
	for _, m := range history {
		if m.Role == model.RoleTool && m.ToolResult != nil {
			answered[m.ToolResult.CallID] = true
		}
	}

	issued := map[string]bool{}
	out := make([]model.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case model.RoleAssistant:
			m = m.Clone()
			calls := m.ToolCalls[:0]
			for _, c := range m.ToolCalls {
				if answered[c.CallID] {
					calls = append(calls, c)
					issued[c.CallID] = true
				}
			}
			m.ToolCalls = calls
			if len(m.ToolCalls) == 0 && strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
				continue
			}
		case model.RoleTool:
			if m.ToolResult == nil || !issued[m.ToolResult.CallID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// systemText joins the configured system prompt with any system-role
// messages found in history.
func systemText(cfg model.GenerationConfig, history []model.Message) string {
	var parts []string
	if s := strings.TrimSpace(cfg.SystemPrompt); s != "" {
		parts = append(parts, s)
	}
	for _, m := range history {
		if m.Role == model.RoleSystem && strings.TrimSpace(m.Content) != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// toolResultText is the text sent back to the vendor for a tool message.
func toolResultText(m model.Message) string {
	if m.ToolResult != nil && m.ToolResult.Content != "" {
		return m.ToolResult.Content
	}
	if m.Content != "" {
		return m.Content
	}
	return "(no output)"
}

// inlineImage reports whether att can be embedded as image content. An image
// whose payload was not restored is described in text instead.
func inlineImage(att model.Attachment) bool {
	return att.Kind() == model.KindImage && len(att.Data) > 0
}

// attachmentText renders an attachment the dialect cannot embed natively.
// PDF and text payloads are pre-extracted; anything else becomes a note that
// tells the model which tool can read it. PDF extraction is bounded by
// tools.PDFTimeout, and a PDF that times out becomes a note.
func attachmentText(att model.Attachment, conversationID string) string {
	switch att.Kind() {
	case model.KindPDF:
		if text, err := tools.ExtractPDFText(context.Background(), att.Data); err == nil && strings.TrimSpace(text) != "" {
			return fmt.Sprintf("Attached file %s:\n%s", att.Name, text)
		}
		return attachmentNote(att, conversationID, model.ToolPDFReader)
	case model.KindText:
		if text, err := tools.DecodeText(att.Data); err == nil {
			return fmt.Sprintf("Attached file %s:\n%s", att.Name, text)
		}
		return attachmentNote(att, conversationID, model.ToolFileReader)
	case model.KindAudio:
		return attachmentNote(att, conversationID, model.ToolTranscribe)
	default:
		return attachmentNote(att, conversationID, model.ToolFileReader)
	}
}

func attachmentNote(att model.Attachment, conversationID string, tool model.ToolName) string {
	mimeType := att.MIMEType
	if mimeType == "" {
		mimeType = "unknown type"
	}
	if conversationID == "" {
		return fmt.Sprintf("[Attached file %q (%s)]", att.Name, mimeType)
	}
	return fmt.Sprintf("[Attached file %q (%s) in conversation %s. Call %s with conversationID %q and fileNames [%q] to read it.]",
		att.Name, mimeType, conversationID, tool, conversationID, att.Name)
}
