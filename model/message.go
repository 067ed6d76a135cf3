package model

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AttachmentKind is the coarse payload category used to decide how a dialect
// embeds an attachment.
type AttachmentKind string

const (
	KindImage  AttachmentKind = "image"
	KindAudio  AttachmentKind = "audio"
	KindPDF    AttachmentKind = "pdf"
	KindText   AttachmentKind = "text"
	KindBinary AttachmentKind = "binary"
)

// Attachment is a typed binary payload carried by a message or a tool result.
// Name doubles as the lookup key for tools that take fileNames.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Kind derives the payload category from the MIME type, falling back to the
// file extension when the MIME type is missing or generic.
func (a Attachment) Kind() AttachmentKind {
	mt := strings.ToLower(a.MIMEType)
	if mt == "" || mt == "application/octet-stream" {
		mt = strings.ToLower(mime.TypeByExtension(filepath.Ext(a.Name)))
	}
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case mt == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mt, "text/"),
		mt == "application/json",
		mt == "application/xml",
		mt == "application/x-yaml":
		return KindText
	default:
		return KindBinary
	}
}

// ToolCall is one function invocation emitted by a model. Arguments is the raw
// JSON object string exactly as the vendor produced it.
type ToolCall struct {
	ID        string   `json:"id"`
	CallID    string   `json:"tool_call_id"`
	Tool      ToolName `json:"tool"`
	Arguments string   `json:"arguments"`
}

// NewToolCall creates a tool call with a fresh identity. A missing vendor call
// id is replaced by a generated one so results can always be correlated.
func NewToolCall(callID string, tool ToolName, arguments string) ToolCall {
	if callID == "" {
		callID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	return ToolCall{
		ID:        uuid.NewString(),
		CallID:    callID,
		Tool:      tool,
		Arguments: arguments,
	}
}

// ToolResult is the output of executing one ToolCall.
type ToolResult struct {
	ID          string       `json:"id"`
	CallID      string       `json:"tool_call_id"`
	Tool        ToolName     `json:"tool"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResult  *ToolResult  `json:"tool_result,omitempty"`
	IsReplying  bool         `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewMessage creates a message with a fresh identity and timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewToolMessage creates the synthetic tool-role message answering call.
// The ToolResult is attached up front so the message is never without one.
func NewToolMessage(call ToolCall) Message {
	msg := NewMessage(RoleTool, "")
	msg.ToolResult = &ToolResult{
		ID:     uuid.NewString(),
		CallID: call.CallID,
		Tool:   call.Tool,
	}
	return msg
}

// IsToolInvocation reports whether an assistant message is a tool-call turn.
func (m Message) IsToolInvocation() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// Clone returns a deep copy whose slices can be mutated independently.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolResult != nil {
		tr := *m.ToolResult
		if tr.Attachments != nil {
			tr.Attachments = append([]Attachment(nil), tr.Attachments...)
		}
		out.ToolResult = &tr
	}
	return out
}

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolResult != nil {
			return fmt.Errorf("%s message %s carries tool data", m.Role, m.ID)
		}
	case RoleAssistant:
		if m.ToolResult != nil {
			return fmt.Errorf("assistant message %s carries a tool result", m.ID)
		}
	case RoleTool:
		if m.ToolResult == nil {
			return fmt.Errorf("tool message %s has no tool result", m.ID)
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("tool message %s carries tool calls", m.ID)
		}
	default:
		return fmt.Errorf("message %s has unknown role %q", m.ID, m.Role)
	}
	return nil
}
