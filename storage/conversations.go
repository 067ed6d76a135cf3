package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"polychat/chat"
	"polychat/config"
	"polychat/model"
)

// Conversation is the on-disk form of one chat session.
type Conversation struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ResetMarker int                    `json:"reset_marker"`
	Config      model.GenerationConfig `json:"config"`
	Messages    []model.Message        `json:"messages"`
}

// ConversationMetadata is a lightweight version of Conversation for listing
type ConversationMetadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// ConversationStorage keeps one JSON file per conversation. Attachment
// payloads are not part of the JSON; they go to the attachment store.
type ConversationStorage struct {
	dir         string
	attachments *AttachmentStore
}

// NewConversationStorage creates the conversations directory under dataDir.
// attachments may be nil, in which case payloads are not persisted.
func NewConversationStorage(dataDir string, attachments *AttachmentStore) (*ConversationStorage, error) {
	dir := config.ConversationsDir(dataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}
	return &ConversationStorage{dir: dir, attachments: attachments}, nil
}

func (s *ConversationStorage) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save implements chat.Store.
func (s *ConversationStorage) Save(snap chat.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot without id")
	}

	conv := Conversation{
		ID:          snap.ID,
		Title:       snap.Title,
		UpdatedAt:   snap.UpdatedAt,
		ResetMarker: snap.ResetMarker,
		Config:      snap.Config,
		Messages:    snap.Messages,
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	conv.CreatedAt = conv.UpdatedAt
	if len(conv.Messages) > 0 {
		conv.CreatedAt = conv.Messages[0].CreatedAt
	}
	if conv.Title == "" {
		conv.Title = GenerateTitle(firstUserMessage(conv.Messages))
	}

	if err := s.saveAttachments(snap.ID, conv.Messages); err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := writeFileAtomic(s.path(conv.ID), data); err != nil {
		return fmt.Errorf("failed to write conversation file: %w", err)
	}

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Storage] Saved %s (%d messages)", conv.ID, len(conv.Messages))
	}
	return nil
}

func (s *ConversationStorage) saveAttachments(id string, msgs []model.Message) error {
	if s.attachments == nil {
		return nil
	}
	ctx := context.Background()
	for _, m := range msgs {
		all := m.Attachments
		if m.ToolResult != nil {
			all = append(append([]model.Attachment(nil), all...), m.ToolResult.Attachments...)
		}
		for _, a := range all {
			// Restored messages carry metadata only; the payload is already stored.
			if len(a.Data) == 0 {
				continue
			}
			if err := s.attachments.Put(ctx, id, a); err != nil {
				return fmt.Errorf("failed to store attachment %s: %w", a.Name, err)
			}
		}
	}
	return nil
}

// writeFileAtomic replaces path so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a conversation. Attachments carry metadata only; use Resume to
// get their payloads.
func (s *ConversationStorage) Load(id string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if conv.Config.Tools == nil {
		conv.Config.Tools = map[model.ToolName]bool{}
	}
	return &conv, nil
}

// Resume loads a conversation with its attachment payloads filled in from the
// attachment store, ready to be sent to a provider again.
func (s *ConversationStorage) Resume(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	if s.attachments == nil {
		return conv, nil
	}

	for i := range conv.Messages {
		m := &conv.Messages[i]
		if err := s.fillPayloads(ctx, id, m.Attachments); err != nil {
			return nil, err
		}
		if m.ToolResult != nil {
			if err := s.fillPayloads(ctx, id, m.ToolResult.Attachments); err != nil {
				return nil, err
			}
		}
	}
	return conv, nil
}

func (s *ConversationStorage) fillPayloads(ctx context.Context, id string, atts []model.Attachment) error {
	for i := range atts {
		if len(atts[i].Data) > 0 {
			continue
		}
		stored, err := s.attachments.Attachment(ctx, id, atts[i].Name)
		if errors.Is(err, model.ErrNotFound) {
			// Left empty; providers describe it as a file note instead.
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Storage] Attachment %s of %s has no stored payload", atts[i].Name, id)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to restore attachment %s: %w", atts[i].Name, err)
		}
		atts[i].Data = stored.Data
		if atts[i].MIMEType == "" {
			atts[i].MIMEType = stored.MIMEType
		}
	}
	return nil
}

// Snapshot converts c into the form chat.Manager.Restore takes.
func (c *Conversation) Snapshot() chat.Snapshot {
	return chat.Snapshot{
		ID:          c.ID,
		Title:       c.Title,
		Messages:    c.Messages,
		ResetMarker: c.ResetMarker,
		Config:      c.Config,
		UpdatedAt:   c.UpdatedAt,
	}
}

// List returns metadata for all conversations, newest first.
func (s *ConversationStorage) List() ([]ConversationMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	var out []ConversationMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		conv, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Storage] Skipping %s: %v", entry.Name(), err)
			}
			continue
		}
		out = append(out, ConversationMetadata{
			ID:           conv.ID,
			Title:        conv.Title,
			Provider:     conv.Config.Provider.ID,
			Model:        conv.Config.Model,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes a conversation and its attachments.
func (s *ConversationStorage) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}
	if s.attachments != nil {
		if err := s.attachments.DeleteConversation(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
	}
	return nil
}

// Rename updates the title of a stored conversation.
func (s *ConversationStorage) Rename(id, title string) error {
	conv, err := s.Load(id)
	if err != nil {
		return err
	}
	conv.Title = title
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return writeFileAtomic(s.path(id), data)
}

// ExportToJSON writes a conversation to exportPath.
func (s *ConversationStorage) ExportToJSON(id, exportPath string) error {
	conv, err := s.Load(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(exportPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// SanitizeFilename replaces characters that are invalid in filenames
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\n', '\r':
			return '-'
		}
		return r
	}, name)
	name = strings.Trim(name, "-.")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "conversation"
	}
	return name
}

// GenerateExportPath returns ~/Downloads/polychat-<title>-<timestamp>.json
func GenerateExportPath(title string) string {
	filename := fmt.Sprintf("polychat-%s-%s.json", SanitizeFilename(title), time.Now().Format("20060102-150405"))
	return filepath.Join(config.GetHomeDir(), "Downloads", filename)
}

// GenerateTitle derives a fallback title from the first user message.
func GenerateTitle(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if runes := []rune(name); len(runes) > 30 {
		name = string(runes[:30]) + "..."
	}
	if name == "" {
		return fmt.Sprintf("Conversation %s", time.Now().Format("Jan 2, 3:04 PM"))
	}
	return name
}

func firstUserMessage(msgs []model.Message) string {
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			return m.Content
		}
	}
	return ""
}
