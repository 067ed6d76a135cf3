package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"

	"polychat/chat"
	"polychat/model"
	"polychat/provider"
	"polychat/provider/testutil"
	"polychat/tools"
)

func newTestStorage(t *testing.T) (*ConversationStorage, *AttachmentStore) {
	t.Helper()
	attachments, err := OpenAttachmentStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { attachments.Close() })

	store, err := NewConversationStorage(t.TempDir(), attachments)
	if err != nil {
		t.Fatal(err)
	}
	return store, attachments
}

func snapshotWithAttachment(id string) chat.Snapshot {
	user := model.NewMessage(model.RoleUser, "Summarize the attached notes please")
	user.Attachments = []model.Attachment{testutil.TextAttachment("notes.txt", "buy milk")}
	reply := model.NewMessage(model.RoleAssistant, "You need milk.")

	cfg := testutil.DefaultConfig().WithTools(model.ToolFileReader)
	return chat.Snapshot{
		ID:          id,
		Messages:    []model.Message{user, reply},
		ResetMarker: chat.NoResetMarker,
		Config:      cfg,
		UpdatedAt:   time.Now(),
	}
}

func TestConversationRoundTrip(t *testing.T) {
	store, attachments := newTestStorage(t)
	snap := snapshotWithAttachment("conv-1")

	if err := store.Save(snap); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(store.path("conv-1"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	conv, err := store.Load("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != "Summarize the attached notes p..." {
		t.Errorf("fallback title = %q", conv.Title)
	}
	if len(conv.Messages) != 2 || conv.Messages[1].Content != "You need milk." {
		t.Errorf("messages = %+v", conv.Messages)
	}
	if conv.Config.Provider.APIKey != "" {
		t.Error("api keys must not be persisted")
	}
	if !conv.Config.Tools[model.ToolFileReader] || conv.Config.Model != "gpt-4o" {
		t.Errorf("config = %+v", conv.Config)
	}

	stored := conv.Messages[0].Attachments[0]
	if stored.Name != "notes.txt" || len(stored.Data) != 0 {
		t.Errorf("JSON attachment = %+v, want metadata only", stored)
	}
	payload, err := attachments.Attachment(context.Background(), "conv-1", "notes.txt")
	if err != nil || string(payload.Data) != "buy milk" || payload.MIMEType != "text/plain" {
		t.Errorf("stored payload = %+v, %v", payload, err)
	}

	restored := conv.Snapshot()
	if restored.ID != "conv-1" || restored.ResetMarker != chat.NoResetMarker {
		t.Errorf("Snapshot() = %+v", restored)
	}
}

func TestResumeRestoresPayloads(t *testing.T) {
	store, _ := newTestStorage(t)

	user := model.NewMessage(model.RoleUser, "What is in this picture?")
	user.Attachments = []model.Attachment{testutil.ImageAttachment("cat.png")}
	call := model.NewToolCall("", model.ToolImageGenerate, `{"prompt":"a cat"}`)
	result := model.NewToolMessage(call)
	result.ToolResult.Attachments = []model.Attachment{{Name: "generated.png", MIMEType: "image/png", Data: testutil.PNG}}
	snap := chat.Snapshot{
		ID:          "with-image",
		Messages:    []model.Message{user, model.NewMessage(model.RoleAssistant, "A cat.")},
		ResetMarker: chat.NoResetMarker,
		Config:      testutil.DefaultConfig(),
		UpdatedAt:   time.Now(),
	}
	snap.Messages = append(snap.Messages, result)
	if err := store.Save(snap); err != nil {
		t.Fatal(err)
	}

	if conv, _ := store.Load("with-image"); len(conv.Messages[0].Attachments[0].Data) != 0 {
		t.Fatal("Load should return metadata only")
	}
	conv, err := store.Resume(context.Background(), "with-image")
	if err != nil {
		t.Fatal(err)
	}
	if got := conv.Messages[0].Attachments[0].Data; string(got) != string(testutil.PNG) {
		t.Errorf("user attachment = %d bytes, want %d", len(got), len(testutil.PNG))
	}
	if got := conv.Messages[2].ToolResult.Attachments[0].Data; len(got) != len(testutil.PNG) {
		t.Errorf("tool attachment = %d bytes, want %d", len(got), len(testutil.PNG))
	}

	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Still a cat."}}]}`)
	}))
	defer server.Close()

	cfg := conv.Config
	cfg.Provider = model.ProviderRecord{ID: "openai", Vendor: model.VendorOpenAI, APIKey: "sk-test", Host: server.URL}
	adapter, err := provider.NewOpenAIAdapter(cfg.Provider, tools.NewRegistry(tools.Options{}), option.WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	req, err := adapter.BuildRequest(conv.Messages[:1], cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := adapter.NonStreamingResponse(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testutil.PNG)
	if !strings.Contains(string(body), want) {
		t.Errorf("request does not carry the restored image: %s", body)
	}
}

func TestResumeWithoutStoredPayload(t *testing.T) {
	store, attachments := newTestStorage(t)
	if err := store.Save(snapshotWithAttachment("lost")); err != nil {
		t.Fatal(err)
	}
	if err := attachments.DeleteConversation(context.Background(), "lost"); err != nil {
		t.Fatal(err)
	}

	conv, err := store.Resume(context.Background(), "lost")
	if err != nil {
		t.Fatalf("a missing payload should not fail the resume: %v", err)
	}
	if att := conv.Messages[0].Attachments[0]; att.Name != "notes.txt" || len(att.Data) != 0 {
		t.Errorf("attachment = %+v", att)
	}
}

func TestConversationListAndDelete(t *testing.T) {
	store, attachments := newTestStorage(t)

	older := snapshotWithAttachment("older")
	older.UpdatedAt = time.Now().Add(-time.Hour)
	older.Title = "Older"
	newer := snapshotWithAttachment("newer")
	newer.Title = "Newer"
	for _, s := range []chat.Snapshot{older, newer} {
		if err := store.Save(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(store.dir, "broken.json"), []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}

	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "newer" || list[1].ID != "older" {
		t.Fatalf("List() = %+v", list)
	}
	if list[0].MessageCount != 2 || list[0].Provider != "openai" {
		t.Errorf("metadata = %+v", list[0])
	}

	if err := store.Rename("older", "Renamed"); err != nil {
		t.Fatal(err)
	}
	if conv, _ := store.Load("older"); conv.Title != "Renamed" {
		t.Errorf("title = %q", conv.Title)
	}

	if err := store.Delete("older"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("older"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Load() after delete = %v", err)
	}
	if _, err := attachments.Attachment(context.Background(), "older", "notes.txt"); !errors.Is(err, model.ErrNotFound) {
		t.Error("attachments should be deleted with the conversation")
	}
	if err := store.Delete("older"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second Delete() = %v", err)
	}
}

func TestAttachmentStore(t *testing.T) {
	_, attachments := newTestStorage(t)
	ctx := context.Background()

	if err := attachments.Put(ctx, "c", testutil.ImageAttachment("a.png")); err != nil {
		t.Fatal(err)
	}
	if err := attachments.Put(ctx, "c", testutil.TextAttachment("a.png", "replaced")); err != nil {
		t.Fatal(err)
	}

	a, err := attachments.Attachment(ctx, "c", "a.png")
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Data) != "replaced" || a.MIMEType != "text/plain" {
		t.Errorf("Attachment() = %+v", a)
	}

	list, err := attachments.List(ctx, "c")
	if err != nil || len(list) != 1 || list[0].Size != len("replaced") {
		t.Errorf("List() = %+v, %v", list, err)
	}

	if _, err := attachments.Attachment(ctx, "other", "a.png"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionPersistsThroughStore(t *testing.T) {
	store, _ := newTestStorage(t)
	s := chat.NewSession(chat.SessionOptions{
		ID:      "live",
		Config:  testutil.DefaultConfig(),
		Adapter: testutil.NewMockAdapter(testutil.TextTurn("Stored reply")),
		Store:   store,
	})

	if err := s.SendInput("remember this", nil); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	conv, err := store.Load("live")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 2 || conv.Messages[1].Content != "Stored reply" {
		t.Errorf("persisted messages = %+v", conv.Messages)
	}
}

func TestSearch(t *testing.T) {
	store, _ := newTestStorage(t)
	if err := store.Save(snapshotWithAttachment("conv")); err != nil {
		t.Fatal(err)
	}

	matches, err := store.SearchAll("MILK")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Role != model.RoleAssistant || matches[0].ConversationID != "conv" {
		t.Errorf("SearchAll() = %+v", matches)
	}
	if got, _ := store.SearchAll(""); got != nil {
		t.Error("empty query returns nothing")
	}

	tool := model.NewToolMessage(model.NewToolCall("", model.ToolSearch, ""))
	tool.Content = "milk prices"
	if got := SearchMessages([]model.Message{tool}, "milk"); len(got) != 0 {
		t.Error("tool messages are not searched")
	}
}

func TestFilenameHelpers(t *testing.T) {
	if got := SanitizeFilename(`a/b: "c"?`); got != "a-b---c" {
		t.Errorf("SanitizeFilename() = %q", got)
	}
	if got := SanitizeFilename("..."); got != "conversation" {
		t.Errorf("SanitizeFilename(...) = %q", got)
	}
	if got := GenerateTitle("  hello\n  world "); got != "hello world" {
		t.Errorf("GenerateTitle() = %q", got)
	}
}
