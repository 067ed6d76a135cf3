package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"polychat/config"
	"polychat/model"
	"polychat/tools"

	"github.com/google/uuid"
)

// Snapshot is an immutable view of a session for observers and persistence.
type Snapshot struct {
	ID          string
	Title       string
	Messages    []model.Message
	ResetMarker int
	Config      model.GenerationConfig
	IsReplying  bool
	Err         string
	Editing     string
	UpdatedAt   time.Time
}

// Store persists sessions. It is called after every finished turn and every
// edit that changes history.
type Store interface {
	Save(snap Snapshot) error
}

// SessionOptions configures a new session.
type SessionOptions struct {
	ID          string
	Title       string
	Messages    []model.Message
	ResetMarker int
	Config      model.GenerationConfig
	Adapter     model.ProviderAdapter
	Coordinator *Coordinator
	Attachments tools.AttachmentSource
	Store       Store
}

// Session owns one conversation and at most one running reply.
type Session struct {
	id          string
	transcript  *Transcript
	coordinator *Coordinator
	attachments tools.AttachmentSource
	store       Store

	mu        sync.Mutex
	title     string
	cfg       model.GenerationConfig
	adapter   model.ProviderAdapter
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	editing   string
	updatedAt time.Time
	observers []func(Snapshot)
}

// NewSession creates a session. A missing ID gets a fresh one.
func NewSession(opts SessionOptions) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	marker := opts.ResetMarker
	if len(opts.Messages) == 0 {
		marker = NoResetMarker
	}
	coordinator := opts.Coordinator
	if coordinator == nil {
		coordinator = NewCoordinator(nil, nil, 0)
	}

	s := &Session{
		id:          id,
		title:       opts.Title,
		transcript:  NewTranscript(opts.Messages, marker),
		coordinator: coordinator,
		attachments: opts.Attachments,
		store:       opts.Store,
		cfg:         opts.Config.Clone(),
		adapter:     opts.Adapter,
		updatedAt:   time.Now(),
	}
	s.transcript.SetOnChange(s.notify)
	return s
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// Transcript exposes the history for read access.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Config returns a copy of the session's generation config.
func (s *Session) Config() model.GenerationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// SetConfig replaces the generation config and the adapter that serves it.
// It fails with model.ErrBusy while a reply is running.
func (s *Session) SetConfig(cfg model.GenerationConfig, adapter model.ProviderAdapter) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return model.ErrBusy
	}
	s.cfg = cfg.Clone()
	if adapter != nil {
		s.adapter = adapter
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// OnUpdate registers fn to receive a snapshot after every change.
// fn runs on the goroutine that made the change and must not block.
func (s *Session) OnUpdate(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:         s.id,
		Title:      s.title,
		Config:     s.cfg.Clone(),
		IsReplying: s.cancel != nil,
		Editing:    s.editing,
		UpdatedAt:  s.updatedAt,
	}
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	s.mu.Unlock()

	snap.Messages = s.transcript.Messages()
	snap.ResetMarker = s.transcript.ResetMarker()
	return snap
}

// IsReplying reports whether a reply is running.
func (s *Session) IsReplying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Err returns the error of the last failed turn, cleared by the next send.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) notify() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	observers := append([]func(Snapshot){}, s.observers...)
	s.mu.Unlock()
	if len(observers) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range observers {
		fn(snap)
	}
}

// begin claims the session's reply slot.
func (s *Session) begin() (context.Context, chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, nil, model.ErrBusy
	}
	if s.adapter == nil {
		return nil, nil, fmt.Errorf("session %s has no provider configured", s.id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	return ctx, s.done, nil
}

// abort releases a slot claimed by begin when no turn was started.
func (s *Session) abort(done chan struct{}) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = nil
	s.mu.Unlock()
	close(done)
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.mu.Lock()
	cfg := s.cfg.Clone()
	adapter := s.adapter
	s.mu.Unlock()
	cfg.ConversationID = s.id

	env := tools.Env{ConversationID: s.id, Attachments: s.attachments}
	res := s.coordinator.Run(ctx, adapter, s.transcript, cfg, env)
	s.transcript.ClearReplying()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Session] %s reply finished: %s", s.id, res.State)
	}

	s.mu.Lock()
	s.cancel()
	s.cancel = nil
	if res.State == TurnFailed {
		s.err = res.Err
	}
	s.mu.Unlock()

	s.persist()
	s.notify()
}

func (s *Session) persist() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(s.Snapshot()); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[Session] Failed to save %s: %v", s.id, err)
	}
}

// SendInput adds a user message and starts a reply. In editing mode the edited
// message is rewritten instead and everything after it is dropped.
// It returns model.ErrBusy, changing nothing, while a reply is running.
func (s *Session) SendInput(text string, attachments []model.Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return fmt.Errorf("empty message: %w", model.ErrValidation)
	}
	ctx, done, err := s.begin()
	if err != nil {
		return err
	}

	s.mu.Lock()
	editing := s.editing
	s.editing = ""
	s.mu.Unlock()

	if editing != "" {
		i := s.transcript.Index(editing)
		if i < 0 {
			s.abort(done)
			return fmt.Errorf("edited message %s: %w", editing, model.ErrNotFound)
		}
		s.transcript.Update(editing, func(m *model.Message) {
			m.Content = text
			if attachments != nil {
				m.Attachments = attachments
			}
		})
		s.transcript.Truncate(i + 1)
	} else {
		msg := model.NewMessage(model.RoleUser, text)
		msg.Attachments = attachments
		s.transcript.Append(msg)
	}

	go s.run(ctx, done)
	return nil
}

// BeginEdit puts the session into editing mode for a user message. The next
// SendInput rewrites it.
func (s *Session) BeginEdit(messageID string) error {
	msg, ok := s.transcript.Get(messageID)
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}
	if msg.Role != model.RoleUser {
		return fmt.Errorf("only user messages can be edited and resent, got %s", msg.Role)
	}
	s.mu.Lock()
	s.editing = messageID
	s.mu.Unlock()
	s.notify()
	return nil
}

// CancelEdit leaves editing mode.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	s.editing = ""
	s.mu.Unlock()
	s.notify()
}

// EditMessage changes a message's content. A user message is resent: history
// after it is dropped and a new reply starts. Any other message is rewritten
// in place.
func (s *Session) EditMessage(messageID, newContent string) error {
	msg, ok := s.transcript.Get(messageID)
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}
	if msg.Role != model.RoleUser {
		if s.IsReplying() {
			return model.ErrBusy
		}
		s.transcript.Update(messageID, func(m *model.Message) { m.Content = newContent })
		s.persist()
		return nil
	}

	if strings.TrimSpace(newContent) == "" {
		return fmt.Errorf("empty message: %w", model.ErrValidation)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return model.ErrBusy
	}
	s.editing = messageID
	s.mu.Unlock()
	return s.SendInput(newContent, nil)
}

// Regenerate produces a new reply. For an assistant message the reply that
// contains it is discarded and the preceding user message answered again; for
// a user message everything after it is dropped and it is answered again.
func (s *Session) Regenerate(messageID string) error {
	msg, ok := s.transcript.Get(messageID)
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}

	var keep int
	switch msg.Role {
	case model.RoleUser:
		keep = s.transcript.Index(messageID) + 1
	case model.RoleAssistant:
		msgs := s.transcript.Messages()
		i := s.transcript.Index(messageID)
		for i >= 0 && msgs[i].Role != model.RoleUser {
			i--
		}
		if i < 0 {
			return fmt.Errorf("no user message precedes %s", messageID)
		}
		keep = i + 1
	default:
		return fmt.Errorf("cannot regenerate a %s message", msg.Role)
	}

	ctx, done, err := s.begin()
	if err != nil {
		return err
	}
	s.transcript.Truncate(keep)
	go s.run(ctx, done)
	return nil
}

// StopStreaming cancels the running reply, if any. Cleanup happens on the
// reply's own goroutine; use Wait to observe it.
func (s *Session) StopStreaming() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Session] %s stop requested", s.id)
		}
		cancel()
	}
}

// Wait blocks until the running reply, if any, has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// ResetContext toggles the reset marker at messageID. Messages at or before
// the marker are no longer sent to the model.
func (s *Session) ResetContext(messageID string) error {
	if _, err := s.transcript.ToggleResetMarker(messageID); err != nil {
		return err
	}
	s.persist()
	return nil
}

// Delete removes one message. It fails with model.ErrBusy while a reply is
// running.
func (s *Session) Delete(messageID string) error {
	if s.IsReplying() {
		return model.ErrBusy
	}
	if !s.transcript.Remove(messageID) {
		return fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}
	s.persist()
	return nil
}

// Title returns the conversation title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// SetTitle renames the conversation.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	s.persist()
	s.notify()
}

const titleInstruction = "Write a short title for the conversation above."

// GenerateTitle asks the model for a title using a forked config with tools
// and streaming off, then stores it on the session.
func (s *Session) GenerateTitle(ctx context.Context) (string, error) {
	s.mu.Lock()
	cfg := s.cfg.ForTitle("")
	adapter := s.adapter
	s.mu.Unlock()
	if adapter == nil {
		return "", fmt.Errorf("session %s has no provider configured", s.id)
	}

	var history []model.Message
	for _, m := range s.transcript.Context() {
		if (m.Role == model.RoleUser || m.Role == model.RoleAssistant) && len(m.ToolCalls) == 0 && strings.TrimSpace(m.Content) != "" {
			history = append(history, model.NewMessage(m.Role, m.Content))
		}
	}
	if len(history) == 0 {
		return "", errors.New("nothing to title yet")
	}
	history = append(history, model.NewMessage(model.RoleUser, titleInstruction))

	req, err := adapter.BuildRequest(history, cfg)
	if err != nil {
		return "", fmt.Errorf("build title request: %w", err)
	}
	ev, err := adapter.NonStreamingResponse(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := cleanTitle(ev.Content)
	if title == "" {
		return "", errors.New("model returned an empty title")
	}
	s.SetTitle(title)
	return title, nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`*# ")
	return strings.TrimRight(s, ".")
}
