package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"polychat/config"
	"polychat/model"
	"polychat/tools"
)

// AdapterFactory builds the adapter for a provider record.
type AdapterFactory func(rec model.ProviderRecord) (model.ProviderAdapter, error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Tools         ToolExecutor
	Throttle      Throttle
	MaxToolRounds int
	NewAdapter    AdapterFactory
	Store         Store

	// Attachments resolves files of conversations that are not loaded.
	Attachments tools.AttachmentSource
}

// Manager owns the open sessions. The orchestrator, coordinator and adapters
// are shared; each session keeps its own history and reply slot.
type Manager struct {
	coordinator *Coordinator
	newAdapter  AdapterFactory
	store       Store
	fallback    tools.AttachmentSource

	mu       sync.Mutex
	sessions map[string]*Session
	adapters map[string]model.ProviderAdapter
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		coordinator: NewCoordinator(NewOrchestrator(opts.Throttle), opts.Tools, opts.MaxToolRounds),
		newAdapter:  opts.NewAdapter,
		store:       opts.Store,
		fallback:    opts.Attachments,
		sessions:    map[string]*Session{},
		adapters:    map[string]model.ProviderAdapter{},
	}
}

// adapterFor returns the cached adapter for a provider record.
func (m *Manager) adapterFor(rec model.ProviderRecord) (model.ProviderAdapter, error) {
	if rec.IsZero() {
		return nil, errors.New("no provider selected")
	}
	if m.newAdapter == nil {
		return nil, errors.New("no adapter factory configured")
	}

	key := rec.ID + "|" + string(rec.Vendor) + "|" + rec.Host
	m.mu.Lock()
	a, ok := m.adapters[key]
	m.mu.Unlock()
	if ok {
		return a, nil
	}

	a, err := m.newAdapter(rec)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", rec.ID, err)
	}
	m.mu.Lock()
	m.adapters[key] = a
	m.mu.Unlock()
	return a, nil
}

// Create opens a new, empty session.
func (m *Manager) Create(cfg model.GenerationConfig) (*Session, error) {
	return m.open(Snapshot{Config: cfg, ResetMarker: NoResetMarker})
}

// Restore opens a session from a saved snapshot. An already open session with
// the same id is returned as is.
func (m *Manager) Restore(snap Snapshot) (*Session, error) {
	if s, ok := m.Get(snap.ID); ok {
		return s, nil
	}
	return m.open(snap)
}

func (m *Manager) open(snap Snapshot) (*Session, error) {
	adapter, err := m.adapterFor(snap.Config.Provider)
	if err != nil {
		return nil, err
	}

	s := NewSession(SessionOptions{
		ID:          snap.ID,
		Title:       snap.Title,
		Messages:    snap.Messages,
		ResetMarker: snap.ResetMarker,
		Config:      snap.Config,
		Adapter:     adapter,
		Coordinator: m.coordinator,
		Attachments: m,
		Store:       m.store,
	})

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Session] Opened %s (%d messages, provider=%s model=%s)", s.ID(), len(snap.Messages), snap.Config.Provider.ID, snap.Config.Model)
	}
	return s, nil
}

// Configure switches a session to another provider or model.
func (m *Manager) Configure(id string, cfg model.GenerationConfig) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	adapter, err := m.adapterFor(cfg.Provider)
	if err != nil {
		return err
	}
	return s.SetConfig(cfg, adapter)
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the open sessions, most recently updated first.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Snapshot().UpdatedAt.After(out[j].Snapshot().UpdatedAt)
	})
	return out
}

// Close stops a session's reply and forgets it.
func (m *Manager) Close(id string) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	s.StopStreaming()
	s.Wait()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Shutdown stops every running reply.
func (m *Manager) Shutdown() {
	for _, s := range m.Sessions() {
		s.StopStreaming()
	}
	for _, s := range m.Sessions() {
		s.Wait()
	}
}

// Attachment implements tools.AttachmentSource over open sessions, falling
// back to stored attachments.
func (m *Manager) Attachment(ctx context.Context, conversationID, name string) (model.Attachment, error) {
	if s, ok := m.Get(conversationID); ok {
		// Restored conversations carry attachment metadata without payloads.
		if a, ok := s.Transcript().Attachment(name); ok && len(a.Data) > 0 {
			return a, nil
		}
	}
	if m.fallback != nil {
		return m.fallback.Attachment(ctx, conversationID, name)
	}
	return model.Attachment{}, fmt.Errorf("%s in conversation %s: %w", name, conversationID, model.ErrNotFound)
}
