package main

import (
	"context"
	"fmt"

	"polychat/chat"
	"polychat/config"
	"polychat/model"
	"polychat/provider"
	"polychat/storage"
	"polychat/tools"
	"polychat/ui"
)

// app holds the wired runtime shared by the chat and ask commands.
type app struct {
	cfg           *config.Config
	attachments   *storage.AttachmentStore
	conversations *storage.ConversationStorage
	registry      *tools.Registry
	manager       *chat.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.InitDebugLog(cfg.DataDir())
	return cfg, nil
}

func loadApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	attachments, err := storage.NewAttachmentStore(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment store: %w", err)
	}
	conversations, err := storage.NewConversationStorage(cfg.DataDir(), attachments)
	if err != nil {
		attachments.Close()
		return nil, err
	}

	registry := tools.NewRegistry(toolOptions(cfg))
	manager := chat.NewManager(chat.ManagerOptions{
		Tools:         registry,
		Throttle:      chat.Throttle{Interval: cfg.FlushInterval()},
		MaxToolRounds: cfg.User.Tools.MaxToolRounds,
		NewAdapter: func(rec model.ProviderRecord) (model.ProviderAdapter, error) {
			return provider.NewAdapter(rec, registry)
		},
		Store:       conversations,
		Attachments: attachments,
	})

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Config] Data dir %s, %d providers enabled", cfg.DataDir(), len(cfg.Providers()))
	}

	return &app{
		cfg:           cfg,
		attachments:   attachments,
		conversations: conversations,
		registry:      registry,
		manager:       manager,
	}, nil
}

func (a *app) close() {
	a.manager.Shutdown()
	if err := a.attachments.Close(); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[Storage] Closing attachment store: %v", err)
	}
}

// toolOptions maps the [tools], [search], [scrape] and [files] sections onto
// the tool registry. Image and speech providers refer to [[providers]] ids.
func toolOptions(cfg *config.Config) tools.Options {
	u := cfg.User
	opts := tools.Options{
		Search: tools.SearchOptions{
			APIKey:          cfg.SearchAPIKey(),
			EngineID:        u.Search.EngineID,
			BaseURL:         u.Search.BaseURL,
			Limit:           u.Search.Limit,
			ExcludedDomains: u.Search.ExcludedDomains,
		},
		Scrape: tools.ScrapeOptions{
			MaxChars:    u.Scrape.MaxChars,
			Concurrency: u.Scrape.Concurrency,
			UserAgent:   u.Scrape.UserAgent,
		},
		Files: tools.FileOptions{MaxChars: u.Files.MaxChars},
	}

	if rec, ok := cfg.Provider(u.Tools.ImageProvider); ok {
		opts.Image = tools.ImageOptions{Provider: rec, Model: u.Tools.ImageModel, Size: u.Tools.ImageSize}
	}
	if rec, ok := cfg.Provider(u.Tools.SpeechProvider); ok {
		opts.SpeechToText = tools.SpeechOptions{Provider: rec, Model: u.Tools.SpeechModel}
	}
	return opts
}

// newSession opens an empty conversation on providerID, or the default
// provider when empty.
func (a *app) newSession(providerID, modelName string) (*chat.Session, error) {
	var rec model.ProviderRecord
	var ok bool
	if providerID != "" {
		rec, ok = a.cfg.Provider(providerID)
		if !ok {
			return nil, fmt.Errorf("provider %q is not configured or not enabled", providerID)
		}
	} else {
		rec, ok = a.cfg.DefaultProvider()
		if !ok {
			return nil, fmt.Errorf("no enabled provider; run 'polychat providers enable <id>'")
		}
	}

	gen := a.cfg.GenerationFor(rec)
	if modelName != "" {
		gen.Model = modelName
	}
	if gen.Model == "" {
		return nil, fmt.Errorf("no model set for provider %s; pass --model or run 'polychat providers model %s <name>'", rec.ID, rec.ID)
	}
	return a.manager.Create(gen)
}

// resumeSession reopens a stored conversation. Provider credentials are not
// stored with it, so the record is refreshed from the current config.
func (a *app) resumeSession(id, providerID, modelName string) (*chat.Session, error) {
	conv, err := a.conversations.Resume(context.Background(), id)
	if err != nil {
		return nil, err
	}
	snap := conv.Snapshot()

	if providerID == "" {
		providerID = snap.Config.Provider.ID
	}
	rec, ok := a.cfg.Provider(providerID)
	if !ok {
		return nil, fmt.Errorf("provider %q of conversation %s is not enabled", providerID, id)
	}
	if rec.ID != snap.Config.Provider.ID {
		snap.Config.Model = rec.DefaultChatModel
	}
	snap.Config.Provider = rec
	if modelName != "" {
		snap.Config.Model = modelName
	}
	return a.manager.Restore(snap)
}

func (a *app) openSession(resumeID string) (*chat.Session, error) {
	if resumeID != "" {
		return a.resumeSession(resumeID, providerFlag, modelFlag)
	}
	return a.newSession(providerFlag, modelFlag)
}

// modelChoices lists every enabled model of every enabled provider.
func modelChoices(cfg *config.Config) []ui.ModelChoice {
	var out []ui.ModelChoice
	for _, rec := range cfg.Providers() {
		models := rec.EnabledModels
		if len(models) == 0 && rec.DefaultChatModel != "" {
			models = []string{rec.DefaultChatModel}
		}
		for _, m := range models {
			out = append(out, ui.ModelChoice{Provider: rec, Model: m})
		}
	}
	return out
}
