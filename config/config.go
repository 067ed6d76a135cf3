package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"polychat/model"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// ProviderConfig is one [[providers]] entry. API keys never live here; they
// come from the credential store or POLYCHAT_<ID>_API_KEY.
type ProviderConfig struct {
	ID                string   `toml:"id"`
	Name              string   `toml:"name"`
	Vendor            string   `toml:"vendor"`
	Host              string   `toml:"host,omitempty"`
	Enabled           bool     `toml:"enabled"`
	EnabledModels     []string `toml:"enabled_models,omitempty"`
	DefaultChatModel  string   `toml:"default_chat_model,omitempty"`
	DefaultImageModel string   `toml:"default_image_model,omitempty"`
	DefaultSTTModel   string   `toml:"default_stt_model,omitempty"`
}

type GenerationSection struct {
	Temperature      float64 `toml:"temperature"`
	TopP             float64 `toml:"top_p"`
	FrequencyPenalty float64 `toml:"frequency_penalty"`
	PresencePenalty  float64 `toml:"presence_penalty"`
	MaxTokens        int     `toml:"max_tokens"`
}

type ToolsSection struct {
	Enabled        []string `toml:"enabled"`
	MaxToolRounds  int      `toml:"max_tool_rounds"`
	ImageProvider  string   `toml:"image_provider,omitempty"`
	ImageModel     string   `toml:"image_model,omitempty"`
	ImageSize      string   `toml:"image_size,omitempty"`
	SpeechProvider string   `toml:"speech_provider,omitempty"`
	SpeechModel    string   `toml:"speech_model,omitempty"`
}

type SearchSection struct {
	EngineID        string   `toml:"engine_id"`
	BaseURL         string   `toml:"base_url,omitempty"`
	Limit           int      `toml:"limit"`
	ExcludedDomains []string `toml:"excluded_domains"`
}

type ScrapeSection struct {
	MaxChars    int    `toml:"max_chars"`
	Concurrency int    `toml:"concurrency"`
	UserAgent   string `toml:"user_agent,omitempty"`
}

type FilesSection struct {
	MaxChars int `toml:"max_chars"`
}

type UserConfig struct {
	DefaultProvider string            `toml:"default_provider"`
	DefaultModel    string            `toml:"default_model,omitempty"`
	SystemPrompt    string            `toml:"system_prompt,omitempty"`
	Stream          bool              `toml:"stream"`
	FlushIntervalMS int               `toml:"flush_interval_ms"`
	Security        SecurityConfig    `toml:"security"`
	Generation      GenerationSection `toml:"generation"`
	Tools           ToolsSection      `toml:"tools"`
	Search          SearchSection     `toml:"search"`
	Scrape          ScrapeSection     `toml:"scrape"`
	Files           FilesSection      `toml:"files"`
	Providers       []ProviderConfig  `toml:"providers"`
}

type SecurityConfig struct {
	Method     SecurityMethod `toml:"method"`
	SSHKeyPath string         `toml:"ssh_key_path,omitempty"`
}

// Config is the resolved configuration: system settings, user settings, env
// overrides and credentials.
type Config struct {
	DataDirectory string
	User          UserConfig

	CredentialStore *CredentialStore
}

var Debug = false
var DebugLog *log.Logger

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// FlushInterval is the minimum delay between streamed UI updates.
func (c *Config) FlushInterval() time.Duration {
	if c.User.FlushIntervalMS <= 0 {
		return DefaultFlushInterval
	}
	return time.Duration(c.User.FlushIntervalMS) * time.Millisecond
}

// applyEnvOverrides applies POLYCHAT_PROVIDER and POLYCHAT_MODEL. The data
// directory override is handled in Load because it decides where the user
// config is read from.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("POLYCHAT_PROVIDER"); p != "" {
		c.User.DefaultProvider = p
	}
	if m := os.Getenv("POLYCHAT_MODEL"); m != "" {
		c.User.DefaultModel = m
	}
}

func CheckDebug() bool {
	debug := os.Getenv("POLYCHAT_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log can contain prompts and tool arguments
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (POLYCHAT_DEBUG=%s) ===", os.Getenv("POLYCHAT_DEBUG"))
	DebugLog.Printf("Log path: %s", logPath)
}

// Load reads settings.toml and <data_dir>/config.toml, creating templates on
// first run, then applies env overrides and loads credentials.
func Load() (*Config, error) {
	cfg := &Config{DataDirectory: GetDefaultDataDir()}

	if dir := os.Getenv("POLYCHAT_DATA_DIR"); dir != "" {
		cfg.DataDirectory = dir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}

	dataDir := cfg.DataDir()
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.User = *userCfg
	cfg.applyEnvOverrides()

	store := NewCredentialStore(cfg.User.Security.Method, ExpandPath(cfg.User.Security.SSHKeyPath))
	if passphrase := os.Getenv("POLYCHAT_SSH_PASSPHRASE"); passphrase != "" {
		store.SetPassphrase(passphrase)
	}
	if err := store.Load(dataDir); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	cfg.CredentialStore = store

	return cfg, nil
}

// apiKey resolves a provider's key: environment first, then the store.
func (c *Config) apiKey(providerID string) string {
	env := "POLYCHAT_" + strings.ToUpper(strings.ReplaceAll(providerID, "-", "_")) + "_API_KEY"
	if key := os.Getenv(env); key != "" {
		return key
	}
	if c.CredentialStore != nil {
		return c.CredentialStore.Get(providerID)
	}
	return ""
}

// SearchAPIKey is the Custom Search key, from POLYCHAT_SEARCH_API_KEY or the
// credential store.
func (c *Config) SearchAPIKey() string {
	return c.apiKey(SearchCredential)
}

func (c *Config) record(p ProviderConfig) model.ProviderRecord {
	return model.ProviderRecord{
		ID:                p.ID,
		Name:              p.Name,
		Host:              p.Host,
		APIKey:            c.apiKey(p.ID),
		Vendor:            model.Vendor(p.Vendor),
		EnabledModels:     append([]string(nil), p.EnabledModels...),
		DefaultChatModel:  p.DefaultChatModel,
		DefaultImageModel: p.DefaultImageModel,
		DefaultSTTModel:   p.DefaultSTTModel,
	}
}

// Providers returns the enabled providers with credentials resolved.
func (c *Config) Providers() []model.ProviderRecord {
	var out []model.ProviderRecord
	for _, p := range c.User.Providers {
		if p.Enabled {
			out = append(out, c.record(p))
		}
	}
	return out
}

// Provider looks up an enabled provider by id.
func (c *Config) Provider(id string) (model.ProviderRecord, bool) {
	for _, p := range c.User.Providers {
		if p.ID == id && p.Enabled {
			return c.record(p), true
		}
	}
	return model.ProviderRecord{}, false
}

// DefaultProvider returns default_provider, or the first enabled provider.
func (c *Config) DefaultProvider() (model.ProviderRecord, bool) {
	if rec, ok := c.Provider(c.User.DefaultProvider); ok {
		return rec, true
	}
	providers := c.Providers()
	if len(providers) == 0 {
		return model.ProviderRecord{}, false
	}
	return providers[0], true
}

// GenerationDefaults builds the config new sessions start from.
func (c *Config) GenerationDefaults() (model.GenerationConfig, error) {
	rec, ok := c.DefaultProvider()
	if !ok {
		return model.GenerationConfig{}, fmt.Errorf("no enabled provider in %s", filepath.Join(c.DataDir(), "config.toml"))
	}
	return c.GenerationFor(rec), nil
}

// GenerationFor builds a generation config for rec from the user defaults.
func (c *Config) GenerationFor(rec model.ProviderRecord) model.GenerationConfig {
	gen := model.DefaultGenerationConfig()
	gen.Provider = rec
	gen.Stream = c.User.Stream
	gen.SystemPrompt = c.User.SystemPrompt

	g := c.User.Generation
	if g.Temperature > 0 {
		gen.Temperature = g.Temperature
	}
	if g.TopP > 0 {
		gen.TopP = g.TopP
	}
	gen.FrequencyPenalty = g.FrequencyPenalty
	gen.PresencePenalty = g.PresencePenalty
	if g.MaxTokens > 0 {
		gen.MaxTokens = g.MaxTokens
	}

	gen.Model = rec.DefaultChatModel
	if c.User.DefaultModel != "" && rec.ID == c.User.DefaultProvider {
		gen.Model = c.User.DefaultModel
	}

	var enabled []model.ToolName
	for _, name := range c.User.Tools.Enabled {
		if t := model.ToolName(name); t.Known() {
			enabled = append(enabled, t)
		} else if DebugLog != nil {
			DebugLog.Printf("[Config] Ignoring unknown tool %q", name)
		}
	}
	return gen.WithTools(enabled...)
}
