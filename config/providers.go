package config

import (
	"fmt"
	"strconv"

	"polychat/model"
)

// UpdateProviderField updates one provider setting and persists it.
//
// Fields:
//   - "api_key": stored in the credential store, never in config.toml
//   - "host", "enabled", "default_model": stored in config.toml
//
// A provider id not yet in [[providers]] is added for the known vendors.
func UpdateProviderField(cfg *Config, providerID, fieldName, value string) error {
	dataDir := cfg.DataDir()

	if fieldName == "api_key" {
		if cfg.CredentialStore == nil {
			return fmt.Errorf("no credential store loaded")
		}
		if value == "" {
			cfg.CredentialStore.Delete(providerID)
		} else {
			cfg.CredentialStore.Set(providerID, value)
		}
		if err := cfg.CredentialStore.Save(dataDir); err != nil {
			return fmt.Errorf("failed to persist credentials: %w", err)
		}
		return nil
	}

	p, err := cfg.User.provider(providerID)
	if err != nil {
		return err
	}

	switch fieldName {
	case "host":
		p.Host = value
	case "enabled":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("enabled must be true or false: %w", err)
		}
		p.Enabled = enabled
	case "default_model":
		p.DefaultChatModel = value
	default:
		return fmt.Errorf("unknown provider field: %s", fieldName)
	}

	if err := SaveUserConfig(&cfg.User, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// SetDefaultProvider selects the provider new conversations use.
func SetDefaultProvider(cfg *Config, providerID string) error {
	if _, ok := cfg.Provider(providerID); !ok {
		return fmt.Errorf("provider %q is not configured or not enabled", providerID)
	}
	cfg.User.DefaultProvider = providerID
	cfg.User.DefaultModel = ""
	return SaveUserConfig(&cfg.User, cfg.DataDir())
}

// provider returns the entry for id, adding one when id names a known vendor.
func (u *UserConfig) provider(id string) (*ProviderConfig, error) {
	for i := range u.Providers {
		if u.Providers[i].ID == id {
			return &u.Providers[i], nil
		}
	}
	if !knownVendor(id) {
		return nil, fmt.Errorf("unknown provider: %s", id)
	}
	u.Providers = append(u.Providers, ProviderConfig{
		ID:     id,
		Name:   providerDisplayName(model.Vendor(id)),
		Vendor: id,
	})
	return &u.Providers[len(u.Providers)-1], nil
}

func providerDisplayName(v model.Vendor) string {
	switch v {
	case model.VendorOllama:
		return "Ollama"
	case model.VendorOpenRouter:
		return "OpenRouter"
	case model.VendorAnthropic:
		return "Anthropic"
	case model.VendorOpenAI:
		return "OpenAI"
	case model.VendorGoogle:
		return "Google"
	case model.VendorVertex:
		return "Vertex AI"
	default:
		return string(v)
	}
}
