package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

func LoadSystemConfig() (*SystemConfig, error) {
	cfg := DefaultSystemConfig()
	settingsPath := GetSettingsFilePath()

	if !FileExists(settingsPath) {
		if err := CreateDefaultSystemConfig(); err != nil {
			return nil, fmt.Errorf("failed to create system config: %w", err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(settingsPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = DefaultSystemConfig().DataDirectory
	}
	return cfg, nil
}

// LoadUserConfig reads <dataDir>/config.toml over the defaults, writing the
// commented template first if the file does not exist.
func LoadUserConfig(dataDir string) (*UserConfig, error) {
	cfg := DefaultUserConfig()
	path := UserConfigPath(dataDir)

	if !FileExists(path) {
		if err := CreateDefaultUserConfig(dataDir); err != nil {
			return nil, fmt.Errorf("failed to create user config: %w", err)
		}
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 && DebugLog != nil {
		DebugLog.Printf("[Config] Unknown keys in %s: %v", path, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid user config %s: %w", path, err)
	}
	return cfg, nil
}

func SaveSystemConfig(cfg *SystemConfig) error {
	if err := EnsureDir(GetConfigDir()); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return encodeFile(GetSettingsFilePath(), cfg)
}

func SaveUserConfig(cfg *UserConfig, dataDir string) error {
	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return encodeFile(UserConfigPath(dataDir), cfg)
}

func encodeFile(path string, v any) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

func CreateDefaultSystemConfig() error {
	if err := EnsureDir(GetConfigDir()); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	settingsPath := GetSettingsFilePath()
	if FileExists(settingsPath) {
		return nil
	}
	if err := os.WriteFile(settingsPath, []byte(GenerateSystemConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("failed to write system config: %w", err)
	}
	return nil
}

func CreateDefaultUserConfig(dataDir string) error {
	if err := EnsureDir(dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	path := UserConfigPath(dataDir)
	if FileExists(path) {
		return nil
	}
	if err := os.WriteFile(path, []byte(GenerateUserConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}
	return nil
}

// Validate checks provider entries for duplicates and unknown vendors.
func (u *UserConfig) Validate() error {
	seen := map[string]bool{}
	for _, p := range u.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider entry without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if !knownVendor(p.Vendor) {
			return fmt.Errorf("provider %q: unknown vendor %q", p.ID, p.Vendor)
		}
	}
	switch u.Security.Method {
	case "", SecurityPlainText:
		u.Security.Method = SecurityPlainText
	case SecuritySSHKey:
		if u.Security.SSHKeyPath == "" {
			return fmt.Errorf("security method %s needs ssh_key_path", SecuritySSHKey)
		}
	default:
		return fmt.Errorf("unknown security method %q", u.Security.Method)
	}
	return nil
}
