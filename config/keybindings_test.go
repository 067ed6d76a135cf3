package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeybindingDefaults(t *testing.T) {
	kb := DefaultKeybindings()

	tests := []struct {
		action, key, display string
	}{
		{"regenerate", "alt+r", "Alt+R"},
		{"generate_title", "alt+T", "Alt+Shift+T"},
		{"stop", "esc", "Esc"},
		{"unknown", "", ""},
	}
	for _, tt := range tests {
		if got := kb.Key(tt.action); got != tt.key {
			t.Errorf("Key(%q) = %q, want %q", tt.action, got, tt.key)
		}
		if got := kb.Display(tt.action); got != tt.display {
			t.Errorf("Display(%q) = %q, want %q", tt.action, got, tt.display)
		}
	}

	for _, action := range ActionNames() {
		if kb.Key(action) == "" {
			t.Errorf("action %q has no default key", action)
		}
	}
}

func TestLoadKeybindings(t *testing.T) {
	dataDir := t.TempDir()

	kb, err := LoadKeybindings(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if kb.Key("quit") != "alt+q" {
		t.Errorf("Key(quit) = %q", kb.Key("quit"))
	}

	custom := `
[modifiers]
primary = "ctrl"

[actions]
stop = "ctrl+c"
`
	if err := os.WriteFile(filepath.Join(dataDir, "keybindings.toml"), []byte(custom), 0600); err != nil {
		t.Fatal(err)
	}
	kb, err = LoadKeybindings(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if kb.Key("quit") != "ctrl+q" || kb.Key("stop") != "ctrl+c" {
		t.Errorf("quit=%q stop=%q", kb.Key("quit"), kb.Key("stop"))
	}
	if kb.Key("half_page_down") != "alt+J" {
		t.Errorf("secondary modifier should keep its default, got %q", kb.Key("half_page_down"))
	}
}
