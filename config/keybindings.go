package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// KeyBindingsConfig holds modifier customization and optional per-action overrides
type KeyBindingsConfig struct {
	Modifiers ModifierConfig    `toml:"modifiers"`
	Actions   map[string]string `toml:"actions"`
}

type ModifierConfig struct {
	Primary   string `toml:"primary"`
	Secondary string `toml:"secondary"`
}

type actionDef struct {
	modifier string // "primary", "secondary", or "none"
	key      string
}

// actionRegistry maps the chat view's actions to their default keys.
var actionRegistry = map[string]actionDef{
	"quit":           {"primary", "q"},
	"send":           {"none", "enter"},
	"stop":           {"none", "esc"},
	"regenerate":     {"primary", "r"},
	"edit_last":      {"primary", "e"},
	"reset_context":  {"primary", "x"},
	"yank_last":      {"primary", "y"},
	"model_selector": {"primary", "m"},
	"toggle_tools":   {"primary", "t"},
	"new_session":    {"primary", "n"},
	"generate_title": {"secondary", "t"},
	"help":           {"primary", "h"},
	"scroll_up":      {"primary", "k"},
	"scroll_down":    {"primary", "j"},
	"half_page_up":   {"secondary", "k"},
	"half_page_down": {"secondary", "j"},
}

func DefaultKeybindings() *KeyBindingsConfig {
	return &KeyBindingsConfig{
		Modifiers: ModifierConfig{
			Primary:   "alt",
			Secondary: "alt+shift",
		},
	}
}

// LoadKeybindings loads <dataDir>/keybindings.toml, writing the template on
// first run.
func LoadKeybindings(dataDir string) (*KeyBindingsConfig, error) {
	cfg := DefaultKeybindings()
	path := filepath.Join(dataDir, "keybindings.toml")

	if !FileExists(path) {
		if err := EnsureDir(dataDir); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(GenerateKeybindingsTemplate()), 0600); err != nil {
			return nil, fmt.Errorf("failed to write keybindings: %w", err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse keybindings: %w", err)
	}
	if cfg.Modifiers.Primary == "" {
		cfg.Modifiers.Primary = "alt"
	}
	if cfg.Modifiers.Secondary == "" {
		cfg.Modifiers.Secondary = "alt+shift"
	}
	return cfg, nil
}

func GenerateKeybindingsTemplate() string {
	return `# polychat keybindings
# Location: <data_directory>/keybindings.toml

[modifiers]
primary = "alt"          # alt, ctrl, meta or super
secondary = "alt+shift"

[actions]
# Per-action overrides, for example:
#   regenerate = "ctrl+r"
#   stop = "ctrl+c"
#
# Actions: quit, send, stop, regenerate, edit_last, reset_context, yank_last,
# model_selector, toggle_tools, new_session, generate_title, help,
# scroll_up, scroll_down, half_page_up, half_page_down
`
}

// PrimaryKey builds a keybinding string with the primary modifier.
func (kb *KeyBindingsConfig) PrimaryKey(key string) string {
	return kb.Modifiers.Primary + "+" + key
}

// SecondaryKey builds a keybinding string with the secondary modifier. With a
// shift modifier a letter is reported by terminals as its upper case, so
// "alt+shift" and "t" become "alt+T".
func (kb *KeyBindingsConfig) SecondaryKey(key string) string {
	secondary := kb.Modifiers.Secondary
	if !strings.Contains(strings.ToLower(secondary), "shift") || len(key) != 1 || key[0] < 'a' || key[0] > 'z' {
		return secondary + "+" + key
	}

	var mods []string
	for _, part := range strings.Split(secondary, "+") {
		if strings.ToLower(part) != "shift" {
			mods = append(mods, part)
		}
	}
	mods = append(mods, strings.ToUpper(key))
	return strings.Join(mods, "+")
}

// Key returns the binding for action: the user override, else the default.
func (kb *KeyBindingsConfig) Key(action string) string {
	if override := kb.Actions[action]; override != "" {
		return override
	}
	def, ok := actionRegistry[action]
	if !ok {
		return ""
	}
	switch def.modifier {
	case "primary":
		return kb.PrimaryKey(def.key)
	case "secondary":
		return kb.SecondaryKey(def.key)
	default:
		return def.key
	}
}

// Display returns action's binding for help text, e.g. "Alt+Shift+T".
func (kb *KeyBindingsConfig) Display(action string) string {
	key := kb.Key(action)
	if key == "" {
		return ""
	}

	parts := strings.Split(key, "+")
	hasShift := false
	for _, p := range parts {
		if strings.EqualFold(p, "shift") {
			hasShift = true
		}
	}

	var out []string
	for i, part := range parts {
		if part == "" {
			continue
		}
		if len(part) == 1 && part[0] >= 'A' && part[0] <= 'Z' && !hasShift && i > 0 {
			out = append(out, "Shift")
		}
		out = append(out, strings.ToUpper(part[:1])+part[1:])
	}
	return strings.Join(out, "+")
}

// ActionNames lists every bindable action.
func ActionNames() []string {
	out := make([]string, 0, len(actionRegistry))
	for name := range actionRegistry {
		out = append(out, name)
	}
	return out
}
