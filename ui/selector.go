package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"
)

// modelSelector is the fuzzy-filtered list of provider/model pairs.
type modelSelector struct {
	choices  []ModelChoice
	filtered []ModelChoice
	selected int
	input    textinput.Model
}

func newModelSelector(choices []ModelChoice) modelSelector {
	input := textinput.New()
	input.Placeholder = "filter models"
	input.Prompt = "/ "
	input.CharLimit = 100
	return modelSelector{
		choices:  choices,
		filtered: choices,
		input:    input,
	}
}

// open resets the filter and preselects current, if listed.
func (s *modelSelector) open(current ModelChoice) tea.Cmd {
	s.input.SetValue("")
	s.filtered = s.choices
	s.selected = 0
	for i, c := range s.choices {
		if c.Provider.ID == current.Provider.ID && c.Model == current.Model {
			s.selected = i
			break
		}
	}
	return s.input.Focus()
}

func (s *modelSelector) applyFilter() {
	query := s.input.Value()
	if query == "" {
		s.filtered = s.choices
	} else {
		targets := make([]string, len(s.choices))
		for i, c := range s.choices {
			targets[i] = c.Label()
		}
		matches := fuzzy.Find(query, targets)
		s.filtered = make([]ModelChoice, len(matches))
		for i, match := range matches {
			s.filtered[i] = s.choices[match.Index]
		}
	}
	if s.selected >= len(s.filtered) {
		s.selected = max(len(s.filtered)-1, 0)
	}
}

// update handles a key. It returns the picked choice once enter is pressed,
// and done when the selector should close.
func (s *modelSelector) update(msg tea.KeyMsg) (choice *ModelChoice, done bool, cmd tea.Cmd) {
	switch msg.String() {
	case "esc":
		return nil, true, nil
	case "enter":
		if len(s.filtered) == 0 {
			return nil, false, nil
		}
		c := s.filtered[s.selected]
		return &c, true, nil
	case "up", "ctrl+p", "alt+k":
		if s.selected > 0 {
			s.selected--
		}
		return nil, false, nil
	case "down", "ctrl+n", "alt+j":
		if s.selected < len(s.filtered)-1 {
			s.selected++
		}
		return nil, false, nil
	}

	s.input, cmd = s.input.Update(msg)
	s.applyFilter()
	return nil, false, cmd
}

func (s modelSelector) view(width, height int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Select model") + "\n")
	b.WriteString(s.input.View() + "\n\n")

	rows := max(height-6, 1)
	start := 0
	if s.selected >= rows {
		start = s.selected - rows + 1
	}
	end := min(start+rows, len(s.filtered))

	if len(s.filtered) == 0 {
		b.WriteString(DimStyle.Render("no matching models") + "\n")
	}
	for i := start; i < end; i++ {
		line := truncate(s.filtered[i].Label(), width-6)
		if i == s.selected {
			b.WriteString(SelectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n" + FormatFooter("Enter", "Select", "Esc", "Close") + " " +
		DimStyle.Render(fmt.Sprintf("%d/%d", len(s.filtered), len(s.choices))))
	return ModalStyle.Width(max(width-4, 20)).Render(b.String())
}
