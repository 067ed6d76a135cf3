package ui

import (
	"polychat/model"
)

// sessionChangedMsg signals that the bound session has a new snapshot. The
// view reads the snapshot itself, so bursts of changes collapse into one.
type sessionChangedMsg struct{}

// markdownRenderedMsg carries the rendered form of one assistant message.
type markdownRenderedMsg struct {
	MessageID string
	Source    string
	Width     int
	Rendered  string
}

// titleGeneratedMsg reports the result of a title request.
type titleGeneratedMsg struct {
	Title string
	Err   error
}

// flashMsg shows a transient status line.
type flashMsg struct {
	Text    string
	IsError bool
}

type flashClearMsg struct {
	seq int
}

// ModelChoice is one entry of the model selector.
type ModelChoice struct {
	Provider model.ProviderRecord
	Model    string
}

// Label is the text shown and matched in the selector.
func (c ModelChoice) Label() string {
	return c.Provider.ID + "/" + c.Model
}
