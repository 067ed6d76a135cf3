// Package chat drives conversations: one streamed turn at a time, the tool
// loop that follows tool calls, and the session operations a UI binds to.
package chat

import (
	"fmt"
	"sync"

	"polychat/model"
)

// NoResetMarker means every message is part of the context.
const NoResetMarker = -1

// Transcript is the ordered message history of one conversation plus its reset
// marker. Messages are addressed by ID; indexes are only used internally.
// All methods are safe for concurrent use; readers get deep copies.
type Transcript struct {
	mu          sync.RWMutex
	messages    []model.Message
	resetMarker int
	onChange    func()
}

// NewTranscript wraps messages. A marker outside the history is ignored.
func NewTranscript(messages []model.Message, resetMarker int) *Transcript {
	t := &Transcript{resetMarker: NoResetMarker}
	for _, m := range messages {
		t.messages = append(t.messages, m.Clone())
	}
	if resetMarker >= 0 && resetMarker < len(t.messages) {
		t.resetMarker = resetMarker
	}
	return t
}

// SetOnChange registers fn to run after every mutation, outside the lock.
func (t *Transcript) SetOnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Transcript) changed() {
	t.mu.RLock()
	fn := t.onChange
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func cloneAll(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Messages returns the full history.
func (t *Transcript) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneAll(t.messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// ResetMarker returns the marker index or NoResetMarker.
func (t *Transcript) ResetMarker() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resetMarker
}

// Context returns the messages sent to a provider: everything after the reset
// marker.
func (t *Transcript) Context() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneAll(t.messages[t.resetMarker+1:])
}

// ContextBefore returns the context up to, but not including, message id.
func (t *Transcript) ContextBefore(id string) []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	end := t.indexLocked(id)
	if end < 0 {
		end = len(t.messages)
	}
	start := t.resetMarker + 1
	if start > end {
		return nil
	}
	return cloneAll(t.messages[start:end])
}

func (t *Transcript) indexLocked(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Index returns the position of message id, or -1.
func (t *Transcript) Index(id string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.indexLocked(id)
}

// Get returns a copy of message id.
func (t *Transcript) Get(id string) (model.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexLocked(id); i >= 0 {
		return t.messages[i].Clone(), true
	}
	return model.Message{}, false
}

// Append adds messages at the end.
func (t *Transcript) Append(msgs ...model.Message) {
	t.mu.Lock()
	for _, m := range msgs {
		t.messages = append(t.messages, m.Clone())
	}
	t.mu.Unlock()
	t.changed()
}

// Update applies fn to message id in place. It reports whether the message
// exists.
func (t *Transcript) Update(id string, fn func(*model.Message)) bool {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i >= 0 {
		fn(&t.messages[i])
	}
	t.mu.Unlock()
	if i >= 0 {
		t.changed()
	}
	return i >= 0
}

// Remove deletes message id. The reset marker keeps pointing at the same
// message, or at its predecessor when the marked message itself goes.
func (t *Transcript) Remove(id string) bool {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i >= 0 {
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
		if i <= t.resetMarker {
			t.resetMarker--
		}
	}
	t.mu.Unlock()
	if i >= 0 {
		t.changed()
	}
	return i >= 0
}

// Truncate keeps the first n messages. A marker beyond the new end is cleared.
func (t *Transcript) Truncate(n int) {
	t.mu.Lock()
	if n < 0 {
		n = 0
	}
	if n < len(t.messages) {
		t.messages = t.messages[:n]
	}
	if t.resetMarker >= len(t.messages) {
		t.resetMarker = NoResetMarker
	}
	t.mu.Unlock()
	t.changed()
}

// ToggleResetMarker moves the marker to message id, or clears it when it is
// already there. It returns the new marker.
func (t *Transcript) ToggleResetMarker(id string) (int, error) {
	t.mu.Lock()
	i := t.indexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		return t.ResetMarker(), fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	if t.resetMarker == i {
		t.resetMarker = NoResetMarker
	} else {
		t.resetMarker = i
	}
	marker := t.resetMarker
	t.mu.Unlock()
	t.changed()
	return marker, nil
}

// ClearReplying resets the replying flag on every message.
func (t *Transcript) ClearReplying() {
	t.mu.Lock()
	var changed bool
	for i := range t.messages {
		if t.messages[i].IsReplying {
			t.messages[i].IsReplying = false
			changed = true
		}
	}
	t.mu.Unlock()
	if changed {
		t.changed()
	}
}

// IsReplying reports whether any message is still being produced.
func (t *Transcript) IsReplying() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.messages {
		if m.IsReplying {
			return true
		}
	}
	return false
}

// Attachment finds the newest attachment called name, in user messages or
// tool results.
func (t *Transcript) Attachment(name string) (model.Attachment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		for _, a := range m.Attachments {
			if a.Name == name {
				return a, true
			}
		}
		if m.ToolResult != nil {
			for _, a := range m.ToolResult.Attachments {
				if a.Name == name {
					return a, true
				}
			}
		}
	}
	return model.Attachment{}, false
}
