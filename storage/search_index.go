package storage

import (
	"strings"
	"time"

	"polychat/model"
)

// MessageMatch is one search hit.
type MessageMatch struct {
	ConversationID    string
	ConversationTitle string
	MessageID         string
	Role              model.Role
	Preview           string
	Timestamp         time.Time
}

// SearchMessages returns the user and assistant messages containing query,
// ignoring case.
func SearchMessages(messages []model.Message, query string) []MessageMatch {
	if query == "" {
		return nil
	}
	queryLower := strings.ToLower(query)

	var matches []MessageMatch
	for _, msg := range messages {
		if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Content), queryLower) {
			continue
		}
		matches = append(matches, MessageMatch{
			MessageID: msg.ID,
			Role:      msg.Role,
			Preview:   preview(msg.Content, 100),
			Timestamp: msg.CreatedAt,
		})
	}
	return matches
}

// SearchAll searches every stored conversation, newest conversation first.
func (s *ConversationStorage) SearchAll(query string) ([]MessageMatch, error) {
	if query == "" {
		return nil, nil
	}
	list, err := s.List()
	if err != nil {
		return nil, err
	}

	var matches []MessageMatch
	for _, meta := range list {
		conv, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, m := range SearchMessages(conv.Messages, query) {
			m.ConversationID = conv.ID
			m.ConversationTitle = conv.Title
			matches = append(matches, m)
		}
	}
	return matches, nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
