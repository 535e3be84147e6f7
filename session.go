package gyanmitra

// SessionStatus is the session's in-flight marker. At most one
// session-affecting network operation runs at a time.
type SessionStatus string

const (
	StatusIdle           SessionStatus = "idle"
	StatusSending        SessionStatus = "sending"
	StatusLoadingHistory SessionStatus = "loadingHistory"
)

// Session is the client-side state of the conversation currently on screen.
// A zero-value Session is a valid new, unsaved chat: the empty
// ConversationID means the backend has not created a conversation for it
// yet. Sessions are never persisted client-side; the backend persists a
// conversation implicitly on every successful query.
//
// Session itself is not synchronized. The Reconciler owns it and mutates it
// only on its own lock, matching the single-logical-thread model of the
// product.
type Session struct {
	ConversationID string
	Messages       []Message
	Status         SessionStatus
}

// IsNew reports whether the session has no backing conversation yet.
func (s *Session) IsNew() bool { return s.ConversationID == "" }

// Snapshot returns a copy of the session safe to hand to render code.
func (s *Session) Snapshot() Session {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return Session{
		ConversationID: s.ConversationID,
		Messages:       msgs,
		Status:         s.Status,
	}
}

// reset discards all session state back to a new, unsaved chat.
func (s *Session) reset() {
	s.ConversationID = ""
	s.Messages = nil
	s.Status = StatusIdle
}

// replace swaps in a conversation loaded wholesale from history.
func (s *Session) replace(conv *Conversation) {
	s.ConversationID = conv.ID
	s.Messages = make([]Message, len(conv.Messages))
	copy(s.Messages, conv.Messages)
	s.Status = StatusIdle
}

// title derives the sidebar title from the first user message, matching how
// the backend titles conversations.
func (s *Session) title() string {
	for _, m := range s.Messages {
		if m.Role == UserRole {
			const maxTitle = 60
			if runes := []rune(m.Text); len(runes) > maxTitle {
				return string(runes[:maxTitle])
			}
			return m.Text
		}
	}
	return ""
}
