// Package gyanmitra is a Go client SDK for the GyanMitra educational chat
// backend. It provides a thin gateway over the backend's REST API together
// with the client-side state it feeds: the active chat session, a paginated
// history cache of conversation summaries, and a reconciler that keeps the
// two consistent across sends, loads and deletes.
package gyanmitra

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	// UserRole marks a message typed by the student.
	UserRole Role = "user"

	// AssistantRole marks an answer produced by the backend.
	AssistantRole Role = "assistant"
)

// FeedbackRating is a terminal thumbs rating on an assistant message. Once a
// message carries FeedbackUp or FeedbackDown the rating cannot be changed
// within the session.
type FeedbackRating string

const (
	FeedbackNone FeedbackRating = ""
	FeedbackUp   FeedbackRating = "up"
	FeedbackDown FeedbackRating = "down"
)

// Citation references the NCERT textbook passage an answer was grounded on.
type Citation struct {
	SourceLabel string `json:"source"`
	Chapter     string `json:"chapter"`
	Page        int    `json:"page"`
	Excerpt     string `json:"excerpt"`
}

// Message is a single exchange element of a conversation. Citations are
// empty for user messages.
type Message struct {
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Citations []Citation     `json:"citations,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Feedback  FeedbackRating `json:"feedback,omitempty"`

	// Failed marks an inline error placeholder appended when a send did
	// not produce an answer. Failed messages never reach the backend.
	Failed bool `json:"-"`
}

// ConversationSummary is the sidebar representation of a stored
// conversation.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationPage is one page of the remote conversation list.
type ConversationPage struct {
	Items   []ConversationSummary `json:"items"`
	HasMore bool                  `json:"hasMore"`
}

// Conversation is a fully loaded conversation with its message history.
type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// User is the authenticated student profile returned by the backend.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Grade    int      `json:"grade"`
	Subjects []string `json:"subjects"`
}

// QueryRequest carries one question to the backend. ConversationID is empty
// for the first send of a new session; the backend then creates a
// conversation and returns its id, which the caller must adopt before the
// next send.
type QueryRequest struct {
	Query          string `json:"query"`
	Grade          int    `json:"grade"`
	Subject        string `json:"subject"`
	Language       string `json:"language"`
	ConversationID string `json:"conversationId,omitempty"`
}

// QueryResult is the backend's answer to a QueryRequest.
type QueryResult struct {
	ConversationID string  `json:"conversationId"`
	Answer         Message `json:"answer"`
}

// HealthStatus reports backend readiness.
type HealthStatus struct {
	Status           string `json:"status"`
	VectorStoreReady bool   `json:"vector_store_ready"`
	LLMReady         bool   `json:"llm_ready"`
	TotalDocuments   int    `json:"total_documents"`
}

// DetectQueryLanguage mirrors the backend's language heuristic: a query
// containing any non-ASCII rune is treated as Hindi.
func DetectQueryLanguage(query string) string {
	for _, r := range query {
		if r > 127 {
			return "hindi"
		}
	}
	return "english"
}
