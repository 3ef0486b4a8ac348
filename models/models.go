package models

import (
	"strings"
	"time"
)

// Role identifies who produced a message
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleSystemSummary Role = "system-summary"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystemSummary:
		return true
	}
	return false
}

// Message represents one turn in a conversation. Messages are immutable once
// appended to a store.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation represents a chat conversation and its derived state
type Conversation struct {
	ID       string    `json:"conversation_id"`
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
}

// SubmissionSet is the bounded payload sent to the model for one turn
type SubmissionSet struct {
	Summary  *Message
	Messages []Message
	// Degraded is set when summarization failed and the older segment was dropped.
	Degraded bool
}

// All returns the summary (if any) followed by the retained messages.
func (s SubmissionSet) All() []Message {
	out := make([]Message, 0, len(s.Messages)+1)
	if s.Summary != nil {
		out = append(out, *s.Summary)
	}
	return append(out, s.Messages...)
}

// Len returns the number of messages that will be submitted
func (s SubmissionSet) Len() int {
	if s.Summary != nil {
		return len(s.Messages) + 1
	}
	return len(s.Messages)
}

// MessagePart is one segment of a multi-part client message
type MessagePart struct {
	Type string `json:"type" binding:"required"`
	Text string `json:"text"`
}

// InboundMessage is a client-supplied message in either the legacy content form
// or the parts form.
type InboundMessage struct {
	Role    string        `json:"role" binding:"required,oneof=user assistant"`
	Content string        `json:"content"`
	Parts   []MessagePart `json:"parts"`
}

// Text extracts the message text from whichever form the client used
func (m InboundMessage) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ChatRequest is the request body for a chat turn
type ChatRequest struct {
	Messages       []InboundMessage `json:"messages" binding:"required,min=1,dive"`
	ConversationID string           `json:"conversation_id"`
	Language       string           `json:"language"`
	Stream         bool             `json:"stream"`
}
