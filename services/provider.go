package services

import (
	"context"
	"errors"

	"devdocs-chat/models"
)

// ErrProviderUnavailable marks failures to initiate a model call (network,
// auth, quota). Errors raised after output began are not wrapped with it.
var ErrProviderUnavailable = errors.New("model provider unavailable")

// CompletionRequest is the canonical request every provider adapter accepts
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []models.Message
	MaxTokens   int
	Temperature float64
}

// Completion is the common response model for all provider adapters
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// DeltaFunc receives each text fragment as it arrives. Returning an error
// aborts the stream.
type DeltaFunc func(fragment string) error

// Provider is a model backend. Adapters normalize their wire payloads into
// Completion and text fragments; nothing above this layer inspects provider
// response shapes.
type Provider interface {
	Name() string
	// Complete returns the whole response at once.
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	// Stream delivers fragments through onDelta until the response ends.
	Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) error
	// SupportsStreaming reports whether Stream delivers incremental output.
	SupportsStreaming() bool
}

// SummaryPrefix introduces the conversation digest inside system prompts
const SummaryPrefix = "Previous conversation summary: "

// splitSummary separates system-summary messages from the chat turns. The
// digests are returned joined so adapters can fold them into the system prompt.
func splitSummary(messages []models.Message) (summary string, turns []models.Message) {
	turns = make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystemSummary {
			if summary != "" {
				summary += "\n\n"
			}
			summary += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return summary, turns
}

// systemWithSummary appends the digest (if any) to the system prompt
func systemWithSummary(system, summary string) string {
	if summary == "" {
		return system
	}
	if system == "" {
		return SummaryPrefix + summary
	}
	return system + "\n\n" + SummaryPrefix + summary
}
