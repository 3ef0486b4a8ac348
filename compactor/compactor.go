// Package compactor bounds the history submitted to the model for a turn,
// summarizing older messages once a conversation grows past a threshold.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"devdocs-chat/models"
	"devdocs-chat/services"
)

// Options controls when and how history is summarized
type Options struct {
	RetainedTailSize     int
	SummarizationTrigger int
	// SummaryMaxLength caps the summary in output tokens.
	SummaryMaxLength int
	Temperature      float64
	// Timeout bounds the summarization call. Zero means no deadline beyond ctx.
	Timeout time.Duration
}

// DefaultOptions returns the standard thresholds
func DefaultOptions() Options {
	return Options{
		RetainedTailSize:     20,
		SummarizationTrigger: 20,
		SummaryMaxLength:     500,
		Temperature:          0.3,
		Timeout:              60 * time.Second,
	}
}

// Compactor derives submission sets from conversation history
type Compactor struct {
	provider services.Provider
	opts     Options
}

func New(provider services.Provider, opts Options) (*Compactor, error) {
	if opts.RetainedTailSize <= 0 {
		return nil, fmt.Errorf("retained tail size must be positive, got %d", opts.RetainedTailSize)
	}
	if opts.SummarizationTrigger < opts.RetainedTailSize {
		return nil, fmt.Errorf("summarization trigger (%d) must be >= retained tail size (%d)",
			opts.SummarizationTrigger, opts.RetainedTailSize)
	}
	return &Compactor{provider: provider, opts: opts}, nil
}

// Compact returns the bounded message set for history. Short histories are
// returned verbatim. Longer ones become one summary message of the older
// segment followed by the retained tail. A failed summarization drops the
// older segment and marks the set Degraded instead of failing the turn; only
// cancellation of ctx is returned as an error. Expiry of Options.Timeout is a
// summarization failure.
func (c *Compactor) Compact(ctx context.Context, history []models.Message, language string) (models.SubmissionSet, error) {
	if len(history) <= c.opts.SummarizationTrigger {
		return models.SubmissionSet{Messages: cloneMessages(history)}, nil
	}

	split := len(history) - c.opts.RetainedTailSize
	older := history[:split]
	tail := cloneMessages(history[split:])

	summary, err := c.summarize(ctx, older, language)
	if err != nil {
		if ctx.Err() != nil {
			return models.SubmissionSet{}, ctx.Err()
		}
		log.Printf("Summarization of %d messages failed, sending tail only: %v", len(older), err)
		return models.SubmissionSet{Messages: tail, Degraded: true}, nil
	}

	return models.SubmissionSet{
		Summary: &models.Message{
			Role:      models.RoleSystemSummary,
			Content:   summary,
			CreatedAt: time.Now(),
		},
		Messages: tail,
	}, nil
}

var errEmptySummary = errors.New("summarizer returned empty text")

func (c *Compactor) summarize(ctx context.Context, older []models.Message, language string) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	completion, err := c.provider.Complete(ctx, services.CompletionRequest{
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: SummaryPrompt(older, language),
		}},
		MaxTokens:   c.opts.SummaryMaxLength,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize conversation: %w", err)
	}
	summary := strings.TrimSpace(completion.Content)
	if summary == "" {
		return "", errEmptySummary
	}
	return summary, nil
}

// SummaryPrompt renders the summarization instruction for messages, one
// "role: content" line per message in order.
func SummaryPrompt(messages []models.Message, language string) string {
	if language == "" {
		language = "general"
	}
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation in a concise way, preserving:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Relevant code examples or patterns mentioned\n")
	sb.WriteString("- User preferences or context\n\n")
	fmt.Fprintf(&sb, "Language context: %s\n\n", language)
	sb.WriteString("Conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	sb.WriteString("\nProvide a clear, concise summary:")
	return sb.String()
}

func cloneMessages(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
