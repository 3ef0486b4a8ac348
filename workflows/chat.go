package workflows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"devdocs-chat/compactor"
	"devdocs-chat/models"
	"devdocs-chat/relay"
	"devdocs-chat/services"
	"devdocs-chat/store"

	"github.com/google/uuid"
)

// ErrInvalidTurn marks a turn rejected before any model call
var ErrInvalidTurn = errors.New("invalid turn")

// ErrDeleteUnsupported is returned when the configured store cannot delete
var ErrDeleteUnsupported = errors.New("store does not support deletion")

// commitTimeout bounds the store writes made after the client may be gone
const commitTimeout = 10 * time.Second

// Options tunes the generation request of each turn
type Options struct {
	// QueueTurns makes a second turn on a busy conversation wait instead of
	// failing with store.ErrBusy.
	QueueTurns  bool
	MaxTokens   int
	Temperature float64
}

// ChatWorkflows runs conversation turns: append the user message, compact
// the history, relay the completion and record the assistant reply.
type ChatWorkflows struct {
	store     store.HistoryStore
	locker    store.TurnLocker
	compactor *compactor.Compactor
	relay     *relay.Relay
	opts      Options
}

// NewChatWorkflows creates a new ChatWorkflows instance
func NewChatWorkflows(hs store.HistoryStore, locker store.TurnLocker, c *compactor.Compactor, r *relay.Relay, opts Options) *ChatWorkflows {
	return &ChatWorkflows{
		store:     hs,
		locker:    locker,
		compactor: c,
		relay:     r,
		opts:      opts,
	}
}

// TurnInput contains the input for one turn. Messages holds the client's
// view of the conversation; the last entry is the new user message.
type TurnInput struct {
	ConversationID string
	Messages       []models.Message
	Language       string
	Stream         bool
}

// TurnResult is the outcome of a finished turn
type TurnResult struct {
	Text string
	// Sequence of the stored assistant message, zero when nothing was stored.
	Sequence int64
	// Token usage of the reply, when the provider reported it.
	InputTokens  int
	OutputTokens int
	Err          error
}

// Turn is a running turn. The conversation stays locked until the relay
// finishes and the reply is committed, whether or not Events is drained.
type Turn struct {
	ConversationID string
	Submission     models.SubmissionSet
	Mode           relay.Mode

	stream *relay.Stream
	done   chan struct{}
	result TurnResult
}

func (t *Turn) Events() <-chan models.Event { return t.stream.Events() }

// Wait blocks until the reply has been committed (or discarded)
func (t *Turn) Wait() TurnResult {
	<-t.done
	return t.result
}

// StartTurn validates input, takes the conversation's turn lock and starts
// the relay. Errors returned here happen before any event is produced.
func (w *ChatWorkflows) StartTurn(ctx context.Context, input TurnInput) (*Turn, error) {
	if len(input.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidTurn)
	}
	last := input.Messages[len(input.Messages)-1]
	if last.Role != models.RoleUser {
		return nil, fmt.Errorf("%w: last message must come from the user", ErrInvalidTurn)
	}
	if strings.TrimSpace(last.Content) == "" {
		return nil, fmt.Errorf("%w: empty user message", ErrInvalidTurn)
	}

	id := input.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	unlock, err := w.acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	turn, err := w.start(ctx, id, input)
	if err != nil {
		unlock()
		return nil, err
	}

	go func() {
		defer close(turn.done)
		defer unlock()
		turn.result = w.commit(id, turn.stream)
	}()
	return turn, nil
}

func (w *ChatWorkflows) acquire(ctx context.Context, id string) (func(), error) {
	if w.opts.QueueTurns {
		return w.locker.Lock(ctx, id)
	}
	return w.locker.TryLock(ctx, id)
}

func (w *ChatWorkflows) start(ctx context.Context, id string, input TurnInput) (*Turn, error) {
	history, err := w.store.GetAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	prior := input.Messages[:len(input.Messages)-1]
	if len(history) == 0 && len(prior) > 0 {
		// Conversation unknown to this store: seed it with the client's copy.
		for _, msg := range prior {
			if strings.TrimSpace(msg.Content) == "" || msg.Role == models.RoleSystemSummary {
				continue
			}
			if _, err := w.store.Append(ctx, id, msg); err != nil {
				return nil, fmt.Errorf("failed to seed history: %w", err)
			}
		}
	}

	user := input.Messages[len(input.Messages)-1]
	if _, err := w.store.Append(ctx, id, models.Message{Role: models.RoleUser, Content: user.Content}); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err = w.store.GetAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	set, err := w.compactor.Compact(ctx, history, input.Language)
	if err != nil {
		return nil, fmt.Errorf("failed to compact history: %w", err)
	}
	switch {
	case set.Summary != nil:
		if err := w.store.SetSummary(ctx, id, set.Summary.Content); err != nil {
			log.Printf("Failed to store summary for conversation %s: %v", id, err)
		}
	case set.Degraded:
		// A stale digest no longer covers the messages before the tail.
		if err := w.store.SetSummary(ctx, id, ""); err != nil {
			log.Printf("Failed to clear summary for conversation %s: %v", id, err)
		}
	}

	prompt := compactor.BuildPrompt(input.Language, set)
	mode := w.relay.ModeFor(input.Stream)
	stream := w.relay.Run(ctx, services.CompletionRequest{
		System:      prompt.System,
		Messages:    prompt.Messages,
		MaxTokens:   w.opts.MaxTokens,
		Temperature: w.opts.Temperature,
	}, mode)

	return &Turn{
		ConversationID: id,
		Submission:     set,
		Mode:           mode,
		stream:         stream,
		done:           make(chan struct{}),
	}, nil
}

// commit stores the assistant reply once the relay finished successfully.
// Partial text from an interrupted reply is discarded.
func (w *ChatWorkflows) commit(id string, stream *relay.Stream) TurnResult {
	text, err := stream.Wait()
	if err != nil {
		if len(text) > 0 {
			log.Printf("Discarding %d bytes of partial reply for conversation %s: %v", len(text), id, err)
		}
		return TurnResult{Text: text, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		log.Printf("Empty reply for conversation %s, nothing stored", id)
		return TurnResult{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	seq, err := w.store.Append(ctx, id, models.Message{Role: models.RoleAssistant, Content: text})
	if err != nil {
		log.Printf("Failed to save assistant message for conversation %s: %v", id, err)
		return TurnResult{Text: text, Err: fmt.Errorf("failed to save assistant message: %w", err)}
	}
	input, output := stream.Usage()
	return TurnResult{Text: text, Sequence: seq, InputTokens: input, OutputTokens: output}
}

// GetConversation returns the stored history and latest summary
func (w *ChatWorkflows) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	messages, err := w.store.GetAll(ctx, id)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load history: %w", err)
	}
	if len(messages) == 0 {
		return models.Conversation{}, store.ErrNotFound
	}
	summary, err := w.store.Summary(ctx, id)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load summary: %w", err)
	}
	return models.Conversation{ID: id, Messages: messages, Summary: summary}, nil
}

// DeleteConversation removes a conversation that has no turn in flight
func (w *ChatWorkflows) DeleteConversation(ctx context.Context, id string) error {
	deleter, ok := w.store.(store.Deleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	unlock, err := w.locker.TryLock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return deleter.Delete(ctx, id)
}
