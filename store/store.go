// Package store holds conversation histories and serializes turns per
// conversation.
package store

import (
	"context"
	"errors"
	"time"

	"devdocs-chat/models"
)

var (
	// ErrBusy is returned when a turn is already running for a conversation.
	ErrBusy = errors.New("conversation busy: another turn is in progress")
	// ErrNotFound is returned by Deleter implementations for unknown ids.
	ErrNotFound = errors.New("conversation not found")
)

// HistoryStore is the ordered, append-only message log of every conversation.
// Implementations must be safe for concurrent use across conversation ids.
type HistoryStore interface {
	// Append assigns the next sequence number to msg and stores it.
	Append(ctx context.Context, conversationID string, msg models.Message) (int64, error)
	// GetAll returns the history in insertion order. Unknown ids yield an empty slice.
	GetAll(ctx context.Context, conversationID string) ([]models.Message, error)
	// Summary returns the latest digest for the conversation, or "".
	Summary(ctx context.Context, conversationID string) (string, error)
	// SetSummary replaces the digest for the conversation.
	SetSummary(ctx context.Context, conversationID, summary string) error
}

// Deleter is implemented by stores that can drop a whole conversation. It is
// only reachable from the HTTP surface, never from a turn.
type Deleter interface {
	Delete(ctx context.Context, conversationID string) error
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TurnLocker grants at most one in-flight turn per conversation id.
type TurnLocker interface {
	// TryLock returns ErrBusy immediately if a turn is running.
	TryLock(ctx context.Context, conversationID string) (unlock func(), err error)
	// Lock waits until the running turn (if any) finishes or ctx is done.
	Lock(ctx context.Context, conversationID string) (unlock func(), err error)
}

func stamp(msg models.Message, seq int64) models.Message {
	msg.Sequence = seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}
