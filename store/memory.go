package store

import (
	"context"
	"sync"

	"devdocs-chat/models"
)

type memoryConversation struct {
	mu       sync.Mutex
	messages []models.Message
	summary  string
}

// MemoryStore keeps conversations in process memory. Each conversation has
// its own mutex so appends to different ids never contend.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*memoryConversation)}
}

func (s *MemoryStore) get(id string, create bool) *memoryConversation {
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if ok || !create {
		return conv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok = s.conversations[id]; ok {
		return conv
	}
	conv = &memoryConversation{}
	s.conversations[id] = conv
	return conv
}

func (s *MemoryStore) Append(_ context.Context, conversationID string, msg models.Message) (int64, error) {
	conv := s.get(conversationID, true)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	seq := int64(len(conv.messages)) + 1
	conv.messages = append(conv.messages, stamp(msg, seq))
	return seq, nil
}

func (s *MemoryStore) GetAll(_ context.Context, conversationID string) ([]models.Message, error) {
	conv := s.get(conversationID, false)
	if conv == nil {
		return []models.Message{}, nil
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()

	out := make([]models.Message, len(conv.messages))
	copy(out, conv.messages)
	return out, nil
}

func (s *MemoryStore) Summary(_ context.Context, conversationID string) (string, error) {
	conv := s.get(conversationID, false)
	if conv == nil {
		return "", nil
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.summary, nil
}

func (s *MemoryStore) SetSummary(_ context.Context, conversationID, summary string) error {
	conv := s.get(conversationID, true)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.summary = summary
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, conversationID)
	return nil
}
