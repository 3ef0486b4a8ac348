package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// LocalTurnLocker serializes turns within one process. Each conversation owns
// a one-slot semaphore; waiters queue on the channel in arrival order.
type LocalTurnLocker struct {
	mu    sync.Mutex
	slots map[string]*turnSlot
}

type turnSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalTurnLocker() *LocalTurnLocker {
	return &LocalTurnLocker{slots: make(map[string]*turnSlot)}
}

func (l *LocalTurnLocker) acquireSlot(id string) *turnSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &turnSlot{sem: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalTurnLocker) releaseSlot(id string, slot *turnSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *LocalTurnLocker) unlocker(id string, slot *turnSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.sem
			l.releaseSlot(id, slot)
		})
	}
}

func (l *LocalTurnLocker) TryLock(_ context.Context, conversationID string) (func(), error) {
	slot := l.acquireSlot(conversationID)
	select {
	case slot.sem <- struct{}{}:
		return l.unlocker(conversationID, slot), nil
	default:
		l.releaseSlot(conversationID, slot)
		return nil, ErrBusy
	}
}

func (l *LocalTurnLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	slot := l.acquireSlot(conversationID)
	select {
	case slot.sem <- struct{}{}:
		return l.unlocker(conversationID, slot), nil
	case <-ctx.Done():
		l.releaseSlot(conversationID, slot)
		return nil, ctx.Err()
	}
}

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTurnLocker serializes turns across service instances using SET NX with
// a TTL, so a crashed instance cannot hold a conversation forever.
type RedisTurnLocker struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	backoff time.Duration
}

func NewRedisTurnLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisTurnLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisTurnLocker{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
	}
}

func (l *RedisTurnLocker) key(id string) string {
	return l.prefix + "turn:" + id
}

func (l *RedisTurnLocker) try(ctx context.Context, id string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(id), token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire turn lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The request context may already be cancelled; release regardless.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{l.key(id)}, token).Err(); err != nil {
				log.Printf("Failed to release turn lock for %s (expires in %s): %v", id, l.ttl, err)
			}
		})
	}
	return unlock, true, nil
}

func (l *RedisTurnLocker) TryLock(ctx context.Context, conversationID string) (func(), error) {
	unlock, ok, err := l.try(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}
	return unlock, nil
}

func (l *RedisTurnLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	for {
		unlock, ok, err := l.try(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if ok {
			return unlock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}
