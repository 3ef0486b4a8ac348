package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devdocs-chat/models"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each conversation as a Redis list of JSON messages. Keys
// expire after ttl of inactivity, which is how conversations are garbage
// collected.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects and pings Redis
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) messagesKey(id string) string {
	return s.prefix + "conv:" + id + ":messages"
}

func (s *RedisStore) summaryKey(id string) string {
	return s.prefix + "conv:" + id + ":summary"
}

type redisMessage struct {
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Append pushes msg onto the conversation list. The list position is the
// sequence number, so RPUSH alone assigns it atomically.
func (s *RedisStore) Append(ctx context.Context, conversationID string, msg models.Message) (int64, error) {
	msg = stamp(msg, 0)
	data, err := json.Marshal(redisMessage{Role: msg.Role, Content: msg.Content, CreatedAt: msg.CreatedAt})
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	key := s.messagesKey(conversationID)
	pipe := s.client.TxPipeline()
	push := pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, s.summaryKey(conversationID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return push.Val(), nil
}

func (s *RedisStore) GetAll(ctx context.Context, conversationID string) ([]models.Message, error) {
	raw, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	messages := make([]models.Message, 0, len(raw))
	for i, item := range raw {
		var rm redisMessage
		if err := json.Unmarshal([]byte(item), &rm); err != nil {
			return nil, fmt.Errorf("unmarshal message %d: %w", i+1, err)
		}
		messages = append(messages, models.Message{
			Role:      rm.Role,
			Content:   rm.Content,
			Sequence:  int64(i) + 1,
			CreatedAt: rm.CreatedAt,
		})
	}
	return messages, nil
}

func (s *RedisStore) Summary(ctx context.Context, conversationID string) (string, error) {
	summary, err := s.client.Get(ctx, s.summaryKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get summary: %w", err)
	}
	return summary, nil
}

func (s *RedisStore) SetSummary(ctx context.Context, conversationID, summary string) error {
	if err := s.client.Set(ctx, s.summaryKey(conversationID), summary, s.ttl).Err(); err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	n, err := s.client.Del(ctx, s.messagesKey(conversationID), s.summaryKey(conversationID)).Result()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
