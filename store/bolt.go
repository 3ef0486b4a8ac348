package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devdocs-chat/models"

	bolt "go.etcd.io/bbolt"
)

var (
	boltMessages  = []byte("messages")
	boltSummaries = []byte("summaries")
)

// BoltStore keeps conversations in a single BoltDB file. Each conversation
// is a nested bucket under "messages" keyed by big-endian sequence number;
// summaries live in their own bucket.
type BoltStore struct {
	db *bolt.DB
}

type boltMessage struct {
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// OpenBolt opens (or creates) the database file at path
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltMessages); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltSummaries)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (s *BoltStore) Append(_ context.Context, conversationID string, msg models.Message) (int64, error) {
	var seq int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		conv, err := tx.Bucket(boltMessages).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return err
		}
		next, err := conv.NextSequence()
		if err != nil {
			return err
		}
		msg = stamp(msg, int64(next))
		data, err := json.Marshal(boltMessage{Role: msg.Role, Content: msg.Content, CreatedAt: msg.CreatedAt})
		if err != nil {
			return err
		}
		seq = msg.Sequence
		return conv.Put(seqKey(next), data)
	})
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return seq, nil
}

func (s *BoltStore) GetAll(_ context.Context, conversationID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		conv := tx.Bucket(boltMessages).Bucket([]byte(conversationID))
		if conv == nil {
			return nil
		}
		return conv.ForEach(func(k, v []byte) error {
			var bm boltMessage
			if err := json.Unmarshal(v, &bm); err != nil {
				return fmt.Errorf("unmarshal message %d: %w", binary.BigEndian.Uint64(k), err)
			}
			messages = append(messages, models.Message{
				Role:      bm.Role,
				Content:   bm.Content,
				Sequence:  int64(binary.BigEndian.Uint64(k)),
				CreatedAt: bm.CreatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return messages, nil
}

func (s *BoltStore) Summary(_ context.Context, conversationID string) (string, error) {
	var summary string
	err := s.db.View(func(tx *bolt.Tx) error {
		summary = string(tx.Bucket(boltSummaries).Get([]byte(conversationID)))
		return nil
	})
	return summary, err
}

func (s *BoltStore) SetSummary(_ context.Context, conversationID, summary string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltSummaries).Put([]byte(conversationID), []byte(summary))
	})
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	return nil
}

func (s *BoltStore) Delete(_ context.Context, conversationID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id := []byte(conversationID)
		found := false
		if tx.Bucket(boltMessages).Bucket(id) != nil {
			if err := tx.Bucket(boltMessages).DeleteBucket(id); err != nil {
				return fmt.Errorf("delete conversation: %w", err)
			}
			found = true
		}
		summaries := tx.Bucket(boltSummaries)
		if summaries.Get(id) != nil {
			if err := summaries.Delete(id); err != nil {
				return fmt.Errorf("delete summary: %w", err)
			}
			found = true
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
