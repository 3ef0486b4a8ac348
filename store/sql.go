package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"devdocs-chat/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects placeholder style and schema for a SQL backend
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

var schemas = map[Dialect][]string{
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sequence BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (conversation_id, sequence)
		)`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (conversation_id, sequence)
		)`,
	},
}

// SQLStore persists conversations in Postgres or SQLite
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenPostgres connects to Postgres and migrates the schema
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLStore(ctx, db, DialectPostgres)
}

// OpenSQLite opens (or creates) a SQLite database file. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: SQLite serializes writers anyway and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)
	return NewSQLStore(ctx, db, DialectSQLite)
}

// NewSQLStore wraps an open database and creates missing tables
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	for _, stmt := range schemas[dialect] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders into the dialect's form
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) ensureConversation(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		s.rebind("INSERT INTO conversations (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING"),
		id, time.Now().UTC())
	return err
}

func (s *SQLStore) Append(ctx context.Context, conversationID string, msg models.Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureConversation(ctx, tx, conversationID); err != nil {
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		s.rebind("SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = ?"),
		conversationID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read next sequence: %w", err)
	}

	msg = stamp(msg, seq)
	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO messages (id, conversation_id, sequence, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		uuid.NewString(), conversationID, msg.Sequence, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit message: %w", err)
	}
	return seq, nil
}

func (s *SQLStore) GetAll(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT sequence, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY sequence ASC"),
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.Sequence, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLStore) Summary(ctx context.Context, conversationID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT summary FROM conversations WHERE id = ?"), conversationID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get summary: %w", err)
	}
	return summary, nil
}

func (s *SQLStore) SetSummary(ctx context.Context, conversationID, summary string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO conversations (id, summary, created_at) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET summary = excluded.summary`),
		conversationID, summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE conversation_id = ?"), conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM conversations WHERE id = ?"), conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
