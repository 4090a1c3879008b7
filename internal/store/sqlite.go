package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Schema for the conversation database.
const schema = `
CREATE TABLE IF NOT EXISTS topics (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    provider TEXT,
    model TEXT,
    preview TEXT,
    message_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
    content TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'success',
    tool_summary TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_topics_updated_at ON topics(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_topic_sequence ON messages(topic_id, sequence);
`

// schemaVersion is the current schema version.
// Fresh databases get the full schema from the schema const and start at
// this version; existing databases run migrations to reach it.
const schemaVersion = 1

// migration represents a schema migration.
type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations defines schema migrations for upgrading existing databases.
// The schema const always contains the FULL current schema; to change it,
// update the const, increment schemaVersion, and add a migration here that
// transforms old databases to match.
var migrations = []migration{}

// NewSQLiteStore opens or creates the conversation database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// initSchema initializes the database schema and runs pending migrations.
// The common case of an up-to-date schema costs a single SELECT.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if versionErr != nil && (versionErr == sql.ErrNoRows || strings.Contains(versionErr.Error(), "no such table")) {
		var tableCount int
		err := db.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name='topics'
		`).Scan(&tableCount)
		if err != nil {
			return fmt.Errorf("check topics table: %w", err)
		}

		if tableCount > 0 {
			currentVersion = 0
		} else {
			currentVersion = schemaVersion
		}

		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version > currentVersion {
			if err := m.up(db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
			if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
				return fmt.Errorf("update version to %d: %w", m.version, err)
			}
		}
	}

	return nil
}

// CreateTopic inserts a new topic.
func (s *SQLiteStore) CreateTopic(ctx context.Context, topic *Topic) error {
	if topic.ID == "" {
		topic.ID = NewID()
	}
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = time.Now()
	}
	if topic.UpdatedAt.IsZero() {
		topic.UpdatedAt = topic.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topics (id, title, provider, model, preview, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		topic.ID, topic.Title, nullString(topic.Provider), nullString(topic.Model),
		nullString(topic.Preview), topic.MessageCount, topic.CreatedAt, topic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

// GetTopic retrieves a topic by ID. Returns (nil, nil) when not found.
func (s *SQLiteStore) GetTopic(ctx context.Context, id string) (*Topic, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, provider, model, preview, message_count, created_at, updated_at
		FROM topics WHERE id = ?`, id)

	var topic Topic
	var provider, model, preview sql.NullString
	err := row.Scan(&topic.ID, &topic.Title, &provider, &model, &preview,
		&topic.MessageCount, &topic.CreatedAt, &topic.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic: %w", err)
	}
	topic.Provider = provider.String
	topic.Model = model.String
	topic.Preview = preview.String
	return &topic, nil
}

// ListTopics returns topics ordered by most recent activity.
func (s *SQLiteStore) ListTopics(ctx context.Context, opts ListOptions) ([]Topic, error) {
	query := `
		SELECT id, title, provider, model, preview, message_count, created_at, updated_at
		FROM topics WHERE 1=1`
	args := []any{}

	if opts.Provider != "" {
		query += " AND provider = ?"
		args = append(args, opts.Provider)
	}

	query += " ORDER BY updated_at DESC"

	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var topic Topic
		var provider, model, preview sql.NullString
		err := rows.Scan(&topic.ID, &topic.Title, &provider, &model, &preview,
			&topic.MessageCount, &topic.CreatedAt, &topic.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topic.Provider = provider.String
		topic.Model = model.String
		topic.Preview = preview.String
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// DeleteTopic removes a topic and its messages.
func (s *SQLiteStore) DeleteTopic(ctx context.Context, id string) error {
	// Foreign key cascade handles messages
	result, err := s.db.ExecContext(ctx, "DELETE FROM topics WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("topic not found: %s", id)
	}
	return nil
}

// DeleteTopicsOlderThan removes topics whose last activity predates
// cutoff. Messages go with them via the foreign key cascade.
func (s *SQLiteStore) DeleteTopicsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM topics WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune topics: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// UpdateTopicModel records the provider and model last used for a topic.
func (s *SQLiteStore) UpdateTopicModel(ctx context.Context, id, provider, model string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topics SET provider = ?, model = ?, updated_at = ?
		WHERE id = ?`,
		nullString(provider), nullString(model), time.Now(), id)
	return err
}

// UpdatePreview stores a short excerpt of the latest reply.
func (s *SQLiteStore) UpdatePreview(ctx context.Context, id, preview string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topics SET preview = ?, updated_at = ?
		WHERE id = ?`,
		nullString(preview), time.Now(), id)
	return err
}

// IncrementMessageCount bumps the topic's message counter.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE topics SET message_count = message_count + 1, updated_at = ?
		WHERE id = ?`,
		time.Now(), id)
	return err
}

// CreateMessage adds a message to a topic. If msg.Sequence < 0 the next
// sequence number is allocated atomically.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = StatusSuccess
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.Sequence < 0 {
		var maxSeq sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT MAX(sequence) FROM messages WHERE topic_id = ?`,
			msg.TopicID).Scan(&maxSeq)
		if err != nil {
			return fmt.Errorf("get max sequence: %w", err)
		}
		if maxSeq.Valid {
			msg.Sequence = int(maxSeq.Int64) + 1
		} else {
			msg.Sequence = 0
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, topic_id, role, content, status, tool_summary, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TopicID, msg.Role, msg.Content, string(msg.Status),
		nullString(msg.ToolSummary), msg.CreatedAt, msg.Sequence)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, "UPDATE topics SET updated_at = ? WHERE id = ?",
		time.Now(), msg.TopicID)
	if err != nil {
		return fmt.Errorf("update topic timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateMessage rewrites a message's content, status and tool summary.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, status = ?, tool_summary = ?
		WHERE id = ?`,
		msg.Content, string(msg.Status), nullString(msg.ToolSummary), msg.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("message not found: %s", msg.ID)
	}
	return nil
}

// ListMessages retrieves a topic's messages in sequence order.
func (s *SQLiteStore) ListMessages(ctx context.Context, topicID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic_id, role, content, status, tool_summary, created_at, sequence
		FROM messages
		WHERE topic_id = ?
		ORDER BY sequence ASC`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var toolSummary sql.NullString
		var status string
		err := rows.Scan(&msg.ID, &msg.TopicID, &msg.Role, &msg.Content,
			&status, &toolSummary, &msg.CreatedAt, &msg.Sequence)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Status = MessageStatus(status)
		msg.ToolSummary = toolSummary.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
