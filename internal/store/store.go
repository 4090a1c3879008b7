package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks the lifecycle of a stored message.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSuccess MessageStatus = "success"
	StatusError   MessageStatus = "error"
	StatusAborted MessageStatus = "aborted"
)

// Topic is a conversation thread.
type Topic struct {
	ID           string
	Title        string
	Provider     string
	Model        string
	Preview      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is a single conversation entry within a topic.
type Message struct {
	ID          string
	TopicID     string
	Role        string
	Content     string
	Status      MessageStatus
	ToolSummary string
	CreatedAt   time.Time
	Sequence    int
}

// ListOptions filters topic listings.
type ListOptions struct {
	Provider string
	Limit    int
	Offset   int
}

// Store persists topics and their messages.
type Store interface {
	CreateTopic(ctx context.Context, topic *Topic) error
	GetTopic(ctx context.Context, id string) (*Topic, error)
	ListTopics(ctx context.Context, opts ListOptions) ([]Topic, error)
	DeleteTopic(ctx context.Context, id string) error

	// UpdateTopicModel records the provider and model last used for a
	// topic so later replies can default to them.
	UpdateTopicModel(ctx context.Context, id, provider, model string) error

	// UpdatePreview stores a short excerpt of the latest reply for topic
	// listings.
	UpdatePreview(ctx context.Context, id, preview string) error

	IncrementMessageCount(ctx context.Context, id string) error

	// DeleteTopicsOlderThan removes topics with no activity since cutoff,
	// cascading to their messages, and reports how many were removed.
	DeleteTopicsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	CreateMessage(ctx context.Context, msg *Message) error
	UpdateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, topicID string) ([]Message, error)

	Close() error
}

// NewID generates a unique identifier for topics and messages.
func NewID() string {
	return uuid.NewString()
}
