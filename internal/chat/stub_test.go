package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/store"
)

// sliceStream replays a fixed chunk sequence.
type sliceStream struct {
	chunks []llm.Chunk
	pos    int
	closed bool
}

func (s *sliceStream) Recv() (llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// scriptAdapter serves one scripted chunk sequence per Stream call.
type scriptAdapter struct {
	mu       sync.Mutex
	turns    [][]llm.Chunk
	call     int
	embedded bool
	blocking bool
}

func (a *scriptAdapter) Name() string                   { return "script" }
func (a *scriptAdapter) SupportsEmbeddedToolCalls() bool { return a.embedded }

func (a *scriptAdapter) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{{ID: "test-model"}}, nil
}

func (a *scriptAdapter) Stream(ctx context.Context, req llm.Request) (llm.ChunkStream, error) {
	if a.blocking {
		return llm.NewChunkStream(ctx, func(ctx context.Context, out chan<- llm.Chunk) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.call >= len(a.turns) {
		return nil, fmt.Errorf("unexpected request %d", a.call)
	}
	chunks := a.turns[a.call]
	a.call++
	return &sliceStream{chunks: chunks}, nil
}

// stubHost answers tool discovery and invocation from fixed functions.
type stubHost struct {
	specs  []llm.ToolSpec
	invoke func(ctx context.Context, name string, args json.RawMessage) (string, error)
}

func (h *stubHost) Tools(ctx context.Context) ([]llm.ToolSpec, error) {
	return h.specs, nil
}

func (h *stubHost) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	return h.invoke(ctx, name, args)
}

// eventRecorder collects emitted events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (r *eventRecorder) sink(ev StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) types() []EventType {
	var types []EventType
	for _, ev := range r.all() {
		types = append(types, ev.Type)
	}
	return types
}

func (r *eventRecorder) count(t EventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// containsInOrder reports whether want appears as a subsequence of got.
func containsInOrder(got []EventType, want ...EventType) bool {
	i := 0
	for _, t := range got {
		if i < len(want) && t == want[i] {
			i++
		}
	}
	return i == len(want)
}

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu       sync.Mutex
	topics   map[string]*store.Topic
	messages map[string][]*store.Message
}

func newMemStore() *memStore {
	return &memStore{
		topics:   make(map[string]*store.Topic),
		messages: make(map[string][]*store.Message),
	}
}

func (m *memStore) CreateTopic(ctx context.Context, topic *store.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topic.ID == "" {
		topic.ID = store.NewID()
	}
	topic.CreatedAt = time.Now()
	topic.UpdatedAt = topic.CreatedAt
	clone := *topic
	m.topics[topic.ID] = &clone
	return nil
}

func (m *memStore) GetTopic(ctx context.Context, id string) (*store.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	topic, ok := m.topics[id]
	if !ok {
		return nil, nil
	}
	clone := *topic
	return &clone, nil
}

func (m *memStore) ListTopics(ctx context.Context, opts store.ListOptions) ([]store.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Topic
	for _, topic := range m.topics {
		out = append(out, *topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteTopic(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.topics, id)
	delete(m.messages, id)
	return nil
}

func (m *memStore) DeleteTopicsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, topic := range m.topics {
		if topic.UpdatedAt.Before(cutoff) {
			delete(m.topics, id)
			delete(m.messages, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) UpdateTopicModel(ctx context.Context, id, provider, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topic, ok := m.topics[id]; ok {
		topic.Provider = provider
		topic.Model = model
	}
	return nil
}

func (m *memStore) UpdatePreview(ctx context.Context, id, preview string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topic, ok := m.topics[id]; ok {
		topic.Preview = preview
	}
	return nil
}

func (m *memStore) IncrementMessageCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if topic, ok := m.topics[id]; ok {
		topic.MessageCount++
	}
	return nil
}

func (m *memStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = store.NewID()
	}
	if msg.Sequence < 0 {
		msg.Sequence = len(m.messages[msg.TopicID]) + 1
	}
	msg.CreatedAt = time.Now()
	clone := *msg
	m.messages[msg.TopicID] = append(m.messages[msg.TopicID], &clone)
	return nil
}

func (m *memStore) UpdateMessage(ctx context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.messages[msg.TopicID] {
		if stored.ID == msg.ID {
			stored.Content = msg.Content
			stored.Status = msg.Status
			stored.ToolSummary = msg.ToolSummary
			return nil
		}
	}
	return fmt.Errorf("message not found: %s", msg.ID)
}

func (m *memStore) ListMessages(ctx context.Context, topicID string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages[topicID] {
		out = append(out, *msg)
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }
