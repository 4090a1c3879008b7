package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Diagnostics is the closed set of known per-reply diagnostic fields.
// Provider-specific extras go in the Accumulator's open metadata map.
type Diagnostics struct {
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	RequestURL   string    `json:"request_url,omitempty"`
	ChunkCount   int       `json:"chunk_count,omitempty"`
	DecodeErrors int       `json:"decode_errors,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// ToolCallSnapshot is the accumulator's frozen view of one tool call.
type ToolCallSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Args     string `json:"args,omitempty"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
}

// Accumulator holds everything observed while generating one reply: the
// assembled text, tool-call snapshots, a human-readable tool result
// summary, and diagnostics. Unlike the Ledger it outlives the generation;
// it stays in the session-wide store until evicted by age.
type Accumulator struct {
	mu sync.Mutex

	messageID     string
	fullContent   string
	toolCalls     []ToolCallSnapshot
	resultSummary string
	diag          Diagnostics
	extra         map[string]string
	lastUpdate    time.Time
}

func NewAccumulator(messageID string) *Accumulator {
	return &Accumulator{
		messageID:  messageID,
		extra:      make(map[string]string),
		lastUpdate: time.Now(),
	}
}

func (a *Accumulator) MessageID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.messageID
}

// UpdateFullContent replaces the assembled text with the running total.
func (a *Accumulator) UpdateFullContent(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fullContent = text
	a.lastUpdate = time.Now()
}

func (a *Accumulator) FullContent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fullContent
}

// AddToolCall appends a tool-call snapshot.
func (a *Accumulator) AddToolCall(snapshot ToolCallSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toolCalls = append(a.toolCalls, snapshot)
	a.lastUpdate = time.Now()
}

func (a *Accumulator) ToolCalls() []ToolCallSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ToolCallSnapshot, len(a.toolCalls))
	copy(out, a.toolCalls)
	return out
}

// UpdateToolResultSummary replaces the summary with the running total.
func (a *Accumulator) UpdateToolResultSummary(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resultSummary = text
	a.lastUpdate = time.Now()
}

func (a *Accumulator) ToolResultSummary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resultSummary
}

// SetMetadata stores a provider-specific extra. Known diagnostic fields
// belong in Diagnostics instead.
func (a *Accumulator) SetMetadata(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extra[key] = value
	a.lastUpdate = time.Now()
}

func (a *Accumulator) GetMetadata(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.extra[key]
	return value, ok
}

// MutateDiagnostics applies fn to the diagnostics under the lock.
func (a *Accumulator) MutateDiagnostics(fn func(*Diagnostics)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.diag)
	a.lastUpdate = time.Now()
}

func (a *Accumulator) Diagnostics() Diagnostics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diag
}

// RecordChunk counts a decoded stream chunk.
func (a *Accumulator) RecordChunk() {
	a.MutateDiagnostics(func(d *Diagnostics) {
		d.ChunkCount++
	})
}

// RecordDecodeError counts a malformed chunk and notes its sequence
// number and payload in the open metadata map.
func (a *Accumulator) RecordDecodeError(seq int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.diag.DecodeErrors++
	a.diag.LastError = err.Error()
	a.extra[fmt.Sprintf("decode_error_%d", seq)] = err.Error()
	a.lastUpdate = time.Now()
}

func (a *Accumulator) LastUpdate() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUpdate
}

// portableAccumulator is the export/import representation.
type portableAccumulator struct {
	MessageID         string             `json:"message_id"`
	FullContent       string             `json:"full_content,omitempty"`
	ToolCalls         []ToolCallSnapshot `json:"tool_calls,omitempty"`
	ToolResultSummary string             `json:"tool_result_summary,omitempty"`
	Diagnostics       Diagnostics        `json:"diagnostics,omitzero"`
	Extra             map[string]string  `json:"extra,omitempty"`
	LastUpdate        time.Time          `json:"last_update"`
}

// Portable serializes the accumulator for export.
func (a *Accumulator) Portable() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(portableAccumulator{
		MessageID:         a.messageID,
		FullContent:       a.fullContent,
		ToolCalls:         a.toolCalls,
		ToolResultSummary: a.resultSummary,
		Diagnostics:       a.diag,
		Extra:             a.extra,
		LastUpdate:        a.lastUpdate,
	})
}

// FromPortable rebuilds an accumulator from exported data. Data without a
// message id fails with ErrMalformedContext.
func FromPortable(data []byte) (*Accumulator, error) {
	var p portableAccumulator
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse portable accumulator: %w", err)
	}
	if p.MessageID == "" {
		return nil, ErrMalformedContext
	}

	acc := NewAccumulator(p.MessageID)
	acc.fullContent = p.FullContent
	acc.toolCalls = p.ToolCalls
	acc.resultSummary = p.ToolResultSummary
	acc.diag = p.Diagnostics
	if p.Extra != nil {
		acc.extra = p.Extra
	}
	if !p.LastUpdate.IsZero() {
		acc.lastUpdate = p.LastUpdate
	}
	return acc, nil
}

// AccumulatorStore is the session-wide accumulator map, keyed by message
// id. Safe for concurrent insertion, lookup and eviction.
type AccumulatorStore struct {
	mu   sync.RWMutex
	accs map[string]*Accumulator
}

func NewAccumulatorStore() *AccumulatorStore {
	return &AccumulatorStore{accs: make(map[string]*Accumulator)}
}

// GetOrCreate returns the accumulator for a message, creating it if
// absent.
func (s *AccumulatorStore) GetOrCreate(messageID string) *Accumulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accs[messageID]; ok {
		return acc
	}
	acc := NewAccumulator(messageID)
	s.accs[messageID] = acc
	return acc
}

func (s *AccumulatorStore) Get(messageID string) (*Accumulator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accs[messageID]
	return acc, ok
}

// Put inserts or replaces an accumulator, keyed by its message id.
func (s *AccumulatorStore) Put(acc *Accumulator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accs[acc.MessageID()] = acc
}

// Len reports the number of stored accumulators.
func (s *AccumulatorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accs)
}

// CleanupOlderThan evicts accumulators not updated within maxAge and
// returns the count evicted.
func (s *AccumulatorStore) CleanupOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, acc := range s.accs {
		if acc.LastUpdate().Before(cutoff) {
			delete(s.accs, id)
			evicted++
		}
	}
	return evicted
}
