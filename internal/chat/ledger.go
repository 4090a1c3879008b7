package chat

import (
	"fmt"
	"os"
	"sync"
)

// CallState tracks a tool call through its lifecycle.
type CallState int

const (
	StatePending CallState = iota
	StateCollectingArgs
	StateExecuting
	StateCompleted
	StateError
	StateTimeout
)

func (s CallState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCollectingArgs:
		return "collecting_args"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	case StateTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s CallState) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateTimeout
}

// ToolCallRecord is one attempted invocation of a named tool. ParentID is
// set when the call was requested while handling another call's result;
// records with no parent are roots.
type ToolCallRecord struct {
	ID       string
	Name     string
	ParentID string
	RawArgs  string
	State    CallState
	Reason   string
}

// Ledger tracks every tool call of exactly one in-flight reply. Records
// form a forest: root calls and the descendants spawned while processing
// their results. A Ledger is owned by a single reply generation and must
// not be shared across concurrent replies.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*ToolCallRecord
	order   []string
	aborted bool
	logf    func(format string, args ...any)
}

func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[string]*ToolCallRecord),
		logf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		},
	}
}

// Create registers a new tool call in Pending state. Duplicate or
// post-abort creations are logged and ignored.
func (l *Ledger) Create(id, name, parentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.aborted {
		l.logf("ledger: ignoring create of %s after abort", id)
		return
	}
	if _, exists := l.records[id]; exists {
		l.logf("ledger: duplicate tool call id %s", id)
		return
	}
	l.records[id] = &ToolCallRecord{
		ID:       id,
		Name:     name,
		ParentID: parentID,
		State:    StatePending,
	}
	l.order = append(l.order, id)
}

// AppendArgs concatenates an arguments fragment onto a record, in arrival
// order. Fragments are never overwritten. The record moves to
// CollectingArgs on the first fragment.
func (l *Ledger) AppendArgs(id, fragment string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[id]
	if !ok {
		l.logf("ledger: append args for unknown tool call %s", id)
		return
	}
	if l.aborted || record.State.Terminal() {
		return
	}
	record.RawArgs += fragment
	if record.State == StatePending {
		record.State = StateCollectingArgs
	}
}

// SetState transitions a record. Unknown ids are logged and ignored so
// duplicate or delayed provider signals are tolerated. After abort, all
// transitions are rejected.
func (l *Ledger) SetState(id string, state CallState, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[id]
	if !ok {
		l.logf("ledger: state change for unknown tool call %s", id)
		return
	}
	if l.aborted {
		l.logf("ledger: ignoring state change for %s after abort", id)
		return
	}
	if record.State.Terminal() {
		l.logf("ledger: ignoring state change for terminal tool call %s", id)
		return
	}
	record.State = state
	record.Reason = reason
}

// Get returns a copy of a record.
func (l *Ledger) Get(id string) (ToolCallRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[id]
	if !ok {
		return ToolCallRecord{}, false
	}
	return *record, true
}

// RootCalls returns copies of all records with no parent, in insertion
// order.
func (l *Ledger) RootCalls() []ToolCallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var roots []ToolCallRecord
	for _, id := range l.order {
		record := l.records[id]
		if record.ParentID == "" {
			roots = append(roots, *record)
		}
	}
	return roots
}

// ChainCompleted reports whether the root call and every transitive
// descendant has reached a terminal state.
func (l *Ledger) ChainCompleted(rootID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	root, ok := l.records[rootID]
	if !ok {
		return false
	}
	if !root.State.Terminal() {
		return false
	}

	// Walk descendants breadth-first over the parent links.
	frontier := []string{rootID}
	for len(frontier) > 0 {
		parent := frontier[0]
		frontier = frontier[1:]
		for _, id := range l.order {
			record := l.records[id]
			if record.ParentID != parent {
				continue
			}
			if !record.State.Terminal() {
				return false
			}
			frontier = append(frontier, id)
		}
	}
	return true
}

// Abort marks the ledger aborted and moves every non-terminal record to
// Error with reason "aborted". Idempotent: the first call returns true,
// repeats return false and change nothing.
func (l *Ledger) Abort() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.aborted {
		return false
	}
	l.aborted = true
	for _, record := range l.records {
		if !record.State.Terminal() {
			record.State = StateError
			record.Reason = "aborted"
		}
	}
	return true
}

// Aborted reports whether Abort has been called.
func (l *Ledger) Aborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

// Clear drops all records. The aborted flag is reset; a cleared ledger is
// as good as new.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*ToolCallRecord)
	l.order = nil
	l.aborted = false
}

// SetLogf overrides the destination for bookkeeping warnings.
func (l *Ledger) SetLogf(logf func(format string, args ...any)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logf = logf
}
