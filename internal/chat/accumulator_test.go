package chat

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAccumulatorRunningTotals(t *testing.T) {
	acc := NewAccumulator("msg-1")

	acc.UpdateFullContent("Hello")
	acc.UpdateFullContent("Hello, world")
	if got := acc.FullContent(); got != "Hello, world" {
		t.Errorf("FullContent = %q, want running total", got)
	}

	acc.UpdateToolResultSummary("[search] 3 results\n")
	acc.UpdateToolResultSummary("[search] 3 results\n[fetch] ok\n")
	if got := acc.ToolResultSummary(); got != "[search] 3 results\n[fetch] ok\n" {
		t.Errorf("ToolResultSummary = %q", got)
	}
}

func TestAccumulatorDiagnosticsAndMetadata(t *testing.T) {
	acc := NewAccumulator("msg-1")

	acc.RecordChunk()
	acc.RecordChunk()
	acc.RecordDecodeError(2, errors.New("bad frame"))

	diag := acc.Diagnostics()
	if diag.ChunkCount != 2 {
		t.Errorf("ChunkCount = %d, want 2", diag.ChunkCount)
	}
	if diag.DecodeErrors != 1 || diag.LastError != "bad frame" {
		t.Errorf("decode diagnostics = %d/%q", diag.DecodeErrors, diag.LastError)
	}
	if v, ok := acc.GetMetadata("decode_error_2"); !ok || v != "bad frame" {
		t.Errorf("decode error not recorded in metadata: %q, %v", v, ok)
	}

	acc.SetMetadata("provider_request_id", "req-99")
	if v, _ := acc.GetMetadata("provider_request_id"); v != "req-99" {
		t.Errorf("metadata = %q", v)
	}
}

func TestAccumulatorPortableRoundTrip(t *testing.T) {
	acc := NewAccumulator("msg-42")
	acc.UpdateFullContent("final text")
	acc.AddToolCall(ToolCallSnapshot{ID: "c1", Name: "echo", State: "completed"})
	acc.UpdateToolResultSummary("[echo] hi\n")
	acc.SetMetadata("key", "value")
	acc.MutateDiagnostics(func(d *Diagnostics) {
		d.Provider = "anthropic"
		d.Model = "claude-sonnet-4-5"
	})

	data, err := acc.Portable()
	if err != nil {
		t.Fatalf("Portable: %v", err)
	}

	restored, err := FromPortable(data)
	if err != nil {
		t.Fatalf("FromPortable: %v", err)
	}
	if restored.MessageID() != "msg-42" {
		t.Errorf("MessageID = %q", restored.MessageID())
	}
	if restored.FullContent() != "final text" {
		t.Errorf("FullContent = %q", restored.FullContent())
	}
	if calls := restored.ToolCalls(); len(calls) != 1 || calls[0].ID != "c1" {
		t.Errorf("ToolCalls = %+v", calls)
	}
	if v, _ := restored.GetMetadata("key"); v != "value" {
		t.Errorf("metadata lost in round trip: %q", v)
	}
	if diag := restored.Diagnostics(); diag.Provider != "anthropic" {
		t.Errorf("diagnostics lost in round trip: %+v", diag)
	}
}

func TestFromPortableMissingMessageID(t *testing.T) {
	_, err := FromPortable([]byte(`{"full_content":"orphan"}`))
	if !errors.Is(err, ErrMalformedContext) {
		t.Errorf("err = %v, want ErrMalformedContext", err)
	}

	if _, err := FromPortable([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestAccumulatorStoreGetOrCreate(t *testing.T) {
	s := NewAccumulatorStore()

	first := s.GetOrCreate("msg-1")
	second := s.GetOrCreate("msg-1")
	if first != second {
		t.Error("GetOrCreate returned distinct accumulators for the same id")
	}
	if _, ok := s.Get("msg-2"); ok {
		t.Error("Get reported a missing accumulator")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestAccumulatorStoreCleanup(t *testing.T) {
	s := NewAccumulatorStore()
	for i := 0; i < 3; i++ {
		acc := s.GetOrCreate(fmt.Sprintf("old-%d", i))
		acc.mu.Lock()
		acc.lastUpdate = time.Now().Add(-48 * time.Hour)
		acc.mu.Unlock()
	}
	s.GetOrCreate("fresh")

	evicted := s.CleanupOlderThan(24 * time.Hour)
	if evicted != 3 {
		t.Errorf("evicted = %d, want 3", evicted)
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("fresh accumulator evicted")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d after cleanup, want 1", s.Len())
	}
}
