package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/parleyhq/parley/internal/llm"

	"github.com/google/uuid"
)

// CompletedCall is a tool call whose arguments are fully assembled and
// which is ready for execution.
type CompletedCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// turnResult is what one request/stream cycle produced.
type turnResult struct {
	text      string
	completed []CompletedCall
	stopped   bool
}

// streamDecoder consumes one provider stream, classifies chunks into text
// deltas and tool-call deltas, and assembles tool-call arguments. Tool
// calls created during this turn are parented on parentID, which is empty
// for the first request of a reply and set to the spawning call for
// re-invocation turns.
type streamDecoder struct {
	ledger    *Ledger
	acc       *Accumulator
	messageID string
	emit      EventSink
	parentID  string

	// runningText is the reply's text total from previous turns; the
	// accumulator always holds the running total, not per-turn text.
	runningText string

	byIndex  map[int]string
	explicit map[string]bool
	order    []string
}

func newStreamDecoder(ledger *Ledger, acc *Accumulator, messageID, parentID, runningText string, emit EventSink) *streamDecoder {
	return &streamDecoder{
		ledger:      ledger,
		acc:         acc,
		messageID:   messageID,
		emit:        emit,
		parentID:    parentID,
		runningText: runningText,
		byIndex:     make(map[int]string),
		explicit:    make(map[string]bool),
	}
}

// run reads the stream to completion and returns the turn's outcome.
func (d *streamDecoder) run(stream llm.ChunkStream) (turnResult, error) {
	defer stream.Close()

	var result turnResult
	var turnText strings.Builder
	finishedToolCalls := false

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}
		d.acc.RecordChunk()

		// A chunk-level decode failure never aborts the stream; note it
		// and keep reading.
		if chunk.Err != nil {
			seq := d.acc.Diagnostics().ChunkCount
			d.acc.RecordDecodeError(seq, chunk.Err)
			continue
		}

		if chunk.Text != "" {
			turnText.WriteString(chunk.Text)
			d.acc.UpdateFullContent(d.runningText + turnText.String())
			d.emit(TextEvent(d.messageID, chunk.Text))
		}

		for _, delta := range chunk.ToolDeltas {
			d.handleDelta(delta)
		}

		// Embedded-style calls arrive fully formed; argument assembly is
		// a no-op for them.
		for _, call := range chunk.ToolCalls {
			completed := d.handleEmbedded(call)
			result.completed = append(result.completed, completed)
		}

		switch chunk.Finish {
		case llm.FinishStop:
			result.stopped = true
			d.emit(ModelGenerationStopEvent(d.messageID))
		case llm.FinishToolCalls:
			finishedToolCalls = true
		}
	}

	result.text = turnText.String()

	// Standard-style calls finalize once the provider signals the turn
	// ended for tool calls, or earlier if the adapter marked arguments
	// complete explicitly.
	for _, id := range d.order {
		record, ok := d.ledger.Get(id)
		if !ok || record.State != StateCollectingArgs && record.State != StatePending {
			continue
		}
		if d.explicit[id] || (finishedToolCalls && argsLookComplete(record.RawArgs)) {
			result.completed = append(result.completed, d.finalize(record))
		}
	}

	return result, nil
}

func (d *streamDecoder) handleDelta(delta llm.ToolCallDelta) {
	id, known := d.byIndex[delta.Index]

	// An unknown index carrying a fresh id starts a new call; the index
	// is provider bookkeeping, not identity.
	if !known || (delta.ID != "" && delta.ID != id) {
		if delta.ID == "" && !known {
			// Fragment for an index we never saw an id for; synthesize
			// one so the arguments are not lost.
			delta.ID = fmt.Sprintf("toolcall-%s", uuid.NewString()[:8])
		}
		if delta.ID != "" && delta.ID != id {
			id = delta.ID
			d.byIndex[delta.Index] = id
			d.order = append(d.order, id)
			d.ledger.Create(id, delta.Name, d.parentID)
			d.emit(ToolArgsStartEvent(d.messageID, id, delta.Name))
		}
	}

	if delta.Arguments != "" {
		d.ledger.AppendArgs(id, delta.Arguments)
	}
	if delta.Complete {
		d.explicit[id] = true
	}
}

func (d *streamDecoder) handleEmbedded(call llm.ToolCall) CompletedCall {
	id := call.ID
	if id == "" {
		id = fmt.Sprintf("toolcall-%s", uuid.NewString()[:8])
	}
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	d.ledger.Create(id, call.Name, d.parentID)
	d.ledger.AppendArgs(id, string(args))
	d.emit(ToolArgsStartEvent(d.messageID, id, call.Name))
	d.emit(ToolArgsCompleteEvent(d.messageID, id, call.Name, args))

	return CompletedCall{ID: id, Name: call.Name, Args: args}
}

func (d *streamDecoder) finalize(record ToolCallRecord) CompletedCall {
	args := json.RawMessage(record.RawArgs)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	d.emit(ToolArgsCompleteEvent(d.messageID, record.ID, record.Name, args))
	return CompletedCall{ID: record.ID, Name: record.Name, Args: args}
}

// argsLookComplete reports whether an accumulated arguments string is a
// syntactically complete JSON value. Attempt-parsing is used instead of
// closing-brace sniffing so string arguments containing braces cannot
// confuse the check.
func argsLookComplete(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	return json.Valid([]byte(trimmed))
}
