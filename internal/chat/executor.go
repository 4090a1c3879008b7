package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/llm"
)

// ToolHost executes named tools. Implemented by the MCP manager, the
// built-in tool registry, or a combination of the two.
type ToolHost interface {
	Tools(ctx context.Context) ([]llm.ToolSpec, error)
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// batchTimeout bounds one whole batch of concurrent tool executions, not
// each individual call.
const batchTimeout = 30 * time.Second

// callOutcome is what one tool execution produced.
type callOutcome struct {
	call     CompletedCall
	result   string
	err      error
	timedOut bool
}

// toolExecutor runs completed tool calls against the host and folds the
// results back into conversation form so the model can continue.
type toolExecutor struct {
	host      ToolHost
	ledger    *Ledger
	acc       *Accumulator
	messageID string
	emit      EventSink
	timeout   time.Duration
}

func newToolExecutor(host ToolHost, ledger *Ledger, acc *Accumulator, messageID string, emit EventSink) *toolExecutor {
	return &toolExecutor{
		host:      host,
		ledger:    ledger,
		acc:       acc,
		messageID: messageID,
		emit:      emit,
		timeout:   batchTimeout,
	}
}

// batchResult summarizes one executed batch.
type batchResult struct {
	// messages holds the tool-result turns to append to the running
	// conversation, in call order.
	messages []llm.Message

	// firstSuccessID is the id of the first call in the batch that
	// completed successfully; calls spawned by the follow-up request are
	// parented on it.
	firstSuccessID string
}

// execute runs a batch of completed calls concurrently, racing the whole
// batch against the timeout. Every call ends in a terminal ledger state;
// events for the outcomes are emitted in call order.
func (e *toolExecutor) execute(ctx context.Context, calls []CompletedCall) (batchResult, error) {
	var batch batchResult
	if len(calls) == 0 {
		return batch, nil
	}

	for _, call := range calls {
		e.emit(McpToolStartEvent(e.messageID, call.ID, call.Name, call.Args))
		e.ledger.SetState(call.ID, StateExecuting, "")
		e.emit(McpToolExecutingEvent(e.messageID, call.ID, call.Name))
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type indexed struct {
		idx     int
		outcome callOutcome
	}
	resc := make(chan indexed, len(calls))
	for i, call := range calls {
		go func(i int, call CompletedCall) {
			result, err := e.host.Invoke(execCtx, call.Name, call.Args)
			resc <- indexed{i, callOutcome{call: call, result: result, err: err}}
		}(i, call)
	}

	outcomes := make([]*callOutcome, len(calls))
	received := 0
collect:
	for received < len(calls) {
		select {
		case r := <-resc:
			outcome := r.outcome
			outcomes[r.idx] = &outcome
			received++
		case <-execCtx.Done():
			// Batch deadline hit or the reply was aborted; stragglers
			// are resolved below.
			break collect
		}
	}

	// User abort propagates out; the orchestrator handles the terminal
	// bookkeeping.
	if err := ctx.Err(); err != nil {
		return batch, err
	}

	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)

	var summary strings.Builder
	summary.WriteString(e.acc.ToolResultSummary())

	for i, call := range calls {
		outcome := outcomes[i]
		// A call may observe the batch deadline itself and report it as
		// an error; fold that into the timeout outcome.
		if outcome != nil && timedOut && errors.Is(outcome.err, context.DeadlineExceeded) {
			outcome = nil
		}
		if outcome == nil {
			if !timedOut {
				continue
			}
			e.ledger.SetState(call.ID, StateTimeout, "tool execution timed out")
			e.emit(McpToolTimeoutEvent(e.messageID, call.ID, call.Name))
			errText := fmt.Sprintf("tool %s timed out after %s", call.Name, e.timeout)
			batch.messages = append(batch.messages, llm.ToolErrorMessage(call.ID, call.Name, errText))
			summary.WriteString(fmt.Sprintf("[%s] timeout\n", call.Name))
			e.snapshot(call.ID)
			continue
		}

		if outcome.err != nil {
			e.ledger.SetState(call.ID, StateError, outcome.err.Error())
			e.emit(McpToolErrorEvent(e.messageID, call.ID, call.Name, outcome.err.Error()))
			batch.messages = append(batch.messages, llm.ToolErrorMessage(call.ID, call.Name, outcome.err.Error()))
			summary.WriteString(fmt.Sprintf("[%s] error: %s\n", call.Name, outcome.err))
		} else {
			e.ledger.SetState(call.ID, StateCompleted, "")
			e.emit(McpToolSuccessEvent(e.messageID, call.ID, call.Name, outcome.result))
			batch.messages = append(batch.messages, llm.ToolResultMessage(call.ID, call.Name, outcome.result))
			summary.WriteString(fmt.Sprintf("[%s] %s\n", call.Name, firstLine(outcome.result)))
			if batch.firstSuccessID == "" {
				batch.firstSuccessID = call.ID
			}
		}
		e.snapshot(call.ID)
	}

	e.acc.UpdateToolResultSummary(summary.String())
	return batch, nil
}

// snapshot freezes the current ledger record into the accumulator.
func (e *toolExecutor) snapshot(id string) {
	record, ok := e.ledger.Get(id)
	if !ok {
		return
	}
	e.acc.AddToolCall(ToolCallSnapshot{
		ID:       record.ID,
		Name:     record.Name,
		ParentID: record.ParentID,
		Args:     record.RawArgs,
		State:    record.State.String(),
		Reason:   record.Reason,
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
