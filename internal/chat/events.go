package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the stream event variants.
type EventType string

const (
	EventSessionStart         EventType = "session_start"
	EventSessionEnd           EventType = "session_end"
	EventSessionError         EventType = "session_error"
	EventModelResponseWaiting EventType = "model_response_waiting"
	EventModelGenerationStop  EventType = "model_generation_stop"
	EventText                 EventType = "text"
	EventToolArgsStart        EventType = "tool_args_start"
	EventToolArgsComplete     EventType = "tool_args_complete"
	EventToolChainStart       EventType = "tool_chain_start"
	EventToolChainComplete    EventType = "tool_chain_complete"
	EventMcpToolStart         EventType = "mcp_tool_start"
	EventMcpToolExecuting     EventType = "mcp_tool_executing"
	EventMcpToolSuccess       EventType = "mcp_tool_success"
	EventMcpToolError         EventType = "mcp_tool_error"
	EventMcpToolTimeout       EventType = "mcp_tool_timeout"
	EventAbort                EventType = "abort"
)

// StreamEvent is one notification on a reply's event feed. Events are
// delivered to the consumer strictly in emission order; the shape of each
// variant is the stable contract any UI or logging consumer depends on.
type StreamEvent struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`

	Content string `json:"content,omitempty"`

	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`

	ToolCallIDs []string `json:"tool_call_ids,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// EventSink receives every event for a reply, in order.
type EventSink func(StreamEvent)

func newEvent(t EventType, messageID string) StreamEvent {
	return StreamEvent{Type: t, MessageID: messageID, Timestamp: time.Now()}
}

func SessionStartEvent(messageID string) StreamEvent {
	return newEvent(EventSessionStart, messageID)
}

func SessionEndEvent(messageID string) StreamEvent {
	return newEvent(EventSessionEnd, messageID)
}

func SessionErrorEvent(messageID string, err error) StreamEvent {
	ev := newEvent(EventSessionError, messageID)
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func ModelResponseWaitingEvent(messageID string) StreamEvent {
	return newEvent(EventModelResponseWaiting, messageID)
}

func ModelGenerationStopEvent(messageID string) StreamEvent {
	return newEvent(EventModelGenerationStop, messageID)
}

func TextEvent(messageID, content string) StreamEvent {
	ev := newEvent(EventText, messageID)
	ev.Content = content
	return ev
}

func ToolArgsStartEvent(messageID, toolCallID, toolName string) StreamEvent {
	ev := newEvent(EventToolArgsStart, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	return ev
}

func ToolArgsCompleteEvent(messageID, toolCallID, toolName string, params json.RawMessage) StreamEvent {
	ev := newEvent(EventToolArgsComplete, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	ev.Params = params
	return ev
}

func ToolChainStartEvent(messageID string) StreamEvent {
	return newEvent(EventToolChainStart, messageID)
}

func ToolChainCompleteEvent(messageID string, toolCallIDs []string) StreamEvent {
	ev := newEvent(EventToolChainComplete, messageID)
	ev.ToolCallIDs = toolCallIDs
	return ev
}

func McpToolStartEvent(messageID, toolCallID, toolName string, params json.RawMessage) StreamEvent {
	ev := newEvent(EventMcpToolStart, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	ev.Params = params
	return ev
}

func McpToolExecutingEvent(messageID, toolCallID, toolName string) StreamEvent {
	ev := newEvent(EventMcpToolExecuting, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	return ev
}

func McpToolSuccessEvent(messageID, toolCallID, toolName, result string) StreamEvent {
	ev := newEvent(EventMcpToolSuccess, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	ev.Result = result
	return ev
}

func McpToolErrorEvent(messageID, toolCallID, toolName, errText string) StreamEvent {
	ev := newEvent(EventMcpToolError, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	ev.Error = errText
	return ev
}

func McpToolTimeoutEvent(messageID, toolCallID, toolName string) StreamEvent {
	ev := newEvent(EventMcpToolTimeout, messageID)
	ev.ToolCallID = toolCallID
	ev.ToolName = toolName
	return ev
}

func AbortEvent(messageID, reason string) StreamEvent {
	ev := newEvent(EventAbort, messageID)
	ev.Reason = reason
	return ev
}

// Validate checks that an event carries the fields its variant requires.
func (e StreamEvent) Validate() error {
	if e.MessageID == "" {
		return fmt.Errorf("event %s: missing message_id", e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %s: missing timestamp", e.Type)
	}

	switch e.Type {
	case EventSessionStart, EventSessionEnd, EventModelResponseWaiting,
		EventModelGenerationStop, EventToolChainStart:
		return nil
	case EventSessionError:
		if e.Error == "" {
			return fmt.Errorf("event %s: missing error", e.Type)
		}
	case EventText:
		if e.Content == "" {
			return fmt.Errorf("event %s: missing content", e.Type)
		}
	case EventToolArgsStart, EventMcpToolExecuting, EventMcpToolTimeout:
		if e.ToolCallID == "" || e.ToolName == "" {
			return fmt.Errorf("event %s: missing tool call id or name", e.Type)
		}
	case EventToolArgsComplete, EventMcpToolStart:
		if e.ToolCallID == "" || e.ToolName == "" {
			return fmt.Errorf("event %s: missing tool call id or name", e.Type)
		}
		if len(e.Params) == 0 {
			return fmt.Errorf("event %s: missing params", e.Type)
		}
	case EventMcpToolSuccess:
		if e.ToolCallID == "" || e.ToolName == "" {
			return fmt.Errorf("event %s: missing tool call id or name", e.Type)
		}
	case EventMcpToolError:
		if e.ToolCallID == "" || e.ToolName == "" {
			return fmt.Errorf("event %s: missing tool call id or name", e.Type)
		}
		if e.Error == "" {
			return fmt.Errorf("event %s: missing error", e.Type)
		}
	case EventToolChainComplete:
		if len(e.ToolCallIDs) == 0 {
			return fmt.Errorf("event %s: missing tool call ids", e.Type)
		}
	case EventAbort:
		if e.Reason == "" {
			return fmt.Errorf("event %s: missing reason", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type: %s", e.Type)
	}
	return nil
}
