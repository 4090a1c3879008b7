package chat

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventConstructorsValidate(t *testing.T) {
	params := json.RawMessage(`{"q":"go"}`)
	events := []StreamEvent{
		SessionStartEvent("m"),
		SessionEndEvent("m"),
		SessionErrorEvent("m", errors.New("boom")),
		ModelResponseWaitingEvent("m"),
		ModelGenerationStopEvent("m"),
		TextEvent("m", "hello"),
		ToolArgsStartEvent("m", "c1", "search"),
		ToolArgsCompleteEvent("m", "c1", "search", params),
		ToolChainStartEvent("m"),
		ToolChainCompleteEvent("m", []string{"c1"}),
		McpToolStartEvent("m", "c1", "search", params),
		McpToolExecutingEvent("m", "c1", "search"),
		McpToolSuccessEvent("m", "c1", "search", "3 results"),
		McpToolErrorEvent("m", "c1", "search", "connection refused"),
		McpToolTimeoutEvent("m", "c1", "search"),
		AbortEvent("m", "user requested abort"),
	}

	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			t.Errorf("%s: %v", ev.Type, err)
		}
	}
}

func TestEventValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		ev   StreamEvent
	}{
		{"missing message id", func() StreamEvent {
			ev := TextEvent("", "hi")
			return ev
		}()},
		{"text without content", func() StreamEvent {
			ev := SessionStartEvent("m")
			ev.Type = EventText
			return ev
		}()},
		{"args complete without params", ToolArgsCompleteEvent("m", "c1", "search", nil)},
		{"tool start without params", McpToolStartEvent("m", "c1", "search", nil)},
		{"tool error without error", func() StreamEvent {
			ev := McpToolExecutingEvent("m", "c1", "search")
			ev.Type = EventMcpToolError
			return ev
		}()},
		{"chain complete without ids", ToolChainCompleteEvent("m", nil)},
		{"abort without reason", AbortEvent("m", "")},
		{"unknown type", StreamEvent{Type: "bogus", MessageID: "m", Timestamp: SessionStartEvent("m").Timestamp}},
	}

	for _, tc := range cases {
		if err := tc.ev.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestEventJSONShape(t *testing.T) {
	ev := McpToolSuccessEvent("msg-1", "call-1", "search", "3 results")
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "mcp_tool_success" {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["tool_call_id"] != "call-1" {
		t.Errorf("tool_call_id = %v", decoded["tool_call_id"])
	}
	if _, present := decoded["content"]; present {
		t.Error("empty content must be omitted")
	}
}
