package llm

import (
	"context"
	"encoding/json"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a fully assembled model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     float32
	TopP            float32
}

// FinishReason reports why the model stopped emitting a stream.
type FinishReason string

const (
	FinishNone      FinishReason = ""
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
)

// ToolCallDelta is one incremental fragment of a streamed tool call.
// The first fragment for a call carries ID and Name; later fragments may
// carry only the provider's Index plus an Arguments continuation. Complete
// is set when the provider explicitly signals the arguments are final.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
	Complete  bool
}

// Chunk is one decoded unit of a provider response stream, reduced to the
// provider-agnostic shape the orchestration core consumes.
//
// A chunk with Err set represents a frame that could not be decoded; the
// consumer is expected to record it and keep reading.
type Chunk struct {
	Text       string
	ToolDeltas []ToolCallDelta
	ToolCalls  []ToolCall // fully formed calls (embedded style)
	Finish     FinishReason
	Err        error
}

// ChunkStream yields chunks until io.EOF.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

// ModelInfo represents a model available from a provider.
type ModelInfo struct {
	ID          string
	DisplayName string
	Created     int64
}

// Adapter translates between the generic conversation shape and one
// provider's wire protocol. Stream owns the transport: it issues the
// request, decodes frames as they arrive, and yields generic chunks.
type Adapter interface {
	Name() string

	// SupportsEmbeddedToolCalls reports whether this adapter delivers tool
	// calls fully formed inside chunks (Chunk.ToolCalls) rather than as
	// incremental deltas.
	SupportsEmbeddedToolCalls() bool

	Stream(ctx context.Context, req Request) (ChunkStream, error)

	ListModels(ctx context.Context) ([]ModelInfo, error)
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// AssistantTurn builds an assistant message carrying streamed text plus the
// tool calls requested in the same turn.
func AssistantTurn(text string, calls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}

// ToolErrorMessage creates a tool result message that indicates an error.
// The error text is passed back to the model so it can respond gracefully
// instead of failing the whole reply.
func ToolErrorMessage(id, name, errorText string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: errorText,
				IsError: true,
			},
		}},
	}
}

// CollectText concatenates the text parts of a message.
func CollectText(parts []Part) string {
	var out string
	for _, part := range parts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
