package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/llm"
)

// EchoToolName is the built-in fallback tool registered when no external
// tool servers are reachable, so the model always has at least one tool.
const EchoToolName = "echo"

// EchoTool returns its input message unchanged.
type EchoTool struct{}

func NewEchoTool() *EchoTool {
	return &EchoTool{}
}

func (t *EchoTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EchoToolName,
		Description: "Echo a message back verbatim. Useful for testing tool connectivity.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The message to echo back",
				},
			},
			"required":             []any{"message"},
			"additionalProperties": false,
		},
	}
}

func (t *EchoTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return "", fmt.Errorf("parse echo args: %w", err)
	}
	return payload.Message, nil
}
