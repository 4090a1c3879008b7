package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicAdapter implements Adapter using the Anthropic API. Tool calls
// stream as indexed deltas and the content_block_stop event marks each
// call's arguments as final, so deltas from this adapter carry an explicit
// Complete signal.
type AnthropicAdapter struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicAdapter creates an Anthropic adapter. An empty apiKey falls
// back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicAdapter(apiKey, model string) (*AnthropicAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key in config and ANTHROPIC_API_KEY is not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{client: &client, model: model}, nil
}

func (a *AnthropicAdapter) Name() string {
	return fmt.Sprintf("Anthropic (%s)", a.model)
}

func (a *AnthropicAdapter) SupportsEmbeddedToolCalls() bool {
	return false
}

// ListModels returns available models from Anthropic.
func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := a.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Created:     m.CreatedAt.Unix(),
		})
	}

	return models, nil
}

func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	return NewChunkStream(ctx, func(ctx context.Context, out chan<- Chunk) error {
		system, messages := buildAnthropicMessages(req.Messages)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(chooseModel(req.Model, a.model)),
			MaxTokens: maxTokens(req.MaxOutputTokens, 4096),
			Messages:  messages,
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildAnthropicTools(req.Tools)
		}

		// Blocks that opened as tool_use, plus fallback arguments for calls
		// whose input arrived whole on the start event instead of as deltas.
		toolBlocks := make(map[int64]bool)
		fallbackArgs := make(map[int64]string)
		sawPartial := make(map[int64]bool)
		var finish FinishReason

		stream := a.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					toolBlocks[variant.Index] = true
					if raw := toolInputToRaw(block.Input); len(raw) > 0 && string(raw) != "{}" {
						fallbackArgs[variant.Index] = string(raw)
					}
					chunk := Chunk{ToolDeltas: []ToolCallDelta{{
						Index: int(variant.Index),
						ID:    block.ID,
						Name:  block.Name,
					}}}
					if err := emitChunk(ctx, out, chunk); err != nil {
						return err
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						if err := emitChunk(ctx, out, Chunk{Text: delta.Text}); err != nil {
							return err
						}
					}
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						sawPartial[variant.Index] = true
						chunk := Chunk{ToolDeltas: []ToolCallDelta{{
							Index:     int(variant.Index),
							Arguments: delta.PartialJSON,
						}}}
						if err := emitChunk(ctx, out, chunk); err != nil {
							return err
						}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if !toolBlocks[variant.Index] {
					continue
				}
				done := ToolCallDelta{Index: int(variant.Index), Complete: true}
				if !sawPartial[variant.Index] {
					done.Arguments = fallbackArgs[variant.Index]
				}
				if err := emitChunk(ctx, out, Chunk{ToolDeltas: []ToolCallDelta{done}}); err != nil {
					return err
				}
			case anthropic.MessageDeltaEvent:
				switch variant.Delta.StopReason {
				case "tool_use":
					finish = FinishToolCalls
				case "":
				default:
					finish = FinishStop
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic streaming error: %w", err)
		}
		if finish == FinishNone {
			finish = FinishStop
		}
		return emitChunk(ctx, out, Chunk{Finish: finish})
	}), nil
}

func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, CollectText(msg.Parts))
		case RoleUser:
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := buildAnthropicBlocks(msg.Parts, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Anthropic takes tool results as user-role content blocks.
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Arguments, part.ToolCall.Name))
			}
		case PartToolResult:
			if part.ToolResult != nil {
				block := anthropic.ToolResultBlockParam{
					ToolUseID: part.ToolResult.ID,
					IsError:   anthropic.Bool(part.ToolResult.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: part.ToolResult.Content}},
					},
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: &block})
			}
		}
	}
	return blocks
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	required := make([]string, 0, len(raw))
	for _, item := range raw {
		if name, ok := item.(string); ok {
			required = append(required, name)
		}
	}
	return required
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
