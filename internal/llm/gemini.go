package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiAdapter implements Adapter using the Google Gemini API. Gemini
// delivers tool calls as fully formed FunctionCall parts rather than
// incremental deltas, so this adapter reports embedded tool-call support
// and fills Chunk.ToolCalls directly.
type GeminiAdapter struct {
	apiKey string
	model  string
}

func NewGeminiAdapter(apiKey, model string) *GeminiAdapter {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiAdapter{apiKey: apiKey, model: model}
}

func (a *GeminiAdapter) Name() string {
	return fmt.Sprintf("Gemini (%s)", a.model)
}

func (a *GeminiAdapter) SupportsEmbeddedToolCalls() bool {
	return true
}

func (a *GeminiAdapter) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: a.apiKey})
}

// ListModels returns generative models available from the Gemini API.
func (a *GeminiAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	client, err := a.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	var models []ModelInfo
	for model, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		models = append(models, ModelInfo{
			ID:          strings.TrimPrefix(model.Name, "models/"),
			DisplayName: model.DisplayName,
		})
	}
	return models, nil
}

func (a *GeminiAdapter) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	return NewChunkStream(ctx, func(ctx context.Context, out chan<- Chunk) error {
		client, err := a.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}
		if req.Temperature > 0 {
			v := req.Temperature
			config.Temperature = &v
		}
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
		}

		// With tools in play the response must be read whole so that
		// FunctionCall parts come out fully formed.
		if len(req.Tools) > 0 {
			resp, err := client.Models.GenerateContent(ctx, chooseModel(req.Model, a.model), contents, config)
			if err != nil {
				return fmt.Errorf("gemini API error: %w", err)
			}

			var calls []ToolCall
			if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
				for _, part := range resp.Candidates[0].Content.Parts {
					if part.Text != "" && !part.Thought {
						if err := emitChunk(ctx, out, Chunk{Text: part.Text}); err != nil {
							return err
						}
					}
					if part.FunctionCall != nil {
						args, _ := json.Marshal(part.FunctionCall.Args)
						calls = append(calls, ToolCall{
							ID:        part.FunctionCall.ID,
							Name:      part.FunctionCall.Name,
							Arguments: json.RawMessage(args),
						})
					}
				}
			}
			if len(calls) > 0 {
				return emitChunk(ctx, out, Chunk{ToolCalls: calls, Finish: FinishToolCalls})
			}
			return emitChunk(ctx, out, Chunk{Finish: FinishStop})
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, a.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			if text := resp.Text(); text != "" {
				if err := emitChunk(ctx, out, Chunk{Text: text}); err != nil {
					return err
				}
			}
		}
		return emitChunk(ctx, out, Chunk{Finish: FinishStop})
	}), nil
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := CollectText(msg.Parts); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			if content := buildGeminiContent(genai.RoleUser, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case RoleAssistant:
			if content := buildGeminiContent(genai.RoleModel, msg.Parts); content != nil {
				contents = append(contents, content)
			}
		case RoleTool:
			if content := buildGeminiToolResultContent(msg.Parts); content != nil {
				contents = append(contents, content)
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: toolArgsToMap(part.ToolCall.Arguments),
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiToolResultContent(parts []Part) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, part := range parts {
		if part.Type != PartToolResult || part.ToolResult == nil {
			continue
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       part.ToolResult.ID,
				Name:     part.ToolResult.Name,
				Response: map[string]any{"output": part.ToolResult.Content},
			},
		})
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func toolArgsToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]*genai.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := normalizeGeminiSchema(geminiCopySchema(spec.Schema))
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        spec.Name,
					Description: spec.Description,
					Parameters:  schemaToGenai(schema),
				},
			},
		})
	}
	return tools
}

func geminiCopySchema(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = geminiCopySchema(val)
		case []any:
			items := make([]any, len(val))
			for i, item := range val {
				if sub, ok := item.(map[string]any); ok {
					items[i] = geminiCopySchema(sub)
				} else {
					items[i] = item
				}
			}
			result[k] = items
		default:
			result[k] = v
		}
	}
	return result
}

// normalizeGeminiSchema strips JSON Schema fields the Gemini API rejects
// and recurses into nested schemas. The input must be a private copy.
func normalizeGeminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}

	for _, field := range []string{
		"$schema", "format", "exclusiveMinimum", "exclusiveMaximum",
		"minimum", "maximum", "minLength", "maxLength", "minItems",
		"maxItems", "uniqueItems", "pattern", "default", "examples",
		"const", "additionalProperties", "title",
	} {
		delete(schema, field)
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		for key, val := range props {
			if propSchema, ok := val.(map[string]any); ok {
				props[key] = normalizeGeminiSchema(propSchema)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		schema["items"] = normalizeGeminiSchema(items)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for i, item := range arr {
				if itemSchema, ok := item.(map[string]any); ok {
					arr[i] = normalizeGeminiSchema(itemSchema)
				}
			}
		}
	}

	return schema
}

func schemaToGenai(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	genSchema := &genai.Schema{
		Type:     genaiSchemaType(schema),
		Required: schemaRequired(schema),
	}
	if desc, ok := schema["description"].(string); ok {
		genSchema.Description = desc
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		genSchema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				genSchema.Properties[name] = schemaToGenai(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		genSchema.Items = schemaToGenai(items)
	}

	return genSchema
}

func genaiSchemaType(schema map[string]any) genai.Type {
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "string":
			return genai.TypeString
		case "integer":
			return genai.TypeInteger
		case "number":
			return genai.TypeNumber
		case "boolean":
			return genai.TypeBoolean
		case "array":
			return genai.TypeArray
		case "object":
			return genai.TypeObject
		}
	}
	return genai.TypeString
}
