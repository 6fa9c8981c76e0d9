package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/tools"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *slog.Logger

	// The genai model carries tools and system instruction as mutable
	// state, so concurrent Chat calls must not interleave.
	mu sync.Mutex
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string, logger *slog.Logger) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GeminiLLMClient{
		client: client,
		model:  client.GenerativeModel(modelName),
		logger: logger.With("component", "llm", "provider", "gemini"),
	}, nil
}

// Close releases the underlying API connection.
func (g *GeminiLLMClient) Close() error {
	return g.client.Close()
}

// Chat sends the conversation to the Gemini API. Gemini has no caller
// identity field, so the conversation id in opts is not forwarded.
func (g *GeminiLLMClient) Chat(ctx context.Context, turns []conversation.Turn, availableTools []tools.Tool, opts ChatOptions) (*conversation.Turn, error) {
	history := convertTurnsToGeminiContent(turns)
	if len(history) == 0 {
		return nil, errors.New("conversation is empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.model.Tools = convertToolsToGeminiTools(availableTools)
	if opts.SystemPrompt != "" {
		g.model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.SystemPrompt)},
		}
	} else {
		g.model.SystemInstruction = nil
	}

	// The last message is the new prompt; everything before it is history.
	last := history[len(history)-1]
	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}

	return g.turnFromGeminiResponse(resp)
}

// convertTurnsToGeminiContent converts conversation turns to Gemini's
// content format. Function responses must name the function that produced
// them, so tool_use names are tracked by invocation id while walking.
func convertTurnsToGeminiContent(turns []conversation.Turn) []*genai.Content {
	var contents []*genai.Content
	names := make(map[string]string)

	for _, turn := range turns {
		role := "user"
		if turn.Role == conversation.RoleAssistant {
			role = "model"
		}

		var parts []genai.Part
		for _, block := range turn.Blocks {
			switch block.Type {
			case conversation.BlockTypeText:
				if block.Text != "" {
					parts = append(parts, genai.Text(block.Text))
				}
			case conversation.BlockTypeToolUse:
				names[block.ID] = block.Name
				parts = append(parts, genai.FunctionCall{
					Name: block.Name,
					Args: block.Input,
				})
			case conversation.BlockTypeToolResult:
				name, ok := names[block.ToolUseID]
				if !ok {
					// Without the originating call the result can only
					// travel as text.
					parts = append(parts, genai.Text(block.Content))
					continue
				}
				parts = append(parts, genai.FunctionResponse{
					Name:     name,
					Response: map[string]any{"result": block.Content},
				})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's
// FunctionDeclaration format, translating each tool's parameter schema.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}

	var funcDecls []*genai.FunctionDeclaration
	for _, t := range ts {
		fd := &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
		}
		// Gemini rejects object schemas with no properties; such tools go
		// out without a parameter schema.
		if schema := convertSchemaToGemini(t.InputSchema()); len(schema.Properties) > 0 {
			fd.Parameters = schema
		}
		funcDecls = append(funcDecls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchemaToGemini translates a JSON Schema map into genai's typed
// schema.
func convertSchemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{Type: geminiType(schema["type"])}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = convertSchemaToGemini(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = convertSchemaToGemini(items)
	}
	out.Required = schemaRequired(schema)
	return out
}

func geminiType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeObject
}

// turnFromGeminiResponse converts a Gemini response into an assistant turn.
// Gemini does not return invocation ids, so each function call gets a fresh
// one minted here.
func (g *GeminiLLMClient) turnFromGeminiResponse(resp *genai.GenerateContentResponse) (*conversation.Turn, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	turn := conversation.Turn{Role: conversation.RoleAssistant}
	dropped := 0
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			turn.Blocks = append(turn.Blocks, conversation.TextBlock(string(v)))
		case genai.FunctionCall:
			if _, ok := turn.FirstToolUse(); ok {
				dropped++
				continue
			}
			turn.Blocks = append(turn.Blocks,
				conversation.ToolUseBlock(conversation.NewInvocationID(), v.Name, v.Args))
		default:
			g.logger.Warn("ignoring unsupported part in Gemini response",
				"type", fmt.Sprintf("%T", v))
		}
	}
	if dropped > 0 {
		g.logger.Debug("provider returned parallel function calls, keeping the first",
			"dropped", dropped)
	}
	return &turn, nil
}
