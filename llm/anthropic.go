package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/tools"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string, logger *slog.Logger) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	if logger == nil {
		logger = slog.Default()
	}

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
		logger: logger.With("component", "llm", "provider", "anthropic"),
	}, nil
}

// Chat sends the conversation to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, turns []conversation.Turn, availableTools []tools.Tool, opts ChatOptions) (*conversation.Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  convertTurnsToAnthropicMessages(turns),
		Tools:     convertToolsToAnthropicTools(availableTools),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: opts.SystemPrompt},
		}
	}
	if opts.ConversationID != "" {
		// Ties every request of one conversation to the same caller
		// identity on the provider side.
		params.Metadata = anthropic.MetadataParam{
			UserID: anthropic.String(opts.ConversationID),
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return a.turnFromAnthropicResponse(resp), nil
}

// convertTurnsToAnthropicMessages converts conversation turns to Anthropic's
// message format. Cache-marked blocks carry a cache_control annotation.
func convertTurnsToAnthropicMessages(turns []conversation.Turn) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, turn := range turns {
		role := anthropic.MessageParamRoleUser
		if turn.Role == conversation.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		var content []anthropic.ContentBlockParamUnion
		for _, block := range turn.Blocks {
			switch block.Type {
			case conversation.BlockTypeText:
				tb := &anthropic.TextBlockParam{Text: block.Text}
				if block.Cache {
					tb.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				content = append(content, anthropic.ContentBlockParamUnion{OfText: tb})
			case conversation.BlockTypeToolUse:
				tu := &anthropic.ToolUseBlockParam{
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				}
				if block.Cache {
					tu.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				content = append(content, anthropic.ContentBlockParamUnion{OfToolUse: tu})
			case conversation.BlockTypeToolResult:
				tr := &anthropic.ToolResultBlockParam{
					ToolUseID: block.ToolUseID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: block.Content},
					}},
				}
				if block.Cache {
					tr.CacheControl = anthropic.NewCacheControlEphemeralParam()
				}
				content = append(content, anthropic.ContentBlockParamUnion{OfToolResult: tr})
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: content})
	}
	return out
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's
// tool format, including each tool's parameter schema.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolUnionParam {
	if len(ts) == 0 {
		return nil
	}

	out := make([]anthropic.ToolUnionParam, 0, len(ts))
	for _, t := range ts {
		schema := t.InputSchema()
		tp := anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   schemaRequired(schema),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return out
}

// turnFromAnthropicResponse converts an Anthropic response into an assistant
// turn, keeping at most the first tool_use block.
func (a *AnthropicLLMClient) turnFromAnthropicResponse(resp *anthropic.Message) *conversation.Turn {
	turn := conversation.Turn{Role: conversation.RoleAssistant}
	dropped := 0

	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			turn.Blocks = append(turn.Blocks, conversation.TextBlock(c.Text))
		case anthropic.ToolUseBlock:
			if _, ok := turn.FirstToolUse(); ok {
				dropped++
				continue
			}
			var args map[string]any
			if err := json.Unmarshal(c.Input, &args); err != nil {
				a.logger.Warn("discarding tool_use with unparsable input",
					"tool", c.Name, "error", err)
				continue
			}
			turn.Blocks = append(turn.Blocks, conversation.ToolUseBlock(c.ID, c.Name, args))
		}
	}
	if dropped > 0 {
		a.logger.Debug("provider returned parallel tool calls, keeping the first",
			"dropped", dropped)
	}
	return &turn
}

// schemaRequired pulls the "required" list out of a JSON Schema map. MCP
// schemas arrive with []any after a JSON round trip, built-in tools use
// []string directly.
func schemaRequired(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
