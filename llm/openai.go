package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the
// OPENAI_API_KEY environment variable to be set, and honors OPENAI_BASE_URL
// for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string, logger *slog.Logger) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK returns the client by value.
	c := openai.NewClient(options...)
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAILLMClient{
		client: &c,
		model:  modelName,
		logger: logger.With("component", "llm", "provider", "openai"),
	}, nil
}

// Chat sends the conversation to OpenAI.
func (o *OpenAILLMClient) Chat(ctx context.Context, turns []conversation.Turn, availableTools []tools.Tool, opts ChatOptions) (*conversation.Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertTurnsToOpenAIMessages(turns, opts.SystemPrompt),
		Tools:    convertToolsToOpenAITools(availableTools),
	}
	if opts.ConversationID != "" {
		params.User = openai.String(opts.ConversationID)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return o.turnFromOpenAIResponse(resp), nil
}

// convertTurnsToOpenAIMessages converts conversation turns to OpenAI chat
// messages. Tool results become "tool" role messages; cache markers have no
// OpenAI equivalent and are ignored.
func convertTurnsToOpenAIMessages(turns []conversation.Turn, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}

	for _, turn := range turns {
		if turn.Role == conversation.RoleAssistant {
			msg := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: turn.Text(),
			}
			for _, tu := range turn.ToolUses() {
				argsBytes, err := json.Marshal(tu.Input)
				if err != nil {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tu.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tu.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			out = append(out, msg.ToParam())
			continue
		}

		// User turns can interleave text and tool results; results go out
		// as "tool" role messages in block order.
		var pending []string
		flush := func() {
			if len(pending) > 0 {
				out = append(out, openai.UserMessage(strings.Join(pending, "\n")))
				pending = nil
			}
		}
		for _, block := range turn.Blocks {
			switch block.Type {
			case conversation.BlockTypeText:
				pending = append(pending, block.Text)
			case conversation.BlockTypeToolResult:
				flush()
				out = append(out, openai.ToolMessage(block.Content, block.ToolUseID))
			}
		}
		flush()
	}
	return out
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI tool
// format, passing each tool's parameter schema through unchanged.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(ts))
	for _, t := range ts {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(t.InputSchema()),
		}))
	}
	return out
}

// turnFromOpenAIResponse converts an OpenAI response into an assistant turn,
// keeping at most the first tool call.
func (o *OpenAILLMClient) turnFromOpenAIResponse(resp *openai.ChatCompletion) *conversation.Turn {
	turn := conversation.Turn{Role: conversation.RoleAssistant}
	if len(resp.Choices) == 0 {
		return &turn
	}

	choice := resp.Choices[0].Message
	if choice.Content != "" {
		turn.Blocks = append(turn.Blocks, conversation.TextBlock(choice.Content))
	}
	for i, tc := range choice.ToolCalls {
		if i > 0 {
			o.logger.Debug("provider returned parallel tool calls, keeping the first",
				"dropped", len(choice.ToolCalls)-1)
			break
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			o.logger.Warn("discarding tool call with unparsable arguments",
				"tool", tc.Function.Name, "error", err)
			continue
		}
		turn.Blocks = append(turn.Blocks, conversation.ToolUseBlock(tc.ID, tc.Function.Name, args))
	}
	return &turn
}
