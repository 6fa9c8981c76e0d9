package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/tools"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
	logger  *slog.Logger
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment, and
// honors BEDROCK_ENDPOINT_URL for custom endpoints.
func NewBedrockLLMClient(ctx context.Context, modelID string, logger *slog.Logger) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	endpoint := os.Getenv("BEDROCK_ENDPOINT_URL")
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if logger == nil {
		logger = slog.Default()
	}
	bedrockLogger := logger.With("component", "llm", "provider", "bedrock")
	bedrockLogger.Info("Bedrock client ready", "model", modelID, "region", region)

	return &BedrockLLMClient{
		client:  client,
		modelID: modelID,
		logger:  bedrockLogger,
	}, nil
}

// Chat sends the conversation to the Anthropic model via AWS Bedrock. The
// Bedrock payload has no caller identity field, so the conversation id in
// opts is not forwarded.
func (b *BedrockLLMClient) Chat(ctx context.Context, turns []conversation.Turn, availableTools []tools.Tool, opts ChatOptions) (*conversation.Turn, error) {
	requestBody, err := createBedrockRequest(convertTurnsToBedrockMessages(turns), opts.SystemPrompt, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return b.turnFromBedrockResponse(resp.Body)
}

// convertTurnsToBedrockMessages converts conversation turns to the
// Anthropic-on-Bedrock message format. Cache-marked blocks carry a
// cache_control annotation.
func convertTurnsToBedrockMessages(turns []conversation.Turn) []map[string]any {
	var out []map[string]any
	for _, turn := range turns {
		role := "user"
		if turn.Role == conversation.RoleAssistant {
			role = "assistant"
		}

		var content []map[string]any
		for _, block := range turn.Blocks {
			var item map[string]any
			switch block.Type {
			case conversation.BlockTypeText:
				item = map[string]any{
					"type": "text",
					"text": block.Text,
				}
			case conversation.BlockTypeToolUse:
				item = map[string]any{
					"type":  "tool_use",
					"id":    block.ID,
					"name":  block.Name,
					"input": block.Input,
				}
			case conversation.BlockTypeToolResult:
				item = map[string]any{
					"type":        "tool_result",
					"tool_use_id": block.ToolUseID,
					"content":     block.Content,
				}
			default:
				continue
			}
			if block.Cache {
				item["cache_control"] = map[string]any{"type": "ephemeral"}
			}
			content = append(content, item)
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, map[string]any{"role": role, "content": content})
	}
	return out
}

// createBedrockRequest builds the request body for Anthropic models on
// Bedrock.
func createBedrockRequest(messages []map[string]any, systemPrompt string, availableTools []tools.Tool) ([]byte, error) {
	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}

	if systemPrompt != "" {
		request["system"] = systemPrompt
	}

	if len(availableTools) > 0 {
		var toolDefs []map[string]any
		for _, t := range availableTools {
			toolDefs = append(toolDefs, map[string]any{
				"name":         t.Name(),
				"description":  t.Description(),
				"input_schema": t.InputSchema(),
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

// turnFromBedrockResponse parses the raw Anthropic response payload into an
// assistant turn, keeping at most the first tool_use block.
func (b *BedrockLLMClient) turnFromBedrockResponse(body []byte) (*conversation.Turn, error) {
	var response map[string]any
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	turn := conversation.Turn{Role: conversation.RoleAssistant}
	contentArray, ok := response["content"].([]any)
	if !ok {
		return &turn, nil
	}

	dropped := 0
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				turn.Blocks = append(turn.Blocks, conversation.TextBlock(text))
			}
		case "tool_use":
			if _, ok := turn.FirstToolUse(); ok {
				dropped++
				continue
			}
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, ok := itemMap["input"].(map[string]any)
			if !ok {
				continue
			}
			// Older model revisions omit the id; mint one so the result
			// can still be paired.
			id, ok := itemMap["id"].(string)
			if !ok || id == "" {
				id = conversation.NewInvocationID()
			}
			turn.Blocks = append(turn.Blocks, conversation.ToolUseBlock(id, name, input))
		}
	}
	if dropped > 0 {
		b.logger.Debug("provider returned parallel tool calls, keeping the first",
			"dropped", dropped)
	}
	return &turn, nil
}
