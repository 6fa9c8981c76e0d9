package llm

import (
	"context"

	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/tools"
)

// ChatOptions carries per-request settings that sit outside the
// conversation itself.
type ChatOptions struct {
	// ConversationID is a stable identifier for the whole conversation. It
	// is forwarded to providers that accept a caller identity so requests
	// from one conversation keep cache affinity across loop iterations.
	ConversationID string
	// SystemPrompt is delivered through the provider's dedicated system
	// channel, never as a conversation turn.
	SystemPrompt string
}

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	// Chat sends the conversation and the available tool definitions to the
	// model and returns its reply as an assistant turn. Replies carry at
	// most one tool_use block; providers that answer with parallel calls
	// have the extras dropped by the adapter.
	Chat(ctx context.Context, turns []conversation.Turn, availableTools []tools.Tool, opts ChatOptions) (*conversation.Turn, error)
}
