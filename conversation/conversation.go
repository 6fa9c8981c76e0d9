package conversation

import (
	"strings"

	"github.com/google/uuid"
)

// Role identifies the author of a turn. Tool results travel inside user
// turns, so there is no separate tool role at this layer.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the variant of a content block.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// Block is one typed fragment of a turn's content. Only the fields matching
// Type are meaningful; the rest stay at their zero value. Keeping a single
// struct with a discriminator (rather than an interface) makes histories
// trivially serializable and comparable.
type Block struct {
	Type BlockType `json:"type"`

	// Cache marks this block as a prompt-cache breakpoint: the provider may
	// reuse everything up to and including this block across calls. Set by
	// the annotator on outbound copies only; providers without cache support
	// ignore it.
	Cache bool `json:"cache,omitempty"`

	// Text content, for BlockTypeText.
	Text string `json:"text,omitempty"`

	// Tool invocation fields, for BlockTypeToolUse. ID is unique within a
	// conversation.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// Tool result fields, for BlockTypeToolResult. ToolUseID references the
	// invocation this result answers.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockTypeText, Text: text}
}

// ToolUseBlock builds a tool invocation block.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool result block answering the invocation with
// the given id.
func ToolResultBlock(toolUseID, content string) Block {
	return Block{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content}
}

// NewInvocationID returns a fresh identifier for a tool invocation. Used
// when the host, not the provider, originates the invocation (for example
// when synthesizing an intercepted duplicate call).
func NewInvocationID() string {
	return "toolu_" + uuid.NewString()
}

// Turn is one message-level step in a conversation.
//
// Clients that do not speak blocks may supply plain string content instead;
// Repair folds it into a single text block before anything is sent to a
// provider.
type Turn struct {
	Role    Role    `json:"role"`
	Blocks  []Block `json:"blocks,omitempty"`
	Content string  `json:"content,omitempty"`
}

// UserText builds a user turn holding a single text block.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Blocks: []Block{TextBlock(text)}}
}

// AssistantText builds an assistant turn holding a single text block.
func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Blocks: []Block{TextBlock(text)}}
}

// ToolResultTurn builds the user turn that feeds a tool result back to the
// model.
func ToolResultTurn(toolUseID, content string) Turn {
	return Turn{Role: RoleUser, Blocks: []Block{ToolResultBlock(toolUseID, content)}}
}

// Text returns the turn's readable text: all text blocks joined by
// newlines, falling back to the raw Content string when no blocks exist.
func (t Turn) Text() string {
	if len(t.Blocks) == 0 {
		return t.Content
	}
	var parts []string
	for _, b := range t.Blocks {
		if b.Type == BlockTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the turn's tool invocation blocks in order.
func (t Turn) ToolUses() []Block {
	var uses []Block
	for _, b := range t.Blocks {
		if b.Type == BlockTypeToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// FirstToolUse returns the first tool invocation block, if any.
func (t Turn) FirstToolUse() (Block, bool) {
	for _, b := range t.Blocks {
		if b.Type == BlockTypeToolUse {
			return b, true
		}
	}
	return Block{}, false
}

// Clone returns a copy of the turn with its own block slice. Input maps are
// copied one level deep; nested values remain shared, which is safe because
// no component in this repository mutates them.
func (t Turn) Clone() Turn {
	out := Turn{Role: t.Role, Content: t.Content}
	if len(t.Blocks) == 0 {
		return out
	}
	out.Blocks = make([]Block, len(t.Blocks))
	for i, b := range t.Blocks {
		if b.Input != nil {
			cp := make(map[string]any, len(b.Input))
			for k, v := range b.Input {
				cp[k] = v
			}
			b.Input = cp
		}
		out.Blocks[i] = b
	}
	return out
}

// CloneTurns clones each turn into a new slice.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}
