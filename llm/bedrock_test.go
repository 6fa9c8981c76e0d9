package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/tools"
)

// mockTool is a minimal tool for exercising the conversion helpers.
type mockTool struct {
	name        string
	description string
	schema      map[string]any
}

func (m *mockTool) Name() string        { return m.name }
func (m *mockTool) Description() string { return m.description }

func (m *mockTool) InputSchema() map[string]any {
	if m.schema != nil {
		return m.schema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (m *mockTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return "mock result", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvertTurnsToBedrockMessages(t *testing.T) {
	turns := []conversation.Turn{
		conversation.UserText("Hello, world!"),
		{
			Role: conversation.RoleAssistant,
			Blocks: []conversation.Block{
				conversation.TextBlock("Checking."),
				conversation.ToolUseBlock("toolu_1", "lookup_ticket", map[string]any{"id": "VAL-1"}),
			},
		},
		conversation.ToolResultTurn("toolu_1", "ticket body"),
	}

	msgs := convertTurnsToBedrockMessages(turns)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0]["role"] != "user" || msgs[1]["role"] != "assistant" || msgs[2]["role"] != "user" {
		t.Errorf("roles = %v, %v, %v", msgs[0]["role"], msgs[1]["role"], msgs[2]["role"])
	}

	assistantContent := msgs[1]["content"].([]map[string]any)
	if len(assistantContent) != 2 {
		t.Fatalf("assistant content has %d items, want 2", len(assistantContent))
	}
	if assistantContent[1]["type"] != "tool_use" || assistantContent[1]["id"] != "toolu_1" {
		t.Errorf("tool_use item = %v", assistantContent[1])
	}

	resultContent := msgs[2]["content"].([]map[string]any)
	if resultContent[0]["tool_use_id"] != "toolu_1" {
		t.Errorf("tool_result item = %v", resultContent[0])
	}
}

func TestBedrockCacheControl(t *testing.T) {
	marked := conversation.UserText("remember this")
	marked.Blocks[0].Cache = true
	turns := []conversation.Turn{marked, conversation.UserText("plain")}

	msgs := convertTurnsToBedrockMessages(turns)
	first := msgs[0]["content"].([]map[string]any)[0]
	cc, ok := first["cache_control"].(map[string]any)
	if !ok || cc["type"] != "ephemeral" {
		t.Errorf("cache_control = %v", first["cache_control"])
	}

	second := msgs[1]["content"].([]map[string]any)[0]
	if _, ok := second["cache_control"]; ok {
		t.Error("unmarked block carries cache_control")
	}
}

func TestCreateBedrockRequest(t *testing.T) {
	messages := convertTurnsToBedrockMessages([]conversation.Turn{conversation.UserText("Hello!")})

	ticketTool := &mockTool{
		name:        "lookup_ticket",
		description: "Looks up a ticket.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string"},
			},
			"required": []string{"id"},
		},
	}

	body, err := createBedrockRequest(messages, "You are a workplace assistant.", []tools.Tool{ticketTool})
	if err != nil {
		t.Fatalf("createBedrockRequest: %v", err)
	}

	var request map[string]any
	if err := json.Unmarshal(body, &request); err != nil {
		t.Fatalf("request body is not valid JSON: %v", err)
	}
	if request["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %v", request["anthropic_version"])
	}
	if request["system"] != "You are a workplace assistant." {
		t.Errorf("system = %v", request["system"])
	}

	toolDefs := request["tools"].([]any)
	if len(toolDefs) != 1 {
		t.Fatalf("got %d tools, want 1", len(toolDefs))
	}
	schema := toolDefs[0].(map[string]any)["input_schema"].(map[string]any)
	if _, ok := schema["properties"].(map[string]any)["id"]; !ok {
		t.Errorf("input_schema lost the 'id' property: %v", schema)
	}
}

func TestTurnFromBedrockResponse(t *testing.T) {
	client := &BedrockLLMClient{logger: testLogger()}

	t.Run("text and tool_use", func(t *testing.T) {
		body := []byte(`{"content":[
			{"type":"text","text":"Let me check."},
			{"type":"tool_use","id":"toolu_9","name":"lookup_ticket","input":{"id":"VAL-7"}}
		]}`)
		turn, err := client.turnFromBedrockResponse(body)
		if err != nil {
			t.Fatalf("turnFromBedrockResponse: %v", err)
		}
		if turn.Role != conversation.RoleAssistant {
			t.Errorf("role = %s", turn.Role)
		}
		if turn.Text() != "Let me check." {
			t.Errorf("text = %q", turn.Text())
		}
		tu, ok := turn.FirstToolUse()
		if !ok {
			t.Fatal("tool_use block missing")
		}
		if tu.ID != "toolu_9" || tu.Name != "lookup_ticket" || tu.Input["id"] != "VAL-7" {
			t.Errorf("tool_use = %+v", tu)
		}
	})

	t.Run("parallel tool calls collapse to one", func(t *testing.T) {
		body := []byte(`{"content":[
			{"type":"tool_use","id":"a","name":"list_notes","input":{}},
			{"type":"tool_use","id":"b","name":"read_note","input":{"name":"x.md"}}
		]}`)
		turn, err := client.turnFromBedrockResponse(body)
		if err != nil {
			t.Fatalf("turnFromBedrockResponse: %v", err)
		}
		if uses := turn.ToolUses(); len(uses) != 1 || uses[0].ID != "a" {
			t.Errorf("tool uses = %+v", uses)
		}
	})

	t.Run("missing id gets minted", func(t *testing.T) {
		body := []byte(`{"content":[{"type":"tool_use","name":"list_notes","input":{}}]}`)
		turn, err := client.turnFromBedrockResponse(body)
		if err != nil {
			t.Fatal(err)
		}
		tu, ok := turn.FirstToolUse()
		if !ok || tu.ID == "" {
			t.Errorf("tool_use id not minted: %+v", tu)
		}
	})

	t.Run("error payload", func(t *testing.T) {
		if _, err := client.turnFromBedrockResponse([]byte(`{"error":"throttled"}`)); err == nil {
			t.Error("error payload did not surface as an error")
		}
	})
}
