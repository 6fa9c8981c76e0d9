package conversation

import (
	"encoding/json"
	"fmt"
)

// IsDuplicate reports whether history already contains an assistant-issued
// invocation of the named tool with arguments deep-equal to input.
//
// Providers occasionally re-request a call that was already satisfied when
// they fail to connect a result to its invocation; left alone that turns
// into an infinite execute/resend cycle. Arguments are compared through a
// canonical JSON encoding, so map ordering and numeric representation do not
// affect the verdict.
func IsDuplicate(name string, input map[string]any, history []Turn) bool {
	want := canonicalInput(input)
	for _, t := range history {
		if t.Role != RoleAssistant {
			continue
		}
		for _, b := range t.Blocks {
			if b.Type != BlockTypeToolUse || b.Name != name {
				continue
			}
			if canonicalInput(b.Input) == want {
				return true
			}
		}
	}
	return false
}

// InterceptedCall synthesizes the turn pair appended in place of executing a
// duplicate invocation: an assistant turn holding the invocation under a
// freshly generated id, and the user turn carrying the interception notice
// as its result. The pair keeps the conversation structurally valid while
// breaking the retry cycle, and the notice tells the model to reuse the
// earlier result.
func InterceptedCall(name string, input map[string]any) (Turn, Turn) {
	id := NewInvocationID()
	notice := fmt.Sprintf(
		"Duplicate call to %s intercepted: this tool was already invoked with identical arguments earlier in the conversation. Use the result it returned before instead of calling it again.",
		name,
	)
	invocation := Turn{Role: RoleAssistant, Blocks: []Block{ToolUseBlock(id, name, input)}}
	result := ToolResultTurn(id, notice)
	return invocation, result
}

// canonicalInput renders tool arguments in a stable form. encoding/json
// sorts map keys and collapses numeric spelling, which is exactly the
// equality tools care about. Arguments that cannot be marshaled (never the
// case for provider-decoded input) fall back to fmt's deterministic verb.
func canonicalInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%#v", input)
	}
	return string(data)
}
