package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/tools"
)

// MockLLMClient replays a scripted sequence of replies. It backs the "mock"
// provider for offline runs and stands in for real providers in tests.
type MockLLMClient struct {
	mu    sync.Mutex
	steps []mockStep

	// Requests records the turns each Chat call received, as the provider
	// would have seen them.
	Requests [][]conversation.Turn
	// Opts records the options of each Chat call.
	Opts []ChatOptions
}

type mockStep struct {
	reply conversation.Turn
	err   error
}

func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{}
}

// QueueReply appends a scripted reply.
func (m *MockLLMClient) QueueReply(reply conversation.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{reply: reply})
}

// QueueError appends a scripted failure.
func (m *MockLLMClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{err: err})
}

// Chat pops the next scripted step. With an empty script it echoes the
// last turn back, which keeps the "mock" provider usable interactively.
func (m *MockLLMClient) Chat(ctx context.Context, turns []conversation.Turn, availableTools []tools.Tool, opts ChatOptions) (*conversation.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, conversation.CloneTurns(turns))
	m.Opts = append(m.Opts, opts)

	if len(m.steps) == 0 {
		last := ""
		if len(turns) > 0 {
			last = turns[len(turns)-1].Text()
		}
		reply := conversation.AssistantText(fmt.Sprintf("You said: %q", last))
		return &reply, nil
	}

	step := m.steps[0]
	m.steps = m.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	reply := step.reply
	return &reply, nil
}

// Calls reports how many Chat calls the mock has served.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
