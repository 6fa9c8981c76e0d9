package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loopworks/valet/config"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/llm"
	"github.com/loopworks/valet/session"
	"github.com/loopworks/valet/tools"
)

// Mode controls whether tool calls run without asking.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// ToolVerbosity controls how much of the tool traffic frontends display.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ProcessCallbacks let frontends observe and steer a processing pass.
// Every callback is optional.
type ProcessCallbacks struct {
	// OnAssistantMessage receives each piece of assistant text as it
	// arrives, including intermediate text before tool calls.
	OnAssistantMessage func(message string)
	// OnToolCall fires when the model requests a tool, before execution.
	OnToolCall func(call conversation.Block)
	// OnToolResult fires with the content fed back to the model.
	OnToolResult func(call conversation.Block, result string)
	// ShouldExecuteTool gates execution. Returning false feeds a declined
	// notice back to the model instead of running the tool.
	ShouldExecuteTool func(call conversation.Block) bool
	// OnWarning receives non-fatal conditions, such as hitting the
	// iteration limit.
	OnWarning func(warning string)
}

func (c ProcessCallbacks) withDefaults() ProcessCallbacks {
	if c.OnAssistantMessage == nil {
		c.OnAssistantMessage = func(string) {}
	}
	if c.OnToolCall == nil {
		c.OnToolCall = func(conversation.Block) {}
	}
	if c.OnToolResult == nil {
		c.OnToolResult = func(conversation.Block, string) {}
	}
	if c.ShouldExecuteTool == nil {
		c.ShouldExecuteTool = func(conversation.Block) bool { return true }
	}
	if c.OnWarning == nil {
		c.OnWarning = func(string) {}
	}
	return c
}

// Agent drives the model/tool loop for one configured assistant. It holds no
// per-conversation state; the session passed to ProcessUserInput does.
type Agent struct {
	Config         *config.Config
	LLMClient      llm.LLMClient
	AvailableTools []tools.Tool
	Mode           Mode
	Verbosity      ToolVerbosity

	logger        *slog.Logger
	maxIterations int
}

// New builds an agent from the configured toolset.
func New(cfg *config.Config, registry *tools.Registry, toolset string, mode Mode, verbosity ToolVerbosity, client llm.LLMClient, logger *slog.Logger) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		Config:         cfg,
		LLMClient:      client,
		AvailableTools: activeTools,
		Mode:           mode,
		Verbosity:      verbosity,
		logger:         logger.With("component", "agent"),
		maxIterations:  maxIterations,
	}, nil
}

// ProcessUserInput runs one full processing pass: it appends the user's
// message to the session and alternates between the model and tool
// execution until the model answers with plain text or the iteration
// budget runs out. The final assistant text is returned.
//
// The session is pinned for the whole pass; concurrent passes on the same
// session fail fast with session.ErrBusy.
func (a *Agent) ProcessUserInput(ctx context.Context, sess *session.Session, userInput string, callbacks ProcessCallbacks) (string, error) {
	if err := sess.Acquire(); err != nil {
		return "", err
	}
	defer sess.Release()

	callbacks = callbacks.withDefaults()
	ctx = session.WithSession(ctx, sess)

	// A retry after a terminal failure arrives with its user turn already at
	// the tail; appending again would double it.
	if tail, ok := sess.Tail(); !ok || !isUserText(tail, userInput) {
		sess.Append(conversation.UserText(userInput))
	}

	opts := llm.ChatOptions{
		ConversationID: sess.ConversationID,
		SystemPrompt:   a.Config.SystemPrompt,
	}

	var finalText string
	for iteration := 0; iteration < a.maxIterations; iteration++ {
		// The stored history goes out repaired and freshly annotated every
		// iteration; the session itself keeps the turns as they happened.
		outbound := conversation.Annotate(conversation.Repair(sess.History()))

		reply, err := a.LLMClient.Chat(ctx, outbound, a.AvailableTools, opts)
		if err != nil {
			return "", errors.Wrapf(err, "LLM request failed")
		}

		if text := reply.Text(); text != "" {
			finalText = text
			callbacks.OnAssistantMessage(text)
		}

		call, ok := reply.FirstToolUse()
		if !ok {
			sess.Append(*reply)
			return finalText, nil
		}

		if conversation.IsDuplicate(call.Name, call.Input, sess.History()) {
			// The model asked for work it already has. Record a synthesized
			// invocation/result pair pointing it back at the earlier result
			// instead of running the tool again.
			a.logger.Info("intercepted duplicate tool call", "tool", call.Name)
			if text := reply.Text(); text != "" {
				sess.Append(conversation.AssistantText(text))
			}
			interceptedCall, interceptedResult := conversation.InterceptedCall(call.Name, call.Input)
			sess.Append(interceptedCall, interceptedResult)
			continue
		}

		sess.Append(*reply)
		callbacks.OnToolCall(call)

		if !callbacks.ShouldExecuteTool(call) {
			declined := fmt.Sprintf("Tool call '%s' was declined by the user.", call.Name)
			sess.Append(conversation.ToolResultTurn(call.ID, declined))
			callbacks.OnToolResult(call, declined)
			continue
		}

		a.logger.Debug("executing tool", "tool", call.Name)
		result := a.executeTool(ctx, call)
		sess.Append(conversation.ToolResultTurn(call.ID, result))
		callbacks.OnToolResult(call, result)
	}

	// Out of iterations. This pass still completes with the best text seen
	// so far; only the provider failing is an error.
	warning := fmt.Sprintf("Stopped after %d tool iterations without a final answer.", a.maxIterations)
	a.logger.Warn("iteration budget exhausted", "limit", a.maxIterations)
	callbacks.OnWarning(warning)
	if finalText == "" {
		finalText = "I could not finish this request within the allowed number of tool calls."
	}
	return finalText, nil
}

// executeTool runs one tool call and always produces result content; an
// execution failure travels back to the model as the result rather than
// aborting the pass.
func (a *Agent) executeTool(ctx context.Context, call conversation.Block) string {
	tool, ok := a.toolByName(call.Name)
	if !ok {
		return fmt.Sprintf("Error: tool '%s' is not available.", call.Name)
	}
	result, err := tool.Execute(ctx, call.Input)
	if err != nil {
		a.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error executing tool '%s': %v", call.Name, err)
	}
	return result
}

func (a *Agent) toolByName(name string) (tools.Tool, bool) {
	for _, t := range a.AvailableTools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

func isUserText(t conversation.Turn, text string) bool {
	return t.Role == conversation.RoleUser &&
		len(t.Blocks) == 1 &&
		t.Blocks[0].Type == conversation.BlockTypeText &&
		t.Blocks[0].Text == text
}
