package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loopworks/valet/agent"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/session"
)

// Terminal is the interactive command line frontend. It drives one session
// for the person at the keyboard.
type Terminal struct {
	agent *agent.Agent
	sess  *session.Session

	// Confirmation prompts share the scanner with the main loop so buffered
	// input is never lost between them.
	in  *bufio.Scanner
	out io.Writer
}

// New creates a terminal frontend reading from stdin and writing to stdout.
func New(a *agent.Agent, sess *session.Session) *Terminal {
	return &Terminal{
		agent: a,
		sess:  sess,
		in:    bufio.NewScanner(os.Stdin),
		out:   os.Stdout,
	}
}

// Run starts the interactive loop. An initial prompt, if given, is processed
// before the first read. The loop ends on /quit, /exit or end of input.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Fprint(t.out, "You: ")
		if !t.in.Scan() {
			break
		}

		userInput := strings.TrimSpace(t.in.Text())
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}

	return t.in.Err()
}

// processTurn handles a single user input turn. Assistant text is printed by
// the callback as it arrives, so the returned final text is not printed
// again.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			fmt.Fprintf(t.out, "Valet: %s\n", message)
		},
		OnToolCall: func(call conversation.Block) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Fprintf(t.out, "Valet wants to call tool `%s` with args: %v\n", call.Name, call.Input)
			case agent.ToolVerbosityInfo:
				fmt.Fprintf(t.out, "Valet wants to call tool `%s`\n", call.Name)
			}
		},
		OnToolResult: func(call conversation.Block, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Fprintf(t.out, "Tool `%s` output: %s\n", call.Name, result)
			}
		},
		ShouldExecuteTool: func(call conversation.Block) bool {
			if t.agent.Mode != agent.ModePrompt {
				return true
			}
			fmt.Fprint(t.out, "Do you want to allow this? (y/n): ")
			if !t.in.Scan() {
				return false
			}
			return strings.TrimSpace(strings.ToLower(t.in.Text())) == "y"
		},
		OnWarning: func(warning string) {
			fmt.Fprintf(t.out, "Warning: %s\n", warning)
		},
	}

	_, err := t.agent.ProcessUserInput(ctx, t.sess, userInput, callbacks)
	return err
}
