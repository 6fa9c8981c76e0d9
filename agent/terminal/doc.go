// Package terminal implements the interactive command line frontend.
//
// The terminal drives a single session for the person at the keyboard:
// it reads prompts from stdin, streams assistant replies back, confirms
// tool execution in prompt mode, and honors the agent's verbosity setting
// when showing tool traffic. /quit and /exit end the loop.
//
// # Usage
//
//	term := terminal.New(ag, sess)
//	err := term.Run(ctx, initialPrompt)
//
// An initial prompt from the command line is processed before the first
// interactive read, which also allows one-shot use over a pipe.
package terminal
