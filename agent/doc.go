// Package agent implements the valet processing loop shared by every
// frontend.
//
// An Agent owns the pieces that are fixed for the lifetime of the process:
// the configuration, the LLM client, and the resolved toolset. Everything
// conversational lives in a session.Session, which frontends obtain from a
// session.Registry and pass into each processing pass. This split is what
// lets one process serve many owners concurrently.
//
// # Processing passes
//
// ProcessUserInput drives one full pass: the user's message is appended to
// the session, and the agent alternates between the model and tool
// execution until the model answers in plain text or the iteration budget
// runs out. Along the way the stored history is repaired and re-annotated
// with cache markers before every model request, duplicate tool calls are
// intercepted instead of re-executed, and tool failures are fed back to
// the model as results rather than aborting the pass.
//
// # Usage
//
//	ag, err := agent.New(cfg, registry, toolset, agent.ModeAuto, agent.ToolVerbosityInfo, client, logger)
//	if err != nil {
//	    // handle error
//	}
//
//	callbacks := agent.ProcessCallbacks{
//	    OnAssistantMessage: func(message string) {
//	        // stream assistant text to the user
//	    },
//	    OnToolCall: func(call conversation.Block) {
//	        // surface tool activity
//	    },
//	    ShouldExecuteTool: func(call conversation.Block) bool {
//	        // gate execution in prompt mode
//	        return true
//	    },
//	}
//
//	reply, err := ag.ProcessUserInput(ctx, sess, "user message", callbacks)
//
// # Modes
//
//   - ModeAuto: tools run without confirmation
//   - ModePrompt: each tool call is confirmed through ShouldExecuteTool
//
// # Tool verbosity
//
//   - ToolVerbosityNone: frontends show no tool traffic
//   - ToolVerbosityInfo: frontends show tool names as they run
//   - ToolVerbosityAll: frontends show arguments and results too
//
// # Frontends
//
// agent/terminal provides the interactive command line frontend.
//
// agent/gateway provides the newline-delimited JSON-RPC frontend used by
// external clients such as the WebSocket bridge; it multiplexes sessions
// for many owners over one stdio pipe.
package agent
