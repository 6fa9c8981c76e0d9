package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loopworks/valet/agent"
	"github.com/loopworks/valet/agent/gateway"
	"github.com/loopworks/valet/agent/terminal"
	"github.com/loopworks/valet/config"
	"github.com/loopworks/valet/credentials"
	"github.com/loopworks/valet/llm"
	"github.com/loopworks/valet/session"
	"github.com/loopworks/valet/tools"
)

func main() {
	modeFlag := flag.String("m", "", "Execution mode: 'auto' or 'prompt'")
	ownerFlag := flag.String("owner", "", "Owner id for the terminal session (empty for anonymous)")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	toolVerbosityFlag := flag.String("tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	gatewayFlag := flag.Bool("gateway", false, "Serve the JSON-RPC gateway over stdio instead of the terminal")
	traceFlag := flag.Bool("trace", false, "Log wire payloads and tool execution detail to stderr")
	flag.Parse()

	// All logging goes to stderr; in gateway mode stdout carries nothing
	// but JSON-RPC messages.
	logLevel := slog.LevelInfo
	if *traceFlag {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	if *modeFlag == "" {
		*modeFlag = "auto"
	}
	if *toolVerbosityFlag == "" {
		*toolVerbosityFlag = "none"
	}

	var opMode agent.Mode
	switch *modeFlag {
	case "auto":
		opMode = agent.ModeAuto
	case "prompt":
		opMode = agent.ModePrompt
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'auto' or 'prompt'.\n", *modeFlag)
		os.Exit(1)
	}

	var verbosity agent.ToolVerbosity
	switch *toolVerbosityFlag {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *toolVerbosityFlag)
		os.Exit(1)
	}

	// Owner credentials are optional; without a file every session starts
	// with none.
	var credStore credentials.Store
	if cfg.CredentialsFile != "" {
		fileStore, err := credentials.LoadFile(cfg.CredentialsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading credentials: %+v\n", err)
			os.Exit(1)
		}
		credStore = fileStore
	} else if tok := os.Getenv("VALET_TRACKER_TOKEN"); tok != "" && !*gatewayFlag {
		// Single-owner terminal runs can pass the tracker token through the
		// environment instead of a credentials file.
		credStore = credentials.Static{*ownerFlag: {"tracker": tok}}
	}

	ctx := context.Background()

	toolRegistry := tools.NewRegistry(cfg, logger)
	defer toolRegistry.Close()

	var client llm.LLMClient
	switch cfg.LLMClient {
	case "gemini":
		client, err = llm.NewGeminiLLMClient(ctx, cfg.Model, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing Gemini client: %+v\n", err)
			os.Exit(1)
		}
	case "openai":
		client, err = llm.NewOpenAILLMClient(ctx, cfg.Model, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing OpenAI client: %+v\n", err)
			os.Exit(1)
		}
	case "bedrock":
		client, err = llm.NewBedrockLLMClient(ctx, cfg.Model, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing Bedrock client: %+v\n", err)
			os.Exit(1)
		}
	case "anthropic":
		client, err = llm.NewAnthropicLLMClient(ctx, cfg.Model, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing Anthropic client: %+v\n", err)
			os.Exit(1)
		}
	default:
		client = llm.NewMockLLMClient()
	}
	if c, ok := client.(io.Closer); ok {
		defer c.Close()
	}

	ag, err := agent.New(cfg, toolRegistry, *toolsetFlag, opMode, verbosity, client, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}

	sessionRegistry := session.NewRegistry(credStore, cfg.MaxSessions, cfg.SessionTTL(), logger)

	if *gatewayFlag {
		sessionRegistry.StartSweeper(ctx, cfg.SweepInterval())
		srv := gateway.NewServer(ag, sessionRegistry, os.Stdin, os.Stdout, logger)
		if err := srv.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Gateway stopped with an error: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	sess, err := sessionRegistry.GetOrCreate(*ownerFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating session: %+v\n", err)
		os.Exit(1)
	}

	initialPrompt := strings.Join(flag.Args(), " ")
	fmt.Println("Valet is ready. Type your prompt.")
	term := terminal.New(ag, sess)
	if err := term.Run(ctx, initialPrompt); err != nil {
		fmt.Fprintf(os.Stderr, "Valet stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}
