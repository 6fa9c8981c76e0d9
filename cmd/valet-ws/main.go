package main

import (
	"bufio"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/exec"

	"github.com/gorilla/websocket"
)

// The bridge fronts local gateway processes, so cross-origin browser pages
// are allowed to connect.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addrFlag := flag.String("addr", ":8080", "Listen address for the WebSocket server")
	traceFlag := flag.Bool("trace", false, "Log relayed payloads to stderr")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *traceFlag {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Remaining arguments name the gateway command; each connection gets its
	// own subprocess.
	cmdArgs := flag.Args()
	if len(cmdArgs) == 0 {
		cmdArgs = []string{"valet", "-gateway"}
	}

	http.HandleFunc("/ws", handleWS(cmdArgs, logger))

	logger.Info("WebSocket bridge listening", "addr", *addrFlag, "command", cmdArgs)
	if err := http.ListenAndServe(*addrFlag, nil); err != nil {
		logger.Error("bridge stopped", "error", err)
		os.Exit(1)
	}
}

// handleWS upgrades the connection, starts a gateway subprocess, and relays
// newline-delimited JSON-RPC between the two. Gateway stdout lines are
// forwarded to the socket verbatim; they are already complete JSON-RPC
// messages. Gateway stderr is logging, so it stays on the server side.
func handleWS(cmdArgs []string, logger *slog.Logger) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		log := logger.With("remote", r.RemoteAddr)
		log.Info("client connected")

		cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			log.Error("stdin pipe failed", "error", err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			log.Error("stdout pipe failed", "error", err)
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			log.Error("stderr pipe failed", "error", err)
			return
		}

		if err := cmd.Start(); err != nil {
			log.Error("gateway start failed", "error", err)
			return
		}
		defer func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}()

		// Gateway stdout -> WebSocket. This is the only goroutine writing to
		// the socket; gorilla connections allow a single concurrent writer.
		go func() {
			scanner := bufio.NewScanner(stdout)
			// Responses carry whole conversation histories, which outgrow
			// the default 64KB token limit.
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				line := scanner.Bytes()
				log.Debug("gateway -> client", "payload", string(line))
				if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
					log.Warn("socket write failed", "error", err)
					return
				}
			}
		}()

		// Gateway stderr is the gateway's log stream; surface it here.
		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				log.Debug("gateway log", "line", scanner.Text())
			}
		}()

		// WebSocket -> gateway stdin.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Info("client disconnected", "reason", err)
				return
			}
			log.Debug("client -> gateway", "payload", string(msg))
			if _, err := stdin.Write(append(msg, '\n')); err != nil {
				log.Warn("stdin write failed", "error", err)
				return
			}
		}
	}
}
