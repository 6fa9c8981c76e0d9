package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"

	"github.com/loopworks/valet/agent"
	"github.com/loopworks/valet/conversation"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/session"
)

// JSON-RPC 2.0 error codes used by the gateway.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// jsonrpcRequest is a JSON-RPC 2.0 request message.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response message.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// jsonrpcError is a JSON-RPC 2.0 error object.
type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Server speaks newline-delimited JSON-RPC over an in/out pipe, usually
// stdio. Unlike the terminal it serves many owners at once: each chat/send
// names its owner or session and the registry hands back the right session.
//
// Only JSON-RPC messages are ever written to out; all logging goes through
// the slog handler, which the command wires to stderr.
type Server struct {
	agent    *agent.Agent
	registry *session.Registry
	logger   *slog.Logger

	in  *bufio.Reader
	out io.Writer
	// writeLock serializes whole messages: notifications fire from callbacks
	// while a response may be in flight.
	writeLock sync.Mutex
}

// NewServer wires a gateway over the given pipe.
func NewServer(a *agent.Agent, registry *session.Registry, in io.Reader, out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		agent:    a,
		registry: registry,
		logger:   logger.With("component", "gateway"),
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// Run reads and dispatches requests until the input closes. A clean EOF is
// not an error; a broken pipe is, since there is no safe way to resume
// newline framing.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("gateway listening")
	for {
		payload, err := s.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("gateway input closed")
				return nil
			}
			return errors.Wrapf(err, "gateway read failed")
		}
		if len(payload) == 0 {
			continue
		}
		s.logger.Debug("received payload", "payload", string(payload))

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = s.writeResponseError(nil, codeParseError, "Parse error", nil)
			continue
		}

		switch req.Method {
		case "initialize":
			s.handleInitialize(&req)
		case "chat/send":
			s.handleChatSend(ctx, &req)
		default:
			_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

// readFramedMessage reads one newline-delimited JSON payload.
func (s *Server) readFramedMessage() ([]byte, error) {
	line, _, err := s.in.ReadLine()
	if err != nil {
		return nil, err
	}
	return line, nil
}

// writeFramedJSON serializes obj and writes it as one newline-delimited
// message.
func (s *Server) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.logger.Debug("sending payload", "payload", string(data))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	_, err = s.out.Write([]byte("\n"))
	return err
}

func (s *Server) writeResponseOK(id any, result json.RawMessage) error {
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeResponseError(id any, code int, msg string, data any) error {
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeNotification sends a request without an id.
func (s *Server) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decodeParams re-marshals the loosely typed params field into dst.
func decodeParams(raw any, dst any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func (s *Server) handleInitialize(req *jsonrpcRequest) {
	resp := map[string]any{
		"protocolVersion": 1,
		"capabilities": map[string]any{
			"multiOwner": true,
			"history":    true,
		},
	}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal initialize response", "error", err)
		return
	}
	_ = s.writeResponseOK(req.ID, json.RawMessage(respBytes))
}

// chatSendParams carries one user message. SessionID addresses an existing
// session directly; otherwise OwnerID selects (or creates) the owner's
// session, with an empty owner meaning a fresh anonymous one. A non-empty
// History replaces the session's history before processing, which is how
// clients hand a conversation over from elsewhere.
type chatSendParams struct {
	OwnerID   string              `json:"ownerId,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	Message   string              `json:"message"`
	History   []conversation.Turn `json:"history,omitempty"`
}

// chatSendResult is the reply to chat/send. History is the full stored
// conversation after the pass, so clients can persist or hand it onward.
type chatSendResult struct {
	SessionID    string              `json:"sessionId"`
	ResponseText string              `json:"responseText"`
	History      []conversation.Turn `json:"history"`
}

func (s *Server) handleChatSend(ctx context.Context, req *jsonrpcRequest) {
	var p chatSendParams
	if err := decodeParams(req.Params, &p); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	if p.Message == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "message must not be empty")
		return
	}

	var sess *session.Session
	if p.SessionID != "" {
		found, ok := s.registry.Lookup(p.SessionID)
		if !ok {
			_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
			return
		}
		sess = found
	} else {
		created, err := s.registry.GetOrCreate(p.OwnerID)
		if err != nil {
			_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
			return
		}
		sess = created
	}

	if len(p.History) > 0 {
		s.logger.Debug("replacing session history", "session", sess.SessionID, "turns", len(p.History))
		sess.ReplaceHistory(p.History)
	}

	sid := sess.SessionID
	callbacks := agent.ProcessCallbacks{
		OnAssistantMessage: func(message string) {
			_ = s.sendAssistantMessage(sid, message)
		},
		OnToolCall: func(call conversation.Block) {
			_ = s.sendToolCallNotification(sid, call)
		},
		OnToolResult: func(call conversation.Block, result string) {
			_ = s.sendToolResultNotification(sid, call.ID, result)
		},
		OnWarning: func(warning string) {
			s.logger.Warn("processing warning", "session", sid, "warning", warning)
		},
	}

	reply, err := s.agent.ProcessUserInput(ctx, sess, p.Message, callbacks)
	if err != nil {
		if stderrors.Is(err, session.ErrBusy) {
			_ = s.writeResponseError(req.ID, codeInternalError, "Session busy", err.Error())
			return
		}
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}

	result := chatSendResult{
		SessionID:    sid,
		ResponseText: reply,
		History:      sess.History(),
	}
	respBytes, err := json.Marshal(result)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
		return
	}
	_ = s.writeResponseOK(req.ID, json.RawMessage(respBytes))
}

// sendAssistantMessage streams one piece of assistant text to the client.
func (s *Server) sendAssistantMessage(sessionID, text string) error {
	return s.writeNotification("chat/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"kind": "assistant_message",
			"content": map[string]any{
				"type": "text",
				"text": text,
			},
		},
	})
}

// sendToolCallNotification tells the client a tool is about to run.
func (s *Server) sendToolCallNotification(sessionID string, call conversation.Block) error {
	return s.writeNotification("chat/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"kind": "tool_call",
			"toolCall": map[string]any{
				"id":   call.ID,
				"name": call.Name,
				"args": call.Input,
			},
		},
	})
}

// sendToolResultNotification forwards a tool's result to the client.
func (s *Server) sendToolResultNotification(sessionID, toolCallID, result string) error {
	return s.writeNotification("chat/update", map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"kind": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": toolCallID,
				"result":     result,
			},
		},
	})
}
