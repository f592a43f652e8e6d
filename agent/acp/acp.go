package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/m4xw311/egoist/agent"
	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/llm"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxResourceSize bounds the file contents inlined for a resource_link block.
const maxResourceSize = 50000

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id,omitempty"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Server answers ACP requests. Each session/prompt runs one agent turn over
// the session's history.
type Server struct {
	client       llm.Client
	registry     *tools.Registry
	sessionsDir  string
	systemPrompt string

	mu       sync.Mutex
	sessions map[string]*session.Session

	writeMu sync.Mutex
	out     *bufio.Writer
}

// NewServer creates a server storing sessions under sessionsDir. New sessions
// start with systemPrompt when it is not empty.
func NewServer(client llm.Client, registry *tools.Registry, sessionsDir, systemPrompt string) *Server {
	return &Server{
		client:       client,
		registry:     registry,
		sessionsDir:  sessionsDir,
		systemPrompt: systemPrompt,
		sessions:     make(map[string]*session.Session),
	}
}

// Serve reads newline-delimited JSON-RPC requests from in until EOF and
// writes responses and notifications to out. Nothing else is written to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = bufio.NewWriter(out)
	reader := bufio.NewReader(in)

	for {
		line, err := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			s.handle(ctx, line)
		}
		if errors.Is(err, io.EOF) {
			slog.Debug("acp: input closed")
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "ACP: read error")
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) {
	var req jsonrpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		slog.Debug("acp: parse error", "error", err)
		s.writeError(nil, codeParseError, "Parse error", nil)
		return
	}
	slog.Debug("acp: request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "session/new":
		s.handleSessionNew(&req)
	case "session/load":
		s.handleSessionLoad(&req)
	case "session/prompt":
		s.handleSessionPrompt(ctx, &req)
	default:
		s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
	}
}

func (s *Server) handleInitialize(req *jsonrpcRequest) {
	s.writeResult(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *Server) handleSessionNew(req *jsonrpcRequest) {
	sid := "sess_" + uuid.NewString()
	sess, err := session.New(s.sessionsDir, sid)
	if err != nil {
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	if s.systemPrompt != "" {
		sess.AddMessage(session.Message{Role: session.RoleSystem, Content: s.systemPrompt})
	}
	if err := sess.Save(); err != nil {
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to save session: %v", err))
		return
	}

	s.mu.Lock()
	s.sessions[sid] = sess
	s.mu.Unlock()
	s.writeResult(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad loads a stored session and replays it as session/update
// notifications before answering.
func (s *Server) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}
	sess, err := session.Load(s.sessionsDir, p.SessionID)
	if err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}

	s.mu.Lock()
	s.sessions[p.SessionID] = sess
	s.mu.Unlock()

	for _, msg := range sess.History() {
		if msg.Role == session.RoleUser {
			s.sendUpdate(p.SessionID, map[string]any{
				"sessionUpdate": "user_message_chunk",
				"content":       map[string]any{"type": "text", "text": msg.Content},
			})
			continue
		}
		s.replay(p.SessionID, msg)
	}
	s.writeResult(req.ID, nil)
}

type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Size        *int64 `json:"size,omitempty"`
}

func (s *Server) handleSessionPrompt(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[p.SessionID]
	s.mu.Unlock()
	if !ok {
		s.writeError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
		return
	}

	sess.AddMessage(session.Message{Role: session.RoleUser, Content: extractUserText(p.Prompt)})
	callbacks := agent.Callbacks{
		OnMessageAppended: func(msg session.Message) {
			sess.AddMessage(msg)
			if err := sess.Save(); err != nil {
				slog.Warn("failed to save session", "session", sess.Name, "error", err)
			}
			s.replay(p.SessionID, msg)
		},
	}

	a := agent.New(s.client, s.registry, sess.History(), callbacks)
	if _, err := a.RunOnce(ctx); err != nil {
		s.writeError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("error processing user input: %v", err))
		return
	}
	s.writeResult(req.ID, map[string]any{"stopReason": "end_turn"})
}

// replay sends the updates for an assistant or tool message.
func (s *Server) replay(sessionID string, msg session.Message) {
	switch msg.Role {
	case session.RoleAssistant:
		if msg.Content != "" {
			s.sendUpdate(sessionID, map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": msg.Content},
			})
		}
		for _, call := range msg.ToolCalls {
			s.sendUpdate(sessionID, map[string]any{
				"sessionUpdate": "tool_call",
				"toolCall": map[string]any{
					"id":   call.ID,
					"name": call.Name,
					"args": call.Arguments,
				},
			})
		}
	case session.RoleTool:
		s.sendUpdate(sessionID, map[string]any{
			"sessionUpdate": "tool_result",
			"toolResult": map[string]any{
				"toolCallId": msg.ToolCallID,
				"result":     msg.Content,
			},
		})
	}
}

func (s *Server) sendUpdate(sessionID string, update map[string]any) {
	s.write(jsonrpcNotification{
		JSONRPC: "2.0",
		Method:  "session/update",
		Params:  map[string]any{"sessionId": sessionID, "update": update},
	})
}

func (s *Server) writeResult(id, result any) {
	if result == nil {
		// A null result must still be present on the wire.
		s.write(struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      any             `json:"id,omitempty"`
			Result  json.RawMessage `json:"result"`
		}{"2.0", id, json.RawMessage("null")})
		return
	}
	s.write(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id any, code int, msg string, data any) {
	s.write(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// write sends one newline-terminated JSON message.
func (s *Server) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("acp: failed to encode message", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.WriteByte('\n')
	if err := s.out.Flush(); err != nil {
		slog.Warn("acp: write failed", "error", err)
	}
}

// extractUserText joins the text blocks of a prompt. A resource_link block
// becomes a description of the resource, with the file inlined for file://
// URIs.
func extractUserText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			parts = append(parts, describeResource(b))
		}
	}
	return strings.Join(parts, "\n")
}

func describeResource(b contentBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== Resource: %s ===\n", b.Name)
	if b.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	fmt.Fprintf(&sb, "URI: %s\n", b.URI)
	if b.MimeType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", b.MimeType)
	}
	if b.Size != nil {
		fmt.Fprintf(&sb, "Size: %d bytes\n", *b.Size)
	}

	if strings.HasPrefix(b.URI, "file://") {
		content, err := readFileFromURI(b.URI)
		if err != nil {
			fmt.Fprintf(&sb, "\n[Error reading file: %v]\n", err)
		} else {
			if len(content) > maxResourceSize {
				content = content[:maxResourceSize] + "\n\n[... truncated to 50KB ...]"
			}
			fmt.Fprintf(&sb, "\n--- File Contents ---\n%s\n--- End of File ---\n", content)
		}
	} else {
		sb.WriteString("\n[External resource - content not available]\n")
	}
	sb.WriteString("=== End Resource ===\n")
	return sb.String()
}

func readFileFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid URI")
	}
	if u.Scheme != "file" {
		return "", errors.New("unsupported URI scheme: %s", u.Scheme)
	}
	content, err := os.ReadFile(u.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file")
	}
	return string(content), nil
}
