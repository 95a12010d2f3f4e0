// Package mcpguard guards a newline-delimited JSON-RPC byte stream between
// an AI agent and an MCP server: tools/call requests are routed through an
// AgentGuard policy decision before they reach the server, and everything
// else passes through untouched.
package mcpguard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	agentguard "github.com/agentguard/agentguard"
)

const (
	// toolCallMethod is the MCP method that invokes a tool.
	toolCallMethod = "tools/call"

	// blockedErrorCode is the JSON-RPC error code synthesized for calls the
	// policy rejects.
	blockedErrorCode = -32000

	maxLineBytes = 4 << 20
)

// toolCallParams is the shape of tools/call request parameters.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StreamGuard mediates one agent-to-server MCP connection. Allowed traffic
// is forwarded byte-for-byte; blocked or denied tools/call requests are
// answered with a synthesized JSON-RPC error and never reach the server.
type StreamGuard struct {
	guard  *agentguard.Guard
	logger *slog.Logger

	toolsMu sync.Mutex
	tools   map[string]*agentguard.ProtectedTool

	clientMu sync.Mutex
}

// New creates a StreamGuard over an initialized guard.
func New(g *agentguard.Guard, logger *slog.Logger) *StreamGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamGuard{
		guard:  g,
		logger: logger,
		tools:  make(map[string]*agentguard.ProtectedTool),
	}
}

// Run pumps both directions until either stream ends. Server-to-client
// traffic is forwarded verbatim; client-to-server traffic goes through the
// policy. Run returns when a stream closes or fails; close both streams to
// unblock it.
func (s *StreamGuard) Run(ctx context.Context, client io.ReadWriter, server io.ReadWriter) error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.pumpClient(ctx, client, server) }()
	go func() { errCh <- s.pumpServer(server, client) }()

	err := <-errCh
	<-errCh
	if err == io.EOF {
		return nil
	}
	return err
}

// pumpClient reads agent traffic, applies the policy to tools/call requests,
// and forwards what survives.
func (s *StreamGuard) pumpClient(ctx context.Context, client io.ReadWriter, server io.Writer) error {
	scanner := bufio.NewScanner(client)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		forward, reply := s.screen(ctx, line)
		if reply != nil {
			if err := s.writeClient(client, reply); err != nil {
				return err
			}
			continue
		}
		if forward {
			if err := writeLine(server, line); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// pumpServer forwards server traffic to the agent verbatim.
func (s *StreamGuard) pumpServer(server io.Reader, client io.Writer) error {
	scanner := bufio.NewScanner(server)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		if err := s.writeClient(client, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// screen decides one client line: forward it, or answer it with a
// synthesized error reply. Undecodable lines pass through so the guard never
// breaks traffic it does not understand.
func (s *StreamGuard) screen(ctx context.Context, line []byte) (forward bool, reply []byte) {
	msg, err := jsonrpc.DecodeMessage(line)
	if err != nil {
		return true, nil
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || req.Method != toolCallMethod {
		return true, nil
	}

	var params toolCallParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.logger.Warn("unparseable tools/call params, passing through", "error", err)
			return true, nil
		}
	}
	if params.Name == "" {
		return true, nil
	}

	if err := s.decide(ctx, params.Name, params.Arguments); err != nil {
		s.logger.Info("tool call rejected",
			"tool", params.Name,
			"error", err,
		)
		return false, errorReply(line, err)
	}
	return true, nil
}

// decide routes the call through the guard. The protected tool's underlying
// function is a no-op: a nil error means "forward to the server".
func (s *StreamGuard) decide(ctx context.Context, toolName string, args map[string]any) error {
	tool, err := s.protectedTool(toolName)
	if err != nil {
		return err
	}
	if args == nil {
		args = map[string]any{}
	}
	_, err = tool.Call(ctx, args)
	return err
}

func (s *StreamGuard) protectedTool(name string) (*agentguard.ProtectedTool, error) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	if tool, ok := s.tools[name]; ok {
		return tool, nil
	}
	tool, err := s.guard.Protect(name, passThrough)
	if err != nil {
		return nil, err
	}
	s.tools[name] = tool
	return tool, nil
}

func passThrough(_ context.Context, _ ...any) (any, error) {
	return nil, nil
}

// writeClient serializes concurrent writes to the agent side: both the
// server pump and synthesized error replies target it.
func (s *StreamGuard) writeClient(client io.Writer, line []byte) error {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return writeLine(client, line)
}

func writeLine(w io.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

// errorReply synthesizes a JSON-RPC error response for a rejected request.
// The id is lifted from the raw bytes to preserve its original form (number,
// string, or null).
func errorReply(raw []byte, cause error) []byte {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(raw, &envelope)
	if envelope.ID == nil {
		envelope.ID = json.RawMessage("null")
	}

	reply := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{
		JSONRPC: "2.0",
		ID:      envelope.ID,
	}
	reply.Error.Code = blockedErrorCode
	reply.Error.Message = fmt.Sprintf("tool call rejected: %v", cause)

	out, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"tool call rejected"}}`)
	}
	return out
}
