package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// shutdownGrace is how long Disconnect waits for the child to exit after
// SIGTERM before force-killing it.
const shutdownGrace = 500 * time.Millisecond

// lineBufferSize caps a single JSON-RPC line read from the server.
const lineBufferSize = 1024 * 1024

// Client is one JSON-RPC session with a tool server child process.
//
// A session serializes its requests: at most one request is in flight,
// and exactly one response line is read for each request sent. Callers
// needing parallel tool calls against the same server configuration are
// serialized through the pool's single session per fingerprint.
type Client struct {
	config ServerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	tools  []*Tool
	server ServerInfo

	connected atomic.Bool
	nextID    atomic.Int64
}

// NewClient creates a client for the given server configuration. No
// process is spawned until Connect (or the first list/call, which
// auto-connects).
func NewClient(cfg ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.ID
	if name == "" {
		name = cfg.Command
	}
	return &Client{
		config: cfg,
		logger: logger.With("tool_server", name),
	}
}

// Config returns the server configuration this client was created with.
func (c *Client) Config() ServerConfig { return c.config }

// Connected reports whether the session is established.
func (c *Client) Connected() bool { return c.connected.Load() }

// ServerInfo returns the identity reported by the server during the
// initialize handshake. Zero value before the first Connect.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Connect spawns the configured command and performs the MCP initialize
// handshake. Connecting an already-connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if err := c.config.Validate(); err != nil {
		return err
	}

	cmd := exec.Command(c.config.Command, c.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ConnectionError{Server: c.config.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ConnectionError{Server: c.config.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return &ConnectionError{Server: c.config.Command, Err: fmt.Errorf("start process: %w", err)}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.lines = make(chan string, 16)
	go c.readLoop(stdout, c.lines)
	if stderr != nil {
		go c.drainStderr(stderr)
	}

	c.logger.Debug("started tool server process", "pid", cmd.Process.Pid)

	initParams := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	resp, err := c.roundTrip(ctx, "initialize", initParams)
	if err != nil {
		c.disconnectLocked()
		return &ConnectionError{Server: c.config.Command, Err: err}
	}
	if resp.Error != nil {
		c.disconnectLocked()
		return &ConnectionError{Server: c.config.Command, Err: resp.Error}
	}

	var init initializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &init); err != nil {
			c.disconnectLocked()
			return &ConnectionError{Server: c.config.Command, Err: fmt.Errorf("parse initialize result: %w", err)}
		}
	}
	c.server = init.ServerInfo

	if err := c.notify("notifications/initialized", nil); err != nil {
		c.disconnectLocked()
		return &ConnectionError{Server: c.config.Command, Err: err}
	}

	c.connected.Store(true)
	c.logger.Info("connected to tool server",
		"name", c.server.Name,
		"version", c.server.Version,
		"protocol", init.ProtocolVersion)
	return nil
}

// Disconnect terminates the child process and clears session state. It
// is idempotent and never fails outward; calling it on a session that
// was never connected is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	c.connected.Store(false)
	c.tools = nil

	if c.cmd == nil || c.cmd.Process == nil {
		c.cmd = nil
		return
	}

	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	_ = c.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	cmd := c.cmd
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		_ = cmd.Process.Kill()
		<-done
	}

	c.cmd = nil
	c.stdin = nil
	c.lines = nil
	c.logger.Debug("tool server stopped")
}

// ListTools returns the tools advertised by the server. The list is
// cached after the first successful discovery. Auto-connects if needed.
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	if c.tools != nil {
		return append([]*Tool(nil), c.tools...), nil
	}

	resp, err := c.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("list tools: %w", error(resp.Error))}
	}

	var result listToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("parse tools/list result: %w", err)}
	}

	c.tools = result.Tools
	c.logger.Debug("discovered tools", "count", len(c.tools))
	return append([]*Tool(nil), c.tools...), nil
}

// CallTool invokes a named tool with the given arguments. Text content
// items in the result are concatenated with newlines and returned as a
// string; a result without text content is returned as the decoded
// result object. Auto-connects if needed.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}

	resp, err := c.roundTrip(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("tool %q: %s", name, resp.Error.Message)}
	}

	var result toolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("parse tools/call result: %w", err)}
	}

	var texts []string
	for _, item := range result.Content {
		if item.Type == "text" {
			texts = append(texts, item.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("parse tools/call result: %w", err)}
	}
	return raw, nil
}

// roundTrip sends one request and reads exactly one response line,
// bounded by the configured timeout. Callers hold c.mu.
func (c *Client) roundTrip(ctx context.Context, method string, params any) (*jsonrpcResponse, error) {
	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("marshal %s request: %w", method, err)}
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		c.connected.Store(false)
		return nil, &ConnectionError{Server: c.config.Command, Err: fmt.Errorf("write %s request: %w", method, err)}
	}

	timeout := c.config.requestTimeout()
	select {
	case line, ok := <-c.lines:
		if !ok {
			c.connected.Store(false)
			return nil, &ConnectionError{Server: c.config.Command, Err: fmt.Errorf("server closed stdout during %s", method)}
		}
		var resp jsonrpcResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("invalid JSON response to %s: %w", method, err)}
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, &ProtocolError{Server: c.config.Command, Err: fmt.Errorf("%s request timeout after %v", method, timeout)}
	}
}

// notify writes a notification without reading a response.
func (c *Client) notify(method string, params any) error {
	n := jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s notification: %w", method, err)
	}
	return nil
}

// readLoop pushes stdout lines to the session's line channel. The
// channel is closed when the server closes stdout.
func (c *Client) readLoop(stdout io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), lineBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines <- line
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("stdout read error", "error", err)
	}
}

// drainStderr logs server diagnostics line by line.
func (c *Client) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.logger.Debug("server stderr", "message", line)
		}
	}
}
