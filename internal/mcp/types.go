// Package mcp provides a Model Context Protocol (MCP) client for tool
// servers speaking newline-delimited JSON-RPC 2.0 over stdio, plus a
// connection pool that deduplicates sessions by server configuration.
package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// protocolVersion is the MCP protocol revision this client speaks.
const protocolVersion = "2024-11-05"

// clientName and clientVersion identify this client in the initialize
// handshake.
const (
	clientName    = "genflow"
	clientVersion = "0.1.0"
)

// DefaultTimeout bounds a single request/response exchange when the
// server configuration does not specify one.
const DefaultTimeout = 30 * time.Second

// ServerConfig describes how to launch and talk to a tool server.
type ServerConfig struct {
	ID      string            `yaml:"id" json:"id,omitempty"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
}

// Validate checks the configuration before any process is spawned.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidConfig)
	}
	for i, arg := range c.Args {
		if strings.ContainsAny(arg, "\n\r") {
			return fmt.Errorf("%w: arg[%d] contains newline", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Fingerprint returns a deterministic key over (command, args in order,
// env sorted). Two configurations with the same fingerprint address the
// same pooled session.
func (c *ServerConfig) Fingerprint() string {
	parts := make([]string, 0, 1+len(c.Args)+len(c.Env))
	parts = append(parts, c.Command)
	parts = append(parts, c.Args...)

	if len(c.Env) > 0 {
		keys := make([]string, 0, len(c.Env))
		for k := range c.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+c.Env[k])
		}
	}

	return strings.Join(parts, "|")
}

// requestTimeout returns the configured timeout or the default.
func (c *ServerConfig) requestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Tool is a named, schema-described callable advertised by a tool server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ServerInfo identifies the server from the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// JSON-RPC wire types.

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonrpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []*Tool `json:"tools"`
}

type toolCallResult struct {
	Content []toolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

type toolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
