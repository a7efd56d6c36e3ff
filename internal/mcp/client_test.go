package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeMockServer writes an executable shell script that plays the
// server side of the stdio protocol with canned responses.
func writeMockServer(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mock-server.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write mock server: %v", err)
	}
	return path
}

// echoServerScript answers initialize, tools/list with a single "echo"
// tool, and tools/call with a text content item "hi".
const echoServerScript = `#!/bin/sh
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"mock","version":"1.0.0"}}}'
read -r line
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"echo","description":"Echo text back.","inputSchema":{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}}]}}'
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"hi"}]}}'
read -r line
`

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid", ServerConfig{Command: "mcp-server"}, false},
		{"valid with args", ServerConfig{Command: "mcp-server", Args: []string{"--root", "/tmp"}}, false},
		{"empty command", ServerConfig{}, true},
		{"whitespace command", ServerConfig{Command: "   "}, true},
		{"newline in arg", ServerConfig{Command: "mcp-server", Args: []string{"a\nb"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := ServerConfig{
		Command: "mcp-server",
		Args:    []string{"--root", "/tmp"},
		Env:     map[string]string{"B": "2", "A": "1"},
	}
	b := ServerConfig{
		Command: "mcp-server",
		Args:    []string{"--root", "/tmp"},
		Env:     map[string]string{"A": "1", "B": "2"},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints differ for equal configs: %q vs %q", a.Fingerprint(), b.Fingerprint())
	}
}

func TestFingerprintDistinguishes(t *testing.T) {
	base := ServerConfig{Command: "mcp-server"}
	tests := []struct {
		name  string
		other ServerConfig
	}{
		{"different command", ServerConfig{Command: "other-server"}},
		{"different args", ServerConfig{Command: "mcp-server", Args: []string{"-v"}}},
		{"different arg order", ServerConfig{Command: "mcp-server", Args: []string{"b", "a"}}},
		{"different env", ServerConfig{Command: "mcp-server", Env: map[string]string{"K": "v"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if base.Fingerprint() == tt.other.Fingerprint() {
				t.Errorf("expected distinct fingerprints, both %q", base.Fingerprint())
			}
		})
	}
}

func TestRequestTimeoutDefault(t *testing.T) {
	cfg := ServerConfig{Command: "mcp-server"}
	if got := cfg.requestTimeout(); got != DefaultTimeout {
		t.Errorf("requestTimeout() = %v, want %v", got, DefaultTimeout)
	}
	cfg.Timeout = 5 * time.Second
	if got := cfg.requestTimeout(); got != 5*time.Second {
		t.Errorf("requestTimeout() = %v, want 5s", got)
	}
}

func TestConnectInvalidConfig(t *testing.T) {
	client := NewClient(ServerConfig{}, nil)
	err := client.Connect(context.Background())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Connect() error = %v, want ErrInvalidConfig", err)
	}
}

func TestConnectSpawnFailure(t *testing.T) {
	client := NewClient(ServerConfig{Command: "/nonexistent/genflow-mock-server"}, nil)
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error for nonexistent command")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("expected ConnectionError, got %T: %v", err, err)
	}
	if client.Connected() {
		t.Error("client should not report connected after failed spawn")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	client := NewClient(ServerConfig{Command: "mcp-server"}, nil)

	// Never connected: both calls must be no-ops.
	client.Disconnect()
	client.Disconnect()

	if client.Connected() {
		t.Error("expected disconnected state")
	}
}

func TestClientRoundTrip(t *testing.T) {
	path := writeMockServer(t, echoServerScript)
	client := NewClient(ServerConfig{Command: path, Timeout: 5 * time.Second}, nil)
	defer client.Disconnect()

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.Connected() {
		t.Fatal("expected connected state")
	}
	if got := client.ServerInfo().Name; got != "mock" {
		t.Errorf("ServerInfo().Name = %q, want %q", got, "mock")
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("ListTools() = %+v, want one tool named echo", tools)
	}

	// Second call must come from the cache; the mock server would not
	// answer another tools/list.
	cached, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("cached ListTools() error = %v", err)
	}
	if len(cached) != 1 {
		t.Fatalf("cached ListTools() = %+v", cached)
	}

	result, err := client.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result != "hi" {
		t.Errorf("CallTool() = %v, want %q", result, "hi")
	}

	client.Disconnect()
	if client.Connected() {
		t.Error("expected disconnected state after Disconnect")
	}
}

func TestCallToolServerError(t *testing.T) {
	script := `#!/bin/sh
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"mock","version":"1.0.0"}}}'
read -r line
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":2,"error":{"code":-32002,"message":"no such tool"}}'
read -r line
`
	path := writeMockServer(t, script)
	client := NewClient(ServerConfig{Command: path, Timeout: 5 * time.Second}, nil)
	defer client.Disconnect()

	// CallTool auto-connects.
	_, err := client.CallTool(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error from server error response")
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("expected ProtocolError, got %T: %v", err, err)
	}
}

func TestConnectTimeout(t *testing.T) {
	script := `#!/bin/sh
read -r line
sleep 10
`
	path := writeMockServer(t, script)
	client := NewClient(ServerConfig{Command: path, Timeout: 200 * time.Millisecond}, nil)
	defer client.Disconnect()

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("expected ConnectionError, got %T: %v", err, err)
	}
	if client.Connected() {
		t.Error("client should not report connected after handshake timeout")
	}
}

func TestCallToolNoTextContent(t *testing.T) {
	script := `#!/bin/sh
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"serverInfo":{"name":"mock","version":"1.0.0"}}}'
read -r line
read -r line
printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{"content":[],"structured":{"answer":42}}}'
read -r line
`
	path := writeMockServer(t, script)
	client := NewClient(ServerConfig{Command: path, Timeout: 5 * time.Second}, nil)
	defer client.Disconnect()

	result, err := client.CallTool(context.Background(), "compute", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	raw, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("CallTool() = %T, want raw result object", result)
	}
	if _, ok := raw["structured"]; !ok {
		t.Errorf("raw result missing structured member: %v", raw)
	}
}
