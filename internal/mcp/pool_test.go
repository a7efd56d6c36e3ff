package mcp

import (
	"context"
	"testing"
	"time"
)

func TestPoolAcquireReusesSession(t *testing.T) {
	path := writeMockServer(t, echoServerScript)
	pool := NewPool(nil)
	defer pool.Shutdown()

	cfg := ServerConfig{Command: path, Timeout: 5 * time.Second}
	ctx := context.Background()

	first, err := pool.Acquire(ctx, cfg)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	second, err := pool.Acquire(ctx, cfg)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if first != second {
		t.Error("expected the same session for identical configurations")
	}

	stats := pool.Stats()
	if stats.ActiveConnections != 1 {
		t.Errorf("ActiveConnections = %d, want 1", stats.ActiveConnections)
	}
	if refs := stats.References[cfg.Fingerprint()]; refs != 2 {
		t.Errorf("references = %d, want 2", refs)
	}
}

func TestPoolDistinctConfigsDistinctSessions(t *testing.T) {
	path := writeMockServer(t, echoServerScript)
	pool := NewPool(nil)
	defer pool.Shutdown()

	ctx := context.Background()
	a, err := pool.Acquire(ctx, ServerConfig{Command: path, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := pool.Acquire(ctx, ServerConfig{Command: path, Env: map[string]string{"MODE": "alt"}, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if a == b {
		t.Error("expected distinct sessions for distinct configurations")
	}
	if stats := pool.Stats(); stats.ActiveConnections != 2 {
		t.Errorf("ActiveConnections = %d, want 2", stats.ActiveConnections)
	}
}

func TestPoolReleaseKeepsSessionConnected(t *testing.T) {
	path := writeMockServer(t, echoServerScript)
	pool := NewPool(nil)
	defer pool.Shutdown()

	cfg := ServerConfig{Command: path, Timeout: 5 * time.Second}
	client, err := pool.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	pool.Release(cfg)
	if !client.Connected() {
		t.Error("Release must not disconnect the session")
	}
	if refs := pool.Stats().References[cfg.Fingerprint()]; refs != 0 {
		t.Errorf("references = %d, want 0", refs)
	}

	// Dropping below zero is clamped.
	pool.Release(cfg)
	if refs := pool.Stats().References[cfg.Fingerprint()]; refs != 0 {
		t.Errorf("references after extra release = %d, want 0", refs)
	}
}

func TestPoolReleaseUnknownConfig(t *testing.T) {
	pool := NewPool(nil)
	// Must be a silent no-op.
	pool.Release(ServerConfig{Command: "never-acquired"})
}

func TestPoolShutdown(t *testing.T) {
	path := writeMockServer(t, echoServerScript)
	pool := NewPool(nil)

	cfg := ServerConfig{Command: path, Timeout: 5 * time.Second}
	client, err := pool.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	pool.Shutdown()
	if client.Connected() {
		t.Error("expected session disconnected after Shutdown")
	}
	if stats := pool.Stats(); stats.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d, want 0", stats.ActiveConnections)
	}

	// Shutdown of an empty pool is fine, as is re-acquiring afterwards.
	pool.Shutdown()
	fresh, err := pool.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() after Shutdown error = %v", err)
	}
	if !fresh.Connected() {
		t.Error("expected a fresh connected session after Shutdown")
	}
	pool.Shutdown()
}

func TestPoolEvictsStaleSession(t *testing.T) {
	path := writeMockServer(t, echoServerScript)
	pool := NewPool(nil)
	defer pool.Shutdown()

	cfg := ServerConfig{Command: path, Timeout: 5 * time.Second}
	ctx := context.Background()

	stale, err := pool.Acquire(ctx, cfg)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	stale.Disconnect()

	replacement, err := pool.Acquire(ctx, cfg)
	if err != nil {
		t.Fatalf("Acquire() after disconnect error = %v", err)
	}
	if replacement == stale {
		t.Error("expected the stale session to be replaced")
	}
	if !replacement.Connected() {
		t.Error("expected the replacement session to be connected")
	}
	if refs := pool.Stats().References[cfg.Fingerprint()]; refs != 1 {
		t.Errorf("references = %d, want 1", refs)
	}
}
