package mcp

import (
	"context"
	"log/slog"
	"sync"
)

// Pool is a reference-counted registry of tool server sessions keyed by
// configuration fingerprint. At most one session exists per key;
// concurrent acquirers of the same key see a single connect attempt.
//
// Releasing the last reference does not disconnect: sessions are
// retained for reuse and closed only by Shutdown.
type Pool struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	mu     sync.Mutex
	client *Client
	refs   int
}

// PoolStats is a snapshot of the pool's contents.
type PoolStats struct {
	ActiveConnections int
	References        map[string]int
}

// NewPool creates an empty connection pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:  logger.With("component", "mcp-pool"),
		entries: make(map[string]*poolEntry),
	}
}

// Acquire returns a connected client for the configuration, creating
// and connecting one if the pool holds none for its fingerprint. A
// pooled client that has lost its connection is evicted and replaced.
func (p *Pool) Acquire(ctx context.Context, cfg ServerConfig) (*Client, error) {
	key := cfg.Fingerprint()

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		entry = &poolEntry{}
		p.entries[key] = entry
	}
	p.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.client != nil {
		if entry.client.Connected() {
			entry.refs++
			return entry.client, nil
		}
		entry.client.Disconnect()
		entry.client = nil
		entry.refs = 0
		p.logger.Debug("evicted stale tool server session", "key", key)
	}

	client := NewClient(cfg, p.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	entry.client = client
	entry.refs = 1
	p.logger.Info("pooled new tool server session", "command", cfg.Command)
	return client, nil
}

// Release decrements the reference count for the configuration's
// session. The session stays connected for reuse.
func (p *Pool) Release(cfg ServerConfig) {
	key := cfg.Fingerprint()

	p.mu.Lock()
	entry, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.refs > 0 {
		entry.refs--
	}
	entry.mu.Unlock()
}

// Shutdown disconnects every pooled session concurrently and clears the
// registry. Individual disconnect failures cannot occur by contract;
// the sessions themselves log their teardown.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		entry.mu.Lock()
		client := entry.client
		entry.client = nil
		entry.refs = 0
		entry.mu.Unlock()

		if client == nil {
			continue
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.Disconnect()
		}(client)
	}
	wg.Wait()

	p.logger.Info("connection pool shut down", "sessions", len(entries))
}

// Stats reports active sessions and per-key reference counts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{References: make(map[string]int, len(p.entries))}
	for key, entry := range p.entries {
		entry.mu.Lock()
		if entry.client != nil {
			stats.ActiveConnections++
			stats.References[key] = entry.refs
		}
		entry.mu.Unlock()
	}
	return stats
}
