// Package ristretto provides the ephemeral short-term buffer on top of
// dgraph-io/ristretto.
package ristretto

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/recall/core"
)

// Config sizes the cache.
type Config struct {
	// MaxCost bounds the total buffered content in bytes.
	// Default: 64 MiB
	MaxCost int64

	// NumCounters should be about ten times the expected number of live
	// sessions.
	// Default: 100000
	NumCounters int64

	// TTL expires idle sessions. Zero keeps them until evicted by cost.
	TTL time.Duration
}

// Buffer stores each session's entries as one cache value.
// Values are never mutated in place; every change writes a fresh slice.
type Buffer struct {
	cache *ristretto.Cache
	ttl   time.Duration

	// mu serializes read-modify-write sequences on the same cache.
	mu sync.Mutex
}

// New creates a Buffer.
func New(cfg Config) (*Buffer, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Buffer{cache: cache, ttl: cfg.TTL}, nil
}

func key(sessionID string) string {
	return "session:" + sessionID + ":short_memory"
}

// Get returns a copy of the session's entries.
func (b *Buffer) Get(sessionID string) ([]core.Entry, bool) {
	v, ok := b.cache.Get(key(sessionID))
	if !ok {
		return nil, false
	}
	entries, ok := v.([]core.Entry)
	if !ok {
		return nil, false
	}
	out := make([]core.Entry, len(entries))
	copy(out, entries)
	return out, true
}

// Set replaces the session's entries.
func (b *Buffer) Set(sessionID string, entries []core.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store(sessionID, entries)
}

// Append adds entry when the session is warm.
func (b *Buffer) Append(sessionID string, entry core.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.Get(sessionID)
	if !ok {
		return false
	}
	b.store(sessionID, append(current, entry))
	return true
}

// Trim keeps the last keep entries.
func (b *Buffer) Trim(sessionID string, keep int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.Get(sessionID)
	if !ok || len(current) <= keep {
		return
	}
	if keep <= 0 {
		b.cache.Del(key(sessionID))
		return
	}
	b.store(sessionID, current[len(current)-keep:])
}

// Clear drops the session. It takes effect immediately.
func (b *Buffer) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Del(key(sessionID))
}

// Close stops the cache's background goroutines.
func (b *Buffer) Close() {
	b.cache.Close()
}

func (b *Buffer) store(sessionID string, entries []core.Entry) {
	value := make([]core.Entry, len(entries))
	copy(value, entries)
	b.cache.SetWithTTL(key(sessionID), value, cost(value), b.ttl)
	// New keys are admitted asynchronously.
	b.cache.Wait()
}

func cost(entries []core.Entry) int64 {
	var n int64 = 1
	for _, e := range entries {
		n += int64(len(e.Content) + len(e.Role))
	}
	return n
}
