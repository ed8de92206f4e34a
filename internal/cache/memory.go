// TuneTrail - Music Recommendation Serving Plane
// Copyright 2026 TuneTrail Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tunetrail/tunetrail

package cache

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tunetrail/tunetrail/internal/clock"
)

type memEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a thread-safe in-memory Store with TTL support. Expired entries
// are removed lazily on access and by a periodic cleanup pass.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	clock   clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemory creates an in-memory store. The cleanup goroutine runs until
// Close is called.
func NewMemory(clk clock.Clock) *Memory {
	m := &Memory{
		entries: make(map[string]memEntry),
		clock:   clk,
		stop:    make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Close stops the background cleanup goroutine.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Get returns the value at key or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// Set stores value at key with the given TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// AtomicIncr adds amount to the counter at key, creating it with ttl when
// absent. The window boundary is fixed at creation time.
func (m *Memory) AtomicIncr(_ context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		e = memEntry{data: []byte("0")}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	cur, err := strconv.ParseInt(string(e.data), 10, 64)
	if err != nil {
		cur = 0
	}
	cur += amount
	e.data = []byte(strconv.FormatInt(cur, 10))
	m.entries[key] = e
	return cur, nil
}

// CompareAndSwap swaps the value at key only when the stored value equals
// old. The stored expiry is preserved.
func (m *Memory) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		delete(m.entries, key)
		return false, ErrNotFound
	}
	if !bytes.Equal(e.data, old) {
		return false, nil
	}
	e.data = append([]byte(nil), next...)
	m.entries[key] = e
	return true, nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// KeysByPrefix returns all live keys starting with prefix.
func (m *Memory) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var keys []string
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}
