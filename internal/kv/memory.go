package kv

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memItem struct {
	value     []byte
	expiresAt time.Time // zero => no TTL
}

// Memory is an in-process KV. Expiry follows the supplied clock, which lets
// tests drive TTLs with a fake clock.
type Memory struct {
	mu         sync.RWMutex
	data       map[string]memItem
	clock      clockwork.Clock
	defaultTTL time.Duration
}

var _ KV = (*Memory)(nil)

// NewMemory returns an empty Memory store. A nil clock uses wall time.
func NewMemory(clock clockwork.Clock, defaultTTL time.Duration) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{data: make(map[string]memItem), clock: clock, defaultTTL: defaultTTL}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	it, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(it) {
		return nil, ErrExpired
	}
	return append([]byte(nil), it.value...), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	it := memItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = it
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Scan(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k, it := range m.data {
		if !m.expired(it) && g.Match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) FlushAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.data = make(map[string]memItem)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) expired(it memItem) bool {
	return !it.expiresAt.IsZero() && !m.clock.Now().Before(it.expiresAt)
}
