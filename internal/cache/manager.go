package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"

	"github.com/leonardcser/tiercache/internal/kv"
	"github.com/leonardcser/tiercache/internal/logger"
)

// Manager is the tiered cache: a bounded in-process LRU in front of a shared
// kv.KV store.
type Manager struct {
	cfg   Config
	store kv.KV
	clock clockwork.Clock

	mu       sync.Mutex
	tier1    *lru
	counters counters
	// writes is bumped by every Set and invalidation. A Get that read tier 2
	// only repopulates tier 1 if no write happened during the read.
	writes uint64

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Manager. A nil store runs the manager with tier 1 only.
func New(cfg Config, store kv.KV, opts ...ManagerOption) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid cache config")
	}
	m := &Manager{
		cfg:   cfg,
		store: store,
		clock: clockwork.NewRealClock(),
		tier1: newLRU(cfg.MemoryCacheSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Get returns the cached value for key. The returned slice must not be
// modified.
func (m *Manager) Get(ctx context.Context, key string, opts ...Option) ([]byte, bool) {
	o := applyOptions(opts)
	fk := FullKey(key, o.namespace)
	now := m.clock.Now()

	m.mu.Lock()
	if v, ok := m.tier1.get(fk, now); ok {
		m.counters.hits++
		m.mu.Unlock()
		return v, true
	}
	seen := m.writes
	m.mu.Unlock()

	value, ok := m.getTier2(ctx, fk)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.counters.misses++
		m.counters.tier2Misses++
		return nil, false
	}
	if m.writes == seen {
		m.insertLocked(fk, value, m.cfg.Tier1TTL, m.clock.Now())
	}
	m.counters.hits++
	m.counters.tier2Hits++
	return value, true
}

func (m *Manager) getTier2(ctx context.Context, fk string) ([]byte, bool) {
	if m.store == nil {
		return nil, false
	}
	tctx, cancel := context.WithTimeout(ctx, m.cfg.Tier2Timeout)
	defer cancel()
	data, err := m.store.Get(tctx, m.tier2Key(fk))
	if err != nil {
		if !kv.IsMiss(err) {
			m.tier2Failed("get", fk, err)
		}
		return nil, false
	}
	value, err := decodeEnvelope(data)
	if err != nil {
		logger.Warnf("cache: discarding undecodable tier-2 entry %s: %v", fk, err)
		return nil, false
	}
	return value, true
}

// Set writes value to both tiers. It returns false when the tier-2 write
// fails; tier 1 is updated regardless.
func (m *Manager) Set(ctx context.Context, key string, value []byte, opts ...Option) bool {
	o := applyOptions(opts)
	fk := FullKey(key, o.namespace)

	tier1TTL, tier2TTL := m.cfg.Tier1TTL, m.cfg.Tier2TTL
	if o.ttl > 0 {
		tier1TTL, tier2TTL = o.ttl, o.ttl
	}
	adaptive := m.cfg.EnableAdaptiveTTL
	if o.adaptive != nil {
		adaptive = *o.adaptive
	}
	if adaptive {
		f := m.AdaptiveFactor(value)
		tier1TTL = scaleTTL(tier1TTL, f)
		tier2TTL = scaleTTL(tier2TTL, f)
	}

	now := m.clock.Now()
	stored := append([]byte(nil), value...)
	m.mu.Lock()
	m.writes++
	m.insertLocked(fk, stored, tier1TTL, now)
	m.mu.Unlock()

	if m.store == nil {
		return true
	}
	payload, compressed, err := m.encodeEnvelope(stored, now)
	if err != nil {
		logger.Warnf("cache: encode %s for tier 2: %v", fk, err)
		return false
	}
	if compressed {
		m.mu.Lock()
		m.counters.compressed++
		m.mu.Unlock()
	}

	tctx, cancel := context.WithTimeout(ctx, m.cfg.Tier2Timeout)
	defer cancel()
	if err := m.store.Put(tctx, m.tier2Key(fk), payload, tier2TTL); err != nil {
		m.tier2Failed("put", fk, err)
		return false
	}
	return true
}

// GetJSON decodes the cached JSON value for key into out.
func (m *Manager) GetJSON(ctx context.Context, key string, out any, opts ...Option) bool {
	data, ok := m.Get(ctx, key, opts...)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warnf("cache: decode json for %s: %v", key, err)
		return false
	}
	return true
}

// SetJSON stores v encoded as JSON.
func (m *Manager) SetJSON(ctx context.Context, key string, v any, opts ...Option) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warnf("cache: encode json for %s: %v", key, err)
		return false
	}
	return m.Set(ctx, key, data, opts...)
}

// Invalidate removes key from both tiers. Removing an absent key succeeds.
func (m *Manager) Invalidate(ctx context.Context, key string, opts ...Option) bool {
	o := applyOptions(opts)
	fk := FullKey(key, o.namespace)

	m.mu.Lock()
	m.writes++
	m.tier1.remove(fk)
	m.mu.Unlock()

	if m.store == nil {
		return true
	}
	defer m.bumpWrites()
	tctx, cancel := context.WithTimeout(ctx, m.cfg.Tier2Timeout)
	defer cancel()
	if err := m.store.Delete(tctx, m.tier2Key(fk)); err != nil && !kv.IsMiss(err) {
		m.tier2Failed("delete", fk, err)
		return false
	}
	return true
}

// InvalidatePattern removes every key whose FullKey matches pattern, in
// which '*' matches any run of characters. WithNamespace prefixes the
// pattern.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string, opts ...Option) bool {
	o := applyOptions(opts)
	full := FullKey(pattern, o.namespace)
	g, err := kv.CompilePattern(full)
	if err != nil {
		logger.Warnf("cache: %v", err)
		return false
	}

	m.mu.Lock()
	m.writes++
	removed := m.tier1.removeMatching(g.Match)
	m.mu.Unlock()

	if m.store == nil {
		logger.Debugf("cache: invalidated %d tier-1 keys matching %s", removed, full)
		return true
	}
	defer m.bumpWrites()
	keys, ok := m.scanTier2(ctx, full)
	if !ok {
		return false
	}
	ok = m.deleteTier2(ctx, keys)
	logger.Debugf("cache: invalidated %d tier-1 and %d tier-2 keys matching %s", removed, len(keys), full)
	return ok
}

// InvalidateAll clears tier 1 and removes this manager's keys from tier 2.
// Only with UnscopedInvalidateAll is the entire shared store flushed.
func (m *Manager) InvalidateAll(ctx context.Context) bool {
	m.mu.Lock()
	m.writes++
	m.tier1.clear()
	m.mu.Unlock()

	if m.store == nil {
		return true
	}
	defer m.bumpWrites()
	if m.cfg.UnscopedInvalidateAll {
		logger.Warnf("cache: flushing entire shared store")
		tctx, cancel := context.WithTimeout(ctx, m.cfg.Tier2Timeout)
		defer cancel()
		if err := m.store.FlushAll(tctx); err != nil {
			m.tier2Failed("flush", "*", err)
			return false
		}
		return true
	}
	keys, ok := m.scanTier2(ctx, "*")
	if !ok {
		return false
	}
	logger.Infof("cache: invalidating %d tier-2 keys under prefix %q", len(keys), m.cfg.KeyPrefix)
	return m.deleteTier2(ctx, keys)
}

// ScanPattern returns the sorted union of tier-1 and tier-2 FullKeys that
// match pattern.
func (m *Manager) ScanPattern(ctx context.Context, pattern string) []string {
	g, err := kv.CompilePattern(pattern)
	if err != nil {
		logger.Warnf("cache: %v", err)
		return nil
	}
	seen := make(map[string]struct{})

	m.mu.Lock()
	for _, k := range m.tier1.liveKeys(m.clock.Now()) {
		if g.Match(k) {
			seen[k] = struct{}{}
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if keys, ok := m.scanTier2(ctx, pattern); ok {
			for _, k := range keys {
				seen[k] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetStats returns the current counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters
	return Stats{
		Hits:            c.hits,
		Misses:          c.misses,
		HitRate:         hitRate(c.hits, c.misses),
		Tier1Size:       m.tier1.len(),
		Tier1Limit:      m.cfg.MemoryCacheSize,
		Tier2Hits:       c.tier2Hits,
		Tier2Misses:     c.tier2Misses,
		Tier2Errors:     c.tier2Errors,
		Evictions:       c.evictions,
		CompressedCount: c.compressed,
	}
}

// PurgeExpired drops expired tier-1 entries and returns how many went.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tier1.purgeExpired(m.clock.Now())
}

// Start runs the tier-1 janitor until Stop or ctx cancellation. It is a
// no-op when CleanupInterval is zero or the janitor already runs.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.CleanupInterval <= 0 {
		return
	}
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.cfg.CleanupInterval)
	go func(stop, done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.Chan():
				if n := m.PurgeExpired(); n > 0 {
					logger.Debugf("cache: janitor purged %d expired tier-1 entries", n)
				}
			}
		}
	}(m.stop, m.done)
}

// Stop halts the janitor and waits for it to exit.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
}

// insertLocked stores an entry in tier 1; m.mu must be held.
func (m *Manager) insertLocked(fk string, value []byte, ttl time.Duration, now time.Time) {
	evicted, ok := m.tier1.add(&entry{key: fk, value: value, writtenAt: now, ttl: ttl})
	if ok {
		m.counters.evictions++
		logger.Debugf("cache: evicted %s from tier 1", evicted)
	}
}

// bumpWrites marks the end of a tier-2 delete, so a Get that read the old
// value while the delete was in flight does not put it back in tier 1.
func (m *Manager) bumpWrites() {
	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
}

func (m *Manager) tier2Key(fk string) string { return m.cfg.KeyPrefix + fk }

func (m *Manager) scanTier2(ctx context.Context, pattern string) ([]string, bool) {
	tctx, cancel := context.WithTimeout(ctx, m.cfg.Tier2Timeout)
	defer cancel()
	keys, err := m.store.Scan(tctx, m.cfg.KeyPrefix+pattern)
	if err != nil {
		m.tier2Failed("scan", pattern, err)
		return nil, false
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, m.cfg.KeyPrefix)
	}
	return keys, true
}

// deleteTier2 removes FullKeys from tier 2. A key already gone is fine.
func (m *Manager) deleteTier2(ctx context.Context, keys []string) bool {
	ok := true
	for _, k := range keys {
		tctx, cancel := context.WithTimeout(ctx, m.cfg.Tier2Timeout)
		err := m.store.Delete(tctx, m.tier2Key(k))
		cancel()
		if err != nil && !kv.IsMiss(err) {
			m.tier2Failed("delete", k, err)
			ok = false
		}
	}
	return ok
}

func (m *Manager) tier2Failed(op, key string, err error) {
	m.mu.Lock()
	m.counters.tier2Errors++
	m.mu.Unlock()
	logger.Warnf("cache: tier-2 %s %s failed (code=%s): %v", op, key, errors.GetCode(err), err)
}
