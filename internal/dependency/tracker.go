// Package dependency tracks which cache entries were derived from which, so
// that invalidating a source also invalidates everything built on it.
//
// Relationships are stored in the cache itself as one record per source key
// under "dependency:<source full key>", mapping each dependent full key to the
// time the relationship expires. Records carry a store TTL covering their
// latest expiration, so abandoned records disappear on their own.
package dependency

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/logger"
)

// RecordPrefix prefixes every dependency record key.
const RecordPrefix = "dependency:"

const lockStripes = 64

// Cache is the subset of *cache.Manager the tracker needs.
type Cache interface {
	Get(ctx context.Context, key string, opts ...cache.Option) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, opts ...cache.Option) bool
	Invalidate(ctx context.Context, key string, opts ...cache.Option) bool
	ScanPattern(ctx context.Context, pattern string) []string
}

// record maps dependent full keys to their expiration.
type record map[string]time.Time

// Tracker maintains dependency records and performs cascading invalidation.
type Tracker struct {
	cache Cache
	cfg   Config
	clock clockwork.Clock

	stripes [lockStripes]sync.Mutex

	mu          sync.Mutex
	lastCleanup time.Time
}

// TrackerOption configures a Tracker at construction.
type TrackerOption func(*Tracker)

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = clock }
}

// New creates a Tracker on top of c.
func New(c Cache, cfg Config, opts ...TrackerOption) (*Tracker, error) {
	if c == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "dependency tracker requires a cache")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid dependency config")
	}
	t := &Tracker{cache: c, cfg: cfg, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(t)
	}
	t.lastCleanup = t.clock.Now()
	return t, nil
}

// Register records that key depends on dependsOn: invalidating dependsOn
// through InvalidateWithDependencies will also invalidate key.
func (t *Tracker) Register(ctx context.Context, key, dependsOn string, opts ...Option) error {
	o := t.applyOptions(opts)
	dependent := cache.FullKey(key, o.namespace)
	rk := RecordPrefix + cache.FullKey(dependsOn, o.sourceNamespace)

	unlock := t.lock(rk)
	defer unlock()

	now := t.clock.Now()
	rec := t.load(ctx, rk)
	rec[dependent] = now.Add(o.ttl)
	rec.prune(now)
	if dropped := rec.trim(t.cfg.MaxDependenciesPerKey); len(dropped) > 0 {
		logger.Debugf("dependency: %s over limit, dropped %d oldest dependents", rk, len(dropped))
	}
	if err := t.store(ctx, rk, rec, now); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "register %s -> %s", dependent, rk)
	}
	return nil
}

// RegisterMultiple registers key against each source in dependsOn. Every
// registration is attempted; failures are joined.
func (t *Tracker) RegisterMultiple(ctx context.Context, key string, dependsOn []string, opts ...Option) error {
	var errs []error
	for _, src := range dependsOn {
		if err := t.Register(ctx, key, src, opts...); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Dependencies returns the live dependents of dependsOn, sorted. Expired
// entries found along the way are pruned from the stored record.
func (t *Tracker) Dependencies(ctx context.Context, dependsOn string, opts ...Option) []string {
	o := t.applyOptions(opts)
	rk := RecordPrefix + cache.FullKey(dependsOn, o.sourceNamespace)

	unlock := t.lock(rk)
	defer unlock()

	now := t.clock.Now()
	rec := t.load(ctx, rk)
	if rec.prune(now) > 0 {
		if err := t.store(ctx, rk, rec, now); err != nil {
			logger.Warnf("dependency: rewrite %s: %v", rk, err)
		}
	}
	return rec.keys()
}

// InvalidateWithDependencies invalidates key and, transitively, every live
// dependent. Each distinct key is invalidated once even when relationships
// form a cycle. It returns the number of keys invalidated.
func (t *Tracker) InvalidateWithDependencies(ctx context.Context, key string, opts ...Option) int {
	t.maybeCleanup(ctx)

	o := t.applyOptions(opts)
	visited := make(map[string]struct{})
	queue := []string{cache.FullKey(key, o.namespace)}
	for len(queue) > 0 {
		fk := queue[0]
		queue = queue[1:]
		if _, seen := visited[fk]; seen {
			continue
		}
		visited[fk] = struct{}{}

		if !t.cache.Invalidate(ctx, fk) {
			logger.Warnf("dependency: invalidate %s did not reach the shared tier", fk)
		}
		for _, dep := range t.takeRecord(ctx, RecordPrefix+fk) {
			if _, seen := visited[dep]; !seen {
				queue = append(queue, dep)
			}
		}
	}
	logger.Debugf("dependency: cascade from %s invalidated %d keys", key, len(visited))
	return len(visited)
}

// CleanupExpired prunes expired relationships from every record and
// returns how many were removed.
func (t *Tracker) CleanupExpired(ctx context.Context) int {
	keys := t.cache.ScanPattern(ctx, RecordPrefix+"*")
	total := 0
	for _, rk := range keys {
		total += t.cleanupRecord(ctx, rk)
	}
	t.mu.Lock()
	t.lastCleanup = t.clock.Now()
	t.mu.Unlock()
	if total > 0 {
		logger.Infof("dependency: cleanup removed %d expired relationships from %d records", total, len(keys))
	}
	return total
}

func (t *Tracker) cleanupRecord(ctx context.Context, rk string) int {
	unlock := t.lock(rk)
	defer unlock()

	now := t.clock.Now()
	rec := t.load(ctx, rk)
	n := rec.prune(now)
	if n == 0 && len(rec) > 0 {
		return 0
	}
	if err := t.store(ctx, rk, rec, now); err != nil {
		logger.Warnf("dependency: rewrite %s: %v", rk, err)
	}
	return n
}

// takeRecord returns the live dependents in rk and deletes the record.
func (t *Tracker) takeRecord(ctx context.Context, rk string) []string {
	unlock := t.lock(rk)
	defer unlock()

	rec := t.load(ctx, rk)
	rec.prune(t.clock.Now())
	t.cache.Invalidate(ctx, rk)
	return rec.keys()
}

func (t *Tracker) maybeCleanup(ctx context.Context) {
	if t.cfg.CleanupInterval <= 0 {
		return
	}
	t.mu.Lock()
	due := t.clock.Since(t.lastCleanup) >= t.cfg.CleanupInterval
	t.mu.Unlock()
	if due {
		t.CleanupExpired(ctx)
	}
}

// load reads a record. Absent and undecodable records read as empty.
func (t *Tracker) load(ctx context.Context, rk string) record {
	data, ok := t.cache.Get(ctx, rk)
	if !ok {
		return record{}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		logger.Warnf("dependency: ignoring corrupt record %s: %v", rk, err)
		return record{}
	}
	if rec == nil {
		rec = record{}
	}
	return rec
}

// store writes rec back, or deletes it when empty.
func (t *Tracker) store(ctx context.Context, rk string, rec record, now time.Time) error {
	if len(rec) == 0 {
		if !t.cache.Invalidate(ctx, rk) {
			return errors.Newf(errors.CodeUnavailable, "delete record %s", rk)
		}
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode dependency record")
	}
	ttl := recordTTL(rec.latest().Sub(now))
	if !t.cache.Set(ctx, rk, data, cache.WithTTL(ttl), cache.WithAdaptiveTTL(false)) {
		return errors.Newf(errors.CodeUnavailable, "write record %s", rk)
	}
	return nil
}

// lock serializes read-modify-write cycles on a single record.
func (t *Tracker) lock(rk string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(rk))
	mu := &t.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// recordTTL rounds up to whole seconds, never below one.
func recordTTL(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// prune drops entries that are no longer live at now.
func (r record) prune(now time.Time) int {
	n := 0
	for k, exp := range r {
		if !now.Before(exp) {
			delete(r, k)
			n++
		}
	}
	return n
}

// trim evicts the soonest-expiring entries until at most limit remain.
// Ties go to the lexically smallest key.
func (r record) trim(limit int) []string {
	if len(r) <= limit {
		return nil
	}
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := r[keys[i]], r[keys[j]]
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return strings.Compare(keys[i], keys[j]) < 0
	})
	dropped := keys[:len(r)-limit]
	for _, k := range dropped {
		delete(r, k)
	}
	return dropped
}

func (r record) latest() time.Time {
	var last time.Time
	for _, exp := range r {
		if exp.After(last) {
			last = exp
		}
	}
	return last
}

func (r record) keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
