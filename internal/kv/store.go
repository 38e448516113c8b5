package kv

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	bolt "go.etcd.io/bbolt"
)

// Store provides a persistent KV with TTL semantics backed by bbolt.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	db         *bolt.DB
	bucket     []byte
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.RWMutex
}

type Options struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// DefaultTTL is used when Put is called with ttl <= 0.
	DefaultTTL time.Duration
}

var _ KV = (*Store)(nil)

// Open initializes or opens a Store at the given path.
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "open bolt database %s", path)
	}
	bucket := []byte("cache")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "create bucket")
	}
	return &Store{db: db, bucket: bucket, defaultTTL: opts.DefaultTTL, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores value with an absolute expiration computed as now+ttl.
// If ttl <= 0, DefaultTTL is used; if DefaultTTL <= 0, the item never expires.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	expiresAt := int64(0)
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	// Layout: 8 bytes big endian expiresAt (unix nanos) || raw value
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), buf)
	})
}

// Get returns cached value if present and not expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []byte
	var expired bool
	var exists bool
	now := s.now().UnixNano()
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		exists = true
		if isExpired(v, now) {
			expired = true
			return nil
		}
		out = append([]byte(nil), v[8:]...)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "read key")
	}
	if !exists {
		return nil, ErrNotFound
	}
	if expired {
		return nil, ErrExpired
	}
	return out, nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Scan returns the live keys matching pattern.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UnixNano()
	var keys []string
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !isExpired(v, now) && g.Match(string(k)) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "scan keys")
	}
	return keys, nil
}

// FlushAll drops and recreates the bucket.
func (s *Store) FlushAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

// Sweep physically removes expired entries and returns how many were removed.
// The daemon calls it periodically; reads already hide expired entries.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UnixNano()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if isExpired(v, now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// isExpired reports whether v is past its deadline. An entry is gone from
// the instant now reaches expiresAt, matching Memory.
func isExpired(v []byte, now int64) bool {
	if len(v) < 8 {
		return true
	}
	expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
	return expiresAt > 0 && now >= expiresAt
}
