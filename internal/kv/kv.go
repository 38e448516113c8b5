// Package kv implements the shared tier of the cache: a key-value store with
// TTL semantics reachable by every cache manager instance.
//
// The production implementation is a small daemon (cmd/cache-server) that
// persists entries in bbolt and speaks a line-delimited JSON protocol over a
// Unix socket. Client is the manager-side end of that socket. Memory is an
// in-process implementation used in tests and when no daemon is configured.
package kv

import (
	"context"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/jmgilman/go/errors"
)

// KV defines the shared key-value store contract with TTL semantics.
// Implementations must be safe for concurrent use by multiple goroutines.
type KV interface {
	// Get returns the stored value or ErrNotFound / ErrExpired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value; ttl <= 0 falls back to the implementation default.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan lists live keys matching a glob where only '*' is special.
	Scan(ctx context.Context, pattern string) ([]string, error)
	// FlushAll removes every key in the store.
	FlushAll(ctx context.Context) error
}

var (
	ErrNotFound = errors.New(errors.CodeNotFound, "kv: not found")
	ErrExpired  = errors.New(errors.CodeNotFound, "kv: expired")
)

// IsMiss reports whether err means the key is simply absent.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}

// CompilePattern compiles a key pattern in which '*' matches any run of
// characters and every other character is literal. The match is anchored.
func CompilePattern(pattern string) (glob.Glob, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = glob.QuoteMeta(p)
	}
	g, err := glob.Compile(strings.Join(parts, "*"))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid key pattern %q", pattern)
	}
	return g, nil
}

// ttlSeconds rounds a TTL up to whole seconds for the wire and for stores
// that only track second resolution.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	s := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		s++
	}
	return s
}
