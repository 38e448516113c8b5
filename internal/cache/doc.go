// Package cache implements a two-tier cache manager.
//
// Tier 1 is a bounded in-process LRU map. Tier 2 is a shared key-value store
// (see package kv) that every manager instance talks to over the network.
// Reads go to tier 1 first and fall back to tier 2; writes go to both.
//
// # Keys
//
// Every operation addresses a FullKey: namespace + ":" + key when a
// namespace is given, the bare key otherwise. Tier-2 keys additionally carry
// the manager's KeyPrefix so that InvalidateAll can be scoped to the keys this
// manager owns instead of flushing the whole shared store.
//
// # TTL
//
// Each write carries a tier-1 and a tier-2 TTL (caller override or the
// configured defaults). With adaptive TTL enabled both are scaled by a factor
// derived from the payload size: small values live longer, large values
// shorter, and a deterministic ±10% jitter spreads expirations of entries
// written together.
//
// # Degraded mode
//
// Tier-2 failures never surface as errors. Get treats them as a miss, Set and
// the Invalidate family report false while tier 1 is still updated. Corrupt
// tier-2 envelopes are logged and treated as absent.
//
// # Thread Safety
//
// Manager is safe for concurrent use. A single mutex guards tier 1 and the
// counters; tier-2 calls are never made while holding it.
package cache
