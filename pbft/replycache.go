package pbft

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultReplyCacheSize bounds the last_rep/last_rep_t mapping's memory
// footprint. spec.md §3 models last_rep/last_rep_t as plain maps with
// "absent = null/0" defaults and no eviction; a long-lived replica serving
// an unbounded population of distinct clients needs a bound somewhere, so
// this is sized generously (callers with more concurrent clients than
// this should raise it) rather than left unbounded. Evicting a client's
// cached reply means a replayed request with the same timestamp would be
// re-executed instead of short-circuited (spec.md §4.3) -- a correctness
// tradeoff, not just a performance one, which is why the default is large.
const DefaultReplyCacheSize = 1 << 16

// replyEntry is the per-client cached reply and the timestamp it answers.
type replyEntry struct {
	Reply     []byte
	Timestamp Timestamp
}

// ReplyCache implements last_rep[c]/last_rep_t[c] (spec.md §3) as an
// explicit get-with-default mapping over an LRU-bounded store, replacing
// the "default-valued mapping" design note (§9) calls out: no implicit
// Go zero-value reliance, an explicit (nil, 0) default for an unknown client.
type ReplyCache struct {
	cache *lru.Cache[ClientID, replyEntry]
}

// NewReplyCache builds a reply cache bounded to size entries.
func NewReplyCache(size int) *ReplyCache {
	if size <= 0 {
		size = DefaultReplyCacheSize
	}
	c, err := lru.New[ClientID, replyEntry](size)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(err)
	}
	return &ReplyCache{cache: c}
}

// Get returns the cached reply and timestamp for c, defaulting to (nil, 0)
// when c has never been served.
func (r *ReplyCache) Get(c ClientID) ([]byte, Timestamp) {
	if entry, ok := r.cache.Get(c); ok {
		return entry.Reply, entry.Timestamp
	}
	return nil, 0
}

// Timestamp returns only last_rep_t[c], defaulting to 0.
func (r *ReplyCache) Timestamp(c ClientID) Timestamp {
	_, ts := r.Get(c)
	return ts
}

// Set updates last_rep[c] and last_rep_t[c].
func (r *ReplyCache) Set(c ClientID, reply []byte, ts Timestamp) {
	r.cache.Add(c, replyEntry{Reply: reply, Timestamp: ts})
}

// Clients returns every client currently tracked, for canonical snapshot
// enumeration (digest.go CanonicalSnapshot).
func (r *ReplyCache) Clients() []ClientID {
	return r.cache.Keys()
}
