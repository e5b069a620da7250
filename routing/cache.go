package routing

import "github.com/walmircouto/MaidSafe-Routing/wire"

// CacheManager is the read-through content cache hook referenced in §1's
// Non-goals ("caching semantics beyond a hook for read-through content
// cache") and exercised at guards #3/#4 of §4.6. The routing core only
// needs to know whether a message is cacheable and, if so, look up or
// store a copy; actual cache storage/eviction policy lives outside this
// package.
type CacheManager interface {
	// IsCacheableRequest reports whether msg is a request this cache
	// should be consulted for.
	IsCacheableRequest(msg *wire.Message) bool
	// IsCacheableResponse reports whether msg is a response this cache
	// should store a copy of.
	IsCacheableResponse(msg *wire.Message) bool
	// Lookup returns a cached response for msg, if present.
	Lookup(msg *wire.Message) (*wire.Message, bool)
	// Store records resp as the cached answer for the request it
	// responds to.
	Store(resp *wire.Message)
}

// NoopCache is the default CacheManager: every message is reported
// non-cacheable, matching a node started with caching disabled
// (config.Parameters.Caching == false).
type NoopCache struct{}

// IsCacheableRequest always reports false.
func (NoopCache) IsCacheableRequest(*wire.Message) bool { return false }

// IsCacheableResponse always reports false.
func (NoopCache) IsCacheableResponse(*wire.Message) bool { return false }

// Lookup always misses.
func (NoopCache) Lookup(*wire.Message) (*wire.Message, bool) { return nil, false }

// Store is a no-op.
func (NoopCache) Store(*wire.Message) {}
