// Package progcache shares compiled shader programs between materials whose
// generated shader text is identical. Programs are reference counted and
// destroyed once the last material holding them releases its handle.
package progcache

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

var errReleased = errors.New("progcache: handle already released")

// Key computes the FNV-1a hash of the program source text.
func Key(vertex, fragment string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(vertex)) // fnv.Write never returns an error
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(fragment))
	return h.Sum64()
}

// Cache is a thread-safe content addressed cache of compiled programs of type P.
type Cache[P any] struct {
	mu      sync.Mutex
	compile func(vertex, fragment string) (P, error)
	destroy func(P) error
	// entries is keyed by source hash. Buckets hold entries whose full
	// source text differs but whose hash collides.
	entries map[uint64][]*entry[P]

	hits   atomic.Uint64
	misses atomic.Uint64
}

type entry[P any] struct {
	key      uint64
	vertex   string
	fragment string
	prog     P
	refs     int
}

// Handle is a reference to a cached program. Each successful [Cache.Acquire]
// must be paired with a single [Cache.Release].
type Handle[P any] struct {
	e        *entry[P]
	released bool
}

// New creates a Cache which compiles programs with compile on a miss and
// destroys them with destroy when their reference count drops to zero.
// destroy may be nil.
func New[P any](compile func(vertex, fragment string) (P, error), destroy func(P) error) *Cache[P] {
	if compile == nil {
		panic("progcache: nil compile function")
	}
	return &Cache[P]{
		compile: compile,
		destroy: destroy,
		entries: make(map[uint64][]*entry[P]),
	}
}

// Acquire returns a handle to the program built from vertex and fragment
// source, compiling it if no identical program is cached.
// Compilation errors are returned as is and nothing is cached.
func (c *Cache[P]) Acquire(vertex, fragment string) (*Handle[P], error) {
	key := Key(vertex, fragment)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries[key] {
		if e.vertex == vertex && e.fragment == fragment {
			e.refs++
			c.hits.Add(1)
			return &Handle[P]{e: e}, nil
		}
	}
	c.misses.Add(1)
	prog, err := c.compile(vertex, fragment)
	if err != nil {
		return nil, err
	}
	e := &entry[P]{
		key:      key,
		vertex:   vertex,
		fragment: fragment,
		prog:     prog,
		refs:     1,
	}
	c.entries[key] = append(c.entries[key], e)
	return &Handle[P]{e: e}, nil
}

// Release drops the handle's reference. The program is destroyed and evicted
// when no references remain.
func (c *Cache[P]) Release(h *Handle[P]) error {
	if h == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.released {
		return errReleased
	}
	h.released = true
	e := h.e
	e.refs--
	if e.refs > 0 {
		return nil
	}
	bucket := c.entries[e.key]
	for i := range bucket {
		if bucket[i] == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.entries, e.key)
	} else {
		c.entries[e.key] = bucket
	}
	if c.destroy == nil {
		return nil
	}
	return c.destroy(e.prog)
}

// Len returns the number of distinct programs alive in the cache.
func (c *Cache[P]) Len() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, bucket := range c.entries {
		n += len(bucket)
	}
	return n
}

// Stats returns the number of cache hits and misses since creation.
func (c *Cache[P]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Program returns the compiled program referenced by h.
func (h *Handle[P]) Program() P { return h.e.prog }

// Key returns the source hash of the program.
func (h *Handle[P]) Key() uint64 { return h.e.key }
