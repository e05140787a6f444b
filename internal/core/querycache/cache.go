package querycache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Plan is a compiled read. FilterArgs are the arguments of the filter
// clause frozen at compile time; they precede the caller's arguments.
type Plan struct {
	SQL        string
	FilterArgs []any
}

// Args returns the full argument list for executing the plan.
func (p *Plan) Args(userArgs ...any) []any {
	out := make([]any, 0, len(p.FilterArgs)+len(userArgs))
	out = append(out, p.FilterArgs...)
	return append(out, userArgs...)
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// DefaultSize is used when New gets a non-positive size.
const DefaultSize = 1024

// Cache is a bounded LRU of compiled plans, safe for concurrent use.
type Cache struct {
	plans *lru.Cache[Key, *Plan]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	// purging suppresses eviction counting while Purge drops everything
	purging atomic.Bool
}

// New creates a cache holding at most size plans.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache{}
	// NewWithEvict only fails on a non-positive size.
	c.plans, _ = lru.NewWithEvict[Key, *Plan](size, func(Key, *Plan) {
		if !c.purging.Load() {
			c.evictions.Add(1)
		}
	})
	return c
}

// Get returns the plan stored under key.
func (c *Cache) Get(key Key) (*Plan, bool) {
	return c.plans.Get(key)
}

// GetOrCompile returns the cached plan for key, compiling and storing it on
// a miss. Compile errors are returned and nothing is stored. The second
// result reports whether the plan came from the cache.
func (c *Cache) GetOrCompile(key Key, compile func() (*Plan, error)) (*Plan, bool, error) {
	if plan, ok := c.plans.Get(key); ok {
		c.hits.Add(1)
		return plan, true, nil
	}
	c.misses.Add(1)

	// Concurrent misses on one key may both compile; the first stored plan
	// wins.
	plan, err := compile()
	if err != nil {
		return nil, false, err
	}
	if prev, ok, _ := c.plans.PeekOrAdd(key, plan); ok {
		return prev, false, nil
	}
	return plan, false, nil
}

// Len returns the number of stored plans.
func (c *Cache) Len() int {
	return c.plans.Len()
}

// Purge drops every plan. Purged plans are not counted as evictions.
func (c *Cache) Purge() {
	c.purging.Store(true)
	defer c.purging.Store(false)
	c.plans.Purge()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.plans.Len(),
	}
}
