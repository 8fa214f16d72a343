package cluster

import (
	"iter"

	"github.com/puzpuzpuz/xsync/v3"
)

// RouteCache is the local copy of the routing table. Single operations are
// safe for concurrent use; sequences of them are not atomic.
type RouteCache struct {
	m *xsync.MapOf[string, RoutingEntry]
}

// NewRouteCache returns an empty cache.
func NewRouteCache() *RouteCache {
	return &RouteCache{m: xsync.NewMapOf[string, RoutingEntry]()}
}

// Merge makes the cache equal to fetched: fetched keys are upserted and local
// keys missing from fetched are deleted.
func (c *RouteCache) Merge(fetched RoutingTable) {
	for id, entry := range fetched {
		c.m.Store(id, entry)
	}
	c.m.Range(func(id string, _ RoutingEntry) bool {
		if _, ok := fetched[id]; !ok {
			c.m.Delete(id)
		}
		return true
	})
}

func (c *RouteCache) Get(id string) (RoutingEntry, bool) {
	return c.m.Load(id)
}

func (c *RouteCache) Set(id string, entry RoutingEntry) {
	c.m.Store(id, entry)
}

func (c *RouteCache) Delete(id string) {
	c.m.Delete(id)
}

// RemoveOwnedBy deletes every entry owned by node and returns how many went.
func (c *RouteCache) RemoveOwnedBy(node string) int {
	removed := 0
	c.m.Range(func(id string, entry RoutingEntry) bool {
		if entry.Node == node {
			c.m.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

func (c *RouteCache) Len() int {
	return c.m.Size()
}

// Snapshot copies the cache into a RoutingTable.
func (c *RouteCache) Snapshot() RoutingTable {
	out := make(RoutingTable, c.m.Size())
	c.m.Range(func(id string, entry RoutingEntry) bool {
		out[id] = entry
		return true
	})
	return out
}

// All yields the cache contents lazily. Each iteration reads the cache as it
// is at that moment, in no particular order.
func (c *RouteCache) All() iter.Seq2[string, RoutingEntry] {
	return func(yield func(string, RoutingEntry) bool) {
		c.m.Range(yield)
	}
}
