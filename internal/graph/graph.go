// Package graph maintains the in-memory traversal graph derived from
// committed records and edges. The graph is rebuilt wholesale on demand and
// never patched; the transaction coordinator invalidates it at every scope
// exit, so a read issued after a scope always reflects at least that scope's
// commit.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/starford/berkano/internal/models"
	"github.com/starford/berkano/internal/store"
)

// Node is one record's projection into the traversal graph.
type Node struct {
	ID     string
	Title  string
	Type   models.RecordType
	Status string
}

// Graph is an immutable snapshot of the committed records and edges.
type Graph struct {
	Nodes map[string]*Node
	Out   map[string][]models.Edge
	In    map[string][]models.Edge
}

// Degree returns the total (in + out) degree of a node.
func (g *Graph) Degree(id string) int {
	return len(g.Out[id]) + len(g.In[id])
}

// Neighbors returns the ids adjacent to a node in either direction, sorted.
func (g *Graph) Neighbors(id string) []string {
	seen := make(map[string]struct{})
	for _, e := range g.Out[id] {
		seen[e.TargetID] = struct{}{}
	}
	for _, e := range g.In[id] {
		seen[e.SourceID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ZeroDegree returns the ids of nodes with no edges in either direction,
// sorted.
func (g *Graph) ZeroDegree() []string {
	var out []string
	for id := range g.Nodes {
		if g.Degree(id) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Cache lazily builds the graph on first read after an invalidation.
type Cache struct {
	db *store.Store

	mu sync.Mutex
	g  *Graph
}

// NewCache creates a cache over the given store.
func NewCache(db *store.Store) *Cache {
	return &Cache{db: db}
}

// Graph returns the current snapshot, building it if needed.
func (c *Cache) Graph() (*Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.g != nil {
		return c.g, nil
	}
	g, err := build(c.db)
	if err != nil {
		return nil, err
	}
	c.g = g
	return g, nil
}

// Invalidate drops the cached snapshot. The next read rebuilds from the
// store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.g = nil
	c.mu.Unlock()
}

func build(db *store.Store) (*Graph, error) {
	records, err := store.AllRecords(db.Conn())
	if err != nil {
		return nil, fmt.Errorf("graph: load records: %w", err)
	}
	edges, err := store.AllEdges(db.Conn())
	if err != nil {
		return nil, fmt.Errorf("graph: load edges: %w", err)
	}

	g := &Graph{
		Nodes: make(map[string]*Node, len(records)),
		Out:   make(map[string][]models.Edge),
		In:    make(map[string][]models.Edge),
	}
	for _, r := range records {
		g.Nodes[r.ID] = &Node{ID: r.ID, Title: r.Title, Type: r.Type, Status: r.Status}
	}
	for _, e := range edges {
		g.Out[e.SourceID] = append(g.Out[e.SourceID], e)
		g.In[e.TargetID] = append(g.In[e.TargetID], e)
	}
	return g, nil
}
