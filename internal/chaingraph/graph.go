// Package chaingraph holds the adjacency list of an offer chain.
//
// Offers are referenced by id only. A node is a source offer; its edges are
// kept in insertion order because the first edge is the one followed when a
// client does not convert.
package chaingraph

import (
	"encoding/json"
	"strconv"
)

// Edge points from a source offer to the next candidate offer.
type Edge struct {
	OfferID   int64 `json:"offerId"`
	DaysToAdd int   `json:"daysToAdd"`
}

// Triple is a flattened edge, used to compare graphs independent of order.
type Triple struct {
	Source    int64
	Target    int64
	DaysToAdd int
}

// Graph is an ordered adjacency list keyed by offer id.
type Graph struct {
	order []int64
	adj   map[int64][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{adj: make(map[int64][]Edge)}
}

// AddNode registers a source offer with no edges. Adding an existing node is a no-op.
func (g *Graph) AddNode(id int64) {
	if _, ok := g.adj[id]; ok {
		return
	}
	g.adj[id] = []Edge{}
	g.order = append(g.order, id)
}

// AddEdge appends an edge to src, registering src if needed.
func (g *Graph) AddEdge(src int64, e Edge) {
	g.AddNode(src)
	g.adj[src] = append(g.adj[src], e)
}

// HasNode reports whether id is a source key of the graph.
func (g *Graph) HasNode(id int64) bool {
	_, ok := g.adj[id]
	return ok
}

// Sources returns the source offers in insertion order.
func (g *Graph) Sources() []int64 {
	out := make([]int64, len(g.order))
	copy(out, g.order)
	return out
}

// Edges returns the outgoing edges of src in insertion order.
func (g *Graph) Edges(src int64) []Edge {
	return g.adj[src]
}

// Len is the number of source nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// EdgeCount is the total number of edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.adj {
		n += len(edges)
	}
	return n
}

// Next returns the first outgoing edge of src. Later edges are never chosen.
func (g *Graph) Next(src int64) (Edge, bool) {
	edges := g.adj[src]
	if len(edges) == 0 {
		return Edge{}, false
	}
	return edges[0], true
}

// Targets returns every distinct edge target in first-seen order.
func (g *Graph) Targets() []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, src := range g.order {
		for _, e := range g.adj[src] {
			if !seen[e.OfferID] {
				seen[e.OfferID] = true
				out = append(out, e.OfferID)
			}
		}
	}
	return out
}

// OfferIDs returns every offer referenced by the graph, sources first.
func (g *Graph) OfferIDs() []int64 {
	seen := make(map[int64]bool, len(g.order))
	out := make([]int64, 0, len(g.order))
	for _, src := range g.order {
		seen[src] = true
		out = append(out, src)
	}
	for _, t := range g.Targets() {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Levels computes the breadth-first depth of every offer reachable from
// first, starting at 1. Cycles are tolerated: each offer keeps its first depth.
func (g *Graph) Levels(first int64) map[int64]int {
	levels := map[int64]int{first: 1}
	queue := []int64{first}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[cur] {
			if _, seen := levels[e.OfferID]; seen {
				continue
			}
			levels[e.OfferID] = levels[cur] + 1
			queue = append(queue, e.OfferID)
		}
	}
	return levels
}

// Triples flattens the graph into (source, target, daysToAdd) rows.
func (g *Graph) Triples() []Triple {
	var out []Triple
	for _, src := range g.order {
		for _, e := range g.adj[src] {
			out = append(out, Triple{Source: src, Target: e.OfferID, DaysToAdd: e.DaysToAdd})
		}
	}
	return out
}

// MarshalJSON encodes the graph as {"srcId": [{offerId, daysToAdd}]}.
func (g *Graph) MarshalJSON() ([]byte, error) {
	m := make(map[string][]Edge, len(g.adj))
	for src, edges := range g.adj {
		m[strconv.FormatInt(src, 10)] = edges
	}
	return json.Marshal(m)
}
