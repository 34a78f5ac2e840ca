package graph

import (
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
)

// Graph is the in-memory directed knowledge graph.
//
// It is not safe for concurrent use; the engine Manager owns the single
// live instance and hands clones to readers. Edges are stored by id, so the
// structure can hold more than one edge per (source, target) pair. That only
// happens for graphs loaded from a store that already contains duplicates;
// the Manager refuses to add a second edge for an existing pair and the
// auditor merges the ones it finds.
type Graph struct {
	nodes     map[int64]*state.Node
	nodeOrder []int64
	position  map[int64]int

	edges     map[int64]*state.Edge
	edgeOrder []int64

	out map[int64][]int64 // node id -> outgoing edge ids
	in  map[int64][]int64 // node id -> incoming edge ids
}

// New returns an empty graph
func New() *Graph {
	return &Graph{
		nodes:    make(map[int64]*state.Node),
		position: make(map[int64]int),
		edges:    make(map[int64]*state.Edge),
		out:      make(map[int64][]int64),
		in:       make(map[int64][]int64),
	}
}

// FromData builds a graph from a flat node/edge listing. Edges whose
// endpoints are missing are returned separately instead of failing the load.
func FromData(nodes []state.Node, edges []state.Edge) (*Graph, []state.Edge) {
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	var dangling []state.Edge
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			dangling = append(dangling, e)
		}
	}
	return g, dangling
}

// AddNode inserts a node or replaces the attributes of an existing one.
// Replacing keeps the original insertion position.
func (g *Graph) AddNode(n state.Node) {
	cp := n
	cp.Metadata = n.Metadata.Clone()
	if _, ok := g.nodes[n.ID]; !ok {
		g.position[n.ID] = len(g.nodeOrder)
		g.nodeOrder = append(g.nodeOrder, n.ID)
	}
	g.nodes[n.ID] = &cp
}

// HasNode reports whether the id is present
func (g *Graph) HasNode(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of the node with the given id
func (g *Graph) Node(id int64) (state.Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return state.Node{}, false
	}
	cp := *n
	cp.Metadata = n.Metadata.Clone()
	return cp, true
}

// Nodes returns copies of all nodes in insertion order
func (g *Graph) Nodes() []state.Node {
	out := make([]state.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		n, _ := g.Node(id)
		out = append(out, n)
	}
	return out
}

// NodeIDs returns node ids in insertion order
func (g *Graph) NodeIDs() []int64 {
	ids := make([]int64, len(g.nodeOrder))
	copy(ids, g.nodeOrder)
	return ids
}

// Position is the insertion index of a node, -1 when absent
func (g *Graph) Position(id int64) int {
	if p, ok := g.position[id]; ok {
		return p
	}
	return -1
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodeOrder) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edgeOrder) }

// MaxNodeID returns the largest node id, 0 for an empty graph
func (g *Graph) MaxNodeID() int64 {
	var highest int64
	for _, id := range g.nodeOrder {
		if id > highest {
			highest = id
		}
	}
	return highest
}

// AddEdge inserts an edge. Both endpoints must already exist. An edge with an
// id that is already present replaces the old one.
func (g *Graph) AddEdge(e state.Edge) error {
	if !g.HasNode(e.SourceID) {
		return apperrors.NewNodeNotFound(e.SourceID)
	}
	if !g.HasNode(e.TargetID) {
		return apperrors.NewNodeNotFound(e.TargetID)
	}
	if _, exists := g.edges[e.ID]; exists {
		g.RemoveEdge(e.ID)
	}

	cp := e
	cp.Metadata = e.Metadata.Clone()
	g.edges[e.ID] = &cp
	g.edgeOrder = append(g.edgeOrder, e.ID)
	g.out[e.SourceID] = append(g.out[e.SourceID], e.ID)
	g.in[e.TargetID] = append(g.in[e.TargetID], e.ID)
	return nil
}

// Edge returns a copy of the edge with the given id
func (g *Graph) Edge(id int64) (state.Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return state.Edge{}, false
	}
	cp := *e
	cp.Metadata = e.Metadata.Clone()
	return cp, true
}

// Edges returns copies of all edges in insertion order
func (g *Graph) Edges() []state.Edge {
	out := make([]state.Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		e, _ := g.Edge(id)
		out = append(out, e)
	}
	return out
}

// HasEdge reports whether at least one edge source -> target exists
func (g *Graph) HasEdge(source, target int64) bool {
	for _, eid := range g.out[source] {
		if g.edges[eid].TargetID == target {
			return true
		}
	}
	return false
}

// EdgesBetween returns every edge source -> target in insertion order
func (g *Graph) EdgesBetween(source, target int64) []state.Edge {
	var out []state.Edge
	for _, eid := range g.out[source] {
		if g.edges[eid].TargetID == target {
			e, _ := g.Edge(eid)
			out = append(out, e)
		}
	}
	return out
}

// RemoveEdge deletes an edge by id and reports whether it existed
func (g *Graph) RemoveEdge(id int64) bool {
	e, ok := g.edges[id]
	if !ok {
		return false
	}
	delete(g.edges, id)
	g.edgeOrder = removeID(g.edgeOrder, id)
	g.out[e.SourceID] = removeID(g.out[e.SourceID], id)
	g.in[e.TargetID] = removeID(g.in[e.TargetID], id)
	return true
}

// SetEdgeWeight overwrites the weight of an existing edge
func (g *Graph) SetEdgeWeight(id int64, weight float64) error {
	e, ok := g.edges[id]
	if !ok {
		return apperrors.NewEdgeNotFound(id)
	}
	e.Weight = weight
	return nil
}

// OutDegree counts outgoing edges
func (g *Graph) OutDegree(id int64) int { return len(g.out[id]) }

// InDegree counts incoming edges
func (g *Graph) InDegree(id int64) int { return len(g.in[id]) }

// Degree is the total degree (in + out)
func (g *Graph) Degree(id int64) int { return len(g.out[id]) + len(g.in[id]) }

// Successors returns the distinct targets of outgoing edges
func (g *Graph) Successors(id int64) []int64 {
	return g.endpoints(g.out[id], func(e *state.Edge) int64 { return e.TargetID })
}

// Predecessors returns the distinct sources of incoming edges
func (g *Graph) Predecessors(id int64) []int64 {
	return g.endpoints(g.in[id], func(e *state.Edge) int64 { return e.SourceID })
}

// Neighbors returns successors followed by predecessors, without duplicates
func (g *Graph) Neighbors(id int64) []int64 {
	succ := g.Successors(id)
	seen := make(map[int64]bool, len(succ))
	for _, s := range succ {
		seen[s] = true
	}
	for _, p := range g.Predecessors(id) {
		if !seen[p] {
			seen[p] = true
			succ = append(succ, p)
		}
	}
	return succ
}

func (g *Graph) endpoints(edgeIDs []int64, pick func(*state.Edge) int64) []int64 {
	if len(edgeIDs) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(edgeIDs))
	out := make([]int64, 0, len(edgeIDs))
	for _, eid := range edgeIDs {
		other := pick(g.edges[eid])
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out
}

// Clone returns an independent deep copy
func (g *Graph) Clone() *Graph {
	c := New()
	for _, id := range g.nodeOrder {
		c.AddNode(*g.nodes[id])
	}
	for _, id := range g.edgeOrder {
		// endpoints exist in the clone by construction
		_ = c.AddEdge(*g.edges[id])
	}
	return c
}

// Data flattens the graph into the wire representation
func (g *Graph) Data() state.GraphData {
	return state.GraphData{Nodes: g.Nodes(), Edges: g.Edges()}
}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
