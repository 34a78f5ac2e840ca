package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// MemoryStore is an in-process graph store for development and tests.
// It honours the same id rules as the Neo4j store.
type MemoryStore struct {
	mu        sync.Mutex
	nodes     map[int64]state.Node
	nodeOrder []int64
	edges     map[int64]state.Edge
	edgeOrder []int64
	nodeSeq   int64
	edgeSeq   int64
	logger    *zap.Logger

	// Optional hooks, checked before a write is applied. A non-nil error
	// rejects the write.
	CreateNodeFunc func(state.InsertNode) error
	CreateEdgeFunc func(state.InsertEdge) error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[int64]state.Node),
		edges:  make(map[int64]state.Edge),
		logger: logger.Named("store.memory"),
	}
}

// GetFullGraph returns every node and edge in creation order
func (s *MemoryStore) GetFullGraph(ctx context.Context) (state.GraphData, error) {
	if err := ctx.Err(); err != nil {
		return state.GraphData{}, apperrors.NewStoreQueryFailed("load graph", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data := state.GraphData{
		Nodes: make([]state.Node, 0, len(s.nodeOrder)),
		Edges: make([]state.Edge, 0, len(s.edgeOrder)),
	}
	for _, id := range s.nodeOrder {
		n := s.nodes[id]
		n.Metadata = n.Metadata.Clone()
		data.Nodes = append(data.Nodes, n)
	}
	for _, id := range s.edgeOrder {
		e := s.edges[id]
		e.Metadata = e.Metadata.Clone()
		data.Edges = append(data.Edges, e)
	}
	return data, nil
}

// CreateNode stores a node, allocating an id when none is given
func (s *MemoryStore) CreateNode(ctx context.Context, in state.InsertNode) (state.Node, error) {
	if err := ctx.Err(); err != nil {
		return state.Node{}, apperrors.NewStoreWriteFailed("create node", err)
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Node{}, err
	}
	if s.CreateNodeFunc != nil {
		if err := s.CreateNodeFunc(in); err != nil {
			return state.Node{}, apperrors.NewStoreWriteFailed("create node", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := in.ID
	if id == 0 {
		id = s.nodeSeq + 1
	} else if _, exists := s.nodes[id]; exists {
		return state.Node{}, apperrors.NewStoreWriteFailed("create node",
			fmt.Errorf("node %d already exists", id))
	}
	if id > s.nodeSeq {
		s.nodeSeq = id
	}

	node := state.Node{ID: id, Label: in.Label, Type: in.Type, Metadata: in.Metadata.Clone()}
	if node.Label == "" {
		node.Label = fmt.Sprintf(constants.DefaultNodeLabelForm, id)
	}
	s.nodes[id] = node
	s.nodeOrder = append(s.nodeOrder, id)

	s.logger.Debug("Node created", zap.Int64("node_id", id))
	return node, nil
}

// CreateEdge stores an edge between two existing nodes
func (s *MemoryStore) CreateEdge(ctx context.Context, in state.InsertEdge) (state.Edge, error) {
	if err := ctx.Err(); err != nil {
		return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", err)
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Edge{}, err
	}
	if s.CreateEdgeFunc != nil {
		if err := s.CreateEdgeFunc(in); err != nil {
			return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[in.SourceID]; !ok {
		return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", apperrors.NewNodeNotFound(in.SourceID))
	}
	if _, ok := s.nodes[in.TargetID]; !ok {
		return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", apperrors.NewNodeNotFound(in.TargetID))
	}

	s.edgeSeq++
	edge := state.Edge{
		ID:       s.edgeSeq,
		SourceID: in.SourceID,
		TargetID: in.TargetID,
		Label:    in.Label,
		Weight:   in.Weight,
		Metadata: in.Metadata.Clone(),
	}
	s.edges[edge.ID] = edge
	s.edgeOrder = append(s.edgeOrder, edge.ID)

	s.logger.Debug("Edge created", zap.Int64("edge_id", edge.ID))
	return edge, nil
}

// DeleteEdge removes an edge by id
func (s *MemoryStore) DeleteEdge(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreWriteFailed("delete edge", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[id]; !ok {
		return apperrors.NewEdgeNotFound(id)
	}
	delete(s.edges, id)
	for i, eid := range s.edgeOrder {
		if eid == id {
			s.edgeOrder = append(s.edgeOrder[:i], s.edgeOrder[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateEdgeWeight overwrites the weight of an edge
func (s *MemoryStore) UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreWriteFailed("update edge weight", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[id]
	if !ok {
		return apperrors.NewEdgeNotFound(id)
	}
	e.Weight = weight
	s.edges[id] = e
	return nil
}

// Seed inserts nodes and edges verbatim, keeping their ids. Duplicate
// (source, target) pairs are accepted so callers can stage graphs that need
// auditing.
func (s *MemoryStore) Seed(nodes []state.Node, edges []state.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		if _, exists := s.nodes[n.ID]; !exists {
			s.nodeOrder = append(s.nodeOrder, n.ID)
		}
		s.nodes[n.ID] = n
		if n.ID > s.nodeSeq {
			s.nodeSeq = n.ID
		}
	}
	for _, e := range edges {
		if _, exists := s.edges[e.ID]; !exists {
			s.edgeOrder = append(s.edgeOrder, e.ID)
		}
		s.edges[e.ID] = e
		if e.ID > s.edgeSeq {
			s.edgeSeq = e.ID
		}
	}
}

// Counts reports the number of stored nodes and edges
func (s *MemoryStore) Counts() (nodes, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.edges)
}

// Close is a no-op
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
