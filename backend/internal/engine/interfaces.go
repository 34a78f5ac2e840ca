package engine

import (
	"context"

	"kgraph/backend/internal/state"
)

// Store persists the graph. Every mutation reaches the store before the
// in-memory graph.
type Store interface {
	GetFullGraph(ctx context.Context) (state.GraphData, error)
	CreateNode(ctx context.Context, node state.InsertNode) (state.Node, error)
	CreateEdge(ctx context.Context, edge state.InsertEdge) (state.Edge, error)
}

// EdgeDeleter is implemented by stores that can delete edges. Without it,
// redundant edge repair only changes the in-memory graph.
type EdgeDeleter interface {
	DeleteEdge(ctx context.Context, id int64) error
}

// EdgeWeightUpdater is implemented by stores that can reweigh edges
type EdgeWeightUpdater interface {
	UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error
}

// Provider is the external reasoning service
type Provider interface {
	Expand(ctx context.Context, prompt string, current state.GraphData) (*state.Expansion, error)
	AnalyzeContent(ctx context.Context, content state.Content, existing []state.Node) (*state.Expansion, error)
	ValidateRelationships(ctx context.Context, source *state.Node, targets []state.Node) (*state.RelationshipValidation, error)
	SuggestRelationships(ctx context.Context, nodes []state.Node) ([]state.RelationshipSuggestion, error)
}

// UpdateFunc receives a full snapshot after the graph changed
type UpdateFunc func(data state.GraphData)
