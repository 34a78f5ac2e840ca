package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
)

func TestMemoryStore_AllocatesAndHonoursIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateNode(ctx, state.InsertNode{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, "Node 1", a.Label)
	assert.Equal(t, "concept", a.Type)

	b, err := s.CreateNode(ctx, state.InsertNode{ID: 5, Label: "mitochondria"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.ID)

	c, err := s.CreateNode(ctx, state.InsertNode{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.ID)

	_, err = s.CreateNode(ctx, state.InsertNode{ID: 5})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeStore))
}

func TestMemoryStore_EdgeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Seed([]state.Node{{ID: 1}, {ID: 2}}, nil)

	e, err := s.CreateEdge(ctx, state.InsertEdge{SourceID: 1, TargetID: 2, Weight: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "related_to", e.Label)

	_, err = s.CreateEdge(ctx, state.InsertEdge{SourceID: 1, TargetID: 9})
	require.Error(t, err)
	var nf *apperrors.ErrNodeNotFound
	assert.ErrorAs(t, err, &nf)

	require.NoError(t, s.UpdateEdgeWeight(ctx, e.ID, 0.9))
	data, err := s.GetFullGraph(ctx)
	require.NoError(t, err)
	require.Len(t, data.Edges, 1)
	assert.InDelta(t, 0.9, data.Edges[0].Weight, 1e-9)

	require.NoError(t, s.DeleteEdge(ctx, e.ID))
	var enf *apperrors.ErrEdgeNotFound
	assert.ErrorAs(t, s.DeleteEdge(ctx, e.ID), &enf)

	nodes, edges := s.Counts()
	assert.Equal(t, 2, nodes)
	assert.Zero(t, edges)
}

func TestMemoryStore_WriteHooks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreateNodeFunc = func(in state.InsertNode) error {
		if in.Label == "broken" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := s.CreateNode(ctx, state.InsertNode{Label: "broken"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	n, err := s.CreateNode(ctx, state.InsertNode{Label: "fine"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.ID, "rejected writes do not consume ids")
}

func TestMemoryStore_RejectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().CreateNode(ctx, state.InsertNode{})
	assert.Error(t, err)
}
