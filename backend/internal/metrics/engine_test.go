package metrics

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
)

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

func buildGraph(t *testing.T, n int64, edges [][2]int64) *graph.Graph {
	t.Helper()
	g := graph.New()
	for i := int64(1); i <= n; i++ {
		g.AddNode(state.Node{ID: i, Label: "n", Type: "concept"})
	}
	for i, e := range edges {
		require.NoError(t, g.AddEdge(state.Edge{ID: int64(i + 1), SourceID: e[0], TargetID: e[1], Weight: 1}))
	}
	return g
}

func star(t *testing.T) *graph.Graph {
	return buildGraph(t, 6, [][2]int64{{1, 2}, {1, 3}, {1, 4}, {1, 5}, {1, 6}})
}

func TestCompute_StarHasOneHub(t *testing.T) {
	m, err := newTestEngine().Compute(context.Background(), star(t))
	require.NoError(t, err)

	assert.Equal(t, 5, m.Degree[1])
	for id := int64(2); id <= 6; id++ {
		assert.Equal(t, 1, m.Degree[id])
	}

	require.Len(t, m.ScaleFreeness.HubNodes, 1)
	hub := m.ScaleFreeness.HubNodes[0]
	assert.Equal(t, int64(1), hub.ID)
	assert.Equal(t, 5, hub.Degree)
	assert.Greater(t, hub.Influence, m.Eigenvector[2])
}

func TestCompute_EmptyGraph(t *testing.T) {
	m, err := newTestEngine().Compute(context.Background(), graph.New())
	require.NoError(t, err)

	assert.Empty(t, m.Degree)
	assert.Empty(t, m.Betweenness)
	assert.Empty(t, m.ScaleFreeness.HubNodes)
	assert.Zero(t, m.ScaleFreeness.PowerLawExponent)
	assert.Zero(t, m.ScaleFreeness.FitQuality)
}

func TestCompute_SeedPair(t *testing.T) {
	m, err := newTestEngine().Compute(context.Background(), buildGraph(t, 2, [][2]int64{{1, 2}}))
	require.NoError(t, err)

	assert.Equal(t, map[int64]int{1: 1, 2: 1}, m.Degree)
	assert.Zero(t, m.Betweenness[1])
	assert.Zero(t, m.ScaleFreeness.PowerLawExponent)
}

func TestCompute_NilGraph(t *testing.T) {
	_, err := newTestEngine().Compute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestCompute_PathHasBridge(t *testing.T) {
	m, err := newTestEngine().Compute(context.Background(), buildGraph(t, 3, [][2]int64{{1, 2}, {2, 3}}))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, m.Betweenness[2], 1e-9)
	assert.Zero(t, m.Betweenness[1])

	require.Len(t, m.ScaleFreeness.BridgingNodes, 1)
	assert.Equal(t, int64(2), m.ScaleFreeness.BridgingNodes[0].ID)
	assert.Equal(t, 2, m.ScaleFreeness.BridgingNodes[0].Communities)
}

func TestCompute_EigenvectorFallbackIsZero(t *testing.T) {
	m, err := newTestEngine(WithEigenvectorLimits(1, 1e-12)).Compute(context.Background(), star(t))
	require.NoError(t, err)

	require.Len(t, m.Eigenvector, 6)
	for _, v := range m.Eigenvector {
		assert.Zero(t, v)
	}
}

func TestEigenvector_UnitNorm(t *testing.T) {
	ev, err := Eigenvector(star(t), 100, 1e-6)
	require.NoError(t, err)

	sum := 0.0
	for _, v := range ev {
		sum += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
	assert.Greater(t, ev[1], ev[3])
	assert.InDelta(t, ev[2], ev[6], 1e-9)
}

func TestPowerLawFit(t *testing.T) {
	t.Run("too few nodes", func(t *testing.T) {
		alpha, r2 := PowerLawFit([]int{1, 1})
		assert.Zero(t, alpha)
		assert.Zero(t, r2)
	})

	t.Run("single distinct degree", func(t *testing.T) {
		alpha, r2 := PowerLawFit([]int{2, 2, 2, 2})
		assert.Zero(t, alpha)
		assert.Zero(t, r2)
	})

	t.Run("two points fit exactly", func(t *testing.T) {
		alpha, r2 := PowerLawFit([]int{1, 1, 1, 2})
		want := math.Log(3) / (math.Log(3) - math.Log(2))
		assert.InDelta(t, want, alpha, 1e-9)
		assert.InDelta(t, 1.0, r2, 1e-9)
	})
}
