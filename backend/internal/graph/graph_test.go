package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
)

func node(id int64, typ string) state.Node {
	return state.Node{ID: id, Label: "n", Type: typ}
}

func edge(id, s, t int64, w float64) state.Edge {
	return state.Edge{ID: id, SourceID: s, TargetID: t, Label: "related_to", Weight: w}
}

func build(t *testing.T, nodes []int64, edges [][2]int64) *Graph {
	t.Helper()
	g := New()
	for _, id := range nodes {
		g.AddNode(node(id, "concept"))
	}
	for i, e := range edges {
		require.NoError(t, g.AddEdge(edge(int64(i+1), e[0], e[1], 1)))
	}
	return g
}

func TestGraph_AddEdgeRequiresEndpoints(t *testing.T) {
	g := New()
	g.AddNode(node(1, "concept"))

	err := g.AddEdge(edge(1, 1, 2, 1))
	require.Error(t, err)

	var nf *apperrors.ErrNodeNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, int64(2), nf.NodeID)
	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraph_DegreesAndNeighbors(t *testing.T) {
	g := build(t, []int64{1, 2, 3}, [][2]int64{{1, 2}, {3, 1}})

	assert.Equal(t, 2, g.Degree(1))
	assert.Equal(t, 1, g.OutDegree(1))
	assert.Equal(t, 1, g.InDegree(1))
	assert.Equal(t, []int64{2, 3}, g.Neighbors(1))
	assert.Equal(t, []int64{2}, g.Successors(1))
	assert.Equal(t, []int64{3}, g.Predecessors(1))
	assert.True(t, g.HasEdge(1, 2))
	assert.False(t, g.HasEdge(2, 1))
}

func TestGraph_ParallelEdgesAndRemoval(t *testing.T) {
	g := build(t, []int64{1, 2}, nil)
	require.NoError(t, g.AddEdge(edge(10, 1, 2, 0.3)))
	require.NoError(t, g.AddEdge(edge(11, 1, 2, 0.9)))

	between := g.EdgesBetween(1, 2)
	require.Len(t, between, 2)
	assert.Equal(t, []int64{2}, g.Successors(1), "successors are distinct")

	assert.True(t, g.RemoveEdge(10))
	assert.False(t, g.RemoveEdge(10))
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, 1, g.Degree(1))
}

func TestGraph_SetEdgeWeight(t *testing.T) {
	g := build(t, []int64{1, 2}, [][2]int64{{1, 2}})

	require.NoError(t, g.SetEdgeWeight(1, 0.42))
	e, ok := g.Edge(1)
	require.True(t, ok)
	assert.InDelta(t, 0.42, e.Weight, 1e-9)

	assert.Error(t, g.SetEdgeWeight(99, 1))
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := build(t, []int64{1, 2}, [][2]int64{{1, 2}})
	c := g.Clone()

	c.AddNode(node(3, "entity"))
	require.NoError(t, c.SetEdgeWeight(1, 0.1))

	assert.Equal(t, 2, g.NodeCount())
	e, _ := g.Edge(1)
	assert.InDelta(t, 1.0, e.Weight, 1e-9)
}

func TestGraph_MaxNodeIDAndOrder(t *testing.T) {
	g := build(t, []int64{5, 2, 9}, nil)
	assert.Equal(t, int64(9), g.MaxNodeID())
	assert.Equal(t, []int64{5, 2, 9}, g.NodeIDs())
	assert.Equal(t, 1, g.Position(2))
	assert.Equal(t, -1, g.Position(7))
	assert.Equal(t, int64(0), New().MaxNodeID())
}

func TestFromData_ReportsDanglingEdges(t *testing.T) {
	g, dangling := FromData(
		[]state.Node{node(1, "concept"), node(2, "concept")},
		[]state.Edge{edge(1, 1, 2, 1), edge(2, 2, 3, 1)},
	)
	assert.Equal(t, 1, g.EdgeCount())
	require.Len(t, dangling, 1)
	assert.Equal(t, int64(2), dangling[0].ID)
}

func TestWeakComponents(t *testing.T) {
	g := build(t, []int64{1, 2, 3, 4, 5}, [][2]int64{{2, 1}, {4, 5}})

	comps := g.WeakComponents()
	assert.Equal(t, [][]int64{{1, 2}, {3}, {4, 5}}, comps)
}

func TestStrongComponents(t *testing.T) {
	// 1 -> 2 -> 3 -> 1 is a cycle, 3 -> 4 hangs off it, 5 is isolated
	g := build(t, []int64{1, 2, 3, 4, 5}, [][2]int64{{1, 2}, {2, 3}, {3, 1}, {3, 4}})

	comps := g.StrongComponents()
	assert.Equal(t, [][]int64{{1, 2, 3}, {4}, {5}}, comps)
}

func TestStrongComponents_DeepChainDoesNotRecurse(t *testing.T) {
	g := New()
	const n = 20000
	for i := int64(1); i <= n; i++ {
		g.AddNode(node(i, "concept"))
	}
	for i := int64(1); i < n; i++ {
		require.NoError(t, g.AddEdge(edge(i, i, i+1, 1)))
	}
	require.NoError(t, g.AddEdge(edge(n, n, 1, 1)))

	comps := g.StrongComponents()
	require.Len(t, comps, 1)
	assert.Len(t, comps[0], n)
}
