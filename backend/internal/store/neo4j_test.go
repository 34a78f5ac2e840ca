package store

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/state"
)

// The tests below need a running Neo4j instance. Set NEO4J_URI, NEO4J_USER
// and NEO4J_PASSWORD to point them at one; they skip when it is unreachable.
// They write into the target database, so never aim them at real data.

func TestNeo4jStore_CreateAndLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver := createTestDriver(t)
	defer driver.Close(ctx)
	cleanGraph(t, driver)
	defer cleanGraph(t, driver)

	s := NewNeo4jStore(driver)
	require.NoError(t, s.EnsureSchema(ctx))

	a, err := s.CreateNode(ctx, state.InsertNode{Type: "concept"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, "Node 1", a.Label)

	b, err := s.CreateNode(ctx, state.InsertNode{ID: 7, Label: "photosynthesis"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.ID)

	c, err := s.CreateNode(ctx, state.InsertNode{Label: "chlorophyll"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.ID, "allocation continues past explicit ids")

	e, err := s.CreateEdge(ctx, state.InsertEdge{SourceID: a.ID, TargetID: b.ID, Weight: 0.7})
	require.NoError(t, err)
	assert.Equal(t, "related_to", e.Label)

	require.NoError(t, s.UpdateEdgeWeight(ctx, e.ID, 0.2))

	data, err := s.GetFullGraph(ctx)
	require.NoError(t, err)
	require.Len(t, data.Nodes, 3)
	require.Len(t, data.Edges, 1)
	assert.InDelta(t, 0.2, data.Edges[0].Weight, 1e-9)

	require.NoError(t, s.DeleteEdge(ctx, e.ID))
	assert.Error(t, s.DeleteEdge(ctx, e.ID))
}

func TestNeo4jStore_CreateEdgeMissingEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver := createTestDriver(t)
	defer driver.Close(ctx)
	cleanGraph(t, driver)
	defer cleanGraph(t, driver)

	s := NewNeo4jStore(driver)
	_, err := s.CreateEdge(ctx, state.InsertEdge{SourceID: 100, TargetID: 101})
	assert.Error(t, err)
}

func createTestDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	uri := getenv("NEO4J_URI", "bolt://localhost:7687")
	user := getenv("NEO4J_USER", "neo4j")
	password := getenv("NEO4J_PASSWORD", "password")

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		t.Skipf("Neo4j driver unavailable: %v", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		t.Skipf("Neo4j not reachable at %s: %v", uri, err)
	}
	return driver
}

func cleanGraph(t *testing.T, driver neo4j.DriverWithContext) {
	t.Helper()
	ctx := context.Background()
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, _ = session.Run(ctx, "MATCH (n:KGNode) DETACH DELETE n", nil)
	_, _ = session.Run(ctx, "MATCH (s:KGSequence) DELETE s", nil)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
