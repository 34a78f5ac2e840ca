package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/backend/internal/engine"
	"kgraph/backend/internal/observability"
	"kgraph/backend/internal/state"
	"kgraph/backend/internal/store"
	apperrors "kgraph/backend/pkg/errors"
)

// fakeProvider answers every expansion with the same proposal
type fakeProvider struct {
	expansion *state.Expansion
	err       error
}

func (p *fakeProvider) Expand(context.Context, string, state.GraphData) (*state.Expansion, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.expansion == nil {
		return &state.Expansion{}, nil
	}
	return p.expansion, nil
}

func (p *fakeProvider) AnalyzeContent(context.Context, state.Content, []state.Node) (*state.Expansion, error) {
	return p.Expand(context.Background(), "", state.GraphData{})
}

func (p *fakeProvider) ValidateRelationships(context.Context, *state.Node, []state.Node) (*state.RelationshipValidation, error) {
	return &state.RelationshipValidation{}, nil
}

func (p *fakeProvider) SuggestRelationships(context.Context, []state.Node) ([]state.RelationshipSuggestion, error) {
	return nil, nil
}

func setupTestServer(t *testing.T, s *store.MemoryStore, p *fakeProvider) (*gin.Engine, *server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	collector := observability.NewCollector("kgraph")
	manager := engine.New(s, p,
		engine.WithLogger(zap.NewNop()),
		engine.WithCollector(collector),
		engine.WithIterationPause(0))
	require.NoError(t, manager.Initialize(context.Background()))
	t.Cleanup(func() { manager.Close() })

	srv := &server{
		manager:   manager,
		events:    newEventHub(zap.NewNop()),
		collector: collector,
		log:       zap.NewNop(),
	}
	manager.SetOnUpdate(srv.events.publish)
	return newRouter(srv, false), srv
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})

	w := doJSON(router, "GET", "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestCORSPreflight(t *testing.T) {
	router, _ := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})

	w := doJSON(router, "OPTIONS", "/api/graph/expand", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestExpandEndpoint(t *testing.T) {
	p := &fakeProvider{expansion: &state.Expansion{
		Nodes: []*state.ProposedNode{{Label: "A"}, {Label: "B"}},
		Edges: []*state.ProposedEdge{{SourceID: 1, TargetID: 2}},
	}}
	router, srv := setupTestServer(t, store.NewMemoryStore(), p)
	ch, ok := srv.events.subscribe()
	require.True(t, ok)

	// Test missing prompt
	w := doJSON(router, "POST", "/api/graph/expand", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/api/graph/expand", `{"prompt":"photosynthesis","maxIterations":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	var data state.GraphData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	assert.Len(t, data.Nodes, 2)
	assert.Len(t, data.Edges, 1)
	require.NotNil(t, data.Metrics)

	select {
	case pushed := <-ch:
		assert.Len(t, pushed.Nodes, 2)
	default:
		t.Fatal("expected an update to be published")
	}
}

func TestExpandEndpoint_ProviderFailure(t *testing.T) {
	p := &fakeProvider{err: apperrors.NewProviderCallFailed("expand", 3, true, errors.New("503"))}
	router, _ := setupTestServer(t, store.NewMemoryStore(), p)

	w := doJSON(router, "POST", "/api/graph/expand", `{"prompt":"x"}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNodeAndEdgeEndpoints(t *testing.T) {
	router, _ := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})

	for _, label := range []string{"cell", "nucleus"} {
		w := doJSON(router, "POST", "/api/graph/nodes", fmt.Sprintf(`{"label":%q}`, label))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(router, "POST", "/api/graph/edges", `{"sourceId":1,"targetId":2,"label":"contains"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var edge state.Edge
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edge))
	assert.Equal(t, 1.0, edge.Weight)
	assert.Equal(t, "contains", edge.Label)

	t.Run("missing endpoint", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/graph/edges", `{"sourceId":1,"targetId":42}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("explicit zero weight", func(t *testing.T) {
		w := doJSON(router, "POST", "/api/graph/edges", `{"sourceId":2,"targetId":1,"weight":0}`)
		require.Equal(t, http.StatusCreated, w.Code)
		var edge state.Edge
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edge))
		assert.Equal(t, 0.0, edge.Weight)
	})

	w = doJSON(router, "GET", "/api/graph", "")
	require.Equal(t, http.StatusOK, w.Code)
	var data state.GraphData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &data))
	assert.Len(t, data.Nodes, 2)
	assert.Len(t, data.Edges, 2)
}

func TestAnalyzeEndpoint_InvalidImage(t *testing.T) {
	router, _ := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})

	w := doJSON(router, "POST", "/api/graph/analyze",
		`{"text":"diagram","images":[{"data":"%%%","type":"image/png"}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRepairEndpoint_RemovesRedundantEdges(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed(
		[]state.Node{{ID: 1, Label: "a", Type: "concept"}, {ID: 2, Label: "b", Type: "concept"}},
		[]state.Edge{
			{ID: 1, SourceID: 1, TargetID: 2, Label: "related_to", Weight: 0.3},
			{ID: 2, SourceID: 1, TargetID: 2, Label: "related_to", Weight: 0.9},
			{ID: 3, SourceID: 2, TargetID: 1, Label: "related_to", Weight: 1},
		},
	)
	router, _ := setupTestServer(t, s, &fakeProvider{})

	w := doJSON(router, "GET", "/api/graph/consistency", "")
	require.Equal(t, http.StatusOK, w.Code)
	var before state.ConsistencyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &before))
	assert.False(t, before.IsValid)

	w = doJSON(router, "POST", "/api/graph/repair", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Repair      state.RepairReport      `json:"repair"`
		Consistency state.ConsistencyReport `json:"consistency"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Repair.EdgesRemoved)
	assert.True(t, body.Consistency.IsValid)

	_, edges := s.Counts()
	assert.Equal(t, 2, edges)
}

func TestReconnectAndGapsEndpoints(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed(
		[]state.Node{
			{ID: 1, Label: "a", Type: "concept"},
			{ID: 2, Label: "b", Type: "concept"},
			{ID: 3, Label: "lonely", Type: "concept"},
		},
		[]state.Edge{{ID: 1, SourceID: 1, TargetID: 2, Label: "related_to", Weight: 1}},
	)
	router, _ := setupTestServer(t, s, &fakeProvider{})

	w := doJSON(router, "GET", "/api/graph/gaps", "")
	require.Equal(t, http.StatusOK, w.Code)
	var gaps state.KnowledgeGaps
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &gaps))
	assert.Equal(t, []string{"lonely"}, gaps.DisconnectedConcepts)

	w = doJSON(router, "POST", "/api/graph/reconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Reconnect state.ReconnectReport `json:"reconnect"`
		Graph     state.GraphData       `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Reconnect.Reconnected)
	assert.Len(t, body.Graph.Edges, 2)
}

func TestSuggestionsEndpoint_UnknownNode(t *testing.T) {
	router, _ := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})

	w := doJSON(router, "POST", "/api/graph/suggestions", `{"nodeIds":[99]}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})
	doJSON(router, "GET", "/health", "")

	w := doJSON(router, "GET", "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "kgraph_http_requests_total"))
}

func TestEventsEndpoint_ClosedHub(t *testing.T) {
	router, srv := setupTestServer(t, store.NewMemoryStore(), &fakeProvider{})
	srv.events.close()

	w := doJSON(router, "GET", "/api/graph/events", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventHub(t *testing.T) {
	t.Run("slow client keeps only the latest snapshot", func(t *testing.T) {
		hub := newEventHub(zap.NewNop())
		ch, ok := hub.subscribe()
		require.True(t, ok)

		hub.publish(state.GraphData{Nodes: []state.Node{{ID: 1}}})
		hub.publish(state.GraphData{Nodes: []state.Node{{ID: 1}, {ID: 2}}})

		got := <-ch
		assert.Len(t, got.Nodes, 2)
		select {
		case <-ch:
			t.Fatal("stale snapshot was not dropped")
		default:
		}
	})

	t.Run("unsubscribe and close", func(t *testing.T) {
		hub := newEventHub(zap.NewNop())
		a, _ := hub.subscribe()
		_, _ = hub.subscribe()
		assert.Equal(t, 2, hub.size())

		hub.unsubscribe(a)
		hub.unsubscribe(a)
		assert.Equal(t, 1, hub.size())

		hub.close()
		assert.Equal(t, 0, hub.size())
		_, ok := hub.subscribe()
		assert.False(t, ok)

		// publishing after close is a no-op
		hub.publish(state.GraphData{})
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not initialized", engine.ErrNotInitialized, http.StatusServiceUnavailable},
		{"closed", fmt.Errorf("wrapped: %w", engine.ErrClosed), http.StatusServiceUnavailable},
		{"invalid input", apperrors.NewInvalidInput("prompt", "empty"), http.StatusBadRequest},
		{"missing node", apperrors.NewNodeNotFound(7), http.StatusNotFound},
		{"timeout", apperrors.NewContextTimeout("expand", 0), http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"provider", fmt.Errorf("content analysis: %w", apperrors.ErrProviderNoResponse), http.StatusBadGateway},
		{"store", apperrors.NewStoreWriteFailed("create node", errors.New("boom")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
