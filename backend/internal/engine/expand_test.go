package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/state"
	"kgraph/backend/internal/store"
	apperrors "kgraph/backend/pkg/errors"
)

func TestExpand_SeedOnEmptyGraph(t *testing.T) {
	s := store.NewMemoryStore()
	p := &mockProvider{expansions: []*state.Expansion{{
		Nodes: []*state.ProposedNode{{Label: "A"}, {Label: "B"}},
		Edges: []*state.ProposedEdge{{SourceID: 1, TargetID: 2}},
	}}}
	m := newTestManager(t, s, p)

	data, err := m.Expand(context.Background(), "seed", 10)
	require.NoError(t, err)

	require.Len(t, data.Nodes, 2)
	require.Len(t, data.Edges, 1)
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, degreeOf(data))
	assert.Equal(t, "A", data.Nodes[0].Label)
	assert.Equal(t, 1, p.calls())

	nodes, edges := s.Counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
}

func TestExpand_RejectsEmptyPrompt(t *testing.T) {
	m := newTestManager(t, store.NewMemoryStore(), &mockProvider{})
	_, err := m.Expand(context.Background(), "   ", 1)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
}

func TestExpand_IdempotentMerge(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed(
		[]state.Node{{ID: 1, Label: "a", Type: "concept"}, {ID: 2, Label: "b", Type: "concept"}},
		[]state.Edge{{ID: 1, SourceID: 1, TargetID: 2, Label: "related_to", Weight: 1}},
	)
	again := &state.Expansion{Edges: []*state.ProposedEdge{{SourceID: 1, TargetID: 2, Weight: weight(0.1)}}}
	p := &mockProvider{expansions: []*state.Expansion{again, again}}
	m := newTestManager(t, s, p)

	for i := 0; i < 2; i++ {
		data, err := m.Expand(context.Background(), "again", 1)
		require.NoError(t, err)
		require.Len(t, data.Edges, 1)
		assert.Equal(t, 1.0, data.Edges[0].Weight)
	}

	_, edges := s.Counts()
	assert.Equal(t, 1, edges)
}

func TestExpand_FollowsQuestionsUntilCap(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	p := &mockProvider{}
	p.ExpandFunc = func(_ context.Context, prompt string, current state.GraphData) (*state.Expansion, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		return &state.Expansion{
			Nodes:        []*state.ProposedNode{{Label: prompt}},
			NextQuestion: "next",
		}, nil
	}
	m := newTestManager(t, store.NewMemoryStore(), p)

	data, err := m.Expand(context.Background(), "seed", 3)
	require.NoError(t, err)
	assert.Len(t, data.Nodes, 3)
	assert.Equal(t, []string{"seed", "next", "next"}, prompts)
}

func TestExpand_StopsOnInvalidProposal(t *testing.T) {
	p := &mockProvider{expansions: []*state.Expansion{
		{Nodes: []*state.ProposedNode{{Label: "a"}}, NextQuestion: "more"},
		{Edges: []*state.ProposedEdge{{SourceID: 7, TargetID: 8}}, NextQuestion: "even more"},
	}}
	m := newTestManager(t, store.NewMemoryStore(), p)

	data, err := m.Expand(context.Background(), "seed", 10)
	require.NoError(t, err)
	assert.Len(t, data.Nodes, 1)
	assert.Equal(t, 2, p.calls())
}

func TestExpand_ProviderErrorAbortsButKeepsCommits(t *testing.T) {
	p := &mockProvider{}
	p.ExpandFunc = func(context.Context, string, state.GraphData) (*state.Expansion, error) {
		if p.calls() == 1 {
			return &state.Expansion{Nodes: []*state.ProposedNode{{Label: "kept"}}, NextQuestion: "more"}, nil
		}
		return nil, apperrors.NewProviderResponseInvalid("expand", "{}", errors.New("missing nodes"))
	}
	m := newTestManager(t, store.NewMemoryStore(), p)

	_, err := m.Expand(context.Background(), "seed", 5)
	require.Error(t, err)
	var invalid *apperrors.ErrProviderResponseInvalid
	assert.ErrorAs(t, err, &invalid)

	data, err := m.GraphData(context.Background())
	require.NoError(t, err)
	require.Len(t, data.Nodes, 1)
	assert.Equal(t, "kept", data.Nodes[0].Label)
}

func TestExpand_StoreFailureIsolation(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateNodeFunc = func(in state.InsertNode) error {
		if in.Label == "bad" {
			return errors.New("constraint violation")
		}
		return nil
	}
	p := &mockProvider{expansions: []*state.Expansion{{
		Nodes: []*state.ProposedNode{{Label: "good"}, {Label: "bad"}, {Label: "also good"}},
		Edges: []*state.ProposedEdge{
			{SourceID: 1, TargetID: 2},
			{SourceID: 1, TargetID: 3},
		},
	}}}
	m := newTestManager(t, s, p)

	data, err := m.Expand(context.Background(), "seed", 1)
	require.NoError(t, err)
	require.Len(t, data.Nodes, 2)
	require.Len(t, data.Edges, 1)
	assert.Equal(t, int64(3), data.Edges[0].TargetID)

	nodes, edges := s.Counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
}

func TestExpand_ConcurrentCallersShareOneRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	p := &mockProvider{}
	p.ExpandFunc = func(ctx context.Context, _ string, _ state.GraphData) (*state.Expansion, error) {
		once.Do(func() { close(entered) })
		<-release
		return &state.Expansion{
			Nodes: []*state.ProposedNode{{Label: "A"}, {Label: "B"}},
			Edges: []*state.ProposedEdge{{SourceID: 1, TargetID: 2}},
		}, nil
	}
	m := newTestManager(t, store.NewMemoryStore(), p, WithDeadline(5*time.Second))

	const callers = 5
	results := make([]state.GraphData, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Expand(context.Background(), "seed", 10)
		}(i)
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, p.calls())
	assert.Equal(t, 1, p.maxInFlight)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Nodes, 2)
		assert.Len(t, results[i].Edges, 1)
	}
}

func TestExpand_DeadlineReturnsCommittedState(t *testing.T) {
	p := &mockProvider{}
	p.ExpandFunc = func(ctx context.Context, _ string, _ state.GraphData) (*state.Expansion, error) {
		if p.calls() == 1 {
			return &state.Expansion{Nodes: []*state.ProposedNode{{Label: "first"}}, NextQuestion: "more"}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := newTestManager(t, store.NewMemoryStore(), p, WithDeadline(100*time.Millisecond))

	start := time.Now()
	data, err := m.Expand(context.Background(), "seed", 10)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, data.Nodes, 1)
	assert.Equal(t, "first", data.Nodes[0].Label)
}

func TestExpand_DeadlineWithUnresponsiveProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := &mockProvider{}
	p.ExpandFunc = func(context.Context, string, state.GraphData) (*state.Expansion, error) {
		<-release
		return &state.Expansion{Nodes: []*state.ProposedNode{{Label: "late"}}}, nil
	}
	m := newTestManager(t, store.NewMemoryStore(), p, WithDeadline(50*time.Millisecond))

	start := time.Now()
	data, err := m.Expand(context.Background(), "seed", 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, data.Nodes)
}

func TestExpand_CallerCancellationDoesNotStopRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := &mockProvider{}
	p.ExpandFunc = func(context.Context, string, state.GraphData) (*state.Expansion, error) {
		close(entered)
		<-release
		return &state.Expansion{Nodes: []*state.ProposedNode{{Label: "survivor"}}}, nil
	}
	m := newTestManager(t, store.NewMemoryStore(), p, WithDeadline(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Expand(ctx, "seed", 1)
		done <- err
	}()

	<-entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	close(release)

	require.Eventually(t, func() bool {
		g, err := m.Snapshot(context.Background())
		return err == nil && g.NodeCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAnalyzeContent(t *testing.T) {
	t.Run("invalid content is rejected before the provider", func(t *testing.T) {
		called := false
		p := &mockProvider{AnalyzeFunc: func(context.Context, state.Content, []state.Node) (*state.Expansion, error) {
			called = true
			return nil, nil
		}}
		m := newTestManager(t, store.NewMemoryStore(), p)

		_, err := m.AnalyzeContent(context.Background(), state.Content{
			Text:   "diagram",
			Images: []state.Image{{Data: "not base64!", Type: "image/png"}},
		})
		assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeValidation))
		assert.False(t, called)
	})

	t.Run("proposal is merged", func(t *testing.T) {
		s := store.NewMemoryStore()
		s.Seed([]state.Node{{ID: 1, Label: "plant", Type: "entity"}}, nil)

		var existing []state.Node
		p := &mockProvider{AnalyzeFunc: func(_ context.Context, _ state.Content, nodes []state.Node) (*state.Expansion, error) {
			existing = nodes
			return &state.Expansion{
				Nodes: []*state.ProposedNode{{Label: "chloroplast", Type: "image_concept"}},
				Edges: []*state.ProposedEdge{{SourceID: 1, TargetID: 2, Label: "contains", Weight: weight(0.8)}},
			}, nil
		}}
		m := newTestManager(t, s, p)

		data, err := m.AnalyzeContent(context.Background(), state.Content{
			Text:   "a plant cell",
			Images: []state.Image{{Data: "iVBORw0KGgo=", Type: "image/png"}},
		})
		require.NoError(t, err)
		require.Len(t, existing, 1)
		assert.Len(t, data.Nodes, 2)
		require.Len(t, data.Edges, 1)
		assert.Equal(t, "contains", data.Edges[0].Label)
	})

	t.Run("provider failure is returned", func(t *testing.T) {
		p := &mockProvider{AnalyzeFunc: func(context.Context, state.Content, []state.Node) (*state.Expansion, error) {
			return nil, apperrors.ErrProviderNoResponse
		}}
		m := newTestManager(t, store.NewMemoryStore(), p)

		_, err := m.AnalyzeContent(context.Background(), state.Content{Text: "x"})
		assert.ErrorIs(t, err, apperrors.ErrProviderNoResponse)
	})
}
