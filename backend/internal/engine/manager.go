package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"kgraph/backend/internal/audit"
	"kgraph/backend/internal/clustering"
	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/metrics"
	"kgraph/backend/internal/observability"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

var (
	ErrNotInitialized = errors.New("graph manager is not initialized")
	ErrClosed         = errors.New("graph manager is closed")
)

const (
	stateNew int32 = iota
	stateRunning
	stateClosed
)

// Manager owns the live graph. A single actor goroutine holds the graph and
// every read or write is a closure executed by it. Store writes happen
// outside the actor, before the matching in-memory commit.
type Manager struct {
	store      Store
	provider   Provider
	metrics    *metrics.Engine
	clustering *clustering.Engine
	auditor    *audit.Auditor
	collector  *observability.Collector
	logger     *zap.Logger

	deadline      time.Duration
	maxIterations int
	pause         time.Duration
	threshold     float64
	historyLimit  int
	now           func() time.Time

	lifecycleMu sync.Mutex
	state       atomic.Int32
	requests    chan func(*graph.Graph)
	stop        chan struct{}
	stopped     chan struct{}

	// writeMu serialises check-persist-commit sequences
	writeMu sync.Mutex
	// runGate admits one expansion or content analysis at a time
	runGate chan struct{}
	flight  singleflight.Group

	onUpdate atomic.Pointer[UpdateFunc]
	history  *history
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger overrides the process logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCollector enables Prometheus instrumentation
func WithCollector(c *observability.Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithMetricsEngine replaces the metrics engine
func WithMetricsEngine(e *metrics.Engine) Option {
	return func(m *Manager) {
		if e != nil {
			m.metrics = e
		}
	}
}

// WithClusteringEngine replaces the clustering engine used for snapshots and audits
func WithClusteringEngine(e *clustering.Engine) Option {
	return func(m *Manager) {
		if e != nil {
			m.clustering = e
		}
	}
}

// WithDeadline sets the wall-clock budget of one expansion
func WithDeadline(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.deadline = d
		}
	}
}

// WithMaxIterations sets the default round cap of an expansion
func WithMaxIterations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxIterations = n
		}
	}
}

// WithIterationPause sets the pause between expansion rounds
func WithIterationPause(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.pause = d
		}
	}
}

// WithLowCoherenceThreshold sets the audit threshold for suspect edges
func WithLowCoherenceThreshold(t float64) Option {
	return func(m *Manager) { m.threshold = t }
}

// WithHistoryLimit bounds the number of retained growth points
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// WithClock replaces time.Now for growth history
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a manager. Call Initialize before use and Close when done.
func New(store Store, provider Provider, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		provider:      provider,
		metrics:       metrics.NewEngine(),
		clustering:    clustering.NewEngine(),
		logger:        logger.Named("engine"),
		deadline:      constants.DefaultExpansionDeadline,
		maxIterations: constants.DefaultMaxIterations,
		pause:         constants.DefaultIterationPause,
		threshold:     constants.LowCoherenceThreshold,
		historyLimit:  constants.MaxHistoryPoints,
		now:           time.Now,
		requests:      make(chan func(*graph.Graph)),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
		runGate:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	var validator audit.RelationshipValidator
	if provider != nil {
		validator = provider
	}
	m.auditor = audit.NewAuditor(accessor{m}, validator,
		audit.WithClustering(m.clustering),
		audit.WithThreshold(m.threshold),
		audit.WithLogger(m.logger.Named("audit")))
	m.history = newHistory(m.historyLimit)
	return m
}

// Initialize loads the persisted graph and starts the actor. Edges whose
// endpoints are missing are logged and left out.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	switch m.state.Load() {
	case stateRunning:
		return nil
	case stateClosed:
		return ErrClosed
	}

	data, err := m.store.GetFullGraph(ctx)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	g, dangling := graph.FromData(data.Nodes, data.Edges)
	for _, e := range dangling {
		m.logger.Warn("Skipping edge with missing endpoint",
			zap.Int64("edge_id", e.ID),
			zap.Int64("source_id", e.SourceID),
			zap.Int64("target_id", e.TargetID))
	}

	go m.run(g)
	m.state.Store(stateRunning)
	m.collector.SetGraphSize(g.NodeCount(), g.EdgeCount())

	m.logger.Info("Graph manager initialized",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
		zap.Int("dangling_edges", len(dangling)))
	return nil
}

// Close stops the actor. Requests already accepted complete first.
func (m *Manager) Close() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	prev := m.state.Swap(stateClosed)
	if prev == stateRunning {
		close(m.stop)
		<-m.stopped
		m.logger.Info("Graph manager closed")
	}
	return nil
}

func (m *Manager) run(g *graph.Graph) {
	defer close(m.stopped)
	for {
		select {
		case req := <-m.requests:
			req(g)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) ready() error {
	switch m.state.Load() {
	case stateNew:
		return ErrNotInitialized
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// do runs fn on the actor and waits for it to finish
func (m *Manager) do(fn func(g *graph.Graph)) error {
	if err := m.ready(); err != nil {
		return err
	}
	done := make(chan struct{})
	select {
	case m.requests <- func(g *graph.Graph) {
		defer close(done)
		fn(g)
	}:
	case <-m.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// Snapshot returns a private copy of the live graph
func (m *Manager) Snapshot(ctx context.Context) (*graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var clone *graph.Graph
	if err := m.do(func(g *graph.Graph) { clone = g.Clone() }); err != nil {
		return nil, err
	}
	return clone, nil
}

// GraphData returns the current nodes and edges with freshly computed
// metrics and clusters
func (m *Manager) GraphData(ctx context.Context) (state.GraphData, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return state.GraphData{}, err
	}
	return m.analyze(ctx, g)
}

func (m *Manager) analyze(ctx context.Context, g *graph.Graph) (state.GraphData, error) {
	data := g.Data()

	mt, err := m.metrics.Compute(ctx, g)
	if err != nil {
		return state.GraphData{}, fmt.Errorf("failed to compute metrics: %w", err)
	}
	clusters, err := m.clustering.Cluster(g, mt.Betweenness)
	if err != nil {
		return state.GraphData{}, fmt.Errorf("failed to cluster graph: %w", err)
	}

	data.Metrics = mt
	data.Clusters = clusters
	m.collector.SetGraphSize(g.NodeCount(), g.EdgeCount())
	return data, nil
}

// SetOnUpdate registers the single update subscriber. A later call replaces
// the earlier one; nil unregisters.
func (m *Manager) SetOnUpdate(fn UpdateFunc) {
	if fn == nil {
		m.onUpdate.Store(nil)
		return
	}
	m.onUpdate.Store(&fn)
}

// notify pushes a fresh snapshot to the subscriber, if any
func (m *Manager) notify(ctx context.Context) {
	fn := m.onUpdate.Load()
	if fn == nil {
		return
	}
	data, err := m.GraphData(context.WithoutCancel(ctx))
	if err != nil {
		m.logger.Warn("Failed to build update snapshot", zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Update subscriber panicked", zap.Any("panic", r))
		}
	}()
	(*fn)(data)
}

// CreateNode persists a node and adds it to the live graph. An explicit id
// that is already taken is rejected.
func (m *Manager) CreateNode(ctx context.Context, in state.InsertNode) (state.Node, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Node{}, err
	}

	m.writeMu.Lock()
	node, err := m.createNode(ctx, in)
	m.writeMu.Unlock()
	if err != nil {
		return state.Node{}, err
	}

	m.collector.RecordMerge(1, 0, 0, 0)
	m.notify(ctx)
	return node, nil
}

// createNode must be called with writeMu held
func (m *Manager) createNode(ctx context.Context, in state.InsertNode) (state.Node, error) {
	if in.ID > 0 {
		var exists bool
		if err := m.do(func(g *graph.Graph) { exists = g.HasNode(in.ID) }); err != nil {
			return state.Node{}, err
		}
		if exists {
			return state.Node{}, apperrors.NewInvalidInput("node.id", fmt.Sprintf("node %d already exists", in.ID))
		}
	} else if err := m.ready(); err != nil {
		return state.Node{}, err
	}

	stored, err := m.store.CreateNode(ctx, in)
	if err != nil {
		return state.Node{}, fmt.Errorf("failed to persist node: %w", err)
	}
	if err := m.do(func(g *graph.Graph) { g.AddNode(stored) }); err != nil {
		return state.Node{}, err
	}

	m.logger.Debug("Node committed",
		zap.Int64("node_id", stored.ID),
		zap.String("label", stored.Label),
		zap.String("type", stored.Type))
	return stored, nil
}

// CreateEdge persists an edge and adds it to the live graph. If the
// (source, target) pair is already linked the existing edge is returned
// and nothing is written.
func (m *Manager) CreateEdge(ctx context.Context, in state.InsertEdge) (state.Edge, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Edge{}, err
	}

	m.writeMu.Lock()
	edge, created, err := m.createEdge(ctx, in)
	m.writeMu.Unlock()
	if err != nil {
		return state.Edge{}, err
	}

	if created {
		m.collector.RecordMerge(0, 1, 0, 0)
		m.notify(ctx)
	}
	return edge, nil
}

// createEdge must be called with writeMu held
func (m *Manager) createEdge(ctx context.Context, in state.InsertEdge) (state.Edge, bool, error) {
	var (
		sourceOK, targetOK bool
		existing           []state.Edge
	)
	err := m.do(func(g *graph.Graph) {
		sourceOK = g.HasNode(in.SourceID)
		targetOK = g.HasNode(in.TargetID)
		existing = g.EdgesBetween(in.SourceID, in.TargetID)
	})
	if err != nil {
		return state.Edge{}, false, err
	}
	if !sourceOK {
		return state.Edge{}, false, apperrors.NewNodeNotFound(in.SourceID)
	}
	if !targetOK {
		return state.Edge{}, false, apperrors.NewNodeNotFound(in.TargetID)
	}
	if len(existing) > 0 {
		m.logger.Debug("Edge already exists, skipping",
			zap.Int64("source_id", in.SourceID),
			zap.Int64("target_id", in.TargetID),
			zap.Int64("edge_id", existing[0].ID))
		return existing[0], false, nil
	}

	stored, err := m.store.CreateEdge(ctx, in)
	if err != nil {
		return state.Edge{}, false, fmt.Errorf("failed to persist edge: %w", err)
	}
	var addErr error
	if err := m.do(func(g *graph.Graph) { addErr = g.AddEdge(stored) }); err != nil {
		return state.Edge{}, false, err
	}
	if addErr != nil {
		return state.Edge{}, false, fmt.Errorf("failed to commit edge %d: %w", stored.ID, addErr)
	}

	m.logger.Debug("Edge committed",
		zap.Int64("edge_id", stored.ID),
		zap.Int64("source_id", stored.SourceID),
		zap.Int64("target_id", stored.TargetID),
		zap.String("label", stored.Label))
	return stored, true, nil
}

// CheckConsistency reports anomalies without changing the graph
func (m *Manager) CheckConsistency(ctx context.Context) (*state.ConsistencyReport, error) {
	report, err := m.auditor.Validate(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range report.Anomalies {
		m.collector.RecordAnomaly(string(a.Type))
	}
	return report, nil
}

// Repair applies the auditor's repairs for the given anomalies
func (m *Manager) Repair(ctx context.Context, anomalies []state.Anomaly) (*state.RepairReport, error) {
	report, err := m.auditor.Repair(ctx, anomalies)
	if report != nil {
		m.collector.RecordRepair("edge_added", report.EdgesAdded)
		m.collector.RecordRepair("edge_reweighed", report.EdgesReweighed)
		m.collector.RecordRepair("edge_removed", report.EdgesRemoved)
		if report.EdgesAdded+report.EdgesReweighed+report.EdgesRemoved > 0 {
			m.notify(ctx)
		}
	}
	return report, err
}

// ReconnectDisconnectedNodes links isolated nodes to connected nodes of the
// same type
func (m *Manager) ReconnectDisconnectedNodes(ctx context.Context) (*state.ReconnectReport, error) {
	report, err := m.auditor.Reconnect(ctx)
	if report != nil {
		m.collector.RecordRepair("node_reconnected", report.Reconnected)
		if report.Reconnected > 0 {
			m.notify(ctx)
		}
	}
	return report, err
}

// KnowledgeGaps lists isolated concepts, weak edges and underdeveloped themes
func (m *Manager) KnowledgeGaps(ctx context.Context) (*state.KnowledgeGaps, error) {
	return m.auditor.DetectGaps(ctx)
}

// SuggestRelationships asks the provider for new edges among the given
// nodes, or among all nodes when ids is empty. Nothing is applied.
func (m *Manager) SuggestRelationships(ctx context.Context, ids []int64) ([]state.RelationshipSuggestion, error) {
	g, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	nodes := g.Nodes()
	if len(ids) > 0 {
		nodes = make([]state.Node, 0, len(ids))
		for _, id := range ids {
			n, ok := g.Node(id)
			if !ok {
				return nil, apperrors.NewNodeNotFound(id)
			}
			nodes = append(nodes, n)
		}
	}
	return m.provider.SuggestRelationships(ctx, nodes)
}

// Growth summarises the recorded evolution history
func (m *Manager) Growth() state.GrowthReport {
	return m.history.growth()
}

// recordHistory appends a growth point for the current graph
func (m *Manager) recordHistory(ctx context.Context) {
	g, err := m.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		return
	}
	degrees := metrics.Degrees(g)
	list := make([]int, 0, len(degrees))
	for _, id := range g.NodeIDs() {
		list = append(list, degrees[id])
	}
	alpha, _ := metrics.PowerLawFit(list)

	m.history.add(state.GrowthPoint{
		At:               m.now(),
		Nodes:            g.NodeCount(),
		Edges:            g.EdgeCount(),
		PowerLawExponent: alpha,
	})
}

// accessor exposes the manager to the auditor without per-edge notifications
type accessor struct{ m *Manager }

func (a accessor) Snapshot(ctx context.Context) (*graph.Graph, error) {
	return a.m.Snapshot(ctx)
}

func (a accessor) CreateEdge(ctx context.Context, in state.InsertEdge) (state.Edge, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Edge{}, err
	}
	a.m.writeMu.Lock()
	defer a.m.writeMu.Unlock()
	edge, _, err := a.m.createEdge(ctx, in)
	return edge, err
}

func (a accessor) UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error {
	a.m.writeMu.Lock()
	defer a.m.writeMu.Unlock()

	if u, ok := a.m.store.(EdgeWeightUpdater); ok {
		if err := u.UpdateEdgeWeight(ctx, id, weight); err != nil {
			return fmt.Errorf("failed to persist edge weight: %w", err)
		}
	}
	var setErr error
	if err := a.m.do(func(g *graph.Graph) { setErr = g.SetEdgeWeight(id, weight) }); err != nil {
		return err
	}
	return setErr
}

func (a accessor) RemoveEdge(ctx context.Context, id int64) error {
	a.m.writeMu.Lock()
	defer a.m.writeMu.Unlock()

	if d, ok := a.m.store.(EdgeDeleter); ok {
		if err := d.DeleteEdge(ctx, id); err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
	}
	var removed bool
	if err := a.m.do(func(g *graph.Graph) { removed = g.RemoveEdge(id) }); err != nil {
		return err
	}
	if !removed {
		return apperrors.NewEdgeNotFound(id)
	}
	return nil
}
