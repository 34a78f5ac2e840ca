package metrics

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// Engine computes topology metrics over a graph snapshot.
// It never mutates its input and is safe for concurrent use.
type Engine struct {
	logger       *zap.Logger
	maxIter      int
	tolerance    float64
	hubFactor    float64
	bridgeFactor float64
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger overrides the process logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEigenvectorLimits sets the power iteration cap and tolerance
func WithEigenvectorLimits(maxIter int, tolerance float64) Option {
	return func(e *Engine) {
		e.maxIter = maxIter
		e.tolerance = tolerance
	}
}

// NewEngine creates a metrics engine with the default thresholds
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:       logger.Named("metrics"),
		maxIter:      constants.EigenvectorMaxIterations,
		tolerance:    constants.EigenvectorTolerance,
		hubFactor:    constants.HubStddevFactor,
		bridgeFactor: constants.BridgeMeanFactor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute returns the metrics snapshot of g. The two centrality passes run
// concurrently.
func (e *Engine) Compute(ctx context.Context, g *graph.Graph) (*state.Metrics, error) {
	if g == nil {
		return nil, apperrors.NewInvalidInput("graph", "must not be nil")
	}

	var (
		betweenness map[int64]float64
		eigenvector map[int64]float64
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		betweenness = Betweenness(g)
		return egCtx.Err()
	})
	eg.Go(func() error {
		ev, err := Eigenvector(g, e.maxIter, e.tolerance)
		if err != nil {
			e.logger.Warn("Eigenvector centrality fell back to zero",
				zap.Int("nodes", g.NodeCount()),
				zap.Int("max_iterations", e.maxIter),
				zap.Error(err))
			ev = make(map[int64]float64, g.NodeCount())
			for _, id := range g.NodeIDs() {
				ev[id] = 0
			}
		}
		eigenvector = ev
		return egCtx.Err()
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	degree := Degrees(g)
	ids := g.NodeIDs()

	degreeList := make([]int, len(ids))
	degreeValues := make([]float64, len(ids))
	betweennessValues := make([]float64, len(ids))
	for i, id := range ids {
		degreeList[i] = degree[id]
		degreeValues[i] = float64(degree[id])
		betweennessValues[i] = betweenness[id]
	}

	alpha, r2 := PowerLawFit(degreeList)

	degreeMean, degreeStd := meanStddev(degreeValues)
	hubThreshold := degreeMean + e.hubFactor*degreeStd
	hubs := []state.HubNode{}
	for _, id := range ids {
		if float64(degree[id]) > hubThreshold {
			hubs = append(hubs, state.HubNode{ID: id, Degree: degree[id], Influence: eigenvector[id]})
		}
	}

	betweennessMean, _ := meanStddev(betweennessValues)
	bridgeThreshold := e.bridgeFactor * betweennessMean
	bridges := []state.BridgingNode{}
	for _, id := range ids {
		if betweenness[id] > bridgeThreshold {
			bridges = append(bridges, state.BridgingNode{
				ID:          id,
				Communities: len(g.Neighbors(id)),
				Betweenness: betweenness[id],
			})
		}
	}
	sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].Degree > hubs[j].Degree })
	sort.SliceStable(bridges, func(i, j int) bool { return bridges[i].Betweenness > bridges[j].Betweenness })

	e.logger.Debug("Computed graph metrics",
		zap.Int("nodes", len(ids)),
		zap.Int("edges", g.EdgeCount()),
		zap.Float64("power_law_exponent", alpha),
		zap.Float64("fit_quality", r2),
		zap.Int("hubs", len(hubs)),
		zap.Int("bridges", len(bridges)))

	return &state.Metrics{
		Betweenness: betweenness,
		Eigenvector: eigenvector,
		Degree:      degree,
		ScaleFreeness: state.ScaleFreeness{
			PowerLawExponent: alpha,
			FitQuality:       r2,
			HubNodes:         hubs,
			BridgingNodes:    bridges,
		},
	}, nil
}
