package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kgraph/backend/internal/clustering"
	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/state"
	"kgraph/backend/pkg/logger"
)

// GraphAccess is the view of the live graph the auditor works through.
// Snapshot must return a private copy; the mutating methods must persist
// before touching memory.
type GraphAccess interface {
	Snapshot(ctx context.Context) (*graph.Graph, error)
	CreateEdge(ctx context.Context, edge state.InsertEdge) (state.Edge, error)
	UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error
	RemoveEdge(ctx context.Context, id int64) error
}

// RelationshipValidator scores how plausible the relationships from source
// to each target are
type RelationshipValidator interface {
	ValidateRelationships(ctx context.Context, source *state.Node, targets []state.Node) (*state.RelationshipValidation, error)
}

// Auditor detects and repairs structural anomalies
type Auditor struct {
	access     GraphAccess
	validator  RelationshipValidator
	clustering *clustering.Engine
	threshold  float64
	logger     *zap.Logger
}

// Option configures an Auditor
type Option func(*Auditor)

// WithClustering sets the clustering engine used to find incoherent edges
func WithClustering(e *clustering.Engine) Option {
	return func(a *Auditor) {
		if e != nil {
			a.clustering = e
		}
	}
}

// WithThreshold sets the cluster coherence under which cross-cluster
// neighbours are suspect
func WithThreshold(threshold float64) Option {
	return func(a *Auditor) { a.threshold = threshold }
}

// WithLogger overrides the process logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// NewAuditor creates an auditor. validator may be nil, in which case
// inconsistent anomalies are reported but never repaired.
func NewAuditor(access GraphAccess, validator RelationshipValidator, opts ...Option) *Auditor {
	a := &Auditor{
		access:     access,
		validator:  validator,
		clustering: clustering.NewEngine(),
		threshold:  constants.LowCoherenceThreshold,
		logger:     logger.Named("audit"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate inspects a snapshot and reports every anomaly it finds. It never
// mutates the graph.
func (a *Auditor) Validate(ctx context.Context) (*state.ConsistencyReport, error) {
	g, err := a.access.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit snapshot: %w", err)
	}

	anomalies := []state.Anomaly{}
	anomalies = append(anomalies, disconnected(g)...)

	clusters, err := a.clustering.Cluster(g, nil)
	if err != nil {
		return nil, fmt.Errorf("audit clustering: %w", err)
	}
	anomalies = append(anomalies, a.inconsistent(g, clusters)...)
	anomalies = append(anomalies, redundant(g)...)

	counts := make(map[state.AnomalyType]int)
	for _, an := range anomalies {
		counts[an.Type]++
	}
	a.logger.Info("Consistency audit complete",
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
		zap.Int("disconnected", counts[state.AnomalyDisconnected]),
		zap.Int("inconsistent", counts[state.AnomalyInconsistent]),
		zap.Int("redundant", counts[state.AnomalyRedundant]))

	return &state.ConsistencyReport{
		IsValid:   len(anomalies) == 0,
		Anomalies: anomalies,
	}, nil
}

// disconnected flags every node outside the largest weak component
func disconnected(g *graph.Graph) []state.Anomaly {
	components := g.WeakComponents()
	if len(components) < 2 {
		return nil
	}
	primary := largest(components)

	var flagged []int64
	for i, c := range components {
		if i != primary {
			flagged = append(flagged, c...)
		}
	}
	return []state.Anomaly{{
		Type:        state.AnomalyDisconnected,
		NodeIDs:     flagged,
		Description: fmt.Sprintf("%d nodes outside the main component of %d", len(flagged), len(components[primary])),
	}}
}

// largest returns the index of the biggest component, the first on ties
func largest(components [][]int64) int {
	best := 0
	for i, c := range components {
		if len(c) > len(components[best]) {
			best = i
		}
	}
	return best
}

func (a *Auditor) inconsistent(g *graph.Graph, clusters []state.Cluster) []state.Anomaly {
	membership := make(map[int64]int, g.NodeCount())
	coherence := make(map[int]float64, len(clusters))
	for _, c := range clusters {
		coherence[c.ClusterID] = c.Metadata.CoherenceScore
		for _, id := range c.Nodes {
			membership[id] = c.ClusterID
		}
	}

	var out []state.Anomaly
	for _, c := range clusters {
		for _, id := range c.Nodes {
			var suspects []int64
			for _, nb := range g.Neighbors(id) {
				other, ok := membership[nb]
				if !ok || other == c.ClusterID {
					continue
				}
				if coherence[other] < a.threshold {
					suspects = append(suspects, nb)
				}
			}
			if len(suspects) == 0 {
				continue
			}
			out = append(out, state.Anomaly{
				Type:        state.AnomalyInconsistent,
				NodeIDs:     append([]int64{id}, suspects...),
				ClusterID:   c.ClusterID,
				Description: fmt.Sprintf("node %d links into %d low-coherence clusters from cluster %d", id, len(suspects), c.ClusterID),
			})
		}
	}
	return out
}

type pair struct{ source, target int64 }

// redundant reports each (source, target) pair carried by more than one edge
func redundant(g *graph.Graph) []state.Anomaly {
	byPair := make(map[pair][]int64)
	var order []pair
	for _, e := range g.Edges() {
		p := pair{e.SourceID, e.TargetID}
		if _, seen := byPair[p]; !seen {
			order = append(order, p)
		}
		byPair[p] = append(byPair[p], e.ID)
	}

	var out []state.Anomaly
	for _, p := range order {
		ids := byPair[p]
		if len(ids) < 2 {
			continue
		}
		out = append(out, state.Anomaly{
			Type:        state.AnomalyRedundant,
			NodeIDs:     []int64{p.source, p.target},
			EdgeIDs:     ids,
			Description: fmt.Sprintf("%d edges between %d and %d", len(ids), p.source, p.target),
		})
	}
	return out
}

// Repair applies the repair of each anomaly in order. Every anomaly works on
// a fresh snapshot, so earlier repairs are visible to later ones. Individual
// failures are logged and counted; only a failed snapshot aborts the pass.
func (a *Auditor) Repair(ctx context.Context, anomalies []state.Anomaly) (*state.RepairReport, error) {
	report := &state.RepairReport{}
	for _, an := range anomalies {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		g, err := a.access.Snapshot(ctx)
		if err != nil {
			return report, fmt.Errorf("repair snapshot: %w", err)
		}

		switch an.Type {
		case state.AnomalyDisconnected:
			a.repairDisconnected(ctx, g, an, report)
		case state.AnomalyInconsistent:
			a.repairInconsistent(ctx, g, an, report)
		case state.AnomalyRedundant:
			a.repairRedundant(ctx, g, an, report)
		default:
			a.logger.Warn("Skipping unknown anomaly type", zap.String("type", string(an.Type)))
		}
	}

	a.logger.Info("Repair pass complete",
		zap.Int("anomalies", len(anomalies)),
		zap.Int("edges_added", report.EdgesAdded),
		zap.Int("edges_reweighed", report.EdgesReweighed),
		zap.Int("edges_removed", report.EdgesRemoved),
		zap.Int("failures", report.Failures))
	return report, nil
}

func (a *Auditor) repairDisconnected(ctx context.Context, g *graph.Graph, an state.Anomaly, report *state.RepairReport) {
	components := g.WeakComponents()
	if len(components) == 0 {
		return
	}
	primary := components[largest(components)]
	anchor := primary[0]
	inMain := make(map[int64]bool, len(primary))
	for _, id := range primary {
		inMain[id] = true
	}

	for _, id := range an.NodeIDs {
		if !g.HasNode(id) || inMain[id] || g.HasEdge(anchor, id) {
			continue
		}
		edge, err := a.access.CreateEdge(ctx, state.InsertEdge{
			SourceID: anchor,
			TargetID: id,
			Label:    constants.ConnectorEdgeLabel,
			Weight:   constants.DefaultEdgeWeight,
		})
		if err != nil {
			report.Failures++
			a.logger.Error("Failed to connect node to main component",
				zap.Int64("node_id", id),
				zap.Int64("anchor_id", anchor),
				zap.Error(err))
			continue
		}
		report.EdgesAdded++
		a.logger.Debug("Connected node to main component",
			zap.Int64("node_id", id),
			zap.Int64("anchor_id", anchor),
			zap.Int64("edge_id", edge.ID))
	}
}

func (a *Auditor) repairInconsistent(ctx context.Context, g *graph.Graph, an state.Anomaly, report *state.RepairReport) {
	if len(an.NodeIDs) < 2 {
		return
	}
	if a.validator == nil {
		a.logger.Warn("No relationship validator, leaving suspect edges unchanged",
			zap.Int64("source_id", an.NodeIDs[0]))
		return
	}
	source, ok := g.Node(an.NodeIDs[0])
	if !ok {
		return
	}
	targets := make([]state.Node, 0, len(an.NodeIDs)-1)
	for _, id := range an.NodeIDs[1:] {
		if n, ok := g.Node(id); ok {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		return
	}

	validation, err := a.validator.ValidateRelationships(ctx, &source, targets)
	if err != nil {
		report.Failures++
		a.logger.Error("Relationship validation failed, weights unchanged",
			zap.Int64("source_id", source.ID),
			zap.Int("targets", len(targets)),
			zap.Error(err))
		return
	}

	for _, t := range targets {
		edge, ok := suspectEdge(g, source.ID, t.ID)
		if !ok {
			continue
		}
		confidence := validation.ConfidenceScores[t.ID]
		if err := a.access.UpdateEdgeWeight(ctx, edge.ID, confidence); err != nil {
			report.Failures++
			a.logger.Error("Failed to reweigh edge",
				zap.Int64("edge_id", edge.ID),
				zap.Error(err))
			continue
		}
		report.EdgesReweighed++
		a.logger.Debug("Reweighed suspect edge",
			zap.Int64("edge_id", edge.ID),
			zap.Float64("old_weight", edge.Weight),
			zap.Float64("new_weight", confidence))
	}
}

// suspectEdge finds the edge joining source and target, preferring the
// source to target direction
func suspectEdge(g *graph.Graph, source, target int64) (state.Edge, bool) {
	if edges := g.EdgesBetween(source, target); len(edges) > 0 {
		return edges[0], true
	}
	if edges := g.EdgesBetween(target, source); len(edges) > 0 {
		return edges[0], true
	}
	return state.Edge{}, false
}

func (a *Auditor) repairRedundant(ctx context.Context, g *graph.Graph, an state.Anomaly, report *state.RepairReport) {
	if len(an.NodeIDs) != 2 {
		return
	}
	edges := g.EdgesBetween(an.NodeIDs[0], an.NodeIDs[1])
	if len(edges) < 2 {
		return
	}

	keep := 0
	for i, e := range edges {
		if e.Weight > edges[keep].Weight {
			keep = i
		}
	}
	for i, e := range edges {
		if i == keep {
			continue
		}
		if err := a.access.RemoveEdge(ctx, e.ID); err != nil {
			report.Failures++
			a.logger.Error("Failed to remove redundant edge",
				zap.Int64("edge_id", e.ID),
				zap.Error(err))
			continue
		}
		report.EdgesRemoved++
	}
	a.logger.Debug("Merged redundant edges",
		zap.Int64("source_id", an.NodeIDs[0]),
		zap.Int64("target_id", an.NodeIDs[1]),
		zap.Int64("kept_edge_id", edges[keep].ID),
		zap.Float64("kept_weight", edges[keep].Weight))
}

// Reconnect links every degree-zero node to the first connected node of the
// same type. Nodes whose type has no connected member stay isolated.
func (a *Auditor) Reconnect(ctx context.Context) (*state.ReconnectReport, error) {
	g, err := a.access.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconnect snapshot: %w", err)
	}

	isolated := make(map[int64]bool)
	var types []string
	byType := make(map[string][]int64)
	for _, n := range g.Nodes() {
		if g.Degree(n.ID) != 0 {
			continue
		}
		isolated[n.ID] = true
		if _, ok := byType[n.Type]; !ok {
			types = append(types, n.Type)
		}
		byType[n.Type] = append(byType[n.Type], n.ID)
	}

	report := &state.ReconnectReport{Disconnected: len(isolated)}
	if len(isolated) == 0 {
		a.logger.Info("No disconnected nodes found")
		return report, nil
	}

	anchors := make(map[string]int64)
	for _, n := range g.Nodes() {
		if isolated[n.ID] {
			continue
		}
		if _, ok := anchors[n.Type]; !ok {
			anchors[n.Type] = n.ID
		}
	}

	for _, typ := range types {
		anchor, ok := anchors[typ]
		if !ok {
			a.logger.Debug("No connected node of matching type", zap.String("type", typ))
			continue
		}
		for _, id := range byType[typ] {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Attempts++
			if _, err := a.access.CreateEdge(ctx, state.InsertEdge{
				SourceID: id,
				TargetID: anchor,
				Label:    constants.DefaultEdgeLabel,
				Weight:   constants.DefaultEdgeWeight,
			}); err != nil {
				a.logger.Error("Failed to reconnect node",
					zap.Int64("node_id", id),
					zap.Int64("anchor_id", anchor),
					zap.Error(err))
				continue
			}
			report.Reconnected++
		}
	}
	report.RemainingDisconnected = report.Disconnected - report.Reconnected

	a.logger.Info("Reconnection complete",
		zap.Int("disconnected", report.Disconnected),
		zap.Int("attempts", report.Attempts),
		zap.Int("reconnected", report.Reconnected),
		zap.Int("remaining", report.RemainingDisconnected))
	return report, nil
}

// DetectGaps lists isolated concepts, weak edges and underdeveloped clusters
func (a *Auditor) DetectGaps(ctx context.Context) (*state.KnowledgeGaps, error) {
	g, err := a.access.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("gaps snapshot: %w", err)
	}

	gaps := &state.KnowledgeGaps{
		DisconnectedConcepts: []string{},
		WeakConnections:      []state.WeakConnection{},
		UnderdevelopedThemes: []state.UnderdevelopedTheme{},
	}
	for _, n := range g.Nodes() {
		if g.Degree(n.ID) == 0 {
			gaps.DisconnectedConcepts = append(gaps.DisconnectedConcepts, n.Label)
		}
	}
	for _, e := range g.Edges() {
		if e.Weight >= constants.WeakConnectionThreshold {
			continue
		}
		gaps.WeakConnections = append(gaps.WeakConnections, state.WeakConnection{
			Source: label(g, e.SourceID),
			Target: label(g, e.TargetID),
			Weight: e.Weight,
		})
	}

	clusters, err := a.clustering.Cluster(g, nil)
	if err != nil {
		return nil, fmt.Errorf("gaps clustering: %w", err)
	}
	for _, c := range clusters {
		if c.Size() >= constants.UnderdevelopedClusterSize && c.Metadata.CoherenceScore >= constants.UnderdevelopedCoherence {
			continue
		}
		gaps.UnderdevelopedThemes = append(gaps.UnderdevelopedThemes, state.UnderdevelopedTheme{
			Theme:        c.Metadata.SemanticTheme,
			NodeCount:    c.Size(),
			AvgCoherence: c.Metadata.CoherenceScore,
		})
	}

	a.logger.Debug("Knowledge gap analysis complete",
		zap.Int("disconnected", len(gaps.DisconnectedConcepts)),
		zap.Int("weak_connections", len(gaps.WeakConnections)),
		zap.Int("underdeveloped_themes", len(gaps.UnderdevelopedThemes)))
	return gaps, nil
}

func label(g *graph.Graph, id int64) string {
	if n, ok := g.Node(id); ok {
		return n.Label
	}
	return fmt.Sprintf(constants.DefaultNodeLabelForm, id)
}
