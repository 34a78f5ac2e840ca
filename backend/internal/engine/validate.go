package engine

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/state"
)

// ValidationResult holds the proposals that survived validation. Node ids
// are final local ids; edge endpoints refer to live nodes or to those ids.
type ValidationResult struct {
	Nodes          []state.InsertNode
	Edges          []state.InsertEdge
	References     int
	DiscardedNodes int
	DiscardedEdges int
	IsValid        bool
}

// Validate filters a provider proposal against g. It never fails: malformed
// entries are dropped and logged. Nodes without an id get max(existing) + 1
// onward in batch order, skipping ids used explicitly in the batch. A
// proposed node whose id is already live is treated as a reference to it.
func Validate(g *graph.Graph, nodes []*state.ProposedNode, edges []*state.ProposedEdge, log *zap.Logger) ValidationResult {
	if g == nil {
		g = graph.New()
	}
	if log == nil {
		log = zap.NewNop()
	}

	var res ValidationResult

	// 1. Drop empty entries, collect explicit ids
	used := make(map[int64]bool)
	kept := make([]*state.ProposedNode, 0, len(nodes))
	for i, p := range nodes {
		if p == nil || (p.ID <= 0 && strings.TrimSpace(p.Label) == "" && strings.TrimSpace(p.Type) == "" && p.Metadata == nil) {
			res.DiscardedNodes++
			log.Warn("Discarding empty proposed node", zap.Int("index", i))
			continue
		}
		if p.ID > 0 {
			if g.HasNode(p.ID) {
				res.References++
				log.Debug("Proposed node references existing node", zap.Int64("node_id", p.ID))
				continue
			}
			if used[p.ID] {
				res.DiscardedNodes++
				log.Warn("Discarding duplicate proposed node id", zap.Int64("node_id", p.ID))
				continue
			}
			used[p.ID] = true
		}
		kept = append(kept, p)
	}

	// 2. Assign missing ids and defaults
	next := g.MaxNodeID() + 1
	batch := make(map[int64]bool, len(kept))
	for _, p := range kept {
		id := p.ID
		if id <= 0 {
			for used[next] || g.HasNode(next) {
				next++
			}
			id = next
			used[id] = true
			next++
		}

		in := state.InsertNode{
			ID:    id,
			Label: strings.TrimSpace(p.Label),
			Type:  strings.TrimSpace(p.Type),
		}
		if p.Metadata != nil {
			in.Metadata = p.Metadata.Clone()
		}
		in.Normalize()
		res.Nodes = append(res.Nodes, in)
		batch[id] = true
	}

	// 3. Keep edges whose endpoints resolve
	known := func(id int64) bool { return id > 0 && (g.HasNode(id) || batch[id]) }
	seen := make(map[[2]int64]bool)
	for i, p := range edges {
		if p == nil {
			res.DiscardedEdges++
			log.Warn("Discarding empty proposed edge", zap.Int("index", i))
			continue
		}
		if !known(p.SourceID) || !known(p.TargetID) {
			res.DiscardedEdges++
			log.Warn("Discarding edge with unresolved endpoint",
				zap.Int64("source_id", p.SourceID),
				zap.Int64("target_id", p.TargetID))
			continue
		}
		if p.SourceID == p.TargetID {
			res.DiscardedEdges++
			log.Warn("Discarding self-loop", zap.Int64("node_id", p.SourceID))
			continue
		}
		key := [2]int64{p.SourceID, p.TargetID}
		if seen[key] {
			res.DiscardedEdges++
			log.Debug("Discarding duplicate proposed edge",
				zap.Int64("source_id", p.SourceID),
				zap.Int64("target_id", p.TargetID))
			continue
		}
		seen[key] = true

		weight := constants.DefaultEdgeWeight
		if p.Weight != nil && !math.IsNaN(*p.Weight) && !math.IsInf(*p.Weight, 0) {
			weight = *p.Weight
		}
		in := state.InsertEdge{
			SourceID: p.SourceID,
			TargetID: p.TargetID,
			Label:    strings.TrimSpace(p.Label),
			Weight:   weight,
		}
		if p.Metadata != nil {
			in.Metadata = p.Metadata.Clone()
		}
		in.Normalize()
		res.Edges = append(res.Edges, in)
	}

	// 4. The batch must contribute something
	res.IsValid = len(res.Nodes) > 0 || len(res.Edges) > 0

	log.Debug("Validated proposal",
		zap.Int("nodes", len(res.Nodes)),
		zap.Int("edges", len(res.Edges)),
		zap.Int("references", res.References),
		zap.Int("discarded_nodes", res.DiscardedNodes),
		zap.Int("discarded_edges", res.DiscardedEdges),
		zap.Bool("valid", res.IsValid))
	return res
}
