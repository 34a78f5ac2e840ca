package engine

import (
	"context"

	"go.uber.org/zap"
)

// MergeReport counts what one merge committed
type MergeReport struct {
	NodesAdded   int
	EdgesAdded   int
	EdgesSkipped int
	NodeFailures int
	EdgeFailures int
}

// Changed reports whether the merge altered the graph
func (r MergeReport) Changed() bool {
	return r.NodesAdded+r.EdgesAdded > 0
}

// Merge commits a validation result: nodes first, then edges, each persisted
// before it is added to memory. A failed item is logged and skipped. Edges
// whose pair is already linked, or whose endpoint did not make it in, are
// skipped. Merge stops starting new items once ctx is done.
func (m *Manager) Merge(ctx context.Context, res ValidationResult) MergeReport {
	return m.merge(ctx, m.logger, res)
}

func (m *Manager) merge(ctx context.Context, log *zap.Logger, res ValidationResult) MergeReport {
	var report MergeReport
	remap := make(map[int64]int64, len(res.Nodes))

	for _, in := range res.Nodes {
		if ctx.Err() != nil {
			log.Warn("Merge interrupted before all nodes were written",
				zap.Int("written", report.NodesAdded),
				zap.Int("total", len(res.Nodes)))
			m.collector.RecordMerge(report.NodesAdded, 0, report.NodeFailures, 0)
			return report
		}

		m.writeMu.Lock()
		stored, err := m.createNode(ctx, in)
		m.writeMu.Unlock()
		if err != nil {
			report.NodeFailures++
			log.Error("Failed to merge node",
				zap.Int64("node_id", in.ID),
				zap.String("label", in.Label),
				zap.Error(err))
			continue
		}
		remap[in.ID] = stored.ID
		report.NodesAdded++
	}

	batch := make(map[int64]bool, len(res.Nodes))
	for _, in := range res.Nodes {
		batch[in.ID] = true
	}
	resolve := func(id int64) (int64, bool) {
		if stored, ok := remap[id]; ok {
			return stored, true
		}
		// a batch node that failed to persist has no live counterpart
		return id, !batch[id]
	}

	for _, in := range res.Edges {
		if ctx.Err() != nil {
			log.Warn("Merge interrupted before all edges were written",
				zap.Int("written", report.EdgesAdded),
				zap.Int("total", len(res.Edges)))
			break
		}

		source, okS := resolve(in.SourceID)
		target, okT := resolve(in.TargetID)
		if !okS || !okT {
			report.EdgesSkipped++
			log.Warn("Skipping edge whose endpoint was not merged",
				zap.Int64("source_id", in.SourceID),
				zap.Int64("target_id", in.TargetID))
			continue
		}
		in.SourceID, in.TargetID = source, target

		m.writeMu.Lock()
		_, created, err := m.createEdge(ctx, in)
		m.writeMu.Unlock()
		switch {
		case err != nil:
			report.EdgeFailures++
			log.Error("Failed to merge edge",
				zap.Int64("source_id", in.SourceID),
				zap.Int64("target_id", in.TargetID),
				zap.Error(err))
		case !created:
			report.EdgesSkipped++
		default:
			report.EdgesAdded++
		}
	}

	m.collector.RecordMerge(report.NodesAdded, report.EdgesAdded, report.NodeFailures, report.EdgeFailures)
	log.Info("Merge complete",
		zap.Int("nodes_added", report.NodesAdded),
		zap.Int("edges_added", report.EdgesAdded),
		zap.Int("edges_skipped", report.EdgesSkipped),
		zap.Int("node_failures", report.NodeFailures),
		zap.Int("edge_failures", report.EdgeFailures))
	return report
}
