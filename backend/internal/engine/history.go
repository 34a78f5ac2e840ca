package engine

import (
	"sync"

	"kgraph/backend/internal/state"
)

// history keeps the most recent growth points
type history struct {
	mu     sync.Mutex
	points []state.GrowthPoint
	limit  int
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) add(p state.GrowthPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.points = append(h.points, p)
	if over := len(h.points) - h.limit; over > 0 {
		h.points = append(h.points[:0:0], h.points[over:]...)
	}
}

// growth compares the oldest and newest retained points. Rates need at
// least two points spanning a positive duration.
func (h *history) growth() state.GrowthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := state.GrowthReport{Points: len(h.points)}
	if len(h.points) == 0 {
		return report
	}
	first, last := h.points[0], h.points[len(h.points)-1]
	report.LatestNodes = last.Nodes
	report.LatestEdges = last.Edges

	hours := last.At.Sub(first.At).Hours()
	if len(h.points) < 2 || hours <= 0 {
		return report
	}
	nodeRate := float64(last.Nodes-first.Nodes) / hours
	edgeRate := float64(last.Edges-first.Edges) / hours
	report.NodeGrowthPerHour = &nodeRate
	report.EdgeGrowthPerHour = &edgeRate
	report.EnoughData = true
	return report
}
