package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph/backend/internal/state"
)

func TestHistory_NotEnoughData(t *testing.T) {
	h := newHistory(4)
	report := h.growth()
	assert.False(t, report.EnoughData)
	assert.Zero(t, report.Points)

	h.add(state.GrowthPoint{At: time.Unix(0, 0), Nodes: 2, Edges: 1})
	report = h.growth()
	assert.False(t, report.EnoughData)
	assert.Nil(t, report.NodeGrowthPerHour)
	assert.Equal(t, 2, report.LatestNodes)
}

func TestHistory_GrowthPerHour(t *testing.T) {
	h := newHistory(4)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.add(state.GrowthPoint{At: start, Nodes: 2, Edges: 1})
	h.add(state.GrowthPoint{At: start.Add(30 * time.Minute), Nodes: 6, Edges: 5})

	report := h.growth()
	require.True(t, report.EnoughData)
	assert.InDelta(t, 8.0, *report.NodeGrowthPerHour, 1e-9)
	assert.InDelta(t, 8.0, *report.EdgeGrowthPerHour, 1e-9)
}

func TestHistory_DropsOldestPoints(t *testing.T) {
	h := newHistory(2)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		h.add(state.GrowthPoint{At: start.Add(time.Duration(i) * time.Hour), Nodes: i * 10})
	}

	report := h.growth()
	assert.Equal(t, 2, report.Points)
	assert.InDelta(t, 10.0, *report.NodeGrowthPerHour, 1e-9)
}
