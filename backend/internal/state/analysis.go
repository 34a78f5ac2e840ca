package state

import "time"

// GraphData is the full snapshot handed to callers and subscribers
type GraphData struct {
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Metrics  *Metrics  `json:"metrics,omitempty"`
	Clusters []Cluster `json:"clusters,omitempty"`
}

// Metrics is a derived, point-in-time view of graph topology
type Metrics struct {
	Betweenness   map[int64]float64 `json:"betweenness"`
	Eigenvector   map[int64]float64 `json:"eigenvector"`
	Degree        map[int64]int     `json:"degree"`
	ScaleFreeness ScaleFreeness     `json:"scaleFreeness"`
}

// ScaleFreeness summarises the degree distribution
type ScaleFreeness struct {
	PowerLawExponent float64        `json:"powerLawExponent"`
	FitQuality       float64        `json:"fitQuality"`
	HubNodes         []HubNode      `json:"hubNodes"`
	BridgingNodes    []BridgingNode `json:"bridgingNodes"`
}

// HubNode is a node whose degree is far above the mean
type HubNode struct {
	ID        int64   `json:"id"`
	Degree    int     `json:"degree"`
	Influence float64 `json:"influence"`
}

// BridgingNode is a node sitting on many shortest paths
type BridgingNode struct {
	ID          int64   `json:"id"`
	Communities int     `json:"communities"`
	Betweenness float64 `json:"betweenness"`
}

// Cluster is a derived group of nodes, recomputed on demand
type Cluster struct {
	ClusterID int             `json:"clusterId"`
	Nodes     []int64         `json:"nodes"`
	Metadata  ClusterMetadata `json:"metadata"`
}

// ClusterMetadata describes a cluster
type ClusterMetadata struct {
	CentroidNode   int64   `json:"centroidNode"`
	SemanticTheme  string  `json:"semanticTheme"`
	CoherenceScore float64 `json:"coherenceScore"`
}

// Size is the member count
func (c Cluster) Size() int { return len(c.Nodes) }

// AnomalyType classifies a structural anomaly
type AnomalyType string

const (
	AnomalyDisconnected AnomalyType = "disconnected"
	AnomalyInconsistent AnomalyType = "inconsistent"
	AnomalyRedundant    AnomalyType = "redundant"
)

// Anomaly is a detected structural problem. For inconsistent anomalies the
// first node id is the source and the rest are its suspect neighbours; for
// redundant anomalies NodeIDs is the (source, target) pair.
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	NodeIDs     []int64     `json:"nodeIds"`
	EdgeIDs     []int64     `json:"edgeIds,omitempty"`
	ClusterID   int         `json:"clusterId,omitempty"`
	Description string      `json:"description"`
}

// ConsistencyReport is the side-effect free result of an audit
type ConsistencyReport struct {
	IsValid   bool      `json:"isValid"`
	Anomalies []Anomaly `json:"anomalies"`
}

// RepairReport counts what a repair pass changed
type RepairReport struct {
	EdgesAdded     int `json:"edgesAdded"`
	EdgesReweighed int `json:"edgesReweighed"`
	EdgesRemoved   int `json:"edgesRemoved"`
	Failures       int `json:"failures"`
}

// ReconnectReport is the result of the type-based reconnection strategy
type ReconnectReport struct {
	Disconnected          int `json:"disconnected"`
	Attempts              int `json:"attempts"`
	Reconnected           int `json:"reconnected"`
	RemainingDisconnected int `json:"remainingDisconnected"`
}

// WeakConnection is a low-weight edge reported as a knowledge gap
type WeakConnection struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// UnderdevelopedTheme is a small or incoherent cluster
type UnderdevelopedTheme struct {
	Theme        string  `json:"theme"`
	NodeCount    int     `json:"nodeCount"`
	AvgCoherence float64 `json:"avgCoherence"`
}

// KnowledgeGaps lists the weak spots of the current graph
type KnowledgeGaps struct {
	DisconnectedConcepts []string              `json:"disconnectedConcepts"`
	WeakConnections      []WeakConnection      `json:"weakConnections"`
	UnderdevelopedThemes []UnderdevelopedTheme `json:"underdevelopedThemes"`
}

// GrowthPoint records graph size after a committed round
type GrowthPoint struct {
	At               time.Time `json:"at"`
	Nodes            int       `json:"nodes"`
	Edges            int       `json:"edges"`
	PowerLawExponent float64   `json:"powerLawExponent"`
}

// GrowthReport summarises the evolution history
type GrowthReport struct {
	Points            int      `json:"points"`
	NodeGrowthPerHour *float64 `json:"nodeGrowthPerHour"`
	EdgeGrowthPerHour *float64 `json:"edgeGrowthPerHour"`
	EnoughData        bool     `json:"enoughData"`
	LatestNodes       int      `json:"latestNodes"`
	LatestEdges       int      `json:"latestEdges"`
}
