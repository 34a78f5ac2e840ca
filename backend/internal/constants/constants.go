package constants

import "time"

// Expansion constants
const (
	// DefaultMaxIterations caps the prompt → merge rounds of one expansion
	DefaultMaxIterations = 10

	// DefaultExpansionDeadline is the wall-clock budget of one expansion.
	// It is the only cancellation mechanism of a running expansion.
	DefaultExpansionDeadline = 8 * time.Second

	// DefaultIterationPause spaces consecutive provider calls
	DefaultIterationPause = 100 * time.Millisecond
)

// Graph defaults
const (
	DefaultNodeType      = "concept"
	DefaultEdgeLabel     = "related_to"
	DefaultEdgeWeight    = 1.0
	ConnectorEdgeLabel   = "connected_to"
	DefaultNodeLabelForm = "Node %d"
)

// Clustering and consistency thresholds
const (
	// SameTypeSimilarity and CrossTypeSimilarity back the default node similarity
	SameTypeSimilarity  = 0.8
	CrossTypeSimilarity = 0.2

	// LowCoherenceThreshold marks a neighbouring cluster as semantically suspect
	LowCoherenceThreshold = 0.3

	// WeakConnectionThreshold flags edges reported as knowledge gaps
	WeakConnectionThreshold = 0.3

	// UnderdevelopedClusterSize and UnderdevelopedCoherence flag thin themes
	UnderdevelopedClusterSize = 3
	UnderdevelopedCoherence   = 0.4
)

// Metrics constants
const (
	EigenvectorMaxIterations = 100
	EigenvectorTolerance     = 1e-6

	// HubStddevFactor: hub iff degree > mean + HubStddevFactor*stddev
	HubStddevFactor = 2.0

	// BridgeMeanFactor: bridge iff betweenness > BridgeMeanFactor*mean
	BridgeMeanFactor = 2.0
)

// History
const (
	// MaxHistoryPoints bounds the in-memory evolution history
	MaxHistoryPoints = 512
)
