package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// Neo4jStore persists the knowledge graph as (:KGNode)-[:KG_EDGE]->(:KGNode).
// Ids are int64 properties allocated from (:KGSequence) counters, so they
// stay stable across restarts and never depend on Neo4j internal ids.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewNeo4jStore creates a new graph store on top of an open driver
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{
		driver: driver,
		logger: logger.Named("store.neo4j"),
	}
}

// Close closes the Neo4j driver connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints the store relies on
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT kg_node_id IF NOT EXISTS FOR (n:KGNode) REQUIRE n.id IS UNIQUE`,
		`CREATE CONSTRAINT kg_sequence_name IF NOT EXISTS FOR (s:KGSequence) REQUIRE s.name IS UNIQUE`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return apperrors.NewStoreWriteFailed("ensure schema", err)
		}
	}
	return nil
}

// GetFullGraph loads every node and edge, ordered by id
func (s *Neo4jStore) GetFullGraph(ctx context.Context) (state.GraphData, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	data := state.GraphData{Nodes: []state.Node{}, Edges: []state.Edge{}}

	nodeQuery := `
		MATCH (n:KGNode)
		RETURN n.id AS id, n.label AS label, n.type AS type, n.metadata AS metadata
		ORDER BY n.id
	`
	result, err := session.Run(ctx, nodeQuery, nil)
	if err != nil {
		return data, apperrors.NewStoreQueryFailed("load nodes", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		var meta state.NodeMetadata
		if err := decodeMetadata(getStringFromRecord(record, "metadata"), &meta); err != nil {
			s.logger.Warn("Dropping unreadable node metadata",
				zap.Int64("node_id", getInt64FromRecord(record, "id")),
				zap.Error(err))
		}
		data.Nodes = append(data.Nodes, state.Node{
			ID:       getInt64FromRecord(record, "id"),
			Label:    getStringFromRecord(record, "label"),
			Type:     getStringFromRecord(record, "type"),
			Metadata: meta,
		})
	}
	if err := result.Err(); err != nil {
		return data, apperrors.NewStoreQueryFailed("load nodes", err)
	}

	edgeQuery := `
		MATCH (s:KGNode)-[r:KG_EDGE]->(t:KGNode)
		RETURN r.id AS id, s.id AS source_id, t.id AS target_id,
		       r.label AS label, r.weight AS weight, r.metadata AS metadata
		ORDER BY r.id
	`
	result, err = session.Run(ctx, edgeQuery, nil)
	if err != nil {
		return data, apperrors.NewStoreQueryFailed("load edges", err)
	}
	for result.Next(ctx) {
		record := result.Record()
		var meta state.EdgeMetadata
		if err := decodeMetadata(getStringFromRecord(record, "metadata"), &meta); err != nil {
			s.logger.Warn("Dropping unreadable edge metadata",
				zap.Int64("edge_id", getInt64FromRecord(record, "id")),
				zap.Error(err))
		}
		data.Edges = append(data.Edges, state.Edge{
			ID:       getInt64FromRecord(record, "id"),
			SourceID: getInt64FromRecord(record, "source_id"),
			TargetID: getInt64FromRecord(record, "target_id"),
			Label:    getStringFromRecord(record, "label"),
			Weight:   getFloat64FromRecord(record, "weight", 1.0),
			Metadata: meta,
		})
	}
	if err := result.Err(); err != nil {
		return data, apperrors.NewStoreQueryFailed("load edges", err)
	}

	s.logger.Info("Loaded graph from Neo4j",
		zap.Int("nodes", len(data.Nodes)),
		zap.Int("edges", len(data.Edges)))
	return data, nil
}

// CreateNode persists a node. A zero id is allocated from the node sequence;
// an explicit id is kept and pushes the sequence past it.
func (s *Neo4jStore) CreateNode(ctx context.Context, in state.InsertNode) (state.Node, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Node{}, err
	}

	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return state.Node{}, apperrors.NewStoreWriteFailed("create node", err)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (seq:KGSequence {name: 'node'})
		ON CREATE SET seq.value = 0
		WITH seq
		OPTIONAL MATCH (existing:KGNode)
		WITH seq, coalesce(max(existing.id), 0) AS maxId
		WITH seq, CASE WHEN maxId > seq.value THEN maxId ELSE seq.value END AS floor
		WITH seq, CASE WHEN $id > 0 THEN $id ELSE floor + 1 END AS newId, floor
		SET seq.value = CASE WHEN newId > floor THEN newId ELSE floor END
		CREATE (n:KGNode {id: newId, label: $label, type: $type, metadata: $metadata, created_at: datetime()})
		RETURN n.id AS id, n.label AS label
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":       in.ID,
		"label":    in.Label,
		"type":     in.Type,
		"metadata": meta,
	})
	if err != nil {
		return state.Node{}, apperrors.NewStoreWriteFailed("create node", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return state.Node{}, apperrors.NewStoreWriteFailed("create node", err)
	}

	node := state.Node{
		ID:       getInt64FromRecord(record, "id"),
		Label:    in.Label,
		Type:     in.Type,
		Metadata: in.Metadata,
	}
	if node.Label == "" {
		// id was only known after allocation
		node.Label = fmt.Sprintf(constants.DefaultNodeLabelForm, node.ID)
		if err := s.setNodeLabel(ctx, session, node.ID, node.Label); err != nil {
			s.logger.Warn("Failed to backfill default label",
				zap.Int64("node_id", node.ID),
				zap.Error(err))
		}
	}

	s.logger.Debug("Node created",
		zap.Int64("node_id", node.ID),
		zap.String("type", node.Type))
	return node, nil
}

func (s *Neo4jStore) setNodeLabel(ctx context.Context, session neo4j.SessionWithContext, id int64, label string) error {
	_, err := session.Run(ctx, `MATCH (n:KGNode {id: $id}) SET n.label = $label`, map[string]interface{}{
		"id":    id,
		"label": label,
	})
	return err
}

// CreateEdge persists an edge between two existing nodes
func (s *Neo4jStore) CreateEdge(ctx context.Context, in state.InsertEdge) (state.Edge, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return state.Edge{}, err
	}

	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", err)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (s:KGNode {id: $sourceId}), (t:KGNode {id: $targetId})
		MERGE (seq:KGSequence {name: 'edge'})
		ON CREATE SET seq.value = 0
		SET seq.value = seq.value + 1
		CREATE (s)-[r:KG_EDGE {id: seq.value, label: $label, weight: $weight, metadata: $metadata, created_at: datetime()}]->(t)
		RETURN r.id AS id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sourceId": in.SourceID,
		"targetId": in.TargetID,
		"label":    in.Label,
		"weight":   in.Weight,
		"metadata": meta,
	})
	if err != nil {
		return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return state.Edge{}, apperrors.NewStoreWriteFailed("create edge", err)
		}
		return state.Edge{}, apperrors.NewStoreWriteFailed("create edge",
			fmt.Errorf("endpoints %d -> %d not found", in.SourceID, in.TargetID))
	}

	edge := state.Edge{
		ID:       getInt64FromRecord(result.Record(), "id"),
		SourceID: in.SourceID,
		TargetID: in.TargetID,
		Label:    in.Label,
		Weight:   in.Weight,
		Metadata: in.Metadata,
	}

	s.logger.Debug("Edge created",
		zap.Int64("edge_id", edge.ID),
		zap.Int64("source_id", edge.SourceID),
		zap.Int64("target_id", edge.TargetID))
	return edge, nil
}

// DeleteEdge removes an edge by id
func (s *Neo4jStore) DeleteEdge(ctx context.Context, id int64) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (:KGNode)-[r:KG_EDGE {id: $id}]->(:KGNode)
		WITH r, r.id AS id
		DELETE r
		RETURN count(id) AS deleted
	`
	result, err := session.Run(ctx, query, map[string]interface{}{"id": id})
	if err != nil {
		return apperrors.NewStoreWriteFailed("delete edge", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return apperrors.NewStoreWriteFailed("delete edge", err)
	}
	if getInt64FromRecord(record, "deleted") == 0 {
		return apperrors.NewEdgeNotFound(id)
	}
	return nil
}

// UpdateEdgeWeight overwrites the weight of an edge
func (s *Neo4jStore) UpdateEdgeWeight(ctx context.Context, id int64, weight float64) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (:KGNode)-[r:KG_EDGE {id: $id}]->(:KGNode)
		SET r.weight = $weight, r.updated_at = datetime()
		RETURN r.id AS id
	`
	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":     id,
		"weight": weight,
	})
	if err != nil {
		return apperrors.NewStoreWriteFailed("update edge weight", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return apperrors.NewStoreWriteFailed("update edge weight", err)
		}
		return apperrors.NewEdgeNotFound(id)
	}
	return nil
}

func encodeMetadata(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(raw string, v interface{}) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
