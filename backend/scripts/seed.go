package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"kgraph/backend/internal/state"
	"kgraph/backend/internal/store"
	"kgraph/backend/pkg/config"
	"kgraph/backend/pkg/logger"
)

// starter concepts, linked in a chain so the seeded graph is connected
var seedConcepts = []struct {
	label string
	kind  string
}{
	{"Knowledge Graph", "concept"},
	{"Node", "concept"},
	{"Edge", "concept"},
	{"Centrality", "concept"},
	{"Community", "concept"},
}

var seedLinks = []struct {
	source, target int
	label          string
}{
	{0, 1, "contains"},
	{0, 2, "contains"},
	{2, 1, "connects"},
	{3, 1, "measures"},
	{4, 1, "groups"},
}

func main() {
	reset := flag.Bool("reset", false, "Delete every stored graph node and edge before seeding")
	skipConfirm := flag.Bool("y", false, "Skip confirmation prompt")
	force := flag.Bool("force", false, "Seed even if the graph is not empty")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development", "info"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	s := store.NewNeo4jStore(driver)
	defer s.Close(ctx)

	if *reset {
		if !*skipConfirm && !confirm(fmt.Sprintf("Delete the whole knowledge graph at %s?", cfg.Neo4jURI)) {
			log.Info("Aborted")
			return
		}
		if err := deleteGraph(ctx, driver, log); err != nil {
			log.Fatal("Failed to reset graph", zap.Error(err))
		}
	}

	if err := s.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to create constraints", zap.Error(err))
	}

	existing, err := s.GetFullGraph(ctx)
	if err != nil {
		log.Fatal("Failed to load graph", zap.Error(err))
	}
	if len(existing.Nodes) > 0 && !*force {
		log.Info("Graph already has data, skipping (use -force to seed anyway)",
			zap.Int("nodes", len(existing.Nodes)),
			zap.Int("edges", len(existing.Edges)),
		)
		os.Exit(0)
	}

	ids := make([]int64, len(seedConcepts))
	for i, c := range seedConcepts {
		node, err := s.CreateNode(ctx, state.InsertNode{Label: c.label, Type: c.kind})
		if err != nil {
			log.Fatal("Failed to create node", zap.String("label", c.label), zap.Error(err))
		}
		ids[i] = node.ID
		log.Info("Created node", zap.Int64("id", node.ID), zap.String("label", node.Label))
	}

	for _, l := range seedLinks {
		edge, err := s.CreateEdge(ctx, state.InsertEdge{
			SourceID: ids[l.source],
			TargetID: ids[l.target],
			Label:    l.label,
			Weight:   1,
		})
		if err != nil {
			log.Warn("Failed to create edge",
				zap.Int64("source", ids[l.source]),
				zap.Int64("target", ids[l.target]),
				zap.Error(err),
			)
			continue
		}
		log.Info("Created edge", zap.Int64("id", edge.ID), zap.String("label", edge.Label))
	}

	log.Info("Database seeding completed successfully!")
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// deleteGraph removes graph nodes, their edges and the id sequences
func deleteGraph(ctx context.Context, driver neo4j.DriverWithContext, log *zap.Logger) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, query := range []string{
		`MATCH (n:KGNode) DETACH DELETE n`,
		`MATCH (s:KGSequence) DELETE s`,
	} {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to delete graph data: %w", err)
		}
	}

	log.Info("All graph nodes and edges deleted")
	return nil
}
