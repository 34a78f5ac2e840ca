package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kgraph/backend/internal/graph"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
)

const expansionKey = "expand"

// Expansion outcomes, as recorded in logs and metrics
const (
	OutcomeCompleted = "completed"
	OutcomeExhausted = "exhausted"
	OutcomeCapped    = "iteration_cap"
	OutcomeDeadline  = "deadline"
	OutcomeFailed    = "failed"
)

// RunSummary describes one finished expansion run
type RunSummary struct {
	RunID   string
	Outcome string
	Rounds  int
	Merged  MergeReport
}

// Expand grows the graph from prompt through up to maxIterations provider
// rounds (the configured default when maxIterations <= 0). Concurrent calls
// join the run already in flight instead of starting another. When the
// deadline passes, the committed state is returned without error. Provider
// failures abort the run; what was merged before stays.
//
// ctx only bounds how long the caller waits: the run itself is detached
// from it and is stopped by the deadline alone.
func (m *Manager) Expand(ctx context.Context, prompt string, maxIterations int) (state.GraphData, error) {
	if err := m.ready(); err != nil {
		return state.GraphData{}, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return state.GraphData{}, apperrors.NewInvalidInput("prompt", "must not be empty")
	}
	if maxIterations <= 0 {
		maxIterations = m.maxIterations
	}

	ch := m.flight.DoChan(expansionKey, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deadline)
		defer cancel()
		return m.expand(runCtx, prompt, maxIterations)
	})

	timer := time.NewTimer(m.deadline)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return state.GraphData{}, res.Err
		}
		if res.Shared {
			m.logger.Debug("Expansion result shared with concurrent callers")
		}
	case <-timer.C:
		m.logger.Warn("Expansion deadline reached, returning committed state",
			zap.Duration("deadline", m.deadline))
	case <-ctx.Done():
		return state.GraphData{}, ctx.Err()
	}

	return m.GraphData(ctx)
}

// expand runs the round loop. It is only ever invoked through the
// singleflight group.
func (m *Manager) expand(ctx context.Context, prompt string, maxIterations int) (summary RunSummary, err error) {
	summary = RunSummary{RunID: uuid.NewString(), Outcome: OutcomeCapped}
	log := m.logger.With(zap.String("run_id", summary.RunID))
	start := time.Now()

	defer func() {
		if err != nil {
			summary.Outcome = OutcomeFailed
		}
		m.collector.RecordExpansion(summary.Outcome, summary.Rounds, time.Since(start))
		log.Info("Expansion finished",
			zap.String("outcome", summary.Outcome),
			zap.Int("rounds", summary.Rounds),
			zap.Int("nodes_added", summary.Merged.NodesAdded),
			zap.Int("edges_added", summary.Merged.EdgesAdded),
			zap.Duration("elapsed", time.Since(start)))
	}()

	if err := m.acquireRun(ctx); err != nil {
		summary.Outcome = OutcomeDeadline
		return summary, nil
	}
	defer m.releaseRun()

	log.Info("Expansion started",
		zap.String("prompt", prompt),
		zap.Int("max_iterations", maxIterations),
		zap.Duration("deadline", m.deadline))

	limiter := rate.NewLimiter(rate.Every(m.pause), 1)
	current := prompt

	for summary.Rounds < maxIterations {
		if err := limiter.Wait(ctx); err != nil {
			summary.Outcome = OutcomeDeadline
			return summary, nil
		}
		summary.Rounds++
		roundLog := log.With(zap.Int("round", summary.Rounds))

		// 1. Prompt the provider with the current snapshot
		g, err := m.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				summary.Outcome = OutcomeDeadline
				return summary, nil
			}
			return summary, err
		}
		proposal, err := m.provider.Expand(ctx, current, g.Data())
		if err != nil {
			if ctx.Err() != nil {
				summary.Outcome = OutcomeDeadline
				return summary, nil
			}
			roundLog.Error("Provider expansion failed", zap.Error(err))
			return summary, fmt.Errorf("expansion round %d: %w", summary.Rounds, err)
		}

		// 2-4. Validate, merge, notify
		merged, valid := m.apply(ctx, roundLog, g, proposal)
		summary.Merged.NodesAdded += merged.NodesAdded
		summary.Merged.EdgesAdded += merged.EdgesAdded
		summary.Merged.EdgesSkipped += merged.EdgesSkipped
		summary.Merged.NodeFailures += merged.NodeFailures
		summary.Merged.EdgeFailures += merged.EdgeFailures
		if !valid {
			summary.Outcome = OutcomeExhausted
			return summary, nil
		}
		if ctx.Err() != nil {
			summary.Outcome = OutcomeDeadline
			return summary, nil
		}

		// 5. Advance
		next := strings.TrimSpace(proposal.NextQuestion)
		if next == "" {
			summary.Outcome = OutcomeCompleted
			return summary, nil
		}
		roundLog.Debug("Following up", zap.String("next_question", next))
		current = next
	}
	return summary, nil
}

// apply validates a proposal against g, merges what survives and notifies
// the subscriber when the graph changed. It reports false when nothing in
// the proposal was usable.
func (m *Manager) apply(ctx context.Context, log *zap.Logger, g *graph.Graph, proposal *state.Expansion) (MergeReport, bool) {
	if proposal == nil {
		log.Warn("Provider returned no proposal")
		return MergeReport{}, false
	}

	res := Validate(g, proposal.Nodes, proposal.Edges, log)
	m.collector.RecordDiscarded(res.DiscardedNodes, res.DiscardedEdges)
	if !res.IsValid {
		log.Info("Proposal had no valid nodes or edges")
		return MergeReport{}, false
	}

	merged := m.merge(ctx, log, res)
	if merged.Changed() {
		m.notify(ctx)
		m.recordHistory(ctx)
	}
	return merged, true
}

// AnalyzeContent extracts nodes and edges from text and images and merges
// them like an expansion round. It waits for a running expansion to finish
// and is bounded by the expansion deadline.
func (m *Manager) AnalyzeContent(ctx context.Context, content state.Content) (state.GraphData, error) {
	if err := m.ready(); err != nil {
		return state.GraphData{}, err
	}
	if err := content.Validate(); err != nil {
		return state.GraphData{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()

	if err := m.acquireRun(runCtx); err != nil {
		return state.GraphData{}, apperrors.NewContextTimeout("analyze content", m.deadline)
	}
	defer m.releaseRun()

	log := m.logger.With(zap.String("run_id", uuid.NewString()))
	g, err := m.Snapshot(runCtx)
	if err != nil {
		return state.GraphData{}, err
	}

	proposal, err := m.provider.AnalyzeContent(runCtx, content, g.Nodes())
	if err != nil {
		log.Error("Content analysis failed", zap.Error(err))
		return state.GraphData{}, fmt.Errorf("content analysis: %w", err)
	}

	merged, _ := m.apply(runCtx, log, g, proposal)
	log.Info("Content analysis merged",
		zap.Int("images", len(content.Images)),
		zap.Int("nodes_added", merged.NodesAdded),
		zap.Int("edges_added", merged.EdgesAdded))

	return m.GraphData(ctx)
}

func (m *Manager) acquireRun(ctx context.Context) error {
	select {
	case m.runGate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) releaseRun() {
	<-m.runGate
}
