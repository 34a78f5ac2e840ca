package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// chatCompleter is the slice of the go-openai client the provider needs
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CallObserver is told about every finished provider call
type CallObserver func(operation string, duration time.Duration, err error)

// BreakerConfig tunes the circuit breaker around provider calls
type BreakerConfig struct {
	FailureRatio float64
	MinRequests  uint32
	OpenTimeout  time.Duration
}

// Provider talks to any OpenAI-compatible endpoint (LiteLLM, OpenAI, ...)
// and turns its JSON answers into graph proposals.
type Provider struct {
	client     chatCompleter
	model      string
	mu         sync.RWMutex // Protects model field for concurrent access
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	observer   CallObserver
	logger     *zap.Logger
}

// Option configures a Provider
type Option func(*Provider)

// WithBreaker replaces the default breaker settings
func WithBreaker(cfg BreakerConfig) Option {
	return func(p *Provider) { p.breaker = newBreaker(cfg, p.logger) }
}

// WithRetries sets the attempt count and the linear backoff step
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(p *Provider) {
		if attempts > 0 {
			p.maxRetries = attempts
		}
		p.backoff = backoff
	}
}

// WithObserver installs a call observer, typically the metrics collector
func WithObserver(obs CallObserver) Option {
	return func(p *Provider) { p.observer = obs }
}

// WithLogger overrides the process logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

func withCompleter(c chatCompleter) Option {
	return func(p *Provider) { p.client = c }
}

// NewProvider creates a reasoning provider for the given endpoint
func NewProvider(baseURL, apiKey, modelID string, opts ...Option) *Provider {
	// LiteLLM accepts any key when it runs without auth
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"

	p := &Provider{
		client:     openai.NewClientWithConfig(config),
		model:      modelID,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger.Named("provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = newBreaker(BreakerConfig{FailureRatio: 0.6, MinRequests: 5, OpenTimeout: 30 * time.Second}, p.logger)
	}
	return p
}

func newBreaker(cfg BreakerConfig, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reasoning-provider",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// A caller giving up is not a provider failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// SetModel updates the model used by this provider
func (p *Provider) SetModel(model string) {
	if model != "" {
		p.mu.Lock()
		p.model = model
		p.mu.Unlock()
		p.logger.Debug("Provider model updated", zap.String("model", model))
	}
}

// GetModel returns the current model
func (p *Provider) GetModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// complete sends one JSON-mode chat request through the breaker and the
// retry loop and returns the raw message content.
func (p *Provider) complete(ctx context.Context, operation string, messages []openai.ChatCompletionMessage) (content string, err error) {
	start := time.Now()
	defer func() {
		if p.observer != nil {
			p.observer(operation, time.Since(start), err)
		}
	}()

	req := openai.ChatCompletionRequest{
		Model:          p.GetModel(),
		Messages:       messages,
		Temperature:    0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	attempts := 0
	out, err := p.breaker.Execute(func() (interface{}, error) {
		var resp openai.ChatCompletionResponse
		var callErr error
		for attempt := 0; attempt < p.maxRetries; attempt++ {
			attempts = attempt + 1
			if attempt > 0 {
				wait := time.Duration(attempt) * p.backoff
				p.logger.Warn("Retrying provider request",
					zap.String("operation", operation),
					zap.Int("attempt", attempt+1),
					zap.Duration("backoff", wait))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}

			resp, callErr = p.client.CreateChatCompletion(ctx, req)
			if callErr == nil {
				return resp, nil
			}
			p.logger.Error("Provider request failed",
				zap.String("operation", operation),
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1),
				zap.Error(callErr))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return nil, callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		retryable := !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
		return "", apperrors.NewProviderCallFailed(operation, attempts, retryable, err)
	}

	resp := out.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperrors.ErrProviderNoResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Expand asks the provider how to grow the graph for prompt
func (p *Provider) Expand(ctx context.Context, prompt string, current state.GraphData) (*state.Expansion, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: expansionSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: expansionUserPrompt(prompt, current)},
	}
	body, err := p.complete(ctx, "expand", messages)
	if err != nil {
		return nil, err
	}

	expansion, err := p.parseExpansion("expand", body)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Expansion proposed",
		zap.Int("nodes", len(expansion.Nodes)),
		zap.Int("edges", len(expansion.Edges)),
		zap.Bool("has_next_question", expansion.NextQuestion != ""))
	return expansion, nil
}

// AnalyzeContent extracts graph proposals from text plus optional images
func (p *Provider) AnalyzeContent(ctx context.Context, content state.Content, existing []state.Node) (*state.Expansion, error) {
	if err := content.Validate(); err != nil {
		return nil, err
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	text := analysisUserPrompt(content.Text, existing)
	if len(content.Images) == 0 {
		user.Content = text
	} else {
		user.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
		for _, img := range content.Images {
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: fmt.Sprintf("data:%s;base64,%s", img.Type, img.Data)},
			})
		}
	}

	body, err := p.complete(ctx, "analyze_content", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
		user,
	})
	if err != nil {
		return nil, err
	}
	return p.parseExpansion("analyze_content", body)
}

// ValidateRelationships scores how plausible the edges from source to each
// target are
func (p *Provider) ValidateRelationships(ctx context.Context, source *state.Node, targets []state.Node) (*state.RelationshipValidation, error) {
	if source == nil {
		return nil, apperrors.NewInvalidInput("source", "source node is required")
	}
	if targets == nil {
		return nil, apperrors.NewInvalidInput("targets", "target nodes are required")
	}

	body, err := p.complete(ctx, "validate_relationships", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: validationSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: validationUserPrompt(*source, targets)},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		ConfidenceScores map[int64]float64 `json:"confidenceScores"`
		Reasoning        string            `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, apperrors.NewProviderResponseInvalid("validate_relationships", body, err)
	}
	if payload.ConfidenceScores == nil {
		payload.ConfidenceScores = map[int64]float64{}
	}
	for id, score := range payload.ConfidenceScores {
		payload.ConfidenceScores[id] = clamp01(score)
	}

	return &state.RelationshipValidation{
		ConfidenceScores: payload.ConfidenceScores,
		Reasoning:        payload.Reasoning,
	}, nil
}

// SuggestRelationships proposes new edges between the given nodes. Nothing is
// applied to the graph.
func (p *Provider) SuggestRelationships(ctx context.Context, nodes []state.Node) ([]state.RelationshipSuggestion, error) {
	if nodes == nil {
		return nil, apperrors.NewInvalidInput("nodes", "node list is required")
	}
	if len(nodes) == 0 {
		return nil, apperrors.NewInvalidInput("nodes", "node list is empty")
	}

	body, err := p.complete(ctx, "suggest_relationships", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: suggestionSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: suggestionUserPrompt(nodes)},
	})
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Suggestions []state.RelationshipSuggestion `json:"suggestions"`
	}
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal([]byte(trimmed), &wrapped.Suggestions)
	} else {
		err = json.Unmarshal([]byte(trimmed), &wrapped)
	}
	if err != nil {
		return nil, apperrors.NewProviderResponseInvalid("suggest_relationships", body, err)
	}

	known := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	out := make([]state.RelationshipSuggestion, 0, len(wrapped.Suggestions))
	for _, s := range wrapped.Suggestions {
		if !known[s.SourceID] || !known[s.TargetID] || s.SourceID == s.TargetID {
			p.logger.Debug("Dropping suggestion with unknown endpoints",
				zap.Int64("source_id", s.SourceID),
				zap.Int64("target_id", s.TargetID))
			continue
		}
		s.Confidence = clamp01(s.Confidence)
		out = append(out, s)
	}
	return out, nil
}

// parseExpansion requires nodes and edges arrays. Elements that do not decode
// are kept as nil so validation can drop and log them.
func (p *Provider) parseExpansion(operation, body string) (*state.Expansion, error) {
	var raw struct {
		Nodes        *[]json.RawMessage `json:"nodes"`
		Edges        *[]json.RawMessage `json:"edges"`
		NextQuestion *string            `json:"nextQuestion"`
		Reasoning    string             `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, apperrors.NewProviderResponseInvalid(operation, body, err)
	}
	if raw.Nodes == nil || raw.Edges == nil {
		return nil, apperrors.NewProviderResponseInvalid(operation, body, errors.New("nodes and edges arrays are required"))
	}

	expansion := &state.Expansion{
		Nodes:     make([]*state.ProposedNode, 0, len(*raw.Nodes)),
		Edges:     make([]*state.ProposedEdge, 0, len(*raw.Edges)),
		Reasoning: raw.Reasoning,
	}
	if raw.NextQuestion != nil {
		expansion.NextQuestion = strings.TrimSpace(*raw.NextQuestion)
	}

	for i, item := range *raw.Nodes {
		var n *state.ProposedNode
		if err := json.Unmarshal(item, &n); err != nil {
			p.logger.Warn("Undecodable node proposal", zap.String("operation", operation), zap.Int("index", i), zap.Error(err))
			n = nil
		}
		expansion.Nodes = append(expansion.Nodes, n)
	}
	for i, item := range *raw.Edges {
		var e *state.ProposedEdge
		if err := json.Unmarshal(item, &e); err != nil {
			p.logger.Warn("Undecodable edge proposal", zap.String("operation", operation), zap.Int("index", i), zap.Error(err))
			e = nil
		}
		expansion.Edges = append(expansion.Edges, e)
	}
	return expansion, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
