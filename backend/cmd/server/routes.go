package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kgraph/backend/internal/constants"
	"kgraph/backend/internal/engine"
	"kgraph/backend/internal/observability"
	"kgraph/backend/internal/state"
	apperrors "kgraph/backend/pkg/errors"
)

// server bundles what the HTTP handlers need
type server struct {
	manager   *engine.Manager
	events    *eventHub
	collector *observability.Collector
	log       *zap.Logger
}

func newRouter(s *server, production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())
	router.Use(s.collector.GinMiddleware())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(s.collector.Handler()))

	api := router.Group("/api/graph")
	{
		api.GET("", s.getGraph)
		api.POST("/expand", s.expand)
		api.POST("/nodes", s.createNode)
		api.POST("/edges", s.createEdge)
		api.POST("/analyze", s.analyze)
		api.POST("/suggestions", s.suggest)
		api.GET("/consistency", s.consistency)
		api.POST("/repair", s.repair)
		api.POST("/reconnect", s.reconnect)
		api.GET("/gaps", s.gaps)
		api.GET("/growth", s.growth)
		api.GET("/events", s.events.serve)
	}

	return router
}

func (s *server) getGraph(c *gin.Context) {
	data, err := s.manager.GraphData(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to load graph", err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *server) expand(c *gin.Context) {
	var req struct {
		Prompt        string `json:"prompt" binding:"required"`
		MaxIterations int    `json:"maxIterations" binding:"omitempty,min=1,max=50"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = constants.DefaultMaxIterations
	}

	data, err := s.manager.Expand(c.Request.Context(), req.Prompt, req.MaxIterations)
	if err != nil {
		s.fail(c, "Failed to expand graph", err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *server) createNode(c *gin.Context) {
	var req state.InsertNode
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node, err := s.manager.CreateNode(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "Failed to create node", err)
		return
	}
	c.JSON(http.StatusCreated, node)
}

func (s *server) createEdge(c *gin.Context) {
	var req struct {
		SourceID int64              `json:"sourceId" binding:"required"`
		TargetID int64              `json:"targetId" binding:"required"`
		Label    string             `json:"label"`
		Weight   *float64           `json:"weight"`
		Metadata state.EdgeMetadata `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := state.InsertEdge{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Label:    req.Label,
		Weight:   constants.DefaultEdgeWeight,
		Metadata: req.Metadata,
	}
	if req.Weight != nil {
		in.Weight = *req.Weight
	}

	edge, err := s.manager.CreateEdge(c.Request.Context(), in)
	if err != nil {
		s.fail(c, "Failed to create edge", err)
		return
	}
	c.JSON(http.StatusCreated, edge)
}

func (s *server) analyze(c *gin.Context) {
	var req state.Content
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := s.manager.AnalyzeContent(c.Request.Context(), req)
	if err != nil {
		s.fail(c, "Failed to analyze content", err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *server) suggest(c *gin.Context) {
	var req struct {
		NodeIDs []int64 `json:"nodeIds"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	suggestions, err := s.manager.SuggestRelationships(c.Request.Context(), req.NodeIDs)
	if err != nil {
		s.fail(c, "Failed to suggest relationships", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *server) consistency(c *gin.Context) {
	report, err := s.manager.CheckConsistency(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to check consistency", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// repair fixes the given anomalies, or every anomaly currently detected
// when none are given
func (s *server) repair(c *gin.Context) {
	var req struct {
		Anomalies []state.Anomaly `json:"anomalies"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx := c.Request.Context()

	anomalies := req.Anomalies
	if len(anomalies) == 0 {
		report, err := s.manager.CheckConsistency(ctx)
		if err != nil {
			s.fail(c, "Failed to check consistency", err)
			return
		}
		anomalies = report.Anomalies
	}

	repaired, err := s.manager.Repair(ctx, anomalies)
	if err != nil {
		s.fail(c, "Failed to repair graph", err)
		return
	}
	after, err := s.manager.CheckConsistency(ctx)
	if err != nil {
		s.fail(c, "Failed to check consistency", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repair": repaired, "consistency": after})
}

func (s *server) reconnect(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := s.manager.ReconnectDisconnectedNodes(ctx)
	if err != nil {
		s.fail(c, "Failed to reconnect nodes", err)
		return
	}
	data, err := s.manager.GraphData(ctx)
	if err != nil {
		s.fail(c, "Failed to load graph", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconnect": report, "graph": data})
}

func (s *server) gaps(c *gin.Context) {
	gaps, err := s.manager.KnowledgeGaps(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to detect knowledge gaps", err)
		return
	}
	c.JSON(http.StatusOK, gaps)
}

func (s *server) growth(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.Growth())
}

// fail logs err and answers with the status its category maps to
func (s *server) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		s.log.Debug(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotInitialized), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case apperrors.IsErrorType(err, apperrors.ErrorTypeValidation):
		return http.StatusBadRequest
	case apperrors.IsErrorType(err, apperrors.ErrorTypeGraph):
		return http.StatusNotFound
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case apperrors.IsErrorType(err, apperrors.ErrorTypeProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
