package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"optiflow/decision"
	"optiflow/graph"
	"optiflow/logger"
	"optiflow/metrics"
	"optiflow/pipeline"
	"optiflow/store"
)

const defaultListLimit = 50

// Runner runs the pipeline once.
type Runner interface {
	RunOnce(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	runner     Runner
	store      *store.Store
	prompts    *decision.PromptManager
	metrics    *metrics.Metrics
	httpServer *http.Server
	addr       string
}

// NewServer creates the API server. prompts and m may be nil.
func NewServer(runner Runner, st *store.Store, prompts *decision.PromptManager, m *metrics.Metrics, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	s := &Server{
		router:  router,
		runner:  runner,
		store:   st,
		prompts: prompts,
		metrics: m,
		addr:    addr,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/run", s.handleRun)
		api.GET("/history", s.handleHistory)
		api.GET("/adjustments", s.handleAdjustments)
		api.GET("/prompt-templates", s.handleGetPromptTemplates)
		api.GET("/prompt-templates/:name", s.handleGetPromptTemplate)
	}
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type traceEntry struct {
	Node       string           `json:"node"`
	Status     graph.NodeStatus `json:"status"`
	DurationMS float64          `json:"duration_ms"`
}

// handleRun runs the pipeline once and records the resulting order.
func (s *Server) handleRun(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	out, err := s.runner.RunOnce(c.Request.Context(), req)
	if err != nil {
		resp := gin.H{"error": err.Error()}
		var fault *graph.NodeExecutionFault
		if errors.As(err, &fault) {
			resp["node"] = fault.Node
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	resp := gin.H{
		"run_id": out.RunID,
		"status": out.Status(),
		"state":  out.State,
		"trace":  toTrace(out.Trace),
	}
	if s.store != nil {
		rec, err := pipeline.Record(c.Request.Context(), s.store.Orders(), out)
		if err != nil {
			logger.Errorf("failed to record run %s: %v", out.RunID, err)
		} else if rec != nil {
			resp["history_id"] = rec.ID
		}
	}
	c.JSON(http.StatusOK, resp)
}

func toTrace(records []graph.NodeRecord) []traceEntry {
	out := make([]traceEntry, 0, len(records))
	for _, r := range records {
		out = append(out, traceEntry{
			Node:       r.Node,
			Status:     r.Status,
			DurationMS: float64(r.Duration.Microseconds()) / 1000,
		})
	}
	return out
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"orders": []*store.OrderRecord{}})
		return
	}
	orders, err := s.store.Orders().List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if orders == nil {
		orders = []*store.OrderRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleAdjustments(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"adjustments": []*store.AdjustmentRecord{}})
		return
	}
	adjustments, err := s.store.Adjustments().List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if adjustments == nil {
		adjustments = []*store.AdjustmentRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"adjustments": adjustments})
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}

// handleGetPromptTemplates Get all system prompt template list
func (s *Server) handleGetPromptTemplates(c *gin.Context) {
	names := []string{}
	if s.prompts != nil {
		names = s.prompts.TemplateNames()
	}
	response := make([]gin.H, 0, len(names))
	for _, name := range names {
		response = append(response, gin.H{"name": name})
	}
	c.JSON(http.StatusOK, gin.H{"templates": response})
}

// handleGetPromptTemplate Get prompt template content by specified name
func (s *Server) handleGetPromptTemplate(c *gin.Context) {
	name := c.Param("name")
	if s.prompts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template does not exist: " + name})
		return
	}
	tmpl, err := s.prompts.GetTemplate(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template does not exist: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":    tmpl.Name,
		"content": tmpl.Content,
		"source":  tmpl.Source,
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Infof("API server starting at %s", s.addr)
	logger.Infof("  POST /api/run                 - run the pipeline once")
	logger.Infof("  GET  /api/history?limit=n     - proposed orders, newest first")
	logger.Infof("  GET  /api/adjustments?limit=n - position adjustment flags")
	logger.Infof("  GET  /api/prompt-templates    - system prompt templates")
	logger.Infof("  GET  /api/health              - health check")
	if s.metrics != nil {
		logger.Infof("  GET  /metrics                 - Prometheus metrics")
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits up to five seconds for
// in-flight runs.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
