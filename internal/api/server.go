// Package api serves the pipeline engine over HTTP with gin.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobProcessor runs queued jobs on demand.
type JobProcessor interface {
	Drain(ctx context.Context) (int, error)
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB        *gorm.DB
	Service   *pipeline.Service
	Processor JobProcessor // optional; enables POST /api/jobs/process
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Port      int
	Out       io.Writer

	// SSEPoll overrides how often /api/events checks for job changes.
	SSEPoll time.Duration
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	router := NewRouter(opts)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Elmer API running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logging.OrNop(opts.Log)))

	if opts.Service == nil {
		opts.Service = pipeline.New(opts.DB, opts.Metrics, opts.Log)
	}
	h := &handlers{
		db:        opts.DB,
		svc:       opts.Service,
		processor: opts.Processor,
		log:       logging.OrNop(opts.Log),
		ssePoll:   opts.SSEPoll,
	}
	registerRoutes(router, h, opts.Metrics)
	return router
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func registerRoutes(router *gin.Engine, h *handlers, m *metrics.Metrics) {
	router.GET("/healthz", h.health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.GET("/workspaces/:id/board", h.board)
	api.PUT("/workspaces/:id/automation", h.setAutomation)
	api.GET("/workspaces/:id/stages", h.listStages)
	api.PUT("/workspaces/:id/stages/:stage", h.putStage)

	api.POST("/projects", h.createProject)
	api.GET("/projects/:id", h.getProject)
	api.DELETE("/projects/:id", h.deleteProject)
	api.GET("/projects/:id/history", h.history)
	api.POST("/projects/:id/stage", h.setStage)
	api.POST("/projects/:id/move", h.move)
	api.POST("/projects/:id/run", h.run)
	api.GET("/projects/:id/jobs", h.projectJobs)
	api.GET("/projects/:id/documents", h.listDocuments)
	api.POST("/projects/:id/documents", h.createDocument)

	api.POST("/jobs", h.enqueueJob)
	api.POST("/jobs/process", h.processJobs)

	api.GET("/events", h.events)
}
