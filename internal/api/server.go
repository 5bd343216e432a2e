// Package api serves the engine's status, report and metrics over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bft-labs/upshift/pkg/upshift"
)

// Engine is the part of the engine the API exposes.
type Engine interface {
	Status() upshift.Status
	Report(ctx context.Context, window time.Duration) (upshift.Report, error)
	Capabilities() []upshift.CapabilityRecord
	Executions() []upshift.ExecutionSnapshot
	RequestDiscovery()
}

// HTTPMetrics records served requests.
type HTTPMetrics interface {
	HTTPRequest(method, path string, status int, d time.Duration)
}

// DefaultReportWindow is used when /report has no window parameter.
const DefaultReportWindow = 24 * time.Hour

const shutdownTimeout = 5 * time.Second

// Server is the HTTP status server.
type Server struct {
	engine   Engine
	router   *gin.Engine
	logger   zerolog.Logger
	started  time.Time
	gatherer prometheus.Gatherer
	metrics  HTTPMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithGatherer serves /metrics from gatherer instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMetrics records every request.
func WithMetrics(m HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server for engine and registers its routes.
func New(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		logger:   zerolog.Nop(),
		started:  time.Now(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	if s.metrics != nil {
		r.Use(RequestMetrics(s.metrics))
	}
	s.router = r
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/status", s.status)
	s.router.GET("/executions", s.executions)
	s.router.GET("/capabilities", s.capabilities)
	s.router.GET("/report", s.report)
	s.router.POST("/discover", s.discover)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

func (s *Server) health(c *gin.Context) {
	st := s.engine.Status()
	code := http.StatusOK
	if st.State != upshift.StateRunning {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": st.State.String(),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) executions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"executions": s.engine.Executions()})
}

func (s *Server) capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": s.engine.Capabilities()})
}

func (s *Server) report(c *gin.Context) {
	window, err := parseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rep, err := s.engine.Report(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) discover(c *gin.Context) {
	s.engine.RequestDiscovery()
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

// parseWindow accepts a Go duration, "all" for the whole history, or
// nothing for DefaultReportWindow.
func parseWindow(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DefaultReportWindow, nil
	case "all":
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("window must be a duration such as 24h, or all")
	}
	if d <= 0 {
		return 0, errors.New("window must be positive")
	}
	return d, nil
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
