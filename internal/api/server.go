// Package api exposes the reconciler over HTTP: draft creation for the
// checkout and top-up pages, the provider redirect endpoint, marker
// inspection, reports and metrics.
package api

import (
	stdcontext "context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/payment-reconciler/internal/draft"
	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/monitor"
	"github.com/yourorg/payment-reconciler/internal/orchestrator"
	"github.com/yourorg/payment-reconciler/internal/pending"
	"github.com/yourorg/payment-reconciler/internal/reporting"
)

const (
	// SessionHeader carries the draft scope on API calls.
	SessionHeader = "X-Session-ID"
	// SessionCookie carries the draft scope on browser redirects, which
	// cannot set headers.
	SessionCookie = "session_id"

	serviceName = "payment-reconciler"
)

// Reconciler confirms provider redirects.
type Reconciler interface {
	Reconcile(ctx stdcontext.Context, req orchestrator.Request) orchestrator.Result
}

// MarkerReader reads idempotency markers.
type MarkerReader interface {
	Lookup(ctx stdcontext.Context, correlationID string) (*idempotency.Marker, error)
}

// Dependencies are the collaborators of a Server. Health is optional.
type Dependencies struct {
	Reconciler Reconciler
	Builder    *draft.Builder
	Contracts  *monitor.Contracts
	Pending    pending.Store
	Markers    MarkerReader
	Journal    *reporting.Journal
	Gatherer   prometheus.Gatherer
	Health     func(ctx stdcontext.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	deps     Dependencies
	reporter *reporting.RetrospectiveReporter
}

// NewServer creates a server. It panics when a required dependency is missing.
func NewServer(deps Dependencies) *Server {
	if deps.Reconciler == nil {
		panic("reconciler cannot be nil")
	}
	if deps.Builder == nil || deps.Contracts == nil {
		panic("draft builder and contracts cannot be nil")
	}
	if deps.Pending == nil || deps.Markers == nil {
		panic("pending store and marker reader cannot be nil")
	}
	if deps.Journal == nil {
		deps.Journal = reporting.NewJournal(0)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, reporter: reporting.NewRetrospectiveReporter()}
}

// Handler builds the gin engine with all routes mounted.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.POST("/pending/:kind", s.handleCreateDraft)
	v1.GET("/pending/:kind", s.handleGetDraft)
	v1.DELETE("/pending/:kind", s.handleDeleteDraft)
	v1.GET("/confirm/:kind/:provider", s.handleConfirm)
	v1.GET("/markers/:id", s.handleGetMarker)
	v1.GET("/reports/retrospective", s.handleRetrospective)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("[API] Request handled",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			slog.Warn("[API] Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
