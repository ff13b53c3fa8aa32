// Package adminapi exposes the gateway's management/inspection HTTP
// surface, mirroring the teacher's gin-based composition in cmd/main.go:
// a Recovery-wrapped router, a health/ready pair, a Prometheus
// /metrics route, and an /api/v1 group for session inspection and
// operator-issued commands. A second, separate fasthttp listener serves
// just a liveness probe for high-frequency orchestrator checks.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// SessionView is the read-only shape returned by the sessions routes.
type SessionView struct {
	AgvID          string  `json:"agv_id"`
	State          string  `json:"state"`
	BatteryLevel   float64 `json:"battery_level"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Theta          float64 `json:"theta"`
	LastActiveUnix int64   `json:"last_active_unix_ms"`
	Connected      bool    `json:"connected"`
}

// StatsView is the shape returned by GET /api/v1/stats.
type StatsView struct {
	ActiveSessions    int                `json:"active_sessions"`
	ActiveConnections int                `json:"active_connections"`
	WorkerQueueDepth  int                `json:"worker_queue_depth"`
	RateLimitAllowed  int64              `json:"rate_limit_allowed"`
	RateLimitRejected int64              `json:"rate_limit_rejected"`
}

// Backend is the minimal surface GatewayServer exposes to the admin
// API, kept narrow so this package never needs to import reactor
// directly.
type Backend interface {
	ListSessions() []SessionView
	FindSession(agvID string) (SessionView, bool)
	Stats() StatsView
	IssueCommand(agvID string, cmdType string) error
}

type Server struct {
	logger  *zap.Logger
	backend Backend
	reg     *prometheus.Registry

	httpServer   *http.Server
	healthServer *fasthttp.Server
	healthAddr   string
}

func New(logger *zap.Logger, backend Backend, reg *prometheus.Registry, addr, healthAddr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{logger: logger, backend: backend, reg: reg, healthAddr: healthAddr}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:agv_id", s.handleGetSession)
	api.GET("/stats", s.handleStats)
	api.POST("/sessions/:agv_id/command", s.handlePostCommand)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.healthServer = &fasthttp.Server{
		Handler: s.fastHealthHandler,
	}
	return s
}

// Start runs both listeners in their own goroutines; neither blocks the
// reactor.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin API server stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := s.healthServer.ListenAndServe(s.healthAddr); err != nil {
			s.logger.Error("health probe listener stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	_ = s.healthServer.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) fastHealthHandler(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/healthz" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ok")
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	stats := s.backend.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "ready", "active_sessions": stats.ActiveSessions})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.ListSessions())
}

func (s *Server) handleGetSession(c *gin.Context) {
	agvID := c.Param("agv_id")
	view, ok := s.backend.FindSession(agvID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no session for %q", agvID)})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.backend.Stats())
}

type commandRequest struct {
	CmdType string `json:"cmd_type" binding:"required"`
}

func (s *Server) handlePostCommand(c *gin.Context) {
	agvID := c.Param("agv_id")
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.backend.IssueCommand(agvID, req.CmdType); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "dispatched"})
}
