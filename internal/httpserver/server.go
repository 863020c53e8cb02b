// Package httpserver exposes a small operator API over the running pipeline.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peerwatch/peerwatch/internal/coordinator"
	"github.com/peerwatch/peerwatch/internal/model"
)

// RegistryView is the narrow registry contract required by the API.
type RegistryView interface {
	Records() []model.ConnectionRecord
	Len() int
}

// Status is everything the health endpoint reports beyond the registry.
type Status struct {
	BreakerStatus func() string
	ProducerCount func() int
}

// Server provides the HTTP admin API.
type Server struct {
	addr      string
	reg       RegistryView
	coord     *coordinator.Coordinator
	status    Status
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates an admin API server.
func NewServer(addr string, reg RegistryView, coord *coordinator.Coordinator, status Status) *Server {
	if addr == "" {
		addr = "127.0.0.1:4590"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		reg:    reg,
		coord:  coord,
		status: status,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/connections", s.handleConnections)
	r.GET("/api/config", s.handleConfig)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the active listen address.
func (s *Server) Addr() string { return s.addr }

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"connections": s.reg.Len(),
	}
	if s.status.BreakerStatus != nil {
		resp["breaker"] = s.status.BreakerStatus()
	}
	if s.status.ProducerCount != nil {
		resp["producers"] = s.status.ProducerCount()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConnections(c *gin.Context) {
	records := s.reg.Records()
	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, gin.H{
			"id":           rec.ID,
			"origin":       rec.Origin,
			"lastUpdateAt": rec.LastUpdateAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

func (s *Server) handleConfig(c *gin.Context) {
	cfg := s.coord.EffectiveConfig()
	c.JSON(http.StatusOK, gin.H{
		"destination":    cfg.Delivery.BaseURL,
		"job":            cfg.Delivery.Job,
		"gzip":           cfg.Delivery.Gzip,
		"authConfigured": cfg.Delivery.Username != "",
		"enabled":        cfg.Sampling.Enabled,
		"updateInterval": cfg.Sampling.UpdateInterval.String(),
		"enabledStats":   cfg.Sampling.EnabledStats,
		"agentId":        cfg.Exposition.AgentID,
		"cleanupPeriod":  cfg.CleanupPeriod.String(),
		"staleAge":       cfg.StaleAge.String(),
	})
}
