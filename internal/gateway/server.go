// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/config"
	"github.com/rapidaai/streamgateway/internal/connectors"
	"github.com/rapidaai/streamgateway/internal/insight"
	"github.com/rapidaai/streamgateway/internal/session"
	"github.com/rapidaai/streamgateway/internal/workerclient"
	"github.com/rapidaai/streamgateway/pkg/utils"
)

// Server wires the gin engine the teacher's own router.go builds, scoped
// to the one duplex endpoint this gateway exposes plus the standard
// ops routes (/healthz, /metrics).
type Server struct {
	engine *gin.Engine
	http   *http.Server
	cfg    *config.AppConfig
	logger commons.Logger
	redis  connectors.RedisConnector
}

// Collaborators bundles the process-wide dependencies a Server needs to
// build per-connection session.Deps.
type Collaborators struct {
	Cfg      *config.AppConfig
	Logger   commons.Logger
	Worker   *workerclient.Client
	Insight  *insight.Manager
	Binding  *binding.Store
	Registry *session.Registry
	Redis    connectors.RedisConnector
}

// NewServer builds the gin engine and registers every route.
func NewServer(c Collaborators) *Server {
	if !c.Cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))

	s := &Server{
		engine: engine,
		cfg:    c.Cfg,
		logger: c.Logger,
		redis:  c.Redis,
	}

	h := &streamHandler{
		cfg:      c.Cfg,
		logger:   c.Logger,
		worker:   c.Worker,
		insight:  c.Insight,
		binding:  c.Binding,
		registry: c.Registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	engine.GET("/api/v1/asr/stream", h.serveWS)
	engine.GET("/healthz", s.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.http = &http.Server{
		Addr:         c.Cfg.ListenAddr,
		Handler:      engine,
		ReadTimeout:  0, // websocket upgrade holds the connection open indefinitely
		WriteTimeout: 0,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests (not streaming sessions,
// which are drained by the insight manager and coordinators separately).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	status := gin.H{"status": "ok", "time": utils.NowUTC().Format(time.RFC3339)}
	if s.redis != nil {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(pingCtx).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			c.JSON(http.StatusOK, status)
			return
		}
	}
	c.JSON(http.StatusOK, status)
}
