// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/streamgateway/internal/binding"
	"github.com/rapidaai/streamgateway/internal/commons"
	"github.com/rapidaai/streamgateway/internal/config"
	"github.com/rapidaai/streamgateway/internal/insight"
	"github.com/rapidaai/streamgateway/internal/session"
	"github.com/rapidaai/streamgateway/internal/workerclient"
)

// streamHandler upgrades an authenticated HTTP request to the duplex
// protocol and runs a session.Coordinator to completion, one goroutine per
// connection — the same shape as the teacher's stream handler upgrading a
// call leg into a driven session loop.
type streamHandler struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	worker   *workerclient.Client
	insight  *insight.Manager
	binding  *binding.Store
	registry *session.Registry
	upgrader websocket.Upgrader
}

func (h *streamHandler) serveWS(c *gin.Context) {
	tenantID, err := authenticate(c.Request, h.cfg.JWTSecret, h.cfg.JWTIssuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "err", err, "tenant_id", tenantID)
		return
	}

	deps := session.Deps{
		Worker:   h.worker,
		Insight:  h.insight,
		Binding:  h.binding,
		Registry: h.registry,
		Cfg:      h.cfg,
		Logger:   h.logger,
	}

	coord := session.NewCoordinator(conn, tenantID, deps)
	if err := coord.Run(c.Request.Context()); err != nil {
		h.logger.Infow("session ended with handshake error", "tenant_id", tenantID, "err", err)
	}
}
