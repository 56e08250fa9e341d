// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Server exposes the gateway over HTTP and WebSocket.
type Server struct {
	gateway *Gateway
	logger  *zap.Logger
	router  *gin.Engine
	http    *http.Server
}

// NewServer builds the gateway HTTP surface on the given port.
func NewServer(g *Gateway, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		gateway: g,
		logger:  g.logger,
		router:  router,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.POST("/query", s.handleQuery)
	router.GET("/capabilities", s.handleCapabilities)
	router.GET("/agents", s.handleAgents)
	router.POST("/agents/:id/:verb", s.handleCallAgent)
	router.GET("/stream", s.handleStream)

	return s
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fault.Wrap(fault.KindInternal, err, "gateway http server failed to start")
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("gateway http server started", zap.String("addr", s.http.Addr))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routing table for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeError(c *gin.Context, err error) {
	c.JSON(fault.HTTPStatus(fault.KindOf(err)), fault.ToEnvelope(err))
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		Query   string                 `json:"query"`
		Context map[string]interface{} `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
		return
	}

	response, err := s.gateway.HandleQuery(c.Request.Context(), req.Query, req.Context)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": s.gateway.Capabilities()})
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.gateway.Agents()})
}

func (s *Server) handleCallAgent(c *gin.Context) {
	var params map[string]interface{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
			return
		}
	}

	result, err := s.gateway.CallAgent(c.Request.Context(), c.Param("id"), c.Param("verb"), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
