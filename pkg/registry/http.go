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
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
)

// Server exposes the registry over HTTP.
type Server struct {
	registry *Registry
	logger   *zap.Logger
	router   *gin.Engine
	http     *http.Server
}

// NewServer builds the registry HTTP surface on the given port.
func NewServer(r *Registry, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		registry: r,
		logger:   r.logger,
		router:   router,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.POST("/agents", s.handleRegister)
	router.DELETE("/agents/:id", s.handleUnregister)
	router.POST("/agents/:id/heartbeat", s.handleHeartbeat)
	router.GET("/agents", s.handleList)
	router.GET("/agents/:id", s.handleGet)
	router.GET("/capabilities/:verb/agents", s.handleFindAgents)
	router.GET("/system/health", s.handleSystemHealth)
	router.GET("/system/dashboard", s.handleDashboard)

	return s
}

// Start begins serving and launches the background prober.
func (s *Server) Start(ctx context.Context) error {
	if err := s.registry.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fault.Wrap(fault.KindInternal, err, "registry http server failed to start")
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("registry http server started", zap.String("addr", s.http.Addr))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down the server and the prober.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.registry.Stop(ctx); err != nil {
		return err
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the routing table for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeError(c *gin.Context, err error) {
	c.JSON(fault.HTTPStatus(fault.KindOf(err)), fault.ToEnvelope(err))
}

type registerRequest struct {
	Manifest capability.Manifest `json:"manifest"`
	Endpoint string              `json:"endpoint"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
		return
	}
	if err := s.registry.Register(req.Manifest, req.Endpoint); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": req.Manifest.AgentID, "status": "registered"})
}

func (s *Server) handleUnregister(c *gin.Context) {
	if err := s.registry.Unregister(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	if err := s.registry.Heartbeat(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.registry.List()})
}

func (s *Server) handleGet(c *gin.Context) {
	reg, err := s.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}

func (s *Server) handleFindAgents(c *gin.Context) {
	verb := c.Param("verb")
	if !capability.ValidVerb(verb) {
		writeError(c, fault.New(fault.KindBadRequest, fmt.Sprintf("invalid capability verb %q", verb)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"verb": verb, "agents": s.registry.FindAgentsForCapability(verb)})
}

func (s *Server) handleSystemHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Health())
}

func (s *Server) handleDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Dashboard(c.Request.Context()))
}
