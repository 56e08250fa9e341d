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
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Server exposes the coordinator over HTTP.
type Server struct {
	coordinator *Coordinator
	logger      *zap.Logger
	router      *gin.Engine
	http        *http.Server
}

// NewServer builds the coordinator HTTP surface on the given port.
func NewServer(c *Coordinator, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		coordinator: c,
		logger:      c.logger,
		router:      router,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.POST("/execute", s.handleExecute)
	router.GET("/policy/rules", s.handleListRules)
	router.POST("/policy/rules", s.handleAddRule)
	router.DELETE("/policy/rules/:id", s.handleRemoveRule)
	router.PATCH("/policy/rules/:id", s.handlePatchRule)

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
		return fault.Wrap(fault.KindInternal, err, "coordinator http server failed to start")
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("coordinator http server started", zap.String("addr", s.http.Addr))
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

func (s *Server) handleExecute(c *gin.Context) {
	var req struct {
		Query   string                 `json:"query"`
		Context map[string]interface{} `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
		return
	}

	state, err := s.coordinator.Execute(c.Request.Context(), req.Query, req.Context)
	if err != nil {
		// The partial state still goes back so the caller can see how
		// far the pipeline got.
		c.JSON(fault.HTTPStatus(fault.KindOf(err)), gin.H{
			"error": fault.ToEnvelope(err).Error,
			"state": state,
		})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.coordinator.Policy().Rules()})
}

func (s *Server) handleAddRule(c *gin.Context) {
	var rule Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
		return
	}
	if err := s.coordinator.Policy().AddRule(rule); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule_id": rule.ID})
}

func (s *Server) handleRemoveRule(c *gin.Context) {
	if err := s.coordinator.Policy().RemoveRule(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePatchRule(c *gin.Context) {
	enabled, err := strconv.ParseBool(c.DefaultQuery("enabled", "true"))
	if err != nil {
		writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid enabled value"))
		return
	}
	if err := s.coordinator.Policy().SetEnabled(c.Param("id"), enabled); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_id": c.Param("id"), "enabled": enabled})
}
