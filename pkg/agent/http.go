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
package agent

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

// Server exposes an Agent over HTTP.
type Server struct {
	agent  *Agent
	logger *zap.Logger
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the HTTP surface for an agent on the given port.
func NewServer(a *Agent, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		agent:  a,
		logger: a.logger,
		router: router,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
	}

	router.GET("/health", s.handleHealth)
	router.GET("/capabilities", s.handleCapabilities)
	router.GET("/manifest", s.handleManifest)
	router.GET("/metrics", s.handleMetrics)
	router.POST("/capabilities/:verb", s.handleExecute)
	router.POST("/query", s.handleQuery)

	return s
}

// Start begins serving in the background. It returns once the listener is up
// or fails; serve errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fault.Wrap(fault.KindInternal, err, "agent http server failed to start")
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("agent http server started", zap.String("addr", s.http.Addr))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains in-flight requests and shuts the server down.
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

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":         "healthy",
		"agent_id":       s.agent.ID(),
		"uptime_seconds": int(time.Since(s.agent.startedAt).Seconds()),
	}
	if s.agent.config.Monitor != nil {
		compliance := s.agent.config.Monitor.CheckSLACompliance()
		if !compliance.OverallCompliant {
			status["status"] = "degraded"
		}
		status["sla_compliant"] = compliance.OverallCompliant
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleCapabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agent_id":     s.agent.ID(),
		"capabilities": s.agent.Capabilities(),
	})
}

func (s *Server) handleManifest(c *gin.Context) {
	c.JSON(http.StatusOK, s.agent.Manifest())
}

func (s *Server) handleMetrics(c *gin.Context) {
	out := gin.H{"agent_id": s.agent.ID()}

	if s.agent.config.Monitor != nil {
		out["dashboard"] = s.agent.config.Monitor.Dashboard()
	}
	if s.agent.config.Cache != nil {
		stats := s.agent.config.Cache.Stats(c.Request.Context())
		out["cache"] = stats

		// A cold cache with slow queries usually means warming helps.
		if s.agent.config.Monitor != nil {
			metrics := s.agent.config.Monitor.Metrics()
			lookups := stats.TotalHits + stats.TotalMisses
			if lookups > 0 && metrics.SampleCount > 0 {
				hitRate := 100 * float64(stats.TotalHits) / float64(lookups)
				if hitRate < 30 && metrics.P95Ms > 100 {
					out["cache_recommendation"] = "cache hit rate is low while latency is high: consider warming the cache with common queries"
				}
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleExecute(c *gin.Context) {
	var req struct {
		Input map[string]interface{} `json:"input"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
			return
		}
	}

	start := time.Now()
	result, err := s.agent.ExecuteCapability(c.Request.Context(), c.Param("verb"), req.Input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": result, "duration_ms": msSince(start)})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fault.Wrap(fault.KindBadRequest, err, "invalid request body"))
		return
	}

	result, err := s.agent.HandleQuery(c.Request.Context(), req.Query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
