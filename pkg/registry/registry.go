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
// Package registry tracks the agents running on this machine, probes their
// liveness, and answers capability discovery queries for the gateway and
// the coordinator.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
)

// Agent liveness states.
const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
	StatusUnknown     = "unknown"
)

// Probe failure thresholds.
const (
	unhealthyAfterFails   = 3
	unreachableAfterFails = 10
	heartbeatStaleFactor  = 3
)

// DefaultProbeInterval is how often registered agents are probed.
const DefaultProbeInterval = 30 * time.Second

// Prober is the slice of the agent client the registry needs.
type Prober interface {
	Health(ctx context.Context) (map[string]interface{}, error)
	Metrics(ctx context.Context) (map[string]interface{}, error)
}

// Registration is one tracked agent.
type Registration struct {
	Manifest      capability.Manifest `json:"manifest"`
	Endpoint      string              `json:"endpoint"`
	Status        string              `json:"status"`
	RegisteredAt  time.Time           `json:"registered_at"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	LastProbeAt   time.Time           `json:"last_probe_at,omitempty"`
}

type entry struct {
	reg              Registration
	prober           Prober
	consecutiveFails int
}

// Config configures a Registry.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// NewProber builds the client used to probe an endpoint. Defaults to
	// the agent HTTP client.
	NewProber func(endpoint string) Prober
	Logger    *zap.Logger
}

// Registry is the in-memory agent directory with background liveness probing.
type Registry struct {
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Registry with defaults filled in.
func New(config Config) *Registry {
	if config.ProbeInterval == 0 {
		config.ProbeInterval = DefaultProbeInterval
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.NewProber == nil {
		config.NewProber = func(endpoint string) Prober { return agent.NewClient(endpoint) }
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Registry{
		config: config,
		logger: config.Logger,
		agents: make(map[string]*entry),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the background prober.
func (r *Registry) Start(ctx context.Context) error {
	go r.probeLoop(ctx)
	r.logger.Info("registry started", zap.Duration("probe_interval", r.config.ProbeInterval))
	return nil
}

// Stop halts the background prober. Safe to call more than once.
func (r *Registry) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	select {
	case <-r.doneCh:
	case <-ctx.Done():
	}
	return nil
}

// Register adds or replaces an agent. Registration is idempotent for the
// same agent id. Agents declaring egress domains are rejected: everything
// on this platform stays local.
func (r *Registry) Register(manifest capability.Manifest, endpoint string) error {
	if manifest.AgentID == "" {
		return fault.New(fault.KindBadRequest, "manifest agent_id is required")
	}
	if endpoint == "" {
		return fault.New(fault.KindBadRequest, "endpoint is required")
	}
	if len(manifest.EgressDomains) > 0 {
		return fault.New(fault.KindBadRequest,
			fmt.Sprintf("agent %q declares egress domains; network egress is not permitted", manifest.AgentID))
	}
	for _, c := range manifest.Capabilities {
		if !capability.ValidVerb(c.Verb) {
			return fault.New(fault.KindBadRequest, fmt.Sprintf("invalid capability verb %q", c.Verb))
		}
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[manifest.AgentID] = &entry{
		reg: Registration{
			Manifest:      manifest,
			Endpoint:      endpoint,
			Status:        StatusUnknown,
			RegisteredAt:  now,
			LastHeartbeat: now,
		},
		prober: r.config.NewProber(endpoint),
	}
	r.logger.Info("agent registered",
		zap.String("agent_id", manifest.AgentID), zap.String("endpoint", endpoint))
	return nil
}

// Unregister removes an agent.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return fault.New(fault.KindNotFound, fmt.Sprintf("agent %q is not registered", agentID))
	}
	delete(r.agents, agentID)
	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return fault.New(fault.KindNotFound, fmt.Sprintf("agent %q is not registered", agentID))
	}
	e.reg.LastHeartbeat = time.Now()
	return nil
}

// Get returns one registration.
func (r *Registry) Get(agentID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agentID]
	if !ok {
		return Registration{}, fault.New(fault.KindNotFound, fmt.Sprintf("agent %q is not registered", agentID))
	}
	return e.reg, nil
}

// List returns all registrations.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.reg)
	}
	return out
}

// FindAgentsForCapability returns the agents advertising a verb, healthy
// ones first.
func (r *Registry) FindAgentsForCapability(verb string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy, rest []Registration
	for _, e := range r.agents {
		if !e.reg.Manifest.HasVerb(verb) {
			continue
		}
		if e.reg.Status == StatusHealthy {
			healthy = append(healthy, e.reg)
		} else {
			rest = append(rest, e.reg)
		}
	}
	return append(healthy, rest...)
}

// SystemHealth summarizes liveness across all agents.
type SystemHealth struct {
	Status      string         `json:"status"`
	AgentCount  int            `json:"agent_count"`
	ByStatus    map[string]int `json:"by_status"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Health computes the system-wide health summary.
func (r *Registry) Health() SystemHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, e := range r.agents {
		byStatus[e.reg.Status]++
	}

	status := StatusHealthy
	switch {
	case len(r.agents) == 0:
		status = StatusUnknown
	case byStatus[StatusUnreachable] > 0 || byStatus[StatusUnhealthy] > 0:
		status = "degraded"
	case byStatus[StatusUnknown] > 0:
		status = StatusUnknown
	}

	return SystemHealth{
		Status:      status,
		AgentCount:  len(r.agents),
		ByStatus:    byStatus,
		GeneratedAt: time.Now(),
	}
}

// Dashboard fans out to every agent's metrics endpoint concurrently. A
// slow or failing agent contributes an error entry instead of blocking
// the rest.
func (r *Registry) Dashboard(ctx context.Context) map[string]interface{} {
	r.mu.RLock()
	probers := make(map[string]Prober, len(r.agents))
	regs := make(map[string]Registration, len(r.agents))
	for id, e := range r.agents {
		probers[id] = e.prober
		regs[id] = e.reg
	}
	r.mu.RUnlock()

	type result struct {
		id      string
		payload interface{}
	}
	resultCh := make(chan result, len(probers))

	var wg sync.WaitGroup
	for id, p := range probers {
		wg.Add(1)
		go func(id string, p Prober) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
			defer cancel()

			metrics, err := p.Metrics(probeCtx)
			if err != nil {
				resultCh <- result{id: id, payload: map[string]interface{}{"error": err.Error()}}
				return
			}
			resultCh <- result{id: id, payload: metrics}
		}(id, p)
	}
	wg.Wait()
	close(resultCh)

	agents := make(map[string]interface{}, len(probers))
	for res := range resultCh {
		agents[res.id] = map[string]interface{}{
			"status":   regs[res.id].Status,
			"endpoint": regs[res.id].Endpoint,
			"metrics":  res.payload,
		}
	}

	return map[string]interface{}{
		"system":       r.Health(),
		"agents":       agents,
		"generated_at": time.Now(),
	}
}

func (r *Registry) probeLoop(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.config.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.probeAll(ctx, false)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProbeAll probes every registered agent once and updates liveness states,
// regardless of each manifest's declared cadence.
func (r *Registry) ProbeAll(ctx context.Context) {
	r.probeAll(ctx, true)
}

func (r *Registry) probeAll(ctx context.Context, force bool) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.probeOne(ctx, id, force)
		}(id)
	}
	wg.Wait()
}

func (r *Registry) probeOne(ctx context.Context, agentID string, force bool) {
	r.mu.RLock()
	e, ok := r.agents[agentID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	prober := e.prober
	interval := r.effectiveInterval(e.reg.Manifest)
	timeout := r.config.ProbeTimeout
	if s := e.reg.Manifest.HealthCheck.TimeoutSeconds; s > 0 {
		timeout = time.Duration(s) * time.Second
	}
	due := e.reg.LastProbeAt.IsZero() || time.Since(e.reg.LastProbeAt) >= interval
	r.mu.RUnlock()

	// Manifests may declare a probe cadence slower than the registry tick.
	if !force && !due {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := prober.Health(probeCtx)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok = r.agents[agentID]
	if !ok {
		return
	}
	e.reg.LastProbeAt = time.Now()

	if err != nil {
		e.consecutiveFails++
		previous := e.reg.Status
		switch {
		case e.consecutiveFails >= unreachableAfterFails:
			e.reg.Status = StatusUnreachable
		case e.consecutiveFails >= unhealthyAfterFails:
			e.reg.Status = StatusUnhealthy
		}
		if e.reg.Status != previous {
			r.logger.Warn("agent liveness state changed",
				zap.String("agent_id", agentID),
				zap.String("from", previous),
				zap.String("to", e.reg.Status),
				zap.Int("consecutive_fails", e.consecutiveFails))
		}
		return
	}

	e.consecutiveFails = 0
	if stale := time.Since(e.reg.LastHeartbeat); stale > heartbeatStaleFactor*r.effectiveInterval(e.reg.Manifest) {
		e.reg.Status = StatusUnreachable
		return
	}
	if e.reg.Status != StatusHealthy {
		r.logger.Info("agent healthy", zap.String("agent_id", agentID))
	}
	e.reg.Status = StatusHealthy
}

// effectiveInterval is the manifest's declared probe cadence, or the
// registry default when the manifest is silent.
func (r *Registry) effectiveInterval(m capability.Manifest) time.Duration {
	if s := m.HealthCheck.IntervalSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return r.config.ProbeInterval
}
