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
// Package agent is the service base every Hearth agent builds on. It wires
// the semantic cache, the local model interpreter, and the performance
// monitor behind a single HandleQuery flow and a small HTTP surface.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/cache"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/interpreter"
	"github.com/hearth-labs/hearth/pkg/monitor"
)

// DefaultMinConfidence is the interpretation confidence floor below which
// a query falls back or is rejected.
const DefaultMinConfidence = 0.7

// DefaultMaxInFlightDependencyCalls bounds concurrent cross-agent calls.
const DefaultMaxInFlightDependencyCalls = 32

// depQueueDepth is how many dependency calls may wait for a slot before
// further callers are rejected with resource_exhausted.
const depQueueDepth = 8

// QueryInterpreter is the slice of the interpreter the agent needs.
type QueryInterpreter interface {
	Interpret(ctx context.Context, query, agentContext string, capabilities []capability.Capability) interpreter.Interpretation
}

// Dependency is another agent this one may call during handling.
type Dependency struct {
	AgentID string

	// Capabilities restricts which verbs may be called on this dependency.
	// Empty allows any verb the peer advertises.
	Capabilities []string

	Required bool

	// Timeout bounds each call to this dependency. Zero inherits the
	// caller's context deadline.
	Timeout time.Duration

	Caller capability.Caller
}

// Config configures an Agent.
type Config struct {
	AgentID     string
	DisplayName string
	Description string
	Version     string

	// MinConfidence gates execution of interpreted queries. The boundary
	// is inclusive: confidence == MinConfidence executes.
	MinConfidence float64

	// FallbackVerb, when set, names the capability invoked with the
	// original parameters when confidence lands below the floor.
	FallbackVerb string

	// ContextFn supplies the one-paragraph agent description handed to
	// the interpreter. Defaults to returning Description.
	ContextFn func() string

	DataScopes    []string
	ToolAccess    []string
	EgressDomains []string

	// MaxInFlightDependencyCalls bounds concurrent cross-agent calls.
	// Excess calls queue up to a small depth, then reject.
	MaxInFlightDependencyCalls int

	Cache       *cache.SemanticCache
	Interpreter QueryInterpreter
	Monitor     *monitor.Monitor
	Logger      *zap.Logger
}

type registeredCapability struct {
	spec    capability.Capability
	handler capability.Handler
}

type registeredTool struct {
	schema  *capability.JSONSchema
	handler capability.Handler
}

// Agent composes caching, interpretation, and monitoring for one service.
type Agent struct {
	config Config
	logger *zap.Logger

	mu           sync.RWMutex
	capabilities map[string]registeredCapability
	verbOrder    []string
	tools        map[string]registeredTool
	dependencies map[string]Dependency

	depSem    chan struct{}
	depQueued int32

	startedAt time.Time
}

// QueryResult is the outcome of one HandleQuery call.
type QueryResult struct {
	Query        string                 `json:"query"`
	Capability   string                 `json:"capability"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Confidence   float64                `json:"confidence"`
	Result       interface{}            `json:"result"`
	CacheHit     bool                   `json:"cache_hit"`
	CacheTier    string                 `json:"cache_tier,omitempty"`
	FallbackUsed bool                   `json:"fallback_used,omitempty"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	DurationMs   float64                `json:"duration_ms"`
}

// New creates an Agent. Cache and Monitor may be nil for capability-only
// use; HandleQuery requires an Interpreter.
func New(config Config) (*Agent, error) {
	if config.AgentID == "" {
		return nil, fault.New(fault.KindBadRequest, "agent id is required")
	}
	if config.MinConfidence == 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	if config.MaxInFlightDependencyCalls == 0 {
		config.MaxInFlightDependencyCalls = DefaultMaxInFlightDependencyCalls
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Agent{
		config:       config,
		logger:       config.Logger.With(zap.String("agent_id", config.AgentID)),
		capabilities: make(map[string]registeredCapability),
		tools:        make(map[string]registeredTool),
		dependencies: make(map[string]Dependency),
		depSem:       make(chan struct{}, config.MaxInFlightDependencyCalls),
		startedAt:    time.Now(),
	}, nil
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.config.AgentID }

// RegisterCapability adds a capability and its handler. The verb must match
// the domain.action grammar and must not already be registered.
func (a *Agent) RegisterCapability(spec capability.Capability, handler capability.Handler) error {
	if !capability.ValidVerb(spec.Verb) {
		return fault.New(fault.KindBadRequest, fmt.Sprintf("invalid capability verb %q", spec.Verb))
	}
	if handler == nil {
		return fault.New(fault.KindBadRequest, "capability handler is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.capabilities[spec.Verb]; exists {
		return fault.New(fault.KindConflict, fmt.Sprintf("capability %q already registered", spec.Verb))
	}
	a.capabilities[spec.Verb] = registeredCapability{spec: spec, handler: handler}
	a.verbOrder = append(a.verbOrder, spec.Verb)
	a.logger.Info("capability registered", zap.String("verb", spec.Verb))
	return nil
}

// RegisterTool adds an internal helper invocable by capability handlers.
// Tools are not advertised in the manifest.
func (a *Agent) RegisterTool(name string, schema *capability.JSONSchema, handler capability.Handler) error {
	if name == "" {
		return fault.New(fault.KindBadRequest, "tool name is required")
	}
	if handler == nil {
		return fault.New(fault.KindBadRequest, "tool handler is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tools[name]; exists {
		return fault.New(fault.KindConflict, fmt.Sprintf("tool %q already registered", name))
	}
	a.tools[name] = registeredTool{schema: schema, handler: handler}
	return nil
}

// ExecuteTool validates params against the tool schema and invokes it.
func (a *Agent) ExecuteTool(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	a.mu.RLock()
	tool, ok := a.tools[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("unknown tool %q", name))
	}
	if err := capability.ValidateInput(tool.schema, params); err != nil {
		return nil, fault.Wrap(fault.KindBadRequest, err, fmt.Sprintf("invalid parameters for tool %q", name))
	}
	return tool.handler(ctx, params)
}

// RegisterDependency declares another agent this one calls. Re-registering
// the same agent id replaces the previous entry.
func (a *Agent) RegisterDependency(dep Dependency) error {
	if dep.AgentID == "" {
		return fault.New(fault.KindBadRequest, "dependency agent id is required")
	}
	if dep.Caller == nil {
		return fault.New(fault.KindBadRequest, "dependency caller is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dependencies[dep.AgentID] = dep
	return nil
}

// Capabilities returns the registered capability specs in registration order.
func (a *Agent) Capabilities() []capability.Capability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]capability.Capability, 0, len(a.verbOrder))
	for _, verb := range a.verbOrder {
		out = append(out, a.capabilities[verb].spec)
	}
	return out
}

// Manifest builds the advertisement the registry and peers consume.
func (a *Agent) Manifest() capability.Manifest {
	return capability.Manifest{
		AgentID:       a.config.AgentID,
		Version:       a.config.Version,
		DisplayName:   a.config.DisplayName,
		Description:   a.config.Description,
		Capabilities:  a.Capabilities(),
		DataScopes:    a.config.DataScopes,
		ToolAccess:    a.config.ToolAccess,
		EgressDomains: a.config.EgressDomains,
	}
}

// HandleQuery resolves a natural language query to a capability call.
//
// The flow: consult the cache; on a confident hit execute directly. On a
// miss ask the interpreter, fall back or reject below the confidence floor,
// cache confident interpretations, execute, and record the sample.
func (a *Agent) HandleQuery(ctx context.Context, query string) (*QueryResult, error) {
	if query == "" {
		return nil, fault.New(fault.KindBadRequest, "query is required")
	}
	if a.config.Interpreter == nil {
		return nil, fault.New(fault.KindInternal, "no interpreter configured")
	}
	start := time.Now()

	if hit, ok := a.cacheGet(ctx, query); ok && hit.Confidence >= a.config.MinConfidence {
		var verdict interpreter.Interpretation
		if err := json.Unmarshal(hit.Blob, &verdict); err != nil {
			a.logger.Warn("ignoring undecodable cache entry", zap.Error(err))
		} else {
			result, err := a.executeInterpretation(ctx, verdict)
			if err != nil {
				a.record(start, false, verdict.Capability)
				return nil, err
			}
			a.record(start, true, verdict.Capability)
			return &QueryResult{
				Query:      query,
				Capability: verdict.Capability,
				Parameters: verdict.Parameters,
				Confidence: hit.Confidence,
				Result:     result,
				CacheHit:   true,
				CacheTier:  hit.Tier,
				Reasoning:  verdict.Reasoning,
				DurationMs: msSince(start),
			}, nil
		}
	}

	verdict := a.config.Interpreter.Interpret(ctx, query, a.agentContext(), a.Capabilities())
	fallbackUsed := false

	if verdict.Error != "" || verdict.Unsupported || verdict.Confidence < a.config.MinConfidence {
		if a.config.FallbackVerb == "" {
			a.record(start, false, verdict.Capability)
			return nil, fault.New(fault.KindLowConfidence,
				fmt.Sprintf("could not interpret query with sufficient confidence (%.2f)", verdict.Confidence)).
				WithDetails(map[string]interface{}{
					"confidence": verdict.Confidence,
					"capability": verdict.Capability,
					"error":      verdict.Error,
				})
		}
		verdict.Capability = a.config.FallbackVerb
		fallbackUsed = true
	} else {
		a.cacheSet(ctx, query, verdict)
	}

	result, err := a.executeInterpretation(ctx, verdict)
	if err != nil {
		a.record(start, false, verdict.Capability)
		return nil, err
	}
	a.record(start, true, verdict.Capability)

	return &QueryResult{
		Query:        query,
		Capability:   verdict.Capability,
		Parameters:   verdict.Parameters,
		Confidence:   verdict.Confidence,
		Result:       result,
		FallbackUsed: fallbackUsed,
		Reasoning:    verdict.Reasoning,
		DurationMs:   msSince(start),
	}, nil
}

func (a *Agent) executeInterpretation(ctx context.Context, verdict interpreter.Interpretation) (interface{}, error) {
	return a.ExecuteCapability(ctx, verdict.Capability, verdict.Parameters)
}

func (a *Agent) agentContext() string {
	if a.config.ContextFn != nil {
		return a.config.ContextFn()
	}
	return a.config.Description
}

// ExecuteCapability validates params against the capability input schema
// and invokes the handler.
func (a *Agent) ExecuteCapability(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error) {
	a.mu.RLock()
	reg, ok := a.capabilities[verb]
	a.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("unknown capability %q", verb))
	}

	if reg.spec.InputSchema != nil {
		if err := capability.ValidateInput(reg.spec.InputSchema, params); err != nil {
			return nil, fault.Wrap(fault.KindBadRequest, err, fmt.Sprintf("invalid parameters for %q", verb))
		}
	}

	result, err := reg.handler(ctx, params)
	if err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindInternal, err, fmt.Sprintf("capability %q failed", verb))
	}
	return result, nil
}

// CallDependency invokes a verb on a registered peer agent. Failures of
// optional dependencies degrade to a nil result instead of an error.
func (a *Agent) CallDependency(ctx context.Context, agentID, verb string, params map[string]interface{}) (interface{}, error) {
	a.mu.RLock()
	dep, ok := a.dependencies[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil, fault.New(fault.KindNotFound, fmt.Sprintf("unknown dependency %q", agentID))
	}
	if len(dep.Capabilities) > 0 && !contains(dep.Capabilities, verb) {
		return nil, fault.New(fault.KindBadRequest,
			fmt.Sprintf("verb %q is not declared for dependency %q", verb, agentID))
	}

	if err := a.acquireDepSlot(ctx); err != nil {
		return nil, err
	}
	defer func() { <-a.depSem }()

	if dep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dep.Timeout)
		defer cancel()
	}

	result, err := dep.Caller.Call(ctx, verb, params)
	if err != nil {
		if !dep.Required {
			a.logger.Warn("optional dependency call failed",
				zap.String("dependency", agentID), zap.String("verb", verb), zap.Error(err))
			return nil, nil
		}
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err,
			fmt.Sprintf("required dependency %q failed", agentID))
	}
	return result, nil
}

// acquireDepSlot takes an in-flight slot, queueing up to depQueueDepth
// waiters before rejecting.
func (a *Agent) acquireDepSlot(ctx context.Context) error {
	select {
	case a.depSem <- struct{}{}:
		return nil
	default:
	}

	if atomic.AddInt32(&a.depQueued, 1) > depQueueDepth {
		atomic.AddInt32(&a.depQueued, -1)
		return fault.New(fault.KindResourceExhausted, "too many in-flight dependency calls")
	}
	defer atomic.AddInt32(&a.depQueued, -1)

	select {
	case a.depSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fault.Wrap(fault.KindUpstreamTimeout, ctx.Err(), "waiting for a dependency call slot")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CacheRelationship stores an entity relationship edge.
func (a *Agent) CacheRelationship(ctx context.Context, edge cache.RelationshipEdge) error {
	if a.config.Cache == nil {
		return fault.New(fault.KindInternal, "no cache configured")
	}
	return a.config.Cache.CacheRelationship(ctx, edge)
}

// GetRelationships fetches relationship edges for an entity.
func (a *Agent) GetRelationships(ctx context.Context, entityType, entityID, relatedType string) ([]cache.RelationshipEdge, error) {
	if a.config.Cache == nil {
		return nil, fault.New(fault.KindInternal, "no cache configured")
	}
	return a.config.Cache.GetRelationships(ctx, entityType, entityID, relatedType)
}

// InvalidateCache removes cached interpretations matching a query substring.
func (a *Agent) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	if a.config.Cache == nil {
		return 0, nil
	}
	return a.config.Cache.InvalidatePattern(ctx, pattern, a.config.AgentID)
}

func (a *Agent) cacheGet(ctx context.Context, query string) (cache.Hit, bool) {
	if a.config.Cache == nil {
		return cache.Hit{}, false
	}
	return a.config.Cache.Get(ctx, query, a.config.AgentID)
}

func (a *Agent) cacheSet(ctx context.Context, query string, verdict interpreter.Interpretation) {
	if a.config.Cache == nil {
		return
	}
	blob, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := a.config.Cache.Set(ctx, query, a.config.AgentID, blob, verdict.Confidence); err != nil {
		a.logger.Warn("caching interpretation failed", zap.Error(err))
	}
}

func (a *Agent) record(start time.Time, success bool, verb string) {
	if a.config.Monitor == nil {
		return
	}
	a.config.Monitor.RecordOperation(time.Since(start), success, verb)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
