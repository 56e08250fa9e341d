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
// Package gateway is the single entry point for user queries. It classifies
// intent, routes single-agent queries directly and multi-agent ones through
// the coordinator, and streams progress over WebSocket.
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/coordinator"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/registry"
)

// Routes taken by a query.
const (
	RouteDirect      = "direct"
	RouteCoordinator = "coordinator"
)

// Directory is the slice of the registry the gateway consumes.
type Directory interface {
	List() []registry.Registration
	FindAgentsForCapability(verb string) []registry.Registration
	Get(agentID string) (registry.Registration, error)
}

// Executor is the slice of the coordinator the gateway consumes.
type Executor interface {
	Execute(ctx context.Context, query string, queryContext map[string]interface{}) (*coordinator.State, error)
}

// AgentClient is the slice of the agent client the gateway needs.
type AgentClient interface {
	Query(ctx context.Context, query string) (*agent.QueryResult, error)
	Call(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error)
}

// Config configures a Gateway.
type Config struct {
	Directory   Directory
	Coordinator Executor

	// Interpreter backs LLM intent classification. Optional: without it
	// classification is keyword-only.
	Interpreter agent.QueryInterpreter

	// IntentBudget bounds the LLM classification attempt.
	IntentBudget time.Duration

	// NewAgentClient builds the client for a direct agent call. Defaults
	// to the agent HTTP client.
	NewAgentClient func(endpoint string) AgentClient

	QueryTimeout time.Duration
	Logger       *zap.Logger
}

// Gateway routes user queries to agents or the coordinator.
type Gateway struct {
	config     Config
	classifier *classifier
	logger     *zap.Logger
}

// Response is the gateway's answer to one query.
type Response struct {
	Query   string             `json:"query"`
	Intent  Intent             `json:"intent"`
	Route   string             `json:"route"`
	AgentID string             `json:"agent_id,omitempty"`
	Result  *agent.QueryResult `json:"result,omitempty"`
	State   *coordinator.State `json:"state,omitempty"`
}

// New creates a Gateway.
func New(config Config) (*Gateway, error) {
	if config.Directory == nil {
		return nil, fault.New(fault.KindBadRequest, "gateway needs an agent directory")
	}
	if config.Coordinator == nil {
		return nil, fault.New(fault.KindBadRequest, "gateway needs a coordinator")
	}
	if config.IntentBudget == 0 {
		config.IntentBudget = DefaultIntentBudget
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.NewAgentClient == nil {
		config.NewAgentClient = func(endpoint string) AgentClient { return agent.NewClient(endpoint) }
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Gateway{
		config: config,
		classifier: &classifier{
			interpreter: config.Interpreter,
			budget:      config.IntentBudget,
			logger:      config.Logger,
		},
		logger: config.Logger,
	}, nil
}

// Classify exposes intent classification for the streaming surface.
func (g *Gateway) Classify(ctx context.Context, query string) Intent {
	return g.classifier.classify(ctx, query, g.config.Directory.List())
}

// HandleQuery classifies a query and executes it over the chosen route.
// queryContext is optional conversation context carried through to the
// coordinator.
func (g *Gateway) HandleQuery(ctx context.Context, query string, queryContext map[string]interface{}) (*Response, error) {
	if query == "" {
		return nil, fault.New(fault.KindBadRequest, "query is required")
	}

	intent := g.Classify(ctx, query)
	g.logger.Debug("query classified",
		zap.String("intent", intent.Name),
		zap.String("agent_id", intent.AgentID),
		zap.String("source", intent.Source))

	return g.handleClassified(ctx, query, queryContext, intent)
}

// handleClassified routes a query whose intent is already known. The
// streaming surface classifies up front for its intent frame and reuses
// the verdict here rather than paying a second model round trip.
func (g *Gateway) handleClassified(ctx context.Context, query string, queryContext map[string]interface{}, intent Intent) (*Response, error) {
	if intent.AgentID == "" || intent.Name == IntentCoordination {
		return g.routeCoordinator(ctx, query, queryContext, intent)
	}
	return g.routeDirect(ctx, query, queryContext, intent)
}

func (g *Gateway) routeDirect(ctx context.Context, query string, queryContext map[string]interface{}, intent Intent) (*Response, error) {
	reg, err := g.config.Directory.Get(intent.AgentID)
	if err != nil {
		// The classified agent vanished between classification and
		// dispatch; the coordinator can still try.
		return g.routeCoordinator(ctx, query, queryContext, intent)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.QueryTimeout)
	defer cancel()

	result, err := g.config.NewAgentClient(reg.Endpoint).Query(callCtx, query)
	if err != nil {
		return nil, err
	}
	return &Response{
		Query:   query,
		Intent:  intent,
		Route:   RouteDirect,
		AgentID: intent.AgentID,
		Result:  result,
	}, nil
}

func (g *Gateway) routeCoordinator(ctx context.Context, query string, queryContext map[string]interface{}, intent Intent) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.config.QueryTimeout)
	defer cancel()

	execContext := make(map[string]interface{}, len(queryContext)+1)
	for k, v := range queryContext {
		execContext[k] = v
	}
	execContext["intent"] = intent.Name

	state, err := g.config.Coordinator.Execute(callCtx, query, execContext)
	if err != nil {
		return nil, err
	}
	return &Response{
		Query:  query,
		Intent: intent,
		Route:  RouteCoordinator,
		State:  state,
	}, nil
}

// Capabilities returns the union of every registered agent's capabilities,
// annotated with the owning agent.
func (g *Gateway) Capabilities() []map[string]interface{} {
	var out []map[string]interface{}
	for _, reg := range g.config.Directory.List() {
		for _, cap := range reg.Manifest.Capabilities {
			out = append(out, map[string]interface{}{
				"agent_id":   reg.Manifest.AgentID,
				"verb":       cap.Verb,
				"description": cap.Description,
			})
		}
	}
	return out
}

// Agents lists registrations for the gateway's status surface.
func (g *Gateway) Agents() []registry.Registration {
	return g.config.Directory.List()
}

// CallAgent invokes a specific verb on a specific agent.
func (g *Gateway) CallAgent(ctx context.Context, agentID, verb string, params map[string]interface{}) (interface{}, error) {
	if !capability.ValidVerb(verb) {
		return nil, fault.New(fault.KindBadRequest, fmt.Sprintf("invalid capability verb %q", verb))
	}
	reg, err := g.config.Directory.Get(agentID)
	if err != nil {
		return nil, err
	}
	if !reg.Manifest.HasVerb(verb) {
		return nil, fault.New(fault.KindNotFound,
			fmt.Sprintf("agent %q does not advertise %q", agentID, verb))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.QueryTimeout)
	defer cancel()
	return g.config.NewAgentClient(reg.Endpoint).Call(callCtx, verb, params)
}
