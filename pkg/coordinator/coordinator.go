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
// Package coordinator runs multi-agent requests through a fixed pipeline:
// a router selects agents, a planner turns the query into concrete calls,
// an executor runs them under policy, and a reviewer summarizes.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/registry"
)

// Pipeline step names, in execution order.
const (
	StepRouter   = "router"
	StepPlanner  = "planner"
	StepExecutor = "executor"
	StepReviewer = "reviewer"
)

// Directory is the slice of the registry the coordinator consumes.
type Directory interface {
	List() []registry.Registration
	FindAgentsForCapability(verb string) []registry.Registration
}

// AgentCaller is the slice of the agent client the executor needs.
type AgentCaller interface {
	Query(ctx context.Context, query string) (*agent.QueryResult, error)
	Call(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error)
}

// StepError is one recorded pipeline failure.
type StepError struct {
	Step    string     `json:"step"`
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// State threads through the pipeline. Each step reads what earlier steps
// wrote into Results and appends itself to ExecutionPath.
type State struct {
	ID            string                 `json:"id"`
	Query         string                 `json:"query"`
	Context       map[string]interface{} `json:"context,omitempty"`
	ExecutionPath []string               `json:"execution_path"`
	Results       map[string]interface{} `json:"results"`
	Errors        []StepError            `json:"errors,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	CompletedAt   time.Time              `json:"completed_at"`
}

// PlannedCall is one executor work item.
type PlannedCall struct {
	AgentID    string                 `json:"agent_id"`
	Endpoint   string                 `json:"endpoint"`
	Verb       string                 `json:"verb,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Query      string                 `json:"query"`
	Confidence float64                `json:"confidence,omitempty"`
}

// CallResult is the executor's record for one planned call.
type CallResult struct {
	AgentID         string      `json:"agent_id"`
	Verb            string      `json:"verb,omitempty"`
	Result          interface{} `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	PolicyRuleID    string      `json:"policy_rule_id,omitempty"`
	PendingApproval bool        `json:"pending_approval,omitempty"`
	DurationMs      float64     `json:"duration_ms"`
}

// Config configures a Coordinator.
type Config struct {
	Directory Directory
	Policy    *PolicyEngine

	// Interpreter, when set, lets the planner resolve queries to concrete
	// verbs per agent. Without it the executor sends natural language.
	Interpreter agent.QueryInterpreter

	// NewCaller builds the client for an agent endpoint. Defaults to the
	// agent HTTP client.
	NewCaller func(endpoint string) AgentCaller

	// CallTimeout bounds each executor call.
	CallTimeout time.Duration

	Logger *zap.Logger
}

// Coordinator owns the router, planner, executor, reviewer pipeline.
type Coordinator struct {
	config Config
	logger *zap.Logger
}

// New creates a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Directory == nil {
		return nil, fault.New(fault.KindBadRequest, "coordinator needs an agent directory")
	}
	if config.Policy == nil {
		config.Policy = NewPolicyEngine(config.Logger)
	}
	if config.NewCaller == nil {
		config.NewCaller = func(endpoint string) AgentCaller { return agent.NewClient(endpoint) }
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Coordinator{config: config, logger: config.Logger}, nil
}

// Policy exposes the policy engine for rule administration.
func (c *Coordinator) Policy() *PolicyEngine { return c.config.Policy }

// Execute runs one query through the full pipeline. Router and planner
// failures abort; executor call failures are collected and reviewed.
func (c *Coordinator) Execute(ctx context.Context, query string, queryContext map[string]interface{}) (*State, error) {
	if query == "" {
		return nil, fault.New(fault.KindBadRequest, "query is required")
	}

	state := &State{
		ID:        uuid.NewString(),
		Query:     query,
		Context:   queryContext,
		Results:   make(map[string]interface{}),
		StartedAt: time.Now(),
	}

	agents, err := c.route(state)
	if err != nil {
		state.fail(StepRouter, err)
		state.CompletedAt = time.Now()
		return state, err
	}

	plan, err := c.plan(ctx, state, agents)
	if err != nil {
		state.fail(StepPlanner, err)
		state.CompletedAt = time.Now()
		return state, err
	}

	c.execute(ctx, state, plan)
	c.review(state)

	state.CompletedAt = time.Now()
	return state, nil
}

func (s *State) fail(step string, err error) {
	s.ExecutionPath = append(s.ExecutionPath, step)
	s.Errors = append(s.Errors, StepError{
		Step:    step,
		Kind:    fault.KindOf(err),
		Message: err.Error(),
	})
}

// route scores registered agents against the query and keeps the relevant
// ones. No relevant agent is a hard failure.
func (c *Coordinator) route(state *State) ([]registry.Registration, error) {
	all := c.config.Directory.List()

	type scored struct {
		reg   registry.Registration
		score int
	}
	var candidates []scored
	words := queryWords(state.Query)
	for _, reg := range all {
		if reg.Status == registry.StatusUnreachable {
			continue
		}
		if score := scoreManifest(reg.Manifest, words); score > 0 {
			candidates = append(candidates, scored{reg: reg, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if len(candidates) == 0 {
		return nil, fault.New(fault.KindNotFound, "no registered agent can serve this query")
	}

	var agents []registry.Registration
	var ids []string
	for _, cand := range candidates {
		agents = append(agents, cand.reg)
		ids = append(ids, cand.reg.Manifest.AgentID)
	}

	state.ExecutionPath = append(state.ExecutionPath, StepRouter)
	state.Results[StepRouter] = map[string]interface{}{"agents": ids}
	return agents, nil
}

// plan resolves the query into one call per routed agent. With an
// interpreter available the call targets a concrete verb; otherwise the
// agent receives the natural language query.
func (c *Coordinator) plan(ctx context.Context, state *State, agents []registry.Registration) ([]PlannedCall, error) {
	var plan []PlannedCall
	for _, reg := range agents {
		call := PlannedCall{
			AgentID:  reg.Manifest.AgentID,
			Endpoint: reg.Endpoint,
			Query:    state.Query,
		}
		if c.config.Interpreter != nil {
			verdict := c.config.Interpreter.Interpret(ctx, state.Query, reg.Manifest.Description, reg.Manifest.Capabilities)
			if verdict.Error == "" && !verdict.Unsupported && verdict.Confidence >= agent.DefaultMinConfidence {
				call.Verb = verdict.Capability
				call.Parameters = verdict.Parameters
				call.Confidence = verdict.Confidence
			}
		}
		plan = append(plan, call)
	}

	if len(plan) == 0 {
		return nil, fault.New(fault.KindInternal, "planner produced no calls")
	}

	state.ExecutionPath = append(state.ExecutionPath, StepPlanner)
	state.Results[StepPlanner] = map[string]interface{}{"calls": plan}
	return plan, nil
}

// execute runs the plan under policy. Individual call failures land in the
// call record and in state.Errors without stopping the remaining calls.
func (c *Coordinator) execute(ctx context.Context, state *State, plan []PlannedCall) {
	results := make([]CallResult, 0, len(plan))
	for _, call := range plan {
		results = append(results, c.executeCall(ctx, state, call))
	}

	state.ExecutionPath = append(state.ExecutionPath, StepExecutor)
	state.Results[StepExecutor] = map[string]interface{}{"calls": results}
}

func (c *Coordinator) executeCall(ctx context.Context, state *State, call PlannedCall) CallResult {
	start := time.Now()
	record := CallResult{AgentID: call.AgentID, Verb: call.Verb}

	decision := c.config.Policy.Evaluate(call.AgentID, call.Verb)
	record.PolicyRuleID = decision.RuleID
	switch decision.Action {
	case ActionDeny:
		err := fault.New(fault.KindForbidden,
			fmt.Sprintf("policy rule %q denies this call", decision.RuleID))
		record.Error = err.Error()
		record.DurationMs = msSince(start)
		state.Errors = append(state.Errors, StepError{Step: StepExecutor, Kind: fault.KindForbidden, Message: err.Error()})
		return record
	case ActionRequireApproval:
		record.PendingApproval = true
		record.DurationMs = msSince(start)
		return record
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	caller := c.config.NewCaller(call.Endpoint)
	var result interface{}
	var err error
	if call.Verb != "" {
		result, err = caller.Call(callCtx, call.Verb, call.Parameters)
	} else {
		var qr *agent.QueryResult
		qr, err = caller.Query(callCtx, call.Query)
		if qr != nil {
			record.Verb = qr.Capability
			result = qr.Result
		}
	}
	record.DurationMs = msSince(start)

	if err != nil {
		record.Error = err.Error()
		state.Errors = append(state.Errors, StepError{
			Step:    StepExecutor,
			Kind:    fault.KindOf(err),
			Message: fmt.Sprintf("%s: %v", call.AgentID, err),
		})
		return record
	}
	record.Result = result
	return record
}

// review summarizes the execution. It never fails.
func (c *Coordinator) review(state *State) {
	var calls []CallResult
	if exec, ok := state.Results[StepExecutor].(map[string]interface{}); ok {
		calls, _ = exec["calls"].([]CallResult)
	}

	succeeded, failed, pending := 0, 0, 0
	for _, call := range calls {
		switch {
		case call.PendingApproval:
			pending++
		case call.Error != "":
			failed++
		default:
			succeeded++
		}
	}

	status := "ok"
	switch {
	case succeeded == 0 && pending == 0:
		status = "failed"
	case failed > 0 || pending > 0:
		status = "partial"
	}

	state.ExecutionPath = append(state.ExecutionPath, StepReviewer)
	state.Results[StepReviewer] = map[string]interface{}{
		"status":           status,
		"calls_succeeded":  succeeded,
		"calls_failed":     failed,
		"pending_approval": pending,
	}
}

func queryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, ".,!?\"'"))
	}
	return out
}

// scoreManifest counts query words that appear in the agent's identity or
// capability surface.
func scoreManifest(manifest capability.Manifest, words []string) int {
	haystack := strings.ToLower(manifest.AgentID + " " + manifest.DisplayName + " " + manifest.Description)
	for _, c := range manifest.Capabilities {
		haystack += " " + strings.ReplaceAll(c.Verb, ".", " ") + " " + strings.ToLower(c.Description)
	}

	score := 0
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if strings.Contains(haystack, w) {
			score++
		}
	}
	return score
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
