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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/registry"
)

var fullPath = []string{StepRouter, StepPlanner, StepExecutor, StepReviewer}

// fakeDirectory serves a static registration list.
type fakeDirectory struct {
	regs []registry.Registration
}

func (d *fakeDirectory) List() []registry.Registration { return d.regs }
func (d *fakeDirectory) FindAgentsForCapability(verb string) []registry.Registration {
	var out []registry.Registration
	for _, r := range d.regs {
		if r.Manifest.HasVerb(verb) {
			out = append(out, r)
		}
	}
	return out
}

// fakeCaller answers queries with a fixed result per endpoint.
type fakeCaller struct {
	queryResult *agent.QueryResult
	callResult  interface{}
	err         error
	queries     []string
	verbs       []string
}

func (f *fakeCaller) Query(ctx context.Context, query string) (*agent.QueryResult, error) {
	f.queries = append(f.queries, query)
	return f.queryResult, f.err
}

func (f *fakeCaller) Call(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error) {
	f.verbs = append(f.verbs, verb)
	return f.callResult, f.err
}

func mailReg() registry.Registration {
	return registry.Registration{
		Manifest: capability.Manifest{
			AgentID:     "mail",
			DisplayName: "Mail Agent",
			Description: "Searches and reads email",
			Capabilities: []capability.Capability{
				{Verb: "mail.search", Description: "Search emails"},
			},
		},
		Endpoint: "http://localhost:9101",
		Status:   registry.StatusHealthy,
	}
}

func calendarReg() registry.Registration {
	return registry.Registration{
		Manifest: capability.Manifest{
			AgentID:     "calendar",
			DisplayName: "Calendar Agent",
			Description: "Reads calendar events",
			Capabilities: []capability.Capability{
				{Verb: "calendar.get_events", Description: "List calendar events"},
			},
		},
		Endpoint: "http://localhost:9102",
		Status:   registry.StatusHealthy,
	}
}

func newTestCoordinator(t *testing.T, dir Directory, callers map[string]*fakeCaller) *Coordinator {
	t.Helper()
	c, err := New(Config{
		Directory: dir,
		Logger:    zaptest.NewLogger(t),
		NewCaller: func(endpoint string) AgentCaller {
			if fc, ok := callers[endpoint]; ok {
				return fc
			}
			return &fakeCaller{err: errors.New("no such endpoint")}
		},
	})
	require.NoError(t, err)
	return c
}

func TestExecute_FullPipeline(t *testing.T) {
	caller := &fakeCaller{queryResult: &agent.QueryResult{
		Capability: "mail.search",
		Result:     map[string]interface{}{"matches": 3},
	}}
	c := newTestCoordinator(t,
		&fakeDirectory{regs: []registry.Registration{mailReg(), calendarReg()}},
		map[string]*fakeCaller{"http://localhost:9101": caller})

	state, err := c.Execute(context.Background(), "search my email for invoices", nil)
	require.NoError(t, err)
	assert.Equal(t, fullPath, state.ExecutionPath)
	assert.Empty(t, state.Errors)

	// only the mail agent was routed
	router := state.Results[StepRouter].(map[string]interface{})
	assert.Equal(t, []string{"mail"}, router["agents"])
	require.Len(t, caller.queries, 1)

	review := state.Results[StepReviewer].(map[string]interface{})
	assert.Equal(t, "ok", review["status"])
	assert.Equal(t, 1, review["calls_succeeded"])
}

func TestExecute_NoMatchingAgentAbortsAtRouter(t *testing.T) {
	c := newTestCoordinator(t, &fakeDirectory{}, nil)

	state, err := c.Execute(context.Background(), "search my email", nil)
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
	assert.Equal(t, []string{StepRouter}, state.ExecutionPath)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, StepRouter, state.Errors[0].Step)
}

func TestExecute_CallFailureIsCollectedNotFatal(t *testing.T) {
	failing := &fakeCaller{err: errors.New("agent crashed")}
	c := newTestCoordinator(t,
		&fakeDirectory{regs: []registry.Registration{mailReg()}},
		map[string]*fakeCaller{"http://localhost:9101": failing})

	state, err := c.Execute(context.Background(), "search my email", nil)
	require.NoError(t, err)
	assert.Equal(t, fullPath, state.ExecutionPath)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, StepExecutor, state.Errors[0].Step)

	review := state.Results[StepReviewer].(map[string]interface{})
	assert.Equal(t, "failed", review["status"])
}

func TestExecute_PolicyDeny(t *testing.T) {
	caller := &fakeCaller{queryResult: &agent.QueryResult{Capability: "mail.search"}}
	c := newTestCoordinator(t,
		&fakeDirectory{regs: []registry.Registration{mailReg()}},
		map[string]*fakeCaller{"http://localhost:9101": caller})

	require.NoError(t, c.Policy().AddRule(Rule{
		ID: "deny-mail", Priority: 10, AgentID: "mail", Action: ActionDeny,
	}))

	state, err := c.Execute(context.Background(), "search my email", nil)
	require.NoError(t, err)
	assert.Empty(t, caller.queries, "denied call must not reach the agent")
	require.Len(t, state.Errors, 1)
	assert.Equal(t, fault.KindForbidden, state.Errors[0].Kind)
}

func TestExecute_PolicyRequireApproval(t *testing.T) {
	caller := &fakeCaller{queryResult: &agent.QueryResult{Capability: "mail.search"}}
	c := newTestCoordinator(t,
		&fakeDirectory{regs: []registry.Registration{mailReg()}},
		map[string]*fakeCaller{"http://localhost:9101": caller})

	require.NoError(t, c.Policy().AddRule(Rule{
		ID: "approve-mail", Priority: 10, Capability: "mail.*", AgentID: "mail", Action: ActionRequireApproval,
	}))
	// the natural-language call carries no verb, so match on agent only
	require.NoError(t, c.Policy().AddRule(Rule{
		ID: "approve-mail-agent", Priority: 5, AgentID: "mail", Action: ActionRequireApproval,
	}))

	state, err := c.Execute(context.Background(), "search my email", nil)
	require.NoError(t, err)
	assert.Empty(t, caller.queries)

	review := state.Results[StepReviewer].(map[string]interface{})
	assert.Equal(t, 1, review["pending_approval"])
	assert.Equal(t, "partial", review["status"])
}

func TestExecute_UnreachableAgentsSkippedByRouter(t *testing.T) {
	down := mailReg()
	down.Status = registry.StatusUnreachable
	c := newTestCoordinator(t, &fakeDirectory{regs: []registry.Registration{down}}, nil)

	_, err := c.Execute(context.Background(), "search my email", nil)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}
