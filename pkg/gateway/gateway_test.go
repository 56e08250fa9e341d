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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/coordinator"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/interpreter"
	"github.com/hearth-labs/hearth/pkg/registry"
)

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

func (d *fakeDirectory) Get(agentID string) (registry.Registration, error) {
	for _, r := range d.regs {
		if r.Manifest.AgentID == agentID {
			return r, nil
		}
	}
	return registry.Registration{}, fault.New(fault.KindNotFound, "agent %q is not registered", agentID)
}

// fakeExecutor records coordinator invocations.
type fakeExecutor struct {
	state    *coordinator.State
	queries  []string
	contexts []map[string]interface{}
}

func (f *fakeExecutor) Execute(ctx context.Context, query string, queryContext map[string]interface{}) (*coordinator.State, error) {
	f.queries = append(f.queries, query)
	f.contexts = append(f.contexts, queryContext)
	if f.state != nil {
		return f.state, nil
	}
	return &coordinator.State{Query: query, Results: map[string]interface{}{}}, nil
}

// fakeAgentClient answers direct calls.
type fakeAgentClient struct {
	queries []string
}

func (f *fakeAgentClient) Query(ctx context.Context, query string) (*agent.QueryResult, error) {
	f.queries = append(f.queries, query)
	return &agent.QueryResult{Query: query, Capability: "mail.search", Confidence: 0.9}, nil
}

func (f *fakeAgentClient) Call(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"verb": verb}, nil
}

// slowInterpreter blocks past the intent budget.
type slowInterpreter struct{}

func (s *slowInterpreter) Interpret(ctx context.Context, query, agentContext string, caps []capability.Capability) interpreter.Interpretation {
	select {
	case <-ctx.Done():
		return interpreter.Interpretation{Capability: interpreter.CapabilityUnparseable, Error: "llm_timeout"}
	case <-time.After(5 * time.Second):
		return interpreter.Interpretation{}
	}
}

func mailReg() registry.Registration {
	return registry.Registration{
		Manifest: capability.Manifest{
			AgentID:     "mail",
			DisplayName: "Mail Agent",
			Description: "searches and reads email",
			Capabilities: []capability.Capability{
				{Verb: "mail.search", Description: "search emails by text"},
				{Verb: "mail.get_recent", Description: "fetch recent emails"},
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
			Description: "reads calendar events and schedules",
			Capabilities: []capability.Capability{
				{Verb: "calendar.get_events", Description: "list calendar events"},
			},
		},
		Endpoint: "http://localhost:9102",
		Status:   registry.StatusHealthy,
	}
}

func newTestGateway(t *testing.T, interp agent.QueryInterpreter, exec Executor, client *fakeAgentClient) *Gateway {
	t.Helper()
	g, err := New(Config{
		Directory:    &fakeDirectory{regs: []registry.Registration{mailReg(), calendarReg()}},
		Coordinator:  exec,
		Interpreter:  interp,
		IntentBudget: 100 * time.Millisecond,
		Logger:       zaptest.NewLogger(t),
		NewAgentClient: func(endpoint string) AgentClient {
			return client
		},
	})
	require.NoError(t, err)
	return g
}

func TestClassify_KeywordFallbackMailIntent(t *testing.T) {
	g := newTestGateway(t, nil, &fakeExecutor{}, &fakeAgentClient{})

	intent := g.Classify(context.Background(), "check my email")
	assert.Equal(t, "mail_operation", intent.Name)
	assert.Equal(t, "mail", intent.AgentID)
	assert.Equal(t, SourceKeyword, intent.Source)
}

func TestClassify_SlowModelFallsBackWithinBudget(t *testing.T) {
	g := newTestGateway(t, &slowInterpreter{}, &fakeExecutor{}, &fakeAgentClient{})

	start := time.Now()
	intent := g.Classify(context.Background(), "check my email")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, SourceKeyword, intent.Source)
	assert.Equal(t, "mail_operation", intent.Name)
}

func TestHandleQuery_DirectRoute(t *testing.T) {
	client := &fakeAgentClient{}
	exec := &fakeExecutor{}
	g := newTestGateway(t, nil, exec, client)

	response, err := g.HandleQuery(context.Background(), "check my email", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteDirect, response.Route)
	assert.Equal(t, "mail", response.AgentID)
	require.Len(t, client.queries, 1)
	assert.Empty(t, exec.queries)
}

func TestHandleQuery_CoordinationRoute(t *testing.T) {
	client := &fakeAgentClient{}
	exec := &fakeExecutor{}
	g := newTestGateway(t, nil, exec, client)

	// touches both mail and calendar vocabulary
	response, err := g.HandleQuery(context.Background(), "summarize my email and calendar events", nil)
	require.NoError(t, err)
	assert.Equal(t, RouteCoordinator, response.Route)
	assert.NotEmpty(t, exec.queries)
	assert.Empty(t, client.queries)
}

func TestHandleQuery_ForwardsQueryContext(t *testing.T) {
	exec := &fakeExecutor{}
	g := newTestGateway(t, nil, exec, &fakeAgentClient{})

	_, err := g.HandleQuery(context.Background(), "summarize my email and calendar events",
		map[string]interface{}{"thread": "t-1"})
	require.NoError(t, err)

	require.Len(t, exec.contexts, 1)
	assert.Equal(t, "t-1", exec.contexts[0]["thread"])
	assert.Equal(t, IntentCoordination, exec.contexts[0]["intent"])
}

func TestHandleQueryHTTP_BindsContext(t *testing.T) {
	exec := &fakeExecutor{}
	g := newTestGateway(t, nil, exec, &fakeAgentClient{})
	srv := httptest.NewServer(NewServer(g, 0).Handler())
	t.Cleanup(srv.Close)

	body := `{"query": "summarize my email and calendar events", "context": {"thread": "t-1"}}`
	resp, err := http.Post(srv.URL+"/query", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, exec.contexts, 1)
	assert.Equal(t, "t-1", exec.contexts[0]["thread"])
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	g := newTestGateway(t, nil, &fakeExecutor{}, &fakeAgentClient{})
	_, err := g.HandleQuery(context.Background(), "", nil)
	assert.Equal(t, fault.KindBadRequest, fault.KindOf(err))
}

func TestCapabilities_Union(t *testing.T) {
	g := newTestGateway(t, nil, &fakeExecutor{}, &fakeAgentClient{})

	caps := g.Capabilities()
	require.Len(t, caps, 3)

	verbs := make([]string, 0, len(caps))
	for _, c := range caps {
		verbs = append(verbs, c["verb"].(string))
	}
	assert.Contains(t, strings.Join(verbs, " "), "mail.search")
	assert.Contains(t, strings.Join(verbs, " "), "calendar.get_events")
}

func TestCallAgent_Validation(t *testing.T) {
	g := newTestGateway(t, nil, &fakeExecutor{}, &fakeAgentClient{})
	ctx := context.Background()

	_, err := g.CallAgent(ctx, "mail", "NotAVerb", nil)
	assert.Equal(t, fault.KindBadRequest, fault.KindOf(err))

	_, err = g.CallAgent(ctx, "missing", "mail.search", nil)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	_, err = g.CallAgent(ctx, "calendar", "mail.search", nil)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))

	result, err := g.CallAgent(ctx, "mail", "mail.search", map[string]interface{}{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"verb": "mail.search"}, result)
}
