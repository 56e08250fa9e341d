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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
)

// fakeProber is a controllable liveness endpoint.
type fakeProber struct {
	mu      sync.Mutex
	healthy bool
	metrics map[string]interface{}
}

func (f *fakeProber) setHealthy(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = ok
}

func (f *fakeProber) Health(ctx context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return nil, errors.New("connection refused")
	}
	return map[string]interface{}{"status": "healthy"}, nil
}

func (f *fakeProber) Metrics(ctx context.Context) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return nil, errors.New("connection refused")
	}
	return f.metrics, nil
}

func mailManifest() capability.Manifest {
	return capability.Manifest{
		AgentID: "mail",
		Capabilities: []capability.Capability{
			{Verb: "mail.search"},
			{Verb: "mail.get_recent"},
		},
	}
}

func newTestRegistry(t *testing.T, probers map[string]*fakeProber) *Registry {
	t.Helper()
	return New(Config{
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  100 * time.Millisecond,
		Logger:        zaptest.NewLogger(t),
		NewProber: func(endpoint string) Prober {
			if p, ok := probers[endpoint]; ok {
				return p
			}
			return &fakeProber{}
		},
	})
}

func TestStartStop_StopIsIdempotent(t *testing.T) {
	r := newTestRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Stop(ctx))
	// a second stop is a no-op, not a panic
	require.NoError(t, r.Stop(ctx))
}

func TestRegister_Validation(t *testing.T) {
	r := newTestRegistry(t, nil)

	err := r.Register(capability.Manifest{}, "http://localhost:9101")
	assert.Equal(t, fault.KindBadRequest, fault.KindOf(err))

	m := mailManifest()
	m.EgressDomains = []string{"api.example.com"}
	err = r.Register(m, "http://localhost:9101")
	assert.Equal(t, fault.KindBadRequest, fault.KindOf(err))

	m = mailManifest()
	m.Capabilities = append(m.Capabilities, capability.Capability{Verb: "BadVerb"})
	err = r.Register(m, "http://localhost:9101")
	assert.Equal(t, fault.KindBadRequest, fault.KindOf(err))

	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))
}

func TestRegister_UnregisterRegisterIdempotent(t *testing.T) {
	r := newTestRegistry(t, nil)

	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))
	require.NoError(t, r.Unregister("mail"))
	assert.Equal(t, fault.KindNotFound, fault.KindOf(r.Unregister("mail")))
	require.NoError(t, r.Register(mailManifest(), "http://localhost:9102"))

	reg, err := r.Get("mail")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9102", reg.Endpoint)
	assert.Equal(t, StatusUnknown, reg.Status)
}

func TestProbe_StateTransitions(t *testing.T) {
	prober := &fakeProber{healthy: true}
	r := newTestRegistry(t, map[string]*fakeProber{"http://localhost:9101": prober})
	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))
	ctx := context.Background()

	// one success promotes to healthy
	r.ProbeAll(ctx)
	reg, _ := r.Get("mail")
	assert.Equal(t, StatusHealthy, reg.Status)

	// two failures are not enough to demote
	prober.setHealthy(false)
	r.ProbeAll(ctx)
	r.ProbeAll(ctx)
	reg, _ = r.Get("mail")
	assert.Equal(t, StatusHealthy, reg.Status)

	// the third consecutive failure does
	r.ProbeAll(ctx)
	reg, _ = r.Get("mail")
	assert.Equal(t, StatusUnhealthy, reg.Status)

	// ten consecutive failures mean unreachable
	for i := 0; i < 7; i++ {
		r.ProbeAll(ctx)
	}
	reg, _ = r.Get("mail")
	assert.Equal(t, StatusUnreachable, reg.Status)

	// a single success restores healthy
	prober.setHealthy(true)
	require.NoError(t, r.Heartbeat("mail"))
	r.ProbeAll(ctx)
	reg, _ = r.Get("mail")
	assert.Equal(t, StatusHealthy, reg.Status)
}

func TestProbe_StaleHeartbeatMarksUnreachable(t *testing.T) {
	prober := &fakeProber{healthy: true}
	r := newTestRegistry(t, map[string]*fakeProber{"http://localhost:9101": prober})
	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))

	// age the heartbeat past 3x the probe interval
	r.mu.Lock()
	r.agents["mail"].reg.LastHeartbeat = time.Now().Add(-time.Second)
	r.mu.Unlock()

	r.ProbeAll(context.Background())
	reg, _ := r.Get("mail")
	assert.Equal(t, StatusUnreachable, reg.Status)
}

func TestFindAgentsForCapability(t *testing.T) {
	r := newTestRegistry(t, nil)
	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))
	require.NoError(t, r.Register(capability.Manifest{
		AgentID:      "calendar",
		Capabilities: []capability.Capability{{Verb: "calendar.get_events"}},
	}, "http://localhost:9102"))

	agents := r.FindAgentsForCapability("mail.search")
	require.Len(t, agents, 1)
	assert.Equal(t, "mail", agents[0].Manifest.AgentID)

	assert.Empty(t, r.FindAgentsForCapability("notes.search"))
}

func TestDashboard_ToleratesFailingAgents(t *testing.T) {
	good := &fakeProber{healthy: true, metrics: map[string]interface{}{"agent_id": "mail"}}
	bad := &fakeProber{healthy: false}
	r := newTestRegistry(t, map[string]*fakeProber{
		"http://localhost:9101": good,
		"http://localhost:9102": bad,
	})
	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))
	require.NoError(t, r.Register(capability.Manifest{
		AgentID:      "calendar",
		Capabilities: []capability.Capability{{Verb: "calendar.get_events"}},
	}, "http://localhost:9102"))

	dashboard := r.Dashboard(context.Background())
	agents, ok := dashboard["agents"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, agents, 2)

	mailEntry := agents["mail"].(map[string]interface{})
	assert.NotNil(t, mailEntry["metrics"])

	calEntry := agents["calendar"].(map[string]interface{})
	metrics := calEntry["metrics"].(map[string]interface{})
	assert.Contains(t, metrics["error"], "connection refused")
}

func TestSystemHealth(t *testing.T) {
	prober := &fakeProber{healthy: true}
	r := newTestRegistry(t, map[string]*fakeProber{"http://localhost:9101": prober})

	assert.Equal(t, StatusUnknown, r.Health().Status)

	require.NoError(t, r.Register(mailManifest(), "http://localhost:9101"))
	r.ProbeAll(context.Background())
	health := r.Health()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, 1, health.AgentCount)
	assert.Equal(t, 1, health.ByStatus[StatusHealthy])
}

func TestHTTP_RegisterAndDiscover(t *testing.T) {
	r := newTestRegistry(t, nil)
	srv := httptest.NewServer(NewServer(r, 0).Handler())
	t.Cleanup(srv.Close)

	body := `{"manifest":{"agent_id":"mail","capabilities":[{"verb":"mail.search"}]},"endpoint":"http://localhost:9101"}`
	resp, err := http.Post(srv.URL+"/agents", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/capabilities/mail.search/agents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/agents/mail", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/agents/mail")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_RegisterRejectsEgress(t *testing.T) {
	r := newTestRegistry(t, nil)
	srv := httptest.NewServer(NewServer(r, 0).Handler())
	t.Cleanup(srv.Close)

	body := `{"manifest":{"agent_id":"mail","egress_domains":["api.example.com"]},"endpoint":"http://localhost:9101"}`
	resp, err := http.Post(srv.URL+"/agents", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
