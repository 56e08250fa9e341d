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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
)

// DefaultClientTimeout bounds remote agent calls.
const DefaultClientTimeout = 10 * time.Second

// Client calls a remote agent's HTTP surface. It implements
// capability.Caller so it can be registered as a dependency.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ capability.Caller = (*Client)(nil)

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

// Manifest fetches the remote agent's manifest.
func (c *Client) Manifest(ctx context.Context) (capability.Manifest, error) {
	var manifest capability.Manifest
	if err := c.get(ctx, "/manifest", &manifest); err != nil {
		return capability.Manifest{}, err
	}
	return manifest, nil
}

// Call invokes a capability verb with the given parameters.
func (c *Client) Call(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error) {
	var out struct {
		Output interface{} `json:"output"`
	}
	path := "/capabilities/" + url.PathEscape(verb)
	if err := c.post(ctx, path, map[string]interface{}{"input": params}, &out); err != nil {
		return nil, err
	}
	return out.Output, nil
}

// Query sends a natural language query to the remote agent.
func (c *Client) Query(ctx context.Context, query string) (*QueryResult, error) {
	var result QueryResult
	if err := c.post(ctx, "/query", map[string]interface{}{"query": query}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Metrics fetches the remote agent's performance dashboard and cache stats.
func (c *Client) Metrics(ctx context.Context) (map[string]interface{}, error) {
	var metrics map[string]interface{}
	if err := c.get(ctx, "/metrics", &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// Health probes the remote agent's health endpoint.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var health map[string]interface{}
	if err := c.get(ctx, "/health", &health); err != nil {
		return nil, err
	}
	return health, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "building request")
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() == context.DeadlineExceeded {
			return fault.Wrap(fault.KindUpstreamTimeout, err, "agent call timed out")
		}
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "agent unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "reading agent response")
	}

	if resp.StatusCode >= 400 {
		var envelope fault.Envelope
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Kind != "" {
			return fault.New(envelope.Error.Kind, "%s", envelope.Error.Message).
				WithDetails(envelope.Error.Details)
		}
		return fault.New(fault.KindUpstreamUnavailable,
			fmt.Sprintf("agent returned status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fault.Wrap(fault.KindInternal, err, "decoding agent response")
	}
	return nil
}
