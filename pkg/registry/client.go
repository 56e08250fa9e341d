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

// Client talks to a remote registry over HTTP. Lookup methods swallow
// transport errors and return empty results so consumers holding a
// Directory keep working through registry restarts.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a registry client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Register announces an agent to the registry.
func (c *Client) Register(ctx context.Context, manifest capability.Manifest, endpoint string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"manifest": manifest,
		"endpoint": endpoint,
	})
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encoding registration")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents", bytes.NewReader(payload))
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "building registration request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "registry unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// Unregister removes an agent from the registry.
func (c *Client) Unregister(ctx context.Context, agentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/agents/"+url.PathEscape(agentID), nil)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "building unregister request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "registry unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/agents/"+url.PathEscape(agentID)+"/heartbeat", nil)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "building heartbeat request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "registry unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return nil
}

// List implements the Directory interface over HTTP.
func (c *Client) List() []Registration {
	var out struct {
		Agents []Registration `json:"agents"`
	}
	if err := c.get(context.Background(), "/agents", &out); err != nil {
		return nil
	}
	return out.Agents
}

// FindAgentsForCapability implements the Directory interface over HTTP.
func (c *Client) FindAgentsForCapability(verb string) []Registration {
	var out struct {
		Agents []Registration `json:"agents"`
	}
	path := "/capabilities/" + url.PathEscape(verb) + "/agents"
	if err := c.get(context.Background(), path, &out); err != nil {
		return nil
	}
	return out.Agents
}

// Get fetches one registration.
func (c *Client) Get(agentID string) (Registration, error) {
	var reg Registration
	if err := c.get(context.Background(), "/agents/"+url.PathEscape(agentID), &reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "building registry request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindUpstreamUnavailable, err, "registry unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fault.Wrap(fault.KindInternal, err, "decoding registry response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope fault.Envelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Kind != "" {
		return fault.New(envelope.Error.Kind, "%s", envelope.Error.Message).
			WithDetails(envelope.Error.Details)
	}
	return fault.New(fault.KindUpstreamUnavailable,
		fmt.Sprintf("registry returned status %d", resp.StatusCode))
}
