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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Client executes queries against a remote coordinator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a coordinator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Execute runs a query through the remote pipeline. On a pipeline abort the
// partial state comes back alongside the error.
func (c *Client) Execute(ctx context.Context, query string, queryContext map[string]interface{}) (*State, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query":   query,
		"context": queryContext,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "encoding execute request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "building execute request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, fault.Wrap(fault.KindUpstreamTimeout, err, "coordinator call timed out")
		}
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "coordinator unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "reading coordinator response")
	}

	if resp.StatusCode >= 400 {
		var failure struct {
			Error fault.EnvelopeBody `json:"error"`
			State *State             `json:"state"`
		}
		if json.Unmarshal(body, &failure) == nil && failure.Error.Kind != "" {
			return failure.State, fault.New(failure.Error.Kind, "%s", failure.Error.Message).
				WithDetails(failure.Error.Details)
		}
		return nil, fault.New(fault.KindUpstreamUnavailable,
			fmt.Sprintf("coordinator returned status %d", resp.StatusCode))
	}

	var state State
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decoding coordinator response")
	}
	return &state, nil
}
