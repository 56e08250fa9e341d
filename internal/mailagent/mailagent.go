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
package mailagent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/cache"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/monitor"
	"github.com/hearth-labs/hearth/pkg/syncer"
)

// AgentID is the registry identity of the mail agent.
const AgentID = "mail"

const defaultLimit = 10

// Config wires the mail agent's collaborators.
type Config struct {
	Store         *syncer.Store
	Cache         *cache.SemanticCache
	Interpreter   agent.QueryInterpreter
	Monitor       *monitor.Monitor
	MinConfidence float64
	Logger        *zap.Logger
}

// New builds the mail agent with its capabilities registered.
func New(config Config) (*agent.Agent, error) {
	if config.Store == nil {
		return nil, fault.New(fault.KindBadRequest, "mail agent needs a sync store")
	}
	if config.Monitor == nil {
		config.Monitor = monitor.New(monitor.Config{
			SLA: monitor.SLAConfig{ResponseTimeMs: 500, MinSuccessRatePercent: 95},
		})
	}

	a, err := agent.New(agent.Config{
		AgentID:       AgentID,
		DisplayName:   "Mail Agent",
		Description:   "Searches, lists, and counts the user's email from the local mirror",
		Version:       "1.0.0",
		MinConfidence: config.MinConfidence,
		FallbackVerb:  "mail.get_recent",
		DataScopes:    []string{"mail:read"},
		Cache:         config.Cache,
		Interpreter:   config.Interpreter,
		Monitor:       config.Monitor,
		Logger:        config.Logger,
	})
	if err != nil {
		return nil, err
	}

	h := &handlers{store: config.Store}

	if err := a.RegisterCapability(capability.Capability{
		Verb:        "mail.search",
		Description: "Search emails by text across subject, sender, and body",
		InputSchema: capability.NewObjectSchema("search input", map[string]*capability.JSONSchema{
			"q":     capability.NewStringSchema("text to search for"),
			"limit": capability.NewNumberSchema("maximum results to return"),
		}, []string{"q"}),
	}, h.search); err != nil {
		return nil, err
	}

	if err := a.RegisterCapability(capability.Capability{
		Verb:        "mail.get_recent",
		Description: "Fetch the most recent emails",
		InputSchema: capability.NewObjectSchema("recency input", map[string]*capability.JSONSchema{
			"limit": capability.NewNumberSchema("maximum results to return"),
		}, nil),
	}, h.getRecent); err != nil {
		return nil, err
	}

	if err := a.RegisterCapability(capability.Capability{
		Verb:        "mail.count",
		Description: "Count emails in the local mirror",
	}, h.count); err != nil {
		return nil, err
	}

	return a, nil
}

type handlers struct {
	store *syncer.Store
}

func (h *handlers) loadEmails(ctx context.Context, limit int) ([]Email, error) {
	records, err := h.store.GetRecords(ctx, Collection, time.Time{}, limit, 1)
	if err != nil {
		return nil, err
	}
	emails := make([]Email, 0, len(records))
	for _, r := range records {
		var e Email
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			continue
		}
		emails = append(emails, e)
	}
	return emails, nil
}

func (h *handlers) search(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	q, _ := params["q"].(string)
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil, fault.New(fault.KindBadRequest, "search text is required")
	}
	limit := intParam(params, "limit", defaultLimit)

	// Scan the full mirror, then cap the matches
	emails, err := h.loadEmails(ctx, 1000)
	if err != nil {
		return nil, err
	}

	var matches []Email
	for _, e := range emails {
		haystack := strings.ToLower(e.Subject + " " + e.From + " " + e.Body)
		if strings.Contains(haystack, q) {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Date.After(matches[j].Date) })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return map[string]interface{}{
		"query":   q,
		"matches": len(matches),
		"emails":  matches,
	}, nil
}

func (h *handlers) getRecent(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	limit := intParam(params, "limit", defaultLimit)
	emails, err := h.loadEmails(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":  len(emails),
		"emails": emails,
	}, nil
}

func (h *handlers) count(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	n, err := h.store.Count(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"count": n}, nil
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}
