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
// Package capability defines the capability model shared by agents, the
// registry, the coordinator, and the gateway. A capability is a named,
// schema-described operation of the form "domain.action".
package capability

import (
	"context"
	"regexp"
)

// verbPattern is the required shape of a capability verb, e.g. "mail.search".
var verbPattern = regexp.MustCompile(`^[a-z]+\.[a-z_]+$`)

// ValidVerb reports whether verb has the form "domain.action".
func ValidVerb(verb string) bool {
	return verbPattern.MatchString(verb)
}

// Handler executes a capability with structured parameters.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Capability is a named, schema-described operation exposed by an agent.
type Capability struct {
	Verb              string      `json:"verb"`
	Description       string      `json:"description"`
	InputSchema       *JSONSchema `json:"input_schema,omitempty"`
	OutputSchema      *JSONSchema `json:"output_schema,omitempty"`
	SafetyAnnotations []string    `json:"safety_annotations,omitempty"`
}

// HealthCheck describes how the registry probes an agent.
type HealthCheck struct {
	Endpoint        string `json:"endpoint"`
	IntervalSeconds int    `json:"interval_seconds"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Manifest is an agent's self-description advertised to the registry.
type Manifest struct {
	AgentID       string       `json:"agent_id"`
	Version       string       `json:"version"`
	DisplayName   string       `json:"display_name"`
	Description   string       `json:"description"`
	Capabilities  []Capability `json:"capabilities"`
	DataScopes    []string     `json:"data_scopes,omitempty"`
	ToolAccess    []string     `json:"tool_access,omitempty"`
	EgressDomains []string     `json:"egress_domains,omitempty"`
	HealthCheck   HealthCheck  `json:"health_check"`
}

// HasVerb reports whether the manifest advertises the given verb.
func (m *Manifest) HasVerb(verb string) bool {
	for _, c := range m.Capabilities {
		if c.Verb == verb {
			return true
		}
	}
	return false
}

// Verbs returns the advertised capability verbs in manifest order.
func (m *Manifest) Verbs() []string {
	verbs := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		verbs[i] = c.Verb
	}
	return verbs
}

// Caller is an agent handle the registry hands out. It hides transport
// details: callers invoke capabilities by verb and read the manifest,
// never touching URLs directly.
type Caller interface {
	// Manifest returns the agent's manifest.
	Manifest(ctx context.Context) (Manifest, error)

	// Call invokes a capability on the agent. The deadline on ctx bounds
	// the whole call.
	Call(ctx context.Context, verb string, params map[string]interface{}) (interface{}, error)
}
