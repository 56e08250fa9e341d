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
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/capability"
	"github.com/hearth-labs/hearth/pkg/registry"
)

// DefaultIntentBudget bounds the LLM classification attempt. Past the
// budget classification falls back to keyword matching.
const DefaultIntentBudget = 500 * time.Millisecond

// Intent sources.
const (
	SourceLLM     = "llm"
	SourceKeyword = "keyword"
)

// IntentCoordination marks queries that span agents or match none cleanly.
const IntentCoordination = "coordination"

// Intent is the classification of an incoming query.
type Intent struct {
	Name       string  `json:"name"`
	AgentID    string  `json:"agent_id,omitempty"`
	Verb       string  `json:"verb,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// classifier resolves a query to an intent, preferring the local model and
// degrading to fuzzy keyword matching when the model is slow or down.
type classifier struct {
	interpreter agent.QueryInterpreter
	budget      time.Duration
	logger      *zap.Logger
}

// classify never fails: the keyword fallback always produces an intent.
func (c *classifier) classify(ctx context.Context, query string, regs []registry.Registration) Intent {
	if c.interpreter != nil {
		if intent, ok := c.classifyLLM(ctx, query, regs); ok {
			return intent
		}
	}
	return c.classifyKeyword(query, regs)
}

// classifyLLM interprets against the union of every agent's capabilities.
func (c *classifier) classifyLLM(ctx context.Context, query string, regs []registry.Registration) (Intent, bool) {
	var caps []capability.Capability
	owner := make(map[string]string)
	for _, reg := range regs {
		for _, cap := range reg.Manifest.Capabilities {
			caps = append(caps, cap)
			owner[cap.Verb] = reg.Manifest.AgentID
		}
	}
	if len(caps) == 0 {
		return Intent{}, false
	}

	budgetCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	verdict := c.interpreter.Interpret(budgetCtx, query,
		"a personal assistant routing queries across all local agents", caps)
	if verdict.Error != "" || verdict.Unsupported || verdict.Confidence < 0.5 {
		return Intent{}, false
	}

	agentID := owner[verdict.Capability]
	return Intent{
		Name:       intentName(verdict.Capability),
		AgentID:    agentID,
		Verb:       verdict.Capability,
		Confidence: verdict.Confidence,
		Source:     SourceLLM,
	}, true
}

// classifyKeyword fuzzy-matches query words against each agent's verbs and
// descriptions. Near-tied top scores mean the query spans agents and needs
// coordination.
func (c *classifier) classifyKeyword(query string, regs []registry.Registration) Intent {
	type candidate struct {
		agentID string
		domain  string
		score   int
	}
	var candidates []candidate

	words := strings.Fields(strings.ToLower(query))
	for _, reg := range regs {
		corpus := keywordCorpus(reg.Manifest)
		score := 0
		for _, w := range words {
			w = strings.Trim(w, ".,!?\"'")
			if len(w) < 3 {
				continue
			}
			matches := fuzzy.Find(w, corpus)
			for _, m := range matches {
				score += m.Score + len(w)
			}
		}
		if score > 0 {
			candidates = append(candidates, candidate{
				agentID: reg.Manifest.AgentID,
				domain:  manifestDomain(reg.Manifest),
				score:   score,
			})
		}
	}

	if len(candidates) == 0 {
		return Intent{Name: IntentCoordination, Confidence: 0, Source: SourceKeyword}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0]

	// A close runner-up means the query touches several agents
	if len(candidates) > 1 && candidates[1].score*2 > best.score {
		return Intent{Name: IntentCoordination, Confidence: 0.5, Source: SourceKeyword}
	}

	return Intent{
		Name:       best.domain + "_operation",
		AgentID:    best.agentID,
		Confidence: 0.6,
		Source:     SourceKeyword,
	}
}

func keywordCorpus(manifest capability.Manifest) []string {
	var corpus []string
	corpus = append(corpus, manifest.AgentID, strings.ToLower(manifest.DisplayName))
	corpus = append(corpus, strings.Fields(strings.ToLower(manifest.Description))...)
	for _, cap := range manifest.Capabilities {
		corpus = append(corpus, strings.FieldsFunc(cap.Verb, func(r rune) bool {
			return r == '.' || r == '_'
		})...)
		corpus = append(corpus, strings.Fields(strings.ToLower(cap.Description))...)
	}
	return corpus
}

// intentName maps a verb like "mail.search" to "mail_operation".
func intentName(verb string) string {
	domain, _, found := strings.Cut(verb, ".")
	if !found || domain == "" {
		return IntentCoordination
	}
	return domain + "_operation"
}

func manifestDomain(manifest capability.Manifest) string {
	for _, cap := range manifest.Capabilities {
		if domain, _, found := strings.Cut(cap.Verb, "."); found {
			return domain
		}
	}
	return manifest.AgentID
}
