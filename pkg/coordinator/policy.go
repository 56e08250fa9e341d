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
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hearth-labs/hearth/pkg/fault"
)

// Action is a policy verdict.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// Rule is one policy entry. Capability matches an exact verb, a "domain.*"
// wildcard, or everything when empty. AgentID matches exactly or everything
// when empty.
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    int    `yaml:"priority" json:"priority"`
	AgentID     string `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	Capability  string `yaml:"capability,omitempty" json:"capability,omitempty"`
	Action      Action `yaml:"action" json:"action"`
	Disabled    bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	seq int
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Action Action `json:"action"`
	RuleID string `json:"rule_id,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// PolicyEngine evaluates capability calls against an ordered rule set.
// With no matching rule the default is allow: policies narrow, they do
// not grant.
type PolicyEngine struct {
	logger *zap.Logger

	mu    sync.RWMutex
	rules map[string]*Rule
	seq   int

	watcher *fsnotify.Watcher
}

// NewPolicyEngine creates an empty engine.
func NewPolicyEngine(logger *zap.Logger) *PolicyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyEngine{
		logger: logger,
		rules:  make(map[string]*Rule),
	}
}

// AddRule validates and inserts a rule. Duplicate ids conflict.
func (p *PolicyEngine) AddRule(rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.rules[rule.ID]; exists {
		return fault.New(fault.KindConflict, fmt.Sprintf("policy rule %q already exists", rule.ID))
	}
	p.seq++
	rule.seq = p.seq
	p.rules[rule.ID] = &rule
	p.logger.Info("policy rule added",
		zap.String("rule_id", rule.ID), zap.String("action", string(rule.Action)))
	return nil
}

// RemoveRule deletes a rule by id.
func (p *PolicyEngine) RemoveRule(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.rules[id]; !exists {
		return fault.New(fault.KindNotFound, fmt.Sprintf("policy rule %q does not exist", id))
	}
	delete(p.rules, id)
	return nil
}

// SetEnabled enables or disables a rule without removing it.
func (p *PolicyEngine) SetEnabled(id string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rule, exists := p.rules[id]
	if !exists {
		return fault.New(fault.KindNotFound, fmt.Sprintf("policy rule %q does not exist", id))
	}
	rule.Disabled = !enabled
	return nil
}

// Rules returns a copy of all rules.
func (p *PolicyEngine) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Rule, 0, len(p.rules))
	for _, r := range p.rules {
		out = append(out, *r)
	}
	return out
}

// Evaluate returns the decision for a capability call. The highest-priority
// enabled matching rule wins; among equal priorities the rule added first
// wins. No match means allow.
func (p *PolicyEngine) Evaluate(agentID, verb string) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var winner *Rule
	for _, rule := range p.rules {
		if rule.Disabled || !rule.matches(agentID, verb) {
			continue
		}
		if winner == nil ||
			rule.Priority > winner.Priority ||
			(rule.Priority == winner.Priority && rule.seq < winner.seq) {
			winner = rule
		}
	}

	if winner == nil {
		return Decision{Action: ActionAllow}
	}
	return Decision{Action: winner.Action, RuleID: winner.ID}
}

func (r *Rule) matches(agentID, verb string) bool {
	if r.AgentID != "" && r.AgentID != agentID {
		return false
	}
	switch {
	case r.Capability == "":
		return true
	case strings.HasSuffix(r.Capability, ".*"):
		return strings.HasPrefix(verb, strings.TrimSuffix(r.Capability, "*"))
	default:
		return r.Capability == verb
	}
}

func validateRule(rule Rule) error {
	if rule.ID == "" {
		return fault.New(fault.KindBadRequest, "policy rule id is required")
	}
	switch rule.Action {
	case ActionAllow, ActionDeny, ActionRequireApproval:
		return nil
	default:
		return fault.New(fault.KindBadRequest, fmt.Sprintf("unknown policy action %q", rule.Action))
	}
}

// LoadFile replaces the rule set from a YAML file.
func (p *PolicyEngine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "reading policy file")
	}
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fault.Wrap(fault.KindBadRequest, err, "parsing policy file")
	}
	next := make(map[string]*Rule, len(file.Rules))
	for i := range file.Rules {
		rule := file.Rules[i]
		if err := validateRule(rule); err != nil {
			return err
		}
		if _, dup := next[rule.ID]; dup {
			return fault.New(fault.KindBadRequest, fmt.Sprintf("duplicate policy rule id %q", rule.ID))
		}
		rule.seq = i + 1
		next[rule.ID] = &rule
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = next
	p.seq = len(file.Rules)
	p.logger.Info("policy rules loaded", zap.String("path", path), zap.Int("rules", len(file.Rules)))
	return nil
}

// Watch hot-reloads the policy file on change until ctx is done. A reload
// that fails to parse keeps the previous rule set.
func (p *PolicyEngine) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "creating policy watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fault.Wrap(fault.KindInternal, err, "watching policy file")
	}
	p.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.LoadFile(path); err != nil {
					p.logger.Warn("policy reload failed, keeping previous rules", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("policy watcher error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
