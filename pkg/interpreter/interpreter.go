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
// Package interpreter translates natural-language queries into structured
// capability dispatches using a locally hosted model. The interpreter never
// returns an error to callers: every outcome is a structured Interpretation
// whose confidence encodes how much to trust it.
package interpreter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/capability"
)

// CapabilityUnparseable is the sentinel verb reported when the model output
// cannot be parsed as JSON.
const CapabilityUnparseable = "__unparseable__"

// unsupportedConfidenceCap clamps the confidence of a dispatch whose verb is
// not in the agent's advertised set.
const unsupportedConfidenceCap = 0.3

// Interpretation is the structured verdict for one query.
type Interpretation struct {
	Capability  string                 `json:"capability"`
	Parameters  map[string]interface{} `json:"parameters"`
	Confidence  float64                `json:"confidence"`
	Reasoning   string                 `json:"reasoning,omitempty"`
	Unsupported bool                   `json:"unsupported,omitempty"`

	// Error is set when the model could not be consulted (timeout,
	// unreachable endpoint, unparseable output). Confidence is 0 in
	// those cases.
	Error string `json:"error,omitempty"`
}

// Config configures an Interpreter.
type Config struct {
	BaseURL     string        // Default: http://localhost:11434
	Model       string        // Default: qwen2.5:3b
	Timeout     time.Duration // Default: 5s
	Temperature float64       // Default: 0.1 (dispatch wants determinism)
	TopP        float64       // Default: 0.9
	MaxTokens   int           // Default: 512
	Logger      *zap.Logger
}

// Interpreter is a client for the local generation endpoint.
type Interpreter struct {
	baseURL     string
	model       string
	timeout     time.Duration
	temperature float64
	topP        float64
	maxTokens   int
	httpClient  *http.Client
	logger      *zap.Logger
}

// New creates an Interpreter with defaults filled in.
func New(cfg Config) *Interpreter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:3b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.TopP == 0 {
		cfg.TopP = 0.9
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Interpreter{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

// Model returns the configured model identifier.
func (i *Interpreter) Model() string {
	return i.model
}

// generateRequest is the local endpoint's request body.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop,omitempty"`
}

// generateResponse is one frame of the endpoint's (possibly NDJSON) response.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// buildPrompt assembles the dispatch prompt: system preamble, agent context,
// capability inventory, the query, and the JSON-only output instruction.
func (i *Interpreter) buildPrompt(query, agentContext string, caps []capability.Capability) string {
	var b strings.Builder

	b.WriteString("You are a capability dispatcher for a local personal assistant agent. ")
	b.WriteString("Given a user query, choose the single best capability and extract its parameters.\n\n")

	if agentContext != "" {
		b.WriteString("Agent context: ")
		b.WriteString(agentContext)
		b.WriteString("\n\n")
	}

	b.WriteString("Available capabilities:\n")
	for _, c := range caps {
		fmt.Fprintf(&b, "- %s: %s\n", c.Verb, c.Description)
	}

	b.WriteString("\nUser query: ")
	b.WriteString(query)
	b.WriteString("\n\nRespond with a single JSON object and nothing else, matching:\n")
	b.WriteString(`{"capability": "<verb>", "parameters": {...}, "confidence": <0..1>, "reasoning": "<one sentence>"}`)
	b.WriteString("\n")

	return b.String()
}

// Interpret consults the model and returns a structured verdict. On timeout
// or transport failure the verdict has confidence 0 and a reason; the
// interpreter never returns an error.
func (i *Interpreter) Interpret(ctx context.Context, query, agentContext string, caps []capability.Capability) Interpretation {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	raw, err := i.generate(ctx, i.buildPrompt(query, agentContext, caps))
	if err != nil {
		reason := "llm_unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "llm_timeout"
		}
		i.logger.Warn("interpretation failed", zap.String("reason", reason), zap.Error(err))
		return Interpretation{Capability: "", Confidence: 0, Error: reason}
	}

	return i.parseVerdict(raw, caps)
}

// InterpretStream is the streaming variant: filtered tokens are forwarded to
// onToken as they arrive, and the final parsed verdict is returned. The
// think filter is stateful across chunks so partial tags never leak.
func (i *Interpreter) InterpretStream(ctx context.Context, query, agentContext string, caps []capability.Capability, onToken func(string)) Interpretation {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req := generateRequest{
		Model:  i.model,
		Prompt: i.buildPrompt(query, agentContext, caps),
		Stream: true,
		Options: generateOptions{
			Temperature: i.temperature,
			TopP:        i.topP,
			MaxTokens:   i.maxTokens,
		},
	}

	resp, err := i.post(ctx, "/api/generate", req)
	if err != nil {
		reason := "llm_unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "llm_timeout"
		}
		return Interpretation{Confidence: 0, Error: reason}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		i.logger.Warn("generation endpoint error",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return Interpretation{Confidence: 0, Error: "llm_unavailable"}
	}

	filter := NewThinkFilter()
	var full strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk generateResponse
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			// Skip malformed lines but continue processing
			continue
		}
		if chunk.Response != "" {
			emitted := filter.Feed(chunk.Response)
			full.WriteString(emitted)
			if emitted != "" && onToken != nil {
				onToken(emitted)
			}
		}
		if chunk.Done {
			break
		}

		select {
		case <-ctx.Done():
			return Interpretation{Confidence: 0, Error: "llm_timeout"}
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return Interpretation{Confidence: 0, Error: "llm_unavailable"}
	}

	tail := filter.Flush()
	full.WriteString(tail)
	if tail != "" && onToken != nil {
		onToken(tail)
	}

	return i.parseVerdict(full.String(), caps)
}

// generate performs a non-streaming generation call and returns the raw text.
func (i *Interpreter) generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		Model:  i.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: i.temperature,
			TopP:        i.topP,
			MaxTokens:   i.maxTokens,
		},
	}

	resp, err := i.post(ctx, "/api/generate", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return gr.Response, nil
}

func (i *Interpreter) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

// parseVerdict post-processes raw model output into an Interpretation.
func (i *Interpreter) parseVerdict(raw string, caps []capability.Capability) Interpretation {
	cleaned := cleanJSONString(StripThink(raw))

	var verdict Interpretation
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		i.logger.Debug("unparseable model output", zap.String("output", cleaned), zap.Error(err))
		return Interpretation{Capability: CapabilityUnparseable, Confidence: 0, Error: "unparseable"}
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	if verdict.Parameters == nil {
		verdict.Parameters = make(map[string]interface{})
	}

	advertised := false
	for _, c := range caps {
		if c.Verb == verdict.Capability {
			advertised = true
			break
		}
	}
	if !advertised {
		// Soft error: clamp rather than reject, and let the caller's
		// confidence threshold decide
		verdict.Unsupported = true
		if verdict.Confidence > unsupportedConfidenceCap {
			verdict.Confidence = unsupportedConfidenceCap
		}
	}

	return verdict
}

// cleanJSONString removes common formatting noise from model JSON output:
// surrounding whitespace, backtick fences, and a leading "json" marker.
func cleanJSONString(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "json") {
		rest := s[4:]
		if rest == "" || rest[0] == '\n' || rest[0] == '\r' || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '{' {
			s = strings.TrimSpace(rest)
		}
	}
	// Some models emit prose around the object; recover the outermost braces
	if !strings.HasPrefix(s, "{") {
		if start := strings.Index(s, "{"); start >= 0 {
			if end := strings.LastIndex(s, "}"); end > start {
				s = s[start : end+1]
			}
		}
	}
	return s
}

// tagsResponse is the model listing response from GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the models installed on the local endpoint.
// Used for startup preflight.
func (i *Interpreter) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := i.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	names := make([]string, len(tags.Models))
	for idx, m := range tags.Models {
		names[idx] = m.Name
	}
	return names, nil
}
