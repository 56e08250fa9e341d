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
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearth-labs/hearth/pkg/capability"
)

var mailCaps = []capability.Capability{
	{Verb: "mail.search", Description: "Search emails by text"},
	{Verb: "mail.get_recent", Description: "Fetch the most recent emails"},
}

// fakeModel serves /api/generate with a fixed response body.
func fakeModel(t *testing.T, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Prompt)

		_ = json.NewEncoder(w).Encode(generateResponse{Response: response, Done: true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestInterpreter(t *testing.T, baseURL string) *Interpreter {
	t.Helper()
	return New(Config{BaseURL: baseURL, Model: "test-model", Logger: zaptest.NewLogger(t)})
}

func TestInterpret_WellFormedVerdict(t *testing.T) {
	srv := fakeModel(t, `{"capability":"mail.search","parameters":{"q":"project X"},"confidence":0.9,"reasoning":"query asks for emails"}`)
	i := newTestInterpreter(t, srv.URL)

	v := i.Interpret(context.Background(), "find emails about project X", "mail agent", mailCaps)
	assert.Equal(t, "mail.search", v.Capability)
	assert.Equal(t, 0.9, v.Confidence)
	assert.Equal(t, "project X", v.Parameters["q"])
	assert.False(t, v.Unsupported)
	assert.Empty(t, v.Error)
}

func TestInterpret_StripsThinkSegments(t *testing.T) {
	srv := fakeModel(t, "<think>the user wants mail</think>\n"+
		`{"capability":"mail.search","parameters":{},"confidence":0.8}`)
	i := newTestInterpreter(t, srv.URL)

	v := i.Interpret(context.Background(), "check mail", "", mailCaps)
	assert.Equal(t, "mail.search", v.Capability)
	assert.Equal(t, 0.8, v.Confidence)
}

func TestInterpret_CodeFence(t *testing.T) {
	srv := fakeModel(t, "```json\n{\"capability\":\"mail.search\",\"parameters\":{},\"confidence\":0.75}\n```")
	i := newTestInterpreter(t, srv.URL)

	v := i.Interpret(context.Background(), "check mail", "", mailCaps)
	assert.Equal(t, "mail.search", v.Capability)
}

func TestInterpret_NonJSON(t *testing.T) {
	srv := fakeModel(t, "I think you want to search your mail.")
	i := newTestInterpreter(t, srv.URL)

	v := i.Interpret(context.Background(), "check mail", "", mailCaps)
	assert.Equal(t, CapabilityUnparseable, v.Capability)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, "unparseable", v.Error)
}

func TestInterpret_UnadvertisedCapabilityClamped(t *testing.T) {
	srv := fakeModel(t, `{"capability":"mail.unknown","parameters":{"q":"x"},"confidence":0.95}`)
	i := newTestInterpreter(t, srv.URL)

	v := i.Interpret(context.Background(), "do something", "", mailCaps)
	assert.Equal(t, "mail.unknown", v.Capability)
	assert.True(t, v.Unsupported)
	assert.LessOrEqual(t, v.Confidence, 0.3)
	// original parameters survive the clamp
	assert.Equal(t, "x", v.Parameters["q"])
}

func TestInterpret_EndpointDown(t *testing.T) {
	i := newTestInterpreter(t, "http://127.0.0.1:1") // nothing listens here

	v := i.Interpret(context.Background(), "check mail", "", mailCaps)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, "llm_unavailable", v.Error)
}

func TestInterpret_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	i := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	v := i.Interpret(context.Background(), "check mail", "", mailCaps)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, "llm_timeout", v.Error)
}

func TestInterpretStream_FiltersAcrossChunks(t *testing.T) {
	chunks := []string{"<thi", "nk>hidden reasoning</th", "ink>", `{"capability":"mail.search",`, `"parameters":{},"confidence":0.9}`}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, c := range chunks {
			_ = enc.Encode(generateResponse{Response: c})
		}
		_ = enc.Encode(generateResponse{Done: true})
	}))
	t.Cleanup(srv.Close)

	i := newTestInterpreter(t, srv.URL)
	var streamed string
	v := i.InterpretStream(context.Background(), "check mail", "", mailCaps, func(tok string) {
		streamed += tok
	})

	assert.Equal(t, "mail.search", v.Capability)
	assert.NotContains(t, streamed, "hidden reasoning")
	assert.NotContains(t, streamed, "<think>")
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5:3b"},{"name":"llama3.2:1b"}]}`)
	}))
	t.Cleanup(srv.Close)

	i := newTestInterpreter(t, srv.URL)
	models, err := i.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5:3b", "llama3.2:1b"}, models)
}

func TestThinkFilter_SplitTags(t *testing.T) {
	f := NewThinkFilter()
	out := f.Feed("hello <th")
	out += f.Feed("ink>secret</think> world")
	out += f.Flush()
	assert.Equal(t, "hello  world", out)
}

func TestThinkFilter_UnterminatedThinkDropped(t *testing.T) {
	f := NewThinkFilter()
	out := f.Feed("visible <think>never closed")
	out += f.Flush()
	assert.Equal(t, "visible ", out)
}

func TestStripThink_MultipleSegments(t *testing.T) {
	in := "a<think>x</think>b<think>y</think>c"
	assert.Equal(t, "abc", StripThink(in))
}
