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
package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidVerb(t *testing.T) {
	valid := []string{"mail.search", "calendar.get_events", "memory.store"}
	for _, v := range valid {
		assert.True(t, ValidVerb(v), v)
	}

	invalid := []string{"", "mail", "mail.", ".search", "Mail.Search", "mail.search.deep", "mail-search", "mail.Search"}
	for _, v := range invalid {
		assert.False(t, ValidVerb(v), v)
	}
}

func TestManifest_HasVerb(t *testing.T) {
	m := &Manifest{
		AgentID: "mail",
		Capabilities: []Capability{
			{Verb: "mail.search"},
			{Verb: "mail.get_recent"},
		},
	}

	assert.True(t, m.HasVerb("mail.search"))
	assert.False(t, m.HasVerb("mail.delete"))
	assert.Equal(t, []string{"mail.search", "mail.get_recent"}, m.Verbs())
}

func TestValidateInput(t *testing.T) {
	schema := NewObjectSchema("search input", map[string]*JSONSchema{
		"q":     NewStringSchema("query text"),
		"limit": NewNumberSchema("max results"),
	}, []string{"q"})

	err := ValidateInput(schema, map[string]interface{}{"q": "project X", "limit": 10})
	require.NoError(t, err)

	err = ValidateInput(schema, map[string]interface{}{"limit": 10})
	require.Error(t, err)

	err = ValidateInput(schema, map[string]interface{}{"q": 42})
	require.Error(t, err)

	// nil schema disables validation
	require.NoError(t, ValidateInput(nil, map[string]interface{}{"anything": true}))
}

func TestNormalize(t *testing.T) {
	s := &JSONSchema{Type: "object"}
	Normalize(s)
	assert.NotNil(t, s.Properties)

	inferred := &JSONSchema{Properties: map[string]*JSONSchema{"a": {Type: "string"}}}
	Normalize(inferred)
	assert.Equal(t, "object", inferred.Type)

	enum := &JSONSchema{Enum: []interface{}{"a", "b"}}
	Normalize(enum)
	assert.Equal(t, "string", enum.Type)
}
