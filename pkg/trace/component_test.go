// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name   string
	schema Schema
}

func (c fakeComponent) ComponentName() string { return c.name }
func (c fakeComponent) TraceSchema() Schema   { return c.schema }

func TestValidateSchema(t *testing.T) {
	valid := fakeComponent{name: "intake", schema: Schema{
		Decisions: []string{"classified_intent"},
		Outputs:   []string{"intent"},
	}}
	assert.Empty(t, ValidateSchema(valid))

	invalid := fakeComponent{name: "broken", schema: Schema{}}
	problems := ValidateSchema(invalid)
	assert.Len(t, problems, 2)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	err := r.Register(fakeComponent{name: "intake", schema: Schema{
		Decisions: []string{"classified_intent"},
		Outputs:   []string{"intent"},
	}})
	require.NoError(t, err)
	err = r.Register(fakeComponent{name: "collection", schema: Schema{
		Decisions: []string{"evaluated_source"},
		Outputs:   []string{"evidence_passed"},
	}})
	require.NoError(t, err)

	schema, ok := r.Schema("intake")
	require.True(t, ok)
	assert.Equal(t, []string{"classified_intent"}, schema.Decisions)

	_, ok = r.Schema("unknown")
	assert.False(t, ok)

	assert.Equal(t, []string{"collection", "intake"}, r.Names())

	err = r.Register(fakeComponent{name: "broken", schema: Schema{}})
	assert.Error(t, err)
}
