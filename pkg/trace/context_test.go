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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextUnbound(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestActiveFallsBackToSentinel(t *testing.T) {
	tr := Active(context.Background())
	require.NotNil(t, tr)
	assert.True(t, tr.Disabled())

	// Recording through the fallback is harmless.
	tr.Record(StageIntake, "x", DecisionData{What: String("y")})
}

func TestSentinelIsShared(t *testing.T) {
	// Unbound lookups must not allocate a fresh sentinel each time.
	assert.Same(t, NewDisabled(), NewDisabled())
	assert.Same(t, NewDisabled(), Active(context.Background()))
	assert.Same(t, NewDisabled(), New(StartOptions{Enabled: false}))
}

func TestContextBindingRoundTrip(t *testing.T) {
	tr := newTestTrace()
	ctx := NewContext(context.Background(), tr)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, tr, got)
	assert.Same(t, tr, Active(ctx))
}

func TestContextBindingInheritedByDescendants(t *testing.T) {
	tr := newTestTrace()
	ctx := NewContext(context.Background(), tr)

	child, cancel := context.WithCancel(ctx)
	defer cancel()

	got, ok := FromContext(child)
	require.True(t, ok)
	assert.Same(t, tr, got)
}

func TestSiblingRunsDoNotShareTraces(t *testing.T) {
	base := context.Background()
	trA := newTestTrace()
	trB := newTestTrace()

	ctxA := NewContext(base, trA)
	ctxB := NewContext(base, trB)

	gotA, _ := FromContext(ctxA)
	gotB, _ := FromContext(ctxB)
	assert.Same(t, trA, gotA)
	assert.Same(t, trB, gotB)
	assert.NotEqual(t, gotA.ID(), gotB.ID())

	_, ok := FromContext(base)
	assert.False(t, ok, "binding must not leak to the parent")
}

func TestConcurrentRunsRecordIndependently(t *testing.T) {
	runs := 8
	done := make(chan string, runs)

	for i := 0; i < runs; i++ {
		go func() {
			tr := newTestTrace()
			ctx := NewContext(context.Background(), tr)

			active := Active(ctx)
			active.Record(StageIntake, "classified_intent", DecisionData{What: String("validating")})
			done <- active.ID()
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < runs; i++ {
		id := <-done
		assert.False(t, seen[id])
		seen[id] = true
	}
}
