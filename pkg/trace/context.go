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

import "context"

// traceKeyType is the context key for the active trace.
type traceKeyType struct{}

var traceKey = traceKeyType{}

// NewContext binds t as the active trace for ctx and its descendants.
// The binding follows logical task lineage: goroutines spawned with this
// context observe the same trace, sibling runs never do.
func NewContext(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey, t)
}

// FromContext returns the active trace for ctx. ok is false when no trace
// is bound, which callers must treat as "tracing not active here".
func FromContext(ctx context.Context) (*Trace, bool) {
	t, ok := ctx.Value(traceKey).(*Trace)
	if !ok || t == nil {
		return nil, false
	}
	return t, true
}

// Active returns the bound trace, or the no-op sentinel when none is
// bound, so call sites can record unconditionally.
func Active(ctx context.Context) *Trace {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return NewDisabled()
}
