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
	"fmt"
	"sort"
	"sync"
)

// Schema describes the decisions and outputs a component can emit. It is
// a documentation and validation aid only; components participate in
// tracing simply by calling Record at decision points.
type Schema struct {
	Decisions []string
	Outputs   []string
}

// Component describes a pipeline component that emits trace data. The
// contract is purely declarative: nothing dispatches through it at
// runtime, tests and documentation generators introspect it.
type Component interface {
	// ComponentName uniquely identifies the component in traces.
	ComponentName() string
	// TraceSchema declares the decision types and output keys the
	// component can emit.
	TraceSchema() Schema
}

// ValidateSchema checks a component's declared schema for the required
// shape. It returns a list of problems, empty when the schema is valid.
func ValidateSchema(c Component) []string {
	var problems []string
	schema := c.TraceSchema()
	if schema.Decisions == nil {
		problems = append(problems, "schema missing decisions")
	}
	if schema.Outputs == nil {
		problems = append(problems, "schema missing outputs")
	}
	return problems
}

// Registry tracks components that emit trace data, keyed by name.
type Registry struct {
	mu         sync.RWMutex
	components map[string]Schema
}

// NewRegistry returns an empty component registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]Schema)}
}

// Register validates and records a component's schema.
func (r *Registry) Register(c Component) error {
	if problems := ValidateSchema(c); len(problems) > 0 {
		return fmt.Errorf("invalid trace schema for %q: %v", c.ComponentName(), problems)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[c.ComponentName()] = c.TraceSchema()
	return nil
}

// Schema returns the registered schema for a component name.
func (r *Registry) Schema(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.components[name]
	return s, ok
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
