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

import "time"

// Document is the serialized form of a trace: one JSON document per run,
// versioned by schema_version for forward compatibility.
type Document struct {
	SchemaVersion       int                      `json:"schema_version"`
	TraceID             string                   `json:"trace_id"`
	ProjectID           string                   `json:"project_id"`
	ProjectName         string                   `json:"project_name"`
	Run                 RunInfo                  `json:"run"`
	Stages              map[string]StageDocument `json:"stages"`
	Iterations          []Iteration              `json:"iterations"`
	IterationCount      int                      `json:"iteration_count"`
	QualityGateFailures int                      `json:"quality_gate_failures"`
	Outputs             map[string]Value         `json:"outputs"`
	ChildTraces         []ChildTrace             `json:"child_traces"`
	Metadata            DocumentMetadata         `json:"metadata"`

	// StageOrder preserves insertion order for renderers. It is not part
	// of the document format; JSON objects carry no order.
	StageOrder []string `json:"-"`
}

// RunInfo carries the run-level identity and timing fields.
type RunInfo struct {
	Query           string     `json:"query"`
	Intent          string     `json:"intent"`
	Domain          string     `json:"domain"`
	ReportType      string     `json:"report_type"`
	ResearchType    string     `json:"research_type"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds *float64   `json:"duration_seconds"`
	Status          Status     `json:"status"`
}

// StageDocument is the serialized form of one pipeline stage.
type StageDocument struct {
	StartedAt       *time.Time        `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at"`
	DurationSeconds *float64          `json:"duration_seconds"`
	Decisions       []Decision        `json:"decisions"`
	Outputs         map[string]Value  `json:"outputs"`
	Evidence        map[string]Value  `json:"evidence"`
	Prompts         map[string]string `json:"prompts"`
	Error           string            `json:"error,omitempty"`
}

// DocumentMetadata tags the document with its producing runtime.
type DocumentMetadata struct {
	TraceVersion int    `json:"trace_version"`
	Generator    string `json:"generator"`
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t
	return &u
}

func optSeconds(d time.Duration, ok bool) *float64 {
	if !ok {
		return nil
	}
	s := d.Seconds()
	return &s
}

// Snapshot produces an immutable copy of the trace in document form.
// The copy is consistent with the latest completed mutation; concurrent
// recorders never observe a partially applied append.
func (t *Trace) Snapshot() Document {
	t.mu.Lock()
	defer t.mu.Unlock()

	stages := make(map[string]StageDocument, len(t.stages))
	for name, s := range t.stages {
		decisions := make([]Decision, len(s.decisions))
		copy(decisions, s.decisions)
		stages[name] = StageDocument{
			StartedAt:       optTime(s.startedAt),
			CompletedAt:     optTime(s.completedAt),
			DurationSeconds: optSeconds(s.duration, s.hasDuration),
			Decisions:       decisions,
			Outputs:         copyValues(s.outputs),
			Evidence:        copyValues(s.evidence),
			Prompts:         copyStrings(s.prompts),
			Error:           s.errText,
		}
	}

	iterations := make([]Iteration, len(t.iterations))
	copy(iterations, t.iterations)
	children := make([]ChildTrace, len(t.childTraces))
	copy(children, t.childTraces)
	order := make([]string, len(t.stageOrder))
	copy(order, t.stageOrder)

	return Document{
		SchemaVersion: SchemaVersion,
		TraceID:       t.id,
		ProjectID:     t.projectID,
		ProjectName:   t.projectName,
		Run: RunInfo{
			Query:           t.query,
			Intent:          t.intent,
			Domain:          t.domain,
			ReportType:      t.reportType,
			ResearchType:    t.researchType,
			StartedAt:       optTime(t.startedAt),
			CompletedAt:     optTime(t.completedAt),
			DurationSeconds: optSeconds(t.duration, t.hasDuration),
			Status:          t.status,
		},
		Stages:              stages,
		Iterations:          iterations,
		IterationCount:      t.iterationCount,
		QualityGateFailures: t.qualityGateFailures,
		Outputs:             copyValues(t.outputs),
		ChildTraces:         children,
		Metadata: DocumentMetadata{
			TraceVersion: SchemaVersion,
			Generator:    Generator,
		},
		StageOrder: order,
	}
}

func copyValues(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Stage returns a point-in-time copy of one stage, with ok false if the
// stage has never been referenced.
func (t *Trace) Stage(name string) (StageDocument, bool) {
	if t.disabled {
		return StageDocument{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, found := t.stages[name]
	if !found {
		return StageDocument{}, false
	}
	decisions := make([]Decision, len(s.decisions))
	copy(decisions, s.decisions)
	return StageDocument{
		StartedAt:       optTime(s.startedAt),
		CompletedAt:     optTime(s.completedAt),
		DurationSeconds: optSeconds(s.duration, s.hasDuration),
		Decisions:       decisions,
		Outputs:         copyValues(s.outputs),
		Evidence:        copyValues(s.evidence),
		Prompts:         copyStrings(s.prompts),
		Error:           s.errText,
	}, true
}
