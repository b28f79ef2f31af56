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
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the trace document format version.
const SchemaVersion = 1

// Generator tags written documents so readers can tell which runtime
// produced them.
const Generator = "provenance-observability-v1"

// Status is the lifecycle state of a trace.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
	// StatusDisabled marks the no-op sentinel returned when tracing is off.
	StatusDisabled Status = "disabled"
)

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusIncomplete, StatusFailed:
		return true
	}
	return false
}

// Well-known stage names. Stage names are an open set; these are the ones
// the projection extractors look for.
const (
	StageIntake      = "intake"
	StageRubric      = "rubric"
	StageCollection  = "collection"
	StageSynthesis   = "synthesis"
	StageQualityGate = "quality_gate"
)

// Decision is an immutable record of one choice made by a pipeline
// component. Once appended to a stage it is never mutated or removed.
type Decision struct {
	// Decision is the decision-type tag (e.g. "classified_intent").
	Decision string `json:"decision"`
	// What is the chosen value.
	What Value `json:"what"`
	// Why is the free-text reasoning behind the choice.
	Why string `json:"why"`
	// Confidence is the component's self-assessed confidence, nominally
	// in [0, 1]. Out-of-range values are accepted; calibration analysis
	// is the place that cares.
	Confidence float64 `json:"confidence"`
	// AlternativesConsidered describes the options that were rejected.
	AlternativesConsidered []string `json:"alternatives_considered"`
	// Inputs captures the data the decision was based on.
	Inputs map[string]Value `json:"inputs"`
	// Timestamp is assigned at append time, UTC.
	Timestamp time.Time `json:"timestamp"`
}

// DecisionData is the caller-facing payload for Record. Missing fields
// default rather than fail: a nil Confidence becomes 1.0, nil slices and
// maps become empty.
type DecisionData struct {
	What                   Value
	Why                    string
	Confidence             *float64
	AlternativesConsidered []string
	Inputs                 map[string]Value
}

// Confidence is a convenience for populating DecisionData.Confidence.
func Confidence(v float64) *float64 { return &v }

// Iteration records one pass of a retry loop, typically a quality-gate
// rejection and retry.
type Iteration struct {
	Index          int      `json:"index"`
	Passed         bool     `json:"passed"`
	Score          float64  `json:"score"`
	Tokens         int      `json:"tokens"`
	CostUSD        float64  `json:"cost_usd"`
	FailedCriteria []string `json:"failed_criteria"`
	Notes          string   `json:"notes,omitempty"`
}

// ChildTrace references a trace spawned by this run.
type ChildTrace struct {
	TraceID    string `json:"trace_id"`
	OutputType string `json:"output_type"`
	Path       string `json:"path"`
}

// stage holds the mutable state for one named pipeline phase.
type stage struct {
	name        string
	startedAt   time.Time
	completedAt time.Time
	duration    time.Duration
	hasDuration bool
	decisions   []Decision
	outputs     map[string]Value
	evidence    map[string]Value
	prompts     map[string]string
	errText     string

	// monotonic start reference, zero if the stage was never begun
	monoStart time.Time
}

// StartOptions carries run identity for a new trace.
type StartOptions struct {
	ProjectID    string
	ProjectName  string
	Query        string
	Intent       string
	Domain       string
	ReportType   string
	ResearchType string

	// Enabled false yields the no-op sentinel.
	Enabled bool

	// Logger receives recording-time warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Trace is the full decision record for one pipeline run.
//
// All recording methods are synchronous, never perform I/O, never fail the
// caller, and are safe for concurrent use by sub-tasks of the same run.
// Ordering among concurrently appended decisions is undefined, but every
// append is atomic and nothing is lost.
type Trace struct {
	mu sync.Mutex

	id           string
	projectID    string
	projectName  string
	query        string
	intent       string
	domain       string
	reportType   string
	researchType string

	status      Status
	startedAt   time.Time
	completedAt time.Time
	duration    time.Duration
	hasDuration bool

	stageOrder []string
	stages     map[string]*stage

	iterations          []Iteration
	iterationCount      int
	qualityGateFailures int

	outputs     map[string]Value
	childTraces []ChildTrace

	monoStart time.Time
	disabled  bool
	logger    *slog.Logger
}

var traceIDPattern = regexp.MustCompile(`^trc_\d{8}_\d{6}_[0-9a-f]{8}$`)

// NewTraceID generates a trace identifier of the form
// trc_<UTC date>_<UTC time>_<8 random hex chars>.
func NewTraceID(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("trc_%s_%s", now.UTC().Format("20060102_150405"), hex.EncodeToString(u[:4]))
}

// ValidTraceID reports whether id matches the trace identifier format.
func ValidTraceID(id string) bool { return traceIDPattern.MatchString(id) }

// New allocates a trace for a run starting now. When opts.Enabled is
// false it returns the no-op sentinel instead.
func New(opts StartOptions) *Trace {
	if !opts.Enabled {
		return NewDisabled()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	return &Trace{
		id:           NewTraceID(now),
		projectID:    opts.ProjectID,
		projectName:  opts.ProjectName,
		query:        opts.Query,
		intent:       opts.Intent,
		domain:       opts.Domain,
		reportType:   opts.ReportType,
		researchType: opts.ResearchType,
		status:       StatusInProgress,
		startedAt:    now.UTC(),
		stages:       make(map[string]*stage),
		outputs:      make(map[string]Value),
		monoStart:    now,
		logger:       logger,
	}
}

// disabledSentinel is shared by every disabled lookup: the sentinel is
// immutable (every mutator returns before touching state), so one
// instance serves all callers without allocating.
var disabledSentinel = &Trace{id: "noop", status: StatusDisabled, disabled: true}

// NewDisabled returns the no-op sentinel trace: every recording method
// returns before allocating anything, and finishing it performs no I/O.
func NewDisabled() *Trace {
	return disabledSentinel
}

// ID returns the immutable trace identifier.
func (t *Trace) ID() string { return t.id }

// Disabled reports whether this is the no-op sentinel.
func (t *Trace) Disabled() bool { return t.disabled }

// Status returns the current lifecycle status.
func (t *Trace) Status() Status {
	if t.disabled {
		return StatusDisabled
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// guard returns false when recording must be skipped, warning on mutation
// after a terminal status since that is a caller bug worth surfacing.
func (t *Trace) guard(op string) bool {
	if t.status.Terminal() {
		t.logger.Warn("trace mutation after terminal status ignored",
			"trace_id", t.id, "status", string(t.status), "op", op)
		return false
	}
	return true
}

// getStage returns the named stage, creating it without a start timestamp
// if it has not been seen before. Caller holds t.mu.
func (t *Trace) getStage(name string) *stage {
	s, ok := t.stages[name]
	if !ok {
		s = &stage{
			name:     name,
			outputs:  make(map[string]Value),
			evidence: make(map[string]Value),
			prompts:  make(map[string]string),
		}
		t.stages[name] = s
		t.stageOrder = append(t.stageOrder, name)
	}
	return s
}

// BeginStage marks the start of a pipeline stage. If the stage already
// exists (auto-created by an earlier recording call) its decisions and
// outputs are preserved and only the start time is stamped; replacing the
// stage wholesale would silently discard recorded decisions.
func (t *Trace) BeginStage(name string) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("begin_stage") {
		return
	}
	now := time.Now()
	s := t.getStage(name)
	s.startedAt = now.UTC()
	s.monoStart = now
}

// EndStage marks the end of a pipeline stage, recording outputs and an
// optional error. Ending a stage that was never seen is a no-op, reported
// through the logger so dropped instrumentation is visible.
func (t *Trace) EndStage(name string, outputs map[string]Value, errText string) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("end_stage") {
		return
	}
	s, ok := t.stages[name]
	if !ok {
		t.logger.Warn("end_stage called for unstarted stage",
			"trace_id", t.id, "stage", name)
		return
	}
	s.completedAt = time.Now().UTC()
	if !s.monoStart.IsZero() {
		s.duration = time.Since(s.monoStart)
		s.hasDuration = true
	}
	for k, v := range outputs {
		s.outputs[k] = v
	}
	if errText != "" {
		s.errText = errText
	}
}

// Record appends a decision to a stage, auto-creating the stage (with no
// start timestamp) if it has not been begun.
func (t *Trace) Record(stageName, decisionType string, data DecisionData) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("record") {
		return
	}
	confidence := 1.0
	if data.Confidence != nil {
		confidence = *data.Confidence
	}
	alts := data.AlternativesConsidered
	if alts == nil {
		alts = []string{}
	}
	inputs := data.Inputs
	if inputs == nil {
		inputs = map[string]Value{}
	}
	s := t.getStage(stageName)
	s.decisions = append(s.decisions, Decision{
		Decision:               decisionType,
		What:                   data.What,
		Why:                    data.Why,
		Confidence:             confidence,
		AlternativesConsidered: alts,
		Inputs:                 inputs,
		Timestamp:              time.Now().UTC(),
	})
}

// RecordEvidence attaches evidence collection details to a stage.
func (t *Trace) RecordEvidence(stageName string, evidence map[string]Value) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("record_evidence") {
		return
	}
	s := t.getStage(stageName)
	for k, v := range evidence {
		s.evidence[k] = v
	}
}

// RecordPrompts attaches full prompt text to a stage.
func (t *Trace) RecordPrompts(stageName string, prompts map[string]string) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("record_prompts") {
		return
	}
	s := t.getStage(stageName)
	for k, v := range prompts {
		s.prompts[k] = v
	}
}

// RecordIteration appends one retry-loop pass. The iteration counter
// tracks total passes; failures additionally bump the quality-gate
// failure counter.
func (t *Trace) RecordIteration(it Iteration) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("record_iteration") {
		return
	}
	if it.Index == 0 {
		it.Index = len(t.iterations) + 1
	}
	t.iterations = append(t.iterations, it)
	t.iterationCount = len(t.iterations)
	if !it.Passed {
		t.qualityGateFailures++
	}
}

// SetOutput records a single output reference (e.g. a produced file path).
func (t *Trace) SetOutput(key string, v Value) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("set_output") {
		return
	}
	t.outputs[key] = v
}

// SetOutputs merges output references into the trace.
func (t *Trace) SetOutputs(outputs map[string]Value) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("set_outputs") {
		return
	}
	for k, v := range outputs {
		t.outputs[k] = v
	}
}

// AddChildTrace appends a reference to a trace spawned by this run.
func (t *Trace) AddChildTrace(child ChildTrace) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.guard("add_child_trace") {
		return
	}
	t.childTraces = append(t.childTraces, child)
}

// MarkComplete finalizes the trace as successfully completed.
func (t *Trace) MarkComplete() { t.finalize(StatusComplete, "") }

// MarkFailed finalizes the trace as failed, recording the error in the
// trace outputs.
func (t *Trace) MarkFailed(errText string) { t.finalize(StatusFailed, errText) }

// MarkIncomplete finalizes the trace with whatever partial data exists.
func (t *Trace) MarkIncomplete() { t.finalize(StatusIncomplete, "") }

func (t *Trace) finalize(status Status, errText string) {
	if t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		t.logger.Warn("trace already finalized",
			"trace_id", t.id, "status", string(t.status), "requested", string(status))
		return
	}
	t.status = status
	t.completedAt = time.Now().UTC()
	if !t.monoStart.IsZero() {
		t.duration = time.Since(t.monoStart)
		t.hasDuration = true
	}
	if errText != "" {
		t.outputs["error"] = String(errText)
	}
}
