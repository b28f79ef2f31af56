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

package metastore

import "time"

// Row is the denormalized projection of one trace: a purpose-built cache
// for filtering and aggregation, derived entirely from the trace document
// at write time and never the source of truth.
type Row struct {
	TraceID      string
	ProjectID    string
	ProjectName  string
	Query        string
	Intent       string
	Domain       string
	ReportType   string
	ResearchType string

	Status              string
	QualityGatePassed   *bool
	OverallQualityScore *float64

	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationSeconds *float64

	// Per-stage durations, seconds. Nil when the stage never ran.
	IntakeDuration      *float64
	RubricDuration      *float64
	CollectionDuration  *float64
	SynthesisDuration   *float64
	QualityGateDuration *float64

	EvidenceCollected *int
	EvidencePassed    *int
	EvidenceFiltered  *int

	SynthesisModel        string
	SynthesisInputTokens  *int
	SynthesisOutputTokens *int
	SynthesisCostUSD      *float64

	// CriterionScores maps criterion id to its quality-gate score.
	CriterionScores   map[string]float64
	GapCriteria       []string
	StrengthCriteria  []string

	IterationCount      int
	QualityGateFailures int

	TraceFilePath   string
	ReportFilePath  string
	OutputFilePaths []string

	FlaggedForReview bool
	ReviewNotes      string

	// Enriched calibration/retrieval fields pulled from trace outputs.
	TierConfig         string
	RubricScores       map[string]float64
	CriterionBreakdown string
	QGIterationCount   *int
	RetrievalMethod    string
	EvidenceRetrieved  *int
	EvidenceUsed       *int
	RetrievalTokens    *int
	RetrievalCostUSD   *float64
}

// CriterionPattern is one entry of the criterion-frequency aggregate:
// how many completed runs listed the criterion as a gap.
type CriterionPattern struct {
	CriterionID string
	FailCount   int
}

// Summary aggregates run counts and quality/duration/cost averages over
// the whole store. Averages cover completed runs only and are nil when
// no completed run carries the field.
type Summary struct {
	TotalRuns   int
	Complete    int
	Failed      int
	Incomplete  int
	QGPassed    int
	QGFailed    int
	AvgQuality  *float64
	AvgDuration *float64
	AvgCost     *float64
}

// IntentSummary is one row of the trace_intent_summary view.
type IntentSummary struct {
	Intent      string
	TotalRuns   int
	Passed      int
	Failed      int
	AvgQuality  *float64
	AvgDuration *float64
	AvgCost     *float64
}
