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

// Package query is the read-only analysis surface over recorded traces.
// Filter and aggregate operations run against the projection store;
// only whole-document retrieval touches the file sink.
package query

import (
	"context"
	"log/slog"
	"sort"

	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/log"
	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/pkg/trace"
)

// DefaultLimit bounds filter queries when the caller passes zero.
const DefaultLimit = 50

// DefaultFlaggedLimit bounds the flagged-for-review listing.
const DefaultFlaggedLimit = 20

// Engine answers questions about past runs.
type Engine struct {
	meta   *metastore.Store
	docs   *docstore.Store
	logger *slog.Logger
}

// New creates a query engine. The document store may be nil when only
// projection queries are needed; FullTrace then always reports absent.
func New(meta *metastore.Store, docs *docstore.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		meta:   meta,
		docs:   docs,
		logger: log.WithComponent(logger, "query"),
	}
}

// ByIntent returns completed runs with the given intent, newest first.
func (e *Engine) ByIntent(ctx context.Context, intent string, limit int) ([]*metastore.Row, error) {
	return e.meta.List(ctx, metastore.Filter{
		Intent: intent,
		Status: string(trace.StatusComplete),
		Limit:  orDefault(limit, DefaultLimit),
	})
}

// ByDomain returns completed runs in the given domain, newest first.
func (e *Engine) ByDomain(ctx context.Context, domain string, limit int) ([]*metastore.Row, error) {
	return e.meta.List(ctx, metastore.Filter{
		Domain: domain,
		Status: string(trace.StatusComplete),
		Limit:  orDefault(limit, DefaultLimit),
	})
}

// ByProject returns runs for the given project regardless of status,
// newest first. Failed and incomplete runs are part of a project's
// history.
func (e *Engine) ByProject(ctx context.Context, projectName string, limit int) ([]*metastore.Row, error) {
	return e.meta.List(ctx, metastore.Filter{
		ProjectName: projectName,
		Limit:       orDefault(limit, DefaultLimit),
	})
}

// QualityGateFailures returns completed runs that failed the quality
// gate, newest first.
func (e *Engine) QualityGateFailures(ctx context.Context, limit int) ([]*metastore.Row, error) {
	failed := false
	return e.meta.List(ctx, metastore.Filter{
		Status:            string(trace.StatusComplete),
		QualityGatePassed: &failed,
		Limit:             orDefault(limit, DefaultLimit),
	})
}

// FlaggedForReview returns runs flagged by calibration, any status,
// newest first.
func (e *Engine) FlaggedForReview(ctx context.Context, limit int) ([]*metastore.Row, error) {
	return e.meta.List(ctx, metastore.Filter{
		FlaggedOnly: true,
		Limit:       orDefault(limit, DefaultFlaggedLimit),
	})
}

// LowScoringCriterion returns completed runs where the criterion scored
// below the threshold, newest first.
func (e *Engine) LowScoringCriterion(ctx context.Context, criterionID string, threshold float64, limit int) ([]*metastore.Row, error) {
	return e.meta.LowScoringCriterion(ctx, criterionID, threshold, orDefault(limit, DefaultLimit))
}

// CriterionPatterns returns criteria that failed in at least minRuns
// completed runs, most frequent first.
func (e *Engine) CriterionPatterns(ctx context.Context, minRuns int) ([]metastore.CriterionPattern, error) {
	if minRuns <= 0 {
		minRuns = 3
	}
	return e.meta.CriterionPatterns(ctx, minRuns)
}

// Comparison is the result of diffing two runs. Deltas are B minus A
// and nil when either side is missing the field.
type Comparison struct {
	TraceA *metastore.Row `json:"trace_a"`
	TraceB *metastore.Row `json:"trace_b"`

	QualityDelta  *float64 `json:"quality_delta"`
	DurationDelta *float64 `json:"duration_delta"`
	CostDelta     *float64 `json:"cost_delta"`

	// Gap-criterion set partitions across the two runs.
	GapsAOnly []string `json:"gaps_a_only"`
	GapsBOnly []string `json:"gaps_b_only"`
	GapsBoth  []string `json:"gaps_both"`
}

// Compare diffs two runs by trace id. Returns NotFoundError when either
// side is absent.
func (e *Engine) Compare(ctx context.Context, traceIDA, traceIDB string) (*Comparison, error) {
	rowA, err := e.meta.Get(ctx, traceIDA)
	if err != nil {
		return nil, err
	}
	rowB, err := e.meta.Get(ctx, traceIDB)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{TraceA: rowA, TraceB: rowB}
	cmp.QualityDelta = delta(rowA.OverallQualityScore, rowB.OverallQualityScore)
	cmp.DurationDelta = delta(rowA.DurationSeconds, rowB.DurationSeconds)
	cmp.CostDelta = delta(rowA.SynthesisCostUSD, rowB.SynthesisCostUSD)
	cmp.GapsAOnly, cmp.GapsBOnly, cmp.GapsBoth = partitionGaps(rowA.GapCriteria, rowB.GapCriteria)
	return cmp, nil
}

// FullTrace loads the complete document for a run. Best effort: a
// missing row, unset path, or unreadable document all report absent
// rather than failing, since this is a deep-debug path.
func (e *Engine) FullTrace(ctx context.Context, traceID string) (*trace.Document, bool) {
	if e.docs == nil {
		return nil, false
	}
	row, err := e.meta.Get(ctx, traceID)
	if err != nil || row.TraceFilePath == "" {
		return nil, false
	}
	doc, err := e.docs.Read(row.TraceFilePath)
	if err != nil {
		e.logger.Debug("full trace unavailable",
			log.TraceIDKey, traceID,
			"path", row.TraceFilePath,
			log.Error(err))
		return nil, false
	}
	return doc, true
}

// Summary aggregates counts and averages over the whole store.
func (e *Engine) Summary(ctx context.Context) (*metastore.Summary, error) {
	return e.meta.Summary(ctx)
}

// IntentSummaries breaks the store down per intent.
func (e *Engine) IntentSummaries(ctx context.Context) ([]metastore.IntentSummary, error) {
	return e.meta.IntentSummaries(ctx)
}

func orDefault(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func delta(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := *b - *a
	return &d
}

// partitionGaps splits two gap lists into A-only, B-only, and shared,
// each sorted. Empty partitions stay non-nil so they serialize as [].
func partitionGaps(a, b []string) (aOnly, bOnly, both []string) {
	aOnly, bOnly, both = []string{}, []string{}, []string{}
	setA := make(map[string]bool, len(a))
	for _, id := range a {
		setA[id] = true
	}
	setB := make(map[string]bool, len(b))
	for _, id := range b {
		setB[id] = true
	}

	for id := range setA {
		if setB[id] {
			both = append(both, id)
		} else {
			aOnly = append(aOnly, id)
		}
	}
	for id := range setB {
		if !setA[id] {
			bOnly = append(bOnly, id)
		}
	}

	sort.Strings(aOnly)
	sort.Strings(bOnly)
	sort.Strings(both)
	return aOnly, bOnly, both
}
