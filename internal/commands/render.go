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

package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/internal/query"
)

func renderRows(w io.Writer, rows []*metastore.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No traces found.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Trace ID", "Project", "Intent", "Status", "Quality", "Gate", "Started"})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.TraceID,
			r.ProjectName,
			r.Intent,
			r.Status,
			fmtScore(r.OverallQualityScore),
			fmtGate(r.QualityGatePassed),
			r.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	tw.Render()
}

func renderLowScoring(w io.Writer, criterionID string, rows []*metastore.Row) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No runs scored %s below the threshold.\n", criterionID)
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Trace ID", "Project", "Score", "Overall", "Started"})
	for _, r := range rows {
		score := "—"
		if s, ok := r.CriterionScores[criterionID]; ok {
			score = fmt.Sprintf("%g", s)
		}
		tw.AppendRow(table.Row{
			r.TraceID,
			r.ProjectName,
			score,
			fmtScore(r.OverallQualityScore),
			r.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	tw.Render()
}

func renderPatterns(w io.Writer, patterns []metastore.CriterionPattern) {
	if len(patterns) == 0 {
		fmt.Fprintln(w, "No repeated criterion failures.")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Criterion", "Failing Runs"})
	for _, p := range patterns {
		tw.AppendRow(table.Row{p.CriterionID, p.FailCount})
	}
	tw.Render()
}

func renderComparison(w io.Writer, cmp *query.Comparison) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"", "A", "B", "Delta (B-A)"})
	tw.AppendRow(table.Row{"Trace", cmp.TraceA.TraceID, cmp.TraceB.TraceID, ""})
	tw.AppendRow(table.Row{"Quality",
		fmtScore(cmp.TraceA.OverallQualityScore),
		fmtScore(cmp.TraceB.OverallQualityScore),
		fmtDelta(cmp.QualityDelta)})
	tw.AppendRow(table.Row{"Duration (s)",
		fmtScore(cmp.TraceA.DurationSeconds),
		fmtScore(cmp.TraceB.DurationSeconds),
		fmtDelta(cmp.DurationDelta)})
	tw.AppendRow(table.Row{"Cost (USD)",
		fmtScore(cmp.TraceA.SynthesisCostUSD),
		fmtScore(cmp.TraceB.SynthesisCostUSD),
		fmtDelta(cmp.CostDelta)})
	tw.Render()

	fmt.Fprintf(w, "Gaps only in A: %s\n", listOrNone(cmp.GapsAOnly))
	fmt.Fprintf(w, "Gaps only in B: %s\n", listOrNone(cmp.GapsBOnly))
	fmt.Fprintf(w, "Gaps in both:   %s\n", listOrNone(cmp.GapsBoth))
}

func renderSummary(w io.Writer, sum *metastore.Summary, intents []metastore.IntentSummary) {
	fmt.Fprintf(w, "Total runs: %d (complete %d, failed %d, incomplete %d)\n",
		sum.TotalRuns, sum.Complete, sum.Failed, sum.Incomplete)
	fmt.Fprintf(w, "Quality gate: %d passed, %d failed\n", sum.QGPassed, sum.QGFailed)
	fmt.Fprintf(w, "Averages: quality %s, duration %ss, cost $%s\n",
		fmtScore(sum.AvgQuality), fmtScore(sum.AvgDuration), fmtScore(sum.AvgCost))

	if len(intents) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Intent", "Runs", "Passed", "Failed", "Avg Quality", "Avg Duration", "Avg Cost"})
	for _, is := range intents {
		tw.AppendRow(table.Row{
			is.Intent, is.TotalRuns, is.Passed, is.Failed,
			fmtScore(is.AvgQuality), fmtScore(is.AvgDuration), fmtScore(is.AvgCost),
		})
	}
	tw.Render()
}

func fmtScore(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtDelta(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%+.2f", *v)
}

func fmtGate(passed *bool) string {
	switch {
	case passed == nil:
		return "—"
	case *passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}
