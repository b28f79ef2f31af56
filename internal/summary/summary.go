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

// Package summary renders finished traces for humans: a compact
// terminal scorecard, a verbose stage-by-stage breakdown, and a
// markdown file alongside the trace document.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/provenance/pkg/trace"
)

type qualityData struct {
	passed    *bool
	score     *float64
	gaps      []string
	strengths []string
}

type scoreEntry struct {
	id    string
	score float64
}

func quality(doc trace.Document) qualityData {
	var q qualityData
	qg, ok := doc.Stages[trace.StageQualityGate]
	if !ok {
		return q
	}
	if v, found := qg.Outputs["passed"]; found {
		if b, isBool := v.Boolean(); isBool {
			q.passed = &b
		}
	}
	if v, found := qg.Outputs["overall_score"]; found {
		if f, isNum := v.Float(); isNum {
			q.score = &f
		}
	}
	q.gaps = stringList(qg.Outputs["gap_criteria"])
	q.strengths = stringList(qg.Outputs["strength_criteria"])
	return q
}

// scoreEntries flattens the per-criterion scores, preserving list
// order when the gate reported them as a list.
func scoreEntries(doc trace.Document) []scoreEntry {
	qg, ok := doc.Stages[trace.StageQualityGate]
	if !ok {
		return nil
	}
	raw := qg.Outputs["criterion_scores"]

	if elems, isList := raw.Elems(); isList {
		var entries []scoreEntry
		for _, e := range elems {
			idVal, hasID := e.Get("id")
			scoreVal, hasScore := e.Get("score")
			if !hasID || !hasScore {
				continue
			}
			id, okID := idVal.Str()
			score, okScore := scoreVal.Float()
			if okID && okScore {
				entries = append(entries, scoreEntry{id: id, score: score})
			}
		}
		return entries
	}

	if m, isMap := raw.Entries(); isMap {
		entries := make([]scoreEntry, 0, len(m))
		for id, v := range m {
			if score, isNum := v.Float(); isNum {
				entries = append(entries, scoreEntry{id: id, score: score})
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
		return entries
	}

	return nil
}

func stringList(v trace.Value) []string {
	elems, ok := v.Elems()
	if !ok {
		return nil
	}
	var out []string
	for _, e := range elems {
		if s, isStr := e.Str(); isStr {
			out = append(out, s)
		}
	}
	return out
}

type evidenceData struct {
	collected *int
	passed    *int
	filtered  *int
}

func evidence(doc trace.Document) evidenceData {
	var ev evidenceData
	coll, ok := doc.Stages[trace.StageCollection]
	if !ok {
		return ev
	}
	ev.collected = intOf(coll.Evidence["collected_count"])
	ev.passed = intOf(coll.Outputs["evidence_passed"])
	ev.filtered = intOf(coll.Outputs["evidence_filtered"])
	return ev
}

func intOf(v trace.Value) *int {
	f, ok := v.Float()
	if !ok {
		return nil
	}
	i := int(f)
	return &i
}

func synthesisCost(doc trace.Document) *float64 {
	synth, ok := doc.Stages[trace.StageSynthesis]
	if !ok {
		return nil
	}
	if f, isNum := synth.Outputs["cost_usd"].Float(); isNum {
		return &f
	}
	return nil
}

// stageNames returns stage names in insertion order, falling back to
// sorted order for documents read back from disk.
func stageNames(doc trace.Document) []string {
	if len(doc.StageOrder) == len(doc.Stages) {
		return doc.StageOrder
	}
	names := make([]string, 0, len(doc.Stages))
	for name := range doc.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fmtDuration(seconds *float64) string {
	if seconds == nil {
		return "—"
	}
	if *seconds < 60 {
		return fmt.Sprintf("%.1fs", *seconds)
	}
	minutes := int(*seconds) / 60
	secs := *seconds - float64(minutes*60)
	return fmt.Sprintf("%dm %.0fs", minutes, secs)
}

func fmtCost(cost *float64) string {
	if cost == nil {
		return "—"
	}
	return fmt.Sprintf("$%.2f", *cost)
}

func fmtScore(score *float64) string {
	if score == nil {
		return "—"
	}
	return fmt.Sprintf("%.1f", *score)
}

func passLabel(passed *bool) string {
	switch {
	case passed == nil:
		return "N/A"
	case *passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

// Compact renders the 5-6 line terminal scorecard.
func Compact(doc trace.Document) string {
	q := quality(doc)
	ev := evidence(doc)
	cost := synthesisCost(doc)

	lines := []string{"── Trace Summary ──────────────────────────"}
	lines = append(lines, fmt.Sprintf("Quality: %s/3.0  %-8sDuration: %s",
		fmtScore(q.score), passLabel(q.passed), fmtDuration(doc.Run.DurationSeconds)))

	evStr := "—"
	switch {
	case ev.collected != nil && ev.passed != nil:
		evStr = fmt.Sprintf("%d→%d", *ev.collected, *ev.passed)
	case ev.collected != nil:
		evStr = fmt.Sprintf("%d", *ev.collected)
	}
	lines = append(lines, fmt.Sprintf("Cost: %-20sEvidence: %s", fmtCost(cost), evStr))

	if len(q.gaps) > 0 {
		lines = append(lines, "Gaps: "+strings.Join(q.gaps, ", "))
	}
	lines = append(lines, "Trace: "+doc.TraceID)
	lines = append(lines, "────────────────────────────────────────────")
	return strings.Join(lines, "\n")
}

// Verbose renders the full stage-by-stage terminal breakdown.
func Verbose(doc trace.Document) string {
	q := quality(doc)
	ev := evidence(doc)

	lines := []string{"══ Trace Detail ═══════════════════════════════"}
	lines = append(lines, "Trace ID:  "+doc.TraceID)
	lines = append(lines, "Project:   "+orDash(doc.ProjectName))
	lines = append(lines, "Query:     "+truncate(orDash(doc.Run.Query), 80))
	lines = append(lines, fmt.Sprintf("Intent:    %s    Domain: %s",
		orDash(doc.Run.Intent), orDash(doc.Run.Domain)))
	lines = append(lines, fmt.Sprintf("Status:    %s    Duration: %s",
		doc.Run.Status, fmtDuration(doc.Run.DurationSeconds)))
	lines = append(lines, "")

	lines = append(lines, "── Quality Gate ───────────────────────────────")
	lines = append(lines, fmt.Sprintf("Score: %s/3.0  %s", fmtScore(q.score), passLabel(q.passed)))

	gapSet := make(map[string]bool, len(q.gaps))
	for _, id := range q.gaps {
		gapSet[id] = true
	}
	if entries := scoreEntries(doc); len(entries) > 0 {
		lines = append(lines, "Criterion Scores:")
		for _, e := range entries {
			marker := ""
			if gapSet[e.id] {
				marker = " <gap"
			}
			lines = append(lines, fmt.Sprintf("  %s: %g%s", e.id, e.score, marker))
		}
	}
	if len(q.gaps) > 0 {
		lines = append(lines, "Gap Criteria: "+strings.Join(q.gaps, ", "))
	}
	if len(q.strengths) > 0 {
		lines = append(lines, "Strengths: "+strings.Join(q.strengths, ", "))
	}
	lines = append(lines, "")

	lines = append(lines, "── Stages ─────────────────────────────────────")
	for _, name := range stageNames(doc) {
		s := doc.Stages[name]
		lines = append(lines, fmt.Sprintf("  %-16s %8s  (%d decisions)",
			name, fmtDuration(s.DurationSeconds), len(s.Decisions)))
	}
	lines = append(lines, "")

	lines = append(lines, "── Evidence ───────────────────────────────────")
	lines = append(lines, fmt.Sprintf("Collected: %s  Passed: %s  Filtered: %s",
		orDashInt(ev.collected), orDashInt(ev.passed), orDashInt(ev.filtered)))
	lines = append(lines, "")

	if synth, ok := doc.Stages[trace.StageSynthesis]; ok {
		lines = append(lines, "── Synthesis ──────────────────────────────────")
		model, _ := synth.Outputs["model"].Str()
		lines = append(lines, "Model: "+orDash(model))
		if usage, found := synth.Outputs["token_usage"]; found {
			lines = append(lines, fmt.Sprintf("Tokens: %s in / %s out",
				orDashInt(intField(usage, "input_tokens")),
				orDashInt(intField(usage, "output_tokens"))))
		}
		lines = append(lines, "Cost: "+fmtCost(synthesisCost(doc)))
		lines = append(lines, "")
	}

	lines = append(lines, "═══════════════════════════════════════════════")
	return strings.Join(lines, "\n")
}

func intField(v trace.Value, key string) *int {
	field, ok := v.Get(key)
	if !ok {
		return nil
	}
	return intOf(field)
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func orDashInt(i *int) string {
	if i == nil {
		return "—"
	}
	return fmt.Sprintf("%d", *i)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
