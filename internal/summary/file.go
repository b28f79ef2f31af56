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

package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/pkg/errors"
	"github.com/tombee/provenance/pkg/trace"
)

// WriteFile renders the detailed markdown summary next to the trace
// document as <trace_id>_summary.md and returns its path.
func WriteFile(docs *docstore.Store, doc trace.Document) (string, error) {
	dir := docs.TracesDir(doc.ProjectName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &errors.WriteError{Path: dir, Cause: err}
	}
	path := filepath.Join(dir, doc.TraceID+"_summary.md")
	if err := os.WriteFile(path, []byte(Markdown(doc)), 0o644); err != nil {
		return "", &errors.WriteError{Path: path, Cause: err}
	}
	return path, nil
}

// Markdown renders the detailed summary document.
func Markdown(doc trace.Document) string {
	q := quality(doc)
	ev := evidence(doc)

	var md []string
	md = append(md, "# Trace Summary: "+doc.TraceID)
	md = append(md, "")
	md = append(md, "**Project:** "+orDash(doc.ProjectName))
	md = append(md, "**Query:** "+orDash(doc.Run.Query))
	md = append(md, fmt.Sprintf("**Intent:** %s | **Domain:** %s",
		orDash(doc.Run.Intent), orDash(doc.Run.Domain)))
	md = append(md, fmt.Sprintf("**Report Type:** %s | **Research Type:** %s",
		orDash(doc.Run.ReportType), orDash(doc.Run.ResearchType)))
	md = append(md, fmt.Sprintf("**Status:** %s", doc.Run.Status))
	md = append(md, "**Started:** "+orDashTime(doc.Run.StartedAt))
	md = append(md, "**Completed:** "+orDashTime(doc.Run.CompletedAt))
	md = append(md, "**Duration:** "+fmtDuration(doc.Run.DurationSeconds))
	md = append(md, "")

	md = append(md, "## Quality Gate")
	md = append(md, "")
	switch {
	case q.passed == nil:
		md = append(md, "**Result:** Not evaluated")
	case *q.passed:
		md = append(md, fmt.Sprintf("**Result:** PASS (%s/3.0)", fmtScore(q.score)))
	default:
		md = append(md, fmt.Sprintf("**Result:** FAIL (%s/3.0)", fmtScore(q.score)))
	}
	if len(q.gaps) > 0 {
		md = append(md, "**Gap Criteria:** "+strings.Join(q.gaps, ", "))
	}
	if len(q.strengths) > 0 {
		md = append(md, "**Strength Criteria:** "+strings.Join(q.strengths, ", "))
	}

	gapSet := make(map[string]bool, len(q.gaps))
	for _, id := range q.gaps {
		gapSet[id] = true
	}
	if entries := scoreEntries(doc); len(entries) > 0 {
		md = append(md, "")
		md = append(md, "| Criterion | Score | Status |")
		md = append(md, "|-----------|-------|--------|")
		for _, e := range entries {
			status := "OK"
			if gapSet[e.id] {
				status = "Gap"
			}
			md = append(md, fmt.Sprintf("| %s | %g | %s |", e.id, e.score, status))
		}
	}
	md = append(md, "")

	md = append(md, "## Evidence")
	md = append(md, "")
	md = append(md, "- **Collected:** "+orDashInt(ev.collected))
	md = append(md, "- **Passed filter:** "+orDashInt(ev.passed))
	md = append(md, "- **Filtered out:** "+orDashInt(ev.filtered))
	if coll, ok := doc.Stages[trace.StageCollection]; ok {
		if bySource, isMap := coll.Evidence["by_source"].Entries(); isMap && len(bySource) > 0 {
			md = append(md, "")
			md = append(md, "**By Source:**")
			sources := make([]string, 0, len(bySource))
			for source := range bySource {
				sources = append(sources, source)
			}
			sort.Strings(sources)
			for _, source := range sources {
				md = append(md, fmt.Sprintf("- %s: %s", source, bySource[source]))
			}
		}
	}
	md = append(md, "")

	md = append(md, "## Stage Breakdown")
	md = append(md, "")
	md = append(md, "| Stage | Duration | Decisions |")
	md = append(md, "|-------|----------|-----------|")
	for _, name := range stageNames(doc) {
		s := doc.Stages[name]
		md = append(md, fmt.Sprintf("| %s | %s | %d |", name, fmtDuration(s.DurationSeconds), len(s.Decisions)))
	}
	md = append(md, "")

	md = append(md, "## Decision Log")
	md = append(md, "")
	for _, name := range stageNames(doc) {
		s := doc.Stages[name]
		if len(s.Decisions) == 0 {
			continue
		}
		md = append(md, "### "+name)
		md = append(md, "")
		for _, d := range s.Decisions {
			md = append(md, fmt.Sprintf("- **%s**: %s", d.Decision, d.What))
			if d.Why != "" {
				md = append(md, "  - Why: "+d.Why)
			}
			if d.Confidence < 1.0 {
				md = append(md, fmt.Sprintf("  - Confidence: %.0f%%", d.Confidence*100))
			}
		}
		md = append(md, "")
	}

	if synth, ok := doc.Stages[trace.StageSynthesis]; ok {
		md = append(md, "## Synthesis")
		md = append(md, "")
		model, _ := synth.Outputs["model"].Str()
		md = append(md, "- **Model:** "+orDash(model))
		if usage, found := synth.Outputs["token_usage"]; found {
			md = append(md, "- **Input tokens:** "+orDashInt(intField(usage, "input_tokens")))
			md = append(md, "- **Output tokens:** "+orDashInt(intField(usage, "output_tokens")))
		}
		md = append(md, "- **Cost:** "+fmtCost(synthesisCost(doc)))
		md = append(md, "")
	}

	if len(doc.Iterations) > 0 {
		md = append(md, "## Iterations")
		md = append(md, "")
		md = append(md, fmt.Sprintf("- **Total iterations:** %d", doc.IterationCount))
		md = append(md, fmt.Sprintf("- **Quality gate failures:** %d", doc.QualityGateFailures))
		for i, it := range doc.Iterations {
			label := "FAIL"
			if it.Passed {
				label = "PASS"
			}
			md = append(md, fmt.Sprintf("- Iteration %d: %s", i+1, label))
		}
		md = append(md, "")
	}

	if len(doc.Outputs) > 0 {
		md = append(md, "## Outputs")
		md = append(md, "")
		keys := make([]string, 0, len(doc.Outputs))
		for k := range doc.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			md = append(md, fmt.Sprintf("- **%s:** %s", k, doc.Outputs[k]))
		}
		md = append(md, "")
	}

	md = append(md, "---")
	md = append(md, fmt.Sprintf("*Generated from trace %s*", doc.TraceID))

	return strings.Join(md, "\n")
}

func orDashTime(t *time.Time) string {
	if t == nil {
		return "—"
	}
	return t.UTC().Format(time.RFC3339)
}
