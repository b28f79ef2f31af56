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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/pkg/trace"
)

func finishedDoc() trace.Document {
	tr := trace.New(trace.StartOptions{
		ProjectName: "acme",
		Query:       "what changed in Q3",
		Intent:      "validating",
		Domain:      "fintech",
		Enabled:     true,
	})
	tr.BeginStage(trace.StageIntake)
	tr.Record(trace.StageIntake, "classified_intent", trace.DecisionData{
		What:       trace.String("validating"),
		Why:        "query names an existing claim",
		Confidence: trace.Confidence(0.9),
	})
	tr.EndStage(trace.StageIntake, nil, "")
	tr.BeginStage(trace.StageCollection)
	tr.RecordEvidence(trace.StageCollection, map[string]trace.Value{
		"collected_count": trace.Int(28),
		"by_source": trace.Map(map[string]trace.Value{
			"web":      trace.Int(20),
			"internal": trace.Int(8),
		}),
	})
	tr.EndStage(trace.StageCollection, map[string]trace.Value{
		"evidence_passed":   trace.Int(18),
		"evidence_filtered": trace.Int(10),
	}, "")
	tr.BeginStage(trace.StageSynthesis)
	tr.EndStage(trace.StageSynthesis, map[string]trace.Value{
		"model": trace.String("sonnet-large"),
		"token_usage": trace.Map(map[string]trace.Value{
			"input_tokens":  trace.Int(42000),
			"output_tokens": trace.Int(6100),
		}),
		"cost_usd": trace.Number(0.32),
	}, "")
	tr.BeginStage(trace.StageQualityGate)
	tr.EndStage(trace.StageQualityGate, map[string]trace.Value{
		"passed":        trace.Bool(true),
		"overall_score": trace.Number(2.4),
		"criterion_scores": trace.List(
			trace.Map(map[string]trace.Value{"id": trace.String("META-1"), "score": trace.Number(3)}),
			trace.Map(map[string]trace.Value{"id": trace.String("META-12"), "score": trace.Number(1.5)}),
		),
		"gap_criteria": trace.List(trace.String("META-12")),
	}, "")
	tr.RecordIteration(trace.Iteration{Passed: false, Score: 1.8, FailedCriteria: []string{"META-12"}})
	tr.RecordIteration(trace.Iteration{Passed: true, Score: 2.4})
	tr.SetOutput("report_file_path", trace.String("/data/projects/acme/report.md"))
	tr.MarkComplete()
	return tr.Snapshot()
}

func TestCompact(t *testing.T) {
	out := Compact(finishedDoc())
	lines := strings.Split(out, "\n")

	require.GreaterOrEqual(t, len(lines), 5)
	assert.Equal(t, "── Trace Summary ──────────────────────────", lines[0])
	assert.Contains(t, lines[1], "Quality: 2.4/3.0")
	assert.Contains(t, lines[1], "PASS")
	assert.Contains(t, lines[1], "Duration:")
	assert.Contains(t, lines[2], "Cost: $0.32")
	assert.Contains(t, lines[2], "Evidence: 28→18")
	assert.Contains(t, out, "Gaps: META-12")
	assert.Contains(t, out, "Trace: trc_")
}

func TestCompactMinimalDoc(t *testing.T) {
	tr := trace.New(trace.StartOptions{ProjectName: "acme", Enabled: true})
	tr.MarkFailed("collector crashed")
	out := Compact(tr.Snapshot())

	assert.Contains(t, out, "Quality: —/3.0")
	assert.Contains(t, out, "N/A")
	assert.Contains(t, out, "Evidence: —")
	assert.NotContains(t, out, "Gaps:")
}

func TestVerbose(t *testing.T) {
	doc := finishedDoc()
	out := Verbose(doc)

	assert.Contains(t, out, "Trace ID:  "+doc.TraceID)
	assert.Contains(t, out, "Project:   acme")
	assert.Contains(t, out, "Intent:    validating    Domain: fintech")
	assert.Contains(t, out, "Score: 2.4/3.0  PASS")
	assert.Contains(t, out, "  META-1: 3")
	assert.Contains(t, out, "  META-12: 1.5 <gap")
	assert.Contains(t, out, "Gap Criteria: META-12")
	assert.Contains(t, out, "(1 decisions)")
	assert.Contains(t, out, "Collected: 28  Passed: 18  Filtered: 10")
	assert.Contains(t, out, "Model: sonnet-large")
	assert.Contains(t, out, "Tokens: 42000 in / 6100 out")
	assert.Contains(t, out, "Cost: $0.32")

	// Stages listed in execution order.
	intakeIdx := strings.Index(out, "  intake")
	qgIdx := strings.Index(out, "  quality_gate")
	require.GreaterOrEqual(t, intakeIdx, 0)
	require.GreaterOrEqual(t, qgIdx, 0)
	assert.Less(t, intakeIdx, qgIdx)
}

func TestMarkdown(t *testing.T) {
	doc := finishedDoc()
	md := Markdown(doc)

	assert.True(t, strings.HasPrefix(md, "# Trace Summary: "+doc.TraceID))
	assert.Contains(t, md, "**Project:** acme")
	assert.Contains(t, md, "**Intent:** validating | **Domain:** fintech")
	assert.Contains(t, md, "**Result:** PASS (2.4/3.0)")
	assert.Contains(t, md, "**Gap Criteria:** META-12")
	assert.Contains(t, md, "| Criterion | Score | Status |")
	assert.Contains(t, md, "| META-1 | 3 | OK |")
	assert.Contains(t, md, "| META-12 | 1.5 | Gap |")
	assert.Contains(t, md, "- **Collected:** 28")
	assert.Contains(t, md, "**By Source:**")
	assert.Contains(t, md, "- internal: 8")
	assert.Contains(t, md, "- web: 20")
	assert.Contains(t, md, "| intake |")
	assert.Contains(t, md, "### intake")
	assert.Contains(t, md, "- **classified_intent**: validating")
	assert.Contains(t, md, "  - Why: query names an existing claim")
	assert.Contains(t, md, "  - Confidence: 90%")
	assert.Contains(t, md, "- **Model:** sonnet-large")
	assert.Contains(t, md, "- **Total iterations:** 2")
	assert.Contains(t, md, "- Iteration 1: FAIL")
	assert.Contains(t, md, "- Iteration 2: PASS")
	assert.Contains(t, md, "- **report_file_path:** /data/projects/acme/report.md")
	assert.True(t, strings.HasSuffix(md, "*Generated from trace "+doc.TraceID+"*"))
}

func TestMarkdownOmitsEmptySections(t *testing.T) {
	tr := trace.New(trace.StartOptions{ProjectName: "acme", Enabled: true})
	tr.MarkComplete()
	md := Markdown(tr.Snapshot())

	assert.Contains(t, md, "**Result:** Not evaluated")
	assert.NotContains(t, md, "## Iterations")
	assert.NotContains(t, md, "## Outputs")
	assert.NotContains(t, md, "## Synthesis")
}

func TestWriteFile(t *testing.T) {
	docs := docstore.New(t.TempDir(), nil)
	doc := finishedDoc()

	path, err := WriteFile(docs, doc)
	require.NoError(t, err)
	assert.Equal(t, doc.TraceID+"_summary.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Markdown(doc), string(data))
}

func TestFmtDuration(t *testing.T) {
	short := 42.3
	long := 185.0
	assert.Equal(t, "42.3s", fmtDuration(&short))
	assert.Equal(t, "3m 5s", fmtDuration(&long))
	assert.Equal(t, "—", fmtDuration(nil))
}
