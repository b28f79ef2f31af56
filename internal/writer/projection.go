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

package writer

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/pkg/trace"
)

// BuildRow computes the queryable projection of a trace document. The
// row is derived entirely from the document; nothing here mutates it.
func BuildRow(doc trace.Document) *metastore.Row {
	row := &metastore.Row{
		TraceID:             doc.TraceID,
		ProjectID:           doc.ProjectID,
		ProjectName:         doc.ProjectName,
		Query:               doc.Run.Query,
		Intent:              doc.Run.Intent,
		Domain:              doc.Run.Domain,
		ReportType:          doc.Run.ReportType,
		ResearchType:        doc.Run.ResearchType,
		Status:              string(doc.Run.Status),
		DurationSeconds:     doc.Run.DurationSeconds,
		CompletedAt:         doc.Run.CompletedAt,
		IterationCount:      doc.IterationCount,
		QualityGateFailures: doc.QualityGateFailures,
	}
	if doc.Run.StartedAt != nil {
		row.StartedAt = *doc.Run.StartedAt
	}

	row.IntakeDuration = stageDuration(doc, trace.StageIntake)
	row.RubricDuration = stageDuration(doc, trace.StageRubric)
	row.CollectionDuration = stageDuration(doc, trace.StageCollection)
	row.SynthesisDuration = stageDuration(doc, trace.StageSynthesis)
	row.QualityGateDuration = stageDuration(doc, trace.StageQualityGate)

	extractQualityGate(doc, row)
	extractSynthesis(doc, row)
	extractEvidence(doc, row)
	extractEnriched(doc, row)
	extractPaths(doc, row)

	return row
}

func stageDuration(doc trace.Document, name string) *float64 {
	s, ok := doc.Stages[name]
	if !ok {
		return nil
	}
	return s.DurationSeconds
}

// extractQualityGate pulls pass/fail, the overall score, and the
// per-criterion scores from the quality_gate stage outputs. Scores
// arrive either as a list of {id, score} objects or as a map keyed by
// criterion id. Gap and strength lists are taken verbatim when the
// gate provides them, otherwise derived from the scores: below 2 is a
// gap, a full 3 is a strength.
func extractQualityGate(doc trace.Document, row *metastore.Row) {
	qg, ok := doc.Stages[trace.StageQualityGate]
	if !ok {
		return
	}

	if v, found := qg.Outputs["passed"]; found {
		if b, isBool := v.Boolean(); isBool {
			row.QualityGatePassed = &b
		}
	}
	if v, found := qg.Outputs["overall_score"]; found {
		if f, isNum := v.Float(); isNum {
			row.OverallQualityScore = &f
		}
	}

	row.CriterionScores = criterionScores(qg.Outputs["criterion_scores"])

	if v, found := qg.Outputs["gap_criteria"]; found {
		row.GapCriteria = stringList(v)
	} else {
		row.GapCriteria = criteriaWhere(row.CriterionScores, func(s float64) bool { return s < 2 })
	}
	if v, found := qg.Outputs["strength_criteria"]; found {
		row.StrengthCriteria = stringList(v)
	} else {
		row.StrengthCriteria = criteriaWhere(row.CriterionScores, func(s float64) bool { return s == 3 })
	}
}

// criterionScores normalizes both accepted score shapes into a map.
func criterionScores(v trace.Value) map[string]float64 {
	if elems, ok := v.Elems(); ok {
		scores := make(map[string]float64)
		for _, e := range elems {
			idVal, hasID := e.Get("id")
			scoreVal, hasScore := e.Get("score")
			if !hasID || !hasScore {
				continue
			}
			id, okID := idVal.Str()
			score, okScore := scoreVal.Float()
			if okID && okScore {
				scores[id] = score
			}
		}
		if len(scores) == 0 {
			return nil
		}
		return scores
	}

	if entries, ok := v.Entries(); ok {
		scores := make(map[string]float64, len(entries))
		for id, sv := range entries {
			if score, isNum := sv.Float(); isNum {
				scores[id] = score
			}
		}
		if len(scores) == 0 {
			return nil
		}
		return scores
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

func criteriaWhere(scores map[string]float64, match func(float64) bool) []string {
	if len(scores) == 0 {
		return nil
	}
	var ids []string
	for id, score := range scores {
		if match(score) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func extractSynthesis(doc trace.Document, row *metastore.Row) {
	synth, ok := doc.Stages[trace.StageSynthesis]
	if !ok {
		return
	}

	if model, found := synth.Outputs["model"]; found {
		row.SynthesisModel, _ = model.Str()
	}
	if usage, found := synth.Outputs["token_usage"]; found {
		row.SynthesisInputTokens = intField(usage, "input_tokens")
		row.SynthesisOutputTokens = intField(usage, "output_tokens")
	}
	if v, found := synth.Outputs["cost_usd"]; found {
		if f, isNum := v.Float(); isNum {
			row.SynthesisCostUSD = &f
		}
	}
}

// extractEvidence reads the collection counters: collected_count lives
// in the stage evidence map, passed/filtered in its outputs.
func extractEvidence(doc trace.Document, row *metastore.Row) {
	coll, ok := doc.Stages[trace.StageCollection]
	if !ok {
		return
	}

	if v, found := coll.Evidence["collected_count"]; found {
		row.EvidenceCollected = intOf(v)
	}
	if v, found := coll.Outputs["evidence_passed"]; found {
		row.EvidencePassed = intOf(v)
	}
	if v, found := coll.Outputs["evidence_filtered"]; found {
		row.EvidenceFiltered = intOf(v)
	}
}

// extractEnriched reads the calibration/retrieval columns recorded as
// run-level outputs.
func extractEnriched(doc trace.Document, row *metastore.Row) {
	outputs := doc.Outputs

	row.TierConfig = stringOrJSON(outputs["tier_config"])
	row.QGIterationCount = intOf(outputs["qg_iteration_count"])
	if v, found := outputs["retrieval_method"]; found {
		row.RetrievalMethod, _ = v.Str()
	}
	row.EvidenceRetrieved = intOf(outputs["evidence_retrieved"])
	row.EvidenceUsed = intOf(outputs["evidence_used"])
	row.RetrievalTokens = intOf(outputs["retrieval_tokens"])
	if v, found := outputs["retrieval_cost_usd"]; found {
		if f, isNum := v.Float(); isNum {
			row.RetrievalCostUSD = &f
		}
	}

	if entries, ok := outputs["rubric_scores"].Entries(); ok {
		scores := make(map[string]float64, len(entries))
		for id, sv := range entries {
			if f, isNum := sv.Float(); isNum {
				scores[id] = f
			}
		}
		if len(scores) > 0 {
			row.RubricScores = scores
		}
	}

	if v, found := outputs["criterion_breakdown"]; found && !v.IsNull() {
		row.CriterionBreakdown = stringOrJSON(v)
	}
}

// extractPaths collects file-path outputs: the document and report
// cross-references plus every path-looking string output.
func extractPaths(doc trace.Document, row *metastore.Row) {
	if v, found := doc.Outputs["trace_file_path"]; found {
		row.TraceFilePath, _ = v.Str()
	}
	if v, found := doc.Outputs["report_file_path"]; found {
		row.ReportFilePath, _ = v.Str()
	} else if v, found := doc.Outputs["report_path"]; found {
		row.ReportFilePath, _ = v.Str()
	}

	var paths []string
	keys := make([]string, 0, len(doc.Outputs))
	for k := range doc.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := doc.Outputs[k].Str(); ok && strings.ContainsAny(s, `/\`) {
			paths = append(paths, s)
		}
	}
	row.OutputFilePaths = paths
}

func intField(v trace.Value, key string) *int {
	field, ok := v.Get(key)
	if !ok {
		return nil
	}
	return intOf(field)
}

func intOf(v trace.Value) *int {
	f, ok := v.Float()
	if !ok {
		return nil
	}
	i := int(f)
	return &i
}

// stringOrJSON flattens a value into a string column: strings pass
// through, structured values are serialized.
func stringOrJSON(v trace.Value) string {
	if v.IsNull() {
		return ""
	}
	if s, ok := v.Str(); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
