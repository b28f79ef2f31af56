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

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tombee/provenance/pkg/errors"
)

const rowColumns = `trace_id, project_id, project_name,
	query, intent, domain, report_type, research_type,
	status, quality_gate_passed, overall_quality_score,
	started_at, completed_at, duration_seconds,
	intake_duration, rubric_duration, collection_duration,
	synthesis_duration, quality_gate_duration,
	evidence_collected, evidence_passed, evidence_filtered,
	synthesis_model, synthesis_input_tokens, synthesis_output_tokens, synthesis_cost_usd,
	criterion_scores, gap_criteria, strength_criteria,
	iteration_count, quality_gate_failures,
	trace_file_path, report_file_path, output_file_paths,
	flagged_for_review, review_notes,
	tier_config, rubric_scores, criterion_breakdown,
	qg_iteration_count, retrieval_method,
	evidence_retrieved, evidence_used, retrieval_tokens, retrieval_cost_usd`

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	Intent      string
	Domain      string
	ProjectName string
	Status      string
	// QualityGatePassed filters on the pass/fail column when set.
	QualityGatePassed *bool
	// FlaggedOnly restricts to rows flagged for calibration review.
	FlaggedOnly bool
	// Limit caps the result count. Zero means no limit.
	Limit int
}

// List returns projection rows matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Row, error) {
	query := "SELECT " + rowColumns + " FROM traces WHERE 1=1"
	args := []any{}

	if filter.Intent != "" {
		query += " AND intent = ?"
		args = append(args, filter.Intent)
	}
	if filter.Domain != "" {
		query += " AND domain = ?"
		args = append(args, filter.Domain)
	}
	if filter.ProjectName != "" {
		query += " AND project_name = ?"
		args = append(args, filter.ProjectName)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.QualityGatePassed != nil {
		query += " AND quality_gate_passed = ?"
		args = append(args, boolInt(*filter.QualityGatePassed))
	}
	if filter.FlaggedOnly {
		query += " AND flagged_for_review = 1"
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// LowScoringCriterion returns completed runs where the given criterion
// scored below threshold, newest first.
func (s *Store) LowScoringCriterion(ctx context.Context, criterionID string, threshold float64, limit int) ([]*Row, error) {
	query := "SELECT " + rowColumns + ` FROM traces
		WHERE status = 'complete'
		  AND json_extract(criterion_scores, '$."' || ? || '"') < ?
		ORDER BY started_at DESC`
	args := []any{criterionID, threshold}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query low-scoring criterion: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Get retrieves one projection row by trace id.
func (s *Store) Get(ctx context.Context, traceID string) (*Row, error) {
	query := "SELECT " + rowColumns + " FROM traces WHERE trace_id = ?"
	rows, err := s.db.QueryContext(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, &errors.NotFoundError{Resource: "trace", ID: traceID}
	}
	return result[0], nil
}

// CriterionPatterns expands every completed run's gap list and counts
// occurrences per criterion, returning criteria with at least minRuns
// failures ordered by count descending. Unbounded in time: it answers
// "what fails most across history".
func (s *Store) CriterionPatterns(ctx context.Context, minRuns int) ([]CriterionPattern, error) {
	query := `
		SELECT je.value AS criterion_id, COUNT(*) AS fail_count
		FROM traces, json_each(COALESCE(traces.gap_criteria, '[]')) AS je
		WHERE status = 'complete'
		GROUP BY je.value
		HAVING COUNT(*) >= ?
		ORDER BY fail_count DESC, criterion_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, minRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to query criterion patterns: %w", err)
	}
	defer rows.Close()

	var patterns []CriterionPattern
	for rows.Next() {
		var p CriterionPattern
		if err := rows.Scan(&p.CriterionID, &p.FailCount); err != nil {
			return nil, fmt.Errorf("failed to scan criterion pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// GapCountSince counts completed runs that list the criterion as a gap
// and started after the given time.
func (s *Store) GapCountSince(ctx context.Context, criterionID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM traces
		WHERE status = 'complete'
		  AND started_at > ?
		  AND EXISTS (
			SELECT 1 FROM json_each(COALESCE(traces.gap_criteria, '[]')) je
			WHERE je.value = ?
		  )
	`
	var count int
	err := s.db.QueryRowContext(ctx, query, since.UnixNano(), criterionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count gap occurrences: %w", err)
	}
	return count, nil
}

// AvgQuality returns the average overall quality score over completed
// runs, optionally restricted by intent or domain (empty means no
// restriction). Nil when no completed run carries a score.
func (s *Store) AvgQuality(ctx context.Context, intent, domain string) (*float64, error) {
	query := `
		SELECT AVG(overall_quality_score)
		FROM traces
		WHERE status = 'complete' AND overall_quality_score IS NOT NULL
	`
	args := []any{}
	if intent != "" {
		query += " AND intent = ?"
		args = append(args, intent)
	}
	if domain != "" {
		query += " AND domain = ?"
		args = append(args, domain)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to compute average quality: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// PreviousCompletedForProject returns the most recent completed trace for
// a project that started before the given time, matching on project id
// when available and falling back to the project name.
func (s *Store) PreviousCompletedForProject(ctx context.Context, projectID, projectName string, before time.Time) (*Row, error) {
	query := "SELECT " + rowColumns + ` FROM traces
		WHERE status = 'complete' AND started_at < ?`
	args := []any{before.UnixNano()}

	switch {
	case projectID != "":
		query += " AND project_id = ?"
		args = append(args, projectID)
	case projectName != "":
		query += " AND project_name = ?"
		args = append(args, projectName)
	default:
		return nil, nil
	}

	query += " ORDER BY started_at DESC LIMIT 1"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query previous trace: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result[0], nil
}

// Summary computes aggregate counts and averages over the whole store.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	query := `
		SELECT
			COUNT(*) AS total_runs,
			SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END) AS complete,
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
			SUM(CASE WHEN status = 'incomplete' THEN 1 ELSE 0 END) AS incomplete,
			SUM(CASE WHEN quality_gate_passed = 1 THEN 1 ELSE 0 END) AS qg_passed,
			SUM(CASE WHEN quality_gate_passed = 0 THEN 1 ELSE 0 END) AS qg_failed,
			AVG(CASE WHEN status = 'complete' THEN overall_quality_score END) AS avg_quality,
			AVG(CASE WHEN status = 'complete' THEN duration_seconds END) AS avg_duration,
			AVG(CASE WHEN status = 'complete' THEN synthesis_cost_usd END) AS avg_cost
		FROM traces
	`

	var (
		sum                             Summary
		complete, failed, incomplete    sql.NullInt64
		qgPassed, qgFailed              sql.NullInt64
		avgQuality, avgDur, avgCost     sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sum.TotalRuns, &complete, &failed, &incomplete,
		&qgPassed, &qgFailed, &avgQuality, &avgDur, &avgCost,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute summary: %w", err)
	}

	sum.Complete = int(complete.Int64)
	sum.Failed = int(failed.Int64)
	sum.Incomplete = int(incomplete.Int64)
	sum.QGPassed = int(qgPassed.Int64)
	sum.QGFailed = int(qgFailed.Int64)
	if avgQuality.Valid {
		sum.AvgQuality = &avgQuality.Float64
	}
	if avgDur.Valid {
		sum.AvgDuration = &avgDur.Float64
	}
	if avgCost.Valid {
		sum.AvgCost = &avgCost.Float64
	}
	return &sum, nil
}

// IntentSummaries reads the trace_intent_summary view.
func (s *Store) IntentSummaries(ctx context.Context) ([]IntentSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT intent, total_runs, passed, failed, avg_quality, avg_duration, avg_cost
		 FROM trace_intent_summary`)
	if err != nil {
		return nil, fmt.Errorf("failed to query intent summary: %w", err)
	}
	defer rows.Close()

	var out []IntentSummary
	for rows.Next() {
		var (
			is                      IntentSummary
			intent                  sql.NullString
			avgQ, avgD, avgC        sql.NullFloat64
		)
		if err := rows.Scan(&intent, &is.TotalRuns, &is.Passed, &is.Failed, &avgQ, &avgD, &avgC); err != nil {
			return nil, fmt.Errorf("failed to scan intent summary: %w", err)
		}
		is.Intent = intent.String
		if avgQ.Valid {
			is.AvgQuality = &avgQ.Float64
		}
		if avgD.Valid {
			is.AvgDuration = &avgD.Float64
		}
		if avgC.Valid {
			is.AvgCost = &avgC.Float64
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// scanRows converts a result set over rowColumns into Row values.
func scanRows(rows *sql.Rows) ([]*Row, error) {
	var out []*Row
	for rows.Next() {
		var (
			r Row

			projectID, projectName, query, intent, domain       sql.NullString
			reportType, researchType, synthModel                sql.NullString
			traceFile, reportFile, reviewNotes                  sql.NullString
			tierConfig, retrievalMethod, criterionBreakdown     sql.NullString
			scoresJSON, gapsJSON, strengthsJSON                 sql.NullString
			pathsJSON, rubricJSON                               sql.NullString
			qgPassed                                            sql.NullInt64
			startedAt                                           int64
			completedAt                                         sql.NullInt64
			overallScore, durationSeconds                       sql.NullFloat64
			intakeDur, rubricDur, collDur, synthDur, qgDur      sql.NullFloat64
			evCollected, evPassed, evFiltered                   sql.NullInt64
			inTokens, outTokens                                 sql.NullInt64
			synthCost                                           sql.NullFloat64
			qgIterations, evRetrieved, evUsed, retrievalTokens  sql.NullInt64
			retrievalCost                                       sql.NullFloat64
			flagged                                             int64
		)

		err := rows.Scan(
			&r.TraceID, &projectID, &projectName,
			&query, &intent, &domain, &reportType, &researchType,
			&r.Status, &qgPassed, &overallScore,
			&startedAt, &completedAt, &durationSeconds,
			&intakeDur, &rubricDur, &collDur, &synthDur, &qgDur,
			&evCollected, &evPassed, &evFiltered,
			&synthModel, &inTokens, &outTokens, &synthCost,
			&scoresJSON, &gapsJSON, &strengthsJSON,
			&r.IterationCount, &r.QualityGateFailures,
			&traceFile, &reportFile, &pathsJSON,
			&flagged, &reviewNotes,
			&tierConfig, &rubricJSON, &criterionBreakdown,
			&qgIterations, &retrievalMethod,
			&evRetrieved, &evUsed, &retrievalTokens, &retrievalCost,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trace row: %w", err)
		}

		r.ProjectID = projectID.String
		r.ProjectName = projectName.String
		r.Query = query.String
		r.Intent = intent.String
		r.Domain = domain.String
		r.ReportType = reportType.String
		r.ResearchType = researchType.String
		r.SynthesisModel = synthModel.String
		r.TraceFilePath = traceFile.String
		r.ReportFilePath = reportFile.String
		r.ReviewNotes = reviewNotes.String
		r.TierConfig = tierConfig.String
		r.RetrievalMethod = retrievalMethod.String
		r.CriterionBreakdown = criterionBreakdown.String
		r.FlaggedForReview = flagged != 0

		if qgPassed.Valid {
			b := qgPassed.Int64 != 0
			r.QualityGatePassed = &b
		}
		r.StartedAt = time.Unix(0, startedAt)
		if completedAt.Valid {
			t := time.Unix(0, completedAt.Int64)
			r.CompletedAt = &t
		}
		r.OverallQualityScore = nullFloat(overallScore)
		r.DurationSeconds = nullFloat(durationSeconds)
		r.IntakeDuration = nullFloat(intakeDur)
		r.RubricDuration = nullFloat(rubricDur)
		r.CollectionDuration = nullFloat(collDur)
		r.SynthesisDuration = nullFloat(synthDur)
		r.QualityGateDuration = nullFloat(qgDur)
		r.SynthesisCostUSD = nullFloat(synthCost)
		r.RetrievalCostUSD = nullFloat(retrievalCost)
		r.EvidenceCollected = nullInt(evCollected)
		r.EvidencePassed = nullInt(evPassed)
		r.EvidenceFiltered = nullInt(evFiltered)
		r.SynthesisInputTokens = nullInt(inTokens)
		r.SynthesisOutputTokens = nullInt(outTokens)
		r.QGIterationCount = nullInt(qgIterations)
		r.EvidenceRetrieved = nullInt(evRetrieved)
		r.EvidenceUsed = nullInt(evUsed)
		r.RetrievalTokens = nullInt(retrievalTokens)

		if scoresJSON.Valid && scoresJSON.String != "" {
			if err := json.Unmarshal([]byte(scoresJSON.String), &r.CriterionScores); err != nil {
				return nil, fmt.Errorf("failed to parse criterion scores: %w", err)
			}
		}
		if gapsJSON.Valid && gapsJSON.String != "" {
			if err := json.Unmarshal([]byte(gapsJSON.String), &r.GapCriteria); err != nil {
				return nil, fmt.Errorf("failed to parse gap criteria: %w", err)
			}
		}
		if strengthsJSON.Valid && strengthsJSON.String != "" {
			if err := json.Unmarshal([]byte(strengthsJSON.String), &r.StrengthCriteria); err != nil {
				return nil, fmt.Errorf("failed to parse strength criteria: %w", err)
			}
		}
		if pathsJSON.Valid && pathsJSON.String != "" {
			if err := json.Unmarshal([]byte(pathsJSON.String), &r.OutputFilePaths); err != nil {
				return nil, fmt.Errorf("failed to parse output file paths: %w", err)
			}
		}
		if rubricJSON.Valid && rubricJSON.String != "" {
			if err := json.Unmarshal([]byte(rubricJSON.String), &r.RubricScores); err != nil {
				return nil, fmt.Errorf("failed to parse rubric scores: %w", err)
			}
		}

		out = append(out, &r)
	}
	return out, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
