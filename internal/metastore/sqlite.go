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

// Package metastore provides the SQLite-backed denormalized trace store.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/provenance/pkg/errors"
)

// Store provides SQLite-backed storage for trace projection rows.
type Store struct {
	db *sql.DB
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// New creates a new SQLite storage backend.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode lets readers proceed while the writer holds the database.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	if cfg.Path == ":memory:" {
		// Every pooled connection to :memory: opens its own database.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		// One projection row per trace, keyed by the immutable trace_id.
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id TEXT PRIMARY KEY,
			project_id TEXT,
			project_name TEXT,

			query TEXT,
			intent TEXT,
			domain TEXT,
			report_type TEXT,
			research_type TEXT,

			status TEXT NOT NULL DEFAULT 'in_progress',
			quality_gate_passed INTEGER,
			overall_quality_score REAL,

			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_seconds REAL,

			intake_duration REAL,
			rubric_duration REAL,
			collection_duration REAL,
			synthesis_duration REAL,
			quality_gate_duration REAL,

			evidence_collected INTEGER,
			evidence_passed INTEGER,
			evidence_filtered INTEGER,

			synthesis_model TEXT,
			synthesis_input_tokens INTEGER,
			synthesis_output_tokens INTEGER,
			synthesis_cost_usd REAL,

			criterion_scores TEXT NOT NULL DEFAULT '{}',
			gap_criteria TEXT,
			strength_criteria TEXT,

			iteration_count INTEGER NOT NULL DEFAULT 1,
			quality_gate_failures INTEGER NOT NULL DEFAULT 0,

			trace_file_path TEXT,
			report_file_path TEXT,
			output_file_paths TEXT,

			flagged_for_review INTEGER NOT NULL DEFAULT 0,
			review_notes TEXT,

			tier_config TEXT,
			rubric_scores TEXT,
			criterion_breakdown TEXT,
			qg_iteration_count INTEGER,
			retrieval_method TEXT,
			evidence_retrieved INTEGER,
			evidence_used INTEGER,
			retrieval_tokens INTEGER,
			retrieval_cost_usd REAL,

			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// Indexes backing the calibration query types.
		`CREATE INDEX IF NOT EXISTS idx_traces_intent ON traces(intent)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_domain ON traces(domain)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_report_type ON traces(report_type)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_quality_gate ON traces(quality_gate_passed)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_project ON traces(project_name)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_started ON traces(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_overall_score ON traces(overall_quality_score)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_flagged ON traces(flagged_for_review) WHERE flagged_for_review = 1`,

		// Completed runs with at least one gap criterion.
		`CREATE VIEW IF NOT EXISTS trace_quality_gaps AS
		SELECT
			trace_id,
			project_name,
			intent,
			domain,
			report_type,
			overall_quality_score,
			quality_gate_passed,
			gap_criteria,
			criterion_scores,
			started_at
		FROM traces
		WHERE status = 'complete'
		  AND gap_criteria IS NOT NULL
		  AND json_array_length(gap_criteria) > 0
		ORDER BY started_at DESC`,

		// Per-intent run counts and quality/duration/cost averages.
		`CREATE VIEW IF NOT EXISTS trace_intent_summary AS
		SELECT
			intent,
			COUNT(*) AS total_runs,
			SUM(CASE WHEN quality_gate_passed = 1 THEN 1 ELSE 0 END) AS passed,
			SUM(CASE WHEN quality_gate_passed = 0 THEN 1 ELSE 0 END) AS failed,
			AVG(overall_quality_score) AS avg_quality,
			AVG(duration_seconds) AS avg_duration,
			AVG(synthesis_cost_usd) AS avg_cost
		FROM traces
		WHERE status = 'complete'
		GROUP BY intent
		ORDER BY total_runs DESC`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Insert writes one projection row. A second insert for the same trace id
// fails the primary-key constraint; that failure is reported as a
// MetadataError with Duplicate set, never escalated differently from any
// other write failure.
func (s *Store) Insert(ctx context.Context, row *Row) error {
	if row == nil {
		return fmt.Errorf("row is nil")
	}
	if row.TraceID == "" {
		return fmt.Errorf("row trace_id is required")
	}

	scoresJSON, err := marshalJSONMap(row.CriterionScores)
	if err != nil {
		return &errors.MetadataError{TraceID: row.TraceID, Cause: err}
	}
	rubricJSON, err := marshalJSONMapOrNil(row.RubricScores)
	if err != nil {
		return &errors.MetadataError{TraceID: row.TraceID, Cause: err}
	}
	gapsJSON, err := marshalJSONListOrNil(row.GapCriteria)
	if err != nil {
		return &errors.MetadataError{TraceID: row.TraceID, Cause: err}
	}
	strengthsJSON, err := marshalJSONListOrNil(row.StrengthCriteria)
	if err != nil {
		return &errors.MetadataError{TraceID: row.TraceID, Cause: err}
	}
	pathsJSON, err := marshalJSONListOrNil(row.OutputFilePaths)
	if err != nil {
		return &errors.MetadataError{TraceID: row.TraceID, Cause: err}
	}

	now := time.Now().UnixNano()

	query := `
		INSERT INTO traces (
			trace_id, project_id, project_name,
			query, intent, domain, report_type, research_type,
			status, quality_gate_passed, overall_quality_score,
			started_at, completed_at, duration_seconds,
			intake_duration, rubric_duration, collection_duration,
			synthesis_duration, quality_gate_duration,
			evidence_collected, evidence_passed, evidence_filtered,
			synthesis_model, synthesis_input_tokens, synthesis_output_tokens,
			synthesis_cost_usd,
			criterion_scores, gap_criteria, strength_criteria,
			iteration_count, quality_gate_failures,
			trace_file_path, report_file_path, output_file_paths,
			flagged_for_review, review_notes,
			tier_config, rubric_scores, criterion_breakdown,
			qg_iteration_count, retrieval_method,
			evidence_retrieved, evidence_used,
			retrieval_tokens, retrieval_cost_usd,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		row.TraceID, nullStr(row.ProjectID), nullStr(row.ProjectName),
		nullStr(row.Query), nullStr(row.Intent), nullStr(row.Domain),
		nullStr(row.ReportType), nullStr(row.ResearchType),
		row.Status, nullBool(row.QualityGatePassed), row.OverallQualityScore,
		row.StartedAt.UnixNano(), nullTime(row.CompletedAt), row.DurationSeconds,
		row.IntakeDuration, row.RubricDuration, row.CollectionDuration,
		row.SynthesisDuration, row.QualityGateDuration,
		row.EvidenceCollected, row.EvidencePassed, row.EvidenceFiltered,
		nullStr(row.SynthesisModel), row.SynthesisInputTokens, row.SynthesisOutputTokens,
		row.SynthesisCostUSD,
		scoresJSON, gapsJSON, strengthsJSON,
		row.IterationCount, row.QualityGateFailures,
		nullStr(row.TraceFilePath), nullStr(row.ReportFilePath), pathsJSON,
		boolInt(row.FlaggedForReview), nullStr(row.ReviewNotes),
		nullStr(row.TierConfig), rubricJSON, nullStr(row.CriterionBreakdown),
		row.QGIterationCount, nullStr(row.RetrievalMethod),
		row.EvidenceRetrieved, row.EvidenceUsed,
		row.RetrievalTokens, row.RetrievalCostUSD,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errors.MetadataError{TraceID: row.TraceID, Duplicate: true, Cause: err}
		}
		return &errors.MetadataError{TraceID: row.TraceID, Cause: err}
	}

	return nil
}

// SetFlagged marks a trace row for calibration review.
func (s *Store) SetFlagged(ctx context.Context, traceID string, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE traces SET flagged_for_review = 1,
			review_notes = COALESCE(NULLIF(?, ''), review_notes),
			updated_at = ?
		 WHERE trace_id = ?`,
		notes, time.Now().UnixNano(), traceID,
	)
	if err != nil {
		return &errors.MetadataError{TraceID: traceID, Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "trace", ID: traceID}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
// This is exported for testing and advanced use cases.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isUniqueViolation reports whether err is a SQLite uniqueness constraint
// failure. Matched on message text to stay independent of driver error
// types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalJSONMap(m map[string]float64) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalJSONMapOrNil(m map[string]float64) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func marshalJSONListOrNil(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
