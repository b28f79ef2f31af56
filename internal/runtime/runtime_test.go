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

package runtime

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/provenance/internal/config"
	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/internal/writer"
	"github.com/tombee/provenance/pkg/trace"
)

func newManager(t *testing.T, mutCfg func(*config.Config)) (*Manager, *metastore.Store, *docstore.Store) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := &config.Config{
		Enabled: true,
		DataDir: dataDir,
		Database: config.DatabaseConfig{Path: ":memory:"},
		Summary:  config.SummaryConfig{WriteFile: true},
	}
	if mutCfg != nil {
		mutCfg(cfg)
	}
	meta, err := metastore.New(metastore.Config{Path: cfg.Database.Path})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	docs := docstore.New(cfg.DataDir, nil)
	return NewWithStores(cfg, docs, meta, nil), meta, docs
}

func record(t *trace.Trace) {
	t.BeginStage(trace.StageIntake)
	t.Record(trace.StageIntake, "classified_intent", trace.DecisionData{What: trace.String("validating")})
	t.EndStage(trace.StageIntake, map[string]trace.Value{"intent": trace.String("validating")}, "")
	t.BeginStage(trace.StageQualityGate)
	t.EndStage(trace.StageQualityGate, map[string]trace.Value{
		"passed":        trace.Bool(true),
		"overall_score": trace.Number(2.4),
	}, "")
}

func TestStartBindsTraceToContext(t *testing.T) {
	m, _, _ := newManager(t, nil)

	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	assert.False(t, tr.Disabled())
	assert.Same(t, tr, m.Current(ctx))
	assert.True(t, m.Current(context.Background()).Disabled(), "unbound context yields the sentinel")
}

func TestFinishPersistsBothSinks(t *testing.T) {
	m, meta, docs := newManager(t, nil)
	ctx, tr := m.Start(context.Background(), trace.StartOptions{
		ProjectName: "acme",
		Intent:      "validating",
	})
	record(tr)
	tr.MarkComplete()

	result := m.Finish(ctx, tr)

	assert.True(t, result.Saved)
	assert.Equal(t, trace.StatusComplete, result.Status)
	assert.FileExists(t, result.FilePath)
	assert.FileExists(t, result.SummaryPath)
	assert.True(t, strings.HasSuffix(result.SummaryPath, tr.ID()+"_summary.md"))

	row, err := meta.Get(ctx, tr.ID())
	require.NoError(t, err)
	assert.Equal(t, "complete", row.Status)
	require.NotNil(t, row.OverallQualityScore)
	assert.Equal(t, 2.4, *row.OverallQualityScore)

	doc, err := docs.Read(result.FilePath)
	require.NoError(t, err)
	assert.Equal(t, tr.ID(), doc.TraceID)
}

func TestFinishPrintsCompactSummary(t *testing.T) {
	m, _, _ := newManager(t, nil)
	var buf bytes.Buffer
	m.SetOutput(&buf)

	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	record(tr)
	tr.MarkComplete()
	m.Finish(ctx, tr)

	assert.Contains(t, buf.String(), "── Trace Summary ──")
	assert.NotContains(t, buf.String(), "══ Trace Detail ══")
}

func TestFinishPrintsVerboseSummary(t *testing.T) {
	m, _, _ := newManager(t, func(cfg *config.Config) {
		cfg.Summary.Verbose = true
	})
	var buf bytes.Buffer
	m.SetOutput(&buf)

	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	record(tr)
	tr.MarkComplete()
	m.Finish(ctx, tr)

	assert.Contains(t, buf.String(), "══ Trace Detail ══")
}

func TestFinishDemotesInProgressToIncomplete(t *testing.T) {
	m, meta, _ := newManager(t, nil)
	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	record(tr)

	result := m.Finish(ctx, tr)

	assert.Equal(t, trace.StatusIncomplete, result.Status)
	row, err := meta.Get(ctx, tr.ID())
	require.NoError(t, err)
	assert.Equal(t, "incomplete", row.Status)
}

func TestFinishSurvivesCancelledContext(t *testing.T) {
	m, meta, _ := newManager(t, nil)
	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	record(tr)
	tr.MarkComplete()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	result := m.Finish(cancelled, tr)

	assert.True(t, result.Saved, "persistence must outlive the run's context")
	_, err := meta.Get(context.Background(), tr.ID())
	assert.NoError(t, err)
}

func TestFinishDisabled(t *testing.T) {
	m, err := New(&config.Config{Enabled: false}, nil)
	require.NoError(t, err)
	defer m.Close()

	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	assert.True(t, tr.Disabled())

	result := m.Finish(ctx, tr)
	assert.False(t, result.Saved)
	assert.Equal(t, trace.StatusDisabled, result.Status)
	assert.Equal(t, "tracing_disabled", result.Reason)
	assert.Empty(t, result.SummaryPath)
}

func TestFinishNilTraceUsesContext(t *testing.T) {
	m, _, _ := newManager(t, nil)
	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	record(tr)
	tr.MarkComplete()

	result := m.Finish(ctx, nil)
	assert.Equal(t, tr.ID(), result.TraceID)
	assert.True(t, result.Saved)
}

func TestTracedComplete(t *testing.T) {
	m, meta, _ := newManager(t, nil)

	var traceID string
	result, err := m.Traced(context.Background(), trace.StartOptions{ProjectName: "acme"},
		func(ctx context.Context) error {
			tr := m.Current(ctx)
			traceID = tr.ID()
			record(tr)
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, trace.StatusComplete, result.Status)
	row, rerr := meta.Get(context.Background(), traceID)
	require.NoError(t, rerr)
	assert.Equal(t, "complete", row.Status)
}

func TestTracedError(t *testing.T) {
	m, meta, _ := newManager(t, nil)
	boom := errors.New("collector crashed")

	result, err := m.Traced(context.Background(), trace.StartOptions{ProjectName: "acme"},
		func(ctx context.Context) error { return boom })

	assert.Same(t, boom, err)
	assert.Equal(t, trace.StatusFailed, result.Status)

	row, rerr := meta.Get(context.Background(), result.TraceID)
	require.NoError(t, rerr)
	assert.Equal(t, "failed", row.Status)
}

func TestTracedCancellation(t *testing.T) {
	m, _, _ := newManager(t, nil)

	result, err := m.Traced(context.Background(), trace.StartOptions{ProjectName: "acme"},
		func(ctx context.Context) error { return context.Canceled })

	// fn's own context was never cancelled, so this is a failure, not
	// an incomplete run.
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, trace.StatusFailed, result.Status)
}

func TestTracedParentCancellation(t *testing.T) {
	m, _, _ := newManager(t, nil)
	parent, cancel := context.WithCancel(context.Background())

	result, err := m.Traced(parent, trace.StartOptions{ProjectName: "acme"},
		func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, trace.StatusIncomplete, result.Status)
	assert.True(t, result.Saved, "interrupted runs still persist")
}

func TestFinishRunsCalibrationOnPartialWrite(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &config.Config{
		Enabled: true,
		DataDir: dataDir,
		Database: config.DatabaseConfig{Path: ":memory:"},
	}
	meta, err := metastore.New(metastore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	// The writer's metadata sink is a closed store, so only the
	// document write can land.
	broken, err := metastore.New(metastore.Config{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, broken.Close())

	docs := docstore.New(dataDir, nil)
	m := NewWithStores(cfg, docs, meta, nil)
	m.writer = writer.New(docs, broken, nil)

	passed := true
	score := 2.5
	require.NoError(t, meta.Insert(context.Background(), &metastore.Row{
		TraceID:             "trc_20260213_143022_00000001",
		ProjectName:         "acme",
		Status:              "complete",
		QualityGatePassed:   &passed,
		OverallQualityScore: &score,
		StartedAt:           time.Now().Add(-time.Hour),
	}))

	ctx, tr := m.Start(context.Background(), trace.StartOptions{ProjectName: "acme"})
	tr.BeginStage(trace.StageQualityGate)
	tr.EndStage(trace.StageQualityGate, map[string]trace.Value{
		"passed":        trace.Bool(false),
		"overall_score": trace.Number(1.4),
	}, "")
	tr.MarkComplete()

	result := m.Finish(ctx, tr)

	assert.NoError(t, result.FileErr)
	assert.Error(t, result.MetadataErr)
	assert.True(t, result.Saved)
	require.Len(t, result.CalibrationFlags, 1, "analyzer must run on a partial write")
	assert.Contains(t, result.CalibrationFlags[0], "Quality regression detected for project acme")
}

func TestTracedCalibrationRunsOnFlags(t *testing.T) {
	m, meta, _ := newManager(t, nil)

	// Two completed runs for the project, the second failing the gate
	// after the first passed, trips the regression check.
	_, err := m.Traced(context.Background(), trace.StartOptions{ProjectName: "acme"},
		func(ctx context.Context) error {
			record(m.Current(ctx))
			return nil
		})
	require.NoError(t, err)

	result, err := m.Traced(context.Background(), trace.StartOptions{ProjectName: "acme"},
		func(ctx context.Context) error {
			tr := m.Current(ctx)
			tr.BeginStage(trace.StageQualityGate)
			tr.EndStage(trace.StageQualityGate, map[string]trace.Value{
				"passed":        trace.Bool(false),
				"overall_score": trace.Number(1.4),
			}, "")
			return nil
		})
	require.NoError(t, err)

	require.Len(t, result.CalibrationFlags, 1)
	assert.Contains(t, result.CalibrationFlags[0], "Quality regression detected for project acme")

	row, err := meta.Get(context.Background(), result.TraceID)
	require.NoError(t, err)
	assert.True(t, row.FlaggedForReview)
}
