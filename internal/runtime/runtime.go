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

// Package runtime ties the trace lifecycle together: starting a trace
// bound to a context, finishing it through the dual-sink writer, then
// summaries and calibration. A pipeline run interacts with tracing
// only through the Manager; every failure past Start is logged and
// absorbed here, never surfaced into the run.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tombee/provenance/internal/calibration"
	"github.com/tombee/provenance/internal/config"
	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/log"
	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/internal/summary"
	"github.com/tombee/provenance/internal/writer"
	"github.com/tombee/provenance/pkg/trace"
)

// FinishResult is the complete outcome of finishing one trace: the
// per-sink write result plus the summary and calibration side effects.
type FinishResult struct {
	writer.Result

	// SummaryPath is the markdown summary file, when one was written.
	SummaryPath string
	// CalibrationFlags are the advisory messages emitted for this run.
	CalibrationFlags []string
}

// Manager owns the sinks and runs the trace lifecycle.
type Manager struct {
	cfg      *config.Config
	docs     *docstore.Store
	meta     *metastore.Store
	writer   *writer.Writer
	analyzer *calibration.Analyzer
	logger   *slog.Logger
	out      io.Writer
}

// New opens the sinks described by the configuration. With tracing
// disabled no sink is opened and every trace is the no-op sentinel.
func New(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		logger: log.WithComponent(logger, "runtime"),
		out:    os.Stdout,
	}
	if !cfg.Enabled {
		return m, nil
	}

	m.docs = docstore.New(cfg.DataDir, logger)
	meta, err := metastore.New(metastore.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}
	m.meta = meta
	m.writer = writer.New(m.docs, m.meta, logger)
	m.analyzer = calibration.New(m.meta, m.docs, logger)
	return m, nil
}

// NewWithStores wires a manager over already-open sinks. Test seam.
func NewWithStores(cfg *config.Config, docs *docstore.Store, meta *metastore.Store, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		docs:     docs,
		meta:     meta,
		writer:   writer.New(docs, meta, logger),
		analyzer: calibration.New(meta, docs, logger),
		logger:   log.WithComponent(logger, "runtime"),
		out:      io.Discard,
	}
}

// SetOutput redirects summary printing.
func (m *Manager) SetOutput(w io.Writer) {
	if w != nil {
		m.out = w
	}
}

// Close releases the sinks.
func (m *Manager) Close() error {
	if m.meta != nil {
		return m.meta.Close()
	}
	return nil
}

// Start creates a trace for one pipeline run and binds it to the
// returned context. Descendant work inherits the binding through the
// context; unrelated runs never see it. With tracing disabled the
// bound trace is the no-op sentinel and accepts every call.
func (m *Manager) Start(ctx context.Context, opts trace.StartOptions) (context.Context, *trace.Trace) {
	opts.Enabled = m.cfg.Enabled
	if opts.Logger == nil {
		opts.Logger = m.logger
	}
	t := trace.New(opts)
	if !t.Disabled() {
		m.logger.Info("trace started",
			log.TraceIDKey, t.ID(),
			log.ProjectKey, opts.ProjectName,
			log.IntentKey, opts.Intent)
	}
	return trace.NewContext(ctx, t), t
}

// Current returns the trace bound to the context, or the no-op
// sentinel when none is bound.
func (m *Manager) Current(ctx context.Context) *trace.Trace {
	return trace.Active(ctx)
}

// Finish persists the trace, prints and writes summaries, and runs
// calibration. A trace still in progress is demoted to incomplete
// first. Finish never fails: every error lands in the result and the
// log. The write is attempted even when ctx is already cancelled.
func (m *Manager) Finish(ctx context.Context, t *trace.Trace) FinishResult {
	if t == nil {
		t = trace.Active(ctx)
	}
	if t.Disabled() {
		return FinishResult{Result: writer.Result{Status: trace.StatusDisabled, Reason: "tracing_disabled"}}
	}

	if t.Status() == trace.StatusInProgress {
		t.MarkIncomplete()
	}

	// Cancellation of the run must not abort persistence of what the
	// run already recorded.
	persistCtx := context.WithoutCancel(ctx)

	result := FinishResult{Result: m.writer.Write(persistCtx, t)}

	doc := t.Snapshot()
	if result.FilePath != "" {
		doc.Outputs["trace_file_path"] = trace.String(result.FilePath)
	}

	if m.cfg.Summary.Verbose {
		fmt.Fprintln(m.out, summary.Verbose(doc))
	} else {
		fmt.Fprintln(m.out, summary.Compact(doc))
	}
	if m.cfg.Summary.WriteFile && m.docs != nil {
		path, err := summary.WriteFile(m.docs, doc)
		if err != nil {
			m.logger.Warn("failed to write summary file",
				log.TraceIDKey, t.ID(), log.Error(err))
		} else {
			result.SummaryPath = path
		}
	}

	// Calibration runs whenever at least one sink kept the run, including
	// a partial write where only the document landed. A duplicate row
	// means this trace was already finished and analyzed once.
	if m.analyzer != nil && result.Row != nil && result.Saved && !result.DuplicateRow {
		result.CalibrationFlags = m.analyzer.Analyze(persistCtx, result.Row)
		m.analyzer.Apply(persistCtx, result.Row, result.CalibrationFlags)
	}

	m.logger.Info("trace finished",
		log.TraceIDKey, result.TraceID,
		"status", result.Status,
		"saved", result.Saved)
	return result
}

// Traced runs fn inside a fresh trace: complete on nil error, failed
// on error, incomplete on cancellation. The trace is always finished
// and fn's error is returned unchanged.
func (m *Manager) Traced(ctx context.Context, opts trace.StartOptions, fn func(context.Context) error) (FinishResult, error) {
	ctx, t := m.Start(ctx, opts)
	err := fn(ctx)

	switch {
	case err == nil:
		t.MarkComplete()
	case ctx.Err() != nil:
		t.MarkIncomplete()
	default:
		t.MarkFailed(err.Error())
	}

	return m.Finish(ctx, t), err
}
