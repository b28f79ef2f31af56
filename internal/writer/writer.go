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

// Package writer persists finished traces to both sinks: the full JSON
// document on disk and the denormalized projection row in SQLite. The
// sinks are independent; either may fail without affecting the other.
package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/log"
	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/pkg/errors"
	"github.com/tombee/provenance/pkg/trace"
)

// DefaultMetadataTimeout bounds the projection-row insert so a stuck
// database cannot stall pipeline shutdown.
const DefaultMetadataTimeout = 5 * time.Second

// Writer fans one finished trace out to both sinks.
type Writer struct {
	docs            *docstore.Store
	meta            *metastore.Store
	logger          *slog.Logger
	metadataTimeout time.Duration
}

// New creates a writer over the given sinks. Either sink may be nil,
// in which case that sink is skipped and reported as unavailable.
func New(docs *docstore.Store, meta *metastore.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		docs:            docs,
		meta:            meta,
		logger:          log.WithComponent(logger, "writer"),
		metadataTimeout: DefaultMetadataTimeout,
	}
}

// SetMetadataTimeout overrides the projection-insert deadline.
func (w *Writer) SetMetadataTimeout(d time.Duration) {
	if d > 0 {
		w.metadataTimeout = d
	}
}

// Result reports the per-sink outcome of one write. Sink errors live
// here rather than in a returned error: persistence failure is the
// writer's problem, never the traced pipeline's.
type Result struct {
	TraceID string
	Status  trace.Status

	// Saved is true when at least one sink accepted the trace.
	Saved bool
	// Reason explains a Saved=false result with no errors, e.g.
	// "tracing_disabled".
	Reason string

	// FilePath is the document path. Set whenever the document sink was
	// attempted, even on failure.
	FilePath string
	FileErr  error

	MetadataErr error
	// DuplicateRow is true when the projection insert failed only
	// because a row for this trace id already exists.
	DuplicateRow bool

	// Row is the projection that was (or would have been) inserted,
	// for downstream analysis.
	Row *metastore.Row
}

// Write persists the trace to both sinks concurrently and reports the
// per-sink outcome. It never returns an error and never panics the
// caller's goroutine: a persistence fault is logged and carried in the
// result.
func (w *Writer) Write(ctx context.Context, t *trace.Trace) Result {
	if t == nil || t.Disabled() {
		return Result{Status: trace.StatusDisabled, Reason: "tracing_disabled"}
	}

	doc := t.Snapshot()
	result := Result{TraceID: doc.TraceID, Status: doc.Run.Status}

	// The document path is deterministic, so both sinks can reference
	// it before either write lands. The snapshot's output map is a
	// copy; stamping it here leaves the trace untouched.
	if w.docs != nil {
		result.FilePath = w.docs.Path(doc.ProjectName, doc.TraceID)
		doc.Outputs["trace_file_path"] = trace.String(result.FilePath)
	}

	row := BuildRow(doc)
	result.Row = row

	var wg sync.WaitGroup

	if w.docs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			path, err := w.docs.Write(doc)
			recordWrite("file", time.Since(start).Seconds(), err)
			if err != nil {
				w.logger.Warn("trace document write failed",
					log.TraceIDKey, doc.TraceID,
					log.SinkKey, "file",
					log.Error(err))
				result.FileErr = err
				return
			}
			result.FilePath = path
		}()
	}

	if w.meta != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			insertCtx, cancel := context.WithTimeout(ctx, w.metadataTimeout)
			defer cancel()

			start := time.Now()
			err := w.meta.Insert(insertCtx, row)
			recordWrite("metadata", time.Since(start).Seconds(), err)
			if err != nil {
				var metaErr *errors.MetadataError
				if errors.As(err, &metaErr) && metaErr.Duplicate {
					result.DuplicateRow = true
				}
				w.logger.Warn("trace metadata write failed",
					log.TraceIDKey, doc.TraceID,
					log.SinkKey, "metadata",
					log.Error(err))
				result.MetadataErr = err
			}
		}()
	}

	wg.Wait()

	result.Saved = (w.docs != nil && result.FileErr == nil) ||
		(w.meta != nil && result.MetadataErr == nil)
	if w.docs == nil && w.meta == nil {
		result.Reason = "no_sinks"
	}

	return result
}
