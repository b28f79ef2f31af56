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

// Package docstore is the full-document trace sink. It writes one JSON
// document per trace under the project's trace directory and reads them
// back for deep debugging.
package docstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/provenance/pkg/errors"
	"github.com/tombee/provenance/pkg/trace"
)

// Store locates and writes trace documents under a data root. Layout:
// <root>/projects/<project>/_traces/<trace_id>.json.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a document store rooted at root.
func New(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// ProjectDir returns the directory for a project's artifacts. Traces for
// runs without a project land under "unknown".
func (s *Store) ProjectDir(projectName string) string {
	if projectName == "" {
		projectName = "unknown"
	}
	return filepath.Join(s.root, "projects", projectName)
}

// TracesDir returns the trace directory for a project.
func (s *Store) TracesDir(projectName string) string {
	return filepath.Join(s.ProjectDir(projectName), "_traces")
}

// Path returns the document location for a trace id within a project.
func (s *Store) Path(projectName, traceID string) string {
	return filepath.Join(s.TracesDir(projectName), traceID+".json")
}

// Write serializes the document to its canonical location, creating
// directories as needed. The write is idempotent by trace id: finishing
// the same trace again overwrites the same file deterministically. The
// temp-file rename keeps concurrent readers from observing a partial
// document.
func (s *Store) Write(doc trace.Document) (string, error) {
	path := s.Path(doc.ProjectName, doc.TraceID)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &errors.WriteError{Path: path, Cause: err}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", &errors.WriteError{Path: path, Cause: err}
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", &errors.WriteError{Path: path, Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", &errors.WriteError{Path: path, Cause: err}
	}

	s.logger.Info("trace document written",
		"trace_id", doc.TraceID, "path", path)
	return path, nil
}

// Read loads and parses a trace document from path.
func (s *Store) Read(path string) (*trace.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "trace document", ID: path}
		}
		return nil, &errors.CorruptedDocumentError{Path: path, Cause: err}
	}

	var doc trace.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &errors.CorruptedDocumentError{Path: path, Cause: err}
	}
	return &doc, nil
}
