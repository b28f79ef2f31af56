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

package docstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/provenance/pkg/errors"
	"github.com/tombee/provenance/pkg/trace"
)

func finishedTrace(t *testing.T, project string) trace.Document {
	t.Helper()
	tr := trace.New(trace.StartOptions{
		ProjectName: project,
		Query:       "what changed in Q3",
		Intent:      "validating",
		Enabled:     true,
	})
	tr.BeginStage(trace.StageIntake)
	tr.Record(trace.StageIntake, "classified_intent", trace.DecisionData{
		What: trace.String("validating"),
	})
	tr.EndStage(trace.StageIntake, map[string]trace.Value{"intent": trace.String("validating")}, "")
	tr.MarkComplete()
	return tr.Snapshot()
}

func TestWriteAndRead(t *testing.T) {
	store := New(t.TempDir(), nil)
	doc := finishedTrace(t, "acme")

	path, err := store.Write(doc)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if path != store.Path("acme", doc.TraceID) {
		t.Errorf("Write() path = %s, want canonical path", path)
	}

	got, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.TraceID != doc.TraceID {
		t.Errorf("TraceID = %s, want %s", got.TraceID, doc.TraceID)
	}
	if got.Run.Status != trace.StatusComplete {
		t.Errorf("Status = %s, want complete", got.Run.Status)
	}
	if len(got.Stages[trace.StageIntake].Decisions) != 1 {
		t.Errorf("expected 1 intake decision, got %d", len(got.Stages[trace.StageIntake].Decisions))
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	store := New(t.TempDir(), nil)
	doc := finishedTrace(t, "acme")

	path, err := store.Write(doc)
	if err != nil {
		t.Fatalf("first Write() error = %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if _, err := store.Write(doc); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if string(first) != string(second) {
		t.Error("rewriting the same trace should produce identical bytes")
	}
}

func TestEmptyProjectFallsBackToUnknown(t *testing.T) {
	root := t.TempDir()
	store := New(root, nil)
	doc := finishedTrace(t, "")

	path, err := store.Write(doc)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	want := filepath.Join(root, "projects", "unknown", "_traces", doc.TraceID+".json")
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
}

func TestReadMissing(t *testing.T) {
	store := New(t.TempDir(), nil)

	_, err := store.Read(store.Path("acme", "trc_20260213_143022_a1b2c3d4"))
	var notFound *errors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Read() error = %v, want NotFoundError", err)
	}
}

func TestReadCorrupted(t *testing.T) {
	root := t.TempDir()
	store := New(root, nil)

	path := filepath.Join(root, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := store.Read(path)
	var corrupted *errors.CorruptedDocumentError
	if !errors.As(err, &corrupted) {
		t.Fatalf("Read() error = %v, want CorruptedDocumentError", err)
	}
}

func TestWriteUnwritableRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := t.TempDir()
	if err := os.Chmod(root, 0o555); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	defer os.Chmod(root, 0o755)

	store := New(root, nil)
	_, err := store.Write(finishedTrace(t, "acme"))
	var writeErr *errors.WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("Write() error = %v, want WriteError", err)
	}
}
