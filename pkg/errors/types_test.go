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

package errors

import (
	stderrors "errors"
	"testing"
)

func TestWriteError(t *testing.T) {
	cause := New("disk full")
	err := &WriteError{Path: "/data/projects/acme/_traces/trc_x.json", Cause: cause}

	if got := err.Error(); got != "trace document write failed: /data/projects/acme/_traces/trc_x.json: disk full" {
		t.Errorf("unexpected message: %s", got)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected Is to find the cause")
	}
}

func TestMetadataError(t *testing.T) {
	err := &MetadataError{TraceID: "trc_20260213_143022_a1b2c3d4", Cause: New("connection refused")}
	if got := err.Error(); got != "trace metadata write failed: trc_20260213_143022_a1b2c3d4: connection refused" {
		t.Errorf("unexpected message: %s", got)
	}

	dup := &MetadataError{TraceID: "trc_20260213_143022_a1b2c3d4", Duplicate: true}
	if got := dup.Error(); got != "trace metadata already exists: trc_20260213_143022_a1b2c3d4" {
		t.Errorf("unexpected duplicate message: %s", got)
	}
}

func TestMetadataErrorAs(t *testing.T) {
	wrapped := Wrap(&MetadataError{TraceID: "trc_x", Duplicate: true}, "finish failed")

	var metaErr *MetadataError
	if !As(wrapped, &metaErr) {
		t.Fatal("expected As to unwrap MetadataError")
	}
	if !metaErr.Duplicate {
		t.Error("expected Duplicate to survive wrapping")
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "trace", ID: "trc_unknown"}
	if got := err.Error(); got != "trace not found: trc_unknown" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestCorruptedDocumentError(t *testing.T) {
	err := &CorruptedDocumentError{Path: "/data/bad.json", Cause: New("unexpected end of JSON input")}
	if got := err.Error(); got != "corrupted trace document: /data/bad.json: unexpected end of JSON input" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestConfigError(t *testing.T) {
	withKey := &ConfigError{Key: "database.path", Reason: "path is a directory"}
	if got := withKey.Error(); got != "config error at database.path: path is a directory" {
		t.Errorf("unexpected message: %s", got)
	}

	noKey := &ConfigError{Reason: "unreadable file"}
	if got := noKey.Error(); got != "config error: unreadable file" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("wrapping nil should stay nil")
	}

	base := New("base")
	wrapped := Wrapf(base, "attempt %d", 2)
	if wrapped.Error() != "attempt 2: base" {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
	if Unwrap(wrapped) != base {
		t.Error("expected Unwrap to return the base error")
	}
}
