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

import "fmt"

// WriteError represents a failure writing the full trace document.
// These never propagate into the traced pipeline; they are captured in
// the finish result and logged.
type WriteError struct {
	// Path is the document location that could not be written.
	Path string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("trace document write failed: %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *WriteError) Unwrap() error {
	return e.Cause
}

// MetadataError represents a failure writing the denormalized trace row.
type MetadataError struct {
	// TraceID identifies the row that could not be written.
	TraceID string

	// Duplicate is true when the insert failed the trace_id uniqueness
	// constraint, the expected outcome of finishing the same trace twice.
	Duplicate bool

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *MetadataError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("trace metadata already exists: %s", e.TraceID)
	}
	return fmt.Sprintf("trace metadata write failed: %s: %v", e.TraceID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *MetadataError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "trace", "project")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// CorruptedDocumentError represents an unparseable trace document read.
type CorruptedDocumentError struct {
	// Path is the document that could not be parsed.
	Path string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *CorruptedDocumentError) Error() string {
	return fmt.Sprintf("corrupted trace document: %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CorruptedDocumentError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "data_dir", "database.path")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
