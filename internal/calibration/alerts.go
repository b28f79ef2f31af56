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

package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/metastore"
)

// AlertFileName is the per-project advisory log.
const AlertFileName = "_calibration_alerts.md"

const alertFileHeader = "# Calibration Alerts\n\n" +
	"Auto-generated alerts when trace patterns suggest calibration attention.\n\n" +
	"---\n\n"

// appendAlerts adds one timestamped entry to the project's advisory
// log, creating it with a header on first write. Append-only.
func appendAlerts(docs *docstore.Store, row *metastore.Row, flags []string, now time.Time) error {
	projectDir := docs.ProjectDir(row.ProjectName)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("failed to create project dir: %w", err)
	}
	path := filepath.Join(projectDir, AlertFileName)

	timestamp := now.UTC()
	if row.CompletedAt != nil {
		timestamp = row.CompletedAt.UTC()
	}

	var b strings.Builder
	if _, err := os.Stat(path); os.IsNotExist(err) {
		b.WriteString(alertFileHeader)
	}
	fmt.Fprintf(&b, "## %s\n", timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Trace:** `%s`\n\n", row.TraceID)
	for _, msg := range flags {
		fmt.Fprintf(&b, "- %s\n", msg)
	}
	b.WriteString("\n---\n\n")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open alert file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append alert entry: %w", err)
	}
	return nil
}
