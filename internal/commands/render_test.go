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

package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/internal/query"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func sampleRow(id string) *metastore.Row {
	return &metastore.Row{
		TraceID:             id,
		ProjectName:         "acme",
		Intent:              "validating",
		Status:              "complete",
		QualityGatePassed:   boolPtr(true),
		OverallQualityScore: floatPtr(2.4),
		StartedAt:           time.Date(2026, 2, 13, 14, 30, 22, 0, time.UTC),
	}
}

func TestRenderRows(t *testing.T) {
	var buf bytes.Buffer
	renderRows(&buf, []*metastore.Row{sampleRow("trc_20260213_143022_ab12cd34")})
	out := buf.String()

	assert.Contains(t, out, "TRACE ID")
	assert.Contains(t, out, "trc_20260213_143022_ab12cd34")
	assert.Contains(t, out, "acme")
	assert.Contains(t, out, "2.40")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "2026-02-13T14:30:22Z")
}

func TestRenderRowsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderRows(&buf, nil)
	assert.Equal(t, "No traces found.\n", buf.String())
}

func TestRenderComparison(t *testing.T) {
	a := sampleRow("trc_20260213_143022_aaaaaaaa")
	a.OverallQualityScore = floatPtr(1.6)
	b := sampleRow("trc_20260214_090000_bbbbbbbb")
	delta := 0.8

	var buf bytes.Buffer
	renderComparison(&buf, &query.Comparison{
		TraceA:       a,
		TraceB:       b,
		QualityDelta: &delta,
		GapsAOnly:    []string{"META-1"},
		GapsBoth:     []string{"META-12"},
	})
	out := buf.String()

	assert.Contains(t, out, "+0.80")
	assert.Contains(t, out, "Gaps only in A: META-1")
	assert.Contains(t, out, "Gaps only in B: (none)")
	assert.Contains(t, out, "Gaps in both:   META-12")
}

func TestRenderPatterns(t *testing.T) {
	var buf bytes.Buffer
	renderPatterns(&buf, []metastore.CriterionPattern{{CriterionID: "META-12", FailCount: 4}})
	assert.Contains(t, buf.String(), "META-12")
	assert.Contains(t, buf.String(), "4")

	buf.Reset()
	renderPatterns(&buf, nil)
	assert.Equal(t, "No repeated criterion failures.\n", buf.String())
}

func TestFmtGate(t *testing.T) {
	assert.Equal(t, "—", fmtGate(nil))
	assert.Equal(t, "PASS", fmtGate(boolPtr(true)))
	assert.Equal(t, "FAIL", fmtGate(boolPtr(false)))
}
