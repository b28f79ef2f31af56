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

// Package calibration inspects each finished run against the recorded
// history and emits advisory messages when quality patterns suggest
// the scoring rubric needs attention. Checks are informational only:
// they never block, retry, or alter pipeline state, and every failure
// here is logged and swallowed.
package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/log"
	"github.com/tombee/provenance/internal/metastore"
)

// RepeatedFailureWindow is the trailing window for the repeated
// criterion failure check.
const RepeatedFailureWindow = 7 * 24 * time.Hour

// RepeatedFailureMin is the occurrence count at which a criterion's
// repeated failure becomes a flag.
const RepeatedFailureMin = 3

// DisparityThreshold is how far below the all-runs average an intent
// or domain average must fall to be flagged.
const DisparityThreshold = 0.5

// Analyzer runs the calibration checks over the projection history.
type Analyzer struct {
	meta   *metastore.Store
	docs   *docstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an analyzer. The document store locates the per-project
// advisory log; nil disables the log side effect.
func New(meta *metastore.Store, docs *docstore.Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		meta:   meta,
		docs:   docs,
		logger: log.WithComponent(logger, "calibration"),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (a *Analyzer) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Analyze runs the four checks against the row of a just-finished run
// and returns the advisory messages. Each check is independent; a
// failing check contributes nothing and is logged.
func (a *Analyzer) Analyze(ctx context.Context, row *metastore.Row) []string {
	if row == nil || a.meta == nil {
		return nil
	}

	var flags []string
	flags = append(flags, a.checkRepeatedFailures(ctx, row)...)
	flags = append(flags, a.checkIntentDisparity(ctx, row)...)
	flags = append(flags, a.checkDomainDisparity(ctx, row)...)
	flags = append(flags, a.checkRegression(ctx, row)...)
	return flags
}

// Apply records the side effects of emitted flags: the review flag on
// the projection row and an entry in the project advisory log. Both
// are best effort.
func (a *Analyzer) Apply(ctx context.Context, row *metastore.Row, flags []string) {
	if len(flags) == 0 {
		return
	}

	logger := log.WithTrace(a.logger, row.TraceID, row.ProjectName)
	for _, flag := range flags {
		logger.Warn("calibration flag", "message", flag)
	}

	if err := a.meta.SetFlagged(ctx, row.TraceID, ""); err != nil {
		logger.Error("failed to set review flag", log.Error(err))
	}
	if a.docs != nil {
		if err := appendAlerts(a.docs, row, flags, a.now()); err != nil {
			logger.Error("failed to append calibration alerts", log.Error(err))
		}
	}
}

// gapSet unions the explicit gap list with criteria scoring below 2.
func gapSet(row *metastore.Row) []string {
	seen := make(map[string]bool, len(row.GapCriteria))
	gaps := make([]string, 0, len(row.GapCriteria))
	for _, id := range row.GapCriteria {
		if !seen[id] {
			seen[id] = true
			gaps = append(gaps, id)
		}
	}
	var derived []string
	for id, score := range row.CriterionScores {
		if score < 2 && !seen[id] {
			seen[id] = true
			derived = append(derived, id)
		}
	}
	sort.Strings(derived)
	return append(gaps, derived...)
}

func (a *Analyzer) checkRepeatedFailures(ctx context.Context, row *metastore.Row) []string {
	var flags []string
	since := a.now().Add(-RepeatedFailureWindow)
	for _, criterionID := range gapSet(row) {
		count, err := a.meta.GapCountSince(ctx, criterionID, since)
		if err != nil {
			a.logger.Warn("failed to count criterion failures",
				"criterion", criterionID, log.Error(err))
			continue
		}
		if count >= RepeatedFailureMin {
			flags = append(flags, fmt.Sprintf(
				"Criterion %s has scored below threshold %d times in the last 7 days. Consider reviewing calibration.",
				criterionID, count))
		}
	}
	return flags
}

func (a *Analyzer) checkIntentDisparity(ctx context.Context, row *metastore.Row) []string {
	if row.Intent == "" {
		return nil
	}
	intentAvg, err := a.meta.AvgQuality(ctx, row.Intent, "")
	if err != nil {
		a.logger.Warn("failed to check intent disparity", log.Error(err))
		return nil
	}
	overallAvg, err := a.meta.AvgQuality(ctx, "", "")
	if err != nil {
		a.logger.Warn("failed to check intent disparity", log.Error(err))
		return nil
	}
	if intentAvg == nil || overallAvg == nil || *overallAvg-*intentAvg <= DisparityThreshold {
		return nil
	}
	return []string{fmt.Sprintf(
		"%s intent runs average %.1f quality vs %.1f overall. May need intent-specific tuning.",
		row.Intent, *intentAvg, *overallAvg)}
}

func (a *Analyzer) checkDomainDisparity(ctx context.Context, row *metastore.Row) []string {
	if row.Domain == "" {
		return nil
	}
	domainAvg, err := a.meta.AvgQuality(ctx, "", row.Domain)
	if err != nil {
		a.logger.Warn("failed to check domain disparity", log.Error(err))
		return nil
	}
	overallAvg, err := a.meta.AvgQuality(ctx, "", "")
	if err != nil {
		a.logger.Warn("failed to check domain disparity", log.Error(err))
		return nil
	}
	if domainAvg == nil || overallAvg == nil || *overallAvg-*domainAvg <= DisparityThreshold {
		return nil
	}
	return []string{fmt.Sprintf(
		"%s domain runs average %.1f quality vs %.1f overall.",
		row.Domain, *domainAvg, *overallAvg)}
}

func (a *Analyzer) checkRegression(ctx context.Context, row *metastore.Row) []string {
	if row.QualityGatePassed == nil || *row.QualityGatePassed {
		return nil
	}
	if row.ProjectID == "" && row.ProjectName == "" {
		return nil
	}
	prev, err := a.meta.PreviousCompletedForProject(ctx, row.ProjectID, row.ProjectName, row.StartedAt)
	if err != nil {
		a.logger.Warn("failed to check quality regression", log.Error(err))
		return nil
	}
	if prev == nil || prev.QualityGatePassed == nil || !*prev.QualityGatePassed {
		return nil
	}
	name := row.ProjectName
	if name == "" {
		name = row.ProjectID
	}
	return []string{fmt.Sprintf(
		"Quality regression detected for project %s: this run failed quality gate after previous run passed.",
		name)}
}
