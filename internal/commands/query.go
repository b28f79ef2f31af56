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
	"github.com/spf13/cobra"
)

func newQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter traces by intent, domain, or project",
	}

	cmd.AddCommand(newQueryIntentCommand())
	cmd.AddCommand(newQueryDomainCommand())
	cmd.AddCommand(newQueryProjectCommand())

	return cmd
}

func newQueryIntentCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "intent <intent>",
		Short: "List completed runs with the given intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := engine.ByIntent(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			renderRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func newQueryDomainCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "domain <domain>",
		Short: "List completed runs in the given domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := engine.ByDomain(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			renderRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func newQueryProjectCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "project <name>",
		Short: "List all runs for a project, any status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := engine.ByProject(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			renderRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func newFailuresCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List completed runs that failed the quality gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := engine.QualityGateFailures(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func newFlaggedCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "flagged",
		Short: "List runs flagged for calibration review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := engine.FlaggedForReview(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func newLowScoringCommand() *cobra.Command {
	var (
		threshold float64
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "low-scoring <criterion-id>",
		Short: "List runs where a criterion scored below a threshold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			rows, err := engine.LowScoringCriterion(cmd.Context(), args[0], threshold, limit)
			if err != nil {
				return err
			}
			renderLowScoring(cmd.OutOrStdout(), args[0], rows)
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 2, "score threshold")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	return cmd
}

func newPatternsCommand() *cobra.Command {
	var minRuns int
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show criteria that fail repeatedly across history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			patterns, err := engine.CriterionPatterns(cmd.Context(), minRuns)
			if err != nil {
				return err
			}
			renderPatterns(cmd.OutOrStdout(), patterns)
			return nil
		},
	}
	cmd.Flags().IntVar(&minRuns, "min-runs", 3, "minimum failing runs to report")
	return cmd
}
