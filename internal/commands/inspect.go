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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/provenance/internal/summary"
)

func newCompareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <trace-id-a> <trace-id-b>",
		Short: "Diff two runs: quality, duration, cost, and gap criteria",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			cmp, err := engine.Compare(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			renderComparison(cmd.OutOrStdout(), cmp)
			return nil
		},
	}
	return cmd
}

func newShowCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show the full trace document for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			doc, ok := engine.FullTrace(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("trace %s not found or its document is unavailable", args[0])
			}
			if asJSON {
				data, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.Verbose(*doc))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw document JSON")
	return cmd
}

func newSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate counts and averages over all recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			sum, err := engine.Summary(cmd.Context())
			if err != nil {
				return err
			}
			intents, err := engine.IntentSummaries(cmd.Context())
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), sum, intents)
			return nil
		},
	}
	return cmd
}
