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

// Package commands implements the provenance CLI: read-only queries
// over the recorded trace history.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/provenance/internal/config"
	"github.com/tombee/provenance/internal/docstore"
	"github.com/tombee/provenance/internal/log"
	"github.com/tombee/provenance/internal/metastore"
	"github.com/tombee/provenance/internal/query"
)

var configPath string

// NewRootCommand creates the provenance root command.
func NewRootCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provenance",
		Short: "Query recorded pipeline traces",
		Long: `Query the decision traces recorded by pipeline runs.

Every command reads the trace history: the denormalized SQLite store
for filters and aggregates, the per-project JSON documents for full
trace inspection.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	cmd.AddCommand(newQueryCommand())
	cmd.AddCommand(newFailuresCommand())
	cmd.AddCommand(newFlaggedCommand())
	cmd.AddCommand(newPatternsCommand())
	cmd.AddCommand(newLowScoringCommand())
	cmd.AddCommand(newCompareCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newSummaryCommand())

	return cmd
}

// openEngine loads the configuration and opens the query engine. The
// returned close function releases the store.
func openEngine() (*query.Engine, func(), error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	logger := log.New(log.FromEnv())
	meta, err := metastore.New(metastore.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace store: %w", err)
	}

	docs := docstore.New(cfg.DataDir, logger)
	engine := query.New(meta, docs, logger)
	return engine, func() { meta.Close() }, nil
}
