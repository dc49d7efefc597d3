// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/elephantgerald/bartleby/internal/config"
)

// --- Global Command Variables ---
var (
	configPath string
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:   "bartleby",
		Short: "Runs and inspects a Bartleby work-item orchestrator",
		Long: `Bartleby watches an external issue tracker, resolves a dependency
graph of work items, and drives an AI executor over whichever items have
no unfinished prerequisite.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the orchestrator, sync loop, and dashboard API",
		RunE:  runServe,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Perform one reconciliation pass against the configured tracker",
		RunE:  runSyncOnce,
	}

	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Print work items with no unfinished dependency",
		RunE:  runResolve,
	}

	answerCmd = &cobra.Command{
		Use:   "answer [question-id] [answer-text]",
		Short: "Answer a blocked question from the command line",
		Args:  cobra.ExactArgs(2),
		RunE:  runAnswer,
	}

	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Inspect the dependency graph bound to work items",
	}

	graphValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Parse the graph file and report cycles or parse errors",
		RunE:  runGraphValidate,
	}

	graphShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print every node in the loaded dependency graph",
		RunE:  runGraphShow,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to a YAML configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(answerCmd)

	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphValidateCmd)
	graphCmd.AddCommand(graphShowCmd)
}
