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
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elephantgerald/bartleby/internal/graphstore"
	"github.com/elephantgerald/bartleby/internal/resolver"
)

func runGraphValidate(cmd *cobra.Command, args []string) error {
	store := graphstore.New(cfg.GraphFilePath)
	graph, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.GraphFilePath, err)
	}

	result := store.LastParseResult()
	if len(result.Errors) > 0 {
		fmt.Printf("%d parse error(s):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e)
		}
	}

	cycles := resolver.New(graph, nil).DetectCycles()
	if len(cycles) == 0 {
		fmt.Printf("%d node(s), no cycles\n", len(graph))
		return nil
	}

	fmt.Printf("%d node(s), %d cycle(s):\n", len(graph), len(cycles))
	for _, cycle := range cycles {
		fmt.Printf("  %s\n", strings.Join(cycle, " -> "))
	}
	return nil
}

func runGraphShow(cmd *cobra.Command, args []string) error {
	store := graphstore.New(cfg.GraphFilePath)
	graph, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.GraphFilePath, err)
	}

	ids := make([]string, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := graph[id]
		if len(node.DependsOn) == 0 {
			fmt.Printf("%s\t%s\n", id, node.Title)
			continue
		}
		fmt.Printf("%s\t%s\tdepends on: %s\n", id, node.Title, strings.Join(node.DependsOn, ", "))
	}
	return nil
}
