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

	"github.com/spf13/cobra"

	"github.com/elephantgerald/bartleby/internal/resolver"
)

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	graph, items, err := a.loadGraphAndItems(ctx)
	if err != nil {
		return err
	}

	res := resolver.New(graph, items).Resolve()
	if len(res.Cycles) > 0 {
		fmt.Printf("warning: %d dependency cycle(s) detected, excluded from ready items\n", len(res.Cycles))
	}
	if len(res.ReadyItems) == 0 {
		fmt.Println("no work items are ready")
		return nil
	}
	for _, item := range res.ReadyItems {
		fmt.Printf("%s\t%s\n", item.ID, item.Title)
	}
	return nil
}
