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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func runSyncOnce(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if a.sync == nil {
		return errors.New("no tracker configured, nothing to sync")
	}

	result, err := a.sync.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if result.Skipped {
		fmt.Println("sync already in progress, skipped")
		return nil
	}
	fmt.Printf("sync complete: %d added, %d updated, %d removed, %d statuses pushed\n",
		result.Added, result.Updated, result.Removed, result.StatusesPushed)
	if result.Error != "" {
		fmt.Printf("sync reported an error: %s\n", result.Error)
	}
	return nil
}
