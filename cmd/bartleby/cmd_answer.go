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
	"time"

	"github.com/spf13/cobra"

	"github.com/elephantgerald/bartleby/internal/domain"
)

// runAnswer is the CLI-side equivalent of webui's POST
// /v1/questions/:id/answer: it records the answer and, once every question
// blocking the item has one, reverts the item to its PreviousStatus.
func runAnswer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	questionID, answer := args[0], args[1]

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	question, err := a.repos.BlockedQuestions.GetByID(ctx, questionID)
	if err != nil {
		return fmt.Errorf("looking up question %s: %w", questionID, err)
	}
	if question == nil {
		return fmt.Errorf("question %s not found", questionID)
	}

	now := time.Now()
	question.Answer = &answer
	question.AnsweredAt = &now
	if err := a.repos.BlockedQuestions.Update(ctx, question); err != nil {
		return fmt.Errorf("recording answer: %w", err)
	}

	item, err := a.repos.WorkItems.GetByID(ctx, question.WorkItemID)
	if err != nil || item == nil {
		return err
	}
	if item.Status != domain.StatusBlocked {
		fmt.Printf("answer recorded for %s\n", questionID)
		return nil
	}

	remaining, err := a.repos.BlockedQuestions.ListByWorkItem(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("listing questions for %s: %w", item.ID, err)
	}
	for _, q := range remaining {
		if !q.IsAnswered() {
			fmt.Printf("answer recorded for %s, work item %s still has open questions\n", questionID, item.ID)
			return nil
		}
	}

	item.Unblock()
	if err := a.repos.WorkItems.Update(ctx, item); err != nil {
		return fmt.Errorf("unblocking work item %s: %w", item.ID, err)
	}
	fmt.Printf("answer recorded, work item %s unblocked\n", item.ID)
	return nil
}
