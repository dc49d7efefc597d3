// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor assembles provenance-rich prompt context, invokes the
// AIProvider with retry/backoff, and interprets its structured response
// into WorkSession and WorkItem mutations.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elephantgerald/bartleby/internal/aiprotocol"
	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/ports"
	"github.com/elephantgerald/bartleby/internal/prompt"
)

// ErrItemNotFound is returned by BuildContext when the item does not exist.
var ErrItemNotFound = errors.New("executor: work item not found")

// Context is everything needed to run one transformation against one item.
type Context struct {
	Item           domain.WorkItem
	Transformation domain.TransformationType
	WorkingDir     string
	SystemPrompt   string
	UserPrompt     string
}

// Executor chooses the next transformation for an item, assembles its
// context, and runs it against the configured AIProvider.
type Executor struct {
	Repos   ports.Repositories
	AI      ports.AIProvider
	Builder *prompt.Builder
	Retry   RetryConfig

	// Now allows tests to control time; defaults to time.Now.
	Now func() time.Time
}

// New constructs an Executor with the default retry policy.
func New(repos ports.Repositories, ai ports.AIProvider) *Executor {
	return &Executor{
		Repos:   repos,
		AI:      ai,
		Builder: prompt.NewBuilder(),
		Retry:   DefaultRetryConfig(),
		Now:     time.Now,
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// GetNextTransformation selects the next transformation for an item per
// the transformation pipeline, reading its unanswered questions and session history from the
// repositories.
func (e *Executor) GetNextTransformation(ctx context.Context, itemID string) (domain.TransformationType, error) {
	questions, err := e.Repos.BlockedQuestions.ListByWorkItem(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("listing questions: %w", err)
	}
	sessions, err := e.Repos.WorkSessions.ListByWorkItem(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("listing sessions: %w", err)
	}
	return prompt.GetNextTransformation(questions, sessions), nil
}

// BuildContext aggregates the item, prior sessions, and answered questions
// into a Context, or returns ErrItemNotFound if itemID does not exist.
func (e *Executor) BuildContext(ctx context.Context, itemID string, t domain.TransformationType, workingDir string) (*Context, error) {
	item, err := e.Repos.WorkItems.GetByID(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("loading work item: %w", err)
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	sessions, err := e.Repos.WorkSessions.ListByWorkItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	questions, err := e.Repos.BlockedQuestions.ListByWorkItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing questions: %w", err)
	}

	answered := make([]domain.BlockedQuestion, 0, len(questions))
	for _, q := range questions {
		if q.IsAnswered() {
			answered = append(answered, q)
		}
	}

	pc := prompt.Context{Item: *item, PriorSessions: sessions, AnsweredQuestions: answered}

	return &Context{
		Item:           *item,
		Transformation: t,
		WorkingDir:     workingDir,
		SystemPrompt:   e.Builder.SystemPrompt(t, workingDir),
		UserPrompt:     e.Builder.UserPrompt(pc),
	}, nil
}

// Execute runs one transformation. It writes the WorkSession row before
// calling the AIProvider (Outcome = InProgress) and updates it after the
// call completes -- the provenance guarantee: every invocation
// leaves exactly one session row even on crash.
func (e *Executor) Execute(ctx context.Context, c *Context) (ports.AIExecutionResult, error) {
	session := &domain.WorkSession{
		ID:                 uuid.New().String(),
		WorkItemID:         c.Item.ID,
		TransformationType: c.Transformation,
		StartedAt:          e.now(),
		Outcome:            domain.OutcomeInProgress,
	}
	if err := e.Repos.WorkSessions.Create(ctx, session); err != nil {
		return ports.AIExecutionResult{}, fmt.Errorf("recording session start: %w", err)
	}

	result, callErr := e.callWithRetry(ctx, c)

	ended := e.now()
	session.EndedAt = &ended

	if callErr != nil {
		session.Outcome = domain.OutcomeFailed
		if errors.Is(callErr, context.Canceled) {
			session.ErrorMessage = "cancelled"
		} else {
			session.ErrorMessage = callErr.Error()
		}
		if err := e.Repos.WorkSessions.Update(ctx, session); err != nil {
			slog.Error("executor: failed to persist failed session", "session_id", session.ID, "error", err)
		}
		return ports.AIExecutionResult{}, callErr
	}

	e.applyOutcome(ctx, c, session, result)

	if err := e.Repos.WorkSessions.Update(ctx, session); err != nil {
		slog.Error("executor: failed to persist session outcome", "session_id", session.ID, "error", err)
	}

	return result, nil
}

// callWithRetry wraps AIProvider.ExecuteWork with exponential backoff,
// retrying on retryable transient transport failures
// "Throttling"). A transport-level success that turns out to carry an
// unparseable payload (result.Success == false, err == nil) is NOT retried
// here: that is a protocol failure, not a throttling signal, and is handled
// by applyOutcome as a failed session.
func (e *Executor) callWithRetry(ctx context.Context, c *Context) (ports.AIExecutionResult, error) {
	var out ports.AIExecutionResult

	err := Retry(ctx, e.Retry, func(ctx context.Context, attempt int) error {
		res, err := e.AI.ExecuteWork(ctx, c.Item, c.WorkingDir, c.SystemPrompt, c.UserPrompt)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return ports.AIExecutionResult{}, err
	}
	return out, nil
}

// applyOutcome interprets the AI's structured result and mutates the
// session and item in place, applying per-outcome rules.
func (e *Executor) applyOutcome(ctx context.Context, c *Context, session *domain.WorkSession, result ports.AIExecutionResult) {
	item := c.Item
	session.TokensUsed = result.TokensUsed

	if !result.Success {
		session.Outcome = domain.OutcomeFailed
		session.ErrorMessage = result.ErrorMessage
		// item Status unchanged, no questions created.
		e.saveItem(ctx, &item)
		return
	}

	switch result.Outcome {
	case aiprotocol.OutcomeCompleted:
		session.Outcome = domain.OutcomeCompleted
		session.Summary = result.Summary
		session.ModifiedFiles = result.ModifiedFiles
		// Finalize always runs. Only a completed
		// Finalize session marks the item Complete; earlier completed
		// stages advance provenance only and leave Status for the next
		// tick's GetNextTransformation to pick up Finalize.
		if c.Transformation == domain.TransformationFinalize {
			item.Status = domain.StatusComplete
		}

	case aiprotocol.OutcomeBlocked, aiprotocol.OutcomeNeedsContext:
		questions := nonEmpty(result.Questions)
		if result.Outcome == aiprotocol.OutcomeNeedsContext && len(questions) == 0 {
			questions = []string{"The AI reported it needs more context to proceed; please clarify the requirements."}
		}
		for _, q := range questions {
			bq := &domain.BlockedQuestion{
				ID:         uuid.New().String(),
				WorkItemID: item.ID,
				Question:   q,
				CreatedAt:  e.now(),
			}
			if err := e.Repos.BlockedQuestions.Create(ctx, bq); err != nil {
				slog.Error("executor: failed to persist blocked question", "work_item_id", item.ID, "error", err)
			}
		}
		item.EnterBlocked()
		session.Outcome = domain.OutcomeBlocked
		session.Summary = result.Summary
	}

	e.saveItem(ctx, &item)
}

func (e *Executor) saveItem(ctx context.Context, item *domain.WorkItem) {
	if err := e.Repos.WorkItems.Update(ctx, item); err != nil {
		slog.Error("executor: failed to persist work item", "work_item_id", item.ID, "error", err)
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
