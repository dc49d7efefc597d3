// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports declares the capability interfaces the core depends on but
// does not implement: the external issue tracker, the AI provider, the
// source-control wrapper, and the repositories backing each persisted
// entity. Concrete implementations live in internal/ai, internal/git, and
// internal/storage; tests use in-memory fakes of these same interfaces.
package ports

import (
	"context"

	"github.com/elephantgerald/bartleby/internal/domain"
)

// WorkSource is one external issue tracker integration.
type WorkSource interface {
	// Name returns the tracker's SourceName, stamped onto every WorkItem it
	// produces.
	Name() string

	// Sync fetches the tracker's current open items, omitting
	// pull-request-like objects.
	Sync(ctx context.Context) ([]domain.WorkItem, error)

	// UpdateStatus pushes the item's Bartleby-managed status back to the
	// tracker as labels (and a closed flag for Complete).
	UpdateStatus(ctx context.Context, item domain.WorkItem) error

	// AddComment posts a comment on the tracker's ticket.
	AddComment(ctx context.Context, item domain.WorkItem, text string) error

	// TestConnection probes connectivity and credentials.
	TestConnection(ctx context.Context) (bool, error)
}

// AIExecutionResult is the interpreted, structured response from one
// AIProvider.ExecuteWork call.
type AIExecutionResult struct {
	Success       bool
	Outcome       string
	Summary       string
	ModifiedFiles []string
	Questions     []string
	ErrorMessage  string
	TokensUsed    int
}

// AIProvider is the port to the AI backend performing each transformation.
// Implementations own token accounting. Retry/backoff around ExecuteWork is
// applied by the executor, which retries only errors returned as
// *executor.RetryableError with a retryable status code.
type AIProvider interface {
	ExecuteWork(ctx context.Context, item domain.WorkItem, workingDir, systemPrompt, userPrompt string) (AIExecutionResult, error)
	TestConnection(ctx context.Context) (bool, error)
}

// GitOperationResult is the uniform result shape for every GitService
// operation.
type GitOperationResult struct {
	Success          bool
	Message          string
	BranchName       string
	CommitSha        string
	HasConflicts     bool
	ConflictingFiles []string
}

// GitService wraps the local source-control operations Bartleby performs on
// completion of a WorkItem.
type GitService interface {
	IsGitRepository(ctx context.Context, dir string) (bool, error)
	InitializeRepository(ctx context.Context, dir string) (GitOperationResult, error)
	CreateOrSwitchToBranch(ctx context.Context, item domain.WorkItem, dir string) (GitOperationResult, error)
	CommitChanges(ctx context.Context, item domain.WorkItem, result AIExecutionResult, dir string) (GitOperationResult, error)
	Push(ctx context.Context, dir, remote string) (GitOperationResult, error)
	GetStatus(ctx context.Context, dir string) (GitOperationResult, error)
}

// WorkItemRepository is CRUD for domain.WorkItem.
type WorkItemRepository interface {
	GetByID(ctx context.Context, id string) (*domain.WorkItem, error)
	GetByExternalRef(ctx context.Context, sourceName, externalID string) (*domain.WorkItem, error)
	List(ctx context.Context) ([]domain.WorkItem, error)
	ListBySource(ctx context.Context, sourceName string) ([]domain.WorkItem, error)
	Create(ctx context.Context, item *domain.WorkItem) error
	Update(ctx context.Context, item *domain.WorkItem) error
	Delete(ctx context.Context, id string) error
}

// BlockedQuestionRepository is CRUD for domain.BlockedQuestion.
type BlockedQuestionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.BlockedQuestion, error)
	ListByWorkItem(ctx context.Context, workItemID string) ([]domain.BlockedQuestion, error)
	Create(ctx context.Context, q *domain.BlockedQuestion) error
	Update(ctx context.Context, q *domain.BlockedQuestion) error
	Delete(ctx context.Context, id string) error
}

// WorkSessionRepository is CRUD for domain.WorkSession.
type WorkSessionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.WorkSession, error)
	ListByWorkItem(ctx context.Context, workItemID string) ([]domain.WorkSession, error)
	Create(ctx context.Context, s *domain.WorkSession) error
	Update(ctx context.Context, s *domain.WorkSession) error
}

// SettingsRepository persists the single AppSettings record.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.AppSettings, error)
	Save(ctx context.Context, s domain.AppSettings) error
}

// Repositories bundles every repository port the core depends on.
type Repositories struct {
	WorkItems        WorkItemRepository
	BlockedQuestions BlockedQuestionRepository
	WorkSessions     WorkSessionRepository
	Settings         SettingsRepository
}
