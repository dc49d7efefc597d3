// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/ports"
)

// initRepo creates a fresh git repository in a temp dir with a configured
// author identity, since a bare `git commit` fails without one.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "bartleby@example.test"},
		{"config", "user.name", "Bartleby Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	return dir
}

func writeAndCommit(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	for _, args := range [][]string{{"add", "-A"}, {"commit", "-q", "-m", "seed"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
}

func TestBranchNameFor_SlugifiesTitle(t *testing.T) {
	item := domain.WorkItem{ID: "abcdef1234567890", Title: "Fix the Login Bug!!"}
	assert.Equal(t, "bartleby/abcdef12-fix-the-login-bug", BranchNameFor(item))
}

func TestBranchNameFor_FallsBackToIDWhenTitleEmpty(t *testing.T) {
	item := domain.WorkItem{ID: "abcdef12"}
	assert.Equal(t, "bartleby/abcdef12", BranchNameFor(item))
}

func TestBranchNameFor_PrefersExternalIDOverLocalID(t *testing.T) {
	item := domain.WorkItem{
		ID:          "abcdef1234567890",
		Title:       "Fix the Login Bug!!",
		ExternalRef: domain.ExternalRef{SourceName: "github", ExternalID: "42"},
	}
	assert.Equal(t, "bartleby/42-fix-the-login-bug", BranchNameFor(item))
}

func TestIsGitRepository(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()

	plain := t.TempDir()
	ok, err := svc.IsGitRepository(ctx, plain)
	require.NoError(t, err)
	assert.False(t, ok)

	repo := initRepo(t)
	ok, err = svc.IsGitRepository(ctx, repo)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitializeRepository_IsIdempotent(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	dir := t.TempDir()

	result, err := svc.InitializeRepository(ctx, dir)
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = svc.InitializeRepository(ctx, dir)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "already a git repository", result.Message)
}

func TestCreateOrSwitchToBranch_CreatesThenReuses(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	dir := initRepo(t)
	writeAndCommit(t, dir, "README.md", "hello\n")

	item := domain.WorkItem{ID: "wi-1", Title: "add caching layer"}

	result, err := svc.CreateOrSwitchToBranch(ctx, item, dir)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "created new branch", result.Message)
	branch := result.BranchName

	// Switch back to main, then re-request the same branch.
	_, err = svc.run(ctx, dir, "checkout", "-")
	require.NoError(t, err)

	result, err = svc.CreateOrSwitchToBranch(ctx, item, dir)
	require.NoError(t, err)
	assert.Equal(t, "switched to existing branch", result.Message)
	assert.Equal(t, branch, result.BranchName)
}

func TestCommitChanges_NoStagedChangesIsANoOp(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	dir := initRepo(t)
	writeAndCommit(t, dir, "README.md", "hello\n")

	result, err := svc.CommitChanges(ctx, domain.WorkItem{ID: "wi-1"}, ports.AIExecutionResult{Success: true}, dir)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "nothing to commit", result.Message)
	assert.Empty(t, result.CommitSha)
}

func TestCommitChanges_StagesAndCommitsWithConventionalMessage(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	dir := initRepo(t)
	writeAndCommit(t, dir, "README.md", "hello\n")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	item := domain.WorkItem{
		ID:     "wi-1",
		Title:  "add entrypoint",
		Status: domain.StatusInProgress,
		ExternalRef: domain.ExternalRef{
			SourceName: "github",
			ExternalID: "7",
		},
	}
	aiResult := ports.AIExecutionResult{Success: true, Outcome: "completed", Summary: "added main.go"}

	result, err := svc.CommitChanges(ctx, item, aiResult, dir)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.CommitSha)
	assert.Contains(t, result.Message, "feat(in_progress): added main.go")
	assert.Contains(t, result.Message, "Refs: github/7")
	assert.Contains(t, result.Message, "main.go")
}

func TestGetStatus_ReportsCleanTreeAndConflicts(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	dir := initRepo(t)
	writeAndCommit(t, dir, "README.md", "hello\n")

	status, err := svc.GetStatus(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "clean", status.Message)
	assert.False(t, status.HasConflicts)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0o644))
	status, err = svc.GetStatus(ctx, dir)
	require.NoError(t, err)
	assert.NotEqual(t, "clean", status.Message)
	assert.False(t, status.HasConflicts)
}

func TestCommitMessage_FirstLineNeverExceeds72Chars(t *testing.T) {
	item := domain.WorkItem{
		ID:     "wi-1",
		Title:  "a perfectly ordinary title",
		Status: domain.StatusInProgress,
	}
	aiResult := ports.AIExecutionResult{
		Success: true,
		Outcome: "completed",
		Summary: strings.Repeat("a very long summary sentence describing everything that changed ", 3),
	}

	msg := commitMessage(item, aiResult, nil)
	subject := strings.SplitN(msg, "\n", 2)[0]
	assert.LessOrEqual(t, len(subject), 72)
	assert.Contains(t, subject, "...")
}

func TestCommitMessage_PrefixReflectsOutcome(t *testing.T) {
	item := domain.WorkItem{Status: domain.StatusInProgress, Title: "x"}
	assert.Equal(t, "feat", commitPrefix(ports.AIExecutionResult{Success: true, Outcome: "completed"}))
	assert.Equal(t, "wip", commitPrefix(ports.AIExecutionResult{Success: true, Outcome: "blocked"}))
	assert.Equal(t, "chore", commitPrefix(ports.AIExecutionResult{Success: true, Outcome: "needs_context"}))
	assert.Equal(t, "wip", commitPrefix(ports.AIExecutionResult{Success: false}))
	_ = item
}
