// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package git implements ports.GitService by shelling out to the git
// binary. Every operation is scoped to a working directory rather than a
// fixed repo root,
// since a single process manages one working tree per configured
// domain.AppSettings.GitWorkingDirectory but must still be safe to point at
// any directory a caller names.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/logging"
	"github.com/elephantgerald/bartleby/internal/ports"
)

// Service implements ports.GitService by invoking the git CLI.
type Service struct {
	log *logging.Logger
}

// New builds a Service. log may be nil, in which case logging.Default() is
// used.
func New(log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{log: log.With("component", "git")}
}

// run executes git with args rooted at dir and returns its combined output.
func (s *Service) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
		return string(out), fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// IsGitRepository reports whether dir is inside a git working tree.
func (s *Service) IsGitRepository(ctx context.Context, dir string) (bool, error) {
	out, err := s.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// InitializeRepository runs git init in dir if it isn't already a repository.
func (s *Service) InitializeRepository(ctx context.Context, dir string) (ports.GitOperationResult, error) {
	if ok, _ := s.IsGitRepository(ctx, dir); ok {
		return ports.GitOperationResult{Success: true, Message: "already a git repository"}, nil
	}

	if _, err := s.run(ctx, dir, "init", "-q"); err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: init: %w", err)
	}
	s.log.Info("initialized git repository", "dir", dir)
	return ports.GitOperationResult{Success: true, Message: "initialized git repository"}, nil
}

// branchSlugRe strips everything but lowercase letters, digits, and hyphens
// from a work item title so it's safe to use as a branch name component.
var branchSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// BranchNameFor derives the branch a work item's transformation runs on:
// bartleby/<external-id-or-id-prefix>-<sanitised-title>. The external
// tracker's id is preferred when the item has one, since it's the
// identifier a human reviewing the tracker will recognize; a short prefix
// of the local id is the fallback for manually created items.
func BranchNameFor(item domain.WorkItem) string {
	idPart := item.ExternalRef.ExternalID
	if idPart == "" {
		idPart = item.ID
		if len(idPart) > 8 {
			idPart = idPart[:8]
		}
	}

	slug := branchSlugRe.ReplaceAllString(strings.ToLower(item.Title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		return fmt.Sprintf("bartleby/%s", idPart)
	}
	return fmt.Sprintf("bartleby/%s-%s", idPart, slug)
}

// CreateOrSwitchToBranch checks out item's branch, creating it from the
// current HEAD if it doesn't exist yet. The branch name is stable across
// calls (BranchNameFor is a pure function of the item), so retried
// transformations resume on the same branch instead of forking a new one
// each attempt.
func (s *Service) CreateOrSwitchToBranch(ctx context.Context, item domain.WorkItem, dir string) (ports.GitOperationResult, error) {
	branch := item.BranchName
	if branch == "" {
		branch = BranchNameFor(item)
	}

	if _, err := s.run(ctx, dir, "rev-parse", "--verify", branch); err == nil {
		if _, err := s.run(ctx, dir, "checkout", branch); err != nil {
			return ports.GitOperationResult{}, fmt.Errorf("git: checkout existing branch %q: %w", branch, err)
		}
		return ports.GitOperationResult{Success: true, BranchName: branch, Message: "switched to existing branch"}, nil
	}

	if _, err := s.run(ctx, dir, "checkout", "-b", branch); err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: create branch %q: %w", branch, err)
	}
	s.log.Info("created branch", "branch", branch, "work_item_id", item.ID)
	return ports.GitOperationResult{Success: true, BranchName: branch, Message: "created new branch"}, nil
}

// commitPrefix maps a transformation outcome onto a conventional-commit
// type. Bartleby's commits describe what the AI did, not what kind of code
// change it produced, so the mapping is coarse by design.
func commitPrefix(result ports.AIExecutionResult) string {
	if !result.Success {
		return "wip"
	}
	switch result.Outcome {
	case "completed":
		return "feat"
	case "blocked":
		return "wip"
	default:
		return "chore"
	}
}

// CommitChanges stages every change in dir and commits it with a
// conventional-commit message built from item and the transformation
// result. It is a no-op (Success=true, empty CommitSha) when there is
// nothing staged, since Finalize transformations often produce no file
// changes at all.
func (s *Service) CommitChanges(ctx context.Context, item domain.WorkItem, result ports.AIExecutionResult, dir string) (ports.GitOperationResult, error) {
	if _, err := s.run(ctx, dir, "add", "-A"); err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: stage changes: %w", err)
	}

	diffOut, err := s.run(ctx, dir, "diff", "--cached")
	if err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: diff --cached: %w", err)
	}
	if strings.TrimSpace(diffOut) == "" {
		return ports.GitOperationResult{Success: true, Message: "nothing to commit"}, nil
	}

	files, err := changedFiles(diffOut)
	if err != nil {
		s.log.Warn("could not parse staged diff, committing without a file summary", "error", err)
	}

	message := commitMessage(item, result, files)
	if _, err := s.run(ctx, dir, "commit", "-m", message); err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: commit: %w", err)
	}

	sha, err := s.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: rev-parse HEAD: %w", err)
	}

	return ports.GitOperationResult{
		Success:   true,
		Message:   message,
		CommitSha: strings.TrimSpace(sha),
	}, nil
}

// changedFiles parses a unified diff with go-diff to list the files it
// touches, for embedding in the commit message body.
func changedFiles(unifiedDiff string) ([]string, error) {
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(unifiedDiff))
	if err != nil {
		return nil, fmt.Errorf("parsing staged diff: %w", err)
	}
	files := make([]string, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		files = append(files, cleanDiffPath(fd.NewName))
	}
	return files, nil
}

func cleanDiffPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// maxSubjectLen is the conventional-commit first-line limit.
const maxSubjectLen = 72

// truncateSubject shortens s to fit maxSubjectLen, replacing whatever it
// cuts with an ellipsis so the line never overruns.
func truncateSubject(s string) string {
	if len(s) <= maxSubjectLen {
		return s
	}
	const ellipsis = "..."
	cut := maxSubjectLen - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(s[:cut], " ") + ellipsis
}

// commitMessage builds a conventional-commit subject line plus a body
// listing the touched files (type(scope): summary).
func commitMessage(item domain.WorkItem, result ports.AIExecutionResult, files []string) string {
	summary := result.Summary
	if summary == "" {
		summary = item.Title
	}
	subject := truncateSubject(fmt.Sprintf("%s(%s): %s", commitPrefix(result), string(item.Status), summary))

	var body strings.Builder
	body.WriteString(subject)
	if item.ExternalRef.HasOrigin() {
		body.WriteString(fmt.Sprintf("\n\nRefs: %s/%s", item.ExternalRef.SourceName, item.ExternalRef.ExternalID))
	}
	if len(files) > 0 {
		body.WriteString("\n\nFiles touched:\n")
		for _, f := range files {
			body.WriteString(fmt.Sprintf("- %s\n", f))
		}
	}
	return strings.TrimRight(body.String(), "\n")
}

// Push pushes the current branch to remote, setting its upstream.
func (s *Service) Push(ctx context.Context, dir, remote string) (ports.GitOperationResult, error) {
	if remote == "" {
		remote = "origin"
	}
	branch, err := s.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: determine current branch: %w", err)
	}
	branch = strings.TrimSpace(branch)

	if _, err := s.run(ctx, dir, "push", "-u", remote, branch); err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: push %s %s: %w", remote, branch, err)
	}
	return ports.GitOperationResult{Success: true, BranchName: branch, Message: "pushed"}, nil
}

// conflictCodes are the two-letter porcelain=v1 status codes git uses for
// unresolved merge conflicts.
var conflictCodes = map[string]bool{
	"UU": true, "AA": true, "DD": true,
	"AU": true, "UA": true, "UD": true, "DU": true,
}

// GetStatus reports the working tree's status, including any unresolved
// merge conflicts.
func (s *Service) GetStatus(ctx context.Context, dir string) (ports.GitOperationResult, error) {
	out, err := s.run(ctx, dir, "status", "--porcelain=v1")
	if err != nil {
		return ports.GitOperationResult{}, fmt.Errorf("git: status: %w", err)
	}

	var conflicting []string
	clean := true
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		clean = false
		code := line[:2]
		path := strings.TrimSpace(line[2:])
		if conflictCodes[code] {
			conflicting = append(conflicting, path)
		}
	}

	message := "clean"
	if !clean {
		message = "working tree has uncommitted changes"
	}
	return ports.GitOperationResult{
		Success:          true,
		Message:          message,
		HasConflicts:     len(conflicting) > 0,
		ConflictingFiles: conflicting,
	}, nil
}

var _ ports.GitService = (*Service)(nil)
