// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt assembles the system and user prompts sent to the
// AIProvider for a given transformation, and decides which transformation
// runs next for a work item.
package prompt

import (
	"fmt"
	"strings"

	"github.com/elephantgerald/bartleby/internal/domain"
)

// Builder assembles prompts from a WorkItem's provenance.
type Builder struct{}

// NewBuilder constructs a Builder. It holds no state: prompt assembly is a
// pure function of its inputs.
func NewBuilder() *Builder {
	return &Builder{}
}

// SystemPrompt returns the system prompt for a transformation, instructing
// the AI to respond with the structured JSON payload the executor expects.
func (b *Builder) SystemPrompt(t domain.TransformationType, workingDir string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are Bartleby, an autonomous software engineering agent performing the %q transformation.\n", t)
	fmt.Fprintf(&sb, "Your working directory is %s.\n\n", workingDir)
	sb.WriteString("Respond with a single JSON object with these keys:\n")
	sb.WriteString(`  "outcome": one of "completed", "blocked", "needs_context"` + "\n")
	sb.WriteString(`  "summary": a short string describing what you did` + "\n")
	sb.WriteString(`  "modified_files": an array of file paths you changed` + "\n")
	sb.WriteString(`  "questions": an array of clarification questions, if any` + "\n")
	return sb.String()
}

// Context is everything needed to build a user prompt for one transformation
// run against one item (mirrors executor.Context, kept decoupled so this
// package has no dependency on ports/executor).
type Context struct {
	Item                 domain.WorkItem
	PriorSessions        []domain.WorkSession
	AnsweredQuestions    []domain.BlockedQuestion
	AdditionalInstructions string
}

// UserPrompt interpolates the item, its labels, external URL, a digest of
// prior sessions, every answered question, and any caller-supplied
// additional instructions.
func (b *Builder) UserPrompt(c Context) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## %s\n\n%s\n\n", c.Item.Title, c.Item.Description)

	if len(c.Item.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n\n", strings.Join(c.Item.Labels, ", "))
	}
	if c.Item.ExternalRef.ExternalURL != "" {
		fmt.Fprintf(&sb, "Reference: %s\n\n", c.Item.ExternalRef.ExternalURL)
	}

	if len(c.PriorSessions) > 0 {
		sb.WriteString("### Prior work on this item\n\n")
		for _, s := range c.PriorSessions {
			fmt.Fprintf(&sb, "- [%s] outcome=%s: %s\n", s.TransformationType, s.Outcome, s.Summary)
		}
		sb.WriteString("\n")
	}

	if len(c.AnsweredQuestions) > 0 {
		sb.WriteString("### Answered questions\n\n")
		for _, q := range c.AnsweredQuestions {
			if q.Answer == nil {
				continue
			}
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", q.Question, *q.Answer)
		}
	}

	if c.AdditionalInstructions != "" {
		fmt.Fprintf(&sb, "### Additional instructions\n\n%s\n", c.AdditionalInstructions)
	}

	return sb.String()
}

// GetNextTransformation selects the next transformation for an item given
// its unanswered-question state and the ordered history of completed
// sessions:
//
//   - unanswered questions exist        -> AskClarification
//   - no completed sessions             -> Interpret
//   - Interpret done                    -> Plan
//   - Plan done                         -> Execute
//   - Execute done, no Refine yet, and
//     last outcome != Completed         -> Refine
//   - otherwise (all above done)        -> Finalize
//
// Finalize is terminal: once a Finalize session has completed, calling
// this again still returns Finalize, so callers must check history
// themselves before invoking a transformation a second time.
func GetNextTransformation(questions []domain.BlockedQuestion, sessions []domain.WorkSession) domain.TransformationType {
	for _, q := range questions {
		if !q.IsAnswered() {
			return domain.TransformationAskClarification
		}
	}

	completed := make(map[domain.TransformationType]domain.WorkSession)
	var lastExecute *domain.WorkSession
	for i := range sessions {
		s := sessions[i]
		if s.Outcome != domain.OutcomeCompleted && s.TransformationType != domain.TransformationExecute {
			continue
		}
		if s.TransformationType == domain.TransformationExecute {
			lastExecute = &sessions[i]
		}
		if s.Outcome == domain.OutcomeCompleted {
			completed[s.TransformationType] = s
		}
	}

	if _, ok := completed[domain.TransformationFinalize]; ok {
		return domain.TransformationFinalize // terminal; caller should not re-invoke
	}
	if _, ok := completed[domain.TransformationInterpret]; !ok {
		return domain.TransformationInterpret
	}
	if _, ok := completed[domain.TransformationPlan]; !ok {
		return domain.TransformationPlan
	}
	if lastExecute == nil {
		return domain.TransformationExecute
	}
	if _, refined := completed[domain.TransformationRefine]; !refined && lastExecute.Outcome != domain.OutcomeCompleted {
		return domain.TransformationRefine
	}
	return domain.TransformationFinalize
}
