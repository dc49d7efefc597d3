// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aiprotocol implements the wire contract a Bartleby transformation
// expects from the AI backend: a single JSON object describing what
// happened, embedded somewhere in the model's free-text reply. AIProvider
// implementations call Parse on their raw completion text to produce the
// ports.AIExecutionResult the rest of the system consumes.
package aiprotocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/elephantgerald/bartleby/internal/ports"
)

// payload mirrors the JSON object the AI is instructed to return.
type payload struct {
	Outcome       string   `json:"outcome"`
	Summary       string   `json:"summary"`
	ModifiedFiles []string `json:"modified_files"`
	Questions     []string `json:"questions"`
}

var fencedJSONRe = regexp.MustCompile("(?s)```json?\\s*(.*?)\\s*```")

// extractJSON implements a progressive extraction policy:
//  1. the whole trimmed text if it starts with { and ends with }
//  2. the first fenced ```json ... ``` (or ``` ... ```) block
//  3. the substring from the first { through the last }
//
// It returns the candidate JSON text and whether any candidate was found.
func extractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed, true
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		return text[first : last+1], true
	}

	return "", false
}

// Outcome values the normalized payload.Outcome can take after defaulting.
const (
	OutcomeCompleted    = "completed"
	OutcomeBlocked      = "blocked"
	OutcomeNeedsContext = "needs_context"
)

// Parse extracts and interprets the JSON payload embedded in an AI
// completion's raw text:
//
//   - unparseable text (no JSON candidate found, or invalid JSON) yields
//     Success=false with ErrorMessage describing the failure; Outcome is
//     left empty so callers can distinguish it from a recognized outcome.
//   - an unrecognized outcome string defaults to "needs_context".
//
// tokensUsed is passed through verbatim onto the result; it is not part of
// the JSON payload itself (providers report it from API usage metadata).
func Parse(rawText string, tokensUsed int) ports.AIExecutionResult {
	candidate, found := extractJSON(rawText)
	if !found {
		return ports.AIExecutionResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("unparseable AI response: %s", truncate(rawText, 2000)),
			TokensUsed:   tokensUsed,
		}
	}

	var p payload
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return ports.AIExecutionResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("unparseable AI response: %s", truncate(rawText, 2000)),
			TokensUsed:   tokensUsed,
		}
	}

	outcome := p.Outcome
	switch outcome {
	case OutcomeCompleted, OutcomeBlocked, OutcomeNeedsContext:
	default:
		outcome = OutcomeNeedsContext
	}

	return ports.AIExecutionResult{
		Success:       true,
		Outcome:       outcome,
		Summary:       p.Summary,
		ModifiedFiles: p.ModifiedFiles,
		Questions:     p.Questions,
		TokensUsed:    tokensUsed,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
