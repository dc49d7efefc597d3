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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephantgerald/bartleby/internal/config"
	"github.com/elephantgerald/bartleby/internal/domain"
)

// TestAppLifecycle exercises newApp, runResolve, runAnswer, and runSyncOnce
// against one instance: newApp registers its Prometheus instruments against
// the process-global default registerer, so a second call in this binary
// would panic on duplicate registration. Every app-dependent behavior is
// therefore covered here in one pass rather than split across Test funcs.
func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	text := `@startuml
component "Parse" as A
component "Plan" as B
A --> B
@enduml
`
	graphPath := filepath.Join(dir, "graph.puml")
	require.NoError(t, os.WriteFile(graphPath, []byte(text), 0o644))

	cfg = config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.GraphFilePath = graphPath
	cfg.Tracker.Provider = "gitlab" // unsupported: keeps work/sync/orch/ai nil, no network calls

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.close(ctx)

	assert.Nil(t, a.ai)
	assert.Nil(t, a.work)
	assert.Nil(t, a.orch)
	assert.Nil(t, a.sync)

	graph, _, err := a.loadGraphAndItems(ctx)
	require.NoError(t, err)
	require.Len(t, graph, 2)

	var parseID, planID string
	for id, node := range graph {
		switch node.Title {
		case "Parse":
			parseID = id
		case "Plan":
			planID = id
		}
	}
	require.NotEmpty(t, parseID)
	require.NotEmpty(t, planID)

	now := time.Now()
	require.NoError(t, a.repos.WorkItems.Create(ctx, &domain.WorkItem{
		ID: parseID, Title: "Parse", Status: domain.StatusComplete, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, a.repos.WorkItems.Create(ctx, &domain.WorkItem{
		ID: planID, Title: "Plan", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}))
	blocked := &domain.WorkItem{
		ID: "blocked-1", Title: "Blocked item", Status: domain.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	blocked.EnterBlocked()
	require.NoError(t, a.repos.WorkItems.Create(ctx, blocked))

	require.NoError(t, runResolve(nil, nil))

	question := &domain.BlockedQuestion{
		ID: "q-1", WorkItemID: blocked.ID, Question: "which approach?", CreatedAt: now,
	}
	require.NoError(t, a.repos.BlockedQuestions.Create(ctx, question))

	require.NoError(t, runAnswer(nil, []string{"q-1", "option B"}))

	updated, err := a.repos.WorkItems.GetByID(ctx, blocked.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, domain.StatusPending, updated.Status)
	assert.Nil(t, updated.PreviousStatus)

	err = runSyncOnce(nil, nil)
	assert.EqualError(t, err, "no tracker configured, nothing to sync")
}
