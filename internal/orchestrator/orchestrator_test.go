// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/executor"
	"github.com/elephantgerald/bartleby/internal/graphstore"
	"github.com/elephantgerald/bartleby/internal/ports"
)

type fakeItems struct {
	mu    sync.Mutex
	items map[string]domain.WorkItem
}

func newFakeItems(items ...domain.WorkItem) *fakeItems {
	f := &fakeItems{items: map[string]domain.WorkItem{}}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeItems) GetByID(_ context.Context, id string) (*domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}
func (f *fakeItems) GetByExternalRef(context.Context, string, string) (*domain.WorkItem, error) {
	return nil, nil
}
func (f *fakeItems) List(_ context.Context) ([]domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WorkItem, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	return out, nil
}
func (f *fakeItems) ListBySource(context.Context, string) ([]domain.WorkItem, error) { return nil, nil }
func (f *fakeItems) Create(_ context.Context, item *domain.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = *item
	return nil
}
func (f *fakeItems) Update(_ context.Context, item *domain.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = *item
	return nil
}
func (f *fakeItems) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

type fakeSessions struct {
	mu     sync.Mutex
	byItem map[string][]domain.WorkSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byItem: map[string][]domain.WorkSession{}}
}
func (f *fakeSessions) GetByID(context.Context, string) (*domain.WorkSession, error) { return nil, nil }
func (f *fakeSessions) ListByWorkItem(_ context.Context, workItemID string) ([]domain.WorkSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.WorkSession(nil), f.byItem[workItemID]...), nil
}
func (f *fakeSessions) Create(_ context.Context, s *domain.WorkSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byItem[s.WorkItemID] = append(f.byItem[s.WorkItemID], *s)
	return nil
}
func (f *fakeSessions) Update(_ context.Context, s *domain.WorkSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.byItem[s.WorkItemID]
	for i := range rows {
		if rows[i].ID == s.ID {
			rows[i] = *s
		}
	}
	f.byItem[s.WorkItemID] = rows
	return nil
}

type fakeQuestions struct{ mu sync.Mutex }

func (f *fakeQuestions) GetByID(context.Context, string) (*domain.BlockedQuestion, error) {
	return nil, nil
}
func (f *fakeQuestions) ListByWorkItem(context.Context, string) ([]domain.BlockedQuestion, error) {
	return nil, nil
}
func (f *fakeQuestions) Create(context.Context, *domain.BlockedQuestion) error { return nil }
func (f *fakeQuestions) Update(context.Context, *domain.BlockedQuestion) error { return nil }
func (f *fakeQuestions) Delete(context.Context, string) error                 { return nil }

type fakeSettings struct {
	mu sync.Mutex
	s  domain.AppSettings
}

func newFakeSettings(s domain.AppSettings) *fakeSettings { return &fakeSettings{s: s} }
func (f *fakeSettings) Get(context.Context) (domain.AppSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s, nil
}
func (f *fakeSettings) Save(_ context.Context, s domain.AppSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = s
	return nil
}

type fakeAI struct {
	mu         sync.Mutex
	calls      int
	tokensUsed int
}

func (f *fakeAI) ExecuteWork(context.Context, domain.WorkItem, string, string, string) (ports.AIExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return ports.AIExecutionResult{Success: true, Outcome: "completed", Summary: "did it", TokensUsed: f.tokensUsed}, nil
}
func (f *fakeAI) TestConnection(context.Context) (bool, error) { return true, nil }

func newOrchestrator(t *testing.T, items *fakeItems, settings *fakeSettings, ai *fakeAI) (*Orchestrator, *fakeSessions) {
	t.Helper()
	sessions := newFakeSessions()
	repos := ports.Repositories{
		WorkItems:        items,
		BlockedQuestions: &fakeQuestions{},
		WorkSessions:     sessions,
		Settings:         settings,
	}
	exec := executor.New(repos, ai)
	exec.Retry.MaxAttempts = 1

	graph := graphstore.New(filepath.Join(t.TempDir(), "graph.puml"))
	o := New(repos, graph, exec, nil, nil, time.Hour, t.TempDir())
	// A fresh Orchestrator is Stopped, which may only move to Starting;
	// step there so each test's transition(StateIdle) takes effect.
	o.transition(StateStarting)
	return o, sessions
}

func TestTick_BudgetGateScenario(t *testing.T) {
	item := domain.WorkItem{ID: uuid.New().String(), Title: "work", Status: domain.StatusPending, CreatedAt: time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)}
	items := newFakeItems(item)
	settings := newFakeSettings(domain.AppSettings{
		TokenBudget: domain.TokenBudget{Enabled: true, DailyLimit: 1000, TokensUsedToday: 950, LastResetDate: "2026-07-29"},
	})
	ai := &fakeAI{tokensUsed: 80}
	o, _ := newOrchestrator(t, items, settings, ai)
	o.transition(StateIdle)

	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { return now }

	o.tick(context.Background())

	s, _ := settings.Get(context.Background())
	assert.Equal(t, 1030, s.TokenBudget.TokensUsedToday)
	assert.Equal(t, StateIdle, o.State())

	// Next tick: budget now exceeds the daily limit, so the gate trips.
	o.tick(context.Background())
	assert.Equal(t, StateBudgetExhausted, o.State())

	// Midnight rollover: a new local day resets the counter and clears the
	// gate exactly once.
	nextDay := time.Date(2026, 7, 30, 0, 30, 0, 0, time.UTC)
	o.Now = func() time.Time { return nextDay }
	o.tick(context.Background())

	s, _ = settings.Get(context.Background())
	// The reset zeroes the counter first; the same tick then finds the item
	// ready again (it reverted to Ready after its non-finalizing stage) and
	// spends another 80 tokens processing it.
	assert.Equal(t, 80, s.TokenBudget.TokensUsedToday)
	assert.Equal(t, "2026-07-30", s.TokenBudget.LastResetDate)
	assert.Equal(t, StateIdle, o.State())
}

func TestTick_QuietHoursGateWrapsMidnight(t *testing.T) {
	items := newFakeItems()
	settings := newFakeSettings(domain.AppSettings{
		QuietHours: domain.QuietHours{Enabled: true, Start: 22 * time.Hour, End: 6 * time.Hour},
	})
	o, _ := newOrchestrator(t, items, settings, &fakeAI{})
	o.transition(StateIdle)
	o.Now = func() time.Time { return time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC) }

	o.tick(context.Background())
	assert.Equal(t, StateQuietHours, o.State())

	o.Now = func() time.Time { return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC) }
	o.tick(context.Background())
	assert.Equal(t, StateIdle, o.State())
}

func TestTick_ProcessesOneTransformationPerTickThenRevertsToReady(t *testing.T) {
	item := domain.WorkItem{ID: uuid.New().String(), Status: domain.StatusPending, Title: "work"}
	items := newFakeItems(item)
	settings := newFakeSettings(domain.AppSettings{})
	ai := &fakeAI{tokensUsed: 10}
	o, sessions := newOrchestrator(t, items, settings, ai)
	o.transition(StateIdle)

	o.tick(context.Background())

	updated, _ := items.GetByID(context.Background(), item.ID)
	// Interpret (the first stage for a fresh item) completed but the item
	// isn't finalized yet, so it reverts to Ready for the next tick rather
	// than staying stuck InProgress forever.
	assert.Equal(t, domain.StatusReady, updated.Status)
	assert.Equal(t, 1, updated.AttemptCount)
	require.NotNil(t, updated.LastWorkedAt)

	assert.Equal(t, 0, o.Stats().WorkItemsCompleted)
	assert.Equal(t, 1, ai.calls)

	rows, _ := sessions.ListByWorkItem(context.Background(), item.ID)
	require.Len(t, rows, 1)
}

func TestTick_RepeatedTicksDriveItemThroughToComplete(t *testing.T) {
	item := domain.WorkItem{ID: uuid.New().String(), Status: domain.StatusPending, Title: "work"}
	items := newFakeItems(item)
	settings := newFakeSettings(domain.AppSettings{})
	ai := &fakeAI{tokensUsed: 5}
	o, _ := newOrchestrator(t, items, settings, ai)
	o.transition(StateIdle)

	// Interpret, Plan, Execute, Finalize: four stages to drive the item to
	// completion (Refine is skipped since Execute's outcome is Completed).
	for i := 0; i < 4; i++ {
		o.tick(context.Background())
	}

	updated, _ := items.GetByID(context.Background(), item.ID)
	assert.Equal(t, domain.StatusComplete, updated.Status)
	assert.Equal(t, 4, updated.AttemptCount)
	assert.Equal(t, 1, o.Stats().WorkItemsCompleted)
	assert.Equal(t, 4, ai.calls)
}

func TestTick_NoReadyItemsStaysIdle(t *testing.T) {
	o, _ := newOrchestrator(t, newFakeItems(), newFakeSettings(domain.AppSettings{}), &fakeAI{})
	o.transition(StateIdle)
	o.tick(context.Background())
	assert.Equal(t, StateIdle, o.State())
}

func TestIsValidTransition_Totality(t *testing.T) {
	states := []State{StateStopped, StateStarting, StateIdle, StateWorking, StateQuietHours, StateBudgetExhausted, StateStopping}
	for _, from := range states {
		for _, to := range states {
			// Every (from, to) pair must resolve without panicking; a
			// rejected pair is a documented no-op, not an error.
			_ = isValidTransition(from, to)
		}
	}
	assert.True(t, isValidTransition(StateIdle, StateIdle), "self-transition is always a no-op")
	assert.False(t, isValidTransition(StateStopped, StateWorking), "cannot jump straight from Stopped to Working")
}
