// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator drives the single background loop that ties the
// Resolver, Executor, and optional GitService together into one
// timer-scheduled tick.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/events"
	"github.com/elephantgerald/bartleby/internal/executor"
	"github.com/elephantgerald/bartleby/internal/graphstore"
	"github.com/elephantgerald/bartleby/internal/observability"
	"github.com/elephantgerald/bartleby/internal/ports"
	"github.com/elephantgerald/bartleby/internal/resolver"
	"go.opentelemetry.io/otel/trace"
)

// Stats summarizes Orchestrator activity since process start.
type Stats struct {
	WorkItemsCompleted int
	WorkItemsFailed    int
	WorkItemsBlocked   int
	CurrentWorkItemID  string
	NextCycleAt        time.Time
}

// Orchestrator is the cooperative background task that resolves ready work
// and drives it through the Executor, one item per tick.
type Orchestrator struct {
	Repos    ports.Repositories
	Graph    *graphstore.Store
	Executor *executor.Executor
	Git      ports.GitService
	Bus      *events.Bus

	// Metrics records tick/transformation instruments when set. Left nil,
	// the Orchestrator runs with no metrics overhead.
	Metrics *observability.Metrics

	Interval   time.Duration
	WorkingDir string

	// Now allows tests to control time; defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	state State
	stats Stats

	guard   atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	trigger chan struct{}
}

// New constructs a Stopped Orchestrator.
func New(repos ports.Repositories, graph *graphstore.Store, exec *executor.Executor, git ports.GitService, bus *events.Bus, interval time.Duration, workingDir string) *Orchestrator {
	return &Orchestrator{
		Repos:      repos,
		Graph:      graph,
		Executor:   exec,
		Git:        git,
		Bus:        bus,
		Interval:   interval,
		WorkingDir: workingDir,
		Now:        time.Now,
		state:      StateStopped,
		trigger:    make(chan struct{}, 1),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// State returns the Orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Stats returns a snapshot of the running counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// transition moves the state machine to `to`, emitting StateChanged when
// the state actually changes. Invalid edges are logged and ignored rather
// than propagated as an error: every (State, event) pair has a defined
// transition or a documented no-op, and an invalid requested edge is one
// of those no-ops.
func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	if !isValidTransition(from, to) {
		o.mu.Unlock()
		slog.Warn("orchestrator: ignoring invalid transition", "error", errInvalidTransition(from, to))
		return
	}
	changed := from != to
	o.state = to
	o.mu.Unlock()

	if changed {
		slog.Info("orchestrator: state transition", "from", from, "to", to)
		if o.Bus != nil {
			o.Bus.Emit(events.TypeStateChanged, events.StateChangedData{From: string(from), To: string(to)})
		}
	}
}

// Start transitions Stopped -> Starting -> Idle and spawns the background
// loop. It returns once the loop goroutine is running; callers stop it with
// Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})

	o.transition(StateStarting)
	o.transition(StateIdle)

	go o.loop(ctx)
}

// Trigger wakes the loop early instead of waiting for the next tick
// interval. It is non-blocking: a pending trigger is coalesced with any
// already queued.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Stop requests a graceful shutdown: the current tick (if any) is allowed
// to finish, then the timer is disposed and the state moves to Stopped.
// Stop blocks until that has happened or ctx is cancelled.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.transition(StateStopping)
	close(o.stopCh)
	select {
	case <-o.doneCh:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	defer close(o.doneCh)

	for {
		select {
		case <-ctx.Done():
			o.transition(StateStopped)
			return
		case <-o.stopCh:
			o.transition(StateStopped)
			return
		case <-ticker.C:
			o.tick(ctx)
		case <-o.trigger:
			o.tick(ctx)
		}
	}
}

// tick runs one pass of the gate-check-and-work-one-item body. It is
// idempotent under overlap (guarded by a flag) even though the loop
// goroutine already serializes calls.
func (o *Orchestrator) tick(ctx context.Context) {
	if !o.guard.CompareAndSwap(false, true) {
		return
	}
	defer o.guard.Store(false)

	ctx, span := observability.Tracer().Start(ctx, "orchestrator.tick")
	tickStart := o.now()
	var tickErr error
	defer func() {
		observability.FinishSpan(span, tickErr)
		if o.Metrics != nil {
			o.Metrics.TickDuration.Observe(o.now().Sub(tickStart).Seconds())
		}
	}()

	now := o.now()

	settings, err := o.Repos.Settings.Get(ctx)
	if err != nil {
		slog.Error("orchestrator: loading settings", "error", err)
		tickErr = err
		return
	}

	if resetDailyBudget(&settings, now) {
		if err := o.Repos.Settings.Save(ctx, settings); err != nil {
			slog.Error("orchestrator: persisting budget reset", "error", err)
		}
	}

	if settings.QuietHours.Contains(timeOfDay(now)) {
		o.transition(StateQuietHours)
		return
	}
	if settings.TokenBudget.Exhausted() {
		o.transition(StateBudgetExhausted)
		return
	}
	if o.State() == StateQuietHours || o.State() == StateBudgetExhausted {
		o.transition(StateIdle)
	}

	graph, err := o.Graph.Load()
	if err != nil {
		slog.Error("orchestrator: loading dependency graph", "error", err)
		tickErr = err
		return
	}
	items, err := o.Repos.WorkItems.List(ctx)
	if err != nil {
		slog.Error("orchestrator: listing work items", "error", err)
		tickErr = err
		return
	}

	ready := resolver.New(graph, items).GetReadyItems()
	if o.Metrics != nil {
		o.Metrics.TickItemsResolved.Observe(float64(len(ready)))
	}
	if len(ready) == 0 {
		o.transition(StateIdle)
		return
	}

	item := ready[0]
	o.runItem(ctx, item, &settings)

	o.mu.Lock()
	o.stats.CurrentWorkItemID = ""
	o.stats.NextCycleAt = o.now().Add(o.Interval)
	o.mu.Unlock()

	o.transition(StateIdle)
}

// runItem runs exactly one transformation against one item per tick. A
// transformation that completes without finalizing the item
// (Interpret/Plan/Execute/Refine) reverts Status to Ready so the next tick's
// Resolver pass picks the item back up and advances it to its next stage;
// only a completed Finalize session -- or a Blocked/Failed outcome -- leaves
// the item out of the ready set.
func (o *Orchestrator) runItem(ctx context.Context, item domain.WorkItem, settings *domain.AppSettings) {
	prevStatus := item.Status

	item.Status = domain.StatusInProgress
	if err := o.Repos.WorkItems.Update(ctx, &item); err != nil {
		slog.Error("orchestrator: marking item in-progress", "work_item_id", item.ID, "error", err)
		return
	}
	o.emitStatusChanged(item.ID, prevStatus, item.Status)

	o.mu.Lock()
	o.stats.CurrentWorkItemID = item.ID
	o.mu.Unlock()
	o.transition(StateWorking)

	t, err := o.Executor.GetNextTransformation(ctx, item.ID)
	if err != nil {
		slog.Error("orchestrator: selecting transformation", "work_item_id", item.ID, "error", err)
		return
	}
	execCtx, err := o.Executor.BuildContext(ctx, item.ID, t, o.WorkingDir)
	if err != nil {
		slog.Error("orchestrator: building execution context", "work_item_id", item.ID, "error", err)
		return
	}

	ctx, span := observability.Tracer().Start(ctx, "orchestrator.runItem",
		trace.WithAttributes(observability.SpanAttrs(map[string]string{
			"work_item_id":        item.ID,
			"transformation_type": string(t),
		})...))
	transformStart := o.now()
	result, err := o.Executor.Execute(ctx, execCtx)
	observability.FinishSpan(span, err)
	if o.Metrics != nil {
		o.Metrics.TransformationDuration.WithLabelValues(string(t)).Observe(o.now().Sub(transformStart).Seconds())
	}
	if err != nil {
		// Retry exhaustion or cancellation: the session already recorded
		// the failure. The item stays InProgress pending a human rather
		// than being auto-demoted to Failed.
		slog.Error("orchestrator: executing transformation", "work_item_id", item.ID, "error", err)
		if o.Metrics != nil {
			o.Metrics.TransformationsTotal.WithLabelValues(string(t), "error").Inc()
		}
		return
	}
	if o.Metrics != nil {
		outcome := result.Outcome
		if outcome == "" {
			outcome = "unknown"
		}
		o.Metrics.TransformationsTotal.WithLabelValues(string(t), outcome).Inc()
		o.Metrics.TokensUsedTotal.Add(float64(result.TokensUsed))
	}

	updated, err := o.Repos.WorkItems.GetByID(ctx, item.ID)
	if err != nil || updated == nil {
		slog.Error("orchestrator: reloading item after execute", "work_item_id", item.ID, "error", err)
		return
	}
	updated.AttemptCount++
	workedAt := o.now()
	updated.LastWorkedAt = &workedAt
	if err := o.Repos.WorkItems.Update(ctx, updated); err != nil {
		slog.Error("orchestrator: recording attempt", "work_item_id", item.ID, "error", err)
	}

	settings.TokenBudget.TokensUsedToday += result.TokensUsed
	if err := o.Repos.Settings.Save(ctx, *settings); err != nil {
		slog.Error("orchestrator: persisting token usage", "error", err)
	}

	o.emitStatusChanged(item.ID, domain.StatusInProgress, updated.Status)

	switch updated.Status {
	case domain.StatusComplete:
		o.mu.Lock()
		o.stats.WorkItemsCompleted++
		o.mu.Unlock()
		o.maybeCommit(ctx, *updated, result, *settings)
	case domain.StatusBlocked:
		o.mu.Lock()
		o.stats.WorkItemsBlocked++
		o.mu.Unlock()
	case domain.StatusFailed:
		o.mu.Lock()
		o.stats.WorkItemsFailed++
		o.mu.Unlock()
	case domain.StatusInProgress:
		updated.Status = domain.StatusReady
		if err := o.Repos.WorkItems.Update(ctx, updated); err != nil {
			slog.Error("orchestrator: reverting item to ready", "work_item_id", item.ID, "error", err)
		}
	}
}

// maybeCommit invokes the optional GitService on a completed item and
// stamps the resulting commit SHA onto the item's most recent WorkSession.
func (o *Orchestrator) maybeCommit(ctx context.Context, item domain.WorkItem, result ports.AIExecutionResult, settings domain.AppSettings) {
	if o.Git == nil || !settings.GitAutoCommit || settings.GitWorkingDirectory == "" {
		return
	}

	if _, err := o.Git.CreateOrSwitchToBranch(ctx, item, settings.GitWorkingDirectory); err != nil {
		slog.Error("orchestrator: creating branch", "work_item_id", item.ID, "error", err)
		return
	}

	gitResult, err := o.Git.CommitChanges(ctx, item, result, settings.GitWorkingDirectory)
	if err != nil {
		slog.Error("orchestrator: committing changes", "work_item_id", item.ID, "error", err)
		return
	}
	if gitResult.CommitSha != "" {
		o.stampCommitSha(ctx, item.ID, gitResult.CommitSha)
	}

	if settings.GitAutoPush {
		if _, err := o.Git.Push(ctx, settings.GitWorkingDirectory, "origin"); err != nil {
			slog.Error("orchestrator: pushing branch", "work_item_id", item.ID, "error", err)
		}
	}
}

func (o *Orchestrator) stampCommitSha(ctx context.Context, itemID, sha string) {
	sessions, err := o.Repos.WorkSessions.ListByWorkItem(ctx, itemID)
	if err != nil || len(sessions) == 0 {
		return
	}
	last := sessions[len(sessions)-1]
	last.CommitSha = sha
	if err := o.Repos.WorkSessions.Update(ctx, &last); err != nil {
		slog.Error("orchestrator: stamping commit sha", "work_item_id", itemID, "error", err)
	}
}

func (o *Orchestrator) emitStatusChanged(itemID string, from, to domain.Status) {
	if o.Bus == nil || from == to {
		return
	}
	o.Bus.Emit(events.TypeWorkItemStatusChanged, events.WorkItemStatusChangedData{
		WorkItemID: itemID,
		From:       string(from),
		To:         string(to),
	})
}

// resetDailyBudget zeroes TokensUsedToday exactly once per local calendar
// day, regardless of how many ticks land within that day.
func resetDailyBudget(settings *domain.AppSettings, now time.Time) bool {
	today := now.Format("2006-01-02")
	if settings.TokenBudget.LastResetDate == today {
		return false
	}
	settings.TokenBudget.TokensUsedToday = 0
	settings.TokenBudget.LastResetDate = today
	return true
}

// timeOfDay returns the offset of `now` into its local calendar day, for
// comparison against QuietHours.Start/End.
func timeOfDay(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return now.Sub(midnight)
}
