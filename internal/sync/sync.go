// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sync implements the bidirectional reconciliation between a
// configured WorkSource and the local WorkItem store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/events"
	"github.com/elephantgerald/bartleby/internal/observability"
	"github.com/elephantgerald/bartleby/internal/ports"
)

// Result is the aggregate outcome of one Service.Run call.
type Result struct {
	Success        bool
	Skipped        bool
	Added          int
	Updated        int
	Removed        int
	StatusesPushed int
	Error          string
	StartedAt      time.Time
	EndedAt        time.Time
}

// Service reconciles the local WorkItem store against one WorkSource.
//
// Run is safe to call concurrently: only one reconciliation executes at a
// time, enforced by a guard flag (IsSyncing). Concurrent calls while a run
// is in flight return a skipped Result immediately, without error.
type Service struct {
	Items    ports.WorkItemRepository
	Settings ports.SettingsRepository
	Source   ports.WorkSource
	Bus      *events.Bus

	// Metrics records sync duration/item counts when set. Left nil, Run
	// carries no metrics overhead.
	Metrics *observability.Metrics

	// Now allows tests to control time; defaults to time.Now.
	Now func() time.Time

	running atomic.Bool
}

// New constructs a Service bound to one WorkSource.
func New(items ports.WorkItemRepository, settings ports.SettingsRepository, source ports.WorkSource, bus *events.Bus) *Service {
	return &Service{Items: items, Settings: settings, Source: source, Bus: bus, Now: time.Now}
}

// IsSyncing reports whether a Run is currently executing.
func (s *Service) IsSyncing() bool {
	return s.running.Load()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) emit(t events.Type, data any) {
	if s.Bus != nil {
		s.Bus.Emit(t, data)
	}
}

// Run performs one full reconciliation. Any error
// fetching the remote snapshot aborts the run with Result.Success = false;
// partial local mutations already applied are not rolled back, but every
// one of them was already journaled via an emitted event.
func (s *Service) Run(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{Skipped: true}, nil
	}
	defer s.running.Store(false)

	ctx, span := observability.Tracer().Start(ctx, "sync.Run",
		trace.WithAttributes(observability.SpanAttrs(map[string]string{
			"source": s.Source.Name(),
		})...))
	result := Result{StartedAt: s.now()}
	defer func() {
		var spanErr error
		if result.Error != "" {
			spanErr = errors.New(result.Error)
		}
		observability.FinishSpan(span, spanErr)
		if s.Metrics != nil {
			s.Metrics.SyncDuration.Observe(result.EndedAt.Sub(result.StartedAt).Seconds())
			if result.Added > 0 {
				s.Metrics.SyncItemsTotal.WithLabelValues("added").Add(float64(result.Added))
			}
			if result.Updated > 0 {
				s.Metrics.SyncItemsTotal.WithLabelValues("updated").Add(float64(result.Updated))
			}
			if result.Removed > 0 {
				s.Metrics.SyncItemsTotal.WithLabelValues("removed").Add(float64(result.Removed))
			}
			if result.StatusesPushed > 0 {
				s.Metrics.SyncItemsTotal.WithLabelValues("status_pushed").Add(float64(result.StatusesPushed))
			}
		}
	}()

	s.emit(events.TypeSyncStarted, nil)

	remote, err := s.Source.Sync(ctx)
	if err != nil {
		result.EndedAt = s.now()
		result.Error = fmt.Sprintf("fetching remote snapshot: %v", err)
		s.emit(events.TypeSyncCompleted, events.SyncCompletedData{Success: false, Error: result.Error})
		return result, nil
	}

	local, err := s.Items.ListBySource(ctx, s.Source.Name())
	if err != nil {
		result.EndedAt = s.now()
		result.Error = fmt.Sprintf("listing local items: %v", err)
		s.emit(events.TypeSyncCompleted, events.SyncCompletedData{Success: false, Error: result.Error})
		return result, nil
	}

	byExternalID := make(map[string]domain.WorkItem, len(local))
	for _, item := range local {
		if item.ExternalRef.HasOrigin() {
			byExternalID[item.ExternalRef.ExternalID] = item
		}
	}

	seen := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		seen[r.ExternalRef.ExternalID] = struct{}{}

		existing, ok := byExternalID[r.ExternalRef.ExternalID]
		if !ok {
			if err := s.insert(ctx, r); err != nil {
				result.EndedAt = s.now()
				result.Error = fmt.Sprintf("inserting %s/%s: %v", r.ExternalRef.SourceName, r.ExternalRef.ExternalID, err)
				s.emit(events.TypeSyncCompleted, events.SyncCompletedData{Success: false, Error: result.Error})
				return result, nil
			}
			result.Added++
			continue
		}

		pushed, err := s.merge(ctx, existing, r)
		if err != nil {
			result.EndedAt = s.now()
			result.Error = fmt.Sprintf("merging %s/%s: %v", r.ExternalRef.SourceName, r.ExternalRef.ExternalID, err)
			s.emit(events.TypeSyncCompleted, events.SyncCompletedData{Success: false, Error: result.Error})
			return result, nil
		}
		result.Updated++
		if pushed {
			result.StatusesPushed++
		}
	}

	for _, item := range local {
		if !item.ExternalRef.HasOrigin() {
			continue
		}
		if _, stillRemote := seen[item.ExternalRef.ExternalID]; stillRemote {
			continue
		}
		if err := s.Items.Delete(ctx, item.ID); err != nil {
			result.EndedAt = s.now()
			result.Error = fmt.Sprintf("removing %s/%s: %v", item.ExternalRef.SourceName, item.ExternalRef.ExternalID, err)
			s.emit(events.TypeSyncCompleted, events.SyncCompletedData{Success: false, Error: result.Error})
			return result, nil
		}
		result.Removed++
		s.emit(events.TypeItemRemoved, events.ItemEventData{WorkItemID: item.ID, SourceName: item.ExternalRef.SourceName, ExternalID: item.ExternalRef.ExternalID})
	}

	result.Success = true
	result.EndedAt = s.now()
	if err := s.stampLastSyncTime(ctx, result.EndedAt); err != nil {
		result.Success = false
		result.Error = fmt.Sprintf("persisting last sync time: %v", err)
	}

	s.emit(events.TypeSyncCompleted, events.SyncCompletedData{
		Success:        result.Success,
		Added:          result.Added,
		Updated:        result.Updated,
		Removed:        result.Removed,
		StatusesPushed: result.StatusesPushed,
		Error:          result.Error,
	})
	return result, nil
}

func (s *Service) insert(ctx context.Context, r domain.WorkItem) error {
	item := r
	item.ID = uuid.New().String()
	if item.Status == "" {
		item.Status = domain.StatusPending
	}
	if err := s.Items.Create(ctx, &item); err != nil {
		return err
	}
	s.emit(events.TypeItemAdded, events.ItemEventData{WorkItemID: item.ID, SourceName: item.ExternalRef.SourceName, ExternalID: item.ExternalRef.ExternalID})
	return nil
}

// merge applies the per-field rules to a matched (local, remote) pair
// and reports whether the merged status was pushed back to the tracker.
func (s *Service) merge(ctx context.Context, local, remote domain.WorkItem) (bool, error) {
	merged := local
	merged.Title = remote.Title
	merged.Description = remote.Description
	merged.Labels = remote.Labels

	if local.Status == domain.StatusPending {
		merged.Status = remote.Status
	}

	pushed := false
	if merged.Status != remote.Status && merged.Status.IsManaged() {
		pushBack := merged
		if err := s.Source.UpdateStatus(ctx, pushBack); err != nil {
			return false, fmt.Errorf("pushing status upstream: %w", err)
		}
		pushed = true
		s.emit(events.TypeItemStatusPushed, events.ItemEventData{WorkItemID: merged.ID, SourceName: merged.ExternalRef.SourceName, ExternalID: merged.ExternalRef.ExternalID})
	}

	if err := s.Items.Update(ctx, &merged); err != nil {
		return false, err
	}
	s.emit(events.TypeItemUpdated, events.ItemEventData{WorkItemID: merged.ID, SourceName: merged.ExternalRef.SourceName, ExternalID: merged.ExternalRef.ExternalID})
	return pushed, nil
}

func (s *Service) stampLastSyncTime(ctx context.Context, when time.Time) error {
	settings, err := s.Settings.Get(ctx)
	if err != nil {
		return err
	}
	settings.LastSyncTime = &when
	return s.Settings.Save(ctx, settings)
}
