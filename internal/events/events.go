// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events broadcasts Orchestrator and SyncService activity to
// observers -- the dashboard's websocket hub, metrics, logs -- without
// coupling either service to how those observers work.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeStateChanged is emitted whenever the Orchestrator's State field
	// changes.
	TypeStateChanged Type = "state_changed"

	// TypeWorkItemStatusChanged is emitted by the Orchestrator when a tick
	// changes a WorkItem's Status. Sync and the manual answer paths change
	// Status without emitting it.
	TypeWorkItemStatusChanged Type = "work_item_status_changed"

	// TypeSyncStarted is emitted when a SyncService run begins.
	TypeSyncStarted Type = "sync_started"

	// TypeSyncCompleted is emitted when a SyncService run finishes,
	// successfully or not.
	TypeSyncCompleted Type = "sync_completed"

	// TypeItemAdded is emitted when Sync inserts a WorkItem discovered on
	// the remote tracker.
	TypeItemAdded Type = "item_added"

	// TypeItemUpdated is emitted when Sync merges remote content into an
	// existing local WorkItem.
	TypeItemUpdated Type = "item_updated"

	// TypeItemStatusPushed is emitted when Sync writes the local status
	// back to the remote tracker.
	TypeItemStatusPushed Type = "item_status_pushed"

	// TypeItemRemoved is emitted when Sync deletes a local WorkItem whose
	// remote counterpart disappeared.
	TypeItemRemoved Type = "item_removed"
)

// StateChangedData is the payload for TypeStateChanged.
type StateChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// WorkItemStatusChangedData is the payload for TypeWorkItemStatusChanged.
type WorkItemStatusChangedData struct {
	WorkItemID string `json:"work_item_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// SyncCompletedData is the payload for TypeSyncCompleted.
type SyncCompletedData struct {
	Success        bool `json:"success"`
	Added          int  `json:"added"`
	Updated        int  `json:"updated"`
	Removed        int  `json:"removed"`
	StatusesPushed int  `json:"statuses_pushed"`
	Error          string `json:"error,omitempty"`
}

// ItemEventData is the payload for TypeItemAdded/Updated/StatusPushed/Removed.
type ItemEventData struct {
	WorkItemID string `json:"work_item_id"`
	SourceName string `json:"source_name,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// Event is one occurrence broadcast through a Bus.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Handler processes one event. Handler panics are recovered by the Bus so a
// misbehaving subscriber cannot take down the emitter.
type Handler func(Event)

// Bus broadcasts events to subscribers and retains a bounded, most-recent
// buffer for clients (e.g. the dashboard API) that connect after the fact.
//
// Thread Safety: Bus is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]subscription
	buffer        []Event
	bufferSize    int
}

type subscription struct {
	handler Handler
	types   map[Type]struct{}
}

// NewBus constructs a Bus retaining the most recent bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		subscriptions: make(map[string]subscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe registers handler for the given event types (all types if none
// are given) and returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(handler Handler, types ...Type) string {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subscriptions[id] = subscription{handler: handler, types: set}
	return id
}

// Unsubscribe removes a subscription registered by Subscribe.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// Emit constructs an Event, appends it to the buffer, then broadcasts it to
// every matching subscriber.
func (b *Bus) Emit(t Type, data any) {
	event := Event{ID: uuid.NewString(), Type: t, Timestamp: time.Now(), Data: data}

	b.mu.Lock()
	if len(b.buffer) >= b.bufferSize {
		b.buffer = b.buffer[1:]
	}
	b.buffer = append(b.buffer, event)
	subs := make([]subscription, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if len(s.types) > 0 {
			if _, ok := s.types[t]; !ok {
				continue
			}
		}
		b.dispatch(s.handler, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: subscriber panicked", "event_type", event.Type, "event_id", event.ID, "panic", r)
		}
	}()
	h(event)
}

// Buffer returns a copy of the retained events, oldest first.
func (b *Bus) Buffer() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.buffer))
	copy(out, b.buffer)
	return out
}
