// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscriberReceivesMatchingType(t *testing.T) {
	b := NewBus(10)
	var got []Event
	b.Subscribe(func(e Event) { got = append(got, e) }, TypeSyncStarted)

	b.Emit(TypeSyncStarted, nil)
	b.Emit(TypeSyncCompleted, SyncCompletedData{Success: true})

	require.Len(t, got, 1)
	assert.Equal(t, TypeSyncStarted, got[0].Type)
}

func TestBus_SubscriberWithNoTypesReceivesEverything(t *testing.T) {
	b := NewBus(10)
	count := 0
	b.Subscribe(func(Event) { count++ })

	b.Emit(TypeStateChanged, nil)
	b.Emit(TypeItemAdded, nil)

	assert.Equal(t, 2, count)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(10)
	count := 0
	id := b.Subscribe(func(Event) { count++ })
	b.Emit(TypeStateChanged, nil)
	b.Unsubscribe(id)
	b.Emit(TypeStateChanged, nil)

	assert.Equal(t, 1, count)
}

func TestBus_PanickingHandlerDoesNotStopOtherSubscribers(t *testing.T) {
	b := NewBus(10)
	called := false
	b.Subscribe(func(Event) { panic("boom") })
	b.Subscribe(func(Event) { called = true })

	assert.NotPanics(t, func() { b.Emit(TypeStateChanged, nil) })
	assert.True(t, called)
}

func TestBus_BufferEvictsOldestBeyondCapacity(t *testing.T) {
	b := NewBus(2)
	b.Emit(TypeStateChanged, 1)
	b.Emit(TypeStateChanged, 2)
	b.Emit(TypeStateChanged, 3)

	buf := b.Buffer()
	require.Len(t, buf, 2)
	assert.Equal(t, 2, buf[0].Data)
	assert.Equal(t, 3, buf[1].Data)
}
