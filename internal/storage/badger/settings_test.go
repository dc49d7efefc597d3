// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephantgerald/bartleby/internal/domain"
)

func TestSettingsRepository_GetOnEmptyStoreReturnsZeroValue(t *testing.T) {
	repo := NewSettingsRepository(newTestDB(t))
	s, err := repo.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.AppSettings{}, s)
}

func TestSettingsRepository_SaveThenGetRoundTrips(t *testing.T) {
	repo := NewSettingsRepository(newTestDB(t))
	ctx := context.Background()

	settings := domain.AppSettings{
		OrchestratorEnabled:    true,
		MaxConcurrentWorkItems: 1,
		TokenBudget:            domain.TokenBudget{Enabled: true, DailyLimit: 1000},
	}
	require.NoError(t, repo.Save(ctx, settings))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestSeedIfAbsent_DoesNotOverwriteExistingSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSettingsRepository(db)

	require.NoError(t, repo.Save(ctx, domain.AppSettings{MaxConcurrentWorkItems: 5}))
	require.NoError(t, SeedIfAbsent(ctx, db, domain.AppSettings{MaxConcurrentWorkItems: 1}))

	got, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxConcurrentWorkItems)
}

func TestSeedIfAbsent_WritesSeedWhenNoneExists(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, SeedIfAbsent(ctx, db, domain.AppSettings{MaxConcurrentWorkItems: 7}))

	got, err := NewSettingsRepository(db).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxConcurrentWorkItems)
}
