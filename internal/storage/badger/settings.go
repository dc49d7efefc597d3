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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/elephantgerald/bartleby/internal/domain"
)

var settingsSingletonKey = []byte("settings:singleton")

// SettingsRepository persists the single domain.AppSettings record.
type SettingsRepository struct {
	db *DB
}

func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored settings. Callers that need first-run seeding
// should use SeedIfAbsent instead of calling Get blind: Get on an empty
// store returns the zero value and a nil error, so a missing record never
// surfaces as an error.
func (r *SettingsRepository) Get(ctx context.Context) (domain.AppSettings, error) {
	var s domain.AppSettings
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := txn.Get(settingsSingletonKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return v.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if err != nil {
		return domain.AppSettings{}, fmt.Errorf("badger: get settings: %w", err)
	}
	return s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s domain.AppSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("badger: marshaling settings: %w", err)
	}
	if err := r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(settingsSingletonKey, data)
	}); err != nil {
		return fmt.Errorf("badger: saving settings: %w", err)
	}
	return nil
}

// SeedIfAbsent writes seed as the settings record only if none exists yet,
// so re-running the process never clobbers settings a user has since
// changed through the web UI.
func SeedIfAbsent(ctx context.Context, db *DB, seed domain.AppSettings) error {
	repo := NewSettingsRepository(db)
	var exists bool
	err := db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(settingsSingletonKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: checking for existing settings: %w", err)
	}
	if exists {
		return nil
	}
	return repo.Save(ctx, seed)
}
