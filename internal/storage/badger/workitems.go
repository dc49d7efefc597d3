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
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/elephantgerald/bartleby/internal/domain"
)

func workItemKey(id string) []byte {
	return []byte("workitem:" + id)
}

func workItemExternalKey(sourceName, externalID string) []byte {
	return []byte(fmt.Sprintf("workitem_ext:%s:%s", sourceName, externalID))
}

const workItemKeyPrefix = "workitem:"

// WorkItemRepository persists domain.WorkItem, indexed by id and, when the
// item has an external origin, by (SourceName, ExternalID) as well.
type WorkItemRepository struct {
	db *DB
}

// NewWorkItemRepository wraps db.
func NewWorkItemRepository(db *DB) *WorkItemRepository {
	return &WorkItemRepository{db: db}
}

func (r *WorkItemRepository) GetByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	var item domain.WorkItem
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := txn.Get(workItemKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return v.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: get work item %s: %w", id, err)
	}
	if item.ID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *WorkItemRepository) GetByExternalRef(ctx context.Context, sourceName, externalID string) (*domain.WorkItem, error) {
	var id string
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := txn.Get(workItemExternalKey(sourceName, externalID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return v.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: get work item by external ref %s/%s: %w", sourceName, externalID, err)
	}
	if id == "" {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *WorkItemRepository) List(ctx context.Context) ([]domain.WorkItem, error) {
	var items []domain.WorkItem
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(workItemKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var item domain.WorkItem
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: listing work items: %w", err)
	}
	return items, nil
}

func (r *WorkItemRepository) ListBySource(ctx context.Context, sourceName string) ([]domain.WorkItem, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkItem, 0, len(all))
	for _, item := range all {
		if item.ExternalRef.SourceName == sourceName {
			out = append(out, item)
		}
	}
	return out, nil
}

// Create stamps CreatedAt (if unset) and UpdatedAt before persisting.
func (r *WorkItemRepository) Create(ctx context.Context, item *domain.WorkItem) error {
	return r.put(ctx, item, true)
}

// Update stamps UpdatedAt before persisting, leaving CreatedAt untouched.
func (r *WorkItemRepository) Update(ctx context.Context, item *domain.WorkItem) error {
	return r.put(ctx, item, false)
}

func (r *WorkItemRepository) put(ctx context.Context, item *domain.WorkItem, isCreate bool) error {
	now := time.Now()
	if isCreate && item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("badger: marshaling work item %s: %w", item.ID, err)
	}
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(workItemKey(item.ID), data); err != nil {
			return err
		}
		if item.ExternalRef.HasOrigin() {
			return txn.Set(workItemExternalKey(item.ExternalRef.SourceName, item.ExternalRef.ExternalID), []byte(item.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: saving work item %s: %w", item.ID, err)
	}
	return nil
}

func (r *WorkItemRepository) Delete(ctx context.Context, id string) error {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(workItemKey(id)); err != nil {
			return err
		}
		if existing != nil && existing.ExternalRef.HasOrigin() {
			return txn.Delete(workItemExternalKey(existing.ExternalRef.SourceName, existing.ExternalRef.ExternalID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: deleting work item %s: %w", id, err)
	}
	return nil
}
