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
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/elephantgerald/bartleby/internal/domain"
)

func sessionKey(id string) []byte {
	return []byte("session:" + id)
}

func sessionByItemKey(workItemID, id string) []byte {
	return []byte(fmt.Sprintf("session_by_item:%s:%s", workItemID, id))
}

// WorkSessionRepository persists the append-only domain.WorkSession
// provenance records, indexed by id and by owning WorkItemID.
type WorkSessionRepository struct {
	db *DB
}

func NewWorkSessionRepository(db *DB) *WorkSessionRepository {
	return &WorkSessionRepository{db: db}
}

func (r *WorkSessionRepository) GetByID(ctx context.Context, id string) (*domain.WorkSession, error) {
	var s domain.WorkSession
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := txn.Get(sessionKey(id))
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
		return nil, fmt.Errorf("badger: get session %s: %w", id, err)
	}
	if s.ID == "" {
		return nil, nil
	}
	return &s, nil
}

// ListByWorkItem returns every session for workItemID, ordered by StartedAt
// ascending to match the provenance-chain reads the executor and prompt
// builder expect.
func (r *WorkSessionRepository) ListByWorkItem(ctx context.Context, workItemID string) ([]domain.WorkSession, error) {
	var sessions []domain.WorkSession
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("session_by_item:%s:", workItemID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			sItem, err := txn.Get(sessionKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var s domain.WorkSession
			if err := sItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			sessions = append(sessions, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: listing sessions for work item %s: %w", workItemID, err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })
	return sessions, nil
}

func (r *WorkSessionRepository) Create(ctx context.Context, s *domain.WorkSession) error {
	return r.put(ctx, s)
}

func (r *WorkSessionRepository) Update(ctx context.Context, s *domain.WorkSession) error {
	return r.put(ctx, s)
}

func (r *WorkSessionRepository) put(ctx context.Context, s *domain.WorkSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("badger: marshaling session %s: %w", s.ID, err)
	}
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(sessionKey(s.ID), data); err != nil {
			return err
		}
		return txn.Set(sessionByItemKey(s.WorkItemID, s.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("badger: saving session %s: %w", s.ID, err)
	}
	return nil
}
