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

func questionKey(id string) []byte {
	return []byte("question:" + id)
}

func questionByItemKey(workItemID, id string) []byte {
	return []byte(fmt.Sprintf("question_by_item:%s:%s", workItemID, id))
}

// BlockedQuestionRepository persists domain.BlockedQuestion, indexed by id
// and by owning WorkItemID.
type BlockedQuestionRepository struct {
	db *DB
}

func NewBlockedQuestionRepository(db *DB) *BlockedQuestionRepository {
	return &BlockedQuestionRepository{db: db}
}

func (r *BlockedQuestionRepository) GetByID(ctx context.Context, id string) (*domain.BlockedQuestion, error) {
	var q domain.BlockedQuestion
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := txn.Get(questionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return v.Value(func(val []byte) error {
			return json.Unmarshal(val, &q)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: get question %s: %w", id, err)
	}
	if q.ID == "" {
		return nil, nil
	}
	return &q, nil
}

func (r *BlockedQuestionRepository) ListByWorkItem(ctx context.Context, workItemID string) ([]domain.BlockedQuestion, error) {
	var questions []domain.BlockedQuestion
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("question_by_item:%s:", workItemID))
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			qItem, err := txn.Get(questionKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var q domain.BlockedQuestion
			if err := qItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &q)
			}); err != nil {
				return err
			}
			questions = append(questions, q)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: listing questions for work item %s: %w", workItemID, err)
	}
	return questions, nil
}

func (r *BlockedQuestionRepository) Create(ctx context.Context, q *domain.BlockedQuestion) error {
	return r.put(ctx, q)
}

func (r *BlockedQuestionRepository) Update(ctx context.Context, q *domain.BlockedQuestion) error {
	return r.put(ctx, q)
}

func (r *BlockedQuestionRepository) put(ctx context.Context, q *domain.BlockedQuestion) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("badger: marshaling question %s: %w", q.ID, err)
	}
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(questionKey(q.ID), data); err != nil {
			return err
		}
		return txn.Set(questionByItemKey(q.WorkItemID, q.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("badger: saving question %s: %w", q.ID, err)
	}
	return nil
}

func (r *BlockedQuestionRepository) Delete(ctx context.Context, id string) error {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(questionKey(id)); err != nil {
			return err
		}
		return txn.Delete(questionByItemKey(existing.WorkItemID, id))
	})
	if err != nil {
		return fmt.Errorf("badger: deleting question %s: %w", id, err)
	}
	return nil
}
