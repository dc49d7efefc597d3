// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements Bartleby's repository ports (internal/ports) on
// top of BadgerDB: one embedded, file-backed key-value store holding work
// items, blocked questions, work sessions, and the settings singleton.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures the embedded store.
type Config struct {
	// Path is the on-disk directory for the database. Required unless
	// InMemory is set.
	Path string

	// InMemory runs Badger with no on-disk footprint; for tests.
	InMemory bool

	// SyncWrites forces an fsync on every commit. Default: true.
	SyncWrites bool

	// NumVersionsToKeep bounds version history; Bartleby never reads old
	// versions, so 1 is enough and keeps compaction cheap.
	NumVersionsToKeep int

	// GCInterval is how often value-log garbage collection runs. Zero
	// disables the background GC runner.
	GCInterval time.Duration
}

// DefaultConfig returns production defaults for a persistent store.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
	}
}

// InMemoryConfig returns defaults for a transient, in-memory store.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
	}
}

// DB wraps *badger.DB with context-aware transaction helpers and an
// optional background GC runner.
type DB struct {
	badger *badger.DB
	gc     *gcRunner
}

// Open opens (creating if absent) a Badger store per cfg.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for a persistent store")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: opening store at %q: %w", cfg.Path, err)
	}

	db := &DB{badger: bdb}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.gc = newGCRunner(bdb, cfg.GCInterval)
		db.gc.start()
	}
	return db, nil
}

// OpenInMemory is a convenience wrapper around Open(InMemoryConfig()).
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// OpenWithPath is a convenience wrapper around Open with DefaultConfig()'s
// other settings and the given path.
func OpenWithPath(path string) (*DB, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	return Open(cfg)
}

// WithTxn runs fn inside a read-write transaction, committing on success
// and discarding on error. Returns early if ctx is already done.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: context cancelled before transaction: %w", err)
	}
	return d.badger.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badger: context cancelled before transaction: %w", err)
	}
	return d.badger.View(fn)
}

// Close stops the GC runner (if any) and closes the underlying store.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
	}
	return d.badger.Close()
}

// gcRunner periodically invokes Badger's value-log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration) *gcRunner {
	return &gcRunner{db: db, interval: interval, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

func (g *gcRunner) start() {
	go func() {
		defer close(g.doneCh)
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-g.stopCh:
				return
			case <-ticker.C:
				// RunValueLogGC returns ErrNoRewrite when there's nothing
				// to reclaim; that's the steady-state case, not a failure.
				for {
					if err := g.db.RunValueLogGC(0.5); err != nil {
						break
					}
				}
			}
		}
	}()
}

func (g *gcRunner) stop() {
	close(g.stopCh)
	<-g.doneCh
}
