// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elephantgerald/bartleby/internal/ai/openai"
	"github.com/elephantgerald/bartleby/internal/config"
	"github.com/elephantgerald/bartleby/internal/domain"
	"github.com/elephantgerald/bartleby/internal/events"
	"github.com/elephantgerald/bartleby/internal/executor"
	"github.com/elephantgerald/bartleby/internal/git"
	"github.com/elephantgerald/bartleby/internal/graphstore"
	"github.com/elephantgerald/bartleby/internal/logging"
	"github.com/elephantgerald/bartleby/internal/observability"
	"github.com/elephantgerald/bartleby/internal/orchestrator"
	"github.com/elephantgerald/bartleby/internal/ports"
	"github.com/elephantgerald/bartleby/internal/storage/badger"
	"github.com/elephantgerald/bartleby/internal/sync"
	"github.com/elephantgerald/bartleby/internal/tracker/github"
)

// app bundles every component a command needs, all constructed once from
// the loaded Config. Commands that don't need a component (e.g. resolve
// doesn't need an AIProvider) just leave the corresponding field unused.
type app struct {
	cfg   config.Config
	log   *logging.Logger
	db    *badger.DB
	repos ports.Repositories
	bus   *events.Bus

	metrics  *observability.Metrics
	shutdown func(context.Context) error

	graph *graphstore.Store
	git   ports.GitService
	ai    ports.AIProvider
	work  ports.WorkSource

	orch *orchestrator.Orchestrator
	sync *sync.Service
}

// newApp wires every adapter this process can construct from cfg. Callers
// must call close() before exiting. ai/work are left nil when cfg doesn't
// configure them (e.g. no AI key, or an unsupported tracker provider);
// commands that need them must check and fail with a clear message rather
// than dereference a nil port.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "bartleby",
	})

	shutdown, err := observability.Setup(ctx, observability.TracerProviderConfig{ServiceName: "bartleby"})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	db, err := badger.OpenWithPath(cfg.DataDir)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("opening data store at %q: %w", cfg.DataDir, err)
	}
	repos := badger.NewRepositories(db)

	settings, err := cfg.ToAppSettings()
	if err != nil {
		_ = db.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("building initial settings: %w", err)
	}
	if err := badger.SeedIfAbsent(ctx, db, settings); err != nil {
		_ = db.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("seeding settings: %w", err)
	}
	settings, err = repos.Settings.Get(ctx)
	if err != nil {
		_ = db.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	bus := events.NewBus(256)
	graph := graphstore.New(cfg.GraphFilePath)
	gitSvc := git.New(log)

	a := &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		repos:    repos,
		bus:      bus,
		metrics:  metrics,
		shutdown: shutdown,
		graph:    graph,
		git:      gitSvc,
	}

	if settings.AIKey != "" {
		client, err := openai.New(openai.SettingsConfig(settings), log)
		if err != nil {
			log.Warn("AI provider not configured", "error", err)
		} else {
			a.ai = client
		}
	}

	if cfg.Tracker.Provider == "github" || cfg.Tracker.Provider == "" {
		a.work = github.New(github.Config{
			Token: settings.TrackerToken,
			Owner: settings.TrackerOwner,
			Repo:  settings.TrackerRepo,
		}, log)
	}

	if a.ai != nil {
		exec := executor.New(repos, a.ai)
		interval := time.Duration(settings.OrchestratorIntervalMinutes) * time.Minute
		a.orch = orchestrator.New(repos, graph, exec, gitSvc, bus, interval, settings.GitWorkingDirectory)
		a.orch.Metrics = metrics
	}

	if a.work != nil {
		a.sync = sync.New(repos.WorkItems, repos.Settings, a.work, bus)
		a.sync.Metrics = metrics
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.orch != nil {
		a.orch.Stop(ctx)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("closing data store", "error", err)
	}
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("shutting down tracing", "error", err)
	}
	_ = a.log.Close()
}

// loadGraphAndItems loads the dependency graph and every known work item,
// the pairing resolver.New needs.
func (a *app) loadGraphAndItems(ctx context.Context) (domain.DependencyGraph, []domain.WorkItem, error) {
	g, err := a.graph.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading dependency graph: %w", err)
	}
	items, err := a.repos.WorkItems.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing work items: %w", err)
	}
	return g, items, nil
}
