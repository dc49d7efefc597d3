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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elephantgerald/bartleby/internal/webui"
)

// runServe starts the Orchestrator loop, the periodic sync loop, and the
// dashboard HTTP API, and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if a.orch != nil {
		a.orch.Start(ctx)
		a.log.Info("orchestrator started")
	} else {
		a.log.Warn("no AI provider configured, orchestrator will not run")
	}

	if a.sync != nil && cfg.OrchestratorIntervalMinutes > 0 {
		go runSyncLoop(ctx, a, time.Duration(cfg.OrchestratorIntervalMinutes)*time.Minute)
	}

	router := webui.NewRouter(webui.Deps{
		Repos:        a.repos,
		Orchestrator: a.orch,
		Sync:         a.sync,
		Bus:          a.bus,
		Log:          a.log,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		a.log.Info("dashboard API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			a.log.Error("dashboard API stopped unexpectedly", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("dashboard API shutdown", "error", err)
	}
	return nil
}

// runSyncLoop calls sync.Service.Run on a fixed interval until ctx is
// cancelled, logging but not exiting on a failed pass.
func runSyncLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.sync.Run(ctx); err != nil {
				a.log.Error("sync pass failed", "error", err)
			}
		}
	}
}
