// Copyright (C) 2025 The Bartleby Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads process bootstrap configuration from an optional
// YAML file, overlays environment variable overrides, and builds the
// AppSettings record (ToAppSettings) that cmd/bartleby seeds into the store
// on first run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elephantgerald/bartleby/internal/domain"
)

// QuietHoursConfig is the YAML-friendly form of domain.QuietHours: clock
// times instead of raw durations.
type QuietHoursConfig struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"` // "HH:MM", local
	End     string `yaml:"end"`
}

// TokenBudgetConfig is the YAML-friendly form of domain.TokenBudget.
type TokenBudgetConfig struct {
	Enabled    bool `yaml:"enabled"`
	DailyLimit int  `yaml:"daily_limit"`
}

// GitConfig configures the optional GitService integration.
type GitConfig struct {
	WorkingDirectory string `yaml:"working_directory"`
	AutoCommit       bool   `yaml:"auto_commit"`
	AutoPush         bool   `yaml:"auto_push"`
}

// TrackerConfig configures the WorkSource adapter.
type TrackerConfig struct {
	Provider string `yaml:"provider"` // "github", "gitlab", ...
	Token    string `yaml:"token"`
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
}

// AIConfig configures the AIProvider adapter.
type AIConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Key        string `yaml:"key"`
	Deployment string `yaml:"deployment"`
}

// Config is Bartleby's process bootstrap configuration: everything needed
// to construct the adapters and seed the initial AppSettings record. Most
// of it is read once at startup; the mutable parts (quiet hours, token
// budget, sync/git toggles) are copied into AppSettings and from then on
// live in the SettingsRepository.
type Config struct {
	DataDir       string `yaml:"data_dir"`
	GraphFilePath string `yaml:"graph_file_path"`
	HTTPPort      int    `yaml:"http_port"`
	LogLevel      string `yaml:"log_level"`

	OrchestratorEnabled         bool `yaml:"orchestrator_enabled"`
	OrchestratorIntervalMinutes int  `yaml:"orchestrator_interval_minutes"`
	MaxConcurrentWorkItems      int  `yaml:"max_concurrent_work_items"`
	MaxRetryAttempts            int  `yaml:"max_retry_attempts"`

	QuietHours  QuietHoursConfig  `yaml:"quiet_hours"`
	TokenBudget TokenBudgetConfig `yaml:"token_budget"`

	Git     GitConfig     `yaml:"git"`
	Tracker TrackerConfig `yaml:"tracker"`
	AI      AIConfig      `yaml:"ai"`
}

// Default returns the configuration used when no file is present and no
// environment variables are set.
func Default() Config {
	return Config{
		DataDir:                     "./data/bartleby.db",
		GraphFilePath:               "./data/graph.puml",
		HTTPPort:                    8420,
		LogLevel:                    "info",
		OrchestratorEnabled:         true,
		OrchestratorIntervalMinutes: 5,
		MaxConcurrentWorkItems:      1,
		MaxRetryAttempts:            3,
		QuietHours:                  QuietHoursConfig{Enabled: false, Start: "22:00", End: "06:00"},
		TokenBudget:                 TokenBudgetConfig{Enabled: false, DailyLimit: 100000},
	}
}

// Load reads path if it exists, falling back to Default() otherwise, then
// applies environment variable overrides. A missing file is not an error;
// a present-but-malformed file is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating or truncating the file.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DataDir = getEnvString("BARTLEBY_DATA_DIR", cfg.DataDir)
	cfg.GraphFilePath = getEnvString("BARTLEBY_GRAPH_FILE", cfg.GraphFilePath)
	cfg.HTTPPort = getEnvInt("BARTLEBY_HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnvString("BARTLEBY_LOG_LEVEL", cfg.LogLevel)

	cfg.OrchestratorEnabled = getEnvBool("BARTLEBY_ORCHESTRATOR_ENABLED", cfg.OrchestratorEnabled)
	cfg.OrchestratorIntervalMinutes = getEnvInt("BARTLEBY_ORCHESTRATOR_INTERVAL_MINUTES", cfg.OrchestratorIntervalMinutes)
	cfg.MaxConcurrentWorkItems = getEnvInt("BARTLEBY_MAX_CONCURRENT_WORK_ITEMS", cfg.MaxConcurrentWorkItems)
	cfg.MaxRetryAttempts = getEnvInt("BARTLEBY_MAX_RETRY_ATTEMPTS", cfg.MaxRetryAttempts)

	cfg.QuietHours.Enabled = getEnvBool("BARTLEBY_QUIET_HOURS_ENABLED", cfg.QuietHours.Enabled)
	cfg.QuietHours.Start = getEnvString("BARTLEBY_QUIET_HOURS_START", cfg.QuietHours.Start)
	cfg.QuietHours.End = getEnvString("BARTLEBY_QUIET_HOURS_END", cfg.QuietHours.End)

	cfg.TokenBudget.Enabled = getEnvBool("BARTLEBY_TOKEN_BUDGET_ENABLED", cfg.TokenBudget.Enabled)
	cfg.TokenBudget.DailyLimit = getEnvInt("BARTLEBY_TOKEN_BUDGET_DAILY_LIMIT", cfg.TokenBudget.DailyLimit)

	cfg.Git.WorkingDirectory = getEnvString("BARTLEBY_GIT_WORKING_DIR", cfg.Git.WorkingDirectory)
	cfg.Git.AutoCommit = getEnvBool("BARTLEBY_GIT_AUTO_COMMIT", cfg.Git.AutoCommit)
	cfg.Git.AutoPush = getEnvBool("BARTLEBY_GIT_AUTO_PUSH", cfg.Git.AutoPush)

	cfg.Tracker.Provider = getEnvString("BARTLEBY_TRACKER_PROVIDER", cfg.Tracker.Provider)
	cfg.Tracker.Token = getEnvString("BARTLEBY_TRACKER_TOKEN", cfg.Tracker.Token)
	cfg.Tracker.Owner = getEnvString("BARTLEBY_TRACKER_OWNER", cfg.Tracker.Owner)
	cfg.Tracker.Repo = getEnvString("BARTLEBY_TRACKER_REPO", cfg.Tracker.Repo)

	cfg.AI.Endpoint = getEnvString("BARTLEBY_AI_ENDPOINT", cfg.AI.Endpoint)
	cfg.AI.Key = getEnvString("BARTLEBY_AI_KEY", cfg.AI.Key)
	cfg.AI.Deployment = getEnvString("BARTLEBY_AI_DEPLOYMENT", cfg.AI.Deployment)
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// ToAppSettings builds the initial domain.AppSettings record used to seed
// the SettingsRepository on first run.
func (c Config) ToAppSettings() (domain.AppSettings, error) {
	start, err := parseClock(c.QuietHours.Start)
	if err != nil {
		return domain.AppSettings{}, fmt.Errorf("parsing quiet_hours.start: %w", err)
	}
	end, err := parseClock(c.QuietHours.End)
	if err != nil {
		return domain.AppSettings{}, fmt.Errorf("parsing quiet_hours.end: %w", err)
	}

	return domain.AppSettings{
		OrchestratorEnabled:         c.OrchestratorEnabled,
		OrchestratorIntervalMinutes: c.OrchestratorIntervalMinutes,
		MaxConcurrentWorkItems:      c.MaxConcurrentWorkItems,
		MaxRetryAttempts:            c.MaxRetryAttempts,
		QuietHours: domain.QuietHours{
			Enabled: c.QuietHours.Enabled,
			Start:   start,
			End:     end,
		},
		TokenBudget: domain.TokenBudget{
			Enabled:    c.TokenBudget.Enabled,
			DailyLimit: c.TokenBudget.DailyLimit,
		},
		GraphFilePath:       c.GraphFilePath,
		GitWorkingDirectory: c.Git.WorkingDirectory,
		GitAutoCommit:       c.Git.AutoCommit,
		GitAutoPush:         c.Git.AutoPush,
		TrackerToken:        c.Tracker.Token,
		TrackerOwner:        c.Tracker.Owner,
		TrackerRepo:         c.Tracker.Repo,
		AIEndpoint:          c.AI.Endpoint,
		AIKey:               c.AI.Key,
		AIDeployment:        c.AI.Deployment,
	}, nil
}

// parseClock parses an "HH:MM" clock time into its offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
