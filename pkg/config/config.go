// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package config defines the stopgap configuration schema and helpers for loading
// and validating stopgap.yml files.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the config file does not exist at the given path.
var ErrConfigNotFound = errors.New("stopgap config not found")

// validLogLevels is the set of log_level values a config file may use. Unlike
// plts.log_level / stopgap.log_level, it does not accept "off".
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Config represents the top-level stopgap configuration.
type Config struct {
	Database     DatabaseConfig               `yaml:"database"`
	DefaultEnv   string                       `yaml:"default_environment,omitempty"`
	LogLevel     string                       `yaml:"log_level,omitempty"`
	Runtime      RuntimeConfig                `yaml:"runtime,omitempty"`
	Environments map[string]EnvironmentConfig `yaml:"environments,omitempty"`
}

// DatabaseConfig describes the connection used by the CLI and catalog bootstrap.
type DatabaseConfig struct {
	// DSN is a libpq/pgx connection string. May be left empty here and supplied
	// via the STOPGAP_DB environment variable or the --db flag instead.
	DSN string `yaml:"dsn,omitempty"`
}

// RuntimeConfig describes default isolate limits (plts.max_heap_mb,
// plts.max_runtime_ms, statement_timeout). They are loaded and validated
// here; no code in this module reads them when building isolate limits.
type RuntimeConfig struct {
	MaxHeapMB        int    `yaml:"max_heap_mb,omitempty"`
	MaxRuntimeMS     int    `yaml:"max_runtime_ms,omitempty"`
	StatementTimeout string `yaml:"statement_timeout,omitempty"`
}

// EnvironmentConfig describes a named deployment environment (e.g. "staging",
// "production") and the schema its live function pointers are materialized into.
type EnvironmentConfig struct {
	LiveSchema string `yaml:"live_schema"`
	// Prune, when true, drops live functions from a prior deployment that the
	// newly active deployment no longer deploys (unless something still
	// depends on them). Defaults to false, matching stopgap.prune's GUC default.
	Prune bool `yaml:"prune,omitempty"`
}

// DefaultConfigPath returns the default config path for the current working directory.
func DefaultConfigPath() string {
	return "stopgap.yml"
}

// Exists reports whether a config file exists at the given path.
// It returns (false, nil) if the file does not exist.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

// Load reads and validates the config from the given path.
//
// It returns ErrConfigNotFound if the file does not exist.
func Load(path string) (*Config, error) {
	exists, err := Exists(path)
	if err != nil {
		return nil, fmt.Errorf("checking config existence: %w", err)
	}

	if !exists {
		return nil, ErrConfigNotFound
	}

	// nolint:gosec // G304: reading config file from user-specified path is expected behavior
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.LogLevel != "" && !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("config: log_level must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}

	if cfg.DefaultEnv != "" {
		if _, ok := cfg.Environments[cfg.DefaultEnv]; !ok {
			return fmt.Errorf("config: default_environment %q has no matching entry under environments", cfg.DefaultEnv)
		}
	}

	for envName, envCfg := range cfg.Environments {
		if envName == "" {
			return errors.New("config: environment name must be non-empty")
		}
		if envCfg.LiveSchema == "" {
			return fmt.Errorf("config: environment %q: live_schema must be non-empty", envName)
		}
	}

	if cfg.Runtime.MaxHeapMB < 0 {
		return errors.New("config: runtime.max_heap_mb must not be negative")
	}
	if cfg.Runtime.MaxRuntimeMS < 0 {
		return errors.New("config: runtime.max_runtime_ms must not be negative")
	}

	return nil
}
