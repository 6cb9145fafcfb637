// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stopgap/internal/artifactstore"
	"stopgap/internal/observability"
	"stopgap/internal/stopgap"
	"stopgap/pkg/config"
	"stopgap/pkg/logging"
)

// cliSession owns the database handle and controller a single command
// invocation runs against; Close releases the connection once the command
// returns, mirroring PgStopgapApi's connect-once-per-invocation shape.
type cliSession struct {
	db         *sql.DB
	controller *stopgap.Controller
}

// loadOptionalConfig reads stopgap.yml from the working directory if present,
// returning an empty Config (every environment falls back to Controller's
// defaults) when no config file exists. Unlike stopgap-cli's Rust original,
// which reads Postgres GUCs with no local config file at all, per-environment
// live_schema/prune defaults here come from this file since there is no GUC
// session to read them from outside a real Postgres backend.
func loadOptionalConfig() (*config.Config, error) {
	cfg, err := config.Load(config.DefaultConfigPath())
	if errors.Is(err, config.ErrConfigNotFound) {
		return &config.Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading stopgap.yml: %w", err)
	}
	return cfg, nil
}

// connect opens dsn and builds a Controller over it. cfg may be nil.
func connect(ctx context.Context, dsn string, cfg *config.Config, logger logging.Logger) (*cliSession, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, dbConnectErr(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dbConnectErr(err)
	}

	artifacts := artifactstore.New(db)
	controller := stopgap.New(db, artifacts, cfg, logger, observability.New())
	return &cliSession{db: db, controller: controller}, nil
}

func (s *cliSession) Close() {
	_ = s.db.Close()
}

// compactJSON renders v as single-line JSON for human-mode status lines,
// falling back to a fixed error marker rather than failing, ports
// stopgap-cli's compact_json.
func compactJSON(v interface{}) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return `{"error":"json-encode-failed"}`
	}
	return string(encoded)
}

// printPayload renders a command's result either as the given human-readable
// line or as pretty-printed JSON, ports stopgap-cli's print_payload.
func printPayload(w io.Writer, output string, payload map[string]interface{}, human func() string) error {
	var rendered string
	switch output {
	case OutputJSON:
		encoded, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return outputErr(err)
		}
		rendered = string(encoded)
	default:
		rendered = human()
	}
	if _, err := fmt.Fprintln(w, rendered); err != nil {
		return outputErr(err)
	}
	return nil
}
