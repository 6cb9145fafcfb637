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
	"github.com/spf13/cobra"

	"stopgap/pkg/logging"
)

// NewMetricsCommand returns the `stopgap metrics` command, surfacing the
// deploy/rollback/diff call counters and latency histograms the release
// controller's recorder has observed. This subcommand has no equivalent
// flag/exit-code test in stopgap-cli's Rust source, since that CLI never
// calls stopgap.metrics() itself; it exists here because the extension
// exposes the function and a complete CLI shell should reach it too.
//
// Because each invocation opens its own connection and Controller (and so
// its own recorder), a bare `stopgap metrics` call only ever reports on
// activity from this same process, mirroring how metrics() reads counters
// that are private to one Postgres backend process rather than a
// persistent, cross-session store.
func NewMetricsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Report deploy/rollback/diff call counts, latency, and error classes for this session",
		RunE:  runMetrics,
	}
	return cmd
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	global, err := ResolveGlobalFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadOptionalConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	session, err := connect(ctx, global.DB, cfg, logging.NewLogger(false))
	if err != nil {
		return err
	}
	defer session.Close()

	metrics := session.controller.Metrics()

	payload := map[string]interface{}{
		"command": "metrics",
		"metrics": metrics,
	}
	return printPayload(cmd.OutOrStdout(), global.Output, payload, func() string {
		return "metrics " + compactJSON(metrics)
	})
}
