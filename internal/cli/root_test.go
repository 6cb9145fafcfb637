// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCommand_HasExpectedBasics(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "stopgap" {
		t.Fatalf("expected Use to be 'stopgap', got %q", cmd.Use)
	}

	if cmd.Short == "" {
		t.Fatalf("expected Short description to be non-empty")
	}

	versionCmd, _, err := cmd.Find([]string{"version"})
	if err != nil {
		t.Fatalf("expected to find 'version' subcommand, got error: %v", err)
	}
	if versionCmd.Use != "version" {
		t.Fatalf("expected 'version' command Use to be 'version', got %q", versionCmd.Use)
	}
}

func TestNewRootCommand_ExposesExpectedSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	for _, use := range []string{"deploy", "deployments", "diff", "metrics", "rollback", "status", "version"} {
		if _, _, err := cmd.Find([]string{use}); err != nil {
			t.Fatalf("expected to find %q subcommand, got error: %v", use, err)
		}
	}
}

func TestVersionCommand_PrintsVersion(t *testing.T) {
	cmd := NewRootCommand()

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error executing 'version' command, got: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "stopgap version") {
		t.Fatalf("expected output to contain 'stopgap version', got: %q", out)
	}
}

func TestNewRootCommand_RegistersGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.PersistentFlags().Lookup("db") == nil {
		t.Fatalf("expected --db persistent flag to be registered")
	}
	if cmd.PersistentFlags().Lookup("output") == nil {
		t.Fatalf("expected --output persistent flag to be registered")
	}
}
