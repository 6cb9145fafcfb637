// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("db", "", "")
	cmd.Flags().String("output", "", "")
	return cmd
}

func TestResolveGlobalFlags_UsesDBFlagOverEnv(t *testing.T) {
	t.Setenv("STOPGAP_DB", "postgres://env")
	cmd := newTestCommand()
	_ = cmd.Flags().Set("db", "postgres://flag")

	got, err := ResolveGlobalFlags(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DB != "postgres://flag" {
		t.Fatalf("DB = %q, want flag value", got.DB)
	}
}

func TestResolveGlobalFlags_FallsBackToEnv(t *testing.T) {
	t.Setenv("STOPGAP_DB", "postgres://env")
	cmd := newTestCommand()

	got, err := ResolveGlobalFlags(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DB != "postgres://env" {
		t.Fatalf("DB = %q, want env value", got.DB)
	}
}

func TestResolveGlobalFlags_ErrorsWithoutDBAnywhere(t *testing.T) {
	_ = os.Unsetenv("STOPGAP_DB")
	cmd := newTestCommand()

	if _, err := ResolveGlobalFlags(cmd); err == nil {
		t.Fatalf("expected an error when neither --db nor STOPGAP_DB is set")
	}
}

func TestResolveGlobalFlags_DefaultsOutputToHuman(t *testing.T) {
	t.Setenv("STOPGAP_DB", "postgres://env")
	cmd := newTestCommand()

	got, err := ResolveGlobalFlags(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Output != OutputHuman {
		t.Fatalf("Output = %q, want %q", got.Output, OutputHuman)
	}
}

func TestResolveGlobalFlags_RejectsUnknownOutput(t *testing.T) {
	t.Setenv("STOPGAP_DB", "postgres://env")
	cmd := newTestCommand()
	_ = cmd.Flags().Set("output", "xml")

	if _, err := ResolveGlobalFlags(cmd); err == nil {
		t.Fatalf("expected an error for an unrecognized --output value")
	}
}
