// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import "testing"

func TestDeployCommand_RequiresFromSchema(t *testing.T) {
	cmd := NewDeployCommand()
	flag := cmd.Flags().Lookup("from-schema")
	if flag == nil {
		t.Fatalf("expected --from-schema flag to be registered")
	}
	if flag.Annotations["cobra_annotation_bash_completion_one_required_flag"] == nil {
		t.Fatalf("expected --from-schema to be marked required")
	}
	if cmd.Flags().Lookup("env").DefValue != "prod" {
		t.Fatalf("expected --env to default to \"prod\"")
	}
}

func TestRollbackCommand_RegistersStepsAndTo(t *testing.T) {
	cmd := NewRollbackCommand()
	if cmd.Flags().Lookup("steps").DefValue != "1" {
		t.Fatalf("expected --steps to default to 1")
	}
	if cmd.Flags().Lookup("to") == nil {
		t.Fatalf("expected --to flag to be registered")
	}
}

func TestStatusAndDeploymentsCommands_RegisterEnvFlag(t *testing.T) {
	if NewStatusCommand().Flags().Lookup("env") == nil {
		t.Fatalf("expected status --env flag")
	}
	if NewDeploymentsCommand().Flags().Lookup("env") == nil {
		t.Fatalf("expected deployments --env flag")
	}
}

func TestDiffCommand_RequiresFromSchema(t *testing.T) {
	cmd := NewDiffCommand()
	flag := cmd.Flags().Lookup("from-schema")
	if flag == nil {
		t.Fatalf("expected diff --from-schema flag to be registered")
	}
	if flag.Annotations["cobra_annotation_bash_completion_one_required_flag"] == nil {
		t.Fatalf("expected diff --from-schema to be marked required")
	}
}

func TestMetricsCommand_HasNoFlagsOfItsOwn(t *testing.T) {
	cmd := NewMetricsCommand()
	if cmd.Flags().HasFlags() {
		t.Fatalf("expected metrics to register no flags of its own")
	}
}
