// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"errors"
	"testing"

	"stopgap/pkg/config"
)

func TestController_EnvironmentSettings_FallsBackWhenUnconfigured(t *testing.T) {
	c := &Controller{}
	liveSchema, prune := c.environmentSettings("staging")
	if liveSchema != defaultLiveSchema {
		t.Fatalf("expected default live schema, got %q", liveSchema)
	}
	if prune {
		t.Fatalf("expected prune to default false")
	}
}

func TestController_EnvironmentSettings_UsesConfiguredEnvironment(t *testing.T) {
	cfg := &config.Config{
		Environments: map[string]config.EnvironmentConfig{
			"production": {LiveSchema: "live_prod", Prune: true},
		},
	}
	c := &Controller{cfg: cfg}

	liveSchema, prune := c.environmentSettings("production")
	if liveSchema != "live_prod" || !prune {
		t.Fatalf("expected configured live schema/prune, got %q, %v", liveSchema, prune)
	}

	liveSchema, prune = c.environmentSettings("staging")
	if liveSchema != defaultLiveSchema || prune {
		t.Fatalf("expected defaults for unconfigured env, got %q, %v", liveSchema, prune)
	}
}

func TestQuoteIdent_DoublesEmbeddedQuotes(t *testing.T) {
	if got := quoteIdent("plain"); got != `"plain"` {
		t.Fatalf("unexpected quoting: %q", got)
	}
	if got := quoteIdent(`weird"name`); got != `"weird""name"` {
		t.Fatalf("unexpected quoting: %q", got)
	}
}

func TestNoopRecorder_NeverPanics(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.DeployDone(r.DeployStarted(), nil)
	r.DeployDone(r.DeployStarted(), errPermissionDenied)
	r.RollbackDone(r.RollbackStarted(), nil)
	r.RollbackDone(r.RollbackStarted(), errPermissionDenied)
	r.DiffDone(r.DiffStarted(), nil)
	r.DiffDone(r.DiffStarted(), errPermissionDenied)
}

var errPermissionDenied = errors.New("permission denied")

type fakeMetricsRecorder struct {
	NoopRecorder
}

func (fakeMetricsRecorder) MetricsJSON() map[string]interface{} {
	return map[string]interface{}{"deploy": map[string]interface{}{"calls": uint64(3)}}
}

func TestController_Metrics_DelegatesToRecorderWhenSupported(t *testing.T) {
	c := &Controller{recorder: fakeMetricsRecorder{}}
	got := c.Metrics()
	deploy, ok := got["deploy"].(map[string]interface{})
	if !ok || deploy["calls"] != uint64(3) {
		t.Fatalf("expected Metrics() to delegate to the recorder, got %v", got)
	}
}

func TestController_Metrics_ReturnsEmptyMapForPlainRecorder(t *testing.T) {
	c := &Controller{recorder: NoopRecorder{}}
	got := c.Metrics()
	if len(got) != 0 {
		t.Fatalf("expected an empty map for a recorder with no MetricsJSON, got %v", got)
	}
}

func TestVersion_ReturnsFixedString(t *testing.T) {
	if got := Version(); got != "0.1.0" {
		t.Fatalf("Version() = %q, want %q", got, "0.1.0")
	}
}
