// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"stopgap/internal/artifactstore"
)

// These tests stand in for the pgrx-backed Postgres integration suite the
// original implementation exercises deploy/rollback/prune against (see
// original_source/crates/stopgap/tests/pg/{deploy_pointer,rollback}.rs):
// sqlmock drives the same querier-shaped call sequence a real connection
// would see, without requiring a live Postgres instance.

func sqlPattern(s string) string {
	return regexp.QuoteMeta(s)
}

func TestPruneStaleLiveFunctions_DropsSkipsAndLeavesStillDeployedAlone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(sqlPattern("SELECT p.oid::bigint AS fn_oid, p.proname::text AS fn_name")).
		WithArgs("live_deployment").
		WillReturnRows(sqlmock.NewRows([]string{"fn_oid", "fn_name"}).
			AddRow(int64(1), "fn_a").
			AddRow(int64(2), "fn_b").
			AddRow(int64(3), "fn_c"))

	// fn_a is still deployed: no further query for it at all.
	// fn_b is stale with no dependents: gets dropped.
	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(sqlPattern("DROP FUNCTION IF EXISTS")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// fn_c is stale but still has dependents: skipped, not dropped.
	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	deployed := map[string]struct{}{"fn_a": {}}
	report, err := pruneStaleLiveFunctions(context.Background(), db, "live_deployment", deployed)
	if err != nil {
		t.Fatalf("pruneStaleLiveFunctions() error = %v", err)
	}
	if len(report.Dropped) != 1 || report.Dropped[0] != "fn_b" {
		t.Errorf("Dropped = %v, want [fn_b]", report.Dropped)
	}
	if len(report.SkippedWithDependents) != 1 || report.SkippedWithDependents[0] != "fn_c" {
		t.Errorf("SkippedWithDependents = %v, want [fn_c]", report.SkippedWithDependents)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestRunDeployFlow_CompilesRecordsAndActivatesOneFunction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	artifactDB, artifactMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() (artifact store) error = %v", err)
	}
	defer artifactDB.Close()
	artifacts := artifactstore.New(artifactDB)

	const deploymentID = int64(7)
	const env = "staging"
	const fromSchema = "app"
	const liveSchema = "live_deployment"

	mock.ExpectQuery(sqlPattern("SELECT p.proname::text AS fn_name, p.prosrc")).
		WithArgs(fromSchema).
		WillReturnRows(sqlmock.NewRows([]string{"fn_name", "prosrc"}).
			AddRow("hello", "export default function() { return { ok: true }; };"))

	mock.ExpectExec(sqlPattern("CREATE SCHEMA IF NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("ALTER SCHEMA")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("REVOKE ALL ON SCHEMA")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("GRANT USAGE ON SCHEMA")).WillReturnResult(sqlmock.NewResult(0, 0))

	artifactMock.ExpectExec(sqlPattern("INSERT INTO plts.artifact")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(sqlPattern("INSERT INTO stopgap.fn_version")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(sqlPattern("CREATE OR REPLACE FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("ALTER FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("REVOKE ALL ON FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("GRANT EXECUTE ON FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET manifest")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(sqlPattern("SELECT active_deployment_id FROM stopgap.environment")).
		WithArgs(env).
		WillReturnRows(sqlmock.NewRows([]string{"active_deployment_id"}).AddRow(nil))

	// transitionDeploymentStatus(sealed): loadDeploymentStatus + update.
	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).
		WithArgs(deploymentID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("open"))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET status = $1 WHERE id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(sqlPattern("UPDATE stopgap.environment")).WillReturnResult(sqlmock.NewResult(0, 1))

	// transitionDeploymentStatus(active): loadDeploymentStatus + update.
	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).
		WithArgs(deploymentID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sealed"))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET status = $1 WHERE id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(sqlPattern("INSERT INTO stopgap.activation_log")).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := runDeployFlow(context.Background(), db, artifacts, deploymentID, env, fromSchema, liveSchema, false); err != nil {
		t.Fatalf("runDeployFlow() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations on main db: %v", err)
	}
	if err := artifactMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations on artifact store db: %v", err)
	}
}

func TestController_Deploy_ActivatesNewDeploymentWithNoDeployableFunctions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	c := New(db, artifactstore.New(nil), nil, nil, nil)

	const env = "staging"
	const fromSchema = "app"
	const deploymentID = int64(42)

	mock.ExpectBegin()

	// ensureRoleMembership(DeployerRole): role exists + membership check.
	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).WithArgs(DeployerRole).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(sqlPattern("SELECT pg_has_role")).WithArgs(DeployerRole).
		WillReturnRows(sqlmock.NewRows([]string{"pg_has_role"}).AddRow(true))

	mock.ExpectExec(sqlPattern("SELECT pg_advisory_xact_lock")).WillReturnResult(sqlmock.NewResult(0, 0))

	// ensureDeployPermissions: owner/deployer/runtime role existence, then schema usage.
	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).WithArgs(OwnerRole).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).WithArgs(DeployerRole).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).WithArgs(RuntimeRole).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(sqlPattern("SELECT has_schema_privilege")).WithArgs(fromSchema).
		WillReturnRows(sqlmock.NewRows([]string{"has_schema_privilege"}).AddRow(true))

	mock.ExpectExec(sqlPattern("INSERT INTO stopgap.environment")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(sqlPattern("SELECT proname::text")).WithArgs(fromSchema).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(sqlPattern("INSERT INTO stopgap.deployment")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(deploymentID))

	// runDeployFlow with zero deployable functions.
	mock.ExpectQuery(sqlPattern("SELECT p.proname::text AS fn_name, p.prosrc")).WithArgs(fromSchema).
		WillReturnRows(sqlmock.NewRows([]string{"fn_name", "prosrc"}))
	mock.ExpectExec(sqlPattern("CREATE SCHEMA IF NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("ALTER SCHEMA")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("REVOKE ALL ON SCHEMA")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("GRANT USAGE ON SCHEMA")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET manifest")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sqlPattern("SELECT active_deployment_id FROM stopgap.environment")).WithArgs(env).
		WillReturnRows(sqlmock.NewRows([]string{"active_deployment_id"}).AddRow(nil))
	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).WithArgs(deploymentID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("open"))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET status = $1 WHERE id = $2")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.environment")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).WithArgs(deploymentID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sealed"))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET status = $1 WHERE id = $2")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern("INSERT INTO stopgap.activation_log")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	gotID, err := c.Deploy(context.Background(), env, fromSchema, nil, nil)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if gotID != deploymentID {
		t.Errorf("Deploy() returned id %d, want %d", gotID, deploymentID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}

func TestController_Rollback_ReactivatesPriorDeployment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	c := New(db, artifactstore.New(nil), nil, nil, nil)

	const env = "staging"
	const currentActive = int64(42)
	const target = int64(41)

	mock.ExpectBegin()

	mock.ExpectQuery(sqlPattern("SELECT EXISTS")).WithArgs(DeployerRole).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(sqlPattern("SELECT pg_has_role")).WithArgs(DeployerRole).
		WillReturnRows(sqlmock.NewRows([]string{"pg_has_role"}).AddRow(true))

	mock.ExpectExec(sqlPattern("SELECT pg_advisory_xact_lock")).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(sqlPattern("SELECT live_schema::text, active_deployment_id")).WithArgs(env).
		WillReturnRows(sqlmock.NewRows([]string{"live_schema", "active_deployment_id"}).
			AddRow("live_deployment", currentActive))

	mock.ExpectQuery(sqlPattern("FROM stopgap.deployment")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(target))

	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).WithArgs(target).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))

	mock.ExpectQuery(sqlPattern("SELECT fn_name::text, live_fn_schema::text, artifact_hash::text")).WithArgs(target).
		WillReturnRows(sqlmock.NewRows([]string{"fn_name", "live_fn_schema", "artifact_hash"}).
			AddRow("hello", "", "sha256:abc"))
	mock.ExpectQuery(sqlPattern("SELECT source_schema::text FROM stopgap.deployment WHERE id = $1")).WithArgs(target).
		WillReturnRows(sqlmock.NewRows([]string{"source_schema"}).AddRow("app"))

	mock.ExpectExec(sqlPattern("CREATE OR REPLACE FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("ALTER FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("REVOKE ALL ON FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(sqlPattern("GRANT EXECUTE ON FUNCTION")).WillReturnResult(sqlmock.NewResult(0, 0))

	// transitionIfActive(currentActive, rolled_back): loadDeploymentStatus,
	// then transitionDeploymentStatus's own internal loadDeploymentStatus + update.
	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).WithArgs(currentActive).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectQuery(sqlPattern("SELECT status FROM stopgap.deployment WHERE id = $1")).WithArgs(currentActive).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectExec(sqlPattern("UPDATE stopgap.deployment SET status = $1 WHERE id = $2")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(sqlPattern("UPDATE stopgap.environment")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern("INSERT INTO stopgap.activation_log")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	gotTarget, err := c.Rollback(context.Background(), env, 1, nil)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if gotTarget != target {
		t.Errorf("Rollback() returned target %d, want %d", gotTarget, target)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
