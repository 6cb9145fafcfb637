// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// quoteIdent double-quotes a Postgres identifier, doubling any embedded
// double quotes. Ports runtime_config.rs's quote_ident.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// HardenLiveSchema ports deployment_utils.rs's harden_live_schema: the live
// schema is owned by stopgap_owner, has no public privileges, and grants
// USAGE to the runtime role that the driver loop connects as.
func HardenLiveSchema(ctx context.Context, q querier, liveSchema string) error {
	stmts := []string{
		fmt.Sprintf("ALTER SCHEMA %s OWNER TO %s", quoteIdent(liveSchema), quoteIdent(OwnerRole)),
		fmt.Sprintf("REVOKE ALL ON SCHEMA %s FROM PUBLIC", quoteIdent(liveSchema)),
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", quoteIdent(liveSchema), quoteIdent(RuntimeRole)),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to harden live schema %s: %w", liveSchema, err)
		}
	}
	return nil
}

// MaterializeLivePointer records a function's artifact-pointer document as a
// real, enumerable Postgres object in the live schema, and applies the same
// ownership/grant shape deployment_utils.rs's materialize_live_pointer does.
//
// The Rust original's materialized object is a genuine `LANGUAGE plts`
// function: calling it runs the pointed-to artifact through the call
// handler. This port has no such language handler registered in Postgres —
// internal/handler.DBProgramResolver resolves a live function's program
// directly from stopgap.fn_version, bypassing pg_proc entirely at call time.
// So the function materialized here is `LANGUAGE sql`, returning the pointer
// document verbatim; it is never invoked for execution, but its presence
// keeps fetchLiveDeployableFunctions/prune's pg_proc-based enumeration
// meaningful and matches the original's "one real catalog object per live
// function" shape.
//
// Reconciles the reactivate_deployment (4-arg, threads an import map) vs
// run_deploy_flow (3-arg) inconsistency in the source by always accepting an
// import map, defaulting to an empty one.
func MaterializeLivePointer(ctx context.Context, q querier, liveSchema, fnName, artifactHash string, importMap map[string]string) error {
	pointer := map[string]interface{}{
		"plts":          1,
		"kind":          "artifact_ptr",
		"artifact_hash": artifactHash,
		"export":        "default",
		"mode":          "stopgap_deployed",
	}
	if len(importMap) > 0 {
		pointer["import_map"] = importMap
	}

	body, err := json.Marshal(pointer)
	if err != nil {
		return fmt.Errorf("failed to encode live pointer document for %s.%s: %w", liveSchema, fnName, err)
	}
	escaped := strings.ReplaceAll(string(body), "'", "''")

	createSQL := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s.%s(args jsonb)
		RETURNS jsonb
		LANGUAGE sql
		IMMUTABLE
		AS $$ SELECT '%s'::jsonb $$
	`, quoteIdent(liveSchema), quoteIdent(fnName), escaped)
	if _, err := q.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to materialize live pointer function %s.%s: %w", liveSchema, fnName, err)
	}

	if _, err := q.ExecContext(ctx, fmt.Sprintf(
		"ALTER FUNCTION %s.%s(jsonb) OWNER TO %s",
		quoteIdent(liveSchema), quoteIdent(fnName), quoteIdent(OwnerRole),
	)); err != nil {
		return fmt.Errorf("failed to set live pointer function owner for %s.%s: %w", liveSchema, fnName, err)
	}

	if _, err := q.ExecContext(ctx, fmt.Sprintf(
		"REVOKE ALL ON FUNCTION %s.%s(jsonb) FROM PUBLIC",
		quoteIdent(liveSchema), quoteIdent(fnName),
	)); err != nil {
		return fmt.Errorf("failed to revoke public execute from live pointer function %s.%s: %w", liveSchema, fnName, err)
	}

	if _, err := q.ExecContext(ctx, fmt.Sprintf(
		"GRANT EXECUTE ON FUNCTION %s.%s(jsonb) TO %s",
		quoteIdent(liveSchema), quoteIdent(fnName), quoteIdent(RuntimeRole),
	)); err != nil {
		return fmt.Errorf("failed to grant app runtime execute on live pointer function %s.%s: %w", liveSchema, fnName, err)
	}

	return nil
}

// dropStaleLiveFunction ports the DROP FUNCTION IF EXISTS step of
// api_ops.rs's prune_stale_live_functions.
func dropStaleLiveFunction(ctx context.Context, q querier, liveSchema, fnName string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		"DROP FUNCTION IF EXISTS %s.%s(jsonb)", quoteIdent(liveSchema), quoteIdent(fnName),
	))
	if err != nil {
		return fmt.Errorf("failed to prune stale live function %s.%s: %w", liveSchema, fnName, err)
	}
	return nil
}
