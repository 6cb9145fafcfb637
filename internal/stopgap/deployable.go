// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"fmt"

	"stopgap/internal/stopgaperr"
)

// DeployableFn is one candidate function found in a source schema, ready to
// be compiled and recorded against a deployment.
type DeployableFn struct {
	FnName string
	Prosrc string
}

// LiveFnRow is one function presently materialized in a live schema.
type LiveFnRow struct {
	OID    int64
	FnName string
}

// deployableFunctionsQuery finds single-jsonb-argument, jsonb-returning
// functions in a schema. deployment_utils.rs's fetch_deployable_functions
// additionally joins pg_language on lanname = 'plts': this port never
// registers a real Postgres procedural-language handler (PL/TS execution is
// driven by internal/handler, not by Postgres calling pg_proc directly), so
// there is no such language row to filter on. Candidacy is recognized purely
// by signature instead — any (jsonb) -> jsonb function in the schema.
const deployableFunctionsQuery = `
	SELECT p.proname::text AS fn_name, p.prosrc
	FROM pg_proc p
	JOIN pg_namespace n ON n.oid = p.pronamespace
	WHERE n.nspname = $1
	  AND p.prorettype = 'jsonb'::regtype::oid
	  AND array_length(p.proargtypes::oid[], 1) = 1
	  AND p.proargtypes[0] = 'jsonb'::regtype::oid
	ORDER BY p.proname
`

func fetchDeployableFunctions(ctx context.Context, q querier, fromSchema string) ([]DeployableFn, error) {
	rows, err := q.QueryContext(ctx, deployableFunctionsQuery, fromSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployable functions in schema %s: %w", fromSchema, err)
	}
	defer rows.Close()

	var out []DeployableFn
	for rows.Next() {
		var item DeployableFn
		if err := rows.Scan(&item.FnName, &item.Prosrc); err != nil {
			return nil, fmt.Errorf("failed to scan deployable functions in schema %s: %w", fromSchema, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan deployable functions in schema %s: %w", fromSchema, err)
	}
	return out, nil
}

func fetchLiveDeployableFunctions(ctx context.Context, q querier, liveSchema string) ([]LiveFnRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.oid::bigint AS fn_oid, p.proname::text AS fn_name
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = $1
		  AND p.prorettype = 'jsonb'::regtype::oid
		  AND array_length(p.proargtypes::oid[], 1) = 1
		  AND p.proargtypes[0] = 'jsonb'::regtype::oid
		ORDER BY p.proname
	`, liveSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to load live deployable functions in schema %s: %w", liveSchema, err)
	}
	defer rows.Close()

	var out []LiveFnRow
	for rows.Next() {
		var item LiveFnRow
		if err := rows.Scan(&item.OID, &item.FnName); err != nil {
			return nil, fmt.Errorf("failed to load live deployable functions in schema %s: %w", liveSchema, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load live deployable functions in schema %s: %w", liveSchema, err)
	}
	return out, nil
}

// liveFunctionHasDependents ports deployment_utils.rs's
// live_function_has_dependents: true if pg_depend records any normal, auto
// or internal dependency on the function other than its own self-reference.
func liveFunctionHasDependents(ctx context.Context, q querier, functionOID int64) (bool, error) {
	var hasDependents bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_depend d
			WHERE d.refclassid = 'pg_proc'::regclass
			  AND d.refobjid = $1
			  AND d.deptype IN ('n', 'a', 'i')
			  AND NOT (d.classid = 'pg_proc'::regclass AND d.objid = $1)
		)
	`, functionOID).Scan(&hasDependents)
	if err != nil {
		return false, fmt.Errorf("failed to inspect dependencies for live function oid %d: %w", functionOID, err)
	}
	return hasDependents, nil
}

// ensureNoOverloadedFunctions ports deployment_utils.rs's
// ensure_no_overloaded_plts_functions: stopgap deploy forbids any two
// functions in the same source schema sharing a name, whether or not they
// are deployable candidates.
func ensureNoOverloadedFunctions(ctx context.Context, q querier, fromSchema string) error {
	var overloaded string
	err := q.QueryRowContext(ctx, `
		SELECT proname::text
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = $1
		GROUP BY proname
		HAVING count(*) > 1
		LIMIT 1
	`, fromSchema).Scan(&overloaded)
	if err != nil {
		return nil // no row: either no overload, or a scan error we treat the same as the Rust original's .ok().flatten()
	}
	return &stopgaperr.ValidationError{Message: fmt.Sprintf("stopgap deploy forbids overloaded functions in schema %s; offending function: %s", fromSchema, overloaded)}
}
