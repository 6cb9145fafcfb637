// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"stopgap/internal/artifactstore"
)

// compileCandidateFunctions compiles every deployable function found in a
// schema and reports each as a CandidateFn keyed by its resulting artifact
// hash, shared by deploy and diff.
func compileCandidateFunctions(ctx context.Context, artifacts *artifactstore.Store, deployables []DeployableFn) ([]CandidateFn, error) {
	out := make([]CandidateFn, 0, len(deployables))
	for _, item := range deployables {
		hash, err := artifacts.CompileAndStore(ctx, item.Prosrc, json.RawMessage("{}"))
		if err != nil {
			return nil, fmt.Errorf("compile_and_store failed for %s: %w", item.FnName, err)
		}
		out = append(out, CandidateFn{FnName: item.FnName, ArtifactHash: hash})
	}
	return out, nil
}

// pruneStaleLiveFunctions ports api_ops.rs's prune_stale_live_functions: any
// function presently live in liveSchema that the new deployment no longer
// deploys is dropped, unless something still depends on it.
func pruneStaleLiveFunctions(ctx context.Context, q querier, liveSchema string, deployedFnNames map[string]struct{}) (PruneReport, error) {
	liveRows, err := fetchLiveDeployableFunctions(ctx, q, liveSchema)
	if err != nil {
		return PruneReport{}, err
	}

	var dropped, skipped []string
	for _, row := range liveRows {
		if _, stillDeployed := deployedFnNames[row.FnName]; stillDeployed {
			continue
		}

		hasDependents, err := liveFunctionHasDependents(ctx, q, row.OID)
		if err != nil {
			return PruneReport{}, err
		}
		if hasDependents {
			skipped = append(skipped, row.FnName)
			continue
		}

		if err := dropStaleLiveFunction(ctx, q, liveSchema, row.FnName); err != nil {
			return PruneReport{}, err
		}
		dropped = append(dropped, row.FnName)
	}

	sort.Strings(dropped)
	sort.Strings(skipped)

	return PruneReport{Enabled: true, Dropped: dropped, SkippedWithDependents: skipped}, nil
}

// runDeployFlow ports api_ops.rs's run_deploy_flow: compiles every candidate
// in fromSchema, records one stopgap.fn_version row per function, prunes
// stale live functions if enabled, seals then activates the deployment, and
// records the activation. q must be a transaction spanning the whole
// operation, since activating the deployment touches stopgap.environment and
// stopgap.activation_log alongside stopgap.deployment's status.
func runDeployFlow(ctx context.Context, q querier, artifacts *artifactstore.Store, deploymentID int64, env, fromSchema, liveSchema string, pruneEnabled bool) error {
	deployables, err := fetchDeployableFunctions(ctx, q, fromSchema)
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(liveSchema))); err != nil {
		return fmt.Errorf("failed to create live schema: %w", err)
	}
	if err := HardenLiveSchema(ctx, q, liveSchema); err != nil {
		return err
	}

	manifestFunctions := make([]map[string]interface{}, 0, len(deployables))
	deployedFnNames := make(map[string]struct{}, len(deployables))

	for _, item := range deployables {
		hash, err := artifacts.CompileAndStore(ctx, item.Prosrc, json.RawMessage("{}"))
		if err != nil {
			return fmt.Errorf("compile_and_store failed for %s: %w", item.FnName, err)
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO stopgap.fn_version
				(deployment_id, fn_name, fn_schema, live_fn_schema, kind, artifact_hash)
			VALUES ($1, $2, $3, $4, 'mutation', $5)
		`, deploymentID, item.FnName, fromSchema, liveSchema, hash); err != nil {
			return fmt.Errorf("failed to insert stopgap.fn_version: %w", err)
		}

		if err := MaterializeLivePointer(ctx, q, liveSchema, item.FnName, hash, nil); err != nil {
			return err
		}

		manifestFunctions = append(manifestFunctions, FnManifestItem(fromSchema, liveSchema, item.FnName, "mutation", hash))
		deployedFnNames[item.FnName] = struct{}{}
	}

	var pruneReport PruneReport
	if pruneEnabled {
		pruneReport, err = pruneStaleLiveFunctions(ctx, q, liveSchema, deployedFnNames)
		if err != nil {
			return err
		}
	} else {
		pruneReport = PruneReport{Enabled: false}
	}

	if err := updateDeploymentManifest(ctx, q, deploymentID, map[string]interface{}{
		"functions": manifestFunctions,
		"prune":     PruneManifestItem(pruneReport),
	}); err != nil {
		return err
	}

	var previousActiveNullable sql.NullInt64
	if err := q.QueryRowContext(ctx,
		"SELECT active_deployment_id FROM stopgap.environment WHERE env = $1", env,
	).Scan(&previousActiveNullable); err != nil {
		return fmt.Errorf("failed to read environment active deployment: %w", err)
	}
	var previousActive *int64
	if previousActiveNullable.Valid {
		previousActive = &previousActiveNullable.Int64
	}

	if err := transitionDeploymentStatus(ctx, q, deploymentID, StatusSealed); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE stopgap.environment
		SET active_deployment_id = $1, updated_at = now()
		WHERE env = $2
	`, deploymentID, env); err != nil {
		return fmt.Errorf("failed to set active deployment: %w", err)
	}

	if err := transitionDeploymentStatus(ctx, q, deploymentID, StatusActive); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO stopgap.activation_log (env, from_deployment_id, to_deployment_id)
		VALUES ($1, $2, $3)
	`, env, previousActive, deploymentID); err != nil {
		return fmt.Errorf("failed to insert activation log: %w", err)
	}

	return nil
}
