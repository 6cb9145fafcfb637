// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stopgap/internal/stopgaperr"
)

// loadEnvironmentState ports deployment_state.rs's load_environment_state.
func loadEnvironmentState(ctx context.Context, q querier, env string) (liveSchema string, activeDeploymentID int64, err error) {
	row := q.QueryRowContext(ctx, `
		SELECT live_schema::text, active_deployment_id
		FROM stopgap.environment
		WHERE env = $1
	`, env)
	if err := row.Scan(&liveSchema, &activeDeploymentID); err != nil {
		return "", 0, &stopgaperr.DeploymentStateError{Message: fmt.Sprintf("cannot rollback env %s: environment missing or has no active deployment", env)}
	}
	return liveSchema, activeDeploymentID, nil
}

// findRollbackTargetByStep ports find_rollback_target_by_steps.
func findRollbackTargetByStep(ctx context.Context, q querier, env string, currentActive int64, steps int) (int64, error) {
	offset, err := RollbackStepsToOffset(steps)
	if err != nil {
		return 0, err
	}

	var target int64
	err = q.QueryRowContext(ctx, `
		SELECT id
		FROM stopgap.deployment
		WHERE env = $1
		  AND id < $2
		  AND status IN ('active', 'rolled_back')
		ORDER BY id DESC
		OFFSET $3
		LIMIT 1
	`, env, currentActive, offset).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &stopgaperr.DeploymentStateError{Message: fmt.Sprintf("cannot rollback env %s by %d step(s): no prior deployment available", env, steps)}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find rollback target for env %s: %w", env, err)
	}
	return target, nil
}

// ensureDeploymentBelongsToEnv ports ensure_deployment_belongs_to_env.
func ensureDeploymentBelongsToEnv(ctx context.Context, q querier, env string, deploymentID int64) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM stopgap.deployment WHERE id = $1 AND env = $2)",
		deploymentID, env,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to validate rollback target deployment %d: %w", deploymentID, err)
	}
	if !exists {
		return &stopgaperr.ValidationError{Message: fmt.Sprintf("rollback target deployment %d does not belong to env %s", deploymentID, env)}
	}
	return nil
}

// loadDeploymentStatus ports load_deployment_status.
func loadDeploymentStatus(ctx context.Context, q querier, deploymentID int64) (DeploymentStatus, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		"SELECT status FROM stopgap.deployment WHERE id = $1", deploymentID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &stopgaperr.ValidationError{Message: fmt.Sprintf("deployment id %d does not exist", deploymentID)}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load deployment status for id %d: %w", deploymentID, err)
	}
	status, ok := ParseDeploymentStatus(raw)
	if !ok {
		return 0, &stopgaperr.DeploymentStateError{Message: fmt.Sprintf("deployment id %d has unknown status %s", deploymentID, raw)}
	}
	return status, nil
}

// transitionDeploymentStatus ports transition_deployment_status, validating
// the move via IsAllowedTransition before writing it.
func transitionDeploymentStatus(ctx context.Context, q querier, deploymentID int64, to DeploymentStatus) error {
	from, err := loadDeploymentStatus(ctx, q, deploymentID)
	if err != nil {
		return err
	}
	if !IsAllowedTransition(from, to) {
		return &stopgaperr.DeploymentStateError{Message: fmt.Sprintf("invalid deployment status transition %s -> %s for id %d", from, to, deploymentID)}
	}
	_, err = q.ExecContext(ctx,
		"UPDATE stopgap.deployment SET status = $1 WHERE id = $2", to.String(), deploymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment status: %w", err)
	}
	return nil
}

// transitionIfActive ports transition_if_active: only moves a deployment
// that is presently active, leaving any other status untouched.
func transitionIfActive(ctx context.Context, q querier, deploymentID int64, to DeploymentStatus) error {
	status, err := loadDeploymentStatus(ctx, q, deploymentID)
	if err != nil {
		return err
	}
	if status == StatusActive {
		return transitionDeploymentStatus(ctx, q, deploymentID, to)
	}
	return nil
}

// fetchFnVersions ports fetch_fn_versions.
func fetchFnVersions(ctx context.Context, q querier, deploymentID int64) ([]FnVersionRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT fn_name::text, live_fn_schema::text, artifact_hash::text
		FROM stopgap.fn_version
		WHERE deployment_id = $1
		ORDER BY fn_name
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load function versions for deployment %d: %w", deploymentID, err)
	}
	defer rows.Close()

	var out []FnVersionRow
	for rows.Next() {
		var row FnVersionRow
		if err := rows.Scan(&row.FnName, &row.LiveFnSchema, &row.ArtifactHash); err != nil {
			return nil, fmt.Errorf("failed to load function versions for deployment %d: %w", deploymentID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load function versions for deployment %d: %w", deploymentID, err)
	}
	return out, nil
}

func loadDeploymentSourceSchema(ctx context.Context, q querier, deploymentID int64) (string, error) {
	var schema string
	err := q.QueryRowContext(ctx,
		"SELECT source_schema::text FROM stopgap.deployment WHERE id = $1", deploymentID,
	).Scan(&schema)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("deployment %d is missing source schema", deploymentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load source schema for deployment %d: %w", deploymentID, err)
	}
	return schema, nil
}

// updateDeploymentManifest ports update_deployment_manifest, merging a JSON
// patch into the deployment's manifest column.
func updateDeploymentManifest(ctx context.Context, q querier, deploymentID int64, patch map[string]interface{}) error {
	encoded, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode manifest patch for deployment %d: %w", deploymentID, err)
	}
	_, err = q.ExecContext(ctx,
		"UPDATE stopgap.deployment SET manifest = manifest || $1::jsonb WHERE id = $2",
		string(encoded), deploymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deployment manifest: %w", err)
	}
	return nil
}

func updateFailedManifest(ctx context.Context, q querier, deploymentID int64, cause string) error {
	return updateDeploymentManifest(ctx, q, deploymentID, map[string]interface{}{
		"error": map[string]interface{}{
			"message": cause,
			"at":      "stopgap.deploy",
		},
	})
}

// reactivateDeployment ports deployment_state.rs's reactivate_deployment:
// re-materializes every function version recorded against deploymentID as
// the live pointer in its schema, using the reconciled import-map-always
// form of MaterializeLivePointer.
func reactivateDeployment(ctx context.Context, q querier, liveSchema string, deploymentID int64) error {
	rows, err := fetchFnVersions(ctx, q, deploymentID)
	if err != nil {
		return err
	}
	sourceSchema, err := loadDeploymentSourceSchema(ctx, q, deploymentID)
	if err != nil {
		return err
	}

	candidates := make([]CandidateFn, len(rows))
	for i, row := range rows {
		candidates[i] = CandidateFn{FnName: row.FnName, ArtifactHash: row.ArtifactHash}
	}
	importMap := DeploymentImportMap(sourceSchema, candidates)

	for _, row := range rows {
		schema := liveSchema
		if row.LiveFnSchema != "" {
			schema = row.LiveFnSchema
		}
		if err := MaterializeLivePointer(ctx, q, schema, row.FnName, row.ArtifactHash, importMap); err != nil {
			return err
		}
	}
	return nil
}
