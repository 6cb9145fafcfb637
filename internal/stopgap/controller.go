// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"stopgap/internal/artifactstore"
	"stopgap/pkg/config"
	"stopgap/pkg/logging"
)

// Recorder observes deploy/rollback/diff outcomes. internal/observability
// implements it with atomic counters and latency histograms; tests and
// callers that don't care can pass NoopRecorder. DeployStarted/
// RollbackStarted/DiffStarted port observability.rs's record_*_start
// (returning the call's start time); DeployDone/RollbackDone/DiffDone port
// record_*_success and record_*_error combined into one call keyed on
// whether err is nil, since both paths record latency identically and only
// the error path additionally classifies and counts the error.
type Recorder interface {
	DeployStarted() time.Time
	DeployDone(start time.Time, err error)
	RollbackStarted() time.Time
	RollbackDone(start time.Time, err error)
	DiffStarted() time.Time
	DiffDone(start time.Time, err error)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

func (NoopRecorder) DeployStarted() time.Time      { return time.Time{} }
func (NoopRecorder) DeployDone(time.Time, error)   {}
func (NoopRecorder) RollbackStarted() time.Time    { return time.Time{} }
func (NoopRecorder) RollbackDone(time.Time, error) {}
func (NoopRecorder) DiffStarted() time.Time        { return time.Time{} }
func (NoopRecorder) DiffDone(time.Time, error)     {}

const defaultLiveSchema = "live_deployment"

// Controller exposes the release controller's operations (deploy, rollback,
// status, deployments, diff) as direct Go methods over a live database
// connection, replacing the SECURITY DEFINER SQL functions api.rs exposed
// inside a genuine Postgres extension.
type Controller struct {
	db        *sql.DB
	artifacts *artifactstore.Store
	cfg       *config.Config
	logger    logging.Logger
	recorder  Recorder
}

// New constructs a Controller. cfg may be nil, in which case every
// environment falls back to defaultLiveSchema with pruning disabled;
// recorder may be nil, in which case observations are discarded.
func New(db *sql.DB, artifacts *artifactstore.Store, cfg *config.Config, logger logging.Logger, recorder Recorder) *Controller {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Controller{db: db, artifacts: artifacts, cfg: cfg, logger: logger, recorder: recorder}
}

func (c *Controller) environmentSettings(env string) (liveSchema string, pruneEnabled bool) {
	if c.cfg != nil {
		if e, ok := c.cfg.Environments[env]; ok {
			if e.LiveSchema != "" {
				liveSchema = e.LiveSchema
			}
			pruneEnabled = e.Prune
		}
	}
	if liveSchema == "" {
		liveSchema = defaultLiveSchema
	}
	return liveSchema, pruneEnabled
}

func (c *Controller) logInfo(msg string, fields ...logging.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Controller) logWarn(msg string, fields ...logging.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}

// Deploy ports api.rs's stopgap.deploy: compiles every deployable function in
// fromSchema, records a new deployment, and activates it atomically within
// one transaction guarded by env's advisory lock. pruneOverride, when
// non-nil, takes precedence over the environment's configured Prune setting —
// ports the CLI's "SET LOCAL stopgap.prune" per-call override of the GUC
// default.
func (c *Controller) Deploy(ctx context.Context, env, fromSchema string, label *string, pruneOverride *bool) (deploymentID int64, err error) {
	start := c.recorder.DeployStarted()
	defer func() { c.recorder.DeployDone(start, err) }()

	c.logInfo("stopgap.deploy start", logging.NewField("env", env), logging.NewField("source_schema", fromSchema))

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin deploy transaction: %w", err)
	}
	defer tx.Rollback()

	if err = ensureRoleMembership(ctx, tx, DeployerRole, "stopgap deploy"); err != nil {
		return 0, err
	}
	if err = acquireDeploymentLock(ctx, tx, env); err != nil {
		return 0, err
	}

	liveSchema, pruneEnabled := c.environmentSettings(env)
	if pruneOverride != nil {
		pruneEnabled = *pruneOverride
	}
	if err = ensureDeployPermissions(ctx, tx, fromSchema); err != nil {
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO stopgap.environment (env, live_schema)
		VALUES ($1, $2)
		ON CONFLICT (env) DO UPDATE
		SET live_schema = EXCLUDED.live_schema, updated_at = now()
	`, env, liveSchema); err != nil {
		return 0, fmt.Errorf("failed to upsert stopgap.environment: %w", err)
	}

	if err = ensureNoOverloadedFunctions(ctx, tx, fromSchema); err != nil {
		return 0, err
	}

	manifest, err := json.Marshal(map[string]interface{}{
		"env": env, "source_schema": fromSchema, "live_schema": liveSchema, "label": label, "functions": []interface{}{},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode initial deployment manifest: %w", err)
	}

	if err = tx.QueryRowContext(ctx, `
		INSERT INTO stopgap.deployment (env, label, source_schema, status, manifest)
		VALUES ($1, $2, $3, 'open', $4)
		RETURNING id
	`, env, label, fromSchema, string(manifest)).Scan(&deploymentID); err != nil {
		return 0, fmt.Errorf("failed to create deployment: %w", err)
	}

	if flowErr := runDeployFlow(ctx, tx, c.artifacts, deploymentID, env, fromSchema, liveSchema, pruneEnabled); flowErr != nil {
		c.logWarn("stopgap.deploy failed", logging.NewField("env", env), logging.NewField("source_schema", fromSchema),
			logging.NewField("deployment_id", deploymentID), logging.NewField("error", flowErr.Error()))
		_ = transitionDeploymentStatus(ctx, tx, deploymentID, StatusFailed)
		_ = updateFailedManifest(ctx, tx, deploymentID, flowErr.Error())
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("stopgap deploy failed for env=%s schema=%s deployment_id=%d: %w (and failed to commit failure record: %v)", env, fromSchema, deploymentID, flowErr, commitErr)
			return 0, err
		}
		err = fmt.Errorf("stopgap deploy failed for env=%s schema=%s deployment_id=%d: %w", env, fromSchema, deploymentID, flowErr)
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit deployment: %w", err)
	}

	c.logInfo("stopgap.deploy success", logging.NewField("env", env), logging.NewField("source_schema", fromSchema), logging.NewField("deployment_id", deploymentID))
	return deploymentID, nil
}

// Rollback ports api.rs's stopgap.rollback.
func (c *Controller) Rollback(ctx context.Context, env string, steps int, toID *int64) (targetDeploymentID int64, err error) {
	start := c.recorder.RollbackStarted()
	defer func() { c.recorder.RollbackDone(start, err) }()

	c.logInfo("stopgap.rollback start", logging.NewField("env", env), logging.NewField("steps", steps))

	if _, err = RollbackStepsToOffset(steps); err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if err = ensureRoleMembership(ctx, tx, DeployerRole, "stopgap rollback"); err != nil {
		return 0, err
	}
	if err = acquireDeploymentLock(ctx, tx, env); err != nil {
		return 0, err
	}

	liveSchema, currentActive, err := loadEnvironmentState(ctx, tx, env)
	if err != nil {
		return 0, err
	}

	if toID != nil {
		if err = ensureDeploymentBelongsToEnv(ctx, tx, env, *toID); err != nil {
			return 0, err
		}
		targetDeploymentID = *toID
	} else {
		targetDeploymentID, err = findRollbackTargetByStep(ctx, tx, env, currentActive, steps)
		if err != nil {
			return 0, err
		}
	}

	if targetDeploymentID == currentActive {
		c.logWarn("stopgap.rollback failed", logging.NewField("env", env), logging.NewField("target_deployment_id", targetDeploymentID), logging.NewField("reason", "already-active"))
		err = fmt.Errorf("stopgap rollback target %d is already active for env %s", targetDeploymentID, env)
		return 0, err
	}

	targetStatus, err := loadDeploymentStatus(ctx, tx, targetDeploymentID)
	if err != nil {
		return 0, err
	}
	if targetStatus != StatusActive && targetStatus != StatusRolledBack {
		c.logWarn("stopgap.rollback failed", logging.NewField("env", env), logging.NewField("target_deployment_id", targetDeploymentID), logging.NewField("status", targetStatus.String()))
		err = fmt.Errorf("stopgap rollback target %d has invalid status %s; expected active or rolled_back", targetDeploymentID, targetStatus)
		return 0, err
	}

	if err = reactivateDeployment(ctx, tx, liveSchema, targetDeploymentID); err != nil {
		return 0, err
	}

	if err = transitionIfActive(ctx, tx, currentActive, StatusRolledBack); err != nil {
		return 0, err
	}
	if targetStatus == StatusRolledBack {
		if err = transitionDeploymentStatus(ctx, tx, targetDeploymentID, StatusActive); err != nil {
			return 0, err
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE stopgap.environment
		SET active_deployment_id = $1, updated_at = now()
		WHERE env = $2
	`, targetDeploymentID, env); err != nil {
		return 0, fmt.Errorf("failed to update active deployment during rollback: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO stopgap.activation_log (env, from_deployment_id, to_deployment_id)
		VALUES ($1, $2, $3)
	`, env, currentActive, targetDeploymentID); err != nil {
		return 0, fmt.Errorf("failed to write rollback activation log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback: %w", err)
	}

	c.logInfo("stopgap.rollback success", logging.NewField("env", env), logging.NewField("from_deployment_id", currentActive), logging.NewField("to_deployment_id", targetDeploymentID))
	return targetDeploymentID, nil
}

// Status ports api_ops.rs's load_status, returning (nil, false, nil) when the
// environment has no recorded state.
func (c *Controller) Status(ctx context.Context, env string) (map[string]interface{}, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `
		SELECT jsonb_build_object(
			'env', e.env,
			'live_schema', e.live_schema,
			'active_deployment_id', e.active_deployment_id,
			'updated_at', e.updated_at,
			'active_deployment', CASE
				WHEN d.id IS NULL THEN NULL
				ELSE jsonb_build_object(
					'id', d.id, 'label', d.label, 'status', d.status, 'created_at', d.created_at,
					'created_by', d.created_by, 'source_schema', d.source_schema, 'manifest', d.manifest
				)
			END
		)::text
		FROM stopgap.environment e
		LEFT JOIN stopgap.deployment d ON d.id = e.active_deployment_id
		WHERE e.env = $1
	`, env).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load status for env %s: %w", env, err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode status for env %s: %w", env, err)
	}
	return out, true, nil
}

// Deployments ports api_ops.rs's load_deployments.
func (c *Controller) Deployments(ctx context.Context, env string) ([]map[string]interface{}, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(jsonb_agg(deploy_row ORDER BY created_at DESC), '[]'::jsonb)::text
		FROM (
			SELECT jsonb_build_object(
				'id', d.id, 'env', d.env, 'label', d.label, 'status', d.status, 'created_at', d.created_at,
				'created_by', d.created_by, 'source_schema', d.source_schema, 'manifest', d.manifest,
				'is_active', (e.active_deployment_id = d.id)
			) AS deploy_row, d.created_at
			FROM stopgap.deployment d
			JOIN stopgap.environment e ON e.env = d.env
			WHERE d.env = $1
		) rows
	`, env).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load deployments for env %s: %w", env, err)
	}

	var out []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode deployments for env %s: %w", env, err)
	}
	return out, nil
}

// Diff ports api_ops.rs's load_diff.
func (c *Controller) Diff(ctx context.Context, env, fromSchema string) (result map[string]interface{}, err error) {
	start := c.recorder.DiffStarted()
	defer func() { c.recorder.DiffDone(start, err) }()

	c.logInfo("stopgap.diff start", logging.NewField("env", env), logging.NewField("source_schema", fromSchema))

	if err = ensureRoleMembership(ctx, c.db, DeployerRole, "stopgap diff"); err != nil {
		return nil, err
	}
	if err = ensureDiffPermissions(ctx, c.db, fromSchema); err != nil {
		return nil, err
	}

	liveSchema, activeDeploymentID, err := loadEnvironmentState(ctx, c.db, env)
	if err != nil {
		c.logWarn("stopgap.diff failed", logging.NewField("env", env), logging.NewField("source_schema", fromSchema), logging.NewField("error", err.Error()))
		return nil, err
	}

	active, err := fetchFnVersions(ctx, c.db, activeDeploymentID)
	if err != nil {
		return nil, err
	}
	deployables, err := fetchDeployableFunctions(ctx, c.db, fromSchema)
	if err != nil {
		return nil, err
	}
	candidate, err := compileCandidateFunctions(ctx, c.artifacts, deployables)
	if err != nil {
		return nil, err
	}

	rows, summary := ComputeDiffRows(active, candidate)
	functions := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		functions[i] = map[string]interface{}{
			"fn_name":                row.FnName,
			"change":                 row.Change,
			"active_artifact_hash":   row.ActiveArtifactHash,
			"candidate_artifact_hash": row.CandidateArtifactHash,
		}
	}

	return map[string]interface{}{
		"env":                  env,
		"source_schema":        fromSchema,
		"live_schema":          liveSchema,
		"active_deployment_id": activeDeploymentID,
		"summary": map[string]interface{}{
			"added":     summary.Added,
			"changed":   summary.Changed,
			"removed":   summary.Removed,
			"unchanged": summary.Unchanged,
		},
		"functions": functions,
	}, nil
}

// metricsProvider is satisfied by internal/observability.Recorder; Controller
// type-asserts its recorder against it rather than widening the Recorder
// interface itself, since NoopRecorder and test doubles have no counters to
// report.
type metricsProvider interface {
	MetricsJSON() map[string]interface{}
}

// Metrics ports stopgap.metrics(), returning the deploy/rollback/diff call
// counters and latency histograms this Controller's recorder has observed
// since it was constructed. Returns an empty map when the configured
// recorder doesn't track metrics (NoopRecorder, or a test double).
func (c *Controller) Metrics() map[string]interface{} {
	if provider, ok := c.recorder.(metricsProvider); ok {
		return provider.MetricsJSON()
	}
	return map[string]interface{}{}
}

// Version reports the release controller's implementation version, ported
// from stopgap.version() in api.rs.
func Version() string {
	return "0.1.0"
}
