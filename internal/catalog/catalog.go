// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package catalog bootstraps the plts/stopgap schemas, tables, views, roles,
// and grants as an idempotent, ordered DDL sequence. It implements
// pkg/migrations.Engine so the bootstrap can be planned and applied through
// the same contract the rest of the module uses for schema changes.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stopgap/pkg/migrations"
)

// trackingTable records which bootstrap steps have already been applied to a
// given database, so re-running Apply is a no-op for steps already done.
const trackingTable = `
	CREATE TABLE IF NOT EXISTS stopgap_catalog_migrations (
		id text PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)
`

// Engine bootstraps the stopgap/plts catalog against a live database.
type Engine struct {
	db *sql.DB
}

var _ migrations.Engine = (*Engine)(nil)

// New constructs a catalog Engine over an already-open database handle.
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Open connects to dsn via pgx and returns a catalog Engine. The caller is
// responsible for closing the returned Engine's underlying connection via Close.
func Open(ctx context.Context, dsn string) (*Engine, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Name returns the stable engine identifier.
func (e *Engine) Name() string {
	return "catalog"
}

func selected(req *migrations.MigrationRequest, id migrations.MigrationID, tags []string) bool {
	if req == nil || req.Selection.All {
		return true
	}
	for _, want := range req.Selection.IDs {
		if want == id {
			return true
		}
	}
	for _, wantTag := range req.Selection.Tags {
		for _, tag := range tags {
			if tag == wantTag {
				return true
			}
		}
	}
	return len(req.Selection.IDs) == 0 && len(req.Selection.Tags) == 0
}

// List returns the fixed bootstrap steps matching the request's selection,
// in their fixed dependency order.
func (e *Engine) List(_ context.Context, req *migrations.MigrationRequest) ([]migrations.Migration, error) {
	out := make([]migrations.Migration, 0, len(steps))
	for _, s := range steps {
		if !selected(req, s.id, nil) {
			continue
		}
		out = append(out, migrations.Migration{
			ID:          s.id,
			Description: s.description,
			Source:      "catalog:bootstrap",
		})
	}
	return out, nil
}

func (e *Engine) isApplied(ctx context.Context, id migrations.MigrationID) (bool, error) {
	var count int
	err := e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stopgap_catalog_migrations WHERE id = $1", string(id),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Plan reports, for each selected step, whether it would be applied or
// skipped, without executing any DDL.
func (e *Engine) Plan(ctx context.Context, req *migrations.MigrationRequest) (migrations.MigrationPlan, error) {
	plan := migrations.MigrationPlan{
		Engine:      e.Name(),
		Environment: req.Environment,
	}

	if err := e.ensureTrackingTable(ctx); err != nil {
		return plan, &migrations.MigrationError{Kind: migrations.ErrConnectionFailed, Message: err.Error(), Cause: err}
	}

	candidates, err := e.List(ctx, req)
	if err != nil {
		return plan, err
	}

	for _, m := range candidates {
		applied, err := e.isApplied(ctx, m.ID)
		if err != nil {
			return plan, &migrations.MigrationError{Kind: migrations.ErrConnectionFailed, Message: err.Error(), Cause: err, StepID: m.ID}
		}
		outcome := migrations.OutcomeApplied
		if applied {
			outcome = migrations.OutcomeSkipped
			plan.Summary.WouldSkip++
		} else {
			plan.Summary.WouldApply++
		}
		plan.Steps = append(plan.Steps, migrations.MigrationStepResult{ID: m.ID, Outcome: outcome})
		plan.Summary.Total++
	}

	return plan, nil
}

// Apply executes each not-yet-applied step inside its own transaction,
// recording it in the tracking table on success. If req.DryRun is set, Apply
// behaves like Plan.
func (e *Engine) Apply(ctx context.Context, req *migrations.MigrationRequest) (migrations.MigrationApplyResult, error) {
	result := migrations.MigrationApplyResult{
		Engine:      e.Name(),
		Environment: req.Environment,
	}

	if req.DryRun {
		plan, err := e.Plan(ctx, req)
		if err != nil {
			return result, err
		}
		for _, s := range plan.Steps {
			result.Steps = append(result.Steps, s)
		}
		result.Summary = migrations.ApplySummary{
			Total:   plan.Summary.Total,
			Applied: 0,
			Skipped: plan.Summary.Total,
		}
		return result, nil
	}

	if err := e.ensureTrackingTable(ctx); err != nil {
		return result, &migrations.MigrationError{Kind: migrations.ErrConnectionFailed, Message: err.Error(), Cause: err}
	}

	candidates, err := e.List(ctx, req)
	if err != nil {
		return result, err
	}

	byID := make(map[migrations.MigrationID]step, len(steps))
	for _, s := range steps {
		byID[s.id] = s
	}

	for _, m := range candidates {
		applied, err := e.isApplied(ctx, m.ID)
		if err != nil {
			stepErr := &migrations.MigrationError{Kind: migrations.ErrConnectionFailed, Message: err.Error(), Cause: err, StepID: m.ID}
			if req.FailFast {
				return result, stepErr
			}
			result.Steps = append(result.Steps, migrations.MigrationStepResult{ID: m.ID, Outcome: migrations.OutcomeFailed, Message: err.Error()})
			result.Summary.Failed++
			result.Summary.Total++
			continue
		}
		if applied {
			result.Steps = append(result.Steps, migrations.MigrationStepResult{ID: m.ID, Outcome: migrations.OutcomeSkipped})
			result.Summary.Skipped++
			result.Summary.Total++
			continue
		}

		s := byID[m.ID]
		if err := e.applyStep(ctx, s); err != nil {
			stepErr := &migrations.MigrationError{Kind: migrations.ErrMigrationFailed, Message: err.Error(), Cause: err, StepID: m.ID}
			result.Steps = append(result.Steps, migrations.MigrationStepResult{ID: m.ID, Outcome: migrations.OutcomeFailed, Message: err.Error()})
			result.Summary.Failed++
			result.Summary.Total++
			if req.FailFast {
				return result, stepErr
			}
			continue
		}

		result.Steps = append(result.Steps, migrations.MigrationStepResult{ID: m.ID, Outcome: migrations.OutcomeApplied})
		result.Summary.Applied++
		result.Summary.Total++
	}

	if result.Summary.Total == 0 && !req.AllowNoop {
		return result, &migrations.MigrationError{Kind: migrations.ErrInvalidConfig, Message: "no catalog bootstrap steps matched the given selection"}
	}

	return result, nil
}

func (e *Engine) applyStep(ctx context.Context, s step) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("applying step %s: %w", s.id, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO stopgap_catalog_migrations (id, applied_at) VALUES ($1, now())", string(s.id),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recording step %s: %w", s.id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing step %s: %w", s.id, err)
	}

	return nil
}

func (e *Engine) ensureTrackingTable(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, trackingTable)
	return err
}
