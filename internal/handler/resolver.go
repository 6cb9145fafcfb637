// SPDX-License-Identifier: AGPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stopgap/internal/artifactstore"
	"stopgap/internal/cache"
	"stopgap/internal/compiler"
)

// DBProgramResolver resolves a function's program by following its
// environment's currently active deployment to the fn_version row recorded
// for (schema, name), then loading that version's compiled artifact.
//
// This is the Go-native replacement for function_program.rs's
// load_function_program: that code read a function's ready-to-run source
// straight out of pg_proc.prosrc (inline source, or an artifact-pointer JSON
// document parsed by parse_artifact_ptr). This port has no pg_proc — a
// function's source is always indirect, addressed through
// stopgap.fn_version.artifact_hash for whichever deployment is presently
// live in the given environment.
type DBProgramResolver struct {
	db        *sql.DB
	artifacts *artifactstore.Store
	env       string
}

// NewDBProgramResolver constructs a resolver scoped to one environment (the
// "live_schema" an invocation request's Schema is expected to match).
func NewDBProgramResolver(db *sql.DB, artifacts *artifactstore.Store, env string) *DBProgramResolver {
	return &DBProgramResolver{db: db, artifacts: artifacts, env: env}
}

var errNoActiveDeployment = errors.New("environment has no active deployment")

// ResolveProgram implements ProgramResolver.
func (r *DBProgramResolver) ResolveProgram(ctx context.Context, fnOID uint32, schema, name string) (cache.FunctionProgram, error) {
	var artifactHash string
	err := r.db.QueryRowContext(ctx, `
		SELECT fv.artifact_hash
		FROM stopgap.environment e
		JOIN stopgap.fn_version fv ON fv.deployment_id = e.active_deployment_id
		WHERE e.env = $1 AND fv.live_fn_schema = $2 AND fv.fn_name = $3
	`, r.env, schema, name).Scan(&artifactHash)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.FunctionProgram{}, fmt.Errorf("no live function version for %s.%s in environment %q: %w", schema, name, r.env, errNoActiveDeployment)
	}
	if err != nil {
		return cache.FunctionProgram{}, fmt.Errorf("looking up function version for %s.%s: %w", schema, name, err)
	}

	artifact, err := r.artifacts.GetArtifact(ctx, artifactHash)
	if err != nil {
		return cache.FunctionProgram{}, fmt.Errorf("loading artifact %q for %s.%s: %w", artifactHash, schema, name, err)
	}

	bareSpecifierMap, _ := compiler.ParseImportMapDirective(artifact.CompiledJS)

	return cache.FunctionProgram{
		OID:              fnOID,
		Schema:           schema,
		Name:             name,
		Source:           artifact.CompiledJS,
		BareSpecifierMap: bareSpecifierMap,
	}, nil
}
