// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package artifactstore is the ground-truth, content-addressed table of
// compiled function artifacts: compile_and_store upserts a freshly
// transpiled source, upsert_artifact writes an already-compiled pair
// directly, and get_artifact fetches a row by hash.
package artifactstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stopgap/internal/compiler"
)

// ErrHasErrorDiagnostics is returned by CompileAndStore when transpiling the
// given source yields at least one diagnostic of severity "error"; the
// artifact table is left untouched.
var ErrHasErrorDiagnostics = errors.New("artifactstore: source has error diagnostics")

// ErrNotFound is returned by GetArtifact when no row matches the hash.
var ErrNotFound = errors.New("artifactstore: artifact not found")

// Artifact is the full persisted record for a compiled function body.
type Artifact struct {
	ArtifactHash        string
	SourceTS            string
	CompiledJS          string
	CompilerOpts        json.RawMessage
	CompilerFingerprint string
	SourceMap           *string
	CreatedAt           time.Time
}

// Store is a pgx-backed handle onto the plts.artifact table.
type Store struct {
	db *sql.DB
}

// New constructs a Store over an already-open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn via pgx and returns a Store. The caller is
// responsible for closing the returned Store via Close.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CompileAndStore transpiles sourceTS under opts and, provided no diagnostic
// carries severity "error", upserts the resulting artifact. It returns the
// computed artifact_hash on success.
func (s *Store) CompileAndStore(ctx context.Context, sourceTS string, opts json.RawMessage) (string, error) {
	if len(opts) == 0 {
		opts = json.RawMessage("{}")
	}

	compiledJS, diagnostics := compiler.TranspileTypeScript(sourceTS)
	for _, d := range diagnostics {
		if d.Severity == "error" {
			return "", ErrHasErrorDiagnostics
		}
	}

	return s.UpsertArtifact(ctx, sourceTS, compiledJS, opts)
}

// UpsertArtifact writes an already-compiled (source, compiled) pair,
// recomputing the artifact_hash and source map, and overwriting any
// existing row with the same hash with identical values (the hash is a
// deterministic function of its inputs, so a conflicting row is always
// byte-identical to the one being written).
func (s *Store) UpsertArtifact(ctx context.Context, sourceTS, compiledJS string, opts json.RawMessage) (string, error) {
	if len(opts) == 0 {
		opts = json.RawMessage("{}")
	}

	fingerprint := compiler.CompilerFingerprint()
	hash := compiler.ComputeArtifactHash(sourceTS, compiledJS, opts, fingerprint)

	var sourceMap *string
	if sm, ok := compiler.MaybeExtractSourceMap(compiledJS, sourceMapRequested(opts)); ok {
		sourceMap = &sm
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plts.artifact (
			artifact_hash, source_ts, compiled_js, compiler_opts, compiler_fingerprint, source_map
		)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (artifact_hash) DO UPDATE
		SET source_ts = EXCLUDED.source_ts,
		    compiled_js = EXCLUDED.compiled_js,
		    compiler_opts = EXCLUDED.compiler_opts,
		    compiler_fingerprint = EXCLUDED.compiler_fingerprint,
		    source_map = EXCLUDED.source_map
	`, hash, sourceTS, compiledJS, string(opts), fingerprint, sourceMap)
	if err != nil {
		return "", fmt.Errorf("upserting artifact %s: %w", hash, err)
	}

	return hash, nil
}

// GetArtifact fetches the artifact row for hash, or ErrNotFound if absent.
func (s *Store) GetArtifact(ctx context.Context, hash string) (Artifact, error) {
	var a Artifact
	var opts string
	a.ArtifactHash = hash

	err := s.db.QueryRowContext(ctx, `
		SELECT source_ts, compiled_js, compiler_opts::text, compiler_fingerprint, source_map, created_at
		FROM plts.artifact
		WHERE artifact_hash = $1
	`, hash).Scan(&a.SourceTS, &a.CompiledJS, &opts, &a.CompilerFingerprint, &a.SourceMap, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("fetching artifact %s: %w", hash, err)
	}

	a.CompilerOpts = json.RawMessage(opts)
	return a, nil
}

// sourceMapRequested reports whether opts carries a truthy "source_map" key.
func sourceMapRequested(opts json.RawMessage) bool {
	var parsed struct {
		SourceMap bool `json:"source_map"`
	}
	if err := json.Unmarshal(opts, &parsed); err != nil {
		return false
	}
	return parsed.SourceMap
}
