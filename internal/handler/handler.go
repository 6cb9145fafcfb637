// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package handler is the Go-native driver loop a PL/TS-declared function
// invocation runs through. There is no C-ABI call handler to link against
// outside a genuine Postgres extension, so this package is what
// "plts_call_handler" recasts to: given an invocation request, it runs the
// same resolve/build-args/build-context/execute-or-fallback/translate
// sequence the original call handler drove, against the scripting engine and
// host ops interfaces internal/runtime and internal/hostops provide.
package handler

import (
	"context"
	"fmt"
	"time"

	"stopgap/internal/artifactstore"
	"stopgap/internal/cache"
	"stopgap/internal/dispatch"
	"stopgap/internal/runtime"
)

// InvocationRequest is one call to a PL/TS-declared function: its identity,
// declared argument types/values, and the call timestamp. FnOID is an opaque
// stable identifier the caller assigns per function (there is no real
// Postgres pg_proc OID in this port); Handler uses it only as a cache key.
type InvocationRequest struct {
	FnOID   uint32
	Schema  string
	Name    string
	ArgOIDs []dispatch.TypeOID
	Args    []dispatch.Arg
	Now     time.Time
}

// ProgramResolver loads the ready-to-run source (and any bare-specifier
// rewrites) backing a function's live schema/name the first time it is
// invoked, or after its cache entry has expired.
type ProgramResolver interface {
	ResolveProgram(ctx context.Context, fnOID uint32, schema, name string) (cache.FunctionProgram, error)
}

// Handler wires together the compile-program cache, the artifact-source
// cache, and a scripting engine to drive one function invocation end to end.
type Handler struct {
	resolver      ProgramResolver
	programCache  *cache.FunctionProgramCache
	artifactCache *cache.ArtifactSourceCache
	artifacts     *artifactstore.Store
	engine        runtime.Engine
	hostOps       runtime.HostOps
	limits        runtime.Limits
	hostAPI       []string
}

// New constructs a Handler. programCache/artifactCache/artifacts may be nil:
// a nil cache disables caching for that concern, and a nil artifact store
// means cross-artifact imports can only resolve against whatever is already
// warm in artifactCache.
func New(resolver ProgramResolver, programCache *cache.FunctionProgramCache, artifactCache *cache.ArtifactSourceCache, artifacts *artifactstore.Store, engine runtime.Engine, hostOps runtime.HostOps, limits runtime.Limits) *Handler {
	return &Handler{
		resolver:      resolver,
		programCache:  programCache,
		artifactCache: artifactCache,
		artifacts:     artifacts,
		engine:        engine,
		hostOps:       hostOps,
		limits:        limits,
		hostAPI:       []string{"query", "exec"},
	}
}

// Invoke runs req to completion: resolve program, build the args payload,
// build the invocation context, execute (or, if no program resolves, fall
// back to the engine-unavailable passthrough), and translate the result.
func (h *Handler) Invoke(ctx context.Context, req InvocationRequest) (interface{}, error) {
	payload := dispatch.BuildArgsPayload(req.Args)

	program, ok := h.lookupProgram(ctx, req)
	if !ok {
		return dispatch.EngineUnavailableFallback(req.ArgOIDs, req.Args, payload)
	}

	invocation := dispatch.BuildInvocationContext(req.FnOID, req.Schema, req.Name, "rw", h.hostAPI, payload, req.Now)

	result, err := h.engine.Execute(ctx, program.Source, invocation, program.BareSpecifierMap, h.limits, h.hostOps, h.resolveArtifactSource)
	if err != nil {
		return nil, err
	}
	return dispatch.TranslateResult(result), nil
}

func (h *Handler) lookupProgram(ctx context.Context, req InvocationRequest) (cache.FunctionProgram, bool) {
	if h.programCache != nil {
		if cached, ok := h.programCache.Get(req.FnOID); ok {
			return cached, true
		}
	}
	if h.resolver == nil {
		return cache.FunctionProgram{}, false
	}

	program, err := h.resolver.ResolveProgram(ctx, req.FnOID, req.Schema, req.Name)
	if err != nil {
		return cache.FunctionProgram{}, false
	}

	if h.programCache != nil {
		h.programCache.Insert(program)
	}
	return program, true
}

// resolveArtifactSource backs internal/runtime's SpecifierResolver, fetching
// the compiled JS behind a "plts+artifact:<hash>" import a function body
// statically imports (e.g. a shared library function).
func (h *Handler) resolveArtifactSource(artifactHash string) (string, error) {
	if h.artifactCache != nil {
		if source, ok := h.artifactCache.Get(artifactHash); ok {
			return source, nil
		}
	}
	if h.artifacts == nil {
		return "", fmt.Errorf("artifact %q is not available in cache and no store fallback is configured", artifactHash)
	}

	artifact, err := h.artifacts.GetArtifact(context.Background(), artifactHash)
	if err != nil {
		return "", fmt.Errorf("resolving artifact %q: %w", artifactHash, err)
	}
	if h.artifactCache != nil {
		h.artifactCache.Insert(artifactHash, artifact.CompiledJS)
	}
	return artifact.CompiledJS, nil
}
