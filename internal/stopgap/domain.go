// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package stopgap implements the release controller: the deployment state
// machine, manifest/diff computation, prune policy, and live-pointer
// materialization that deploy and roll back versioned schemas of compiled
// PL/TS functions atomically.
package stopgap

import (
	"fmt"
	"sort"
)

// FnVersionRow is one function version recorded against a deployment.
type FnVersionRow struct {
	FnName       string
	LiveFnSchema string
	ArtifactHash string
}

// CandidateFn is one function a prospective manifest would deploy.
type CandidateFn struct {
	FnName       string
	ArtifactHash string
}

// DiffRow is one function's before/after comparison between what is active
// in an environment and what a candidate manifest would make active.
type DiffRow struct {
	FnName              string
	Change              string
	ActiveArtifactHash  *string
	CandidateArtifactHash *string
}

// DiffSummary tallies a diff's rows by change kind.
type DiffSummary struct {
	Added     int
	Changed   int
	Removed   int
	Unchanged int
}

// PruneReport records what prune did (or would do) for dropped functions no
// longer present in the newly active deployment.
type PruneReport struct {
	Enabled              bool
	Dropped              []string
	SkippedWithDependents []string
}

// PruneManifestItem renders a PruneReport as the JSON shape recorded on a
// deployment's manifest.
func PruneManifestItem(report PruneReport) map[string]interface{} {
	dropped := report.Dropped
	if dropped == nil {
		dropped = []string{}
	}
	skipped := report.SkippedWithDependents
	if skipped == nil {
		skipped = []string{}
	}
	return map[string]interface{}{
		"enabled":                 report.Enabled,
		"dropped":                 dropped,
		"skipped_with_dependents": skipped,
	}
}

// ComputeDiffRows compares the functions active for a deployment against a
// candidate manifest's functions, reporting each by name in sorted order.
func ComputeDiffRows(active []FnVersionRow, candidate []CandidateFn) ([]DiffRow, DiffSummary) {
	activeByName := make(map[string]string, len(active))
	for _, row := range active {
		activeByName[row.FnName] = row.ArtifactHash
	}
	candidateByName := make(map[string]string, len(candidate))
	for _, row := range candidate {
		candidateByName[row.FnName] = row.ArtifactHash
	}

	names := make(map[string]struct{}, len(activeByName)+len(candidateByName))
	for name := range activeByName {
		names[name] = struct{}{}
	}
	for name := range candidateByName {
		names[name] = struct{}{}
	}
	sortedNames := make([]string, 0, len(names))
	for name := range names {
		sortedNames = append(sortedNames, name)
	}
	sort.Strings(sortedNames)

	rows := make([]DiffRow, 0, len(sortedNames))
	var summary DiffSummary

	for _, name := range sortedNames {
		activeHash, hasActive := activeByName[name]
		candidateHash, hasCandidate := candidateByName[name]

		var change string
		switch {
		case !hasActive && hasCandidate:
			summary.Added++
			change = "added"
		case hasActive && !hasCandidate:
			summary.Removed++
			change = "removed"
		case hasActive && hasCandidate && activeHash != candidateHash:
			summary.Changed++
			change = "changed"
		case hasActive && hasCandidate:
			summary.Unchanged++
			change = "unchanged"
		default:
			continue
		}

		row := DiffRow{FnName: name, Change: change}
		if hasActive {
			h := activeHash
			row.ActiveArtifactHash = &h
		}
		if hasCandidate {
			h := candidateHash
			row.CandidateArtifactHash = &h
		}
		rows = append(rows, row)
	}

	return rows, summary
}

// FnManifestItem renders one function's entry in a deployment manifest,
// including the artifact-pointer document that will become that function's
// live prosrc-equivalent body.
func FnManifestItem(sourceSchema, liveSchema, fnName, kind, artifactHash string) map[string]interface{} {
	return map[string]interface{}{
		"fn_name":       fnName,
		"source_schema": sourceSchema,
		"live_schema":   liveSchema,
		"kind":          kind,
		"artifact_hash": artifactHash,
		"pointer": map[string]interface{}{
			"plts":          1,
			"kind":          "artifact_ptr",
			"artifact_hash": artifactHash,
			"export":        "default",
			"mode":          "stopgap_deployed",
		},
	}
}

// DeploymentImportMap builds the bare-specifier map threaded into
// MaterializeLivePointer when reactivating a deployment's functions: each
// function in the deployment becomes importable by its own bare name,
// addressed at its artifact. deployment_state.rs's reactivate_deployment
// imports a `deployment_import_map` from `crate::domain` that domain.rs never
// actually defines (a dangling reference in the source); this is this port's
// resolution, grounded on the same "plts+artifact:<hash>" addressing
// internal/runtime/loader.go already uses for artifact-specifier imports.
// sourceSchema is accepted for parity with the call site but unused: the map
// is keyed by bare function name, not by schema-qualified name.
func DeploymentImportMap(sourceSchema string, candidates []CandidateFn) map[string]string {
	_ = sourceSchema
	importMap := make(map[string]string, len(candidates))
	for _, c := range candidates {
		importMap[c.FnName] = "plts+artifact:" + c.ArtifactHash
	}
	return importMap
}

// RollbackStepsToOffset validates a requested rollback step count and
// converts it to a zero-based offset into the environment's deployment
// history (1 step back = offset 0, i.e. the deployment immediately prior to
// the currently active one).
func RollbackStepsToOffset(steps int) (int64, error) {
	if steps < 1 {
		return 0, fmt.Errorf("stopgap.rollback requires steps >= 1")
	}
	return int64(steps - 1), nil
}

// DeploymentStatus is a deployment's lifecycle state.
type DeploymentStatus int

const (
	StatusOpen DeploymentStatus = iota
	StatusSealed
	StatusActive
	StatusRolledBack
	StatusFailed
)

// String renders the status as its stored text form.
func (s DeploymentStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSealed:
		return "sealed"
	case StatusActive:
		return "active"
	case StatusRolledBack:
		return "rolled_back"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseDeploymentStatus parses a stored status string, returning (status, true)
// on success.
func ParseDeploymentStatus(value string) (DeploymentStatus, bool) {
	switch value {
	case "open":
		return StatusOpen, true
	case "sealed":
		return StatusSealed, true
	case "active":
		return StatusActive, true
	case "rolled_back":
		return StatusRolledBack, true
	case "failed":
		return StatusFailed, true
	default:
		return 0, false
	}
}

// IsAllowedTransition reports whether a deployment may move from one status
// to another. Every other pair, including staying put, is forbidden.
func IsAllowedTransition(from, to DeploymentStatus) bool {
	switch {
	case from == StatusOpen && to == StatusSealed:
		return true
	case from == StatusOpen && to == StatusFailed:
		return true
	case from == StatusSealed && to == StatusActive:
		return true
	case from == StatusSealed && to == StatusFailed:
		return true
	case from == StatusActive && to == StatusRolledBack:
		return true
	case from == StatusActive && to == StatusFailed:
		return true
	case from == StatusRolledBack && to == StatusActive:
		return true
	default:
		return false
	}
}

const (
	fnvOffsetBasis int64 = 1469598103934665603
	fnvPrime       int64 = 1099511628211
)

// HashLockKey derives a stable advisory-lock key for an environment name via
// FNV-1a, matching the exact offset basis/prime/wrapping-multiply sequence
// used to key Postgres advisory locks around a deployment transition.
func HashLockKey(env string) int64 {
	hash := fnvOffsetBasis
	for _, b := range []byte(env) {
		hash ^= int64(b)
		hash *= fnvPrime
	}
	return hash
}
