// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package observability ports observability.rs's atomic call/error/latency
// counters for the release controller's deploy/rollback/diff operations into
// a Recorder implementation, plus the metrics_json read-only snapshot
// exposed by stopgap.metrics().
package observability

import (
	"strings"
	"sync/atomic"
	"time"

	"stopgap/internal/stopgaperr"
)

// opCounters mirrors one operation's static counters in observability.rs:
// total calls, total errors, a latency histogram (total/last/max, all in
// whole milliseconds), and a fixed error-class breakdown.
type opCounters struct {
	calls           atomic.Uint64
	errors          atomic.Uint64
	latencyTotalMS  atomic.Uint64
	latencyLastMS   atomic.Uint64
	latencyMaxMS    atomic.Uint64
	errorPermission atomic.Uint64
	errorValidation atomic.Uint64
	errorState      atomic.Uint64
	errorSQL        atomic.Uint64
	errorUnknown    atomic.Uint64
}

func (c *opCounters) start() time.Time {
	c.calls.Add(1)
	return time.Now()
}

func (c *opCounters) done(start time.Time, err error) {
	elapsedMS := uint64(time.Since(start).Milliseconds())
	c.latencyTotalMS.Add(elapsedMS)
	c.latencyLastMS.Store(elapsedMS)
	updateMax(&c.latencyMaxMS, elapsedMS)

	if err == nil {
		return
	}
	c.errors.Add(1)
	class, ok := stopgaperr.Class(err)
	if !ok {
		class = ClassifyOperationError(err.Error())
	}
	switch class {
	case "permission":
		c.errorPermission.Add(1)
	case "validation":
		c.errorValidation.Add(1)
	case "state":
		c.errorState.Add(1)
	case "sql":
		c.errorSQL.Add(1)
	default:
		c.errorUnknown.Add(1)
	}
}

func (c *opCounters) snapshot() map[string]interface{} {
	return map[string]interface{}{
		"calls":  c.calls.Load(),
		"errors": c.errors.Load(),
		"latency_ms": map[string]interface{}{
			"total": c.latencyTotalMS.Load(),
			"last":  c.latencyLastMS.Load(),
			"max":   c.latencyMaxMS.Load(),
		},
		"error_classes": map[string]interface{}{
			"permission": c.errorPermission.Load(),
			"validation": c.errorValidation.Load(),
			"state":      c.errorState.Load(),
			"sql":        c.errorSQL.Load(),
			"unknown":    c.errorUnknown.Load(),
		},
	}
}

func updateMax(maxMetric *atomic.Uint64, candidate uint64) {
	for {
		current := maxMetric.Load()
		if candidate <= current {
			return
		}
		if maxMetric.CompareAndSwap(current, candidate) {
			return
		}
	}
}

// ClassifyOperationError ports classify_operation_error's substring heuristic
// over an error's message, used when no typed error distinguishes the class
// more precisely (see internal/stopgaperr for the typed cases this heuristic
// still backstops, matching spec §7's note that execute/js_exception-style
// errors only ever arrive as plain text).
func ClassifyOperationError(message string) string {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "permission") || strings.Contains(lowered, "must be a member"):
		return "permission"
	case strings.Contains(lowered, "not found"),
		strings.Contains(lowered, "does not exist"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "must be positive"):
		return "validation"
	case strings.Contains(lowered, "status"), strings.Contains(lowered, "already active"):
		return "state"
	case strings.Contains(lowered, "sql"), strings.Contains(lowered, "query"):
		return "sql"
	default:
		return "unknown"
	}
}

// Recorder implements stopgap.Recorder with the atomic counters above, one
// opCounters per operation.
type Recorder struct {
	deploy   opCounters
	rollback opCounters
	diff     opCounters
}

// New constructs a Recorder with every counter at zero.
func New() *Recorder {
	return &Recorder{}
}

func (r *Recorder) DeployStarted() time.Time               { return r.deploy.start() }
func (r *Recorder) DeployDone(start time.Time, err error)   { r.deploy.done(start, err) }
func (r *Recorder) RollbackStarted() time.Time              { return r.rollback.start() }
func (r *Recorder) RollbackDone(start time.Time, err error) { r.rollback.done(start, err) }
func (r *Recorder) DiffStarted() time.Time                 { return r.diff.start() }
func (r *Recorder) DiffDone(start time.Time, err error)    { r.diff.done(start, err) }

// MetricsJSON ports metrics_json, returning the same {deploy,rollback,diff}
// shape stopgap.metrics() exposes.
func (r *Recorder) MetricsJSON() map[string]interface{} {
	return map[string]interface{}{
		"deploy":   r.deploy.snapshot(),
		"rollback": r.rollback.snapshot(),
		"diff":     r.diff.snapshot(),
	}
}
