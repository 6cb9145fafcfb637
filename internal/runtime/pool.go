// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package runtime

import "sync"

// PoolEnabled gates whether anything may draw from a Pool. It defaults to
// false, and RealEngine.Execute never reads it: every call still constructs
// a fresh goja.Runtime and discards it on return. This flag and Pool exist
// only so the isolate-pooling sketch below can be exercised by its own
// tests without becoming a load-bearing execution path.
var PoolEnabled = false

// lifecycleState marks where a pooled isolate sits relative to reuse.
type lifecycleState int

const (
	// Fresh isolates were just constructed and have never run a call.
	Fresh lifecycleState = iota
	// Warm isolates completed a call cleanly and are eligible for reuse.
	Warm
	// Tainted isolates had their global scope mutated beyond what lockdown
	// installs and must never be handed out again.
	Tainted
	// Retired isolates have been removed from the pool for garbage collection.
	Retired
)

// pooledIsolate is one entry a Pool tracks alongside its lifecycle state.
type pooledIsolate struct {
	vm    *gojaRuntime
	state lifecycleState
}

// gojaRuntime is a narrow seam over *goja.Runtime so this file compiles and
// is testable without importing goja just to exercise bookkeeping: Pool
// itself never runs script code, it only tracks handles a caller gives it.
type gojaRuntime struct {
	id int
}

// Pool sketches an isolate-reuse strategy: a mutex-guarded free list of
// isolate handles tracked by lifecycle state, adapted from the sync.Pool-backed VM reuse
// pattern used by goja executors elsewhere in the ecosystem. It is
// deliberately unwired — RealEngine.Execute does not hold a Pool — because
// reuse needs a cross-call taint check (detecting whether a prior call's
// script mutated globalThis beyond lockdown's frozen surface) that has no
// grounded implementation to adapt here yet. Acquire/Release are exercised
// only by this package's own tests.
type Pool struct {
	mu      sync.Mutex
	nextID  int
	idle    []*pooledIsolate
	retired int
}

// NewPool constructs an empty, disabled-by-default isolate pool.
func NewPool() *Pool {
	return &Pool{}
}

// Acquire returns a Warm isolate if one is idle, else constructs a Fresh one.
// Callers must not use the returned isolate concurrently with a Release of
// the same handle.
func (p *Pool) Acquire() *pooledIsolate {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.idle); n > 0 {
		iso := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return iso
	}

	p.nextID++
	return &pooledIsolate{vm: &gojaRuntime{id: p.nextID}, state: Fresh}
}

// Release returns an isolate to the pool if it finished Warm, or retires it
// (drops it for garbage collection) if the call left it Tainted.
func (p *Pool) Release(iso *pooledIsolate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if iso.state == Tainted {
		iso.state = Retired
		p.retired++
		return
	}
	iso.state = Warm
	p.idle = append(p.idle, iso)
}

// Retired reports how many isolates this pool has discarded for being
// Tainted, for tests asserting the taint path actually drops reuse.
func (p *Pool) Retired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retired
}

// Idle reports how many Warm isolates are presently available for reuse.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
