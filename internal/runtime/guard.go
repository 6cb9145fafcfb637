// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"context"
	goruntime "runtime"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// interruptPollInterval matches the teacher's 5ms polling granularity.
const interruptPollInterval = 5 * time.Millisecond

// Interrupter is the subset of *goja.Runtime the guard needs, so it can be
// exercised with a fake in tests.
type Interrupter interface {
	Interrupt(v interface{})
}

// InterruptGuard runs one goroutine per call that watches for a deadline,
// host cancellation, or (best-effort) excess heap growth, and calls
// vm.Interrupt the first time one of those conditions is observed.
//
// goja has no isolate-local heap-byte ceiling the way a V8 isolate does, so
// the memory limit is approximated by sampling the process's own
// runtime.MemStats and comparing growth against a baseline taken at guard
// start. This is a process-wide signal standing in for a per-isolate one —
// accurate only when a single script runs at a time per OS process — and is
// documented as the Open Question resolution for the missing heap ceiling.
type InterruptGuard struct {
	cancel      chan struct{}
	done        chan struct{}
	timedOut    atomic.Bool
	interrupted atomic.Bool
	memoryOver  atomic.Bool
}

// StartInterruptGuard begins watching vm for the given effective timeout,
// context cancellation, and (if set) heap growth past maxHeapBytes above
// the guard's own start-of-call baseline. Always returns a non-nil guard,
// even when neither a timeout nor a heap limit is configured; the caller
// must call Stop on it.
func StartInterruptGuard(ctx context.Context, vm Interrupter, timeoutMs *uint64, maxHeapBytes *uint64) *InterruptGuard {
	g := &InterruptGuard{cancel: make(chan struct{}), done: make(chan struct{})}

	var deadline time.Time
	if timeoutMs != nil && *timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(*timeoutMs) * time.Millisecond)
	}

	var baselineHeap uint64
	if maxHeapBytes != nil && *maxHeapBytes > 0 {
		var stats goruntime.MemStats
		goruntime.ReadMemStats(&stats)
		baselineHeap = stats.HeapAlloc
	}

	go func() {
		defer close(g.done)
		ticker := time.NewTicker(interruptPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-g.cancel:
				return
			case <-ctx.Done():
				g.interrupted.Store(true)
				vm.Interrupt("interrupted")
				return
			case <-ticker.C:
				if maxHeapBytes != nil && *maxHeapBytes > 0 {
					var stats goruntime.MemStats
					goruntime.ReadMemStats(&stats)
					if stats.HeapAlloc > baselineHeap+*maxHeapBytes {
						g.memoryOver.Store(true)
						vm.Interrupt("memory_limit")
						return
					}
				}
				if !deadline.IsZero() && time.Now().After(deadline) {
					g.timedOut.Store(true)
					vm.Interrupt("timed_out")
					return
				}
			}
		}
	}()

	return g
}

// Stop cancels the guard goroutine and waits for it to exit.
func (g *InterruptGuard) Stop() {
	close(g.cancel)
	<-g.done
}

func (g *InterruptGuard) TimedOut() bool   { return g.timedOut.Load() }
func (g *InterruptGuard) Interrupted() bool { return g.interrupted.Load() }
func (g *InterruptGuard) MemoryOver() bool  { return g.memoryOver.Load() }

var _ Interrupter = (*goja.Runtime)(nil)
