// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"stopgap/internal/dispatch"
)

//go:embed lockdown.js
var lockdownScript string

// Limits bounds a single script invocation.
type Limits struct {
	StatementTimeoutMs *uint64
	MaxRuntimeMs       *uint64
	MaxHeapBytes       *uint64
}

// EffectiveTimeoutMs is the smaller of the statement timeout and the
// plts.max_runtime_ms cap, or nil if neither is set.
func (l Limits) EffectiveTimeoutMs() *uint64 {
	return ResolveTimeoutMs(l.StatementTimeoutMs, l.MaxRuntimeMs)
}

// HostOps is the bridge a script's db.query/db.exec calls are dispatched
// through; internal/hostops provides the real implementation. It stays
// goja-agnostic so it can be tested and reused without a VM in scope.
type HostOps interface {
	Query(ctx context.Context, sqlText string, params []interface{}, readOnly bool) (json.RawMessage, error)
	Exec(ctx context.Context, sqlText string, params []interface{}, readOnly bool) (json.RawMessage, error)
}

// Engine executes a compiled function body's default export against an
// invocation context and returns its JSON-shaped result (nil for SQL NULL).
type Engine interface {
	Execute(ctx context.Context, compiledJS string, invocation dispatch.InvocationContext, bareSpecifierMap map[string]string, limits Limits, hostOps HostOps, resolve SpecifierResolver) (interface{}, error)
}

// RealEngine runs scripts in a goja VM, per the construction/guard/lockdown
// /load/invoke/teardown sequence.
type RealEngine struct{}

// NewRealEngine constructs the goja-backed engine variant.
func NewRealEngine() *RealEngine { return &RealEngine{} }

func (e *RealEngine) Execute(ctx context.Context, compiledJS string, invocation dispatch.InvocationContext, bareSpecifierMap map[string]string, limits Limits, hostOps HostOps, resolve SpecifierResolver) (interface{}, error) {
	vm := goja.New()

	// goja has no direct heap-byte ceiling; SetMaxCallStackSize is used as
	// a call-depth proxy, the closest lever goja exposes. The byte-level
	// ceiling itself is enforced by the interrupt guard's MemStats polling.
	if limits.MaxHeapBytes != nil && *limits.MaxHeapBytes > 0 {
		vm.SetMaxCallStackSize(2048)
	}

	guard := StartInterruptGuard(ctx, vm, limits.EffectiveTimeoutMs(), limits.MaxHeapBytes)
	defer guard.Stop()

	mapErr := func(stage string, err error) error {
		switch {
		case guard.MemoryOver():
			limitMB := uint64(0)
			if limits.MaxHeapBytes != nil {
				limitMB = *limits.MaxHeapBytes / (1024 * 1024)
			}
			return NewExecError("memory limit", fmt.Sprintf(
				"execution exceeded configured runtime memory limit (plts.max_heap_mb=%d) while in stage `%s`", limitMB, stage))
		case guard.TimedOut():
			ms := uint64(0)
			if t := limits.EffectiveTimeoutMs(); t != nil {
				ms = *t
			}
			return NewExecError("statement timeout", fmt.Sprintf(
				"execution exceeded configured runtime timeout (%dms) while in stage `%s`", ms, stage))
		case guard.Interrupted():
			return NewExecError("postgres interrupt", fmt.Sprintf(
				"execution interrupted by pending PostgreSQL cancel signal while in stage `%s`", stage))
		default:
			message, stack := ParseJSErrorDetails(err.Error())
			return NewExecErrorWithStack(stage, message, stack)
		}
	}

	registerHostOps(vm, ctx, hostOps)

	if _, err := vm.RunString(lockdownScript); err != nil {
		return nil, mapErr("runtime lockdown", err)
	}

	prepared, err := PrepareModule(compiledJS, bareSpecifierMap, resolve)
	if err != nil {
		return nil, mapErr("module load", err)
	}

	program, err := compileModule("plts_module.js", "var exports = {};\n"+rewriteExports(prepared)+"\nglobalThis.__plts_default = exports.default;\n")
	if err != nil {
		return nil, mapErr("module load", err)
	}
	if _, err := vm.RunProgram(program); err != nil {
		return nil, mapErr("module evaluation", err)
	}

	defaultExport := vm.Get("__plts_default")
	if defaultExport == nil || goja.IsUndefined(defaultExport) {
		return nil, NewExecError("entrypoint resolution", "module default export is missing")
	}
	if _, ok := goja.AssertFunction(defaultExport); !ok {
		return nil, NewExecError("entrypoint resolution", "default export must be a function")
	}

	kind := ""
	if kindVal := defaultExport.ToObject(vm).Get("__stopgap_kind"); kindVal != nil && !goja.IsUndefined(kindVal) {
		kind = kindVal.String()
	}
	mode := "rw"
	readOnly := kind == "query"
	if readOnly {
		mode = "ro"
	}
	invocation.DB.Mode = mode

	ctxJSON, err := json.Marshal(invocation)
	if err != nil {
		return nil, NewExecError("context serialize", fmt.Sprintf("failed to serialize runtime context: %s", err))
	}
	ctxLiteral, err := jsStringLiteral(ctxJSON)
	if err != nil {
		return nil, NewExecError("context encode", fmt.Sprintf("failed to encode runtime context string: %s", err))
	}

	setCtxScript := fmt.Sprintf(`
		globalThis.__plts_ctx = JSON.parse(%s);
		globalThis.__plts_ctx.db = {
			mode: %q,
			query(input, params) {
				return globalThis.__plts_internal_ops.dbQuery(input, params, %t, arguments.length > 1);
			},
			exec(input, params) {
				return globalThis.__plts_internal_ops.dbExec(input, params, %t, arguments.length > 1);
			}
		};
	`, ctxLiteral, mode, readOnly, readOnly)

	if _, err := vm.RunString(setCtxScript); err != nil {
		return nil, mapErr("context setup", err)
	}

	fn, _ := goja.AssertFunction(vm.Get("__plts_default"))
	result, err := fn(goja.Undefined(), vm.Get("__plts_ctx"))
	if err != nil {
		return nil, mapErr("entrypoint invocation", err)
	}

	if result == nil || goja.IsNull(result) || goja.IsUndefined(result) {
		return nil, nil
	}

	exported := result.Export()
	roundTripped, err := json.Marshal(exported)
	if err != nil {
		return nil, NewExecError("result decode", fmt.Sprintf("failed to encode JS result value: %s", err))
	}
	var decoded interface{}
	if err := json.Unmarshal(roundTripped, &decoded); err != nil {
		return nil, NewExecError("result decode", fmt.Sprintf("failed to decode JS result value: %s", err))
	}

	return dispatch.TranslateResult(decoded), nil
}

// registerHostOps binds the two low-level Go functions the lockdown
// script's __plts_internal_ops bridge calls into. goja's reflection-based
// Set wraps a (value, error)-returning Go function so a returned error
// surfaces as a thrown JS exception.
func registerHostOps(vm *goja.Runtime, ctx context.Context, hostOps HostOps) {
	vm.Set("__plts_host_db_query", func(sqlText string, params []interface{}, readOnly bool) (interface{}, error) {
		raw, err := hostOps.Query(ctx, sqlText, params, readOnly)
		if err != nil {
			return nil, err
		}
		return decodeJSONRaw(raw)
	})
	vm.Set("__plts_host_db_exec", func(sqlText string, params []interface{}, readOnly bool) (interface{}, error) {
		raw, err := hostOps.Exec(ctx, sqlText, params, readOnly)
		if err != nil {
			return nil, err
		}
		return decodeJSONRaw(raw)
	})
}

func decodeJSONRaw(raw json.RawMessage) (interface{}, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func jsStringLiteral(raw []byte) (string, error) {
	literal, err := json.Marshal(string(raw))
	if err != nil {
		return "", err
	}
	return string(literal), nil
}

// DisabledEngine always fails, for the configuration where scripting is
// explicitly turned off rather than simply unavailable.
type DisabledEngine struct{}

// NewDisabledEngine constructs the disabled engine variant.
func NewDisabledEngine() *DisabledEngine { return &DisabledEngine{} }

func (e *DisabledEngine) Execute(ctx context.Context, compiledJS string, invocation dispatch.InvocationContext, bareSpecifierMap map[string]string, limits Limits, hostOps HostOps, resolve SpecifierResolver) (interface{}, error) {
	return nil, NewExecError("runtime bootstrap", "scripting engine is disabled")
}

var _ Engine = (*RealEngine)(nil)
var _ Engine = (*DisabledEngine)(nil)
