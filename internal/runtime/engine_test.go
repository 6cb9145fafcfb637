// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"stopgap/internal/dispatch"
)

type stubHostOps struct {
	queryResult json.RawMessage
	queryErr    error
	lastQuery   string
	lastParams  []interface{}
	lastReadOnly bool
}

func (s *stubHostOps) Query(ctx context.Context, sqlText string, params []interface{}, readOnly bool) (json.RawMessage, error) {
	s.lastQuery = sqlText
	s.lastParams = params
	s.lastReadOnly = readOnly
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.queryResult, nil
}

func (s *stubHostOps) Exec(ctx context.Context, sqlText string, params []interface{}, readOnly bool) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func testInvocation() dispatch.InvocationContext {
	return dispatch.BuildInvocationContext(
		1234, "public", "greet", "rw", []string{"query", "exec"},
		dispatch.BuildArgsPayload([]dispatch.Arg{{OID: dispatch.OIDText, Value: "world"}}),
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	)
}

func TestRealEngine_Execute_ReturnsResult(t *testing.T) {
	engine := NewRealEngine()
	src := `export default function(ctx) { return { greeting: "hello " + ctx.args.positional[0] }; }`

	result, err := engine.Execute(context.Background(), src, testInvocation(), nil, Limits{}, &stubHostOps{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T: %v", result, result)
	}
	if obj["greeting"] != "hello world" {
		t.Fatalf("unexpected greeting: %v", obj["greeting"])
	}
}

func TestRealEngine_Execute_NullResultTranslatesToNil(t *testing.T) {
	engine := NewRealEngine()
	src := `export default function(ctx) { return null; }`

	result, err := engine.Execute(context.Background(), src, testInvocation(), nil, Limits{}, &stubHostOps{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %v", result)
	}
}

func TestRealEngine_Execute_MissingDefaultExportErrors(t *testing.T) {
	engine := NewRealEngine()
	src := `const x = 1;`

	_, err := engine.Execute(context.Background(), src, testInvocation(), nil, Limits{}, &stubHostOps{}, nil)
	if err == nil {
		t.Fatalf("expected error for missing default export")
	}
	if !strings.Contains(err.Error(), "entrypoint resolution") {
		t.Fatalf("expected entrypoint resolution stage, got: %v", err)
	}
}

func TestRealEngine_Execute_ThrownErrorMapsToExecError(t *testing.T) {
	engine := NewRealEngine()
	src := `export default function(ctx) { throw new Error("boom"); }`

	_, err := engine.Execute(context.Background(), src, testInvocation(), nil, Limits{}, &stubHostOps{}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	execErr, ok := err.(*ExecError)
	if !ok {
		t.Fatalf("expected *ExecError, got %T", err)
	}
	if execErr.Stage != "entrypoint invocation" {
		t.Fatalf("expected entrypoint invocation stage, got %q", execErr.Stage)
	}
	if !strings.Contains(execErr.Message, "boom") {
		t.Fatalf("expected message to mention boom, got %q", execErr.Message)
	}
}

func TestRealEngine_Execute_HostOpsQueryBridged(t *testing.T) {
	engine := NewRealEngine()
	hostOps := &stubHostOps{queryResult: json.RawMessage(`[{"id":1}]`)}
	src := `export default function(ctx) { return ctx.db.query("select 1"); }`

	result, err := engine.Execute(context.Background(), src, testInvocation(), nil, Limits{}, hostOps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, ok := result.([]interface{})
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one-row result, got %#v", result)
	}
	if hostOps.lastQuery != "select 1" {
		t.Fatalf("expected query text to be forwarded, got %q", hostOps.lastQuery)
	}
	if hostOps.lastReadOnly {
		t.Fatalf("expected readOnly=false for a mode=rw invocation")
	}
}

func TestRealEngine_Execute_QueryKindSetsReadOnlyMode(t *testing.T) {
	engine := NewRealEngine()
	hostOps := &stubHostOps{queryResult: json.RawMessage(`[]`)}
	src := `function handler(ctx) { ctx.db.query("select 1"); return null; }
handler.__stopgap_kind = "query";
export default handler;`

	_, err := engine.Execute(context.Background(), src, testInvocation(), nil, Limits{}, hostOps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hostOps.lastReadOnly {
		t.Fatalf("expected readOnly=true for a query-kind handler")
	}
}

func TestDisabledEngine_Execute_AlwaysErrors(t *testing.T) {
	engine := NewDisabledEngine()
	_, err := engine.Execute(context.Background(), "export default function(){};", testInvocation(), nil, Limits{}, &stubHostOps{}, nil)
	if err == nil {
		t.Fatalf("expected error from disabled engine")
	}
	execErr, ok := err.(*ExecError)
	if !ok || execErr.Stage != "runtime bootstrap" {
		t.Fatalf("expected runtime bootstrap stage, got %v", err)
	}
}
