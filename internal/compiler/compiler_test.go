// SPDX-License-Identifier: AGPL-3.0-or-later

package compiler

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestComputeArtifactHash_HasSha256Prefix(t *testing.T) {
	hash := ComputeArtifactHash(
		"export default () => ({ ok: true })",
		"export default () => ({ ok: true })",
		[]byte(`{}`),
		"goja@v0.0.0",
	)
	if !strings.HasPrefix(hash, "sha256:") {
		t.Fatalf("expected hash to start with sha256:, got %q", hash)
	}
	if len(hash) != len("sha256:")+64 {
		t.Fatalf("expected a 64-char hex digest, got %q", hash)
	}
}

func TestComputeArtifactHash_IsDeterministic(t *testing.T) {
	a := ComputeArtifactHash("src", "js", []byte(`{"x":1}`), "fp")
	b := ComputeArtifactHash("src", "js", []byte(`{"x":1}`), "fp")
	if a != b {
		t.Fatalf("expected identical inputs to hash identically, got %q vs %q", a, b)
	}
}

func TestComputeArtifactHash_DiffersOnAnyComponent(t *testing.T) {
	base := ComputeArtifactHash("src", "js", []byte(`{}`), "fp")
	if ComputeArtifactHash("src2", "js", []byte(`{}`), "fp") == base {
		t.Fatalf("expected source change to change the hash")
	}
	if ComputeArtifactHash("src", "js2", []byte(`{}`), "fp") == base {
		t.Fatalf("expected compiled change to change the hash")
	}
	if ComputeArtifactHash("src", "js", []byte(`{"a":1}`), "fp") == base {
		t.Fatalf("expected opts change to change the hash")
	}
	if ComputeArtifactHash("src", "js", []byte(`{}`), "fp2") == base {
		t.Fatalf("expected fingerprint change to change the hash")
	}
}

func TestCompilerFingerprint_HasGojaPrefix(t *testing.T) {
	fp := CompilerFingerprint()
	if !strings.HasPrefix(fp, "goja@") {
		t.Fatalf("expected fingerprint to start with goja@, got %q", fp)
	}
}

func TestTranspileTypeScript_StripsParamAndReturnTypes(t *testing.T) {
	js, diags := TranspileTypeScript("function add(a: number, b: number): number { return a + b; }")
	if diags != nil {
		t.Fatalf("expected no diagnostics, got %+v", diags)
	}
	if strings.Contains(js, ": number") {
		t.Fatalf("expected type annotations to be stripped, got %q", js)
	}
	if !strings.Contains(js, "function add(a, b)") {
		t.Fatalf("expected stripped signature, got %q", js)
	}
}

func TestTranspileTypeScript_StripsInterfaceDeclarations(t *testing.T) {
	src := `
interface Point {
  x: number;
  y: number;
}
function dist(p: Point): number { return p.x + p.y; }
`
	js, diags := TranspileTypeScript(src)
	if diags != nil {
		t.Fatalf("expected no diagnostics, got %+v", diags)
	}
	if strings.Contains(js, "interface") {
		t.Fatalf("expected interface declaration to be removed, got %q", js)
	}
}

func TestTranspileTypeScript_StripsTypeAlias(t *testing.T) {
	src := `
type Handler = (x: number) => number;
function run(h: Handler): number { return h(1); }
`
	js, diags := TranspileTypeScript(src)
	if diags != nil {
		t.Fatalf("expected no diagnostics, got %+v", diags)
	}
	if strings.Contains(js, "type Handler") {
		t.Fatalf("expected type alias to be removed, got %q", js)
	}
}

func TestTranspileTypeScript_ReportsDiagnosticOnInvalidSyntax(t *testing.T) {
	_, diags := TranspileTypeScript("function broken( { return 1; }")
	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %+v", diags)
	}
	if diags[0].Severity != "error" {
		t.Fatalf("expected error severity, got %q", diags[0].Severity)
	}
	if diags[0].Message == "" {
		t.Fatalf("expected a non-empty diagnostic message")
	}
}

func TestExtractInlineSourceMap_RoundTrips(t *testing.T) {
	payload := `{"version":3,"sources":["plts_module.ts"]}`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	js := "export default () => 1;\n//# sourceMappingURL=data:application/json;base64," + encoded + "\n"

	got, ok := ExtractInlineSourceMap(js)
	if !ok {
		t.Fatalf("expected source map to be found")
	}
	if got != payload {
		t.Fatalf("expected decoded payload %q, got %q", payload, got)
	}
}

func TestExtractInlineSourceMap_AbsentWhenNoSentinel(t *testing.T) {
	if _, ok := ExtractInlineSourceMap("export default () => 1;"); ok {
		t.Fatalf("expected no source map to be found")
	}
}

func TestMaybeExtractSourceMap_GatedByFlag(t *testing.T) {
	payload := `{"version":3}`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	js := "export default () => 1;\n//# sourceMappingURL=data:application/json;base64," + encoded

	if _, ok := MaybeExtractSourceMap(js, false); ok {
		t.Fatalf("expected source map extraction to be gated off")
	}
	got, ok := MaybeExtractSourceMap(js, true)
	if !ok || got != payload {
		t.Fatalf("expected source map to be extracted when enabled, got %q ok=%v", got, ok)
	}
}

func TestParseImportMapDirective_ParsesLeadingComment(t *testing.T) {
	src := `// plts-import-map: {"shared-lib": "plts+artifact:sha256:abc"}
export default function() {}`

	importMap, ok := ParseImportMapDirective(src)
	if !ok {
		t.Fatalf("expected directive to be found")
	}
	if importMap["shared-lib"] != "plts+artifact:sha256:abc" {
		t.Fatalf("unexpected import map: %#v", importMap)
	}
}

func TestParseImportMapDirective_IgnoresOtherLeadingComments(t *testing.T) {
	src := `// some other comment
// plts-import-map: {"a": "b"}
export default function() {}`

	importMap, ok := ParseImportMapDirective(src)
	if !ok || importMap["a"] != "b" {
		t.Fatalf("expected directive found past a preceding comment, got %#v ok=%v", importMap, ok)
	}
}

func TestParseImportMapDirective_AbsentWhenNotALeadingComment(t *testing.T) {
	src := `export default function() {}
// plts-import-map: {"a": "b"}`

	if _, ok := ParseImportMapDirective(src); ok {
		t.Fatalf("expected directive after code to not be recognized")
	}
}

func TestParseImportMapDirective_AbsentWhenMissing(t *testing.T) {
	if _, ok := ParseImportMapDirective("export default function() {}"); ok {
		t.Fatalf("expected no directive to be found")
	}
}
