// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package compiler transpiles the typed source language to plain JS ahead of
// time, computes the content-addressed artifact hash, and extracts inline
// source maps.
package compiler

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Diagnostic is a single compile-time error or warning, with a best-effort
// line/column extracted from the underlying parser's message.
type Diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Line     *int   `json:"line"`
	Column   *int   `json:"column"`
}

// ComputeArtifactHash returns the content address for a compiled function:
// "sha256:" followed by the hex digest of
// fingerprint‖0x00‖sourceTS‖0x00‖compiledJS‖0x00‖compilerOpts, where
// compilerOpts is the exact JSON text supplied by the caller (not
// re-marshaled), so two callers that format the same options object
// differently will not collide but also will not spuriously coincide.
func ComputeArtifactHash(sourceTS, compiledJS string, compilerOpts json.RawMessage, compilerFingerprint string) string {
	h := sha256.New()
	h.Write([]byte(compilerFingerprint))
	h.Write([]byte{0})
	h.Write([]byte(sourceTS))
	h.Write([]byte{0})
	h.Write([]byte(compiledJS))
	h.Write([]byte{0})
	h.Write(compilerOpts)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

var fingerprintOnce sync.Once
var fingerprintValue string

// CompilerFingerprint identifies the exact toolchain a compiled artifact was
// produced with, so a later dependency upgrade cannot silently reuse a stale
// cache entry. Read from the running binary's own module graph via
// runtime/debug.ReadBuildInfo rather than scraping a lockfile by hand — the
// idiomatic Go equivalent of the teacher's Cargo.lock scrape.
func CompilerFingerprint() string {
	fingerprintOnce.Do(func() {
		gojaVersion := "unknown"
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/dop251/goja" {
					gojaVersion = dep.Version
					break
				}
			}
		}
		fingerprintValue = fmt.Sprintf("goja@%s", gojaVersion)
	})
	return fingerprintValue
}

// TranspileTypeScript strips TypeScript-only syntax from sourceTS and
// returns the resulting JS. If the stripped output does not parse as valid
// JavaScript, it returns ("", diagnostics) with one diagnostic describing
// the parse failure, mirroring the shape (though not the parser) of the
// teacher's transpile_typescript.
//
// This is a best-effort stripper, not a full TypeScript parser: it handles
// type annotations, interfaces, type aliases, generic parameter lists, `as`
// casts, and parameter-property modifiers, which covers the constructs a
// PL/TS function body is expected to use. No TypeScript-to-JS transpiler
// appears anywhere in the retrieval pack, so the stripped output's validity
// is checked with goja.Compile — the one JS engine the pack does provide —
// rather than trusted blindly.
func TranspileTypeScript(sourceTS string) (string, []Diagnostic) {
	stripped := stripTypeAnnotations(sourceTS)

	if _, err := goja.Compile("plts_module.js", stripped, false); err != nil {
		return "", []Diagnostic{diagnosticFromMessage("error", err.Error())}
	}

	return stripped, nil
}

func diagnosticFromMessage(severity, message string) Diagnostic {
	d := Diagnostic{Severity: severity, Message: message}
	if line, col, ok := extractLineColumn(message); ok {
		d.Line = &line
		d.Column = &col
	}
	return d
}

// extractLineColumn parses a trailing "(line:col)" suffix out of an error
// message, e.g. "Unexpected token (3:14)".
func extractLineColumn(message string) (int, int, bool) {
	open := strings.LastIndexByte(message, '(')
	if open < 0 {
		return 0, 0, false
	}
	closeRel := strings.IndexByte(message[open:], ')')
	if closeRel < 0 {
		return 0, 0, false
	}
	coords := message[open+1 : open+closeRel]
	parts := strings.Split(coords, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	line, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return line, col, true
}

const importMapDirectivePrefix = "// plts-import-map:"

// ParseImportMapDirective looks for a single leading `// plts-import-map:
// {...}` comment line in source and decodes its JSON object into a
// bare-specifier rewrite map. Returns (nil, false) if no such directive is
// present as one of the source's leading comment lines, or if its JSON
// payload does not decode to a string-to-string object.
func ParseImportMapDirective(source string) (map[string]string, bool) {
	lines := strings.Split(source, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "//") {
			break
		}
		if !strings.HasPrefix(trimmed, importMapDirectivePrefix) {
			continue
		}
		payload := strings.TrimSpace(trimmed[len(importMapDirectivePrefix):])
		var decoded map[string]string
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return nil, false
		}
		return decoded, true
	}
	return nil, false
}

const sourceMapPrefix = "//# sourceMappingURL=data:application/json;base64,"

// MaybeExtractSourceMap returns the decoded inline source map embedded in
// compiledJS, if sourceMapEnabled is true and a sentinel comment is present.
func MaybeExtractSourceMap(compiledJS string, sourceMapEnabled bool) (string, bool) {
	if !sourceMapEnabled {
		return "", false
	}
	return ExtractInlineSourceMap(compiledJS)
}

// ExtractInlineSourceMap locates the last "//# sourceMappingURL=data:..."
// sentinel in compiledJS and base64-decodes the payload on its first line.
func ExtractInlineSourceMap(compiledJS string) (string, bool) {
	marker := strings.LastIndex(compiledJS, sourceMapPrefix)
	if marker < 0 {
		return "", false
	}

	rest := compiledJS[marker+len(sourceMapPrefix):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	encoded := strings.TrimSpace(rest)
	if encoded == "" {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
