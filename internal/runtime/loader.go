// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"stopgap/internal/runtime/embedded"
)

// SpecifierResolver fetches the JS source behind a "plts+artifact:<hash>"
// import, typically backed by internal/artifactstore and internal/cache.
type SpecifierResolver func(artifactHash string) (string, error)

// importStatement is one static `import ... from "specifier";` line.
var importStatement = regexp.MustCompile(`(?m)^[ \t]*import\s+(.+?)\s+from\s+["']([^"']+)["']\s*;?\s*$`)

// PrepareModule resolves every static import in source against the three
// accepted specifier classes (data: URLs, the "@stopgap/runtime" bare
// specifier, and "plts+artifact:<hash>" pointers, after bareSpecifierMap
// rewrites bare imports) and returns plain JS with each import replaced by
// a binding to an inlined, independently evaluated copy of its dependency.
//
// goja has no native ES module loader, so this is a pre-pass textual
// resolver rather than a real module graph: it only understands default
// and named static imports, which is what a PL/TS function body and the
// runtime helper module actually use.
func PrepareModule(source string, bareSpecifierMap map[string]string, resolve SpecifierResolver) (string, error) {
	var out strings.Builder
	var deps strings.Builder
	depIndex := 0

	rest := source
	for {
		loc := importStatement.FindStringSubmatchIndex(rest)
		if loc == nil {
			out.WriteString(rest)
			break
		}

		out.WriteString(rest[:loc[0]])
		clause := rest[loc[2]:loc[3]]
		specifier := rest[loc[4]:loc[5]]
		rest = rest[loc[1]:]

		if mapped, ok := bareSpecifierMap[specifier]; ok {
			specifier = mapped
		}

		depSource, err := resolveSpecifier(specifier, resolve)
		if err != nil {
			return "", fmt.Errorf("resolving import %q: %w", specifier, err)
		}

		depIndex++
		varName := fmt.Sprintf("__plts_module_%d", depIndex)
		deps.WriteString(wrapModule(varName, depSource))
		out.WriteString(bindImportClause(clause, varName))
		out.WriteString("\n")
	}

	return deps.String() + out.String(), nil
}

func resolveSpecifier(specifier string, resolve SpecifierResolver) (string, error) {
	switch {
	case strings.HasPrefix(specifier, "data:"):
		return decodeDataURLModule(specifier)
	case specifier == embedded.BareSpecifier:
		return embedded.RuntimeSource, nil
	case strings.HasPrefix(specifier, "plts+artifact:"):
		if resolve == nil {
			return "", fmt.Errorf("no artifact resolver configured for %q", specifier)
		}
		hash := strings.TrimPrefix(specifier, "plts+artifact:")
		return resolve(hash)
	default:
		return "", fmt.Errorf("unsupported module import %q; only data: imports, %q, and plts+artifact:<hash> are currently allowed (consider a plts-import-map directive for bare specifiers)", specifier, embedded.BareSpecifier)
	}
}

func decodeDataURLModule(specifier string) (string, error) {
	payload := strings.TrimPrefix(specifier, "data:")
	metadata, encoded, ok := strings.Cut(payload, ",")
	if !ok {
		return "", fmt.Errorf("invalid data URL module specifier %q", specifier)
	}
	if strings.Contains(metadata, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("decoding base64 data URL module: %w", err)
		}
		return string(decoded), nil
	}
	return encoded, nil
}

// wrapModule evaluates a dependency's source in its own IIFE scope,
// rewriting its `export default` / named `export` statements into an
// exports object assigned to varName.
func wrapModule(varName, source string) string {
	body := rewriteExports(source)
	return "var " + varName + " = (function() { var exports = {}; " + body + " return exports; })();\n"
}

var exportDefaultPattern = regexp.MustCompile(`\bexport\s+default\s+`)
var exportNamedFuncPattern = regexp.MustCompile(`\bexport\s+function\s+([A-Za-z_$][\w$]*)`)

// rewriteExports handles the two export forms this loader's callers
// actually produce: a single `export default <expr>` (every compiled PL/TS
// function body) and `export function name(...)` (the runtime helper
// module's query/mutation factories). Other export forms are out of scope
// for this pre-pass resolver.
func rewriteExports(source string) string {
	source = exportDefaultPattern.ReplaceAllString(source, "exports.default = ")
	source = exportNamedFuncPattern.ReplaceAllStringFunc(source, func(m string) string {
		name := exportNamedFuncPattern.FindStringSubmatch(m)[1]
		return "exports." + name + " = function " + name
	})
	return source
}

// bindImportClause rewrites an import clause (`Foo`, `{ a, b }`, or `Foo, { a }`)
// into var declarations pulled off the given module variable.
func bindImportClause(clause, varName string) string {
	clause = strings.TrimSpace(clause)
	var out strings.Builder

	if idx := strings.Index(clause, "{"); idx >= 0 {
		defaultPart := strings.TrimSpace(strings.TrimSuffix(clause[:idx], ","))
		namedPart := strings.TrimSuffix(strings.TrimPrefix(clause[idx:], "{"), "}")
		if defaultPart != "" {
			out.WriteString("var " + defaultPart + " = " + varName + ".default;\n")
		}
		for _, name := range strings.Split(namedPart, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			alias := name
			local := name
			if as := strings.Split(name, " as "); len(as) == 2 {
				alias = strings.TrimSpace(as[0])
				local = strings.TrimSpace(as[1])
			}
			out.WriteString("var " + local + " = " + varName + "." + alias + ";\n")
		}
		return out.String()
	}

	return "var " + clause + " = " + varName + ".default;\n"
}

// compileModule is a thin wrapper around goja.Compile used by Execute; kept
// separate so tests can exercise PrepareModule's output independently of a
// live goja.Runtime.
func compileModule(name, src string) (*goja.Program, error) {
	return goja.Compile(name, src, false)
}
