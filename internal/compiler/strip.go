// SPDX-License-Identifier: AGPL-3.0-or-later

package compiler

import (
	"regexp"
	"strings"
)

// stripTypeAnnotations removes the TypeScript-only constructs a PL/TS
// function body is expected to use, leaving plain JS. It is deliberately
// narrow rather than a full parser: brace-balanced removal for
// interface/type-alias declarations, then a fixed sequence of regex passes
// for everything expressible on a single construct.
func stripTypeAnnotations(src string) string {
	src = removeBalancedBlocks(src, `(?:export\s+)?\binterface\s+[A-Za-z_$][\w$]*(?:<[^>{]*>)?(?:\s+extends\s+[^{]+)?\s*\{`)
	src = removeTypeAliasStatements(src)

	for _, p := range stripPasses {
		src = p.re.ReplaceAllString(src, p.repl)
	}

	return src
}

type stripPass struct {
	re   *regexp.Regexp
	repl string
}

// typeExprPattern matches a single type term (identifier with optional
// generics/arrays) plus optional union members, without consuming the comma
// that separates sibling parameters.
const typeExprPattern = `[A-Za-z_$][\w$.\[\]<>]*(?:\s*\|\s*[A-Za-z_$][\w$.\[\]<>]*)*`

var stripPasses = []stripPass{
	// access/parameter-property modifiers on constructor params
	{regexp.MustCompile(`\b(public|private|protected|readonly)\s+`), ""},
	// `as Type` / `as const` casts
	{regexp.MustCompile(`\s+as\s+(const|` + typeExprPattern + `)`), ""},
	// non-null assertion operator
	{regexp.MustCompile(`([A-Za-z0-9_$\])])!(\s*[.;,)\]\n])`), "$1$2"},
	// function/class generic parameter lists: name<T, U>(
	{regexp.MustCompile(`([A-Za-z0-9_$]+)<[A-Za-z_$][\w$, ]*>(\s*\()`), "$1$2"},
	// return-type annotations: ): Type {  or  ): Type =>
	{regexp.MustCompile(`\)\s*:\s*` + typeExprPattern + `(\s*(\{|=>))`), ")$1"},
	// parameter/variable type annotations: name: Type  before , ) = ; or newline
	{regexp.MustCompile(`([A-Za-z0-9_$]+)\s*:\s*` + typeExprPattern + `(\s*[,)=;\n])`), "$1$2"},
	// exported type-only re-declarations left over (export declare, etc.)
	{regexp.MustCompile(`\bexport\s+type\s+\{[^}]*\}\s*;?`), ""},
}

func removeTypeAliasStatements(src string) string {
	re := regexp.MustCompile(`(?m)^[ \t]*(export\s+)?type\s+[A-Za-z_$][\w$]*(<[^=]*>)?\s*=`)
	var out strings.Builder
	i := 0
	for {
		loc := re.FindStringIndex(src[i:])
		if loc == nil {
			out.WriteString(src[i:])
			break
		}
		start := i + loc[0]
		end := i + loc[1]
		out.WriteString(src[i:start])

		// Skip to the statement terminator: a top-level semicolon, or a
		// brace-balanced object literal followed by one.
		depth := 0
		j := end
		for j < len(src) {
			switch src[j] {
			case '{', '(', '[':
				depth++
			case '}', ')', ']':
				depth--
			case ';':
				if depth <= 0 {
					j++
					goto doneStatement
				}
			case '\n':
				if depth <= 0 {
					goto doneStatement
				}
			}
			j++
		}
	doneStatement:
		i = j
	}
	return out.String()
}

// removeBalancedBlocks deletes every occurrence of a construct matched by
// openRE (which must end just after its opening '{') through its balanced
// closing '}'.
func removeBalancedBlocks(src, openPattern string) string {
	re := regexp.MustCompile(openPattern)
	var out strings.Builder
	i := 0
	for {
		loc := re.FindStringIndex(src[i:])
		if loc == nil {
			out.WriteString(src[i:])
			break
		}
		start := i + loc[0]
		braceStart := i + loc[1] // just after the opening '{'
		out.WriteString(src[i:start])

		depth := 1
		j := braceStart
		for j < len(src) && depth > 0 {
			switch src[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			j++
		}
		i = j
	}
	return out.String()
}
