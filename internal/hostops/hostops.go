// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package hostops implements the db.query/db.exec bridge a script body's
// ctx.db calls are forwarded to, and the read-only SQL classifier that
// enforces stopgap.query handlers cannot mutate the database.
package hostops

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"stopgap/internal/runtime"
)

// Ops binds a live database handle as an internal/runtime.HostOps
// implementation.
type Ops struct {
	db *sql.DB
}

// New constructs an Ops bridge over an already-open database handle.
func New(db *sql.DB) *Ops {
	return &Ops{db: db}
}

var _ runtime.HostOps = (*Ops)(nil)

// Query runs sql wrapped to collect its rows as a jsonb array, rejecting
// write statements when readOnly is set (a stopgap.query handler).
func (o *Ops) Query(ctx context.Context, sqlText string, params []interface{}, readOnly bool) (json.RawMessage, error) {
	if readOnly && !IsReadOnlySQL(sqlText) {
		return nil, fmt.Errorf("db.query is read-only for stopgap.query handlers; use a SELECT-only statement")
	}

	wrapped := fmt.Sprintf("SELECT COALESCE(jsonb_agg(to_jsonb(q)), '[]'::jsonb) FROM (%s) q", sqlText)

	var raw []byte
	if err := o.db.QueryRowContext(ctx, wrapped, params...).Scan(&raw); err != nil {
		return nil, fmt.Errorf("db.query SPI error: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Exec runs a statement for its side effects; always rejected for
// stopgap.query handlers, since they may only read.
func (o *Ops) Exec(ctx context.Context, sqlText string, params []interface{}, readOnly bool) (json.RawMessage, error) {
	if readOnly {
		return nil, fmt.Errorf("db.exec is disabled for stopgap.query handlers; switch to stopgap.mutation")
	}

	if _, err := o.db.ExecContext(ctx, sqlText, params...); err != nil {
		return nil, fmt.Errorf("db.exec SPI error: %w", err)
	}
	return json.RawMessage(`{"ok":true}`), nil
}

var forbiddenKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true,
	"create": true, "alter": true, "drop": true, "truncate": true,
	"grant": true, "revoke": true, "vacuum": true, "analyze": true,
	"reindex": true, "cluster": true, "call": true, "copy": true,
}

// IsReadOnlySQL reports whether sqlText is safe to run for a read-only
// handler: it must open with SELECT or WITH, and contain no forbidden
// mutating keyword as a standalone token.
//
// Unlike a naive tokenizer over the raw lowercased text, string literals,
// quoted identifiers, and dollar-quoted bodies are peeled out (replaced by
// blanks) before the keyword scan, so a value like `'update'` or a
// dollar-quoted body like `$delete$...$delete$` cannot be mistaken for the
// keyword itself — e.g. `SELECT 'update' AS verb` and
// `SELECT $delete$ AS body` are correctly admitted as read-only.
func IsReadOnlySQL(sqlText string) bool {
	rest := stripLeadingSQLComments(sqlText)
	peeled := strings.ToLower(peelLiteralLikeSpans(rest))
	trimmed := strings.TrimSpace(peeled)

	if !(strings.HasPrefix(trimmed, "select") || strings.HasPrefix(trimmed, "with")) {
		return false
	}

	var token strings.Builder
	checkToken := func() bool {
		if token.Len() == 0 {
			return true
		}
		ok := !forbiddenKeywords[token.String()]
		token.Reset()
		return ok
	}

	for _, ch := range peeled {
		if ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			token.WriteRune(ch)
			continue
		}
		if !checkToken() {
			return false
		}
	}
	return checkToken()
}

// peelLiteralLikeSpans blanks out the contents of every '...'-quoted string,
// "..."-quoted identifier, and $tag$...$tag$ dollar-quoted body in s,
// preserving the surrounding structure so token boundaries are unaffected.
func peelLiteralLikeSpans(s string) string {
	runes := []rune(s)
	n := len(runes)
	out := make([]rune, 0, n)

	i := 0
	for i < n {
		switch runes[i] {
		case '\'':
			out = append(out, ' ')
			i++
			for i < n {
				if runes[i] == '\'' {
					out = append(out, ' ')
					i++
					if i < n && runes[i] == '\'' {
						out = append(out, ' ')
						i++
						continue
					}
					break
				}
				out = append(out, ' ')
				i++
			}
		case '"':
			out = append(out, ' ')
			i++
			for i < n && runes[i] != '"' {
				out = append(out, ' ')
				i++
			}
			if i < n {
				out = append(out, ' ')
				i++
			}
		case '$':
			tagEnd := -1
			j := i + 1
			for j < n {
				if runes[j] == '$' {
					tagEnd = j
					break
				}
				if !(runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
					break
				}
				j++
			}
			if tagEnd == -1 {
				out = append(out, runes[i])
				i++
				continue
			}
			tag := runes[i : tagEnd+1]
			closeAt := indexOfRunesFrom(runes, tagEnd+1, tag)
			if closeAt == -1 {
				for k := i; k < n; k++ {
					out = append(out, ' ')
				}
				i = n
				continue
			}
			end := closeAt + len(tag)
			for k := i; k < end; k++ {
				out = append(out, ' ')
			}
			i = end
		default:
			out = append(out, runes[i])
			i++
		}
	}
	return string(out)
}

func indexOfRunesFrom(haystack []rune, from int, needle []rune) int {
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// stripLeadingSQLComments drops any leading `--` line comments or `/* */`
// block comments (and surrounding whitespace) before the statement proper.
func stripLeadingSQLComments(sqlText string) string {
	rest := strings.TrimSpace(sqlText)
	for {
		if strings.HasPrefix(rest, "--") {
			if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
				rest = strings.TrimSpace(rest[idx+1:])
				continue
			}
			return ""
		}
		if strings.HasPrefix(rest, "/*") {
			if idx := strings.Index(rest, "*/"); idx >= 0 {
				rest = strings.TrimSpace(rest[idx+2:])
				continue
			}
			return ""
		}
		return rest
	}
}
