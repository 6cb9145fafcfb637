// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package runtime hosts the goja-backed isolate lifecycle a compiled PL/TS
// function body executes under: construction, interrupt guarding, surface
// lockdown, module resolution, entrypoint invocation, and error mapping.
package runtime

import "strings"

// ExecError is the error a failed isolate execution returns: which stage
// failed, a message, and an optional JS stack trace.
type ExecError struct {
	Stage   string
	Message string
	Stack   string
}

// NewExecError builds an ExecError with no stack trace.
func NewExecError(stage, message string) *ExecError {
	return &ExecError{Stage: stage, Message: message}
}

// NewExecErrorWithStack builds an ExecError carrying a JS stack trace.
func NewExecErrorWithStack(stage, message, stack string) *ExecError {
	return &ExecError{Stage: stage, Message: message, Stack: stack}
}

func (e *ExecError) Error() string {
	var b strings.Builder
	b.WriteString("stage=")
	b.WriteString(e.Stage)
	b.WriteString("; message=")
	b.WriteString(e.Message)
	if e.Stack != "" {
		b.WriteString("; stack=")
		b.WriteString(e.Stack)
	}
	return b.String()
}

// FormatForSQL renders a failed execution as the text surfaced to the SQL
// caller, identifying the function that failed alongside the error detail.
func FormatForSQL(schema, name string, oid uint32, err *ExecError) string {
	return "plts runtime error for " + schema + "." + name + " (oid=" + uitoa(oid) + "): " + err.Error() +
		"; sql_context={schema=" + schema + ", name=" + name + ", oid=" + uitoa(oid) + "}"
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ParseJSErrorDetails splits a JS engine's error string into its first-line
// message and an optional remaining stack trace.
func ParseJSErrorDetails(details string) (string, string) {
	trimmed := strings.TrimSpace(details)
	first, rest, found := strings.Cut(trimmed, "\n")
	if !found {
		return trimmed, ""
	}
	message := strings.TrimSpace(first)
	stack := strings.TrimSpace(rest)
	return message, stack
}
