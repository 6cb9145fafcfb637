// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package dispatch implements the call contract shared by every PL/TS
// function invocation: building the JSON argument payload and invocation
// context a script body runs against, and translating its result (or, when
// the scripting engine is unavailable, falling back to a best-effort
// passthrough) back into a value a SQL caller can consume.
package dispatch

import (
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"time"
)

// TypeOID names the well-known Postgres type OIDs the argument mapper
// recognizes; any other OID maps to JSON null.
type TypeOID uint32

const (
	OIDText  TypeOID = 25
	OIDInt4  TypeOID = 23
	OIDBool  TypeOID = 16
	OIDJSONB TypeOID = 3802
)

// Arg is one positional argument to a PL/TS function call: its declared
// Postgres type and the value itself (nil for SQL NULL).
type Arg struct {
	OID   TypeOID
	Value driver.Value
}

// ArgsPayload is the JSON object a script body sees as its call arguments:
// the same values addressable both positionally and by name.
type ArgsPayload struct {
	Positional []interface{}          `json:"positional"`
	Named      map[string]interface{} `json:"named"`
}

// BuildArgsPayload maps each argument to a JSON value per the fixed type
// map (text→string, int4→number, bool→boolean, jsonb→embedded JSON,
// anything else or SQL NULL→null), emitting both a positional array and a
// same-valued object keyed by decimal index.
func BuildArgsPayload(args []Arg) ArgsPayload {
	payload := ArgsPayload{
		Positional: make([]interface{}, 0, len(args)),
		Named:      make(map[string]interface{}, len(args)),
	}
	for i, arg := range args {
		value := datumToJSONValue(arg)
		payload.Positional = append(payload.Positional, value)
		payload.Named[strconv.Itoa(i)] = value
	}
	return payload
}

func datumToJSONValue(arg Arg) interface{} {
	if arg.Value == nil {
		return nil
	}
	switch arg.OID {
	case OIDText:
		if s, ok := arg.Value.(string); ok {
			return s
		}
		return nil
	case OIDInt4:
		switch v := arg.Value.(type) {
		case int64:
			return v
		case int32:
			return v
		case int:
			return v
		}
		return nil
	case OIDBool:
		if b, ok := arg.Value.(bool); ok {
			return b
		}
		return nil
	case OIDJSONB:
		var decoded interface{}
		switch v := arg.Value.(type) {
		case string:
			if json.Unmarshal([]byte(v), &decoded) == nil {
				return decoded
			}
		case []byte:
			if json.Unmarshal(v, &decoded) == nil {
				return decoded
			}
		}
		return nil
	default:
		return nil
	}
}

// IsSingleJSONBArgFunction reports whether a function's declared argument
// list is exactly one jsonb parameter — the shape that gets a verbatim
// passthrough fallback when the scripting engine is unavailable.
func IsSingleJSONBArgFunction(argOIDs []TypeOID) bool {
	return len(argOIDs) == 1 && argOIDs[0] == OIDJSONB
}

// DBContext describes the host database surface a script body is allowed
// to call into, populated once the handler kind is known (see
// internal/runtime's handler-kind discovery).
type DBContext struct {
	Mode string   `json:"mode"`
	API  []string `json:"api"`
}

// FnContext identifies the function being invoked.
type FnContext struct {
	OID    uint32 `json:"oid"`
	Name   string `json:"name"`
	Schema string `json:"schema"`
}

// InvocationContext is the single object a script body's entrypoint
// receives, carrying its arguments, the function's own identity, the host
// database surface, and the host's current transaction timestamp.
type InvocationContext struct {
	DB   DBContext   `json:"db"`
	Args ArgsPayload `json:"args"`
	Fn   FnContext   `json:"fn"`
	Now  string      `json:"now"`
}

// BuildInvocationContext assembles the context object passed into a script
// invocation. now is formatted as RFC 3339 text, matching the host's
// current transaction timestamp.
func BuildInvocationContext(fnOID uint32, schema, name, mode string, hostAPI []string, args ArgsPayload, now time.Time) InvocationContext {
	return InvocationContext{
		DB:   DBContext{Mode: mode, API: hostAPI},
		Args: args,
		Fn:   FnContext{OID: fnOID, Name: name, Schema: schema},
		Now:  now.Format(time.RFC3339),
	}
}

// EngineUnavailableFallback is the result produced when the scripting
// engine cannot be constructed for a call: a single-jsonb-argument
// function returns that argument verbatim; any other signature returns the
// args_payload itself as the result.
func EngineUnavailableFallback(argOIDs []TypeOID, args []Arg, payload ArgsPayload) (interface{}, error) {
	if IsSingleJSONBArgFunction(argOIDs) && len(args) == 1 {
		return datumToJSONValue(args[0]), nil
	}
	return payload, nil
}

// TranslateResult maps a script's raw return value to a SQL result: JS
// null/undefined (represented here as a Go nil) becomes SQL NULL; any other
// JSON-shaped value passes through unchanged for the caller to re-encode
// against the function's declared return type.
func TranslateResult(raw interface{}) interface{} {
	if raw == nil {
		return nil
	}
	return raw
}
