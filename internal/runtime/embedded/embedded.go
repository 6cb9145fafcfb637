// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package embedded carries the "@stopgap/runtime" helper module's JS source,
// built into the binary so it never needs to be fetched or compiled from the
// database at call time.
package embedded

import _ "embed"

//go:embed runtime.js
var RuntimeSource string

// BareSpecifier is the import path a PL/TS function body uses to pull in
// the query/mutation factories, e.g. `import { query } from "@stopgap/runtime"`.
const BareSpecifier = "@stopgap/runtime"
