// SPDX-License-Identifier: AGPL-3.0-or-later

/*

stopgap - stopgap is a PostgreSQL procedural language and release controller
for compiling, storing, and executing versioned database-resident functions.

Copyright (C) 2025  Bartek Kus

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import "fmt"

// Exit codes ported from stopgap-cli/src/lib.rs's EXIT_* constants.
const (
	ExitDBConnect      = 10
	ExitDBQuery        = 11
	ExitResponseDecode = 12
	ExitOutputFormat   = 13
)

// CLIError carries the exit code a failed command should report alongside
// the underlying error, ports stopgap-cli's AppError::code.
type CLIError struct {
	Code int
	Err  error
}

func (e *CLIError) Error() string {
	return e.Err.Error()
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit code a CLIError carries, or ExitDBQuery for any
// other error (matching stopgap-cli's practice of mapping every non-connect
// database failure to EXIT_DB_QUERY by default).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cliErr *CLIError
	if asCLIError(err, &cliErr) {
		return cliErr.Code
	}
	return ExitDBQuery
}

func asCLIError(err error, target **CLIError) bool {
	for err != nil {
		if cliErr, ok := err.(*CLIError); ok {
			*target = cliErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func dbConnectErr(err error) error {
	return &CLIError{Code: ExitDBConnect, Err: fmt.Errorf("database connection failed: %w", err)}
}

func dbQueryErr(err error) error {
	return &CLIError{Code: ExitDBQuery, Err: fmt.Errorf("database command failed: %w", err)}
}

func decodeErr(err error) error {
	return &CLIError{Code: ExitResponseDecode, Err: fmt.Errorf("invalid database response: %w", err)}
}

func outputErr(err error) error {
	return &CLIError{Code: ExitOutputFormat, Err: fmt.Errorf("failed to print output: %w", err)}
}
