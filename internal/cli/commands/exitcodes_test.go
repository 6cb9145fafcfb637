// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode_MapsKnownCLIErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"connect", dbConnectErr(errors.New("refused")), ExitDBConnect},
		{"query", dbQueryErr(errors.New("syntax error")), ExitDBQuery},
		{"decode", decodeErr(errors.New("bad json")), ExitResponseDecode},
		{"output", outputErr(errors.New("broken pipe")), ExitOutputFormat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestExitCode_DefaultsUnclassifiedErrorsToDBQuery(t *testing.T) {
	if got := ExitCode(errors.New("anything else")); got != ExitDBQuery {
		t.Fatalf("ExitCode(plain error) = %d, want %d", got, ExitDBQuery)
	}
}

func TestExitCode_NilIsZero(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("ExitCode(nil) = %d, want 0", got)
	}
}

func TestExitCode_FollowsWrappedCLIError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", dbConnectErr(errors.New("timeout")))
	if got := ExitCode(wrapped); got != ExitDBConnect {
		t.Fatalf("ExitCode(wrapped) = %d, want %d", got, ExitDBConnect)
	}
}
