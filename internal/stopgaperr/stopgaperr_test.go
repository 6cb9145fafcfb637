// SPDX-License-Identifier: AGPL-3.0-or-later

package stopgaperr

import (
	"fmt"
	"testing"
)

func TestClass_MatchesTypedErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"permission", &PermissionError{Operation: "deploy", Detail: "not a member"}, "permission"},
		{"validation", &ValidationError{Message: "deployment id 5 does not exist"}, "validation"},
		{"state", &DeploymentStateError{Message: "no active deployment"}, "state"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class, ok := Class(tc.err)
			if !ok {
				t.Fatalf("expected Class to recognize %T", tc.err)
			}
			if class != tc.want {
				t.Fatalf("Class(%T) = %q, want %q", tc.err, class, tc.want)
			}
		})
	}
}

func TestClass_MatchesWrappedTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("deploy failed: %w", &PermissionError{Operation: "deploy", Detail: "nope"})
	class, ok := Class(wrapped)
	if !ok || class != "permission" {
		t.Fatalf("Class(wrapped) = %q, %v, want \"permission\", true", class, ok)
	}
}

func TestClass_FallsBackForUntypedErrors(t *testing.T) {
	if _, ok := Class(fmt.Errorf("some plain sql error")); ok {
		t.Fatalf("expected Class to report ok=false for an untyped error")
	}
}
