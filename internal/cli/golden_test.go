// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// updateGolden is a flag to update golden files during development.
// Usage: go test -update ./internal/cli
var updateGolden = flag.Bool("update", false, "update golden files")

func readGoldenFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name+".golden")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}
	return string(data)
}

func writeGoldenFile(t *testing.T, name string, content string) {
	t.Helper()
	dir := filepath.Join("testdata")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create testdata directory: %v", err)
	}
	path := filepath.Join(dir, name+".golden")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write golden file %s: %v", path, err)
	}
}

func executeCommandForGolden(args ...string) (string, error) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand_Golden(t *testing.T) {
	output, err := executeCommandForGolden("version")
	if err != nil {
		t.Fatalf("failed to execute command: %v", err)
	}

	goldenName := "stopgap_version"
	if *updateGolden {
		writeGoldenFile(t, goldenName, output)
	}

	expected := readGoldenFile(t, goldenName)
	assert.Equal(t, expected, output, "version output does not match golden file")
}
