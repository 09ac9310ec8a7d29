// Package tuitest holds golden-file helpers for view tests
package tuitest

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var update = flag.Bool("update", false, "update snapshot files")

var ansi = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Path returns the snapshot file of the running test
func Path(t *testing.T) string {
	return filepath.Join("testdata", strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_"))+".snap")
}

// AssertSnapshot compares output, stripped of escape sequences, with the
// test's snapshot. A missing snapshot is recorded on first run.
func AssertSnapshot(t *testing.T, output string) {
	t.Helper()

	output = Strip(output)
	snapshotPath := Path(t)

	snapshot, err := os.ReadFile(snapshotPath)
	if *update || os.IsNotExist(err) {
		require.NoError(t, os.MkdirAll(filepath.Dir(snapshotPath), 0755))
		require.NoError(t, os.WriteFile(snapshotPath, []byte(output), 0644))
		t.Logf("recorded snapshot: %s", snapshotPath)
		return
	}
	require.NoError(t, err)

	require.Equal(t, string(snapshot), output, "snapshot does not match. run with -update to update it.")
}

// Strip removes terminal escape sequences from s
func Strip(s string) string {
	return ansi.ReplaceAllString(s, "")
}
