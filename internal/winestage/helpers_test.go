package winestage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// quietConsole captures operator output.
func quietConsole() (*Console, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewConsole(&buf, false), &buf
}

// makePatchSets creates <root>/wine-<v>/ directories holding the given files.
func makePatchSets(t *testing.T, root string, sets map[string][]string) {
	t.Helper()
	for v, files := range sets {
		dir := filepath.Join(root, "wine-"+v)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for _, f := range files {
			writeFile(t, filepath.Join(dir, f), "--- a/"+f+"\n+++ b/"+f+"\n")
		}
	}
}
