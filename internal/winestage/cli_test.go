package winestage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command against a config file rooted in a temp workspace.
func runCLI(t *testing.T, work string, args ...string) (string, error) {
	t.Helper()
	conf := filepath.Join(work, "winestage.conf")
	if _, err := os.Stat(conf); err != nil {
		writeFile(t, conf, "WINESTAGE_WORKDIR="+work+"\nWINESTAGE_INSTALL_PREFIX="+filepath.Join(work, "prefix")+"\n")
	}
	var out bytes.Buffer
	a := &app{ctx: context.Background(), out: &out, in: strings.NewReader(""), host: fakeHost()}
	root := newRootCmd(a)
	root.SetArgs(append([]string{"--config", conf}, args...))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIPatchesList(t *testing.T) {
	work := t.TempDir()
	makePatchSets(t, filepath.Join(work, "patches"), map[string][]string{
		"9.22": {"0001-a.patch"},
		"10.1": {"0001-a.patch", "0002-b.patch"},
	})

	out, err := runCLI(t, work, "patches", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "9.22"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "10.1"), lines[1])
	assert.Contains(t, lines[1], "2 patches")
}

func TestCLIDetect(t *testing.T) {
	work := t.TempDir()
	makePatchSets(t, filepath.Join(work, "patches"), map[string][]string{"10.0": {"0001-a.patch"}})
	tree := filepath.Join(work, "tree")
	writeFile(t, filepath.Join(tree, "VERSION"), "Wine version 10.0.2\n")

	out, err := runCLI(t, work, "detect", tree)
	require.NoError(t, err)
	assert.Contains(t, out, "version 10.0.2")
	assert.Contains(t, out, "patch set 10.0 (major.minor match)")
}

func TestCLIRejectsBadFlags(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "build", "--threads", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WINESTAGE_THREADS")

	_, err = runCLI(t, t.TempDir(), "fetch", "not-a-version")
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestShowPatchSet(t *testing.T) {
	dir := t.TempDir()
	patch := filepath.Join(dir, "wine-10.1", "0001-add.patch")
	writeFile(t, patch, `diff --git a/dlls/new.c b/dlls/new.c
new file mode 100644
--- /dev/null
+++ b/dlls/new.c
@@ -0,0 +1,1 @@
+int x;
`)
	set := &PatchSet{Version: MustParseVersion("10.1"), Dir: filepath.Dir(patch), Patches: []string{patch}}

	var out bytes.Buffer
	require.NoError(t, showPatchSet(&out, set, ResolvedExact, 1))
	assert.Contains(t, out.String(), "patch set 10.1 (exact match)")
	assert.Contains(t, out.String(), "A dlls/new.c (1 hunks)")
}

func TestCleanCandidates(t *testing.T) {
	work := t.TempDir()
	s := &Settings{Name: "wine", WorkDir: work, LogDir: filepath.Join(work, "logs")}
	require.NoError(t, os.MkdirAll(filepath.Join(work, "wine-10.1"), 0o755))
	require.NoError(t, os.MkdirAll(s.LogDir, 0o755))
	writeFile(t, filepath.Join(work, "wine-10.0.tar.xz"), "")
	s.SourceDir = filepath.Join(work, "wine-10.1")

	assert.Equal(t, []string{filepath.Join(work, "wine-10.1"), s.LogDir}, cleanCandidates(s))
}

func TestExitStatus(t *testing.T) {
	console, _ := quietConsole()
	assert.Equal(t, 0, exitStatus(context.Background(), nil, console))
	assert.Equal(t, 1, exitStatus(context.Background(), errors.New("boom"), console))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 130, exitStatus(ctx, context.Canceled, nil))
}
