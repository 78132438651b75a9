package winestage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitStatusError int

func (e exitStatusError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitStatusError) ExitCode() int { return int(e) }

// scriptedRunner writes canned output per command and fails the ones listed.
type scriptedRunner struct {
	output map[string]string
	fail   map[string]int
	ran    []*exec.Cmd
}

func (r *scriptedRunner) Run(cmd *exec.Cmd) error {
	r.ran = append(r.ran, cmd)
	key := filepath.Base(cmd.Args[0])
	if key == "make" && len(cmd.Args) > 1 && cmd.Args[1] == "install" {
		key = "install"
	}
	if out, ok := r.output[key]; ok {
		fmt.Fprint(cmd.Stdout, out)
	}
	if code, ok := r.fail[key]; ok {
		return exitStatusError(code)
	}
	return nil
}

func newTestPipeline(t *testing.T, r CommandRunner) *BuildPipeline {
	console, _ := quietConsole()
	return &BuildPipeline{Runner: r, LogDir: filepath.Join(t.TempDir(), "logs"), Console: console}
}

func testOptions(t *testing.T) BuildOptions {
	return BuildOptions{SourceDir: t.TempDir(), InstallPrefix: "/opt/wine-test", Threads: 4}
}

func TestPipelineRunsAllStages(t *testing.T) {
	r := &scriptedRunner{output: map[string]string{"configure": "checking for gcc... gcc\n"}}
	p := newTestPipeline(t, r)
	opts := testOptions(t)

	results, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, Stages[i], res.Stage)
		assert.Equal(t, StageSucceeded, res.Status)
		assert.FileExists(t, res.LogPath)
	}

	require.Len(t, r.ran, 3)
	assert.Equal(t, []string{"./configure", "--prefix=/opt/wine-test"}, r.ran[0].Args)
	assert.Equal(t, []string{"make", "-j4"}, r.ran[1].Args)
	assert.Equal(t, []string{"make", "install"}, r.ran[2].Args)
	for _, cmd := range r.ran {
		assert.Equal(t, opts.SourceDir, cmd.Dir)
	}

	log, err := os.ReadFile(p.LogPath(StageConfigure))
	require.NoError(t, err)
	assert.Contains(t, string(log), "checking for gcc... gcc")
}

func TestPipelineConfigureFailureShortCircuits(t *testing.T) {
	r := &scriptedRunner{
		output: map[string]string{"configure": "configure: error: no suitable flex found\n"},
		fail:   map[string]int{"configure": 1},
	}
	p := newTestPipeline(t, r)

	results, err := p.Run(context.Background(), testOptions(t))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageConfigure, stageErr.Stage)
	assert.Equal(t, 1, stageErr.ExitCode)

	assert.Len(t, r.ran, 1)
	assert.Equal(t, StageFailed, results[0].Status)
	assert.Equal(t, StageNotRun, results[1].Status)
	assert.Equal(t, StageNotRun, results[2].Status)
	assert.Contains(t, results[0].Summary, "configure: error: no suitable flex found")
	assert.NoFileExists(t, p.LogPath(StageCompile))
}

func TestPipelineCompileFailureKeepsLog(t *testing.T) {
	r := &scriptedRunner{
		output: map[string]string{"make": strings.Join([]string{
			"gcc -c -o dlls/ntdll/loader.o dlls/ntdll/loader.c",
			"dlls/ntdll/loader.c: In function 'load_dll':",
			"dlls/ntdll/loader.c:120:5: warning: unused variable 'x' [-Wunused-variable]",
			"  120 |     int x;",
			"      |         ^",
			"dlls/ntdll/loader.c:200:1: error: expected ';' before '}' token",
			"make[1]: *** [Makefile:500: dlls/ntdll/loader.o] Error 1",
		}, "\n") + "\n"},
		fail: map[string]int{"make": 2},
	}
	p := newTestPipeline(t, r)

	results, err := p.Run(context.Background(), testOptions(t))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageCompile, stageErr.Stage)
	assert.Equal(t, 2, stageErr.ExitCode)
	assert.Equal(t, p.LogPath(StageCompile), stageErr.LogPath)

	assert.Equal(t, StageSucceeded, results[0].Status)
	assert.Equal(t, StageFailed, results[1].Status)
	assert.Equal(t, StageNotRun, results[2].Status)
	assert.Equal(t, 2, results[1].ExitCode)

	log, err := os.ReadFile(stageErr.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(log), "warning: unused variable")

	assert.Equal(t, []string{
		"dlls/ntdll/loader.c:200:1: error: expected ';' before '}' token",
		"make[1]: *** [Makefile:500: dlls/ntdll/loader.o] Error 1",
	}, results[1].Summary)
}

func TestPipelineInstallRunner(t *testing.T) {
	build := &scriptedRunner{}
	install := &scriptedRunner{}
	p := newTestPipeline(t, build)
	p.InstallRunner = install

	_, err := p.Run(context.Background(), testOptions(t))
	require.NoError(t, err)
	assert.Len(t, build.ran, 2)
	require.Len(t, install.ran, 1)
	assert.Equal(t, []string{"make", "install"}, install.ran[0].Args)
}

func TestPipelineDebugEnvironment(t *testing.T) {
	r := &scriptedRunner{}
	p := newTestPipeline(t, r)
	opts := testOptions(t)
	opts.Debug = true

	_, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	for _, cmd := range r.ran {
		assert.Contains(t, cmd.Env, "CFLAGS="+debugFlags)
		assert.Contains(t, cmd.Env, "CROSSCFLAGS="+debugFlags)
	}

	r = &scriptedRunner{}
	p = newTestPipeline(t, r)
	_, err = p.Run(context.Background(), testOptions(t))
	require.NoError(t, err)
	assert.Nil(t, r.ran[0].Env)
}

func TestConfigureArgs(t *testing.T) {
	opts := BuildOptions{
		InstallPrefix:  "/usr/local",
		Win64:          true,
		Features:       map[string]bool{"wayland": false},
		ConfigureFlags: []string{"--with-vulkan"},
	}
	assert.Equal(t, []string{"--prefix=/usr/local", "--enable-win64", "--without-wayland", "--with-vulkan"}, ConfigureArgs(opts))

	opts.Features["wayland"] = true
	opts.Win64 = false
	assert.Equal(t, []string{"--prefix=/usr/local", "--with-vulkan"}, ConfigureArgs(opts))
}

func TestStageNames(t *testing.T) {
	for _, s := range Stages {
		got, err := ParseStage(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStage("package")
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(exitStatusError(3)))
	assert.Equal(t, 3, exitCode(fmt.Errorf("wrapped: %w", exitStatusError(3))))
	assert.Equal(t, -1, exitCode(exec.ErrNotFound))
}

func TestPipelineDropsLogsOfEarlierRun(t *testing.T) {
	p := newTestPipeline(t, &scriptedRunner{})
	opts := testOptions(t)
	_, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	require.FileExists(t, p.LogPath(StageCompile))

	p.Runner = &scriptedRunner{fail: map[string]int{"configure": 1}}
	_, err = p.Run(context.Background(), opts)
	require.Error(t, err)
	assert.FileExists(t, p.LogPath(StageConfigure))
	assert.NoFileExists(t, p.LogPath(StageCompile))
	assert.NoFileExists(t, p.LogPath(StageInstall))
}
