package winestage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Stage is one step of the build.
type Stage int

const (
	StageConfigure Stage = iota
	StageCompile
	StageInstall
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageConfigure, StageCompile, StageInstall}

func (s Stage) String() string {
	switch s {
	case StageConfigure:
		return "configure"
	case StageCompile:
		return "compile"
	case StageInstall:
		return "install"
	}
	return "unknown"
}

// ParseStage maps a stage name back to its Stage.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if s.String() == strings.ToLower(name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q (configure, compile, install)", name)
}

// StageStatus is the terminal state of a stage in one run.
type StageStatus int

const (
	StageNotRun StageStatus = iota
	StageSucceeded
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageSucceeded:
		return "success"
	case StageFailed:
		return "failed"
	}
	return "not-run"
}

func (s StageStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *StageStatus) UnmarshalText(b []byte) error {
	for _, v := range []StageStatus{StageNotRun, StageSucceeded, StageFailed} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown stage status %q", b)
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage    Stage         `yaml:"-"`
	Name     string        `yaml:"stage"`
	Status   StageStatus   `yaml:"status"`
	ExitCode int           `yaml:"exit_code"`
	Duration time.Duration `yaml:"duration"`
	LogPath  string        `yaml:"log,omitempty"`
	Summary  []string      `yaml:"summary,omitempty"`
}

// BuildOptions are the inputs of one pipeline run.
type BuildOptions struct {
	SourceDir      string
	InstallPrefix  string
	Threads        int
	Debug          bool
	Verbose        bool
	Win64          bool
	Features       map[string]bool
	ConfigureFlags []string
}

// BuildPipeline runs configure, compile and install strictly in order.
type BuildPipeline struct {
	Runner CommandRunner
	// InstallRunner runs the install stage; nil means Runner.
	InstallRunner CommandRunner
	LogDir        string
	Console       *Console
	// SummaryLines bounds the diagnostic excerpt kept per stage.
	SummaryLines int
}

// debugFlags are the symbol generation flags added in debug builds.
const debugFlags = "-g -O1 -fno-omit-frame-pointer"

// ConfigureArgs builds the configure invocation arguments.
func ConfigureArgs(opts BuildOptions) []string {
	args := []string{"--prefix=" + opts.InstallPrefix}
	if opts.Win64 {
		args = append(args, "--enable-win64")
	}
	if enabled, ok := opts.Features["wayland"]; ok && !enabled {
		args = append(args, "--without-wayland")
	}
	return append(args, opts.ConfigureFlags...)
}

// stageEnv is the extra environment for a stage.
func stageEnv(opts BuildOptions) []string {
	if !opts.Debug {
		return nil
	}
	return []string{
		"CFLAGS=" + debugFlags,
		"CXXFLAGS=" + debugFlags,
		"CROSSCFLAGS=" + debugFlags,
	}
}

func (p *BuildPipeline) command(ctx context.Context, stage Stage, opts BuildOptions) *exec.Cmd {
	var cmd *exec.Cmd
	switch stage {
	case StageConfigure:
		cmd = exec.CommandContext(ctx, "./"+EntryPoint, ConfigureArgs(opts)...)
	case StageCompile:
		cmd = exec.CommandContext(ctx, "make", "-j"+strconv.Itoa(max(opts.Threads, 1)))
	case StageInstall:
		cmd = exec.CommandContext(ctx, "make", "install")
	}
	cmd.Dir = opts.SourceDir
	if extra := stageEnv(opts); len(extra) > 0 {
		cmd.Env = append(os.Environ(), extra...)
	}
	return cmd
}

// LogPath is where a stage's full output is kept.
func (p *BuildPipeline) LogPath(stage Stage) string {
	return filepath.Join(p.LogDir, stage.String()+".log")
}

// ClearLogs removes the stage logs of an earlier run so that only logs
// written by the current run are ever read back or archived.
func (p *BuildPipeline) ClearLogs() error {
	var errs []error
	for _, s := range Stages {
		if err := os.Remove(p.LogPath(s)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run executes the stages. The returned results always cover every stage;
// stages after a failure are StageNotRun. A failed stage yields a *StageError.
func (p *BuildPipeline) Run(ctx context.Context, opts BuildOptions) ([]StageResult, error) {
	results := make([]StageResult, len(Stages))
	for i, s := range Stages {
		results[i] = StageResult{Stage: s, Name: s.String()}
	}
	if err := os.MkdirAll(p.LogDir, 0o755); err != nil {
		return results, fmt.Errorf("failed to create log dir %s: %w", p.LogDir, err)
	}
	if err := p.ClearLogs(); err != nil {
		return results, fmt.Errorf("failed to clear old logs: %w", err)
	}

	for i, stage := range Stages {
		res, err := p.runStage(ctx, stage, opts)
		results[i] = res
		if err != nil {
			p.Console.Error("%s failed, log: %s", stage, res.LogPath)
			for _, line := range res.Summary {
				p.Console.Note("%s", line)
			}
			return results, err
		}
		p.Console.Step("%s finished in %s", stage, res.Duration.Truncate(time.Second))
	}
	return results, nil
}

func (p *BuildPipeline) runStage(ctx context.Context, stage Stage, opts BuildOptions) (StageResult, error) {
	res := StageResult{Stage: stage, Name: stage.String(), LogPath: p.LogPath(stage)}

	logFile, err := os.Create(res.LogPath)
	if err != nil {
		res.Status = StageFailed
		res.ExitCode = -1
		return res, &StageError{Stage: stage, ExitCode: -1, LogPath: res.LogPath, Err: err}
	}
	defer logFile.Close()

	cmd := p.command(ctx, stage, opts)
	fmt.Fprintf(logFile, "# %s: %s (in %s)\n", stage, strings.Join(cmd.Args, " "), cmd.Dir)

	var out io.Writer = logFile
	if opts.Verbose {
		out = io.MultiWriter(p.Console.writer(), logFile)
	}
	cmd.Stdin = strings.NewReader("")
	cmd.Stdout = out
	cmd.Stderr = out

	runner := p.Runner
	if stage == StageInstall && p.InstallRunner != nil {
		runner = p.InstallRunner
	}

	p.Console.Step("Running %s", stage)
	start := time.Now()
	stop := p.startTicker(stage, start, opts.Verbose)
	runErr := runner.Run(cmd)
	stop()
	res.Duration = time.Since(start)
	logFile.Sync()

	if runErr == nil {
		res.Status = StageSucceeded
		if stage == StageCompile {
			// warnings stay in the log, only the tail of real output is surfaced
			res.Summary = p.summarize(res.LogPath)
		}
		return res, nil
	}

	res.Status = StageFailed
	res.ExitCode = exitCode(runErr)
	fmt.Fprintf(logFile, "# %s exited with %d: %v\n", stage, res.ExitCode, runErr)
	res.Summary = p.summarize(res.LogPath)
	return res, &StageError{Stage: stage, ExitCode: res.ExitCode, LogPath: res.LogPath, Err: runErr}
}

func (p *BuildPipeline) summarize(path string) []string {
	n := p.SummaryLines
	if n <= 0 {
		n = 15
	}
	lines, err := SummarizeLog(path, n)
	if err != nil {
		p.Console.Debugf("summarizing %s: %v\n", path, err)
	}
	return lines
}

// startTicker prints elapsed time on a terminal while a quiet stage runs.
func (p *BuildPipeline) startTicker(stage Stage, start time.Time, verbose bool) func() {
	w := p.Console.writer()
	if verbose || !isTerminal(w) {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				elapsed := time.Since(start).Truncate(time.Second)
				fmt.Fprintf(w, "%s%s\r", colArrow.Sprint("-> "), colSuccess.Sprintf("%s elapsed: %s", stage, elapsed))
			case <-done:
				fmt.Fprint(w, "\r\x1b[K")
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// exitCode extracts the process exit status, or -1 when the command never ran.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
