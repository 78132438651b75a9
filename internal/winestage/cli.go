package winestage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// app carries flag values and the resolved configuration between cobra hooks.
type app struct {
	ctx     context.Context
	out     io.Writer
	in      io.Reader
	console *Console
	host    *Host

	configPath     string
	debug          bool
	verbose        bool
	assumeYes      bool
	nonInteractive bool
	sourceDir      string
	workDir        string

	version   string
	threads   int
	noWayland bool
	prefix    string

	settings *Settings
	prompter *Prompter
}

// load resolves configuration once per invocation. Flags win over env and files.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	set := func(flag, key, value string) {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			cfg.Set(key, value)
		}
	}
	set("debug", "WINESTAGE_DEBUG", strconv.FormatBool(a.debug))
	set("verbose", "WINESTAGE_VERBOSE", strconv.FormatBool(a.verbose))
	set("non-interactive", "WINESTAGE_NONINTERACTIVE", strconv.FormatBool(a.nonInteractive))
	set("source-dir", "WINESTAGE_SOURCE_DIR", a.sourceDir)
	set("workdir", "WINESTAGE_WORKDIR", a.workDir)
	set("version", "WINESTAGE_VERSION", a.version)
	set("threads", "WINESTAGE_THREADS", strconv.Itoa(a.threads))
	set("prefix", "WINESTAGE_INSTALL_PREFIX", a.prefix)
	if f := flags.Lookup("no-wayland"); f != nil && f.Changed && a.noWayland {
		cfg.Set("WINESTAGE_WAYLAND", "0")
	}
	if f := flags.Lookup("yes"); f != nil && f.Changed && a.assumeYes {
		cfg.Set("WINESTAGE_REUSE", string(ReuseAlways))
	}

	s, err := cfg.Settings(a.host)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.settings = s
	a.console = NewConsole(a.out, s.Debug)
	a.prompter = NewPrompter(a.in, a.console, a.assumeYes)
	return nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "winestage",
		Short:         "Fetch, patch and build Wine source releases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "read only this configuration file")
	pf.BoolVar(&a.debug, "debug", false, "debug output and debug symbols in the build")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "echo build output to the terminal")
	pf.BoolVarP(&a.assumeYes, "yes", "y", false, "answer yes to every question")
	pf.BoolVar(&a.nonInteractive, "non-interactive", false, "pick the newest version instead of asking")
	pf.StringVar(&a.sourceDir, "source-dir", "", "source tree location")
	pf.StringVar(&a.workDir, "workdir", "", "workspace root")

	root.AddCommand(
		newBuildCmd(a),
		newFetchCmd(a),
		newPatchesCmd(a),
		newDetectCmd(a),
		newLogsCmd(a),
		newHostCmd(a),
		newCleanCmd(a),
		&cobra.Command{
			Use:   "about",
			Short: "Print winestage build information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(a.out, "winestage %s (built %s)\n", version, buildDate)
			},
		},
	)
	return root
}

func newBuildCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Acquire, patch, configure, compile and install",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := AcquireRunLock(a.settings.WorkDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			b, err := NewBuilder(a.ctx, a.settings, a.console, a.prompter, a.host)
			if err != nil {
				return err
			}
			report, err := b.Build(a.ctx)
			if report != nil {
				printReport(a.console, report)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.version, "version", "", "version to build")
	f.IntVarP(&a.threads, "threads", "j", 0, "parallel compile jobs")
	f.BoolVar(&a.noWayland, "no-wayland", false, "build without the Wayland driver")
	f.StringVar(&a.prefix, "prefix", "", "install prefix")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <version>",
		Short: "Download and unpack a source release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := ParseVersion(args[0])
			if err != nil {
				return err
			}
			lock, err := AcquireRunLock(a.settings.WorkDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			acquirer, err := NewAcquirer(a.ctx, a.settings, a.console, a.prompter)
			if err != nil {
				return err
			}
			tree, err := Fetch(a.ctx, acquirer, a.settings, v)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tree.Path)
			return nil
		},
	}
}

func newPatchesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "Inspect the patch catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available patch sets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				catalog, err := LoadCatalog(a.settings.PatchDir, a.settings.Name)
				if err != nil {
					return err
				}
				if catalog.Empty() {
					a.console.Warn("No patch sets in %s", a.settings.PatchDir)
					return nil
				}
				for _, v := range catalog.Versions() {
					set, err := catalog.Lookup(v)
					if err != nil {
						return err
					}
					manifest := ""
					if set.Manifest != "" {
						manifest = ", manifest " + filepath.Base(set.Manifest)
					}
					fmt.Fprintf(a.out, "%-10s %3d patches%s\n", v, len(set.Patches), manifest)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <version>",
			Short: "Show the patch set a version resolves to and the files it touches",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := ParseVersion(args[0])
				if err != nil {
					return err
				}
				catalog, err := LoadCatalog(a.settings.PatchDir, a.settings.Name)
				if err != nil {
					return err
				}
				set, res, err := catalog.Resolve(v)
				if err != nil {
					return err
				}
				return showPatchSet(a.out, set, res, a.settings.PatchStrip)
			},
		},
	)
	return cmd
}

func showPatchSet(w io.Writer, set *PatchSet, res Resolution, strip int) error {
	fmt.Fprintf(w, "patch set %s (%s match), %s\n", set.Version, res, set.Dir)
	if digest, err := PatchSetDigest(set); err == nil {
		fmt.Fprintf(w, "digest %s\n", digest)
	}
	for i, p := range set.Patches {
		fmt.Fprintf(w, "%3d %s\n", i+1, filepath.Base(p))
		targets, err := PatchTargets(p, strip)
		if err != nil {
			fmt.Fprintf(w, "      (unreadable: %v)\n", err)
			continue
		}
		for _, t := range targets {
			mark := "M"
			switch {
			case t.Created:
				mark = "A"
			case t.Deleted:
				mark = "D"
			}
			fmt.Fprintf(w, "      %s %s (%d hunks)\n", mark, t.Path, t.Hunks)
		}
	}
	return nil
}

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect [dir]",
		Short: "Detect the version of a source tree and its patch set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.settings.SourceDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return errors.New("no source tree given, pass a directory or --source-dir")
			}
			r := &VersionResolver{Console: a.console}
			v, err := r.Detect(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "version %s\n", v)

			catalog, err := LoadCatalog(a.settings.PatchDir, a.settings.Name)
			if err != nil {
				return err
			}
			set, res, err := catalog.Resolve(v)
			if err != nil {
				a.console.Warn("%v", err)
				return nil
			}
			fmt.Fprintf(a.out, "patch set %s (%s match)\n", set.Version, res)
			return nil
		},
	}
}

func newLogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs [stage]",
		Short: "Show the last build report or a stage log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				stage, err := ParseStage(args[0])
				if err != nil {
					return err
				}
				p := &BuildPipeline{LogDir: a.settings.LogDir}
				lines, err := readLines(p.LogPath(stage))
				if err != nil {
					return fmt.Errorf("no %s log: %w", stage, err)
				}
				return RunPager(a.out, stage.String()+".log", lines)
			}
			report, err := ReadBuildReport(a.settings.LogDir)
			if err != nil {
				return fmt.Errorf("no build report in %s: %w", a.settings.LogDir, err)
			}
			printReport(a.console, report)
			return nil
		},
	}
}

func newHostCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Show host capabilities and missing build prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.out, "threads:   %d (using %d)\n", a.host.ThreadCount(), a.settings.Threads)
			fmt.Fprintf(a.out, "arch:      %s\n", a.host.MicroArch())
			fmt.Fprintf(a.out, "prefix:    %s\n", a.settings.InstallPrefix)
			pm, ok := a.host.PackageManager()
			if ok {
				fmt.Fprintf(a.out, "packages:  %s\n", pm.Name)
			} else {
				fmt.Fprintln(a.out, "packages:  unknown")
			}
			missing := a.host.MissingPrerequisites()
			if len(missing) == 0 {
				a.console.Step("All build prerequisites found")
				return nil
			}
			tools := make([]string, len(missing))
			for i, m := range missing {
				tools[i] = m.Tool
			}
			a.console.Warn("Missing: %s", strings.Join(tools, ", "))
			if ok {
				a.console.Note("%s", strings.Join(InstallCommand(pm, missing), " "))
			}
			return nil
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove downloaded source trees and logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := AcquireRunLock(a.settings.WorkDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			candidates := cleanCandidates(a.settings)
			if len(candidates) == 0 {
				a.console.Step("Nothing to clean")
				return nil
			}
			for i, c := range candidates {
				a.console.Note("%2d) %s (%s)", i+1, c, humanBytes(dirSize(c)))
			}
			picked, ok := a.prompter.AskForSelection("Remove which? [Y=all/n/1,2,-3]", len(candidates))
			if !ok {
				return nil
			}
			for _, i := range picked {
				if err := os.RemoveAll(candidates[i]); err != nil {
					return err
				}
				a.console.Step("Removed %s", candidates[i])
			}
			return nil
		},
	}
}

// cleanCandidates lists source trees and the log directory in the workspace.
func cleanCandidates(s *Settings) []string {
	var out []string
	matches, _ := filepath.Glob(filepath.Join(s.WorkDir, s.Name+"-*"))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			out = append(out, m)
		}
	}
	if s.SourceDir != "" && !slices.Contains(out, filepath.Clean(s.SourceDir)) {
		if info, err := os.Stat(s.SourceDir); err == nil && info.IsDir() {
			out = append(out, s.SourceDir)
		}
	}
	if info, err := os.Stat(s.LogDir); err == nil && info.IsDir() {
		out = append(out, s.LogDir)
	}
	return out
}

func printReport(c *Console, r *BuildReport) {
	c.Step("Run %s", r.RunID)
	c.Note("version:  %s (detected %s)", r.RequestedVersion, valueOr(r.DetectedVersion, "unknown"))
	if r.SourceDir != "" {
		c.Note("source:   %s", r.SourceDir)
	}
	switch {
	case r.Patches.Skipped != "":
		c.Note("patches:  skipped (%s)", r.Patches.Skipped)
	default:
		c.Note("patches:  set %s (%s), %d applied, %d failed", r.Patches.SetVersion, r.Patches.Resolution, r.Patches.Applied, r.Patches.Failed)
	}
	for _, s := range r.Stages {
		line := fmt.Sprintf("%-10s %s", s.Name, s.Status)
		if s.Status != StageNotRun {
			line += fmt.Sprintf(" in %s", s.Duration.Truncate(time.Second))
		}
		if s.Status == StageFailed {
			line += fmt.Sprintf(" (exit %d, %s)", s.ExitCode, s.LogPath)
		}
		c.Note("%s", line)
	}
	if r.Success {
		c.Step("Build succeeded")
	} else {
		c.Error("Build failed")
	}
}

// Main is the process entry point.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			colError.Printf("Received %v. Cancelling\n", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			colArrow.Print("\n-> ")
			colError.Println("Second interrupt received. Forcing exit.")
			os.Exit(130)
		case <-time.After(10 * time.Second):
			os.Exit(130)
		}
	}()

	a := &app{ctx: ctx, out: os.Stdout, in: os.Stdin, host: DetectHost()}
	err := newRootCmd(a).ExecuteContext(ctx)
	os.Exit(exitStatus(ctx, err, a.console))
}

// exitStatus maps the outcome to the process exit code.
func exitStatus(ctx context.Context, err error, c *Console) int {
	if ctx.Err() != nil {
		return 130
	}
	if err == nil {
		return 0
	}
	c.Error("%v", err)
	return 1
}
