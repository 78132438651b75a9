package winestage

import (
	"context"
	"errors"
	"fmt"
)

// PrerequisiteChecker is the slice of the host the build consumes.
type PrerequisiteChecker interface {
	PrerequisitesSatisfied() bool
}

// Builder runs one complete build: resolve, acquire, patch, build.
type Builder struct {
	Settings *Settings
	Console  *Console
	Catalog  *PatchCatalog
	Resolver *VersionResolver
	Acquirer *SourceAcquirer
	Applier  *PatchApplier
	Pipeline *BuildPipeline
	Host     PrerequisiteChecker
}

// NewBuilder wires the production components from settings.
func NewBuilder(ctx context.Context, s *Settings, console *Console, prompter *Prompter, host *Host) (*Builder, error) {
	catalog, err := LoadCatalog(s.PatchDir, s.Name)
	if err != nil {
		return nil, err
	}

	executor := NewExecutor(ctx, console)
	acquirer, err := NewAcquirer(ctx, s, console, prompter)
	if err != nil {
		return nil, err
	}

	return &Builder{
		Settings: s,
		Console:  console,
		Catalog:  catalog,
		Resolver: &VersionResolver{
			Override: s.VersionOverride,
			Selector: NewSelector(s.NonInteractive, prompter),
			Console:  console,
		},
		Acquirer: acquirer,
		Applier: &PatchApplier{
			Patcher: NewGNUPatch(executor, s.PatchStrip),
			Fuzz:    s.PatchFuzz,
			Console: console,
		},
		Pipeline: &BuildPipeline{
			Runner:        executor,
			InstallRunner: installRunner(executor, s.InstallPrefix),
			LogDir:        s.LogDir,
			Console:       console,
		},
		Host: host,
	}, nil
}

// NewAcquirer wires the fetch chain and extractor. The mirror comes first when configured.
func NewAcquirer(ctx context.Context, s *Settings, console *Console, prompter *Prompter) (*SourceAcquirer, error) {
	chain := &ChainFetcher{Console: console}
	var publisher ArchivePublisher
	if s.Mirror.Enabled() {
		mirror, err := NewS3Fetcher(ctx, s.Mirror, console)
		if err != nil {
			return nil, err
		}
		chain.Fetchers = append(chain.Fetchers, mirror)
		if s.Mirror.Publish {
			publisher = mirror
		}
	}
	chain.Fetchers = append(chain.Fetchers, NewHTTPFetcher(console, false))

	a := &SourceAcquirer{
		FS:          OSFileSystem{},
		Fetcher:     chain,
		Extractor:   NewArchiveExtractor(console),
		Name:        s.Name,
		URLTemplate: s.SourceURL,
		Reuse:       s.Reuse,
		Publisher:   publisher,
		Console:     console,
	}
	if prompter != nil {
		a.Confirm = prompter.Confirm
	}
	return a, nil
}

func notRun() []StageResult {
	out := make([]StageResult, len(Stages))
	for i, s := range Stages {
		out[i] = StageResult{Stage: s, Name: s.String()}
	}
	return out
}

// Build executes the run. The report is returned whenever the run got as far
// as choosing a version, including on failure.
func (b *Builder) Build(ctx context.Context) (*BuildReport, error) {
	requested, err := b.Resolver.Requested(ctx, b.Catalog.Versions())
	if err != nil {
		return nil, err
	}
	b.Console.Step("Building %s %s", b.Settings.Name, requested)

	report := NewBuildReport(requested)
	report.InstallPrefix = b.Settings.InstallPrefix
	report.Threads = b.Settings.Threads

	finish := func(stages []StageResult, err error) (*BuildReport, error) {
		report.Finish(stages, err)
		if len(stages) == 0 || stages[0].Status == StageNotRun {
			if cerr := b.Pipeline.ClearLogs(); cerr != nil {
				b.Console.Debugf("clearing old logs: %v\n", cerr)
			}
		}
		if path, werr := report.Write(b.Settings.LogDir); werr != nil {
			b.Console.Warn("Could not write report: %v", werr)
		} else {
			b.Console.Debugf("report written to %s\n", path)
		}
		if b.Settings.KeepRuns > 0 {
			if _, aerr := ArchiveRunLogs(b.Settings.LogDir, report.RunID); aerr != nil {
				b.Console.Warn("Could not archive logs: %v", aerr)
			} else if perr := PruneHistory(b.Settings.LogDir, b.Settings.KeepRuns); perr != nil {
				b.Console.Debugf("pruning log history: %v\n", perr)
			}
		}
		return report, err
	}

	tree, err := b.Acquirer.Ensure(ctx, requested, b.Settings.SourceDirFor(requested))
	if err != nil {
		return finish(notRun(), err)
	}
	report.SourceDir = tree.Path
	report.SourceReused = tree.Reused

	report.Patches = b.patch(ctx, tree, report)
	if ctx.Err() != nil {
		return finish(notRun(), ctx.Err())
	}

	if b.Host != nil && !b.Host.PrerequisitesSatisfied() {
		b.Console.Warn("Some build prerequisites are missing, see 'winestage host'")
	}

	stages, err := b.Pipeline.Run(ctx, BuildOptions{
		SourceDir:      tree.Path,
		InstallPrefix:  b.Settings.InstallPrefix,
		Threads:        b.Settings.Threads,
		Debug:          b.Settings.Debug,
		Verbose:        b.Settings.Verbose,
		Win64:          b.Settings.Win64,
		Features:       b.Settings.Features,
		ConfigureFlags: b.Settings.ConfigureFlags,
	})
	report, err = finish(stages, err)
	if err == nil {
		b.Console.Step("%s %s installed to %s", b.Settings.Name, requested, b.Settings.InstallPrefix)
	}
	return report, err
}

// patch applies the matching set to tree. Every problem here is a warning.
func (b *Builder) patch(ctx context.Context, tree *SourceTree, report *BuildReport) PatchReport {
	detected, err := b.Resolver.Detect(tree.Path)
	if err != nil {
		b.Console.Warn("Cannot detect the tree version, building unpatched: %v", err)
		return PatchReport{Skipped: "version undetectable"}
	}
	report.DetectedVersion = detected.String()
	if detected.String() != tree.Version.String() {
		b.Console.Warn("Tree reports version %s, requested %s", detected, tree.Version)
	}

	set, resolution, err := b.Catalog.Resolve(detected)
	switch {
	case errors.Is(err, ErrNoPatchSets):
		b.Console.Warn("No patch sets found in %s, building unpatched", b.Catalog.Root)
		return PatchReport{Skipped: "no patch sets"}
	case err != nil:
		b.Console.Warn("Patch set lookup failed, building unpatched: %v", err)
		return PatchReport{Skipped: "patch set not found"}
	}
	if resolution == ResolvedFallback {
		b.Console.Warn("No patch set matches %s, using %s; patches may not fit this tree", detected, set.Version)
	} else {
		b.Console.Step("Using patch set %s (%s match)", set.Version, resolution)
	}

	pr := b.Applier.Apply(ctx, tree.Path, set)
	pr.Resolution = resolution.String()
	if digest, err := PatchSetDigest(set); err == nil {
		pr.Digest = digest
	} else {
		b.Console.Debugf("digest: %v\n", err)
	}
	return pr
}

// Fetch acquires the tree for v without patching or building.
func Fetch(ctx context.Context, acquirer *SourceAcquirer, s *Settings, v Version) (*SourceTree, error) {
	tree, err := acquirer.Ensure(ctx, v, s.SourceDirFor(v))
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", s.Name, v, err)
	}
	return tree, nil
}
