package winestage

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
)

// SourceTree is a validated, normalized source directory.
type SourceTree struct {
	Path    string
	Version Version
	Reused  bool
}

// ArchivePublisher receives freshly downloaded archives, e.g. to seed a mirror.
type ArchivePublisher interface {
	Publish(ctx context.Context, file string) error
}

// SourceAcquirer makes sure a buildable tree exists at a target path.
type SourceAcquirer struct {
	FS          FileSystem
	Fetcher     Fetcher
	Extractor   Extractor
	Name        string
	URLTemplate string
	Reuse       ReusePolicy
	// Confirm asks a yes/no question; nil means yes.
	Confirm   func(question string) bool
	Publisher ArchivePublisher
	Console   *Console
}

// Ensure returns a valid tree for v at target, downloading only when the
// existing tree is missing, invalid or rejected.
func (a *SourceAcquirer) Ensure(ctx context.Context, v Version, target string) (*SourceTree, error) {
	target = filepath.Clean(target)

	if _, err := a.FS.Stat(target); err == nil {
		if IsValidTree(a.FS, target) {
			if a.shouldReuse(target, v) {
				a.Console.Step("Reusing source tree %s", target)
				return &SourceTree{Path: target, Version: v, Reused: true}, nil
			}
			a.Console.Step("Removing existing source tree %s", target)
		} else {
			a.Console.Warn("%s has no %s script, replacing it", target, EntryPoint)
		}
		if err := a.FS.RemoveAll(target); err != nil {
			return nil, acquisitionError("removing %s: %v", target, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, acquisitionError("checking %s: %v", target, err)
	}

	if err := a.acquire(ctx, v, target); err != nil {
		a.FS.RemoveAll(target)
		return nil, err
	}
	a.Console.Step("Source tree ready at %s", target)
	return &SourceTree{Path: target, Version: v}, nil
}

func (a *SourceAcquirer) shouldReuse(target string, v Version) bool {
	switch a.Reuse {
	case ReuseAlways:
		return true
	case ReuseNever:
		return false
	}
	if a.Confirm == nil {
		return true
	}
	return a.Confirm("A valid " + a.Name + " " + v.String() + " tree exists at " + target + ". Reuse it?")
}

func (a *SourceAcquirer) acquire(ctx context.Context, v Version, target string) error {
	parent := filepath.Dir(target)
	if err := a.FS.MkdirAll(parent, 0o755); err != nil {
		return acquisitionError("creating %s: %v", parent, err)
	}

	// Same parent as target so the final move is a plain rename.
	tmp, err := a.FS.MkdirTemp(parent, ".winestage-fetch-")
	if err != nil {
		return acquisitionError("creating workspace: %v", err)
	}
	defer a.FS.RemoveAll(tmp)

	url := SourceURL(a.URLTemplate, a.Name, v)
	archive := filepath.Join(tmp, ArchiveName(url))
	a.Console.Step("Fetching %s", url)
	if err := a.Fetcher.Fetch(ctx, url, archive); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return acquisitionError("fetching %s: %v", url, err)
	}

	if a.Publisher != nil {
		if err := a.Publisher.Publish(ctx, archive); err != nil {
			a.Console.Warn("Could not publish %s to mirror: %v", filepath.Base(archive), err)
		}
	}

	extractDir := filepath.Join(tmp, "src")
	if err := a.FS.MkdirAll(extractDir, 0o755); err != nil {
		return acquisitionError("creating %s: %v", extractDir, err)
	}
	a.Console.Step("Extracting %s", filepath.Base(archive))
	if err := a.Extractor.Extract(ctx, archive, extractDir); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return acquisitionError("extracting %s: %v", filepath.Base(archive), err)
	}

	extracted, err := a.locateExtracted(extractDir, a.Name+"-"+v.String())
	if err != nil {
		return err
	}
	return Normalize(a.FS, extracted, target)
}

// locateExtracted prefers the conventional <name>-<version> directory, then a
// sole top-level directory, then the extraction root itself.
func (a *SourceAcquirer) locateExtracted(dir, expected string) (string, error) {
	conventional := filepath.Join(dir, expected)
	if info, err := a.FS.Stat(conventional); err == nil && info.IsDir() {
		return conventional, nil
	}

	entries, err := a.FS.ReadDir(dir)
	if err != nil {
		return "", acquisitionError("reading %s: %v", dir, err)
	}
	if len(entries) == 0 {
		return "", acquisitionError("archive was empty")
	}
	if len(entries) == 1 && entries[0].IsDir() {
		a.Console.Debugf("archive top-level directory is %s, expected %s\n", entries[0].Name(), expected)
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
