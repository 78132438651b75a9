package winestage

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// PatchSet is an ordered list of patch files for one version key.
type PatchSet struct {
	Version  Version
	Dir      string
	Patches  []string // absolute paths, lexical order by file name
	Manifest string   // checksum manifest path, empty if absent
}

// Names returns the patch file names in application order.
func (p *PatchSet) Names() []string {
	names := make([]string, len(p.Patches))
	for i, f := range p.Patches {
		names[i] = filepath.Base(f)
	}
	return names
}

// Resolution describes how a set was chosen.
type Resolution int

const (
	ResolvedExact Resolution = iota
	ResolvedMajorMinor
	ResolvedFallback
)

func (r Resolution) String() string {
	switch r {
	case ResolvedExact:
		return "exact"
	case ResolvedMajorMinor:
		return "major.minor"
	case ResolvedFallback:
		return "fallback"
	}
	return "unknown"
}

// checksum manifest names recognised inside a patch set directory
var manifestNames = map[string]bool{
	"sha256sums":     true,
	"sha256sums.txt": true,
	"SHA256SUMS":     true,
	"SHA256SUMS.txt": true,
	"sha512sums":     true,
	"sha512sums.txt": true,
	"checksums":      true,
}

func isManifest(name string) bool {
	return manifestNames[name] || strings.HasSuffix(name, ".sha256")
}

// PatchCatalog indexes <root>/<name>-<version> directories.
type PatchCatalog struct {
	Root string
	Name string
	sets map[string]string // version -> dir
}

// LoadCatalog scans root once. A missing root yields an empty catalog.
func LoadCatalog(root, name string) (*PatchCatalog, error) {
	c := &PatchCatalog{Root: root, Name: name, sets: make(map[string]string)}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read patch directory %s: %w", root, err)
	}
	prefix := name + "-"
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		v, err := ParseVersion(strings.TrimPrefix(e.Name(), prefix))
		if err != nil {
			continue
		}
		c.sets[v.String()] = filepath.Join(root, e.Name())
	}
	return c, nil
}

// Versions returns the available version keys, oldest first.
func (c *PatchCatalog) Versions() []Version {
	out := make([]Version, 0, len(c.sets))
	for k := range c.sets {
		out = append(out, MustParseVersion(k))
	}
	slices.SortFunc(out, Version.Compare)
	return out
}

// Empty reports whether no patch set directories exist.
func (c *PatchCatalog) Empty() bool { return len(c.sets) == 0 }

// Resolve picks the set for v: exact match, then major.minor, then the newest
// available set. ErrNoPatchSets is returned only when the catalog is empty.
func (c *PatchCatalog) Resolve(v Version) (*PatchSet, Resolution, error) {
	if c.Empty() {
		return nil, 0, ErrNoPatchSets
	}
	if dir, ok := c.sets[v.String()]; ok {
		set, err := c.load(v.String(), dir)
		return set, ResolvedExact, err
	}
	if mm := v.MajorMinor(); mm != v.String() {
		if dir, ok := c.sets[mm]; ok {
			set, err := c.load(mm, dir)
			return set, ResolvedMajorMinor, err
		}
	}
	versions := c.Versions()
	newest := versions[len(versions)-1]
	set, err := c.load(newest.String(), c.sets[newest.String()])
	return set, ResolvedFallback, err
}

// Lookup returns the set with exactly key v, or ErrPatchSetNotFound.
func (c *PatchCatalog) Lookup(v Version) (*PatchSet, error) {
	dir, ok := c.sets[v.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatchSetNotFound, v)
	}
	return c.load(v.String(), dir)
}

func (c *PatchCatalog) load(key, dir string) (*PatchSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch set %s: %w", dir, err)
	}
	set := &PatchSet{Version: MustParseVersion(key), Dir: dir}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isManifest(e.Name()) {
			set.Manifest = filepath.Join(dir, e.Name())
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		set.Patches = append(set.Patches, filepath.Join(dir, n))
	}
	return set, nil
}
