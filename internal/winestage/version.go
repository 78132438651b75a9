package winestage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Version is a dotted numeric identifier such as 10.1 or 9.22.3.
type Version struct {
	raw   string
	parts []int
}

var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// ParseVersion validates s against the dotted numeric form.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if !versionPattern.MatchString(s) {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	fields := strings.Split(s, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		parts[i] = n
	}
	return Version{raw: s, parts: parts}, nil
}

// MustParseVersion is ParseVersion for literals.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero value.
func (v Version) IsZero() bool { return v.raw == "" }

// MajorMinor truncates to the first two components. Single-component versions are returned as is.
func (v Version) MajorMinor() string {
	if len(v.parts) <= 2 {
		return v.raw
	}
	return fmt.Sprintf("%d.%d", v.parts[0], v.parts[1])
}

// Series is the directory name used by the upstream download site:
// "10.0" for stable .0 releases, "10.x" for everything else.
func (v Version) Series() string {
	if len(v.parts) == 0 {
		return ""
	}
	if len(v.parts) == 1 || v.parts[1] == 0 {
		return fmt.Sprintf("%d.0", v.parts[0])
	}
	return fmt.Sprintf("%d.x", v.parts[0])
}

// Compare orders versions numerically; missing components count as zero.
func (v Version) Compare(o Version) int {
	n := max(len(v.parts), len(o.parts))
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v.parts) {
			a = v.parts[i]
		}
		if i < len(o.parts) {
			b = o.parts[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(v.raw, o.raw)
}

// Version metadata patterns. The first capture group is the version.
var (
	versionFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bversion\s+v?([0-9]+(?:\.[0-9]+)+)`),
		regexp.MustCompile(`(?i)\b[a-z][a-z0-9_]*-([0-9]+(?:\.[0-9]+)+)`),
		regexp.MustCompile(`(?i)\brelease\s+v?([0-9]+(?:\.[0-9]+)+)`),
	}
	declarationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`AC_INIT\(\s*\[?[^,\]]*\]?\s*,\s*\[?\s*([0-9]+(?:\.[0-9]+)*)`),
		regexp.MustCompile(`(?m)^\s*PACKAGE_VERSION\s*=\s*['"]?([0-9]+(?:\.[0-9]+)*)`),
		regexp.MustCompile(`(?m)^\s*VERSION\s*[:?]?=\s*['"]?([0-9]+(?:\.[0-9]+)*)`),
	}
)

// Files consulted by Detect, relative to the tree root.
const (
	versionMetadataFile = "VERSION"
)

var declarationFiles = []string{"configure.ac", "configure"}

// SelectionProvider picks a version when no usable override exists.
// It must return one of available or an error.
type SelectionProvider interface {
	Select(ctx context.Context, available []Version) (Version, error)
}

// VersionResolver determines which version to fetch and which version a tree holds.
type VersionResolver struct {
	Override string
	Selector SelectionProvider
	Console  *Console
}

// Detect reads the version from the tree's metadata, falling back to its build declarations.
func (r *VersionResolver) Detect(tree string) (Version, error) {
	if data, err := os.ReadFile(filepath.Join(tree, versionMetadataFile)); err == nil {
		if v, ok := matchFirst(string(data), versionFilePatterns); ok {
			r.Console.Debugf("Detected version %s from %s\n", v, versionMetadataFile)
			return v, nil
		}
	}
	for _, name := range declarationFiles {
		data, err := os.ReadFile(filepath.Join(tree, name))
		if err != nil {
			continue
		}
		if v, ok := matchFirst(string(data), declarationPatterns); ok {
			r.Console.Debugf("Detected version %s from %s\n", v, name)
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("%w in %s", ErrVersionUndetectable, tree)
}

func matchFirst(text string, patterns []*regexp.Regexp) (Version, bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := ParseVersion(m[1]); err == nil {
			return v, true
		}
	}
	return Version{}, false
}

// Requested returns the version to acquire. A valid override that is part of
// available wins. Otherwise the selector is asked. With an empty catalog the
// override is accepted unvalidated, since there is nothing to validate against.
func (r *VersionResolver) Requested(ctx context.Context, available []Version) (Version, error) {
	if r.Override != "" {
		v, err := ParseVersion(r.Override)
		if err != nil {
			return Version{}, err
		}
		if len(available) == 0 {
			r.Console.Warn("No patch sets available; building %s unpatched", v)
			return v, nil
		}
		if containsVersion(available, v) {
			return v, nil
		}
		r.Console.Warn("Requested version %s has no patch set; choose one of the available versions", v)
	}

	if len(available) == 0 {
		return Version{}, fmt.Errorf("%w: set a version explicitly", ErrNoPatchSets)
	}
	if r.Selector == nil {
		return Version{}, ErrSelectionAborted
	}
	v, err := r.Selector.Select(ctx, available)
	if err != nil {
		return Version{}, err
	}
	if !containsVersion(available, v) {
		return Version{}, fmt.Errorf("selector returned %s which is not in the catalog: %w", v, ErrSelectionAborted)
	}
	return v, nil
}

func containsVersion(list []Version, v Version) bool {
	return slices.ContainsFunc(list, func(x Version) bool { return x.raw == v.raw })
}
