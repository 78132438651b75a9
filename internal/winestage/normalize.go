package winestage

import (
	"path/filepath"
	"sort"
)

// EntryPoint is the file that certifies an unpacked, buildable tree.
const EntryPoint = "configure"

// IsValidTree reports whether dir holds the entry point at its root.
func IsValidTree(fsys FileSystem, dir string) bool {
	info, err := fsys.Stat(filepath.Join(dir, EntryPoint))
	return err == nil && !info.IsDir()
}

// Normalize moves the extracted directory to target and, when the entry point
// is still missing there, promotes the one child directory that has it.
// target must not exist on entry.
func Normalize(fsys FileSystem, extracted, target string) error {
	if err := fsys.Rename(extracted, target); err != nil {
		return acquisitionError("relocating %s to %s: %v", extracted, target, err)
	}
	if IsValidTree(fsys, target) {
		return nil
	}

	nested, err := findNestedTree(fsys, target)
	if err != nil {
		return err
	}

	// Move the nested tree out next to target, drop the wrapper, move it back.
	parent := filepath.Dir(target)
	staging, err := fsys.MkdirTemp(parent, ".denest-")
	if err != nil {
		return acquisitionError("creating staging dir: %v", err)
	}
	defer fsys.RemoveAll(staging)

	hold := filepath.Join(staging, "tree")
	if err := fsys.Rename(nested, hold); err != nil {
		return acquisitionError("promoting %s: %v", nested, err)
	}
	if err := fsys.RemoveAll(target); err != nil {
		return acquisitionError("removing wrapper %s: %v", target, err)
	}
	if err := fsys.Rename(hold, target); err != nil {
		return acquisitionError("promoting %s: %v", nested, err)
	}

	if !IsValidTree(fsys, target) {
		return acquisitionError("%s missing in %s after normalization", EntryPoint, target)
	}
	return nil
}

// findNestedTree searches the immediate subdirectories of dir for the entry point.
func findNestedTree(fsys FileSystem, dir string) (string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return "", acquisitionError("reading %s: %v", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name())
		if IsValidTree(fsys, candidate) {
			return candidate, nil
		}
	}
	return "", acquisitionError("no %s found in %s or one level below", EntryPoint, dir)
}
