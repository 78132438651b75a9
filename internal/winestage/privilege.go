package winestage

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// InstallNeedsRoot reports whether the current user cannot write to prefix,
// checking the nearest existing ancestor when prefix does not exist yet.
func InstallNeedsRoot(prefix string) bool {
	if os.Geteuid() == 0 {
		return false
	}
	dir := filepath.Clean(prefix)
	for {
		if _, err := os.Stat(dir); err == nil {
			return unix.Access(dir, unix.W_OK) != nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return true
		}
		dir = parent
	}
}

// installRunner picks the executor for the install stage.
func installRunner(e *Executor, prefix string) *Executor {
	if InstallNeedsRoot(prefix) {
		e.Console.Note("%s is not writable, install will run through sudo", prefix)
		return e.AsRoot()
	}
	return e
}
