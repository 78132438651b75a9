package winestage

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// Host answers questions about the machine: usable CPUs, package manager,
// and which build prerequisites are missing.
type Host struct {
	lookPath func(string) (string, error)
	cpuinfo  string
}

// DetectHost returns a Host backed by the running system.
func DetectHost() *Host {
	return &Host{lookPath: exec.LookPath, cpuinfo: "/proc/cpuinfo"}
}

// ThreadCount is the number of CPUs this process may run on.
func (h *Host) ThreadCount() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func (h *Host) has(tool string) bool {
	look := h.lookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(tool)
	return err == nil
}

// PackageManager describes how to install packages on a distribution family.
type PackageManager struct {
	Name    string
	Binary  string
	Install []string
}

var packageManagers = []PackageManager{
	{Name: "apt", Binary: "apt-get", Install: []string{"apt-get", "install", "-y"}},
	{Name: "dnf", Binary: "dnf", Install: []string{"dnf", "install", "-y"}},
	{Name: "pacman", Binary: "pacman", Install: []string{"pacman", "-S", "--needed", "--noconfirm"}},
	{Name: "zypper", Binary: "zypper", Install: []string{"zypper", "install", "-y"}},
	{Name: "apk", Binary: "apk", Install: []string{"apk", "add"}},
	{Name: "xbps", Binary: "xbps-install", Install: []string{"xbps-install", "-Sy"}},
}

// Prerequisite is a tool the build needs and the package providing it per manager.
type Prerequisite struct {
	Tool     string
	Packages map[string]string
}

var prerequisites = []Prerequisite{
	{Tool: "gcc", Packages: map[string]string{"apt": "gcc", "dnf": "gcc", "pacman": "gcc", "zypper": "gcc", "apk": "gcc", "xbps": "gcc"}},
	{Tool: "make", Packages: map[string]string{"apt": "make", "dnf": "make", "pacman": "make", "zypper": "make", "apk": "make", "xbps": "make"}},
	{Tool: "flex", Packages: map[string]string{"apt": "flex", "dnf": "flex", "pacman": "flex", "zypper": "flex", "apk": "flex", "xbps": "flex"}},
	{Tool: "bison", Packages: map[string]string{"apt": "bison", "dnf": "bison", "pacman": "bison", "zypper": "bison", "apk": "bison", "xbps": "bison"}},
	{Tool: "patch", Packages: map[string]string{"apt": "patch", "dnf": "patch", "pacman": "patch", "zypper": "patch", "apk": "patch", "xbps": "patch"}},
	{Tool: "tar", Packages: map[string]string{"apt": "tar", "dnf": "tar", "pacman": "tar", "zypper": "tar", "apk": "tar", "xbps": "tar"}},
	{Tool: "x86_64-w64-mingw32-gcc", Packages: map[string]string{
		"apt": "gcc-mingw-w64-x86-64", "dnf": "mingw64-gcc", "pacman": "mingw-w64-gcc",
		"zypper": "mingw64-cross-gcc", "apk": "mingw-w64-gcc", "xbps": "cross-x86_64-w64-mingw32",
	}},
}

// PackageManager returns the first known manager found on PATH.
func (h *Host) PackageManager() (PackageManager, bool) {
	for _, pm := range packageManagers {
		if h.has(pm.Binary) {
			return pm, true
		}
	}
	return PackageManager{}, false
}

// MissingPrerequisites lists the tools not found on PATH.
func (h *Host) MissingPrerequisites() []Prerequisite {
	var missing []Prerequisite
	for _, p := range prerequisites {
		if !h.has(p.Tool) {
			missing = append(missing, p)
		}
	}
	return missing
}

// PrerequisitesSatisfied is the single signal the build consumes.
func (h *Host) PrerequisitesSatisfied() bool {
	return len(h.MissingPrerequisites()) == 0
}

// InstallCommand returns the command line installing missing with pm, or nil
// when nothing is missing.
func InstallCommand(pm PackageManager, missing []Prerequisite) []string {
	var pkgs []string
	seen := map[string]bool{}
	for _, p := range missing {
		name, ok := p.Packages[pm.Name]
		if !ok {
			name = p.Tool
		}
		if !seen[name] {
			seen[name] = true
			pkgs = append(pkgs, name)
		}
	}
	if len(pkgs) == 0 {
		return nil
	}
	return append(append([]string{}, pm.Install...), pkgs...)
}

// MicroArch reports the x86-64 level of the CPU, or GOARCH elsewhere.
func (h *Host) MicroArch() string {
	if runtime.GOARCH != "amd64" {
		return runtime.GOARCH
	}
	f, err := os.Open(h.cpuinfo)
	if err != nil {
		return "x86-64"
	}
	defer f.Close()
	return microArchFromCPUInfo(f)
}

func microArchFromCPUInfo(r io.Reader) string {
	flags := map[string]bool{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "flags") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			for _, f := range strings.Fields(parts[1]) {
				flags[f] = true
			}
		}
		break
	}
	switch {
	case flags["avx512f"]:
		return "x86-64-v4"
	case flags["avx2"]:
		return "x86-64-v3"
	case flags["sse4_2"]:
		return "x86-64-v2"
	}
	return "x86-64"
}
