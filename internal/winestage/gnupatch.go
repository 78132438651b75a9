package winestage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// CommandRunner runs a prepared command. *Executor satisfies it.
type CommandRunner interface {
	Run(cmd *exec.Cmd) error
}

// GNUPatch drives the GNU patch utility.
type GNUPatch struct {
	Runner CommandRunner
	Strip  int
	Binary string
}

// NewGNUPatch returns a GNUPatch using "patch" from PATH.
func NewGNUPatch(runner CommandRunner, strip int) *GNUPatch {
	return &GNUPatch{Runner: runner, Strip: strip, Binary: "patch"}
}

func (g *GNUPatch) args(tree, file string, extra ...string) []string {
	args := []string{
		fmt.Sprintf("-p%d", g.Strip),
		"--batch",
		"--no-backup-if-mismatch",
		"-d", tree,
		"-i", file,
	}
	return append(args, extra...)
}

// run executes patch and maps a non-zero exit to AttemptRejected.
func (g *GNUPatch) run(ctx context.Context, args []string) (AttemptResult, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, g.Binary, args...)
	cmd.Stdin = strings.NewReader("")
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := g.Runner.Run(cmd)
	res := AttemptResult{Status: AttemptOK, Output: out.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Status = AttemptRejected
		return res, nil
	}
	return AttemptResult{Status: AttemptRejected, Output: out.String()}, err
}

// Apply dry-runs first so a rejected attempt leaves no partial hunks behind.
func (g *GNUPatch) Apply(ctx context.Context, tree, file string, fuzz int) (AttemptResult, error) {
	fuzzArg := fmt.Sprintf("--fuzz=%d", fuzz)
	res, err := g.run(ctx, g.args(tree, file, "--forward", fuzzArg, "--dry-run"))
	if err != nil || res.Status != AttemptOK {
		return res, err
	}
	return g.run(ctx, g.args(tree, file, "--forward", fuzzArg))
}

// ReverseCheck succeeds when the patch reverses cleanly, i.e. it is already in the tree.
func (g *GNUPatch) ReverseCheck(ctx context.Context, tree, file string) (AttemptResult, error) {
	return g.run(ctx, g.args(tree, file, "--reverse", "--fuzz=0", "--dry-run"))
}

// Probe reports AttemptAlreadyApplied when every file the patch creates is
// already present, or when patch itself says the change was previously applied.
func (g *GNUPatch) Probe(ctx context.Context, tree, file string) (AttemptResult, error) {
	if targets, err := PatchTargets(file, g.Strip); err == nil && createsOnlyExisting(tree, targets) {
		return AttemptResult{Status: AttemptAlreadyApplied}, nil
	}

	res, err := g.run(ctx, g.args(tree, file, "--forward", "--dry-run"))
	if err != nil {
		return res, err
	}
	lower := strings.ToLower(res.Output)
	if strings.Contains(lower, "previously applied") || strings.Contains(lower, "already exists") {
		res.Status = AttemptAlreadyApplied
		return res, nil
	}
	if res.Status == AttemptOK {
		// applies cleanly now, which means it was not already present
		res.Status = AttemptRejected
	}
	return res, nil
}

// PatchTarget is one file touched by a patch.
type PatchTarget struct {
	Path    string
	Created bool
	Deleted bool
	Hunks   int
}

// PatchTargets lists the files a unified diff touches, with strip leading
// components removed as patch -p would.
func PatchTargets(file string, strip int) ([]PatchTarget, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(file), err)
	}
	targets := make([]PatchTarget, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		t := PatchTarget{Hunks: len(fd.Hunks)}
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
			t.Deleted = true
		}
		if fd.OrigName == "/dev/null" {
			t.Created = true
		}
		t.Path = stripComponents(name, strip)
		if t.Path == "" {
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func stripComponents(name string, strip int) string {
	name = strings.TrimSpace(name)
	// "b/path\tdate" headers
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name = name[:i]
	}
	parts := strings.Split(filepath.ToSlash(name), "/")
	if strip >= len(parts) {
		return ""
	}
	return filepath.Join(parts[strip:]...)
}

func createsOnlyExisting(tree string, targets []PatchTarget) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !t.Created {
			return false
		}
		if _, err := os.Stat(filepath.Join(tree, t.Path)); err != nil {
			return false
		}
	}
	return true
}
