package winestage

import (
	"context"
	"fmt"
	"path/filepath"
)

// PatchOutcome is the per-file result of applying a patch set.
type PatchOutcome int

const (
	AppliedClean PatchOutcome = iota
	AppliedFuzzy
	AlreadyApplied
	Failed
)

func (o PatchOutcome) String() string {
	switch o {
	case AppliedClean:
		return "applied"
	case AppliedFuzzy:
		return "applied-fuzzy"
	case AlreadyApplied:
		return "already-applied"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// MarshalText lets reports render outcomes by name.
func (o PatchOutcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *PatchOutcome) UnmarshalText(b []byte) error {
	for _, v := range []PatchOutcome{AppliedClean, AppliedFuzzy, AlreadyApplied, Failed} {
		if v.String() == string(b) {
			*o = v
			return nil
		}
	}
	return fmt.Errorf("unknown patch outcome %q", b)
}

// AttemptStatus is what a single patch tool invocation concluded.
type AttemptStatus int

const (
	AttemptRejected AttemptStatus = iota
	AttemptOK
	AttemptAlreadyApplied
)

// AttemptResult is the structured answer of a Patcher call.
type AttemptResult struct {
	Status AttemptStatus
	Output string
}

// Patcher abstracts the unified-diff patch tool. Implementations must leave the
// tree untouched when they report AttemptRejected.
type Patcher interface {
	// Apply applies file to tree with the given fuzz factor (0 = strict).
	Apply(ctx context.Context, tree, file string, fuzz int) (AttemptResult, error)
	// ReverseCheck dry-runs the patch in reverse; AttemptOK means it is already present.
	ReverseCheck(ctx context.Context, tree, file string) (AttemptResult, error)
	// Probe dry-runs the patch forward and reports AttemptAlreadyApplied when
	// everything it would create already exists.
	Probe(ctx context.Context, tree, file string) (AttemptResult, error)
}

// PatchApplyResult records what happened to one file.
type PatchApplyResult struct {
	File    string       `yaml:"file"`
	Outcome PatchOutcome `yaml:"outcome"`
	Warning string       `yaml:"warning,omitempty"`
}

// PatchReport aggregates a patch run. It is informational only.
type PatchReport struct {
	SetVersion string             `yaml:"set_version,omitempty"`
	Resolution string             `yaml:"resolution,omitempty"`
	Digest     string             `yaml:"digest,omitempty"`
	Skipped    string             `yaml:"skipped,omitempty"`
	Applied    int                `yaml:"applied"`
	Failed     int                `yaml:"failed"`
	Results    []PatchApplyResult `yaml:"results,omitempty"`
}

// PatchApplier applies patch sets with a degrading strategy. It never fails a run.
type PatchApplier struct {
	Patcher Patcher
	Fuzz    int
	Console *Console
}

// Apply walks set in order. Every per-file problem is recorded and skipped.
func (a *PatchApplier) Apply(ctx context.Context, tree string, set *PatchSet) PatchReport {
	report := PatchReport{SetVersion: set.Version.String()}

	verifier, err := NewManifestVerifier(set)
	if err != nil {
		a.Console.Warn("%v", err)
	}

	total := len(set.Patches)
	for i, file := range set.Patches {
		name := filepath.Base(file)
		res := PatchApplyResult{File: name, Warning: verifier.Verify(file)}
		if res.Warning != "" {
			a.Console.Warn("%s", res.Warning)
		}

		res.Outcome = a.applyOne(ctx, tree, file)
		switch res.Outcome {
		case Failed:
			report.Failed++
			a.Console.Error("[%d/%d] %s: failed, skipping", i+1, total, name)
		default:
			report.Applied++
			a.Console.Debugf("[%d/%d] %s: %s\n", i+1, total, name, res.Outcome)
		}
		report.Results = append(report.Results, res)
	}

	if report.Failed > 0 {
		a.Console.Warn("Patches applied: %d, failed: %d", report.Applied, report.Failed)
	} else {
		a.Console.Step("Patches applied: %d", report.Applied)
	}
	return report
}

func (a *PatchApplier) applyOne(ctx context.Context, tree, file string) PatchOutcome {
	if res, err := a.Patcher.Apply(ctx, tree, file, 0); err == nil && res.Status == AttemptOK {
		return AppliedClean
	} else if err != nil {
		a.Console.Debugf("strict apply of %s: %v\n", filepath.Base(file), err)
	}

	if a.Fuzz > 0 {
		if res, err := a.Patcher.Apply(ctx, tree, file, a.Fuzz); err == nil && res.Status == AttemptOK {
			return AppliedFuzzy
		} else if err != nil {
			a.Console.Debugf("fuzzy apply of %s: %v\n", filepath.Base(file), err)
		}
	}

	if res, err := a.Patcher.ReverseCheck(ctx, tree, file); err == nil && res.Status == AttemptOK {
		return AlreadyApplied
	}

	if res, err := a.Patcher.Probe(ctx, tree, file); err == nil && res.Status == AttemptAlreadyApplied {
		return AlreadyApplied
	}

	return Failed
}
