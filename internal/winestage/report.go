package winestage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ReportFile is the report name inside the log directory.
const ReportFile = "report.yaml"

// BuildReport aggregates one run.
type BuildReport struct {
	RunID            string        `yaml:"run_id"`
	Started          time.Time     `yaml:"started"`
	Finished         time.Time     `yaml:"finished"`
	RequestedVersion string        `yaml:"requested_version"`
	DetectedVersion  string        `yaml:"detected_version,omitempty"`
	SourceDir        string        `yaml:"source_dir"`
	SourceReused     bool          `yaml:"source_reused"`
	InstallPrefix    string        `yaml:"install_prefix"`
	Threads          int           `yaml:"threads"`
	Patches          PatchReport   `yaml:"patches"`
	Stages           []StageResult `yaml:"stages"`
	Success          bool          `yaml:"success"`
	Error            string        `yaml:"error,omitempty"`
}

// NewBuildReport starts a report with a fresh run id.
func NewBuildReport(requested Version) *BuildReport {
	return &BuildReport{
		RunID:            uuid.NewString(),
		Started:          time.Now().UTC(),
		RequestedVersion: requested.String(),
	}
}

// Finish records the stage results and final error. Success requires every
// stage to have succeeded.
func (r *BuildReport) Finish(stages []StageResult, err error) {
	r.Finished = time.Now().UTC()
	r.Stages = stages
	r.Success = err == nil && len(stages) == len(Stages)
	for _, s := range stages {
		if s.Status != StageSucceeded {
			r.Success = false
		}
	}
	if err != nil {
		r.Error = err.Error()
	}
}

// FailedStage returns the stage that failed, if any.
func (r *BuildReport) FailedStage() (Stage, bool) {
	for _, s := range r.Stages {
		if s.Status == StageFailed {
			return s.Stage, true
		}
	}
	return 0, false
}

// Write stores the report as YAML in dir and returns its path.
func (r *BuildReport) Write(dir string) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// ReadBuildReport loads a report written by Write.
func ReadBuildReport(dir string) (*BuildReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	if err != nil {
		return nil, err
	}
	var r BuildReport
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	for i := range r.Stages {
		if s, err := ParseStage(r.Stages[i].Name); err == nil {
			r.Stages[i].Stage = s
		}
	}
	return &r, nil
}
