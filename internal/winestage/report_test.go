package winestage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportRoundTrip(t *testing.T) {
	r := NewBuildReport(MustParseVersion("10.1"))
	require.NotEmpty(t, r.RunID)
	r.DetectedVersion = "10.1"
	r.Patches = PatchReport{
		SetVersion: "10.1",
		Resolution: "exact",
		Applied:    1,
		Failed:     1,
		Results: []PatchApplyResult{
			{File: "0001-fix.patch", Outcome: AppliedFuzzy, Warning: "applied with fuzz"},
			{File: "0002-broken.patch", Outcome: Failed},
		},
	}
	stageErr := &StageError{Stage: StageCompile, ExitCode: 2, LogPath: "/tmp/compile.log"}
	r.Finish([]StageResult{
		{Stage: StageConfigure, Name: "configure", Status: StageSucceeded, Duration: 3 * time.Second},
		{Stage: StageCompile, Name: "compile", Status: StageFailed, ExitCode: 2, LogPath: "/tmp/compile.log", Summary: []string{"a.c:1: error: x"}},
		{Stage: StageInstall, Name: "install", Status: StageNotRun},
	}, stageErr)

	dir := t.TempDir()
	_, err := r.Write(dir)
	require.NoError(t, err)

	got, err := ReadBuildReport(dir)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, got.RunID)
	assert.False(t, got.Success)
	assert.Equal(t, stageErr.Error(), got.Error)
	assert.Equal(t, r.Patches, got.Patches)
	require.Len(t, got.Stages, 3)
	assert.Equal(t, StageFailed, got.Stages[1].Status)
	assert.Equal(t, StageNotRun, got.Stages[2].Status)

	failed, ok := got.FailedStage()
	require.True(t, ok)
	assert.Equal(t, StageCompile, failed)
}

func TestReportSuccessRequiresEveryStage(t *testing.T) {
	all := func(status StageStatus) []StageResult {
		res := make([]StageResult, len(Stages))
		for i, s := range Stages {
			res[i] = StageResult{Stage: s, Name: s.String(), Status: status}
		}
		return res
	}

	r := NewBuildReport(MustParseVersion("10.1"))
	r.Finish(all(StageSucceeded), nil)
	assert.True(t, r.Success)
	_, failed := r.FailedStage()
	assert.False(t, failed)

	r = NewBuildReport(MustParseVersion("10.1"))
	r.Finish(all(StageSucceeded)[:2], nil)
	assert.False(t, r.Success)

	r = NewBuildReport(MustParseVersion("10.1"))
	r.Finish(all(StageNotRun), errors.New("acquisition failed"))
	assert.False(t, r.Success)
	assert.Equal(t, "acquisition failed", r.Error)
}

func TestReadBuildReportMissing(t *testing.T) {
	_, err := ReadBuildReport(t.TempDir())
	assert.Error(t, err)
}
