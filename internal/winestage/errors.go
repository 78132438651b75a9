package winestage

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionUndetectable means neither VERSION nor the build declarations named a version.
	ErrVersionUndetectable = errors.New("version undetectable")
	// ErrPatchSetNotFound means the catalog has no set for the version.
	ErrPatchSetNotFound = errors.New("patch set not found")
	// ErrNoPatchSets means the catalog directory holds no patch sets at all.
	ErrNoPatchSets = errors.New("no patch sets available")
	// ErrAcquisitionFailed wraps every download, extract and normalize failure.
	ErrAcquisitionFailed = errors.New("source acquisition failed")
	// ErrSelectionAborted is returned when the operator cancels version selection.
	ErrSelectionAborted = errors.New("version selection aborted")
	// ErrInvalidVersion is returned for strings that are not dotted numerics.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrRunLocked means another run holds the workspace lock.
	ErrRunLocked = errors.New("another winestage run is active")
)

// StageError reports a build stage that exited non-zero.
type StageError struct {
	Stage    Stage
	ExitCode int
	LogPath  string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (exit %d), see %s", e.Stage, e.ExitCode, e.LogPath)
}

func (e *StageError) Unwrap() error { return e.Err }

func acquisitionError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrAcquisitionFailed, fmt.Sprintf(format, a...))
}
