package winestage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ulikunitz/xz"
)

const historyDirName = "history"

// compressXZ writes an xz copy of srcPath to destPath.
func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	xzWriter, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		xzWriter.Close()
		dst.Close()
		return fmt.Errorf("failed to compress %s: %w", srcPath, err)
	}
	if err := xzWriter.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// ArchiveRunLogs keeps xz copies of the stage logs and report of run runID
// under <logDir>/history/<runID> and returns that directory. Stages that
// never ran have no log, since the pipeline clears old logs, and are skipped.
func ArchiveRunLogs(logDir, runID string) (string, error) {
	dest := filepath.Join(logDir, historyDirName, runID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	names := []string{ReportFile}
	for _, s := range Stages {
		names = append(names, s.String()+".log")
	}
	for _, name := range names {
		src := filepath.Join(logDir, name)
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := compressXZ(src, filepath.Join(dest, name+".xz")); err != nil {
			return dest, err
		}
	}
	return dest, nil
}

// PruneHistory removes all but the newest keep archived runs.
func PruneHistory(logDir string, keep int) error {
	root := filepath.Join(logDir, historyDirName)
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	type run struct {
		path string
		info fs.FileInfo
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{filepath.Join(root, e.Name()), info})
	}
	if len(runs) <= keep {
		return nil
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].info.ModTime().After(runs[j].info.ModTime()) })

	var errs []error
	for _, r := range runs[max(keep, 0):] {
		if err := os.RemoveAll(r.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
