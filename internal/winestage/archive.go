package winestage

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// Extractor unpacks an archive into an existing directory without
// altering its layout.
type Extractor interface {
	Extract(ctx context.Context, archive, dest string) error
}

// ArchiveExtractor uses the system tar when allowed and falls back to the
// built-in readers.
type ArchiveExtractor struct {
	SystemTar bool
	Console   *Console
}

// NewArchiveExtractor returns an extractor preferring the system tar.
func NewArchiveExtractor(console *Console) *ArchiveExtractor {
	return &ArchiveExtractor{SystemTar: true, Console: console}
}

var archiveSuffixes = []string{".tar.xz", ".tar.gz", ".tgz", ".tar.bz2", ".tar.zst", ".tar", ".zip"}

// IsSupportedArchive reports whether name has a known archive suffix.
func IsSupportedArchive(name string) bool {
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func (x *ArchiveExtractor) Extract(ctx context.Context, archive, dest string) error {
	if !IsSupportedArchive(archive) {
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archive))
	}
	if strings.HasSuffix(archive, ".zip") {
		return unzipGo(archive, dest)
	}

	if x.SystemTar {
		if _, err := exec.LookPath("tar"); err == nil {
			cmd := exec.CommandContext(ctx, "tar", "xf", archive, "-C", dest)
			out, err := cmd.CombinedOutput()
			if err == nil {
				x.Console.Debugf("Used system tar\n")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			x.Console.Debugf("system tar failed: %v: %s\n", err, strings.TrimSpace(string(out)))
			if err := clearDir(dest); err != nil {
				return err
			}
		}
	}
	return extractTar(ctx, archive, dest, x.Console)
}

// clearDir empties dir after a failed extraction attempt.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// safeJoin resolves name under dest and rejects anything escaping it.
func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("illegal absolute path in archive: %s", name)
	}
	target := filepath.Join(dest, name)
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return target, nil
}

func inside(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// resolveRoot makes dest absolute with symlinks resolved, so later checks
// compare real locations.
func resolveRoot(dest string) (string, error) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// checkParent rejects target when the deepest existing directory above it
// resolves outside root, i.e. an earlier entry planted a symlink on the way.
func checkParent(root, target string) error {
	dir := filepath.Dir(target)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !inside(root, resolved) {
				return fmt.Errorf("illegal path through symlink in archive: %s", target)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// checkSymlink rejects links whose target is absolute or leaves root.
func checkSymlink(root, target, linkname string) error {
	if filepath.IsAbs(linkname) || !inside(root, filepath.Join(filepath.Dir(target), linkname)) {
		return fmt.Errorf("illegal symlink in archive: %s -> %s", target, linkname)
	}
	return nil
}

// removeSymlink drops an existing symlink at target so a write cannot follow it.
func removeSymlink(target string) error {
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return os.Remove(target)
	}
	return nil
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = resolveRoot(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if err := checkParent(dest, fpath); err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		if err := removeSymlink(fpath); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}
		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// decompressor picks the stream reader from the archive suffix.
func decompressor(path string, f io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(path, ".tar.bz2"):
		return bzip2.NewReader(f), noop, nil
	case strings.HasSuffix(path, ".tar.xz"):
		r, err := xz.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return r, noop, nil
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(path, ".tar"):
		return f, noop, nil
	}
	return nil, noop, fmt.Errorf("unsupported archive format: %s", path)
}

// extractTar unpacks a possibly compressed tarball, keeping the archive's
// own top-level layout.
func extractTar(ctx context.Context, archive, dest string, console *Console) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer f.Close()

	r, closeFn, err := decompressor(archive, f)
	if err != nil {
		return err
	}
	defer closeFn()

	dest, err = resolveRoot(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", filepath.Base(archive), err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		if target == dest {
			continue
		}
		if err := checkParent(dest, target); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", target, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := removeSymlink(target); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
			out.Close()
			if err := os.Chtimes(target, hdr.AccessTime, hdr.ModTime); err != nil {
				console.Debugf("failed to set times for %s: %v\n", target, err)
			}
		case tar.TypeLink:
			src, err := safeJoin(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := checkParent(dest, src); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return fmt.Errorf("failed to link %s -> %s: %w", target, hdr.Linkname, err)
			}
		case tar.TypeSymlink:
			if err := checkSymlink(dest, target, hdr.Linkname); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
			if !hdr.ModTime.IsZero() {
				atime := hdr.AccessTime
				if atime.IsZero() {
					atime = hdr.ModTime
				}
				tv := []unix.Timeval{
					unix.NsecToTimeval(atime.UnixNano()),
					unix.NsecToTimeval(hdr.ModTime.UnixNano()),
				}
				if err := unix.Lutimes(target, tv); err != nil {
					console.Debugf("failed to set times for symlink %s: %v\n", target, err)
				}
			}
		default:
			console.Debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}
	return nil
}
