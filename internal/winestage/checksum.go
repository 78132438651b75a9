package winestage

import (
	"bufio"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

// PatchSetDigest fingerprints a patch set by the names and contents of its
// patches in application order. Identical sets yield identical digests.
func PatchSetDigest(set *PatchSet) (string, error) {
	h := blake3.New(32, nil)
	for _, p := range set.Patches {
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", filepath.Base(p))
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", p, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readManifest parses "<hex>  <file>" lines as written by sha256sum/sha512sum.
func readManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sums := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) < 2 || strings.HasPrefix(parts[0], "#") {
			continue
		}
		name := strings.TrimPrefix(strings.Join(parts[1:], " "), "*")
		sums[filepath.Base(name)] = strings.ToLower(parts[0])
	}
	return sums, scanner.Err()
}

// ManifestVerifier checks patch files against a set's checksum manifest.
type ManifestVerifier struct {
	sums map[string]string
}

// NewManifestVerifier loads set.Manifest. It returns nil when the set has none.
func NewManifestVerifier(set *PatchSet) (*ManifestVerifier, error) {
	if set == nil || set.Manifest == "" {
		return nil, nil
	}
	sums, err := readManifest(set.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to read checksum manifest %s: %w", set.Manifest, err)
	}
	return &ManifestVerifier{sums: sums}, nil
}

// Verify returns "" when file matches or is not listed, otherwise a warning.
func (m *ManifestVerifier) Verify(file string) string {
	if m == nil {
		return ""
	}
	want, ok := m.sums[filepath.Base(file)]
	if !ok {
		return ""
	}
	var h hash.Hash
	switch len(want) {
	case sha256.Size * 2:
		h = sha256.New()
	case sha512.Size * 2:
		h = sha512.New()
	default:
		return fmt.Sprintf("unrecognised checksum length for %s", filepath.Base(file))
	}
	f, err := os.Open(file)
	if err != nil {
		return err.Error()
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return err.Error()
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Sprintf("checksum mismatch for %s: manifest %s, file %s", filepath.Base(file), want[:12], got[:12])
	}
	return ""
}
