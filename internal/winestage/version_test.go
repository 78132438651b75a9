package winestage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"10.1", false},
		{"9.22.3", false},
		{"10", false},
		{" 8.0 ", false},
		{"", true},
		{"10.", true},
		{"v10.1", true},
		{"10.1-rc1", true},
		{"10..1", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseVersion(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestVersionDerivedForms(t *testing.T) {
	v := MustParseVersion("10.1.2")
	assert.Equal(t, "10.1", v.MajorMinor())
	assert.Equal(t, "10.x", v.Series())
	assert.Equal(t, "10.0", MustParseVersion("10.0").Series())
	assert.Equal(t, "9.x", MustParseVersion("9.22").Series())
	assert.Equal(t, "10.1", MustParseVersion("10.1").MajorMinor())
}

func TestVersionCompare(t *testing.T) {
	assert.Equal(t, -1, MustParseVersion("9.22").Compare(MustParseVersion("10.1")))
	assert.Equal(t, 1, MustParseVersion("10.10").Compare(MustParseVersion("10.9")))
	assert.Equal(t, 0, MustParseVersion("10.1").Compare(MustParseVersion("10.1")))
	assert.Equal(t, 1, MustParseVersion("10.1.1").Compare(MustParseVersion("10.1")))
}

func TestDetectFromVersionFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"version prefix", "Wine version 10.1\n", "10.1"},
		{"release label", "wine-9.22\n", "9.22"},
		{"release word", "Release 8.0.2 (stable)\n", "8.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := t.TempDir()
			writeFile(t, filepath.Join(tree, "VERSION"), tt.content)
			r := &VersionResolver{}
			v, err := r.Detect(tree)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestDetectFallsBackToDeclarations(t *testing.T) {
	tree := t.TempDir()
	writeFile(t, filepath.Join(tree, "VERSION"), "no numbers here\n")
	writeFile(t, filepath.Join(tree, "configure.ac"), "AC_INIT([Wine],[10.3],[wine-devel@winehq.org],[wine])\n")

	v, err := (&VersionResolver{}).Detect(tree)
	require.NoError(t, err)
	assert.Equal(t, "10.3", v.String())

	tree2 := t.TempDir()
	writeFile(t, filepath.Join(tree2, "configure"), "#!/bin/sh\nPACKAGE_VERSION='9.21'\n")
	v, err = (&VersionResolver{}).Detect(tree2)
	require.NoError(t, err)
	assert.Equal(t, "9.21", v.String())
}

func TestDetectUndetectable(t *testing.T) {
	_, err := (&VersionResolver{}).Detect(t.TempDir())
	require.ErrorIs(t, err, ErrVersionUndetectable)
}

type fixedSelector struct {
	v     Version
	err   error
	calls int
}

func (s *fixedSelector) Select(context.Context, []Version) (Version, error) {
	s.calls++
	return s.v, s.err
}

func TestRequestedOverride(t *testing.T) {
	available := []Version{MustParseVersion("9.22"), MustParseVersion("10.1")}
	console, out := quietConsole()

	t.Run("override in catalog wins", func(t *testing.T) {
		sel := &fixedSelector{v: MustParseVersion("9.22")}
		r := &VersionResolver{Override: "10.1", Selector: sel, Console: console}
		v, err := r.Requested(context.Background(), available)
		require.NoError(t, err)
		assert.Equal(t, "10.1", v.String())
		assert.Zero(t, sel.calls)
	})

	t.Run("override outside catalog falls through to selection", func(t *testing.T) {
		out.Reset()
		sel := &fixedSelector{v: MustParseVersion("9.22")}
		r := &VersionResolver{Override: "11.0", Selector: sel, Console: console}
		v, err := r.Requested(context.Background(), available)
		require.NoError(t, err)
		assert.Equal(t, "9.22", v.String())
		assert.Equal(t, 1, sel.calls)
		assert.Contains(t, out.String(), "11.0")
	})

	t.Run("selector must return a catalog entry", func(t *testing.T) {
		sel := &fixedSelector{v: MustParseVersion("7.0")}
		r := &VersionResolver{Selector: sel, Console: console}
		_, err := r.Requested(context.Background(), available)
		require.ErrorIs(t, err, ErrSelectionAborted)
	})

	t.Run("selector abort terminates", func(t *testing.T) {
		r := &VersionResolver{Selector: FailSelector{}, Console: console}
		_, err := r.Requested(context.Background(), available)
		require.ErrorIs(t, err, ErrSelectionAborted)
	})

	t.Run("invalid override is an error", func(t *testing.T) {
		r := &VersionResolver{Override: "latest", Console: console}
		_, err := r.Requested(context.Background(), available)
		require.ErrorIs(t, err, ErrInvalidVersion)
	})
}

func TestRequestedEmptyCatalog(t *testing.T) {
	console, _ := quietConsole()

	r := &VersionResolver{Override: "10.1", Console: console}
	v, err := r.Requested(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "10.1", v.String())

	r = &VersionResolver{Selector: LatestSelector{}, Console: console}
	_, err = r.Requested(context.Background(), nil)
	require.True(t, errors.Is(err, ErrNoPatchSets))
}

func TestLatestSelector(t *testing.T) {
	v, err := LatestSelector{}.Select(context.Background(), []Version{
		MustParseVersion("9.22"), MustParseVersion("10.10"), MustParseVersion("10.9"),
	})
	require.NoError(t, err)
	assert.Equal(t, "10.10", v.String())
}
