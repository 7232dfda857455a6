package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "/custom/data/conduit", DefaultDataDir())
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	assert.Equal(t, "./data", DefaultDataDir())
}

func TestDefaultDataDirShape(t *testing.T) {
	got := DefaultDataDir()
	require.NotEmpty(t, got)
	assert.True(t, filepath.IsAbs(got) || strings.HasPrefix(got, "./"), "unexpected path %s", got)
	base := strings.ToLower(filepath.Base(got))
	assert.True(t, base == "conduit" || base == ".conduit" || base == "data", "unexpected base %s", base)
	assert.Equal(t, got, DefaultDataDir())
}

func TestIsDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"directory", t.TempDir(), true},
		{"missing", filepath.Join(t.TempDir(), "nope"), false},
		{"file", file, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDir(tt.path))
		})
	}
}
