package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modpak/pkg/errors"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o640))
	}
}

func TestPackListExtractRoundTrip(t *testing.T) {
	sourceDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{
		"mod.pkg.yml":       "name: mod\nversion: 1.0.0\n",
		"textures/rock.dds": "rock-bytes",
		"scripts/init.lua":  "print('hi')",
	})

	archivePath := filepath.Join(t.TempDir(), "mod-1.0.0.modpak")
	mgr := NewManager()
	require.NoError(t, mgr.Pack(context.Background(), sourceDir, archivePath))

	members, err := mgr.List(context.Background(), archivePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"mod.pkg.yml", "scripts/init.lua", "textures/rock.dds"}, members)

	destDir := t.TempDir()
	require.NoError(t, mgr.ExtractAll(context.Background(), archivePath, destDir))

	data, err := os.ReadFile(filepath.Join(destDir, "textures", "rock.dds"))
	require.NoError(t, err)
	assert.Equal(t, "rock-bytes", string(data))
}

func TestExtractAll_RejectsReservedDirectory(t *testing.T) {
	sourceDir := t.TempDir()
	writeTree(t, sourceDir, map[string]string{
		".modpak/installed.json": "{}",
		"ok.txt":                 "fine",
	})

	archivePath := filepath.Join(t.TempDir(), "bad-1.0.0.modpak")
	mgr := NewManager()
	require.NoError(t, mgr.Pack(context.Background(), sourceDir, archivePath))

	err := mgr.ExtractAll(context.Background(), archivePath, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrReservedPath)
}

func TestValidateMembers(t *testing.T) {
	tests := []struct {
		name     string
		members  []string
		sentinel error
	}{
		{"ok", []string{"a.txt", "sub/b.txt"}, nil},
		{"case-insensitive duplicate", []string{"Data/File.txt", "data/file.TXT"}, errors.ErrDuplicatePath},
		{"reserved dir", []string{".modpak/lock"}, errors.ErrReservedPath},
		{"reserved dir mixed case", []string{".MODPAK/x"}, errors.ErrReservedPath},
		{"absolute", []string{"/etc/passwd"}, errors.ErrInvalidPath},
		{"escape", []string{"../outside.txt"}, errors.ErrInvalidPath},
		{"inner escape", []string{"sub/../../outside.txt"}, errors.ErrInvalidPath},
		{"backslash", []string{`sub\file.txt`}, errors.ErrInvalidPath},
		{"empty", []string{""}, errors.ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMembers(tt.members)
			if tt.sentinel == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}
