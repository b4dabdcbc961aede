package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modpak/pkg/errors"
)

const configDoc = `
repositories:
  - name: main
    url: https://mods.example.test/manifest.json
  - name: extras
    url: https://extras.example.test/manifest.json
settings:
  log_level: debug
  http_timeout: 90s
`

func writeConfig(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o640))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), configDoc)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Repositories, 2)
	assert.Equal(t, "main", cfg.Repositories[0].Name)
	assert.Equal(t, "debug", cfg.Settings.LogLevel)
	assert.Equal(t, Duration(90*time.Second), cfg.Settings.HTTPTimeout)
	// Defaults survive a partial settings block.
	assert.Equal(t, 4, cfg.Settings.MaxConcurrentFetches)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), FileName))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConfig)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"malformed yaml", "repositories: [", errors.ErrParse},
		{"nameless repository", "repositories:\n  - url: https://a.test/m.json\n", errors.ErrConfigValidation},
		{"duplicate repository", "repositories:\n  - name: a\n    url: https://a.test/m\n  - name: a\n    url: https://b.test/m\n", errors.ErrConfigValidation},
		{"bad url", "repositories:\n  - name: a\n    url: not a url\n", errors.ErrConfigValidation},
		{"bad timeout", "settings:\n  http_timeout: soon\n", errors.ErrParse},
		{"zero fetches", "settings:\n  max_concurrent_fetches: 0\n", errors.ErrConfigValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.doc)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFindWalksUpward(t *testing.T) {
	targetDir := t.TempDir()
	writeConfig(t, targetDir, configDoc)
	nested := filepath.Join(targetDir, "textures", "rocks")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	found, cfg, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, targetDir, found)
	assert.Len(t, cfg.Repositories, 2)
}

func TestFindNoConfig(t *testing.T) {
	_, _, err := Find(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConfig)
}
