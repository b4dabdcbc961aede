package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modpak/pkg/archive"
	"github.com/glorpus-work/modpak/pkg/model"
)

func TestPackCmd(t *testing.T) {
	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "app.pkg.yml"),
		[]byte("name: app\nversion: 1.2.0\n"), 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(sourceDir, "bin"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "bin", "app.dll"),
		[]byte("payload"), 0o640))

	outputDir := t.TempDir()
	cmd := NewPackCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{sourceDir, "-o", outputDir})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	archivePath := filepath.Join(outputDir, model.ArchiveFileName("app", "1.2.0"))
	require.FileExists(t, archivePath)

	members, err := archive.NewManager().List(context.Background(), archivePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.pkg.yml", "app.sums.yml", "bin/app.dll"}, members)
}

func TestPackCmd_RequiresMetadata(t *testing.T) {
	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "payload.txt"), []byte("x"), 0o640))

	cmd := NewPackCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{sourceDir, "-o", t.TempDir()})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}
