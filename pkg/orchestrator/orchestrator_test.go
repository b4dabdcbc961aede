package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modpak/pkg/archive"
	"github.com/glorpus-work/modpak/pkg/config"
	"github.com/glorpus-work/modpak/pkg/database"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

// testRepo is an in-memory repository served over httptest: packable
// archives plus a manifest assembled from them.
type testRepo struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	manifest model.Manifest
}

func newTestRepo(t *testing.T) *testRepo {
	repo := &testRepo{
		t:     t,
		files: make(map[string][]byte),
		manifest: model.Manifest{
			Meta:     model.ManifestMeta{Name: "test repo"},
			Packages: make(map[string]map[string]*model.Release),
		},
	}
	repo.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo.mu.Lock()
		body, ok := repo.files[r.URL.Path]
		repo.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(repo.server.Close)
	return repo
}

// publish builds an archive for one release, serves it, and adds a manifest
// entry with its real digest.
func (r *testRepo) publish(name, version string, deps map[string]string, payload map[string]string, configGlobs ...string) {
	r.t.Helper()
	sourceDir := r.t.TempDir()

	sums := ""
	for rel, content := range payload {
		abs := filepath.Join(sourceDir, filepath.FromSlash(rel))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(abs), 0o750))
		require.NoError(r.t, os.WriteFile(abs, []byte(content), 0o640))
		digest, err := fsutil.HashFile(abs)
		require.NoError(r.t, err)
		sums += fmt.Sprintf("%s: %s\n", rel, digest)
	}

	md, err := yaml.Marshal(&model.Metadata{
		Name:         name,
		Version:      version,
		Dependencies: deps,
		ConfigGlobs:  configGlobs,
	})
	require.NoError(r.t, err)
	require.NoError(r.t, os.WriteFile(filepath.Join(sourceDir, model.MetadataFileName(name)), md, 0o640))
	require.NoError(r.t, os.WriteFile(filepath.Join(sourceDir, model.DigestFileName(name)), []byte(sums), 0o640))

	archivePath := filepath.Join(r.t.TempDir(), model.ArchiveFileName(name, version))
	require.NoError(r.t, archive.NewManager().Pack(context.Background(), sourceDir, archivePath))
	data, err := os.ReadFile(archivePath)
	require.NoError(r.t, err)
	digest, err := fsutil.HashFile(archivePath)
	require.NoError(r.t, err)

	urlPath := "/archives/" + model.ArchiveFileName(name, version)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[urlPath] = data
	normalized := model.NormalizeName(name)
	if r.manifest.Packages[normalized] == nil {
		r.manifest.Packages[normalized] = make(map[string]*model.Release)
	}
	r.manifest.Packages[normalized][version] = &model.Release{
		Dependencies: deps,
		URLs:         []string{r.server.URL + urlPath},
		Digests:      map[string]string{"sha256": digest},
	}
	doc, err := json.Marshal(&r.manifest)
	require.NoError(r.t, err)
	r.files["/manifest.json"] = doc
}

func (r *testRepo) orchestrator(targetDir string) *Orchestrator {
	cfg := config.DefaultConfig()
	cfg.Repositories = []config.Repository{{Name: "test", URL: r.server.URL + "/manifest.json"}}
	return New(targetDir, cfg)
}

func TestInstallUpgradeUninstallFlow(t *testing.T) {
	repo := newTestRepo(t)
	repo.publish("lib", "1.0.0", nil, map[string]string{"lib.dll": "lib-v1"})
	repo.publish("app", "1.0.0", map[string]string{"lib": "^1.0.0"}, map[string]string{
		"app.dll":    "app-v1",
		"config.ini": "defaults",
	}, "*.ini")

	targetDir := t.TempDir()
	o := repo.orchestrator(targetDir)
	ctx := context.Background()

	// Install app, pulling in lib.
	plan, err := o.Install(ctx, []Request{{Name: "app", Constraint: "^1.0.0"}}, Options{})
	require.NoError(t, err)
	assert.True(t, plan.Changes())
	assert.FileExists(t, filepath.Join(targetDir, "app.dll"))
	assert.FileExists(t, filepath.Join(targetDir, "lib.dll"))

	records, err := o.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "app", records[0].Metadata.Name)
	assert.Equal(t, "lib", records[1].Metadata.Name)

	// Nothing is modified right after installation.
	modified, err := o.Verify(nil)
	require.NoError(t, err)
	assert.Empty(t, modified)

	// Re-running the same install converges to a no-op.
	plan, err = o.Install(ctx, []Request{{Name: "app", Constraint: "^1.0.0"}}, Options{})
	require.NoError(t, err)
	assert.False(t, plan.Changes())

	// Publish app 2.0.0 and upgrade just app; lib stays pinned.
	repo.publish("app", "2.0.0", map[string]string{"lib": "^1.0.0"}, map[string]string{
		"app.dll": "app-v2",
		"new.dat": "extra",
	}, "*.ini")
	plan, err = o.Upgrade(ctx, []string{"app"}, Options{})
	require.NoError(t, err)
	assert.True(t, plan.Changes())

	data, err := os.ReadFile(filepath.Join(targetDir, "app.dll"))
	require.NoError(t, err)
	assert.Equal(t, "app-v2", string(data))
	assert.FileExists(t, filepath.Join(targetDir, "new.dat"))
	// config.ini is not owned by 2.0.0 but matches the config patterns,
	// so the upgrade preserved it.
	assert.FileExists(t, filepath.Join(targetDir, "config.ini"))

	db, err := database.Load(targetDir)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", db.Find("app").Metadata.Version)
	assert.Equal(t, "1.0.0", db.Find("lib").Metadata.Version)

	// lib cannot be removed while app depends on it.
	_, err = o.Uninstall(ctx, []string{"lib"}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrResolutionConflict)

	// Removing both works; without purge the config file survives.
	_, err = o.Uninstall(ctx, []string{"app", "lib"}, Options{})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(targetDir, "app.dll"))
	assert.NoFileExists(t, filepath.Join(targetDir, "lib.dll"))

	records, err = o.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUninstallPurgeRemovesConfigFiles(t *testing.T) {
	repo := newTestRepo(t)
	repo.publish("app", "1.0.0", nil, map[string]string{
		"app.dll":    "bin",
		"config.ini": "settings",
	}, "*.ini")

	targetDir := t.TempDir()
	o := repo.orchestrator(targetDir)
	ctx := context.Background()

	_, err := o.Install(ctx, []Request{{Name: "app"}}, Options{})
	require.NoError(t, err)

	_, err = o.Uninstall(ctx, []string{"app"}, Options{Purge: true})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(targetDir, "config.ini"))
	assert.NoFileExists(t, filepath.Join(targetDir, "app.dll"))
}

func TestInstallDryRun(t *testing.T) {
	repo := newTestRepo(t)
	repo.publish("app", "1.0.0", nil, map[string]string{"app.dll": "bin"})

	targetDir := t.TempDir()
	o := repo.orchestrator(targetDir)

	plan, err := o.Install(context.Background(), []Request{{Name: "app"}}, Options{DryRun: true})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, model.OpInstall, plan.Steps[0].Op)
	assert.NoFileExists(t, filepath.Join(targetDir, "app.dll"))

	records, err := o.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSecondSessionFailsFast(t *testing.T) {
	repo := newTestRepo(t)
	repo.publish("app", "1.0.0", nil, map[string]string{"app.dll": "bin"})

	targetDir := t.TempDir()
	o := repo.orchestrator(targetDir)

	lock, err := database.Acquire(targetDir)
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	_, err = o.Install(context.Background(), []Request{{Name: "app"}}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrLocked)
}

func TestVerifyReportsModifiedFiles(t *testing.T) {
	repo := newTestRepo(t)
	repo.publish("app", "1.0.0", nil, map[string]string{"app.dll": "bin", "data.txt": "data"})

	targetDir := t.TempDir()
	o := repo.orchestrator(targetDir)

	_, err := o.Install(context.Background(), []Request{{Name: "app"}}, Options{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "data.txt"), []byte("edited"), 0o640))

	modified, err := o.Verify([]string{"app"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"app": {"data.txt"}}, modified)
}

func TestInstallUnknownPackage(t *testing.T) {
	repo := newTestRepo(t)
	repo.publish("app", "1.0.0", nil, map[string]string{"app.dll": "bin"})

	o := repo.orchestrator(t.TempDir())
	_, err := o.Install(context.Background(), []Request{{Name: "ghost"}}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPackageNotFound)
}
