// Package download fetches repository manifests and package archives over
// HTTP. Downloads land in a local cache directory, are written through a
// temporary file and renamed into place, and archives already present with
// the expected digest are reused without touching the network.
package download

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

const defaultConcurrency = 4

// Manager downloads files into a cache directory.
type Manager struct {
	client      *http.Client
	cacheDir    string
	concurrency int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithConcurrency bounds how many archives FetchAll downloads at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewManager creates a Manager caching downloads under cacheDir.
func NewManager(cacheDir string, opts ...Option) *Manager {
	m := &Manager{
		client:      &http.Client{Timeout: 5 * time.Minute},
		cacheDir:    cacheDir,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FetchToFile downloads url and atomically replaces dest with the response
// body.
func (m *Manager) FetchToFile(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), fsutil.DirModeSecure); err != nil {
		return errors.Wrapf(err, "creating directory for %s", dest)
	}
	return m.downloadTo(ctx, url, dest)
}

// FetchPackage downloads the archive for pkg, trying its source URLs in
// order until one succeeds, and returns the cached file path. A cached
// archive whose content already matches the expected sha256 digest is reused.
func (m *Manager) FetchPackage(ctx context.Context, pkg *model.ResolvedPackage) (string, error) {
	if len(pkg.URLs) == 0 {
		return "", errors.Wrapf(errors.ErrFetch, "package %s has no source URLs", pkg.ID())
	}
	if err := os.MkdirAll(m.cacheDir, fsutil.DirModeSecure); err != nil {
		return "", errors.Wrapf(err, "creating cache directory %s", m.cacheDir)
	}

	dest := filepath.Join(m.cacheDir, model.ArchiveFileName(pkg.Name, pkg.Version))
	if want, ok := pkg.Digests["sha256"]; ok {
		if got, err := fsutil.HashFile(dest); err == nil && got == want {
			logger.Debug("archive cache hit", logger.Fields{"package": pkg.ID()})
			return dest, nil
		}
	}

	var attempts []error
	for _, url := range pkg.URLs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := m.downloadTo(ctx, url, dest)
		if err == nil {
			logger.Debug("archive downloaded", logger.Fields{"package": pkg.ID(), "url": url})
			return dest, nil
		}
		logger.Warn("download failed, trying next source", logger.Fields{
			"package": pkg.ID(), "url": url, "error": err.Error(),
		})
		attempts = append(attempts, err)
	}
	return "", errors.Wrapf(errors.ErrFetch, "all sources for %s failed: %v", pkg.ID(), stderrors.Join(attempts...))
}

// FetchAll downloads the archives for every package concurrently, bounded by
// the configured concurrency, and returns package ID to cached path. The
// first failure cancels the remaining downloads.
func (m *Manager) FetchAll(ctx context.Context, pkgs []*model.ResolvedPackage) (map[string]string, error) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(m.concurrency)

	var mu sync.Mutex
	paths := make(map[string]string, len(pkgs))

	for _, pkg := range pkgs {
		group.Go(func() error {
			path, err := m.FetchPackage(ctx, pkg)
			if err != nil {
				return err
			}
			mu.Lock()
			paths[pkg.ID()] = path
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// downloadTo streams url into a temporary file next to dest and renames it
// into place once fully written and synced.
func (m *Manager) downloadTo(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrFetch, "building request for %s: %v", url, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrFetch, "requesting %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrFetch, "requesting %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary download file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		cleanup()
		return errors.Wrapf(errors.ErrFetch, "downloading %s: %v", url, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, "syncing download")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "closing download")
	}
	if err := os.Chmod(tmpName, fsutil.FileModeSecure); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "setting download permissions")
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "replacing %s", dest)
	}
	return nil
}
