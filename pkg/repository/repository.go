// Package repository loads and merges repository manifests. A manifest is a
// JSON document naming the repository and listing every release it offers;
// several repositories merge into one view that the resolver consumes.
package repository

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/model"
	goversion "github.com/hashicorp/go-version"
)

// Ref names a configured repository and where its manifest lives.
type Ref struct {
	Name string
	URL  string
}

// Fetcher downloads a URL to a local file, replacing it atomically.
type Fetcher interface {
	FetchToFile(ctx context.Context, url, dest string) error
}

// ParseManifest decodes and validates a manifest document. Package names are
// normalized to lower case, version keys are canonicalized ("1.0" and "1.0.0"
// are the same release), and every release must carry at least one URL and
// one digest.
func ParseManifest(r io.Reader) (*model.Manifest, error) {
	var manifest model.Manifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&manifest); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "decoding manifest: %v", err)
	}

	normalized := make(map[string]map[string]*model.Release, len(manifest.Packages))
	for rawName, releases := range manifest.Packages {
		if err := model.ValidateName(rawName); err != nil {
			return nil, errors.Wrapf(errors.ErrSchema, "manifest lists invalid package name %q", rawName)
		}
		name := model.NormalizeName(rawName)
		if _, dup := normalized[name]; dup {
			return nil, errors.Wrapf(errors.ErrSchema, "manifest lists package %q twice", name)
		}
		canonical := make(map[string]*model.Release, len(releases))
		for rawVersion, release := range releases {
			v, err := goversion.NewVersion(rawVersion)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrSchema, "package %s lists invalid version %q", name, rawVersion)
			}
			if release == nil || len(release.URLs) == 0 {
				return nil, errors.Wrapf(errors.ErrSchema, "package %s@%s has no source URLs", name, rawVersion)
			}
			if len(release.Digests) == 0 {
				return nil, errors.Wrapf(errors.ErrSchema, "package %s@%s has no digests", name, rawVersion)
			}
			key := v.String()
			if _, dup := canonical[key]; dup {
				return nil, errors.Wrapf(errors.ErrSchema, "package %s lists version %s twice", name, key)
			}
			canonical[key] = release
		}
		normalized[name] = canonical
	}
	manifest.Packages = normalized
	return &manifest, nil
}

// Merged is the union of several manifests. It serves release lookups for
// resolution and fetching.
type Merged struct {
	releases map[string]map[string]*model.Release
}

// Merge combines manifests in order. The same (name, version) may appear in
// several manifests only when the digest sets agree exactly; the merged entry
// then carries the union of the source URLs in first-seen order. Diverging
// digests for the same release are a hard error.
func Merge(manifests []*model.Manifest) (*Merged, error) {
	merged := &Merged{releases: make(map[string]map[string]*model.Release)}
	for _, manifest := range manifests {
		for name, releases := range manifest.Packages {
			for rawVersion, release := range releases {
				existing := merged.Release(name, rawVersion)
				if existing == nil {
					byVersion, ok := merged.releases[name]
					if !ok {
						byVersion = make(map[string]*model.Release)
						merged.releases[name] = byVersion
					}
					byVersion[rawVersion] = &model.Release{
						Dependencies: release.Dependencies,
						URLs:         append([]string(nil), release.URLs...),
						Digests:      release.Digests,
					}
					continue
				}
				if !digestsEqual(existing.Digests, release.Digests) {
					return nil, errors.Wrapf(errors.ErrSchema,
						"repositories disagree on digests for %s@%s", name, rawVersion)
				}
				existing.URLs = unionURLs(existing.URLs, release.URLs)
			}
		}
	}
	return merged, nil
}

// Releases returns every known release of name, or nil.
func (m *Merged) Releases(name string) map[string]*model.Release {
	return m.releases[model.NormalizeName(name)]
}

// Release returns one release, or nil.
func (m *Merged) Release(name, version string) *model.Release {
	byVersion, ok := m.releases[model.NormalizeName(name)]
	if !ok {
		return nil
	}
	return byVersion[version]
}

// Names returns the merged package names in sorted order.
func (m *Merged) Names() []string {
	out := make([]string, 0, len(m.releases))
	for name := range m.releases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Manager syncs configured repositories into a local cache directory and
// builds merged views from it.
type Manager struct {
	refs     []Ref
	cacheDir string
	fetcher  Fetcher
}

// NewManager creates a Manager. Manifests are cached under cacheDir, one file
// per repository.
func NewManager(refs []Ref, cacheDir string, fetcher Fetcher) *Manager {
	return &Manager{refs: refs, cacheDir: cacheDir, fetcher: fetcher}
}

// Sync refreshes every configured manifest and returns the merged view.
func (m *Manager) Sync(ctx context.Context) (*Merged, error) {
	if err := os.MkdirAll(m.cacheDir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating manifest cache %s", m.cacheDir)
	}
	for _, ref := range m.refs {
		logger.Debug("syncing repository", logger.Fields{"name": ref.Name, "url": ref.URL})
		if err := m.fetcher.FetchToFile(ctx, ref.URL, m.manifestPath(ref)); err != nil {
			return nil, errors.Wrapf(err, "syncing repository %s", ref.Name)
		}
	}
	return m.Load()
}

// Load builds the merged view from the cached manifests without refreshing
// them. All configured repositories must have been synced at least once.
func (m *Manager) Load() (*Merged, error) {
	manifests := make([]*model.Manifest, 0, len(m.refs))
	for _, ref := range m.refs {
		manifest, err := m.loadOne(ref)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return Merge(manifests)
}

func (m *Manager) loadOne(ref Ref) (*model.Manifest, error) {
	f, err := os.Open(m.manifestPath(ref))
	if err != nil {
		return nil, errors.Wrapf(err, "repository %s has no cached manifest, sync first", ref.Name)
	}
	defer func() { _ = f.Close() }()

	manifest, err := ParseManifest(f)
	if err != nil {
		return nil, errors.Wrapf(err, "repository %s", ref.Name)
	}
	return manifest, nil
}

func (m *Manager) manifestPath(ref Ref) string {
	return filepath.Join(m.cacheDir, ref.Name+".json")
}

func digestsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for algo, digest := range a {
		if b[algo] != digest {
			return false
		}
	}
	return true
}

func unionURLs(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, u := range existing {
		seen[u] = true
	}
	for _, u := range extra {
		if !seen[u] {
			existing = append(existing, u)
			seen[u] = true
		}
	}
	return existing
}
