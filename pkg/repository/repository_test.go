package repository

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/model"
)

const manifestDoc = `{
  "meta": {"name": "Main Mods"},
  "packages": {
    "GraphicsOverhaul": {
      "1.2.0": {
        "dependencies": {"corelib": "^2.0.0"},
        "urls": ["https://mods.example.test/graphicsoverhaul-1.2.0.modpak"],
        "digests": {"sha256": "aa11"}
      }
    },
    "corelib": {
      "2.4.0": {
        "urls": ["https://mods.example.test/corelib-2.4.0.modpak"],
        "digests": {"sha256": "bb22"}
      }
    }
  }
}`

func TestParseManifest(t *testing.T) {
	manifest, err := ParseManifest(strings.NewReader(manifestDoc))
	require.NoError(t, err)
	assert.Equal(t, "Main Mods", manifest.Meta.Name)

	// Package names are normalized to lower case.
	require.Contains(t, manifest.Packages, "graphicsoverhaul")
	release := manifest.Packages["graphicsoverhaul"]["1.2.0"]
	require.NotNil(t, release)
	assert.Equal(t, "^2.0.0", release.Dependencies["corelib"])
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		sentinel error
	}{
		{"malformed json", `{"packages":`, errors.ErrParse},
		{"bad package name", `{"packages":{"9bad":{"1.0.0":{"urls":["u"],"digests":{"sha256":"00"}}}}}`, errors.ErrSchema},
		{"bad version key", `{"packages":{"app":{"one":{"urls":["u"],"digests":{"sha256":"00"}}}}}`, errors.ErrSchema},
		{"no urls", `{"packages":{"app":{"1.0.0":{"urls":[],"digests":{"sha256":"00"}}}}}`, errors.ErrSchema},
		{"no digests", `{"packages":{"app":{"1.0.0":{"urls":["u"],"digests":{}}}}}`, errors.ErrSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestParseManifest_CanonicalizesVersionKeys(t *testing.T) {
	doc := `{"packages":{"app":{"1.0":{"urls":["https://a.test/app"],"digests":{"sha256":"cafe"}}}}}`

	manifest, err := ParseManifest(strings.NewReader(doc))
	require.NoError(t, err)
	require.Contains(t, manifest.Packages["app"], "1.0.0")
	assert.NotContains(t, manifest.Packages["app"], "1.0")
}

func TestParseManifest_RejectsVersionSpelledTwice(t *testing.T) {
	doc := `{"packages":{"app":{
		"1.0":   {"urls":["https://a.test/app"],"digests":{"sha256":"cafe"}},
		"1.0.0": {"urls":["https://b.test/app"],"digests":{"sha256":"dead"}}
	}}}`

	_, err := ParseManifest(strings.NewReader(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchema)
	assert.Contains(t, err.Error(), "twice")
}

func TestMerge_DigestDisagreementAcrossSpellings(t *testing.T) {
	// Two repositories spelling the same release "1.0" and "1.0.0" must
	// still collide on diverging digests after canonicalization.
	first, err := ParseManifest(strings.NewReader(
		`{"packages":{"app":{"1.0":{"urls":["https://a.test/app"],"digests":{"sha256":"cafe"}}}}}`))
	require.NoError(t, err)
	second, err := ParseManifest(strings.NewReader(
		`{"packages":{"app":{"1.0.0":{"urls":["https://b.test/app"],"digests":{"sha256":"dead"}}}}}`))
	require.NoError(t, err)

	_, err = Merge([]*model.Manifest{first, second})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchema)
	assert.Contains(t, err.Error(), "app@1.0.0")
}

func manifestWith(name, version string, release *model.Release) *model.Manifest {
	return &model.Manifest{
		Packages: map[string]map[string]*model.Release{
			name: {version: release},
		},
	}
}

func TestMerge_UnionsURLsWhenDigestsAgree(t *testing.T) {
	first := manifestWith("app", "1.0.0", &model.Release{
		URLs:    []string{"https://a.test/app", "https://shared.test/app"},
		Digests: map[string]string{"sha256": "cafe"},
	})
	second := manifestWith("app", "1.0.0", &model.Release{
		URLs:    []string{"https://b.test/app", "https://shared.test/app"},
		Digests: map[string]string{"sha256": "cafe"},
	})

	merged, err := Merge([]*model.Manifest{first, second})
	require.NoError(t, err)

	release := merged.Release("app", "1.0.0")
	require.NotNil(t, release)
	assert.Equal(t, []string{
		"https://a.test/app",
		"https://shared.test/app",
		"https://b.test/app",
	}, release.URLs)
}

func TestMerge_RejectsDigestDisagreement(t *testing.T) {
	first := manifestWith("app", "1.0.0", &model.Release{
		URLs:    []string{"https://a.test/app"},
		Digests: map[string]string{"sha256": "cafe"},
	})
	second := manifestWith("app", "1.0.0", &model.Release{
		URLs:    []string{"https://b.test/app"},
		Digests: map[string]string{"sha256": "dead"},
	})

	_, err := Merge([]*model.Manifest{first, second})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchema)
	assert.Contains(t, err.Error(), "app@1.0.0")
}

type fileFetcher struct {
	docs map[string]string
}

func (f *fileFetcher) FetchToFile(_ context.Context, url, dest string) error {
	doc, ok := f.docs[url]
	if !ok {
		return errors.Wrapf(errors.ErrFetch, "no such url %s", url)
	}
	return os.WriteFile(dest, []byte(doc), 0o640)
}

func TestManagerSyncAndLoad(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "manifests")
	refs := []Ref{{Name: "main", URL: "https://repo.test/manifest.json"}}
	fetcher := &fileFetcher{docs: map[string]string{
		"https://repo.test/manifest.json": manifestDoc,
	}}

	mgr := NewManager(refs, cacheDir, fetcher)
	merged, err := mgr.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"corelib", "graphicsoverhaul"}, merged.Names())

	// Load serves the cached copy without another fetch.
	fetcher.docs = nil
	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.NotNil(t, loaded.Release("corelib", "2.4.0"))
}

func TestManagerLoad_RequiresSync(t *testing.T) {
	mgr := NewManager([]Ref{{Name: "main", URL: "https://repo.test/m.json"}}, t.TempDir(), &fileFetcher{})
	_, err := mgr.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync first")
}
