// Package engine computes and applies install plans: it fetches, verifies
// and stages package archives, diffs their file sets against the installed
// state, and transitions the target directory package by package.
//
// Every package moves through the states Pending, Fetched, Verified, Staged,
// Applied, Recorded. A failure stops only that package's chain and the
// chains depending on it; packages recorded earlier in the session stay
// installed. The store is updated only after a package's files are fully
// applied, so an interrupted session is repaired by re-running it.
package engine

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

// StagedPackage is a target package whose archive has been fetched, verified
// and extracted into the staging area.
type StagedPackage struct {
	Resolved *model.ResolvedPackage
	Metadata *model.Metadata
	// Files maps every target-relative path the package will own to its
	// hex sha256 digest. The metadata document is included, the digest
	// document is not.
	Files map[string]string
	// Dir is the staging directory holding the extracted archive.
	Dir string
}

// Engine drives preparation and application for one target directory.
type Engine struct {
	fetcher   Fetcher
	extractor Extractor
	hooks     HookRunner
	targetDir string
}

// New creates an Engine for targetDir.
func New(fetcher Fetcher, extractor Extractor, hooks HookRunner, targetDir string) *Engine {
	return &Engine{
		fetcher:   fetcher,
		extractor: extractor,
		hooks:     hooks,
		targetDir: targetDir,
	}
}

// StagingDir returns the session staging area inside the store directory.
func (e *Engine) StagingDir() string {
	return filepath.Join(e.targetDir, model.StoreDir, "staging")
}

// Prepare fetches, verifies and stages every package of the resolution that
// is not already installed at its chosen version. It returns the staged
// packages and, per failed package, the error that stopped its chain.
// Packages depending on a failed package are marked failed as well and are
// never fetched.
func (e *Engine) Prepare(ctx context.Context, target *model.Resolution, current []*model.InstalledPackage) (map[string]*StagedPackage, map[string]error) {
	installed := indexRecords(current)
	staged := make(map[string]*StagedPackage)
	failed := make(map[string]error)

	for _, name := range target.InstallOrder() {
		pkg := target.Packages[name]
		if err := failedDependency(pkg, failed); err != nil {
			failed[name] = err
			continue
		}
		if rec, ok := installed[name]; ok && rec.Metadata.Version == pkg.Version {
			continue
		}

		sp, err := e.preparePackage(ctx, pkg)
		if err != nil {
			logger.Warn("package preparation failed", logger.Fields{"package": pkg.ID(), "error": err.Error()})
			failed[name] = err
			continue
		}
		staged[name] = sp
	}
	return staged, failed
}

func (e *Engine) preparePackage(ctx context.Context, pkg *model.ResolvedPackage) (*StagedPackage, error) {
	// Pending -> Fetched
	archivePath, err := e.fetcher.FetchPackage(ctx, pkg)
	if err != nil {
		return nil, err
	}

	// Fetched -> Verified
	if err := e.verifyArchive(pkg, archivePath); err != nil {
		return nil, err
	}

	// Verified -> Staged
	stageDir := filepath.Join(e.StagingDir(), model.NormalizeName(pkg.Name)+"-"+pkg.Version)
	if err := os.RemoveAll(stageDir); err != nil {
		return nil, errors.Wrapf(err, "clearing staging directory %s", stageDir)
	}
	if err := e.extractor.ExtractAll(ctx, archivePath, stageDir); err != nil {
		return nil, err
	}

	sp, err := e.loadStaged(ctx, pkg, stageDir, archivePath)
	if err != nil {
		return nil, err
	}
	logger.Debug("package staged", logger.Fields{"package": pkg.ID(), "dir": stageDir})
	return sp, nil
}

// verifyArchive checks the fetched bytes against every digest the manifest
// declares. A mismatch is fatal; an algorithm this build cannot compute is a
// schema error rather than a silent pass.
func (e *Engine) verifyArchive(pkg *model.ResolvedPackage, archivePath string) error {
	if len(pkg.Digests) == 0 {
		return errors.Wrapf(errors.ErrSchema, "package %s declares no digests", pkg.ID())
	}
	for algorithm, want := range pkg.Digests {
		if algorithm != "sha256" {
			return errors.Wrapf(errors.ErrSchema, "package %s declares unsupported digest algorithm %q", pkg.ID(), algorithm)
		}
		got, err := fsutil.HashFile(archivePath)
		if err != nil {
			return errors.Wrapf(err, "hashing archive for %s", pkg.ID())
		}
		if got != want {
			return &DigestError{Package: pkg.ID(), Algorithm: algorithm, Want: want, Got: got}
		}
	}
	return nil
}

// loadStaged reads the staged metadata and digest documents and derives the
// package's owned file set. Staged payload files are checked against the
// digest document.
func (e *Engine) loadStaged(ctx context.Context, pkg *model.ResolvedPackage, stageDir, archivePath string) (*StagedPackage, error) {
	md, err := readMetadata(filepath.Join(stageDir, model.MetadataFileName(pkg.Name)))
	if err != nil {
		return nil, errors.Wrapf(err, "package %s", pkg.ID())
	}
	if model.NormalizeName(md.Name) != model.NormalizeName(pkg.Name) || md.Version != pkg.Version {
		return nil, errors.Wrapf(errors.ErrSchema,
			"archive for %s contains metadata for %s", pkg.ID(), md.ID())
	}

	sums, err := readDigestDoc(filepath.Join(stageDir, model.DigestFileName(pkg.Name)))
	if err != nil {
		return nil, errors.Wrapf(err, "package %s", pkg.ID())
	}

	members, err := e.extractor.List(ctx, archivePath)
	if err != nil {
		return nil, err
	}

	digestDoc := model.DigestFileName(pkg.Name)
	files := make(map[string]string, len(members))
	for _, member := range members {
		if member == digestDoc {
			continue
		}
		got, err := fsutil.HashFile(filepath.Join(stageDir, filepath.FromSlash(member)))
		if err != nil {
			return nil, errors.Wrapf(err, "hashing staged member %s", member)
		}
		if want, listed := sums[member]; listed && want != got {
			return nil, &DigestError{Package: pkg.ID(), Algorithm: "sha256", Want: want, Got: got}
		}
		files[member] = got
	}
	return &StagedPackage{Resolved: pkg, Metadata: md, Files: files, Dir: stageDir}, nil
}

// CleanStaging removes the session staging area.
func (e *Engine) CleanStaging() error {
	if err := os.RemoveAll(e.StagingDir()); err != nil {
		return errors.Wrap(err, "cleaning staging area")
	}
	return nil
}

func readMetadata(path string) (*model.Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading metadata document %s", path)
	}
	var md model.Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "decoding metadata document %s: %v", path, err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return &md, nil
}

// readDigestDoc reads a per-file digest document. A missing document is
// treated as empty: staged files are then tracked by their own hashes.
func readDigestDoc(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading digest document %s", path)
	}
	var sums map[string]string
	if err := yaml.Unmarshal(data, &sums); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "decoding digest document %s: %v", path, err)
	}
	return sums, nil
}

func indexRecords(records []*model.InstalledPackage) map[string]*model.InstalledPackage {
	out := make(map[string]*model.InstalledPackage, len(records))
	for _, rec := range records {
		out[model.NormalizeName(rec.Metadata.Name)] = rec
	}
	return out
}

func failedDependency(pkg *model.ResolvedPackage, failed map[string]error) error {
	for dep := range pkg.Dependencies {
		if err, ok := failed[model.NormalizeName(dep)]; ok {
			return errors.Wrapf(err, "dependency %s failed", model.NormalizeName(dep))
		}
	}
	return nil
}
