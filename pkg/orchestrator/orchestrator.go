// Package orchestrator ties the components into user-facing operations. A
// session against a target directory takes the advisory lock, loads the
// installed state, resolves, prepares and applies, then releases the lock.
// Every operation re-derives its plan from the store and the real filesystem
// state, never from a previous run.
package orchestrator

import (
	"context"
	stderrors "errors"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/archive"
	"github.com/glorpus-work/modpak/pkg/config"
	"github.com/glorpus-work/modpak/pkg/database"
	"github.com/glorpus-work/modpak/pkg/download"
	"github.com/glorpus-work/modpak/pkg/engine"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/hook"
	"github.com/glorpus-work/modpak/pkg/model"
	"github.com/glorpus-work/modpak/pkg/repository"
	"github.com/glorpus-work/modpak/pkg/resolver"
)

// Request is one requested package with an optional version constraint. An
// empty constraint means any version.
type Request struct {
	Name       string
	Constraint string
}

// Options adjust a mutating operation.
type Options struct {
	// DryRun computes and returns the plan without downloading or
	// changing anything.
	DryRun bool
	// Force skips local-modification checks on replaced and removed
	// files.
	Force bool
	// Purge also removes config files matching the outgoing package's
	// declared patterns.
	Purge bool
}

// Orchestrator executes operations against one target directory.
type Orchestrator struct {
	targetDir string
	cfg       *config.Config
	downloads *download.Manager
	repos     *repository.Manager
	engine    *engine.Engine
}

// New wires an Orchestrator for targetDir using its configuration.
func New(targetDir string, cfg *config.Config) *Orchestrator {
	cacheDir := cacheRoot(targetDir, cfg.Settings.CacheDir)
	downloads := download.NewManager(
		cacheDir.archives,
		download.WithConcurrency(cfg.Settings.MaxConcurrentFetches),
		download.WithClient(&http.Client{Timeout: time.Duration(cfg.Settings.HTTPTimeout)}),
	)
	refs := make([]repository.Ref, 0, len(cfg.Repositories))
	for _, repo := range cfg.Repositories {
		refs = append(refs, repository.Ref{Name: repo.Name, URL: repo.URL})
	}
	return &Orchestrator{
		targetDir: targetDir,
		cfg:       cfg,
		downloads: downloads,
		repos:     repository.NewManager(refs, cacheDir.manifests, downloads),
		engine:    engine.New(downloads, archive.NewManager(), hook.NewManager(), targetDir),
	}
}

// Install resolves the requested packages together with everything already
// installed and transitions the target to the result. Installed packages not
// named in the request stay pinned at their current versions.
func (o *Orchestrator) Install(ctx context.Context, requests []Request, opts Options) (*model.InstallPlan, error) {
	if len(requests) == 0 {
		return nil, errors.Wrap(errors.ErrPackageNotFound, "nothing requested")
	}
	return o.converge(ctx, func(db *database.InstalledDB) (map[string]string, error) {
		roots := make(map[string]string, len(requests))
		for _, req := range requests {
			if err := model.ValidateName(req.Name); err != nil {
				return nil, err
			}
			constraint := req.Constraint
			if constraint == "" {
				constraint = "*"
			}
			roots[model.NormalizeName(req.Name)] = constraint
		}
		for _, rec := range db.Records() {
			name := model.NormalizeName(rec.Metadata.Name)
			if _, requested := roots[name]; !requested {
				roots[name] = "=" + rec.Metadata.Version
			}
		}
		return roots, nil
	}, opts)
}

// Upgrade re-resolves the named installed packages (all of them when names
// is empty) without version pins, moving them to the newest satisfying
// versions. Unnamed installed packages stay pinned.
func (o *Orchestrator) Upgrade(ctx context.Context, names []string, opts Options) (*model.InstallPlan, error) {
	return o.converge(ctx, func(db *database.InstalledDB) (map[string]string, error) {
		unpin := make(map[string]bool, len(names))
		for _, name := range names {
			normalized := model.NormalizeName(name)
			if !db.IsInstalled(normalized) {
				return nil, errors.Wrapf(errors.ErrNotInstalled, "package %s", normalized)
			}
			unpin[normalized] = true
		}

		roots := make(map[string]string)
		for _, rec := range db.Records() {
			name := model.NormalizeName(rec.Metadata.Name)
			if len(names) == 0 || unpin[name] {
				roots[name] = "*"
			} else {
				roots[name] = "=" + rec.Metadata.Version
			}
		}
		if len(roots) == 0 {
			return nil, errors.Wrap(errors.ErrNotInstalled, "nothing is installed")
		}
		return roots, nil
	}, opts)
}

// converge runs the shared install/upgrade session: lock, load, sync,
// resolve, prepare, plan, apply.
func (o *Orchestrator) converge(ctx context.Context, buildRoots func(*database.InstalledDB) (map[string]string, error), opts Options) (*model.InstallPlan, error) {
	lock, err := database.Acquire(o.targetDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	db, err := database.Load(o.targetDir)
	if err != nil {
		return nil, err
	}
	roots, err := buildRoots(db)
	if err != nil {
		return nil, err
	}

	merged, err := o.repos.Sync(ctx)
	if err != nil {
		return nil, err
	}
	resolution, err := resolver.New(merged).Resolve(ctx, roots)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return engine.PlanOps(db.Records(), resolution), nil
	}

	// Warm the archive cache concurrently. Per-package fetch failures are
	// surfaced by Prepare, which goes through the same cache.
	if _, err := o.downloads.FetchAll(ctx, prefetchTargets(resolution, db)); err != nil {
		logger.Debug("archive prefetch incomplete", logger.Fields{"error": err.Error()})
	}

	staged, failures := o.engine.Prepare(ctx, resolution, db.Records())
	plan := engine.Plan(db.Records(), resolution, staged, engine.PlanOptions{Purge: opts.Purge})

	applyErr := o.engine.Apply(ctx, plan, db, staged, engine.ApplyOptions{Force: opts.Force})
	if err := o.engine.CleanStaging(); err != nil {
		logger.Warn("staging cleanup failed", logger.Fields{"error": err.Error()})
	}

	errs := make([]error, 0, len(failures)+1)
	for _, name := range sortedKeys(failures) {
		errs = append(errs, failures[name])
	}
	if applyErr != nil {
		errs = append(errs, applyErr)
	}
	return plan, stderrors.Join(errs...)
}

// Uninstall removes the named packages. Installed packages that depend on a
// removed package keep the session from proceeding. Purge also removes
// config files matching the removed packages' declared patterns.
func (o *Orchestrator) Uninstall(ctx context.Context, names []string, opts Options) (*model.InstallPlan, error) {
	if len(names) == 0 {
		return nil, errors.Wrap(errors.ErrNotInstalled, "nothing requested")
	}

	lock, err := database.Acquire(o.targetDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	db, err := database.Load(o.targetDir)
	if err != nil {
		return nil, err
	}

	removing := make(map[string]bool, len(names))
	for _, name := range names {
		normalized := model.NormalizeName(name)
		if !db.IsInstalled(normalized) {
			return nil, errors.Wrapf(errors.ErrNotInstalled, "package %s", normalized)
		}
		removing[normalized] = true
	}

	// Keep the remaining closure consistent: nothing staying behind may
	// depend on a package being removed.
	remaining := &model.Resolution{Packages: make(map[string]*model.ResolvedPackage)}
	for _, rec := range db.Records() {
		name := model.NormalizeName(rec.Metadata.Name)
		if removing[name] {
			continue
		}
		for dep := range rec.Metadata.Dependencies {
			if removing[model.NormalizeName(dep)] {
				return nil, errors.Wrapf(errors.ErrResolutionConflict,
					"%s depends on %s", name, model.NormalizeName(dep))
			}
		}
		remaining.Packages[name] = &model.ResolvedPackage{
			Name:         name,
			Version:      rec.Metadata.Version,
			Dependencies: rec.Metadata.Dependencies,
		}
	}

	plan := engine.Plan(db.Records(), remaining, nil, engine.PlanOptions{Purge: opts.Purge})
	if opts.DryRun {
		return plan, nil
	}
	return plan, o.engine.Apply(ctx, plan, db, nil, engine.ApplyOptions{Force: opts.Force})
}

// List returns the installed records sorted by name.
func (o *Orchestrator) List() ([]*model.InstalledPackage, error) {
	db, err := database.Load(o.targetDir)
	if err != nil {
		return nil, err
	}
	return db.Records(), nil
}

// Verify re-hashes the files of the named installed packages (all of them
// when names is empty) and returns the modified paths per package name.
// Packages with no modifications are omitted from the result.
func (o *Orchestrator) Verify(names []string) (map[string][]string, error) {
	db, err := database.Load(o.targetDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		for _, rec := range db.Records() {
			names = append(names, rec.Metadata.Name)
		}
	}

	result := make(map[string][]string)
	for _, name := range names {
		modified, err := db.Verify(o.targetDir, name)
		if err != nil {
			return nil, err
		}
		if len(modified) > 0 {
			result[model.NormalizeName(name)] = modified
		}
	}
	return result, nil
}

type cacheDirs struct {
	archives  string
	manifests string
}

// cacheRoot resolves the cache location: the configured override (relative
// paths are anchored at the target directory) or the default inside the store.
func cacheRoot(targetDir, override string) cacheDirs {
	root := filepath.Join(targetDir, model.StoreDir, "cache")
	if override != "" {
		root = override
		if !filepath.IsAbs(root) {
			root = filepath.Join(targetDir, root)
		}
	}
	return cacheDirs{
		archives:  filepath.Join(root, "archives"),
		manifests: filepath.Join(root, "manifests"),
	}
}

// prefetchTargets lists the resolved packages whose archives the session will
// need: everything not already installed at its chosen version.
func prefetchTargets(resolution *model.Resolution, db *database.InstalledDB) []*model.ResolvedPackage {
	var out []*model.ResolvedPackage
	for _, name := range resolution.Names() {
		pkg := resolution.Packages[name]
		if rec := db.Find(name); rec != nil && rec.Metadata.Version == pkg.Version {
			continue
		}
		out = append(out, pkg)
	}
	return out
}

func sortedKeys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
