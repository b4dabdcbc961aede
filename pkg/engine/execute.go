package engine

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/database"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

// ApplyOptions adjust filesystem application.
type ApplyOptions struct {
	// Force skips the local-modification checks on replaced and removed
	// files.
	Force bool
}

// Apply transitions the target directory to match the plan. Before anything
// is written it checks the whole session for case-insensitive path
// collisions; a collision aborts with no mutation at all. Steps then run in
// plan order. A failing step stops its own package chain and the chains
// depending on it, never the whole session, and the store is updated only
// after a package's files are fully applied.
func (e *Engine) Apply(ctx context.Context, plan *model.InstallPlan, db *database.InstalledDB, staged map[string]*StagedPackage, opts ApplyOptions) error {
	if err := e.preflightCollisions(plan, db, staged); err != nil {
		return err
	}

	failed := make(map[string]error)
	var errs []error

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if step.Op == model.OpNoop {
			continue
		}
		if err := failedStepDependency(step, failed); err != nil {
			failed[step.Name] = err
			errs = append(errs, errors.Wrapf(err, "skipping %s", step.ID()))
			continue
		}

		var err error
		switch step.Op {
		case model.OpRemove:
			err = e.applyRemove(step, db, opts)
		case model.OpInstall, model.OpUpgrade:
			err = e.applyInstall(step, db, staged[step.Name], opts)
		}
		if err != nil {
			logger.Warn("step failed", logger.Fields{"step": step.ID(), "error": err.Error()})
			failed[step.Name] = err
			errs = append(errs, errors.Wrapf(err, "%s", step.ID()))
			continue
		}
		logger.Info("step applied", logger.Fields{"step": step.ID(), "op": string(step.Op)})
	}
	return stderrors.Join(errs...)
}

// preflightCollisions checks that after the session no two packages would
// own the same path under case-insensitive comparison: every incoming file
// set is compared against the other incoming sets and against the installed
// records the plan leaves in place.
func (e *Engine) preflightCollisions(plan *model.InstallPlan, db *database.InstalledDB, staged map[string]*StagedPackage) error {
	touched := make(map[string]model.StepOp, len(plan.Steps))
	for i := range plan.Steps {
		touched[plan.Steps[i].Name] = plan.Steps[i].Op
	}

	claims := make(map[string]string)
	claim := func(owner, rel string) error {
		folded := model.NormalizePath(rel)
		if other, taken := claims[folded]; taken && other != owner {
			return &CollisionError{Path: rel, First: other, Second: owner}
		}
		claims[folded] = owner
		return nil
	}

	for name, sp := range staged {
		if op := touched[name]; op != model.OpInstall && op != model.OpUpgrade {
			continue
		}
		for rel := range sp.Files {
			if err := claim(name, rel); err != nil {
				return err
			}
		}
	}
	for _, rec := range db.Records() {
		name := model.NormalizeName(rec.Metadata.Name)
		switch touched[name] {
		case model.OpRemove, model.OpUpgrade:
			// The old file set is released by this session.
			continue
		}
		for rel := range rec.Files {
			if err := claim(name, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyRemove deletes every non-preserved file a record owns, then drops the
// record. Without force, any locally modified tracked file aborts the step
// before anything is deleted.
func (e *Engine) applyRemove(step *model.Step, db *database.InstalledDB, opts ApplyOptions) error {
	rec := db.Find(step.Name)
	if rec == nil {
		return errors.Wrapf(errors.ErrNotInstalled, "package %s", step.Name)
	}

	if err := e.hooks.Run(&rec.Metadata, model.HookPreUninstall, e.targetDir); err != nil {
		return err
	}

	if !opts.Force {
		if err := e.checkUnmodified(step.Name, rec, step.Files.Remove); err != nil {
			return err
		}
	}

	for _, rel := range step.Files.Remove {
		abs := filepath.Join(e.targetDir, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", rel)
		}
	}

	// Recorded: the store is updated only after the files are gone.
	db.Remove(step.Name)
	if err := db.Save(); err != nil {
		return err
	}
	return e.hooks.Run(&rec.Metadata, model.HookPostUninstall, e.targetDir)
}

// applyInstall writes the staged files into the target and records the new
// state. Writes happen before deletes; on an upgrade, replaced and removed
// files are first checked against their stored digests unless force is set,
// and a mismatch aborts before any write.
func (e *Engine) applyInstall(step *model.Step, db *database.InstalledDB, sp *StagedPackage, opts ApplyOptions) error {
	if sp == nil {
		return errors.Wrapf(errors.ErrFetch, "package %s was never staged", step.Name)
	}

	if err := e.hooks.Run(sp.Metadata, model.HookPreInstall, e.targetDir); err != nil {
		return err
	}

	old := db.Find(step.Name)
	if old != nil && !opts.Force {
		candidates := append(append([]string(nil), step.Files.Replace...), step.Files.Remove...)
		if err := e.checkUnmodified(step.Name, old, candidates); err != nil {
			return err
		}
	}

	// Applied, write phase.
	for _, rel := range append(append([]string(nil), step.Files.Add...), step.Files.Replace...) {
		src := filepath.Join(sp.Dir, filepath.FromSlash(rel))
		dst := filepath.Join(e.targetDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), fsutil.DirModeSecure); err != nil {
			return errors.Wrapf(err, "creating directory for %s", rel)
		}
		if err := fsutil.Copy(src, dst); err != nil {
			return errors.Wrapf(err, "writing %s", rel)
		}
	}

	// Applied, delete phase.
	for _, rel := range step.Files.Remove {
		abs := filepath.Join(e.targetDir, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing %s", rel)
		}
	}

	// Recorded.
	record := &model.InstalledPackage{
		Metadata:    *sp.Metadata,
		InstalledAt: time.Now().UTC(),
		Files:       sp.Files,
	}
	if len(sp.Resolved.URLs) > 0 {
		record.InstalledFrom = sp.Resolved.URLs[0]
	}
	db.Put(record)
	if err := db.Save(); err != nil {
		return err
	}
	return e.hooks.Run(sp.Metadata, model.HookPostInstall, e.targetDir)
}

// checkUnmodified re-hashes the given target-relative paths against the
// digests recorded for rec. Missing files pass: deleting or replacing an
// already absent file keeps re-runs idempotent. Any content mismatch fails
// with the full list of modified paths.
func (e *Engine) checkUnmodified(name string, rec *model.InstalledPackage, rels []string) error {
	recorded := make(map[string]string, len(rec.Files))
	for rel, digest := range rec.Files {
		recorded[model.NormalizePath(rel)] = digest
	}

	var modified []string
	for _, rel := range rels {
		want, tracked := recorded[model.NormalizePath(rel)]
		if !tracked {
			continue
		}
		got, err := fsutil.HashFile(filepath.Join(e.targetDir, filepath.FromSlash(rel)))
		if err != nil {
			if stderrors.Is(err, os.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "hashing %s", rel)
		}
		if got != want {
			modified = append(modified, rel)
		}
	}
	if len(modified) > 0 {
		return &ModifiedFileError{Package: name, Paths: modified}
	}
	return nil
}

func failedStepDependency(step *model.Step, failed map[string]error) error {
	if step.Target == nil {
		return nil
	}
	for dep := range step.Target.Dependencies {
		if err, ok := failed[model.NormalizeName(dep)]; ok {
			return errors.Wrapf(err, "dependency %s failed", model.NormalizeName(dep))
		}
	}
	return nil
}
