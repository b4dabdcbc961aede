package engine

import (
	"path"
	"sort"

	"github.com/glorpus-work/modpak/pkg/model"
)

// PlanOptions adjust how a plan treats declared config files.
type PlanOptions struct {
	// Purge also removes config files matching the outgoing package's
	// declared patterns instead of preserving them.
	Purge bool
}

// Plan diffs the installed state against the target resolution and produces
// the ordered install plan. Remove steps come first so their paths are free
// before anything is written, then Install/Upgrade steps in dependency
// order. Target packages without a staged archive are skipped; their chains
// failed during preparation.
func Plan(current []*model.InstalledPackage, target *model.Resolution, staged map[string]*StagedPackage, opts PlanOptions) *model.InstallPlan {
	installed := indexRecords(current)
	plan := &model.InstallPlan{}

	removed := make([]string, 0)
	for name := range installed {
		if target.Get(name) == nil {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, name := range removed {
		rec := installed[name]
		md := rec.Metadata
		plan.Steps = append(plan.Steps, model.Step{
			Name:        name,
			Op:          model.OpRemove,
			FromVersion: rec.Metadata.Version,
			Files:       diffFiles(rec.Files, nil, rec.Metadata.ConfigGlobs, opts.Purge),
			Metadata:    &md,
		})
	}

	for _, name := range target.InstallOrder() {
		pkg := target.Packages[name]
		rec, isInstalled := installed[name]

		if isInstalled && rec.Metadata.Version == pkg.Version {
			plan.Steps = append(plan.Steps, model.Step{
				Name:        name,
				Op:          model.OpNoop,
				FromVersion: pkg.Version,
				ToVersion:   pkg.Version,
				Target:      pkg,
			})
			continue
		}

		sp, ok := staged[name]
		if !ok {
			continue
		}

		step := model.Step{
			Name:      name,
			ToVersion: pkg.Version,
			Target:    pkg,
			Metadata:  sp.Metadata,
		}
		if isInstalled {
			step.Op = model.OpUpgrade
			step.FromVersion = rec.Metadata.Version
			step.Files = diffFiles(rec.Files, sp.Files, rec.Metadata.ConfigGlobs, opts.Purge)
		} else {
			step.Op = model.OpInstall
			step.Files = diffFiles(nil, sp.Files, nil, opts.Purge)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

// PlanOps computes only the per-package operation tags, without fetching or
// staging anything. It backs dry runs and change summaries.
func PlanOps(current []*model.InstalledPackage, target *model.Resolution) *model.InstallPlan {
	installed := indexRecords(current)
	plan := &model.InstallPlan{}

	removed := make([]string, 0)
	for name := range installed {
		if target.Get(name) == nil {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, name := range removed {
		plan.Steps = append(plan.Steps, model.Step{
			Name:        name,
			Op:          model.OpRemove,
			FromVersion: installed[name].Metadata.Version,
		})
	}

	for _, name := range target.InstallOrder() {
		pkg := target.Packages[name]
		step := model.Step{Name: name, ToVersion: pkg.Version, Target: pkg}
		switch rec, ok := installed[name]; {
		case !ok:
			step.Op = model.OpInstall
		case rec.Metadata.Version == pkg.Version:
			step.Op = model.OpNoop
			step.FromVersion = pkg.Version
		default:
			step.Op = model.OpUpgrade
			step.FromVersion = rec.Metadata.Version
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan
}

// diffFiles computes the file-level sets between an outgoing and an incoming
// file map. Path comparison is case-insensitive; incoming spellings win for
// replaced paths. Outgoing files matching the config patterns are preserved
// instead of removed unless purge is set.
func diffFiles(old, incoming map[string]string, configGlobs []string, purge bool) model.FileDiff {
	foldedOld := make(map[string]string, len(old))
	for rel := range old {
		foldedOld[model.NormalizePath(rel)] = rel
	}
	foldedNew := make(map[string]bool, len(incoming))

	var diff model.FileDiff
	for rel := range incoming {
		folded := model.NormalizePath(rel)
		foldedNew[folded] = true
		if _, existed := foldedOld[folded]; existed {
			diff.Replace = append(diff.Replace, rel)
		} else {
			diff.Add = append(diff.Add, rel)
		}
	}
	for folded, rel := range foldedOld {
		if foldedNew[folded] {
			continue
		}
		if !purge && matchesConfigGlob(configGlobs, rel) {
			diff.Preserve = append(diff.Preserve, rel)
		} else {
			diff.Remove = append(diff.Remove, rel)
		}
	}

	sort.Strings(diff.Add)
	sort.Strings(diff.Remove)
	sort.Strings(diff.Replace)
	sort.Strings(diff.Preserve)
	return diff
}

// matchesConfigGlob reports whether rel matches any declared config pattern.
// Matching is case-insensitive and uses path.Match semantics, so `*` does
// not cross directory separators.
func matchesConfigGlob(globs []string, rel string) bool {
	folded := model.NormalizePath(rel)
	for _, glob := range globs {
		if ok, err := path.Match(model.NormalizePath(glob), folded); err == nil && ok {
			return true
		}
	}
	return false
}
