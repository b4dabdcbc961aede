// Package resolver turns a set of root requirements into a complete,
// conflict-free assignment of one version per package.
//
// The solver works a queue of undecided package names. For every name it
// gathers the constraints contributed by the roots and by every currently
// chosen package, then picks the highest release satisfying all of them.
// Choosing a version adds that version's dependency constraints, which may
// re-open packages that were already decided; displacing a chosen version
// retracts the constraints it contributed. Candidate order and queue order
// are fixed, so the same inputs always produce the same resolution.
package resolver

import (
	"context"
	"sort"

	goversion "github.com/hashicorp/go-version"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/model"
	"github.com/glorpus-work/modpak/pkg/version"
)

// rootContributor keys constraints supplied by the caller rather than by a
// chosen package. Package names never collide with it: ":" is not a valid
// name character.
const rootContributor = ":root"

// Re-selections allowed per package before the solver declares the inputs
// unsatisfiable instead of oscillating.
const maxReselections = 64

// Source lists the known releases of a package. Implementations return nil
// for unknown names.
type Source interface {
	Releases(name string) map[string]*model.Release
}

// Resolver computes version assignments against a release source.
type Resolver struct {
	source Source
}

// New creates a Resolver backed by source.
func New(source Source) *Resolver {
	return &Resolver{source: source}
}

// Requirement is one constraint on a package together with who demands it.
type Requirement struct {
	By         string
	Constraint string
}

// ConflictError reports that no version of a package satisfies the combined
// requirements on it.
type ConflictError struct {
	Name         string
	Requirements []Requirement
}

func (e *ConflictError) Error() string {
	msg := "no version of " + e.Name + " satisfies"
	for i, req := range e.Requirements {
		if i > 0 {
			msg += ","
		}
		msg += " " + req.Constraint + " (required by " + req.By + ")"
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return errors.ErrResolutionConflict }

// NotFoundError reports a required package that no source offers.
type NotFoundError struct {
	Name         string
	Requirements []Requirement
}

func (e *NotFoundError) Error() string {
	msg := "package " + e.Name + " not found"
	if len(e.Requirements) > 0 {
		msg += " (required by"
		for i, req := range e.Requirements {
			if i > 0 {
				msg += ","
			}
			msg += " " + req.By
		}
		msg += ")"
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return errors.ErrPackageNotFound }

// constraintSet accumulates the constraints on one package, keyed by
// contributor so a displaced version's contributions can be retracted.
type constraintSet map[string]*version.Constraint

type choice struct {
	version *goversion.Version
	release *model.Release
}

type state struct {
	source      Source
	constraints map[string]constraintSet
	chosen      map[string]*choice
	queue       map[string]bool
	selections  map[string]int
}

// Resolve computes the closure of roots. Roots map package names to
// constraint texts; an empty text means any version.
func (r *Resolver) Resolve(ctx context.Context, roots map[string]string) (*model.Resolution, error) {
	st := &state{
		source:      r.source,
		constraints: make(map[string]constraintSet),
		chosen:      make(map[string]*choice),
		queue:       make(map[string]bool),
		selections:  make(map[string]int),
	}

	for rawName, rawConstraint := range roots {
		if err := model.ValidateName(rawName); err != nil {
			return nil, err
		}
		name := model.NormalizeName(rawName)
		c, err := version.ParseConstraint(rawConstraint)
		if err != nil {
			return nil, errors.Wrapf(err, "root requirement %s", name)
		}
		st.addConstraint(name, rootContributor, c)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, ok := st.next()
		if !ok {
			break
		}
		if err := st.decide(name); err != nil {
			return nil, err
		}
	}

	resolution := &model.Resolution{Packages: make(map[string]*model.ResolvedPackage, len(st.chosen))}
	for name, ch := range st.chosen {
		resolution.Packages[name] = &model.ResolvedPackage{
			Name:         name,
			Version:      ch.version.String(),
			Dependencies: ch.release.Dependencies,
			URLs:         ch.release.URLs,
			Digests:      ch.release.Digests,
		}
	}
	logger.Debug("resolution complete", logger.Fields{"packages": len(resolution.Packages)})
	return resolution, nil
}

// next pops the lexicographically smallest queued name.
func (st *state) next() (string, bool) {
	if len(st.queue) == 0 {
		return "", false
	}
	names := make([]string, 0, len(st.queue))
	for name := range st.queue {
		names = append(names, name)
	}
	sort.Strings(names)
	name := names[0]
	delete(st.queue, name)
	return name, true
}

func (st *state) addConstraint(name, contributor string, c *version.Constraint) {
	set, ok := st.constraints[name]
	if !ok {
		set = make(constraintSet)
		st.constraints[name] = set
	}
	set[contributor] = c

	// A new constraint invalidating the current choice re-opens the package.
	if ch, decided := st.chosen[name]; decided && !c.Satisfies(ch.version) {
		st.queue[name] = true
	} else if !decided {
		st.queue[name] = true
	}
}

// decide picks the highest release of name satisfying all accumulated
// constraints, displacing any previous choice.
func (st *state) decide(name string) error {
	releases := st.source.Releases(name)
	if len(releases) == 0 {
		return &NotFoundError{Name: name, Requirements: st.requirements(name)}
	}

	st.selections[name]++
	if st.selections[name] > maxReselections {
		return errors.Wrapf(errors.ErrResolutionConflict, "resolution did not converge on %s", name)
	}

	candidates := make([]*goversion.Version, 0, len(releases))
	for raw := range releases {
		v, err := goversion.NewVersion(raw)
		if err != nil {
			return errors.Wrapf(errors.ErrSchema, "package %s lists invalid version %q", name, raw)
		}
		candidates = append(candidates, v)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].GreaterThan(candidates[j]) })

	set := st.constraints[name]
	var picked *goversion.Version
	for _, candidate := range candidates {
		if satisfiesAll(candidate, set) {
			picked = candidate
			break
		}
	}
	if picked == nil {
		return &ConflictError{Name: name, Requirements: st.requirements(name)}
	}

	if prev, ok := st.chosen[name]; ok {
		if prev.version.Equal(picked) {
			return nil
		}
		st.retract(name)
	}

	release := releases[picked.Original()]
	if release == nil {
		release = releases[picked.String()]
	}
	st.chosen[name] = &choice{version: picked, release: release}
	logger.Debug("selected version", logger.Fields{"package": name, "version": picked.String()})

	for rawDep, rawConstraint := range release.Dependencies {
		if err := model.ValidateName(rawDep); err != nil {
			return errors.Wrapf(errors.ErrSchema, "package %s declares invalid dependency name %q", name, rawDep)
		}
		dep := model.NormalizeName(rawDep)
		c, err := version.ParseConstraint(rawConstraint)
		if err != nil {
			return errors.Wrapf(errors.ErrSchema, "package %s declares invalid constraint on %s: %v", name, dep, err)
		}
		st.addConstraint(dep, name, c)
	}
	return nil
}

// retract removes every constraint the displaced version of name contributed
// and re-opens the packages it constrained. Packages left with no
// requirements at all drop out of the solution, retracting their own
// contributions in turn.
func (st *state) retract(name string) {
	delete(st.chosen, name)
	work := []string{name}
	for len(work) > 0 {
		contributor := work[0]
		work = work[1:]
		for other, set := range st.constraints {
			if _, ok := set[contributor]; !ok {
				continue
			}
			delete(set, contributor)
			if len(set) == 0 {
				delete(st.constraints, other)
				delete(st.queue, other)
				if _, wasChosen := st.chosen[other]; wasChosen {
					delete(st.chosen, other)
					work = append(work, other)
				}
				continue
			}
			st.queue[other] = true
		}
	}
}

func (st *state) requirements(name string) []Requirement {
	set := st.constraints[name]
	contributors := make([]string, 0, len(set))
	for contributor := range set {
		contributors = append(contributors, contributor)
	}
	sort.Strings(contributors)

	out := make([]Requirement, 0, len(contributors))
	for _, contributor := range contributors {
		by := contributor
		if by == rootContributor {
			by = "the request"
		}
		out = append(out, Requirement{By: by, Constraint: set[contributor].String()})
	}
	return out
}

func satisfiesAll(v *goversion.Version, set constraintSet) bool {
	for _, c := range set {
		if !c.Satisfies(v) {
			return false
		}
	}
	return true
}
