package model

// StepOp tags the per-package operation of an install plan.
type StepOp string

const (
	// OpInstall installs a package that is absent from the store.
	OpInstall StepOp = "install"
	// OpRemove removes an installed package absent from the target set.
	OpRemove StepOp = "remove"
	// OpUpgrade replaces an installed package with a different version.
	OpUpgrade StepOp = "upgrade"
	// OpNoop leaves a package untouched.
	OpNoop StepOp = "noop"
)

// FileDiff is the file-level breakdown of an Upgrade (or Remove) step.
// Paths are relative to the target directory.
type FileDiff struct {
	Add      []string
	Remove   []string
	Replace  []string
	Preserve []string
}

// Step is one per-package entry of an install plan.
type Step struct {
	Name        string
	Op          StepOp
	FromVersion string
	ToVersion   string
	Files       FileDiff
	// Target carries the manifest data for Install/Upgrade steps.
	Target *ResolvedPackage
	// Metadata is the incoming metadata document for Install/Upgrade steps.
	Metadata *Metadata
}

// ID returns a human-readable identifier for the step.
func (s *Step) ID() string {
	switch s.Op {
	case OpUpgrade:
		return s.Name + "@" + s.FromVersion + "->" + s.ToVersion
	case OpRemove:
		return s.Name + "@" + s.FromVersion
	default:
		return s.Name + "@" + s.ToVersion
	}
}

// InstallPlan is the ordered set of per-package steps for one session,
// dependencies before dependents.
type InstallPlan struct {
	Steps []Step
}

// Changes reports whether the plan mutates anything.
func (p *InstallPlan) Changes() bool {
	for i := range p.Steps {
		if p.Steps[i].Op != OpNoop {
			return true
		}
	}
	return false
}
