package model

import "sort"

// ResolvedPackage is one chosen (name, version) of a resolution together with
// the manifest data needed to fetch and verify it.
type ResolvedPackage struct {
	Name         string
	Version      string
	Dependencies map[string]string
	URLs         []string
	Digests      map[string]string
}

// ID returns the canonical name@version identifier.
func (p *ResolvedPackage) ID() string {
	return NormalizeName(p.Name) + "@" + p.Version
}

// Resolution maps every package name in the closure to its chosen version.
// Names are stored normalized; iteration helpers are deterministic.
type Resolution struct {
	Packages map[string]*ResolvedPackage
}

// Get looks up a package case-insensitively.
func (r *Resolution) Get(name string) *ResolvedPackage {
	return r.Packages[NormalizeName(name)]
}

// Names returns the resolved package names in sorted order.
func (r *Resolution) Names() []string {
	out := make([]string, 0, len(r.Packages))
	for name := range r.Packages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// InstallOrder returns the package names in dependency order: dependencies
// before dependents, ties broken lexicographically. Cycles are broken at the
// point of revisit.
func (r *Resolution) InstallOrder() []string {
	order := make([]string, 0, len(r.Packages))
	seen := make(map[string]bool, len(r.Packages))

	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		pkg := r.Packages[name]
		if pkg != nil {
			deps := make([]string, 0, len(pkg.Dependencies))
			for dep := range pkg.Dependencies {
				deps = append(deps, NormalizeName(dep))
			}
			sort.Strings(deps)
			for _, dep := range deps {
				if _, ok := r.Packages[dep]; ok {
					visit(dep)
				}
			}
		}
		order = append(order, name)
	}

	for _, name := range r.Names() {
		visit(name)
	}
	return order
}
