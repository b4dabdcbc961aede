// Package model provides the data structures shared across modpak: package
// names and metadata, repository manifests, installed-state records,
// resolutions and install plans.
package model

import (
	"fmt"
	"path"
	"strings"

	"github.com/glorpus-work/modpak/pkg/errors"
	version "github.com/hashicorp/go-version"
)

// StoreDir is the reserved top-level directory inside a target directory that
// holds the installed-state store. It may never be a member of any package's
// file set.
const StoreDir = ".modpak"

// Hook names a package metadata document may carry scripts for.
const (
	HookPreInstall    = "pre-install"
	HookPostInstall   = "post-install"
	HookPreUninstall  = "pre-uninstall"
	HookPostUninstall = "post-uninstall"
)

// ValidateName checks a package name: ASCII alphanumeric, starting with a
// letter. Names are compared case-insensitively; use NormalizeName before
// storing one as a map key.
func ValidateName(name string) error {
	if name == "" {
		return errors.Wrap(errors.ErrParse, "package names must have at least one character")
	}
	first := name[0]
	if !isAlpha(first) {
		return errors.Wrapf(errors.ErrParse, "package name %q must begin with a letter", name)
	}
	for i := 0; i < len(name); i++ {
		if !isAlpha(name[i]) && !isDigit(name[i]) {
			return errors.Wrapf(errors.ErrParse, "package name %q contains invalid character %q", name, name[i])
		}
	}
	return nil
}

// NormalizeName folds a package name for case-insensitive comparison and map
// membership.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// NormalizePath cleans a relative slash path and folds it for
// case-insensitive comparison. Owned-file sets are keyed by the original
// spelling; collisions are detected on the folded form.
func NormalizePath(p string) string {
	return strings.ToLower(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// Metadata is the package metadata document carried at the top level of each
// archive and snapshotted into the installed-state store.
type Metadata struct {
	Name         string            `yaml:"name" json:"name"`
	Version      string            `yaml:"version" json:"version"`
	Dependencies map[string]string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	ConfigGlobs  []string          `yaml:"config,omitempty" json:"config,omitempty"`
	Files        []string          `yaml:"files,omitempty" json:"files,omitempty"`
	Hooks        map[string]string `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

// GetVersion returns the parsed version of this package, or nil when the
// version string is malformed.
func (m *Metadata) GetVersion() *version.Version {
	v, err := version.NewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// Validate checks the invariants a metadata document must hold before it is
// accepted past the decode boundary.
func (m *Metadata) Validate() error {
	if err := ValidateName(m.Name); err != nil {
		return err
	}
	if _, err := version.NewVersion(m.Version); err != nil {
		return errors.Wrapf(errors.ErrParse, "package %s has invalid version %q", m.Name, m.Version)
	}
	for dep := range m.Dependencies {
		if err := ValidateName(dep); err != nil {
			return errors.Wrapf(err, "package %s dependency", m.Name)
		}
	}
	for _, f := range m.Files {
		if strings.HasPrefix(NormalizePath(f), StoreDir+"/") || NormalizePath(f) == StoreDir {
			return errors.Wrapf(errors.ErrReservedPath, "package %s claims %s", m.Name, f)
		}
	}
	return nil
}

// ID returns the canonical name@version identifier.
func (m *Metadata) ID() string {
	return fmt.Sprintf("%s@%s", NormalizeName(m.Name), m.Version)
}

// MetadataFileName returns the name of the metadata document for a package,
// as carried in its archive and installed into the target directory.
func MetadataFileName(name string) string {
	return NormalizeName(name) + ".pkg.yml"
}

// DigestFileName returns the name of the per-file digest document for a
// package. The digest document is consumed during staging and is excluded
// from the package's owned file set.
func DigestFileName(name string) string {
	return NormalizeName(name) + ".sums.yml"
}

// ArchiveFileName returns the conventional archive file name for a package
// release.
func ArchiveFileName(name, ver string) string {
	return fmt.Sprintf("%s-%s.modpak", NormalizeName(name), ver)
}
