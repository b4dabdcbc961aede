package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/glorpus-work/modpak/pkg/errors"
)

// DigestError reports a fetched archive whose content does not match a digest
// declared in the manifest. It is fatal for the package; there is no retry.
type DigestError struct {
	Package   string
	Algorithm string
	Want      string
	Got       string
}

func (e *DigestError) Error() string {
	return fmt.Sprintf("archive for %s failed %s verification: want %s, got %s",
		e.Package, e.Algorithm, e.Want, e.Got)
}

func (e *DigestError) Unwrap() error { return errors.ErrDigestMismatch }

// ModifiedFileError reports tracked files whose on-disk content no longer
// matches the store. The package's files are left untouched.
type ModifiedFileError struct {
	Package string
	Paths   []string
}

func (e *ModifiedFileError) Error() string {
	paths := append([]string(nil), e.Paths...)
	sort.Strings(paths)
	return fmt.Sprintf("package %s has locally modified files: %s (use force to override)",
		e.Package, strings.Join(paths, ", "))
}

func (e *ModifiedFileError) Unwrap() error { return errors.ErrModifiedFile }

// CollisionError reports two packages claiming the same target path under
// case-insensitive comparison. It aborts the session before any mutation.
type CollisionError struct {
	Path   string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("path %s is claimed by both %s and %s", e.Path, e.First, e.Second)
}

func (e *CollisionError) Unwrap() error { return errors.ErrDuplicatePath }
