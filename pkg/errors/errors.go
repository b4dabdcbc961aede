// Package errors defines the shared error taxonomy for modpak. Feature
// packages attach detail with typed error structs that unwrap to these
// sentinels so callers can classify failures with errors.Is.
package errors

import "fmt"

// Common error types.
var (
	// Parsing and schema errors.
	ErrParse  = fmt.Errorf("parse error")
	ErrSchema = fmt.Errorf("schema error")

	// Resolution errors.
	ErrResolutionConflict = fmt.Errorf("resolution conflict")
	ErrPackageNotFound    = fmt.Errorf("package not found")

	// Transfer and integrity errors.
	ErrFetch          = fmt.Errorf("fetch failed")
	ErrDigestMismatch = fmt.Errorf("digest mismatch")

	// Filesystem application errors.
	ErrModifiedFile  = fmt.Errorf("locally modified file")
	ErrDuplicatePath = fmt.Errorf("duplicate path")
	ErrReservedPath  = fmt.Errorf("reserved path")
	ErrInvalidPath   = fmt.Errorf("invalid path")

	// Store errors.
	ErrLocked       = fmt.Errorf("target directory is locked by another session")
	ErrNotInstalled = fmt.Errorf("package is not installed")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")

	// Config errors.
	ErrNoConfig         = fmt.Errorf("no configuration file")
	ErrConfigValidation = fmt.Errorf("invalid configuration")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
