package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

const lockName = "lock"

// Lock is an exclusive per-target session lock. It is a plain lock file
// inside the store directory, created with O_EXCL so exactly one session can
// hold it; a second session fails fast instead of waiting.
type Lock struct {
	path string
}

// Acquire takes the lock for targetDir. It fails immediately with a locked
// error when another session already holds it.
func Acquire(targetDir string) (*Lock, error) {
	dir := filepath.Join(targetDir, model.StoreDir)
	if err := os.MkdirAll(dir, fsutil.DirModeSecure); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", dir)
	}

	path := filepath.Join(dir, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FileModeSecure)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(errors.ErrLocked, "lock file %s exists", path)
		}
		return nil, errors.Wrapf(err, "creating lock file %s", path)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, "closing lock file %s", path)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "releasing lock")
	}
	return nil
}
