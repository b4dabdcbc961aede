// Package database persists the set of installed packages for one target
// directory. The database is a JSON document inside the target's reserved
// store directory and is replaced atomically on every save.
package database

import (
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

// FormatVersion is the current on-disk format of the database document.
const FormatVersion = "1.0"

const fileName = "installed.json"

// InstalledDB is the durable record of everything installed into one target.
type InstalledDB struct {
	FormatVersion string                   `json:"format_version"`
	LastUpdate    time.Time                `json:"last_update"`
	Packages      []*model.InstalledPackage `json:"packages"`

	path string
}

// Path returns the database file location for a target directory.
func Path(targetDir string) string {
	return filepath.Join(targetDir, model.StoreDir, fileName)
}

// Load reads the database of targetDir. A missing file yields an empty
// database; a present but unreadable one is an error.
func Load(targetDir string) (*InstalledDB, error) {
	db := &InstalledDB{FormatVersion: FormatVersion, path: Path(targetDir)}

	data, err := os.ReadFile(db.path)
	if os.IsNotExist(err) {
		return db, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading database %s", db.path)
	}
	if err := json.Unmarshal(data, db); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "decoding database %s: %v", db.path, err)
	}
	for _, pkg := range db.Packages {
		if pkg == nil || pkg.Metadata.Name == "" {
			return nil, errors.Wrapf(errors.ErrSchema, "database %s contains a record without a name", db.path)
		}
	}
	return db, nil
}

// Save writes the database back, creating the store directory if needed. The
// document is written to a temporary file and renamed into place so a crash
// never leaves a torn database.
func (db *InstalledDB) Save() error {
	db.LastUpdate = time.Now().UTC()
	db.sort()

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, fsutil.DirModeSecure); err != nil {
		return errors.Wrapf(err, "creating store directory %s", dir)
	}

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding database")
	}

	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary database file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "writing database")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "syncing database")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "closing database")
	}
	if err := os.Rename(tmpName, db.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "replacing database %s", db.path)
	}
	logger.Debug("database saved", logger.Fields{"path": db.path, "packages": len(db.Packages)})
	return nil
}

// Find returns the record for name, or nil. Lookup is case-insensitive.
func (db *InstalledDB) Find(name string) *model.InstalledPackage {
	want := model.NormalizeName(name)
	for _, pkg := range db.Packages {
		if model.NormalizeName(pkg.Metadata.Name) == want {
			return pkg
		}
	}
	return nil
}

// IsInstalled reports whether name has a record.
func (db *InstalledDB) IsInstalled(name string) bool {
	return db.Find(name) != nil
}

// Put inserts or replaces the record for pkg's name.
func (db *InstalledDB) Put(pkg *model.InstalledPackage) {
	want := model.NormalizeName(pkg.Metadata.Name)
	for i, existing := range db.Packages {
		if model.NormalizeName(existing.Metadata.Name) == want {
			db.Packages[i] = pkg
			return
		}
	}
	db.Packages = append(db.Packages, pkg)
}

// Remove drops the record for name. Removing an absent name is a no-op.
func (db *InstalledDB) Remove(name string) {
	want := model.NormalizeName(name)
	for i, pkg := range db.Packages {
		if model.NormalizeName(pkg.Metadata.Name) == want {
			db.Packages = append(db.Packages[:i], db.Packages[i+1:]...)
			return
		}
	}
}

// Records returns the installed records sorted by name.
func (db *InstalledDB) Records() []*model.InstalledPackage {
	out := make([]*model.InstalledPackage, len(db.Packages))
	copy(out, db.Packages)
	sort.Slice(out, func(i, j int) bool {
		return model.NormalizeName(out[i].Metadata.Name) < model.NormalizeName(out[j].Metadata.Name)
	})
	return out
}

// Owner returns the installed record owning rel inside the target, or nil.
// Ownership is case-insensitive.
func (db *InstalledDB) Owner(rel string) *model.InstalledPackage {
	for _, pkg := range db.Packages {
		if pkg.Owns(rel) {
			return pkg
		}
	}
	return nil
}

// Verify re-hashes every file owned by name under targetDir and returns the
// relative paths whose content differs from the recorded digest. Missing
// files are reported as modified.
func (db *InstalledDB) Verify(targetDir, name string) ([]string, error) {
	pkg := db.Find(name)
	if pkg == nil {
		return nil, errors.Wrapf(errors.ErrNotInstalled, "package %s", model.NormalizeName(name))
	}

	var modified []string
	for _, rel := range pkg.Paths() {
		want := pkg.Files[rel]
		got, err := fsutil.HashFile(filepath.Join(targetDir, filepath.FromSlash(rel)))
		if stderrors.Is(err, fs.ErrNotExist) {
			modified = append(modified, rel)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "hashing %s", rel)
		}
		if got != want {
			modified = append(modified, rel)
		}
	}
	return modified, nil
}

func (db *InstalledDB) sort() {
	sort.Slice(db.Packages, func(i, j int) bool {
		return model.NormalizeName(db.Packages[i].Metadata.Name) < model.NormalizeName(db.Packages[j].Metadata.Name)
	})
}
