// Package archive packs and extracts .modpak archives. An archive is a
// deflate-compressed zip whose members are target-relative paths; member
// paths are validated before anything is written to disk.
package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archives"

	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

// Manager handles archive extraction and creation.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// List returns the file members of an archive as forward-slash relative
// paths, sorted. Directory entries are not listed.
func (am *Manager) List(ctx context.Context, archivePath string) ([]string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive %s", archivePath)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	var members []string
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." || d.IsDir() {
			return nil
		}
		members = append(members, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading archive %s", archivePath)
	}
	sort.Strings(members)
	return members, nil
}

// ExtractAll extracts every member of an archive into destDir after
// validating the member set.
func (am *Manager) ExtractAll(ctx context.Context, archivePath, destDir string) error {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return errors.Wrapf(err, "opening archive %s", archivePath)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	members, err := am.List(ctx, archivePath)
	if err != nil {
		return err
	}
	if err := ValidateMembers(members); err != nil {
		return errors.Wrapf(err, "archive %s", archivePath)
	}

	if err := os.MkdirAll(destDir, fsutil.DirModeSecure); err != nil {
		return errors.Wrapf(err, "creating destination directory %s", destDir)
	}

	for _, member := range members {
		if err := am.extractMember(fsys, member, destDir); err != nil {
			return err
		}
	}
	return nil
}

// Pack creates a .modpak archive from the contents of sourceDir.
func (am *Manager) Pack(ctx context.Context, sourceDir, archivePath string) error {
	absolutePath, err := filepath.Abs(sourceDir)
	if err != nil {
		return errors.Wrapf(err, "resolving source directory %s", sourceDir)
	}

	archiveFiles, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		absolutePath + string(os.PathSeparator): "",
	})
	if err != nil {
		return errors.Wrap(err, "reading files from disk")
	}

	file, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrapf(err, "creating archive %s", archivePath)
	}
	defer func() {
		_ = file.Sync()
		_ = file.Close()
	}()

	format := archives.Zip{}
	if err := format.Archive(ctx, file, archiveFiles); err != nil {
		return errors.Wrap(err, "writing archive")
	}
	return nil
}

// ValidateMembers checks an archive's member paths: every member must be a
// clean relative path that stays inside the target, must not enter the
// reserved store directory, and no two members may collide under
// case-insensitive comparison.
func ValidateMembers(members []string) error {
	seen := make(map[string]string, len(members))
	for _, member := range members {
		if err := validateMemberPath(member); err != nil {
			return err
		}
		folded := model.NormalizePath(member)
		if other, dup := seen[folded]; dup {
			return errors.Wrapf(errors.ErrDuplicatePath, "%s collides with %s", member, other)
		}
		seen[folded] = member
	}
	return nil
}

func validateMemberPath(member string) error {
	if member == "" {
		return errors.Wrap(errors.ErrInvalidPath, "empty member path")
	}
	if strings.Contains(member, "\\") {
		return errors.Wrapf(errors.ErrInvalidPath, "%s contains a backslash", member)
	}
	if path.IsAbs(member) || filepath.IsAbs(member) {
		return errors.Wrapf(errors.ErrInvalidPath, "%s is absolute", member)
	}
	cleaned := path.Clean(member)
	if cleaned != member || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return errors.Wrapf(errors.ErrInvalidPath, "%s escapes the target directory", member)
	}
	first := cleaned
	if idx := strings.IndexByte(cleaned, '/'); idx >= 0 {
		first = cleaned[:idx]
	}
	if strings.EqualFold(first, model.StoreDir) {
		return errors.Wrapf(errors.ErrReservedPath, "%s is inside the store directory", member)
	}
	return nil
}

func (am *Manager) extractMember(fsys fs.FS, member, destDir string) error {
	src, err := fsys.Open(member)
	if err != nil {
		return errors.Wrapf(err, "opening archive member %s", member)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return errors.Wrapf(err, "inspecting archive member %s", member)
	}
	if !info.Mode().IsRegular() {
		return errors.Wrapf(errors.ErrInvalidPath, "%s is not a regular file", member)
	}

	targetPath := filepath.Join(destDir, filepath.FromSlash(member))
	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeSecure); err != nil {
		return errors.Wrapf(err, "creating parent directory for %s", member)
	}

	dst, err := fsutil.CreateFilePerm(targetPath, fsutil.FileModeSecure)
	if err != nil {
		return errors.Wrapf(err, "creating %s", targetPath)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "extracting %s", member)
	}
	return nil
}
