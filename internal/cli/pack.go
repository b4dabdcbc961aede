package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modpak/pkg/archive"
	"github.com/glorpus-work/modpak/pkg/errors"
	"github.com/glorpus-work/modpak/pkg/fsutil"
	"github.com/glorpus-work/modpak/pkg/model"
)

// NewPackCmd creates the pack command.
func NewPackCmd() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "pack SOURCE_DIR",
		Short: "Build a package archive from a directory",
		Long: `Build a .modpak archive from a directory containing a metadata document
and the package payload. The per-file digest document is generated
automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archivePath, err := packDirectory(cmd, args[0], outputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", archivePath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to write the archive to")

	return cmd
}

func packDirectory(cmd *cobra.Command, sourceDir, outputDir string) (string, error) {
	members, err := collectMembers(sourceDir)
	if err != nil {
		return "", err
	}
	if err := archive.ValidateMembers(members); err != nil {
		return "", err
	}

	md, err := findMetadata(sourceDir, members)
	if err != nil {
		return "", err
	}

	// Assemble the archive contents in a scratch directory so the digest
	// document never pollutes the source tree.
	buildDir, err := os.MkdirTemp("", "modpak-pack-*")
	if err != nil {
		return "", errors.Wrap(err, "creating build directory")
	}
	defer func() { _ = os.RemoveAll(buildDir) }()

	sums := make(map[string]string, len(members))
	for _, rel := range members {
		src := filepath.Join(sourceDir, filepath.FromSlash(rel))
		dst := filepath.Join(buildDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), fsutil.DirModeSecure); err != nil {
			return "", errors.Wrapf(err, "creating directory for %s", rel)
		}
		if err := fsutil.Copy(src, dst); err != nil {
			return "", err
		}
		digest, err := fsutil.HashFile(src)
		if err != nil {
			return "", err
		}
		sums[rel] = digest
	}

	sumsDoc, err := yaml.Marshal(sums)
	if err != nil {
		return "", errors.Wrap(err, "encoding digest document")
	}
	if err := os.WriteFile(filepath.Join(buildDir, model.DigestFileName(md.Name)), sumsDoc, fsutil.FileModeSecure); err != nil {
		return "", errors.Wrap(err, "writing digest document")
	}

	archivePath := filepath.Join(outputDir, model.ArchiveFileName(md.Name, md.Version))
	if err := archive.NewManager().Pack(cmd.Context(), buildDir, archivePath); err != nil {
		return "", err
	}
	return archivePath, nil
}

func collectMembers(sourceDir string) ([]string, error) {
	var members []string
	err := filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		members = append(members, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading source directory %s", sourceDir)
	}
	return members, nil
}

// findMetadata locates and validates the single metadata document.
func findMetadata(sourceDir string, members []string) (*model.Metadata, error) {
	var docs []string
	for _, rel := range members {
		if strings.HasSuffix(rel, ".pkg.yml") && !strings.Contains(rel, "/") {
			docs = append(docs, rel)
		}
	}
	if len(docs) != 1 {
		return nil, errors.Wrapf(errors.ErrSchema, "expected exactly one top-level metadata document, found %d", len(docs))
	}

	data, err := os.ReadFile(filepath.Join(sourceDir, docs[0]))
	if err != nil {
		return nil, errors.Wrap(err, "reading metadata document")
	}
	var md model.Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "decoding metadata document: %v", err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	if docs[0] != model.MetadataFileName(md.Name) {
		return nil, errors.Wrapf(errors.ErrSchema, "metadata document %s does not match package name %s", docs[0], md.Name)
	}
	return &md, nil
}
