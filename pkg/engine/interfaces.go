package engine

import (
	"context"

	"github.com/glorpus-work/modpak/pkg/model"
)

//go:generate mockgen -destination=./mocks/engine.go -package=mocks github.com/glorpus-work/modpak/pkg/engine Fetcher,Extractor,HookRunner

// Fetcher downloads a package archive and returns its local path.
type Fetcher interface {
	FetchPackage(ctx context.Context, pkg *model.ResolvedPackage) (string, error)
}

// Extractor lists and extracts archive members.
type Extractor interface {
	List(ctx context.Context, archivePath string) ([]string, error)
	ExtractAll(ctx context.Context, archivePath, destDir string) error
}

// HookRunner executes a lifecycle hook declared by a metadata document.
type HookRunner interface {
	Run(md *model.Metadata, hookName, targetDir string) error
}
