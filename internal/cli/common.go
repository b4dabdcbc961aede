// Package cli implements the modpak commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/glorpus-work/modpak/internal/logger"
	"github.com/glorpus-work/modpak/pkg/config"
	"github.com/glorpus-work/modpak/pkg/model"
	"github.com/glorpus-work/modpak/pkg/orchestrator"
)

// TargetDir is the target directory override set by the root command. When
// empty, the target is found by searching upward from the working directory.
var TargetDir *string

// LogLevel is the log level flag set by the root command. When empty, the
// configured level applies.
var LogLevel *string

// loadTarget locates the target directory and its configuration.
func loadTarget() (string, *config.Config, error) {
	if TargetDir != nil && *TargetDir != "" {
		cfg, err := config.Load(filepath.Join(*TargetDir, config.FileName))
		if err != nil {
			return "", nil, err
		}
		return *TargetDir, cfg, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", nil, err
	}
	return config.Find(cwd)
}

func loadOrchestrator() (*orchestrator.Orchestrator, error) {
	targetDir, cfg, err := loadTarget()
	if err != nil {
		return nil, err
	}
	if (LogLevel == nil || *LogLevel == "") && cfg.Settings.LogLevel != "" {
		logger.InitLogger(cfg.Settings.LogLevel)
	}
	return orchestrator.New(targetDir, cfg), nil
}

// printPlan writes a human-readable change summary.
func printPlan(w io.Writer, plan *model.InstallPlan) {
	if plan == nil || !plan.Changes() {
		fmt.Fprintln(w, "Nothing to do.")
		return
	}
	for _, step := range plan.Steps {
		switch step.Op {
		case model.OpInstall:
			fmt.Fprintf(w, "install %s %s\n", step.Name, step.ToVersion)
		case model.OpUpgrade:
			fmt.Fprintf(w, "upgrade %s %s -> %s\n", step.Name, step.FromVersion, step.ToVersion)
		case model.OpRemove:
			fmt.Fprintf(w, "remove  %s %s\n", step.Name, step.FromVersion)
		}
	}
}
