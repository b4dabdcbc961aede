package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/modpak/internal/cli"
	"github.com/glorpus-work/modpak/internal/logger"
)

var (
	targetDir string
	logLevel  string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modpak",
		Short: "A package manager for modded game installs",
		Long: `modpak manages packages inside a target directory:
- resolve versioned packages against repository manifests
- install, upgrade and uninstall with file-level integrity tracking
- build package archives for publishing`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.InitLogger(logLevel)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&targetDir, "target", "C", "", "target directory (default: search upward for modpak.yml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; overrides the config)")

	cli.TargetDir = &targetDir
	cli.LogLevel = &logLevel

	cmd.AddCommand(
		cli.NewInstallCmd(),
		cli.NewUninstallCmd(),
		cli.NewUpgradeCmd(),
		cli.NewListCmd(),
		cli.NewVerifyCmd(),
		cli.NewPackCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
