package cli

import (
	"github.com/spf13/cobra"

	"github.com/glorpus-work/modpak/pkg/orchestrator"
)

// NewUninstallCmd creates the uninstall command.
func NewUninstallCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
		purge  bool
	)

	cmd := &cobra.Command{
		Use:   "uninstall PACKAGE...",
		Short: "Uninstall packages",
		Long: `Uninstall one or more installed packages. Config files matching the
package's declared patterns are preserved unless --purge is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := loadOrchestrator()
			if err != nil {
				return err
			}
			plan, err := orch.Uninstall(cmd.Context(), args, orchestrator.Options{
				DryRun: dryRun,
				Force:  force,
				Purge:  purge,
			})
			if plan != nil {
				printPlan(cmd.OutOrStdout(), plan)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print actions without executing")
	cmd.Flags().BoolVar(&force, "force", false, "Remove locally modified files")
	cmd.Flags().BoolVar(&purge, "purge", false, "Also remove matching config files")

	return cmd
}
