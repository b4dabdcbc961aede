package cli

import (
	"github.com/spf13/cobra"

	"github.com/glorpus-work/modpak/pkg/orchestrator"
)

// NewUpgradeCmd creates the upgrade command.
func NewUpgradeCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade [PACKAGE...]",
		Short: "Upgrade installed packages",
		Long: `Upgrade the named installed packages to the newest versions satisfying
all constraints. Without arguments, every installed package is upgraded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := loadOrchestrator()
			if err != nil {
				return err
			}
			plan, err := orch.Upgrade(cmd.Context(), args, orchestrator.Options{
				DryRun: dryRun,
				Force:  force,
			})
			if plan != nil {
				printPlan(cmd.OutOrStdout(), plan)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and print actions without executing")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite locally modified files")

	return cmd
}
