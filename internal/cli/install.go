package cli

import (
	"github.com/spf13/cobra"

	"github.com/glorpus-work/modpak/pkg/orchestrator"
)

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "install PACKAGE[CONSTRAINT]...",
		Short: "Install packages",
		Long: `Install one or more packages from the configured repositories.
Dependencies are resolved and installed automatically. A specifier is a
package name optionally followed by a version constraint, e.g. app^1.2.0.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requests, err := parseSpecifiers(args)
			if err != nil {
				return err
			}
			orch, err := loadOrchestrator()
			if err != nil {
				return err
			}
			plan, err := orch.Install(cmd.Context(), requests, orchestrator.Options{
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
